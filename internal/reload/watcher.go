// Package reload provides configuration hot-reload via file polling and signal handling.
package reload

import (
	"context"
	"os"
	"time"
)

// DefaultPollInterval is used when Watch gets a non-positive interval.
const DefaultPollInterval = time.Second

// Event reports that a watched file was written or created.
type Event struct {
	Path string
}

// stamp identifies one version of a file. A missing file has the zero stamp.
type stamp struct {
	mod  time.Time
	size int64
}

func stampOf(path string) stamp {
	fi, err := os.Stat(path)
	if err != nil {
		return stamp{}
	}
	return stamp{mod: fi.ModTime(), size: fi.Size()}
}

// Watch polls paths every interval and reports each file whose modification
// time or size changed since the previous poll. Deleting a file is not an
// event; recreating it is. At most one event is buffered: a reload that is
// still pending covers later writes too. The channel is closed once ctx is
// done.
func Watch(ctx context.Context, paths []string, interval time.Duration) <-chan Event {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	seen := make(map[string]stamp, len(paths))
	for _, p := range paths {
		seen[p] = stampOf(p)
	}

	events := make(chan Event, 1)
	go func() {
		defer close(events)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			for _, p := range paths {
				cur := stampOf(p)
				if cur == seen[p] {
					continue
				}
				seen[p] = cur
				if cur == (stamp{}) {
					continue
				}
				select {
				case events <- Event{Path: p}:
				default:
				}
			}
		}
	}()
	return events
}
