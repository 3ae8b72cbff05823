package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a user exceeds the command rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// DefaultCommandsPerMin applies when no limit is configured.
const DefaultCommandsPerMin = 30

// RateLimiter implements per-user sliding window rate limiting. Each user
// gets a bucket holding the timestamps of their recent commands.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[int64]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

type bucket struct {
	events []time.Time
}

// NewRateLimiter creates a limiter allowing perMinute commands per user.
// A non-positive perMinute selects DefaultCommandsPerMin.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultCommandsPerMin
	}
	return &RateLimiter{
		buckets: make(map[int64]*bucket),
		limit:   perMinute,
		window:  time.Minute,
		now:     time.Now,
	}
}

// Allow records one command for userID. It returns ErrRateLimited, without
// recording, when the user already used the whole window.
func (rl *RateLimiter) Allow(userID int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[userID]
	if !ok {
		b = &bucket{}
		rl.buckets[userID] = b
	}
	b.evict(now, rl.window)

	if len(b.events) >= rl.limit {
		return ErrRateLimited
	}
	b.events = append(b.events, now)
	return nil
}

// SetLimit changes the per-minute limit. Existing history is kept.
func (rl *RateLimiter) SetLimit(perMinute int) {
	if perMinute <= 0 {
		perMinute = DefaultCommandsPerMin
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limit = perMinute
}

// Limit returns the current per-minute limit.
func (rl *RateLimiter) Limit() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.limit
}

// Prune drops buckets with no events left in the window and returns how
// many users were forgotten.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for id, b := range rl.buckets {
		b.evict(now, rl.window)
		if len(b.events) == 0 {
			delete(rl.buckets, id)
			removed++
		}
	}
	return removed
}

// evict removes events outside the sliding window.
func (b *bucket) evict(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	// Events are chronologically ordered.
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
