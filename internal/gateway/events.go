package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/flemzord/modbot/internal/event"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
)

// StreamedEvent is one bus event as sent on /events.
type StreamedEvent struct {
	Name   string         `json:"name"`
	Source string         `json:"source,omitempty"`
	Time   time.Time      `json:"time"`
	Data   map[string]any `json:"data,omitempty"`
}

// handleEvents upgrades to a websocket and streams bus events until the
// client disconnects. ?event=name narrows the stream to one event. A slow
// client loses events rather than blocking the bus.
func (g *Gateway) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("event")
		if name == "" {
			name = event.Wildcard
		}

		// Server timeouts must not cut a long-lived stream.
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("event stream upgrade failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx := conn.CloseRead(r.Context())
		stop := context.AfterFunc(g.streams, func() {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		})
		defer stop()

		queue := make(chan StreamedEvent, streamBuffer)
		var dropped atomic.Int64
		owner := "gateway:" + uuid.NewString()
		sub := g.opts.Bus.Subscribe(name, func(_ context.Context, ev event.Event) error {
			select {
			case queue <- StreamedEvent{Name: ev.Name, Source: ev.Source, Time: ev.Time, Data: ev.Data}:
			default:
				dropped.Add(1)
			}
			return nil
		}, event.WithOwner(owner))
		defer g.opts.Bus.Unsubscribe(sub)

		g.logger.Debug("event stream opened", "remote_addr", r.RemoteAddr, "event", name)
		defer func() {
			g.logger.Debug("event stream closed", "remote_addr", r.RemoteAddr, "dropped", dropped.Load())
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-queue:
				data, err := json.Marshal(ev)
				if err != nil {
					g.logger.Debug("event not serializable", "event", ev.Name, "error", err)
					continue
				}
				writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
				err = conn.Write(writeCtx, websocket.MessageText, data)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}
}
