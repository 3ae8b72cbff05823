package event

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxInFlight bounds concurrent fire-and-forget deliveries.
const DefaultMaxInFlight = 100

// Recorder receives delivery statistics. The gateway metrics implement it.
type Recorder interface {
	EventPublished(name string, subscribers int)
	EventHandled(name string, ok bool)
}

// Options configures a Bus.
type Options struct {
	Logger      *slog.Logger
	MaxInFlight int
	Tracer      trace.Tracer
	Recorder    Recorder
}

// Bus is the event registry. Thread-safe: subscriptions use a write lock,
// publishing snapshots the matching subscribers under a read lock.
type Bus struct {
	mu   sync.RWMutex
	subs []*Subscription
	seq  uint64

	sem      chan struct{}
	inflight sync.WaitGroup
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder Recorder

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

// NewBus creates an empty bus.
func NewBus(opts Options) *Bus {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/flemzord/modbot/internal/event")
	}
	return &Bus{
		sem:      make(chan struct{}, opts.MaxInFlight),
		logger:   opts.Logger.With("component", "event"),
		tracer:   opts.Tracer,
		recorder: opts.Recorder,
		now:      time.Now,
	}
}

// Subscribe registers h for the named event (or Wildcard).
func (b *Bus) Subscribe(name string, h Handler, opts ...Option) *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		Event:   name,
		handler: h,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub.seq = b.seq
	b.seq++
	b.subs = append(b.subs, sub)
	slices.SortStableFunc(b.subs, func(x, y *Subscription) int {
		if x.Priority != y.Priority {
			return cmp.Compare(y.Priority, x.Priority)
		}
		return cmp.Compare(x.seq, y.seq)
	})
	return sub
}

// Unsubscribe removes sub and reports whether it was registered.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	return b.removeWhere(func(s *Subscription) bool { return s == sub }) > 0
}

// UnsubscribeOwner removes every subscription registered by module.
func (b *Bus) UnsubscribeOwner(module string) int {
	return b.removeWhere(func(s *Subscription) bool { return s.Owner == module })
}

// UnsubscribeAll removes every subscription to the named event.
func (b *Bus) UnsubscribeAll(name string) int {
	return b.removeWhere(func(s *Subscription) bool { return s.Event == name })
}

func (b *Bus) removeWhere(match func(*Subscription) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	before := len(b.subs)
	b.subs = slices.DeleteFunc(b.subs, match)
	return before - len(b.subs)
}

// Count returns the number of subscriptions per event name.
func (b *Bus) Count() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]int)
	for _, s := range b.subs {
		out[s.Event]++
	}
	return out
}

// Events returns the subscribed event names, sorted.
func (b *Bus) Events() []string {
	return slices.Sorted(maps.Keys(b.Count()))
}

// matching returns the subscribers for ev. Filters run outside the lock so
// one may subscribe or unsubscribe without deadlocking.
func (b *Bus) matching(ev Event) []*Subscription {
	b.mu.RLock()
	var candidates []*Subscription
	for _, s := range b.subs {
		if s.listensTo(ev.Name) {
			candidates = append(candidates, s)
		}
	}
	b.mu.RUnlock()

	out := candidates[:0]
	for _, s := range candidates {
		if b.accepts(s, ev) {
			out = append(out, s)
		}
	}
	return out
}

// accepts runs the subscription's filter. A panicking filter counts as a
// failed delivery and the subscriber is skipped.
func (b *Bus) accepts(s *Subscription, ev Event) (ok bool) {
	if s.filter == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event filter panicked",
				"event", ev.Name,
				"subscriber", s.Owner,
				"subscription", s.ID,
				"error", fmt.Errorf("panic: %v", r),
			)
			if b.recorder != nil {
				b.recorder.EventHandled(ev.Name, false)
			}
			ok = false
		}
	}()
	return s.filter(ev)
}

func (b *Bus) newEvent(name string, data map[string]any, source string) Event {
	if data == nil {
		data = make(map[string]any)
	}
	return Event{Name: name, Data: data, Source: source, Time: b.now()}
}

// Publish delivers the event in the background and returns the number of
// subscribers it will reach. Delivery to those subscribers is sequential in
// priority order. With no subscribers nothing is scheduled.
func (b *Bus) Publish(ctx context.Context, name string, data map[string]any, source string) int {
	ev := b.newEvent(name, data, source)
	subs := b.matching(ev)
	if b.recorder != nil {
		b.recorder.EventPublished(name, len(subs))
	}
	if len(subs) == 0 {
		return 0
	}

	ctx = context.WithoutCancel(ctx)
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.sem <- struct{}{}
		defer func() { <-b.sem }()

		for _, s := range subs {
			b.invoke(ctx, s, ev)
		}
	}()
	return len(subs)
}

// PublishAndWait delivers the event to each subscriber in turn and returns
// how many were invoked and how many succeeded. A positive timeout bounds
// the whole delivery: once it passes, the running subscriber's context is
// cancelled and the remaining subscribers are skipped.
func (b *Bus) PublishAndWait(ctx context.Context, name string, data map[string]any, source string, timeout time.Duration) (invoked, succeeded int) {
	ev := b.newEvent(name, data, source)
	subs := b.matching(ev)
	if b.recorder != nil {
		b.recorder.EventPublished(name, len(subs))
	}
	if len(subs) == 0 {
		return 0, 0
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for _, s := range subs {
		if ctx.Err() != nil {
			b.logger.Warn("event delivery timed out",
				"event", name,
				"invoked", invoked,
				"remaining", len(subs)-invoked,
			)
			break
		}
		invoked++

		done := make(chan bool, 1)
		go func() { done <- b.invoke(ctx, s, ev) }()

		select {
		case ok := <-done:
			if ok {
				succeeded++
			}
		case <-ctx.Done():
			// The subscriber keeps running with a cancelled context; its
			// result no longer counts.
		}
	}
	return invoked, succeeded
}

// invoke runs one subscriber, recovering panics. It reports success.
func (b *Bus) invoke(ctx context.Context, s *Subscription, ev Event) (ok bool) {
	ctx, span := b.tracer.Start(ctx, "event "+ev.Name, trace.WithAttributes(
		attribute.String("event.name", ev.Name),
		attribute.String("event.source", ev.Source),
		attribute.String("event.subscriber", s.Owner),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			b.logger.Error("event subscriber panicked",
				"event", ev.Name,
				"subscriber", s.Owner,
				"subscription", s.ID,
				"error", err,
			)
			span.SetStatus(codes.Error, err.Error())
			ok = false
		}
		if b.recorder != nil {
			b.recorder.EventHandled(ev.Name, ok)
		}
	}()

	if err := s.handler(ctx, ev); err != nil {
		b.logger.Warn("event subscriber failed",
			"event", ev.Name,
			"subscriber", s.Owner,
			"priority", s.Priority,
			"error", err,
		)
		span.SetStatus(codes.Error, err.Error())
		return false
	}
	return true
}

// Wait blocks until in-flight fire-and-forget deliveries finish or ctx ends.
func (b *Bus) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
