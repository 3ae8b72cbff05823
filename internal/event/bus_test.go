package event

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	calls   []string
	handled map[bool]int
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func (r *recorder) EventPublished(string, int) {}

func (r *recorder) EventHandled(_ string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handled == nil {
		r.handled = make(map[bool]int)
	}
	r.handled[ok]++
}

func appendHandler(r *recorder, name string) Handler {
	return func(context.Context, Event) error {
		r.add(name)
		return nil
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := NewBus(Options{})
	if n := b.Publish(context.Background(), "nothing", nil, ""); n != 0 {
		t.Errorf("Publish = %d, want 0", n)
	}
	invoked, ok := b.PublishAndWait(context.Background(), "nothing", nil, "", time.Second)
	if invoked != 0 || ok != 0 {
		t.Errorf("PublishAndWait = %d, %d; want 0, 0", invoked, ok)
	}
}

func TestOrdering_PriorityThenRegistration(t *testing.T) {
	b := NewBus(Options{})
	r := &recorder{}

	b.Subscribe("x", appendHandler(r, "low"), WithPriority(-1))
	b.Subscribe("x", appendHandler(r, "first-0"))
	b.Subscribe("x", appendHandler(r, "high"), WithPriority(10))
	b.Subscribe("x", appendHandler(r, "second-0"))
	b.Subscribe("y", appendHandler(r, "other-event"), WithPriority(100))

	invoked, ok := b.PublishAndWait(context.Background(), "x", nil, "", 0)
	if invoked != 4 || ok != 4 {
		t.Fatalf("PublishAndWait = %d, %d; want 4, 4", invoked, ok)
	}

	want := []string{"high", "first-0", "second-0", "low"}
	if got := r.snapshot(); !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestPublish_FireAndForget(t *testing.T) {
	b := NewBus(Options{})
	r := &recorder{}
	release := make(chan struct{})

	b.Subscribe("x", func(context.Context, Event) error {
		<-release
		r.add("ran")
		return nil
	})

	if n := b.Publish(context.Background(), "x", map[string]any{"k": 1}, "echo"); n != 1 {
		t.Fatalf("Publish = %d, want 1", n)
	}
	// Publish returned while the subscriber is still blocked.
	if len(r.snapshot()) != 0 {
		t.Fatal("Publish should not wait for subscribers")
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := r.snapshot(); len(got) != 1 {
		t.Errorf("calls = %v", got)
	}
}

func TestFailureIsolation(t *testing.T) {
	rec := &recorder{}
	b := NewBus(Options{Recorder: rec})

	b.Subscribe("x", func(context.Context, Event) error { return errors.New("boom") }, WithPriority(3))
	b.Subscribe("x", func(context.Context, Event) error { panic("kaboom") }, WithPriority(2))
	b.Subscribe("x", appendHandler(rec, "survivor"), WithPriority(1))

	invoked, ok := b.PublishAndWait(context.Background(), "x", nil, "", 0)
	if invoked != 3 || ok != 1 {
		t.Errorf("PublishAndWait = %d, %d; want 3, 1", invoked, ok)
	}
	if got := rec.snapshot(); !slices.Equal(got, []string{"survivor"}) {
		t.Errorf("calls = %v", got)
	}
	if rec.handled[false] != 2 || rec.handled[true] != 1 {
		t.Errorf("handled = %v", rec.handled)
	}
}

func TestFailureIsolation_FilterPanics(t *testing.T) {
	rec := &recorder{}
	b := NewBus(Options{Recorder: rec})

	b.Subscribe("reminder.fired", appendHandler(rec, "filtered"),
		WithPriority(5),
		WithOwner("broken"),
		WithFilter(func(Event) bool { panic("bad filter") }),
	)
	b.Subscribe("reminder.fired", appendHandler(rec, "healthy"), WithOwner("echo"))

	invoked, ok := b.PublishAndWait(context.Background(), "reminder.fired", map[string]any{"chat_id": int64(42)}, "reminder", 0)
	if invoked != 1 || ok != 1 {
		t.Errorf("PublishAndWait = %d, %d; want 1, 1", invoked, ok)
	}

	if n := b.Publish(context.Background(), "reminder.fired", nil, "reminder"); n != 1 {
		t.Errorf("Publish = %d, want 1", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if got := rec.snapshot(); !slices.Equal(got, []string{"healthy", "healthy"}) {
		t.Errorf("calls = %v", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.handled[false] != 2 || rec.handled[true] != 2 {
		t.Errorf("handled = %v", rec.handled)
	}
}

func TestFilterMaySubscribe(t *testing.T) {
	b := NewBus(Options{})
	r := &recorder{}

	b.Subscribe("x", appendHandler(r, "outer"), WithFilter(func(Event) bool {
		b.Subscribe("late", appendHandler(r, "late"))
		return true
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.PublishAndWait(context.Background(), "x", nil, "", 0)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish deadlocked on a filter that subscribes")
	}
	if got := b.Count()["late"]; got != 1 {
		t.Errorf("late subscriptions = %d, want 1", got)
	}
}

func TestPublishAndWait_Timeout(t *testing.T) {
	b := NewBus(Options{})
	r := &recorder{}

	b.Subscribe("x", func(ctx context.Context, _ Event) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithPriority(1))
	b.Subscribe("x", appendHandler(r, "skipped"))

	start := time.Now()
	invoked, ok := b.PublishAndWait(context.Background(), "x", nil, "", 50*time.Millisecond)
	if time.Since(start) > time.Second {
		t.Fatal("timeout not honored")
	}
	if invoked != 1 || ok != 0 {
		t.Errorf("PublishAndWait = %d, %d; want 1, 0", invoked, ok)
	}
	if len(r.snapshot()) != 0 {
		t.Error("subscribers after the deadline must not run")
	}
}

func TestFilterAndWildcard(t *testing.T) {
	b := NewBus(Options{})
	r := &recorder{}

	b.Subscribe("msg", appendHandler(r, "group-only"), WithFilter(func(ev Event) bool {
		id, ok := ev.ChatID()
		return ok && id < 0
	}))
	b.Subscribe(Wildcard, appendHandler(r, "all"), WithPriority(-5))

	b.PublishAndWait(context.Background(), "msg", map[string]any{"chat_id": int64(42)}, "", 0)
	b.PublishAndWait(context.Background(), "msg", map[string]any{"chat_id": -100}, "", 0)
	b.PublishAndWait(context.Background(), "other", nil, "", 0)

	want := []string{"all", "group-only", "all", "all"}
	if got := r.snapshot(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus(Options{})
	r := &recorder{}

	sub := b.Subscribe("x", appendHandler(r, "a"))
	b.Subscribe("x", appendHandler(r, "b"), WithOwner("echo"))
	b.Subscribe("y", appendHandler(r, "c"), WithOwner("echo"))
	b.Subscribe("z", appendHandler(r, "d"))

	if sub.ID == "" {
		t.Error("subscription should have an id")
	}
	if !b.Unsubscribe(sub) {
		t.Error("Unsubscribe should succeed")
	}
	if b.Unsubscribe(sub) {
		t.Error("second Unsubscribe should fail")
	}
	if n := b.UnsubscribeOwner("echo"); n != 2 {
		t.Errorf("UnsubscribeOwner = %d, want 2", n)
	}
	if n := b.UnsubscribeAll("z"); n != 1 {
		t.Errorf("UnsubscribeAll = %d, want 1", n)
	}
	if len(b.Events()) != 0 {
		t.Errorf("Events = %v, want none", b.Events())
	}
}

func TestEventCarriesSourceAndData(t *testing.T) {
	b := NewBus(Options{})
	var got Event
	b.Subscribe("x", func(_ context.Context, ev Event) error {
		got = ev
		return nil
	})

	b.PublishAndWait(context.Background(), "x", map[string]any{"k": "v"}, "reminder", 0)
	if got.Source != "reminder" || got.Data["k"] != "v" || got.Time.IsZero() {
		t.Errorf("event = %+v", got)
	}
}
