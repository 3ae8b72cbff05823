package session

import (
	"slices"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(idle time.Duration) (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := NewManager(Options{IdleTimeout: idle})
	m.SetClock(clock.now)
	return m, clock
}

func TestSetGetDelete(t *testing.T) {
	m, _ := newTestManager(0)
	k := Key{UserID: 1, ChatID: -100}

	m.Set(k, "step", 2, 0)
	v, ok := m.Get(k, "step")
	if !ok || v.(int) != 2 {
		t.Fatalf("Get = %v, %v", v, ok)
	}

	// Same user in another chat is a separate session.
	if _, ok := m.Get(Key{UserID: 1}, "step"); ok {
		t.Error("value leaked across chats")
	}

	if !m.Delete(k, "step") {
		t.Error("Delete should report removal")
	}
	if m.Delete(k, "step") {
		t.Error("second Delete should report nothing removed")
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}

func TestExpiredKeyAbsentWithoutDelete(t *testing.T) {
	m, clock := newTestManager(time.Hour)
	k := Key{UserID: 7}

	m.Set(k, "code", "1234", 30*time.Second)
	m.Set(k, "keep", true, 0)

	clock.advance(29 * time.Second)
	if !m.Has(k, "code") {
		t.Fatal("value expired too early")
	}

	clock.advance(2 * time.Second)
	if _, ok := m.Get(k, "code"); ok {
		t.Error("expired value still returned")
	}
	if keys := m.Keys(k); !slices.Equal(keys, []string{"keep"}) {
		t.Errorf("Keys = %v", keys)
	}
}

func TestOwnership(t *testing.T) {
	m, clock := newTestManager(time.Hour)
	k := Key{UserID: 5, ChatID: 5}

	if m.HasOtherModuleSession(k, "b") {
		t.Fatal("no owner yet")
	}
	if !m.Acquire(k, "a", time.Minute) {
		t.Fatal("a should acquire a free conversation")
	}
	if !m.HasOtherModuleSession(k, "b") {
		t.Error("b should see a's session")
	}
	if m.HasOtherModuleSession(k, "a") {
		t.Error("a should not see itself as other")
	}
	if m.Acquire(k, "b", time.Minute) {
		t.Error("b must not steal a's conversation")
	}
	if m.Release(k, "b") {
		t.Error("b cannot release a's claim")
	}

	if !m.Release(k, "a") {
		t.Fatal("a should release its claim")
	}
	if m.HasOtherModuleSession(k, "b") {
		t.Error("claim should be gone after release")
	}

	// A claim also ends when it expires.
	m.Acquire(k, "a", time.Minute)
	clock.advance(61 * time.Second)
	if m.HasOtherModuleSession(k, "b") {
		t.Error("expired claim should not block b")
	}
	if !m.Acquire(k, "b", 0) {
		t.Error("b should acquire after expiry")
	}
}

func TestOwnershipViaReservedKey(t *testing.T) {
	m, _ := newTestManager(0)
	k := Key{UserID: 9, ChatID: -3}

	m.Set(k, ActiveModuleKey, "a", 0)
	if !m.HasOtherModuleSession(k, "b") {
		t.Error("setting module_active directly should claim the conversation")
	}
	if owner, _ := m.Owner(k); owner != "a" {
		t.Errorf("Owner = %q", owner)
	}
}

func TestReleaseModule(t *testing.T) {
	m, _ := newTestManager(0)
	m.Acquire(Key{UserID: 1}, "a", 0)
	m.Acquire(Key{UserID: 2}, "a", 0)
	m.Acquire(Key{UserID: 3}, "b", 0)

	if n := m.ReleaseModule("a"); n != 2 {
		t.Errorf("ReleaseModule = %d, want 2", n)
	}
	if owner, ok := m.Owner(Key{UserID: 3}); !ok || owner != "b" {
		t.Error("b's claim should survive")
	}
}

func TestPrune(t *testing.T) {
	m, clock := newTestManager(5 * time.Minute)

	m.Set(Key{UserID: 1}, "x", 1, 0)
	m.Set(Key{UserID: 2}, "y", 1, time.Second)
	clock.advance(2 * time.Second)
	m.Set(Key{UserID: 3}, "z", 1, 0)

	if n := m.Prune(); n != 1 {
		t.Errorf("Prune = %d, want 1 (expired value)", n)
	}

	clock.advance(5*time.Minute + time.Second)
	m.Set(Key{UserID: 3}, "z", 2, 0)
	if n := m.Prune(); n != 1 {
		t.Errorf("Prune = %d, want 1 (idle session)", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestPrune_KeepsLiveClaim(t *testing.T) {
	m, clock := newTestManager(5 * time.Minute)
	claimed := Key{UserID: 1, ChatID: 10}
	forever := Key{UserID: 2, ChatID: 10}

	if !m.Acquire(claimed, "reminder", 30*time.Minute) {
		t.Fatal("Acquire failed")
	}
	m.Set(claimed, "reminder.step", "text", time.Minute)
	if !m.Acquire(forever, "reminder", 0) {
		t.Fatal("Acquire without ttl failed")
	}

	clock.advance(6 * time.Minute)
	if n := m.Prune(); n != 1 {
		t.Errorf("Prune = %d, want 1 (idle session whose claim has no ttl)", n)
	}
	if !m.HasOtherModuleSession(claimed, "echo") {
		t.Error("live claim dropped by idle pruning")
	}
	if m.Has(claimed, "reminder.step") {
		t.Error("expired value kept in a claimed session")
	}
	if _, ok := m.Owner(forever); ok {
		t.Error("idle session with an unbounded claim kept")
	}

	clock.advance(25 * time.Minute)
	m.Prune()
	if m.HasOtherModuleSession(claimed, "echo") {
		t.Error("claim outlived its ttl")
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}

func TestClearUser(t *testing.T) {
	m, _ := newTestManager(0)
	m.Set(Key{UserID: 1, ChatID: 1}, "a", 1, 0)
	m.Set(Key{UserID: 1, ChatID: -1}, "a", 1, 0)
	m.Set(Key{UserID: 2, ChatID: 2}, "a", 1, 0)

	if n := m.ClearUser(1); n != 2 {
		t.Errorf("ClearUser = %d, want 2", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	m, _ := newTestManager(0)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			k := Key{UserID: id % 4}
			m.Set(k, "v", id, 0)
			m.Get(k, "v")
			m.Acquire(k, "mod", 0)
			m.Prune()
		}(int64(i))
	}
	wg.Wait()
	if m.Len() != 4 {
		t.Errorf("Len = %d, want 4", m.Len())
	}
}
