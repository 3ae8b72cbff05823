package security

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_AllowWithinLimit(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(5)
	for i := range 5 {
		if err := rl.Allow(42); err != nil {
			t.Fatalf("Allow(%d) returned error: %v", i, err)
		}
	}
	if err := rl.Allow(42); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRateLimiter_PerUser(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1)
	if err := rl.Allow(1); err != nil {
		t.Fatal(err)
	}
	if err := rl.Allow(2); err != nil {
		t.Fatalf("second user limited by first: %v", err)
	}
	if err := rl.Allow(1); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected first user to be limited")
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2)
	rl.now = func() time.Time { return now }

	_ = rl.Allow(7)
	_ = rl.Allow(7)
	if err := rl.Allow(7); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rate limit")
	}

	now = now.Add(61 * time.Second)
	if err := rl.Allow(7); err != nil {
		t.Fatalf("expected allow after window, got %v", err)
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0)
	if rl.Limit() != DefaultCommandsPerMin {
		t.Errorf("Limit() = %d, want %d", rl.Limit(), DefaultCommandsPerMin)
	}
	rl.SetLimit(3)
	if rl.Limit() != 3 {
		t.Errorf("Limit() = %d after SetLimit(3)", rl.Limit())
	}
}

func TestRateLimiter_Prune(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10)
	rl.now = func() time.Time { return now }

	_ = rl.Allow(1)
	now = now.Add(30 * time.Second)
	_ = rl.Allow(2)
	now = now.Add(40 * time.Second)

	if n := rl.Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(100)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range 200 {
		wg.Go(func() {
			if rl.Allow(9) == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("allowed = %d, want 100", allowed)
	}
}
