// Package crontest provides test doubles for the cron package. It does
// not import cron so the package's own tests can use it.
package crontest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu       sync.Mutex
	calls    int
	lastCall time.Time
}

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.lastCall = time.Now()
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastCall returns the time of the last Run call.
func (m *MockJob) LastCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// MockPruner is a test double for cron.SessionPruner.
type MockPruner struct {
	N     int
	Calls atomic.Int32
}

// Prune implements cron.SessionPruner.
func (m *MockPruner) Prune() int {
	m.Calls.Add(1)
	return m.N
}

// MockBackupCleaner records the max age it was asked to clean up to.
type MockBackupCleaner struct {
	Removed int
	Err     error
	MaxAge  time.Duration
}

// CleanupBackups implements cron.BackupCleaner.
func (m *MockBackupCleaner) CleanupBackups(maxAge time.Duration) (int, error) {
	m.MaxAge = maxAge
	return m.Removed, m.Err
}

// MockUsagePruner records the cutoff it was asked to prune to.
type MockUsagePruner struct {
	Deleted int64
	Err     error
	Before  time.Time
}

// Prune implements cron.UsagePruner.
func (m *MockUsagePruner) Prune(_ context.Context, before time.Time) (int64, error) {
	m.Before = before
	return m.Deleted, m.Err
}
