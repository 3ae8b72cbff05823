package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Job names.
const (
	SessionPruneName  = "session_prune"
	BackupCleanupName = "state_backup_cleanup"
	UsagePruneName    = "usage_prune"
)

// SessionPruner drops expired session values. *session.Manager implements it.
type SessionPruner interface {
	Prune() int
}

// SessionPruneJob expires idle sessions and forgets rate limit windows of
// users who went quiet.
type SessionPruneJob struct {
	Sessions SessionPruner

	// Limiter is optional. *security.RateLimiter implements it.
	Limiter      SessionPruner
	Logger       *slog.Logger
	ScheduleExpr string // empty = every minute
}

// Compile-time interface check.
var _ Job = (*SessionPruneJob)(nil)

// Name implements Job.
func (j *SessionPruneJob) Name() string { return SessionPruneName }

// Schedule implements Job.
func (j *SessionPruneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "* * * * *"
}

// Run implements Job.
func (j *SessionPruneJob) Run(_ context.Context) error {
	pruned := j.Sessions.Prune()
	if j.Limiter != nil {
		j.Limiter.Prune()
	}
	if pruned > 0 {
		j.Logger.Info("pruned idle sessions", "count", pruned)
	}
	return nil
}

// BackupCleaner removes state backups older than maxAge.
// *state.Manager implements it.
type BackupCleaner interface {
	CleanupBackups(maxAge time.Duration) (int, error)
}

// BackupCleanupJob deletes old state backups.
type BackupCleanupJob struct {
	State        BackupCleaner
	MaxAge       time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = daily at 03:00
}

// Compile-time interface check.
var _ Job = (*BackupCleanupJob)(nil)

// Name implements Job.
func (j *BackupCleanupJob) Name() string { return BackupCleanupName }

// Schedule implements Job.
func (j *BackupCleanupJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 3 * * *"
}

// Run implements Job.
func (j *BackupCleanupJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: backup cleanup cancelled: %w", ctx.Err())
	}
	removed, err := j.State.CleanupBackups(j.MaxAge)
	if removed > 0 {
		j.Logger.Info("removed old state backups", "count", removed, "max_age", j.MaxAge)
	}
	return err
}

// UsagePruner deletes usage records older than before.
type UsagePruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// UsagePruneJob trims the command usage log to Retention.
type UsagePruneJob struct {
	Usage        UsagePruner
	Retention    time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = daily at 03:30

	now func() time.Time
}

// Compile-time interface check.
var _ Job = (*UsagePruneJob)(nil)

// Name implements Job.
func (j *UsagePruneJob) Name() string { return UsagePruneName }

// Schedule implements Job.
func (j *UsagePruneJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "30 3 * * *"
}

// Run implements Job.
func (j *UsagePruneJob) Run(ctx context.Context) error {
	now := time.Now
	if j.now != nil {
		now = j.now
	}
	deleted, err := j.Usage.Prune(ctx, now().Add(-j.Retention))
	if err != nil {
		return fmt.Errorf("cron: pruning usage: %w", err)
	}
	if deleted > 0 {
		j.Logger.Info("pruned usage records", "count", deleted)
	}
	return nil
}
