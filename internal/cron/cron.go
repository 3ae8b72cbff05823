// Package cron schedules the bot's housekeeping. Three jobs are registered
// at startup: session_prune drops idle conversations every minute,
// state_backup_cleanup expires module state backups at 03:00 and
// usage_prune trims the command usage log at 03:30.
package cron

import "context"

// Job is one housekeeping task. The scheduler never runs two instances of
// the same job at once.
type Job interface {
	// Name is the job's key in logs and in Scheduler.Jobs.
	Name() string

	// Schedule is a 5-field cron expression evaluated in local time.
	Schedule() string

	// Run does one pass. ctx is cancelled when the bot shuts down.
	Run(ctx context.Context) error
}
