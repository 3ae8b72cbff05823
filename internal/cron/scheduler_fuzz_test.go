package cron

import (
	"testing"
)

func FuzzValidateSchedule(f *testing.F) {
	for _, seed := range []string{
		(&SessionPruneJob{}).Schedule(),
		(&BackupCleanupJob{}).Schedule(),
		(&UsagePruneJob{}).Schedule(),
		"0 0 1 1 *",
		"invalid",
		"",
		"60 * * * *",
		"0 25 * * *",
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, expr string) {
		err := ValidateSchedule(expr)
		regErr := NewScheduler(nil).RegisterJob(&simpleJob{name: "fuzz", schedule: expr})
		if (err == nil) != (regErr == nil) {
			t.Fatalf("ValidateSchedule(%q) = %v but RegisterJob = %v", expr, err, regErr)
		}
	})
}
