package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

func (m *Manager) backupPath(name string, t time.Time) string {
	return filepath.Join(m.dir, backupDir, name+"_"+t.Format(backupTimeLayout)+fileExt)
}

// backupLocked copies the current state file into the backup directory.
// It is a no-op when there is no current file.
func (m *Manager) backupLocked(name, current string) error {
	raw, err := os.ReadFile(current)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading current state: %w", err)
	}
	return writeAtomic(m.freeBackupPath(name, m.now()), raw)
}

// freeBackupPath returns a backup path at t or, when saves land on the same
// instant, the next free nanosecond after it.
func (m *Manager) freeBackupPath(name string, t time.Time) string {
	for {
		p := m.backupPath(name, t)
		if _, err := os.Lstat(p); errors.Is(err, fs.ErrNotExist) {
			return p
		}
		t = t.Add(time.Nanosecond)
	}
}

func parseBackupTime(stamp string) (time.Time, error) {
	t, err := time.ParseInLocation(backupTimeLayout, stamp, time.Local)
	if err != nil {
		return time.ParseInLocation(legacyTimeLayout, stamp, time.Local)
	}
	return t, nil
}

// rotateLocked keeps only the newest maxBackups backups of name.
func (m *Manager) rotateLocked(name string) {
	backups := m.backupsLocked(name)
	for _, b := range backups[min(len(backups), m.maxBackups):] {
		if err := os.Remove(b.Path); err != nil {
			m.logger.Warn("removing old backup failed", "path", b.Path, "error", err)
		}
	}
}

// backupsLocked lists the backups of name, newest first.
func (m *Manager) backupsLocked(name string) []BackupInfo {
	entries, err := os.ReadDir(filepath.Join(m.dir, backupDir))
	if err != nil {
		return nil
	}

	prefix := name + "_"
	var out []BackupInfo
	for _, e := range entries {
		fn := e.Name()
		if e.IsDir() || !strings.HasPrefix(fn, prefix) || !strings.HasSuffix(fn, fileExt) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(fn, prefix), fileExt)
		t, err := parseBackupTime(stamp)
		if err != nil {
			// Belongs to another module whose name shares our prefix.
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{
			Path: filepath.Join(m.dir, backupDir, fn),
			Time: t,
			Size: info.Size(),
		})
	}
	slices.SortFunc(out, func(a, b BackupInfo) int { return b.Time.Compare(a.Time) })
	return out
}

// Backups returns the backups of the module's state, newest first.
func (m *Manager) Backups(name string) ([]BackupInfo, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backupsLocked(name), nil
}

// Restore replaces the module's state with the given backup.
func (m *Manager) Restore(name string, backup BackupInfo) error {
	if err := validName(name); err != nil {
		return err
	}
	if filepath.Dir(backup.Path) != filepath.Join(m.dir, backupDir) {
		return fmt.Errorf("%w: backup %s is outside the backup directory", ErrInvalidName, backup.Path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := os.ReadFile(backup.Path)
	if err != nil {
		return fmt.Errorf("%w: reading backup: %w", ErrStateIO, err)
	}
	if err := writeAtomic(m.path(name), raw); err != nil {
		return fmt.Errorf("%w: %w", ErrStateIO, err)
	}
	return nil
}

// CleanupBackups removes backups older than maxAge across all modules and
// returns how many were removed.
func (m *Manager) CleanupBackups(maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Join(m.dir, backupDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("%w: listing backups: %w", ErrStateIO, err)
	}

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			m.logger.Warn("removing expired backup failed", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
