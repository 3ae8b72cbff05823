// Package state persists per-module JSON documents under the data directory.
// Writes go through a temp file renamed over the target, and the previous
// version of each document is kept in a small ring of backups.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxBackups is how many previous versions are kept per module.
	DefaultMaxBackups = 5

	backupDir        = "backups"
	backupTimeLayout = "20060102_150405.000000000"
	// legacyTimeLayout names backups written before sub-second stamps.
	legacyTimeLayout = "20060102_150405"
	fileExt          = ".json"
)

var (
	// ErrStateIO wraps every read, decode or write failure.
	ErrStateIO = errors.New("state I/O error")

	// ErrNoState is returned by Load when the module has never saved.
	ErrNoState = errors.New("no saved state")

	// ErrInvalidName is returned for module names that are not safe file names.
	ErrInvalidName = errors.New("invalid state name")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Options configures a Manager.
type Options struct {
	MaxBackups int
	Logger     *slog.Logger
}

// Manager reads and writes module state files. Safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	dir        string
	maxBackups int
	logger     *slog.Logger

	// now is injectable for testing. Defaults to time.Now.
	now func() time.Time
}

// BackupInfo describes one backup file.
type BackupInfo struct {
	Path string
	Time time.Time
	Size int64
}

// NewManager creates the storage directory and returns a Manager for it.
func NewManager(dir string, opts Options) (*Manager, error) {
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = DefaultMaxBackups
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dir, backupDir), 0o750); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrStateIO, dir, err)
	}
	return &Manager{
		dir:        dir,
		maxBackups: opts.MaxBackups,
		logger:     opts.Logger.With("component", "state"),
		now:        time.Now,
	}, nil
}

// Dir returns the storage directory.
func (m *Manager) Dir() string { return m.dir }

func validName(name string) error {
	if !namePattern.MatchString(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name+fileExt)
}

// Save serializes data and atomically replaces the module's state file.
// The previous file, if any, is copied into the backup ring first. On any
// failure the previous state file is left untouched.
func (m *Manager) Save(name string, data any) error {
	if err := validName(name); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrStateIO, name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.path(name)
	if err := m.backupLocked(name, target); err != nil {
		// A failed backup must not block the save itself.
		m.logger.Warn("state backup failed", "state", name, "error", err)
	}
	if err := writeAtomic(target, encoded); err != nil {
		return fmt.Errorf("%w: %w", ErrStateIO, err)
	}
	m.rotateLocked(name)
	return nil
}

func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp for %s: %w", path, err)
	}
	return nil
}

// Load decodes the module's state into v. It returns ErrNoState when the
// module never saved, or a wrapped ErrStateIO when the file is unreadable.
func (m *Manager) Load(name string, v any) error {
	if err := validName(name); err != nil {
		return err
	}

	m.mu.Lock()
	raw, err := os.ReadFile(m.path(name))
	m.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		return ErrNoState
	}
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", ErrStateIO, name, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrStateIO, name, err)
	}
	return nil
}

// LoadOrDefault returns the module's saved state, or def when nothing was
// saved or the file cannot be decoded. Decode failures are logged.
func LoadOrDefault[T any](m *Manager, name string, def T) T {
	var v T
	err := m.Load(name, &v)
	switch {
	case err == nil:
		return v
	case errors.Is(err, ErrNoState):
		return def
	default:
		m.logger.Error("loading state failed, using default", "state", name, "error", err)
		return def
	}
}

// Delete removes the module's state file and its backups.
// Deleting a module without state is not an error.
func (m *Manager) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: deleting %s: %w", ErrStateIO, name, err)
	}
	for _, b := range m.backupsLocked(name) {
		_ = os.Remove(b.Path)
	}
	return nil
}

// List returns the names of all modules with saved state, sorted.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %w", ErrStateIO, m.dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	slices.Sort(names)
	return names, nil
}
