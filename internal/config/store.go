package config

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"
)

// StoreOptions configures a Store.
type StoreOptions struct {
	Logger *slog.Logger

	// Lookup resolves environment overrides. Defaults to os.LookupEnv.
	Lookup LookupFunc

	// UseKeyring enables the OS keychain token fallback.
	UseKeyring bool
}

// Store holds the live configuration. The file document and the effective
// configuration (file + environment + keychain) are kept apart so that
// persisting a mutation never writes environment-provided secrets to disk.
type Store struct {
	mu        sync.RWMutex
	path      string
	file      *Config
	effective *Config
	opts      StoreOptions
	observers []func(*Config)

	now func() time.Time
}

// AllowedGroup is one allow-list entry with its chat id decoded.
type AllowedGroup struct {
	ChatID int64
	GroupInfo
}

// NewStore loads and validates the configuration at path. Any validation
// failure is returned wrapped in ErrConfig and must abort startup.
func NewStore(path string, opts StoreOptions) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	s := &Store{path: path, opts: opts, now: time.Now}

	file, effective, err := s.load()
	if err != nil {
		return nil, err
	}
	s.file, s.effective = file, effective
	return s, nil
}

func (s *Store) load() (file, effective *Config, err error) {
	file, err = Load(s.path, s.opts.Logger)
	if err != nil {
		return nil, nil, err
	}
	// Load applied os.LookupEnv; start again from the file document so the
	// configured lookup is authoritative.
	file, err = readFile(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	effective, err = s.resolve(file)
	if err != nil {
		return nil, nil, err
	}
	return file, effective, nil
}

func (s *Store) resolve(file *Config) (*Config, error) {
	eff := file.Clone()
	for _, warn := range ApplyEnv(eff, s.opts.Lookup) {
		s.opts.Logger.Warn("ignoring environment override", "error", warn)
	}
	if s.opts.UseKeyring {
		if err := fillTokenFromKeyring(eff); err != nil {
			s.opts.Logger.Warn("keychain token lookup failed", "error", err)
		}
	}
	eff.AdminIDs = EffectiveAdminIDs(eff.AdminIDs)
	if err := Validate(eff); err != nil {
		return nil, err
	}
	return eff, nil
}

// Path returns the config file path.
func (s *Store) Path() string { return s.path }

// Snapshot returns a copy of the effective configuration.
func (s *Store) Snapshot() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effective.Clone()
}

// IsSuperAdmin reports whether userID is a configured admin.
func (s *Store) IsSuperAdmin(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.effective.AdminIDs, userID)
}

// AdminIDs returns the effective super admin ids.
func (s *Store) AdminIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.effective.AdminIDs)
}

// IsGroupAllowed reports whether chatID is on the allow list.
func (s *Store) IsGroupAllowed(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.effective.AllowedGroups[ChatKey(chatID)]
	return ok
}

// AllowedGroups returns the allow list sorted by chat id.
func (s *Store) AllowedGroups() []AllowedGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]AllowedGroup, 0, len(s.effective.AllowedGroups))
	for key, info := range s.effective.AllowedGroups {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		groups = append(groups, AllowedGroup{ChatID: id, GroupInfo: info})
	}
	slices.SortFunc(groups, func(a, b AllowedGroup) int { return cmp.Compare(a.ChatID, b.ChatID) })
	return groups
}

// AddAllowedGroup puts chatID on the allow list and persists the change.
// It returns false when the group was already allowed.
func (s *Store) AddAllowedGroup(chatID, addedBy int64, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ChatKey(chatID)
	if _, ok := s.file.AllowedGroups[key]; ok {
		return false, nil
	}

	info := GroupInfo{AddedBy: addedBy, AddedAt: s.now().UTC(), Title: title}
	s.file.AllowedGroups[key] = info
	if err := Save(s.path, s.file); err != nil {
		delete(s.file.AllowedGroups, key)
		return false, err
	}
	s.effective.AllowedGroups[key] = info
	return true, nil
}

// RemoveAllowedGroup takes chatID off the allow list and persists the change.
// It returns false when the group was not allowed.
func (s *Store) RemoveAllowedGroup(chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ChatKey(chatID)
	info, ok := s.file.AllowedGroups[key]
	if !ok {
		return false, nil
	}

	delete(s.file.AllowedGroups, key)
	if err := Save(s.path, s.file); err != nil {
		s.file.AllowedGroups[key] = info
		return false, err
	}
	delete(s.effective.AllowedGroups, key)
	return true, nil
}

// OnChange registers fn to be called with the new effective configuration
// after every successful Reload.
func (s *Store) OnChange(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Reload re-reads the file and environment. When the new configuration is
// invalid the current one stays in effect and the error is returned.
func (s *Store) Reload() error {
	file, err := readFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	effective, err := s.resolve(file)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.file, s.effective = file, effective
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(effective.Clone())
	}
	s.opts.Logger.Info("configuration reloaded", "path", s.path)
	return nil
}
