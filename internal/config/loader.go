package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Environment variables that override file values.
const (
	EnvToken    = "TELEGRAM_BOT_TOKEN"
	EnvAdminIDs = "ADMIN_IDS"
	EnvLogLevel = "LOG_LEVEL"
)

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(name string) (string, bool)

// Load reads a JSON configuration file, expands ${VAR} references, applies
// defaults and then the environment overrides.
//
// A missing file is created with the default configuration. A file that
// cannot be parsed is moved aside to <path>.bak.<unix> and replaced with
// defaults, so a broken edit never leaves the bot without a config.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := readFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("config file not found, writing defaults", "path", path)
		cfg = Default()
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, errCorrupt):
		backup := fmt.Sprintf("%s.bak.%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, backup); renameErr != nil {
			return nil, fmt.Errorf("%w: backing up corrupted %s: %w", ErrConfig, path, renameErr)
		}
		logger.Error("config file corrupted, defaults restored", "path", path, "backup", backup, "error", err)
		cfg = Default()
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	for _, warn := range ApplyEnv(cfg, os.LookupEnv) {
		logger.Warn("ignoring environment override", "error", warn)
	}
	return cfg, nil
}

var errCorrupt = errors.New("corrupted config")

func readFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: reading %s: %w", ErrConfig, path, err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errCorrupt, path, err)
	}
	return cfg, nil
}

// Parse decodes a JSON config document, expanding ${VAR} and ${VAR:-default}
// references first, then fills defaults.
func Parse(raw []byte) (*Config, error) {
	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("expanding variables: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes cfg to path as indented JSON with 0600 permissions.
// The write goes to a temp file renamed over the target.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding: %w", ErrConfig, err)
	}
	if err := writeAtomic(path, append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides token, admin ids and log level from the environment.
// Admin id entries that are not integers are skipped and reported.
func ApplyEnv(cfg *Config, lookup LookupFunc) []error {
	if v, ok := lookup(EnvToken); ok && strings.TrimSpace(v) != "" {
		cfg.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.LogLevel = strings.ToUpper(v)
	}

	v, ok := lookup(EnvAdminIDs)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	ids, errs := ParseIDList(v)
	if len(ids) > 0 {
		cfg.AdminIDs = ids
	}
	return errs
}

// ParseIDList parses a comma-separated list of integer ids.
func ParseIDList(s string) ([]int64, []error) {
	var (
		ids  []int64
		errs []error
	)
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid id %q", EnvAdminIDs, part))
			continue
		}
		ids = append(ids, id)
	}
	return ids, errs
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in the raw document.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if len(subs) > 2 && subs[2] != nil {
			return subs[2]
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
