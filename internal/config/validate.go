package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
)

// ExampleAdminID is the id shipped in sample configs. It is never treated
// as a real admin.
const ExampleAdminID int64 = 123456789

var placeholderTokens = []string{"your_token_here", "YOUR_TELEGRAM_BOT_TOKEN_HERE"}

// IsPlaceholderToken reports whether token is one of the sample values.
func IsPlaceholderToken(token string) bool {
	if slices.Contains(placeholderTokens, token) {
		return true
	}
	lower := strings.ToLower(token)
	return strings.Contains(lower, "your_token") || strings.Contains(lower, "token_here")
}

// EffectiveAdminIDs returns the admin ids without the example id and
// non-positive values.
func EffectiveAdminIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 && id != ExampleAdminID {
			out = append(out, id)
		}
	}
	return out
}

// Validate checks that cfg can run a bot: a real token, at least one real
// admin id, sane durations and a known log level. All problems are
// reported together, wrapped in ErrConfig.
func Validate(cfg *Config) error {
	var errs []error

	switch {
	case strings.TrimSpace(cfg.Token) == "":
		errs = append(errs, fmt.Errorf("token is required (set it in the config file or %s)", EnvToken))
	case IsPlaceholderToken(cfg.Token):
		errs = append(errs, errors.New("token is still the sample placeholder"))
	}

	if len(EffectiveAdminIDs(cfg.AdminIDs)) == 0 {
		errs = append(errs, fmt.Errorf("admin_ids must contain at least one real user id (or set %s)", EnvAdminIDs))
	}
	for i, id := range cfg.AdminIDs {
		if id <= 0 {
			errs = append(errs, fmt.Errorf("admin_ids[%d]: %d is not a user id", i, id))
		}
	}

	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateNetwork(cfg.Network)...)

	if cfg.Gateway.Bind != "" {
		if _, _, err := net.SplitHostPort(cfg.Gateway.Bind); err != nil {
			errs = append(errs, fmt.Errorf("gateway.bind %q: %w", cfg.Gateway.Bind, err))
		}
	}
	if cfg.RateLimit.CommandsPerMin < 0 {
		errs = append(errs, errors.New("rate_limit.commands_per_min must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

func validateNetwork(n NetworkConfig) []error {
	var errs []error
	check := func(name string, d Duration) {
		if d < 0 {
			errs = append(errs, fmt.Errorf("network.%s must not be negative", name))
		}
	}
	check("connect_timeout", n.ConnectTimeout)
	check("read_timeout", n.ReadTimeout)
	check("write_timeout", n.WriteTimeout)
	check("poll_interval", n.PollInterval)
	return errs
}

// ParseLogLevel maps the config log level names onto slog levels.
// WARNING and WARN are both accepted.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level %q", s)
	}
}
