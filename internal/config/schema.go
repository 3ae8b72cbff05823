// Package config handles JSON configuration loading, environment overrides,
// structural validation and the live, mutable config stores of modbot.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Config is the top-level configuration structure (config/config.json).
type Config struct {
	// Token is the Telegram bot token. Overridden by TELEGRAM_BOT_TOKEN.
	Token string `json:"token"`

	// AdminIDs lists the super admins. Overridden by ADMIN_IDS.
	AdminIDs []int64 `json:"admin_ids"`

	// LogLevel is one of DEBUG, INFO, WARNING, ERROR.
	LogLevel string `json:"log_level"`

	// AllowedGroups maps a decimal chat id to who added it and when.
	AllowedGroups map[string]GroupInfo `json:"allowed_groups"`

	Network   NetworkConfig   `json:"network"`
	Gateway   GatewayConfig   `json:"gateway,omitzero"`
	Telemetry TelemetryConfig `json:"telemetry,omitzero"`
	Cron      CronConfig      `json:"cron,omitzero"`
	RateLimit RateLimitConfig `json:"rate_limit,omitzero"`
}

// GroupInfo records how a group got on the allow list.
type GroupInfo struct {
	AddedBy int64     `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
	Title   string    `json:"title,omitempty"`
}

// NetworkConfig holds the Bot API client timeouts.
type NetworkConfig struct {
	ConnectTimeout Duration `json:"connect_timeout"`
	ReadTimeout    Duration `json:"read_timeout"`
	WriteTimeout   Duration `json:"write_timeout"`
	PollInterval   Duration `json:"poll_interval"`
}

// GatewayConfig enables the ops HTTP server when Bind is set. BearerToken,
// when set, protects /status and /events.
type GatewayConfig struct {
	Bind        string `json:"bind,omitempty"`
	BearerToken string `json:"bearer_token,omitempty"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `json:"otlp_endpoint,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// CronConfig overrides the maintenance job schedules (5-field cron syntax).
type CronConfig struct {
	SessionPrune  string `json:"session_prune,omitempty"`
	BackupCleanup string `json:"backup_cleanup,omitempty"`
	UsagePrune    string `json:"usage_prune,omitempty"`

	// BackupRetention is how long state backups are kept.
	BackupRetention Duration `json:"backup_retention,omitzero"`
}

// RateLimitConfig bounds how many commands one user may send per minute.
// Zero disables the limit.
type RateLimitConfig struct {
	CommandsPerMin int `json:"commands_per_min,omitempty"`
}

// Default network timeouts.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
	DefaultPollInterval   = 10 * time.Second
	DefaultLogLevel       = "INFO"
)

// Default returns the configuration written when no file exists yet.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.AdminIDs == nil {
		c.AdminIDs = []int64{}
	}
	if c.AllowedGroups == nil {
		c.AllowedGroups = make(map[string]GroupInfo)
	}
	if c.Network.ConnectTimeout == 0 {
		c.Network.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if c.Network.ReadTimeout == 0 {
		c.Network.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if c.Network.WriteTimeout == 0 {
		c.Network.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if c.Network.PollInterval == 0 {
		c.Network.PollInterval = Duration(DefaultPollInterval)
	}
}

// Clone returns a deep copy, safe to hand out from a Store.
func (c *Config) Clone() *Config {
	cp := *c
	cp.AdminIDs = append([]int64(nil), c.AdminIDs...)
	cp.AllowedGroups = make(map[string]GroupInfo, len(c.AllowedGroups))
	for k, v := range c.AllowedGroups {
		cp.AllowedGroups[k] = v
	}
	return &cp
}

// ChatKey formats a chat id the way allowed_groups and group_modules key it.
func ChatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// Duration is a time.Duration that decodes from "10s"-style strings or from
// a plain number of seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON encodes the duration as a Go duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "1m30s" or 90.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}
