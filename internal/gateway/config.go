package gateway

import (
	"time"

	"github.com/flemzord/modbot/internal/config"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string
	BearerToken     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ConfigFrom maps the gateway section of the bot configuration.
func ConfigFrom(c config.GatewayConfig) Config {
	return Config{Bind: c.Bind, BearerToken: c.BearerToken}
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}
