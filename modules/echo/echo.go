// Package echo implements the echo module: /echo repeats its arguments back
// to the chat and /echostats reports how often it did.
package echo

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v3"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/modbot/internal/core"
	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/format"
	"github.com/flemzord/modbot/internal/module"
	"github.com/flemzord/modbot/internal/state"
)

func init() {
	core.RegisterModule(&Echo{})
}

// Interface guards.
var (
	_ core.Module       = (*Echo)(nil)
	_ core.Configurable = (*Echo)(nil)
	_ core.Validator    = (*Echo)(nil)
	_ module.Plugin     = (*Echo)(nil)
	_ module.Stateful   = (*Echo)(nil)
)

// EventSent is published after every echo.
const EventSent = "echo.sent"

const usage = "Usage: /echo <text>"

// Config is the echo entry of module_configs.
type Config struct {
	// Prefix is prepended to every reply.
	Prefix string `yaml:"prefix"`

	// MaxLength truncates replies, in runes. Zero means DefaultMaxLength.
	MaxLength int `yaml:"max_length"`
}

// DefaultMaxLength keeps replies well under Telegram's message limit.
const DefaultMaxLength = 1024

func (c *Config) defaults() {
	if c.MaxLength == 0 {
		c.MaxLength = DefaultMaxLength
	}
}

// Echo is the echo module.
type Echo struct {
	config Config

	mu    sync.Mutex
	count int
	users map[int64]int
}

type snapshot struct {
	Count int           `json:"count"`
	Users map[int64]int `json:"users,omitempty"`
}

// ModuleInfo implements core.Module.
func (e *Echo) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:          "echo",
		Version:     "1.0.0",
		Description: "Repeats text back to the chat",
		Author:      "modbot",
		Commands:    []string{"echo", "echostats"},
		New:         func() core.Module { return &Echo{} },
	}
}

// Configure implements core.Configurable.
func (e *Echo) Configure(node *yaml.Node) error {
	if err := node.Decode(&e.config); err != nil {
		return err
	}
	return nil
}

// Validate implements core.Validator.
func (e *Echo) Validate() error {
	e.config.defaults()
	if e.config.MaxLength < 0 {
		return errors.New("echo: max_length must not be negative")
	}
	if len([]rune(e.config.Prefix)) >= e.config.MaxLength {
		return fmt.Errorf("echo: prefix longer than max_length %d", e.config.MaxLength)
	}
	return nil
}

// Setup implements module.Plugin.
func (e *Echo) Setup(iface *module.Interface) error {
	e.config.defaults()
	e.mu.Lock()
	if e.users == nil {
		e.users = make(map[int64]int)
	}
	e.mu.Unlock()

	err := iface.RegisterCommand("echo", func(c tele.Context) error {
		return e.handleEcho(iface, c)
	}, module.WithDescription("Repeat a message"))
	if err != nil {
		return err
	}
	return iface.RegisterCommand("echostats", e.handleStats,
		module.WithDescription("Show echo statistics"),
		module.WithAdminLevel(dispatch.LevelGroupAdmin),
	)
}

// Cleanup implements module.Plugin.
func (e *Echo) Cleanup(*module.Interface) error { return nil }

func (e *Echo) handleEcho(iface *module.Interface, c tele.Context) error {
	text := strings.TrimSpace(c.Message().Payload)
	if text == "" {
		return c.Send(usage)
	}
	reply := format.Truncate(e.config.Prefix+text, e.config.MaxLength)

	userID := c.Sender().ID
	e.mu.Lock()
	e.count++
	e.users[userID]++
	e.mu.Unlock()

	iface.Publish(dispatch.ContextFrom(c), EventSent, map[string]any{
		"chat_id": c.Chat().ID,
		"user_id": userID,
		"text":    reply,
	})
	return c.Send(reply)
}

func (e *Echo) handleStats(c tele.Context) error {
	e.mu.Lock()
	count, users := e.count, len(e.users)
	mine := e.users[c.Sender().ID]
	e.mu.Unlock()
	return c.Send(fmt.Sprintf("Echoed %d messages for %d users (%d yours).", count, users, mine))
}

// SnapshotState implements module.Stateful.
func (e *Echo) SnapshotState() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	users := make(map[int64]int, len(e.users))
	for id, n := range e.users {
		users[id] = n
	}
	return snapshot{Count: e.count, Users: users}
}

// RestoreState implements module.Stateful.
func (e *Echo) RestoreState(iface *module.Interface) error {
	var snap snapshot
	if err := iface.LoadState(&snap); err != nil {
		if errors.Is(err, state.ErrNoState) {
			return nil
		}
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count = snap.Count
	e.users = snap.Users
	if e.users == nil {
		e.users = make(map[int64]int)
	}
	return nil
}
