// Package reminder implements the reminder module. Users schedule a message
// with /remind, either in one line or through a short conversation, and a
// background loop delivers it when due. Pending reminders survive reloads.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/modbot/internal/core"
	"github.com/flemzord/modbot/internal/module"
	"github.com/flemzord/modbot/internal/state"
)

func init() {
	core.RegisterModule(&Module{})
}

// Interface guards.
var (
	_ core.Module       = (*Module)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ module.Plugin     = (*Module)(nil)
	_ module.Stateful   = (*Module)(nil)
)

// EventFired is published after a reminder was delivered.
const EventFired = "reminder.fired"

// Defaults for Config.
const (
	DefaultCheckInterval = 30 * time.Second
	DefaultMaxPerUser    = 10
	DefaultMaxDelay      = 30 * 24 * time.Hour
)

// Config is the reminder entry of module_configs.
type Config struct {
	// CheckInterval is how often due reminders are looked for.
	CheckInterval time.Duration `yaml:"check_interval"`

	// MaxPerUser bounds the pending reminders of one user.
	MaxPerUser int `yaml:"max_per_user"`

	// MaxDelay is the furthest in the future a reminder may be set.
	MaxDelay time.Duration `yaml:"max_delay"`

	// QuietHours holds deliveries back during a daily "HH:MM-HH:MM"
	// window, read in Timezone.
	QuietHours string `yaml:"quiet_hours"`

	// Timezone is an IANA zone name. Empty means UTC.
	Timezone string `yaml:"timezone"`
}

func (c *Config) defaults() {
	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.MaxPerUser == 0 {
		c.MaxPerUser = DefaultMaxPerUser
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
}

// Entry is one pending reminder.
type Entry struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	ChatID    int64     `json:"chat_id"`
	Text      string    `json:"text"`
	Due       time.Time `json:"due"`
	CreatedAt time.Time `json:"created_at"`
}

// Module is the reminder module.
type Module struct {
	config Config
	quiet  *QuietHours
	loc    *time.Location
	now    func() time.Time

	mu      sync.Mutex
	pending []Entry

	// saveMu orders snapshots with their writes so the newest one lands last.
	saveMu sync.Mutex

	logger *slog.Logger
	sender module.Sender
	iface  *module.Interface

	cancel context.CancelFunc
	done   chan struct{}
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:          "reminder",
		Version:     "1.0.0",
		Description: "Schedules reminder messages",
		Author:      "modbot",
		Commands:    []string{"remind", "reminders"},
		New:         func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	m.config.defaults()
	var errs []error
	if m.config.CheckInterval < time.Second {
		errs = append(errs, fmt.Errorf("check_interval %s is below 1s", m.config.CheckInterval))
	}
	if m.config.MaxPerUser < 0 {
		errs = append(errs, errors.New("max_per_user must not be negative"))
	}
	if m.config.MaxDelay < time.Minute {
		errs = append(errs, fmt.Errorf("max_delay %s is below 1m", m.config.MaxDelay))
	}

	m.loc = time.UTC
	if m.config.Timezone != "" {
		loc, err := time.LoadLocation(m.config.Timezone)
		if err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		} else {
			m.loc = loc
		}
	}
	m.quiet = nil
	if m.config.QuietHours != "" {
		q, err := ParseQuietHours(m.config.QuietHours)
		if err != nil {
			errs = append(errs, err)
		} else {
			m.quiet = &q
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reminder: %w", err)
	}
	return nil
}

// Setup implements module.Plugin. It registers the commands and starts the
// delivery loop.
func (m *Module) Setup(iface *module.Interface) error {
	m.config.defaults()
	if m.now == nil {
		m.now = time.Now
	}
	if m.loc == nil {
		m.loc = time.UTC
	}
	m.iface = iface
	m.logger = iface.Logger()
	m.sender = iface.Bot()

	if err := m.register(iface); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(iface.Context())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx)
	return nil
}

// Cleanup implements module.Plugin. It stops the delivery loop and waits
// for it to exit.
func (m *Module) Cleanup(*module.Interface) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	return nil
}

func (m *Module) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.fireDue(ctx)
		}
	}
}

// fireDue delivers every reminder whose time has come. Delivery failures
// are logged; the reminder is not retried. During quiet hours due
// reminders stay pending.
func (m *Module) fireDue(ctx context.Context) int {
	now := m.now()
	if m.quiet != nil && m.quiet.IsQuiet(now.In(m.loc)) {
		return 0
	}

	m.mu.Lock()
	var due []Entry
	m.pending = slices.DeleteFunc(m.pending, func(e Entry) bool {
		if e.Due.After(now) {
			return false
		}
		due = append(due, e)
		return true
	})
	m.mu.Unlock()
	if len(due) > 0 {
		m.persist()
	}

	for _, e := range due {
		if m.sender == nil {
			m.logger.Warn("reminder dropped, no sender", "id", e.ID, "chat_id", e.ChatID)
			continue
		}
		if err := m.sender.Send(ctx, e.ChatID, reminderMessage(e)); err != nil {
			m.logger.Error("reminder delivery failed", "id", e.ID, "chat_id", e.ChatID, "error", err)
			continue
		}
		m.iface.Publish(ctx, EventFired, map[string]any{
			"chat_id": e.ChatID,
			"user_id": e.UserID,
			"id":      e.ID,
		})
	}
	return len(due)
}

func reminderMessage(e Entry) string {
	return "⏰ Reminder: " + e.Text
}

// add schedules text for userID in chatID after delay.
func (m *Module) add(userID, chatID int64, text string, delay time.Duration) (Entry, error) {
	e, err := m.insert(userID, chatID, text, delay)
	if err == nil {
		m.persist()
	}
	return e, err
}

func (m *Module) insert(userID, chatID int64, text string, delay time.Duration) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.userEntriesLocked(userID)) >= m.config.MaxPerUser {
		return Entry{}, fmt.Errorf("you already have %d pending reminders", m.config.MaxPerUser)
	}
	now := m.now()
	e := Entry{
		ID:        uuid.NewString()[:8],
		UserID:    userID,
		ChatID:    chatID,
		Text:      text,
		Due:       now.Add(delay),
		CreatedAt: now,
	}
	m.pending = append(m.pending, e)
	slices.SortStableFunc(m.pending, func(a, b Entry) int { return a.Due.Compare(b.Due) })
	return e, nil
}

// remove deletes the reminder id if it belongs to userID.
func (m *Module) remove(userID int64, id string) bool {
	m.mu.Lock()
	n := len(m.pending)
	m.pending = slices.DeleteFunc(m.pending, func(e Entry) bool {
		return e.ID == id && e.UserID == userID
	})
	removed := len(m.pending) < n
	m.mu.Unlock()

	if removed {
		m.persist()
	}
	return removed
}

// persist writes the pending reminders so a crash loses none of them.
// Failures are logged; the in-memory list stays authoritative.
func (m *Module) persist() {
	if m.iface == nil {
		return
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if err := m.iface.SaveState(m.SnapshotState()); err != nil {
		m.logger.Warn("saving reminders failed", "error", err)
	}
}

// list returns the pending reminders of userID in chatID, soonest first.
func (m *Module) list(userID, chatID int64) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.pending {
		if e.UserID == userID && e.ChatID == chatID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Module) userEntriesLocked(userID int64) []Entry {
	var out []Entry
	for _, e := range m.pending {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// SnapshotState implements module.Stateful.
func (m *Module) SnapshotState() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return []Entry{}
	}
	return slices.Clone(m.pending)
}

// RestoreState implements module.Stateful.
func (m *Module) RestoreState(iface *module.Interface) error {
	var entries []Entry
	if err := iface.LoadState(&entries); err != nil {
		if errors.Is(err, state.ErrNoState) {
			return nil
		}
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = entries
	return nil
}
