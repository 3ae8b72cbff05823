// Package builtin implements the commands every bot has regardless of the
// modules it loads: help and discovery, group allow-list management,
// per-chat module switches, statistics and configuration reload.
package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/flemzord/modbot/internal/config"
	"github.com/flemzord/modbot/internal/core"
	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/event"
	"github.com/flemzord/modbot/internal/module"
	"github.com/flemzord/modbot/internal/security"
	"github.com/flemzord/modbot/internal/session"
	"github.com/flemzord/modbot/internal/usage"
)

// Events published by the built-in handlers.
const (
	EventBotAddedToGroup     = "bot.added_to_group"
	EventBotRemovedFromGroup = "bot.removed_from_group"
	EventGroupAdded          = "group.added"
	EventGroupRemoved        = "group.removed"
	EventSessionCancelled    = "session.cancelled"
)

// Pagination.
const (
	ModulesPrefix   = "mod_page"
	CommandsPrefix  = "cmd_page"
	modulesPerPage  = 8
	commandsPerPage = 10
)

// ChatAdmin is one administrator of a group chat.
type ChatAdmin struct {
	UserID   int64
	Username string
	Name     string
	Role     string
}

// Chats performs chat-level actions outside of the current update. The
// Telegram adapter implements it.
type Chats interface {
	module.Sender
	Leave(ctx context.Context, chatID int64) error
	Administrators(ctx context.Context, chatID int64) ([]ChatAdmin, error)
}

// UsageStats reports command usage totals. *usage.Store implements it.
type UsageStats interface {
	Totals(ctx context.Context, since time.Time) (usage.Totals, error)
}

// JobStatus reports when housekeeping jobs last ran. *cron.Scheduler
// implements it.
type JobStatus interface {
	LastRun(name string) (time.Time, bool)
}

// ConfigReloader re-reads the configuration. *reload.Handler implements it.
type ConfigReloader interface {
	Reload(ctx context.Context) error
}

// Options wires the built-in commands to the running services.
type Options struct {
	Logger     *slog.Logger
	Dispatcher *dispatch.Dispatcher
	Manager    *module.Manager
	Config     *config.Store
	Modules    *config.ModulesStore
	Sessions   *session.Manager
	Bus        *event.Bus
	Audit      *security.AuditLogger

	// Optional services. Commands that need a missing one say so.
	Chats    Chats
	Usage    UsageStats
	Jobs     JobStatus
	Reloader ConfigReloader

	// Started is the process start time shown by /stats.
	Started time.Time
}

// Builtin holds the built-in command handlers.
type Builtin struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates the built-in command set. Call Register to install it.
func New(opts Options) *Builtin {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}
	return &Builtin{
		opts:   opts,
		logger: opts.Logger.With("component", "builtin"),
		now:    time.Now,
	}
}

// SetChats installs the chat actions once the bot is connected.
func (b *Builtin) SetChats(c Chats) { b.opts.Chats = c }

type entry struct {
	name   string
	level  dispatch.AdminLevel
	desc   string
	bypass bool
	h      tele.HandlerFunc
}

func (b *Builtin) entries() []entry {
	return []entry{
		{"start", dispatch.LevelNone, "Start the bot", false, b.start},
		{"help", dispatch.LevelNone, "Show help", false, b.help},
		{"id", dispatch.LevelNone, "Show user and chat IDs", false, b.id},
		{"modules", dispatch.LevelNone, "List available modules", false, b.modules},
		{"commands", dispatch.LevelNone, "List available commands", false, b.commands},
		{"cancel", dispatch.LevelNone, "Cancel the current operation", false, b.cancel},
		{"enable", dispatch.LevelGroupAdmin, "Enable a module", false, b.enable},
		{"disable", dispatch.LevelGroupAdmin, "Disable a module", false, b.disable},
		{"reload", dispatch.LevelSuperAdmin, "Reload a module", false, b.reloadModule},
		{"reload_config", dispatch.LevelSuperAdmin, "Reload the configuration", false, b.reloadConfig},
		{"stats", dispatch.LevelSuperAdmin, "Show bot statistics", false, b.stats},
		{"listgroups", dispatch.LevelSuperAdmin, "List allowed groups", true, b.listGroups},
		{"addgroup", dispatch.LevelSuperAdmin, "Allow a group", true, b.addGroup},
		{"removegroup", dispatch.LevelSuperAdmin, "Remove a group from the allowed list", true, b.removeGroup},
	}
}

// Register installs the commands and pagination callbacks.
func (b *Builtin) Register() error {
	d := b.opts.Dispatcher
	for _, e := range b.entries() {
		err := d.Register(dispatch.Command{
			Name:            e.name,
			Module:          dispatch.CoreModule,
			Level:           e.level,
			Description:     e.desc,
			BypassGroupGate: e.bypass,
			Handler:         e.h,
		})
		if err != nil {
			return fmt.Errorf("registering /%s: %w", e.name, err)
		}
	}
	for prefix, h := range map[string]tele.HandlerFunc{
		ModulesPrefix:  b.modulesPage,
		CommandsPrefix: b.commandsPage,
	} {
		err := d.RegisterCallback(dispatch.Callback{Prefix: prefix, Module: dispatch.CoreModule, Handler: h})
		if err != nil {
			return fmt.Errorf("registering callback %s: %w", prefix, err)
		}
	}
	return nil
}

// CommandList returns the built-in commands for the Telegram command menu,
// limited to the public ones.
func (b *Builtin) CommandList() []tele.Command {
	var out []tele.Command
	for _, e := range b.entries() {
		if e.level == dispatch.LevelNone {
			out = append(out, tele.Command{Text: e.name, Description: e.desc})
		}
	}
	return out
}

func (b *Builtin) audit(ev security.AuditEvent) {
	b.opts.Audit.Log(ev)
}

func (b *Builtin) publish(ctx context.Context, name string, data map[string]any) {
	if b.opts.Bus != nil {
		b.opts.Bus.Publish(ctx, name, data, "")
	}
}

func (b *Builtin) level(c tele.Context) dispatch.AdminLevel {
	return b.opts.Dispatcher.Authorizer().Level(dispatch.ContextFrom(c), c.Sender().ID, c.Chat().ID, dispatch.ChatTypeOf(c.Chat()))
}

func isGroup(c tele.Context) bool {
	return dispatch.ChatTypeOf(c.Chat()) == core.ChatGroup
}

// scope names where a per-chat setting applies.
func scope(c tele.Context) string {
	if isGroup(c) {
		return "in this group"
	}
	return "globally"
}

func markdown(c tele.Context, text string, opts ...any) error {
	return c.Send(text, append([]any{tele.ModeMarkdown}, opts...)...)
}
