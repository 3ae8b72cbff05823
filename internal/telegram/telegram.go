package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tele "gopkg.in/telebot.v3"

	"github.com/flemzord/modbot/internal/builtin"
	"github.com/flemzord/modbot/internal/core"
	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/module"
)

// ModuleID is the component id of the Telegram connection.
const ModuleID core.ModuleID = "telegram"

// Compile-time interface guards.
var (
	_ core.Starter           = (*Bot)(nil)
	_ core.Stopper           = (*Bot)(nil)
	_ dispatch.AdminResolver = (*Bot)(nil)
	_ module.Sender          = (*Bot)(nil)
	_ builtin.Chats          = (*Bot)(nil)
)

// Handlers are the entry points updates are routed to. Nil handlers are
// not installed.
type Handlers struct {
	Text         tele.HandlerFunc
	Callback     tele.HandlerFunc
	MyChatMember tele.HandlerFunc
}

// Bot is the Telegram connection.
type Bot struct {
	bot    *tele.Bot
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// New connects to the Bot API and checks the token with getMe.
func New(opts Options, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts.defaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	b := &Bot{logger: logger.With("component", "telegram")}
	tb, err := tele.NewBot(tele.Settings{
		URL:     opts.APIURL,
		Token:   opts.Token,
		Updates: opts.Updates,
		Poller: &tele.LongPoller{
			Timeout:        opts.Network.PollInterval.Std(),
			AllowedUpdates: AllowedUpdates,
		},
		Client:  httpClient(opts.Network),
		OnError: b.onError,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: getMe failed (check token): %w", err)
	}
	b.bot = tb
	b.logger.Info("telegram bot authenticated", "id", tb.Me.ID, "username", tb.Me.Username)
	return b, nil
}

// ModuleInfo implements core.Module.
func (b *Bot) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:          ModuleID,
		Version:     "1.0.0",
		Description: "Telegram Bot API connection",
		New:         func() core.Module { return &Bot{} },
	}
}

// Username returns the bot's @username without the @.
func (b *Bot) Username() string { return b.bot.Me.Username }

// ID returns the bot's user id.
func (b *Bot) ID() int64 { return b.bot.Me.ID }

// Handle installs the update handlers. Call it before Start.
func (b *Bot) Handle(h Handlers) {
	if h.Text != nil {
		b.bot.Handle(tele.OnText, h.Text)
	}
	if h.Callback != nil {
		b.bot.Handle(tele.OnCallback, h.Callback)
	}
	if h.MyChatMember != nil {
		b.bot.Handle(tele.OnMyChatMember, h.MyChatMember)
	}
}

// SetCommands publishes the command menu shown by Telegram clients.
func (b *Bot) SetCommands(cmds []tele.Command) error {
	if err := b.bot.SetCommands(cmds); err != nil {
		return fmt.Errorf("telegram: setMyCommands: %w", err)
	}
	return nil
}

// Start implements core.Starter. Polling runs in the background until Stop.
func (b *Bot) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	b.running = true
	b.done = make(chan struct{})

	done := b.done
	go func() {
		defer close(done)
		b.bot.Start()
	}()
	b.logger.Info("telegram polling started")
	return nil
}

// Stop implements core.Stopper. It waits for the poller to finish or for
// ctx to expire.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	done := b.done
	b.mu.Unlock()

	b.logger.Info("telegram polling stopping")
	stopped := make(chan struct{})
	go func() {
		b.bot.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		return fmt.Errorf("telegram: stopping poller: %w", ctx.Err())
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: stopping poller: %w", ctx.Err())
	}
}

func (b *Bot) onError(err error, c tele.Context) {
	if c == nil {
		b.logger.Error("telegram error", "error", err)
		return
	}
	attrs := []any{"error", err, "update_id", c.Update().ID}
	if chat := c.Chat(); chat != nil {
		attrs = append(attrs, "chat_id", chat.ID)
	}
	b.logger.Error("update handler failed", attrs...)
}
