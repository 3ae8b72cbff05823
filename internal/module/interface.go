package module

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/flemzord/modbot/internal/config"
	"github.com/flemzord/modbot/internal/core"
	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/event"
	"github.com/flemzord/modbot/internal/session"
)

// CommandOption customizes a command registered through the Interface.
type CommandOption func(*dispatch.Command)

// WithAdminLevel sets the level required to run the command.
func WithAdminLevel(level dispatch.AdminLevel) CommandOption {
	return func(c *dispatch.Command) { c.Level = level }
}

// WithDescription sets the text shown by /help and /commands.
func WithDescription(text string) CommandOption {
	return func(c *dispatch.Command) { c.Description = text }
}

// Registrations lists what a module currently owns.
type Registrations struct {
	Commands        []string
	Callbacks       []string
	MessageHandlers int
	Subscriptions   int
}

// Interface is the facade a module sees. Everything registered through it
// is tracked and removed in bulk when the module is unloaded.
type Interface struct {
	info   core.ModuleInfo
	name   string
	deps   *Deps
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	commands  []string
	callbacks []string
	handlers  int
	subs      []*event.Subscription
}

func newInterface(deps *Deps, info core.ModuleInfo, logger *slog.Logger) *Interface {
	ctx, cancel := context.WithCancel(context.Background())
	return &Interface{
		info:   info,
		name:   string(info.ID),
		deps:   deps,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Name returns the module name.
func (i *Interface) Name() string { return i.name }

// Info returns the module metadata.
func (i *Interface) Info() core.ModuleInfo { return i.info }

// Logger returns a logger tagged with the module name.
func (i *Interface) Logger() *slog.Logger { return i.logger }

// Context is cancelled when the module is unloaded. Background work the
// module starts should stop on it.
func (i *Interface) Context() context.Context { return i.ctx }

// Config returns the live bot configuration.
func (i *Interface) Config() *config.Store { return i.deps.Config }

// Bot returns the message sender, nil when running without Telegram.
func (i *Interface) Bot() Sender { return i.deps.Sender }

// RegisterCommand adds /name, routed to h. The command inherits the
// module's chat types.
func (i *Interface) RegisterCommand(name string, h tele.HandlerFunc, opts ...CommandOption) error {
	cmd := dispatch.Command{
		Name:      name,
		Module:    i.name,
		ChatTypes: i.info.SupportedChatTypes(),
		Handler:   h,
	}
	for _, opt := range opts {
		opt(&cmd)
	}
	if err := i.deps.Dispatcher.Register(cmd); err != nil {
		return fmt.Errorf("module %s: %w", i.name, err)
	}
	i.mu.Lock()
	i.commands = append(i.commands, name)
	i.mu.Unlock()
	return nil
}

// RegisterMessageHandler adds h to the free-text chain. Higher priority
// runs first.
func (i *Interface) RegisterMessageHandler(h dispatch.MessageFunc, priority int) error {
	err := i.deps.Dispatcher.RegisterMessageHandler(dispatch.MessageHandler{
		Module:    i.name,
		Priority:  priority,
		ChatTypes: i.info.SupportedChatTypes(),
		Handler:   h,
	})
	if err != nil {
		return fmt.Errorf("module %s: %w", i.name, err)
	}
	i.mu.Lock()
	i.handlers++
	i.mu.Unlock()
	return nil
}

// RegisterCallback routes inline button data "prefix:..." to h.
func (i *Interface) RegisterCallback(prefix string, h tele.HandlerFunc, level dispatch.AdminLevel) error {
	err := i.deps.Dispatcher.RegisterCallback(dispatch.Callback{
		Prefix:    prefix,
		Module:    i.name,
		Level:     level,
		ChatTypes: i.info.SupportedChatTypes(),
		Handler:   h,
	})
	if err != nil {
		return fmt.Errorf("module %s: %w", i.name, err)
	}
	i.mu.Lock()
	i.callbacks = append(i.callbacks, prefix)
	i.mu.Unlock()
	return nil
}

// SaveState persists data as the module's state file.
func (i *Interface) SaveState(data any) error {
	return i.deps.State.Save(i.name, data)
}

// LoadState decodes the module's state into v. It returns state.ErrNoState
// when nothing was saved yet.
func (i *Interface) LoadState(v any) error {
	return i.deps.State.Load(i.name, v)
}

// DeleteState removes the module's state and its backups.
func (i *Interface) DeleteState() error {
	return i.deps.State.Delete(i.name)
}

// Subscribe registers h for the named event. Delivery is limited to events
// for chats the module may serve: private chats when it supports them,
// allowed groups when it supports groups. Events without a chat id always
// pass.
func (i *Interface) Subscribe(name string, h event.Handler, opts ...event.Option) *event.Subscription {
	opts = append(slices.Clone(opts), event.WithOwner(i.name), event.WithFilter(i.chatGate))
	sub := i.deps.Bus.Subscribe(name, h, opts...)
	i.mu.Lock()
	i.subs = append(i.subs, sub)
	i.mu.Unlock()
	return sub
}

// Unsubscribe removes one of the module's subscriptions.
func (i *Interface) Unsubscribe(sub *event.Subscription) bool {
	i.mu.Lock()
	i.subs = slices.DeleteFunc(i.subs, func(s *event.Subscription) bool { return s == sub })
	i.mu.Unlock()
	return i.deps.Bus.Unsubscribe(sub)
}

func (i *Interface) chatGate(ev event.Event) bool {
	chatID, ok := ev.ChatID()
	if !ok || chatID == 0 {
		return true
	}
	if chatID < 0 {
		return i.info.Supports(core.ChatGroup) && i.deps.Config.IsGroupAllowed(chatID)
	}
	return i.info.Supports(core.ChatPrivate)
}

// Publish fires an event without waiting, stamped with this module as
// source. It returns the number of matching subscribers.
func (i *Interface) Publish(ctx context.Context, name string, data map[string]any) int {
	return i.deps.Bus.Publish(ctx, name, data, i.name)
}

// PublishAndWait delivers an event synchronously and reports how many
// subscribers ran and how many succeeded.
func (i *Interface) PublishAndWait(ctx context.Context, name string, data map[string]any, timeout time.Duration) (invoked, succeeded int) {
	return i.deps.Bus.PublishAndWait(ctx, name, data, i.name, timeout)
}

// Session returns the module's view of the session store.
func (i *Interface) Session() Sessions {
	return Sessions{m: i.deps.Sessions, module: i.name}
}

// Registrations returns a snapshot of what the module registered.
func (i *Interface) Registrations() Registrations {
	i.mu.Lock()
	defer i.mu.Unlock()
	cmds := slices.Clone(i.commands)
	slices.Sort(cmds)
	cbs := slices.Clone(i.callbacks)
	slices.Sort(cbs)
	return Registrations{
		Commands:        cmds,
		Callbacks:       cbs,
		MessageHandlers: i.handlers,
		Subscriptions:   len(i.subs),
	}
}

// discard removes every registration and cancels the module context.
func (i *Interface) discard() {
	i.cancel()
	i.deps.Dispatcher.UnregisterModule(i.name)
	i.deps.Bus.UnsubscribeOwner(i.name)
	i.deps.Sessions.ReleaseModule(i.name)

	i.mu.Lock()
	i.commands, i.callbacks, i.handlers, i.subs = nil, nil, 0, nil
	i.mu.Unlock()
}

// Sessions is a module-scoped view of the session store. Values are shared
// between modules; ownership calls act on behalf of the module.
type Sessions struct {
	m      *session.Manager
	module string
}

// KeyOf returns the session key for the update in c.
func KeyOf(c tele.Context) session.Key {
	var k session.Key
	if u := c.Sender(); u != nil {
		k.UserID = u.ID
	}
	if chat := c.Chat(); chat != nil {
		k.ChatID = chat.ID
	}
	return k
}

func (s Sessions) Set(key session.Key, name string, value any, ttl time.Duration) {
	s.m.Set(key, name, value, ttl)
}

func (s Sessions) Get(key session.Key, name string) (any, bool) { return s.m.Get(key, name) }

func (s Sessions) Delete(key session.Key, name string) bool { return s.m.Delete(key, name) }

// Acquire claims the conversation for the module.
func (s Sessions) Acquire(key session.Key, ttl time.Duration) bool {
	return s.m.Acquire(key, s.module, ttl)
}

// Release drops the module's claim.
func (s Sessions) Release(key session.Key) bool { return s.m.Release(key, s.module) }

// Owns reports whether the module holds the conversation.
func (s Sessions) Owns(key session.Key) bool {
	owner, ok := s.m.Owner(key)
	return ok && owner == s.module
}

// HasOtherModuleSession reports whether another module holds the conversation.
func (s Sessions) HasOtherModuleSession(key session.Key) bool {
	return s.m.HasOtherModuleSession(key, s.module)
}
