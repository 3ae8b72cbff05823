package dispatch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tele "gopkg.in/telebot.v3"

	"github.com/flemzord/modbot/internal/core"
	"github.com/flemzord/modbot/internal/format"
	"github.com/flemzord/modbot/internal/security"
)

// DefaultUpdateTimeout bounds the context handed to one update's handlers.
const DefaultUpdateTimeout = 60 * time.Second

// EnabledChecker reports per-chat module enablement. *config.ModulesStore
// implements it.
type EnabledChecker interface {
	IsEnabledForChat(module string, chatID int64) bool
}

// Options configures a Dispatcher.
type Options struct {
	Logger   *slog.Logger
	Admins   Admins
	Modules  EnabledChecker
	Resolver AdminResolver

	// Limiter, if set, rate limits commands per user. Super admins are exempt.
	Limiter *security.RateLimiter

	// Audit receives denials and rate limit hits.
	Audit *security.AuditLogger

	Observers []Observer
	Tracer    trace.Tracer

	// Username is the bot's @username, used to ignore commands addressed to
	// other bots. It can be set later with SetUsername.
	Username string

	UpdateTimeout time.Duration
}

// Dispatcher is the single entry point for text and callback updates.
type Dispatcher struct {
	mu        sync.RWMutex
	commands  map[string]*Command
	messages  []*MessageHandler
	callbacks map[string]*Callback
	seq       uint64
	username  string

	auth      *Authorizer
	admins    Admins
	modules   EnabledChecker
	limiter   *security.RateLimiter
	audit     *security.AuditLogger
	observers []Observer
	tracer    trace.Tracer
	logger    *slog.Logger
	timeout   time.Duration
}

// New creates a Dispatcher. opts.Admins is required.
func New(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/flemzord/modbot/internal/dispatch")
	}
	if opts.UpdateTimeout <= 0 {
		opts.UpdateTimeout = DefaultUpdateTimeout
	}
	logger := opts.Logger.With("component", "dispatch")
	return &Dispatcher{
		commands:  make(map[string]*Command),
		callbacks: make(map[string]*Callback),
		username:  opts.Username,
		auth:      NewAuthorizer(opts.Admins, opts.Resolver, logger),
		admins:    opts.Admins,
		modules:   opts.Modules,
		limiter:   opts.Limiter,
		audit:     opts.Audit,
		observers: opts.Observers,
		tracer:    opts.Tracer,
		logger:    logger,
		timeout:   opts.UpdateTimeout,
	}
}

// Authorizer returns the dispatcher's authorizer, for handlers that need
// to check levels themselves.
func (d *Dispatcher) Authorizer() *Authorizer { return d.auth }

// SetUsername records the bot's @username once it is known.
func (d *Dispatcher) SetUsername(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.username = strings.TrimPrefix(name, "@")
}

// AddObserver appends an invocation observer.
func (d *Dispatcher) AddObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Register adds cmd to the table. A command with the same name is replaced
// and a warning is logged; the last registration wins.
func (d *Dispatcher) Register(cmd Command) error {
	name := strings.ToLower(strings.TrimPrefix(cmd.Name, "/"))
	if name == "" || strings.ContainsAny(name, " @") {
		return fmt.Errorf("invalid command name %q", cmd.Name)
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %s: nil handler", name)
	}
	cmd.Name = name

	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.commands[name]; ok {
		d.logger.Warn("command overridden",
			"command", name,
			"previous_module", prev.Module,
			"module", cmd.Module,
		)
	}
	d.commands[name] = &cmd
	return nil
}

// Unregister removes one command if module owns it.
func (d *Dispatcher) Unregister(name, module string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cmd, ok := d.commands[name]; ok && cmd.Module == module {
		delete(d.commands, name)
		return true
	}
	return false
}

// RegisterMessageHandler appends h to the free-text chain.
func (d *Dispatcher) RegisterMessageHandler(h MessageHandler) error {
	if h.Handler == nil {
		return errors.New("message handler: nil handler")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	h.seq = d.seq
	d.messages = append(d.messages, &h)
	slices.SortStableFunc(d.messages, func(x, y *MessageHandler) int {
		if c := cmp.Compare(y.Priority, x.Priority); c != 0 {
			return c
		}
		return cmp.Compare(x.seq, y.seq)
	})
	return nil
}

// RegisterCallback routes callback data starting with cb.Prefix to cb.
func (d *Dispatcher) RegisterCallback(cb Callback) error {
	if cb.Prefix == "" || strings.Contains(cb.Prefix, ":") {
		return fmt.Errorf("invalid callback prefix %q", cb.Prefix)
	}
	if cb.Handler == nil {
		return fmt.Errorf("callback %s: nil handler", cb.Prefix)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.callbacks[cb.Prefix]; ok {
		d.logger.Warn("callback overridden", "prefix", cb.Prefix, "previous_module", prev.Module, "module", cb.Module)
	}
	d.callbacks[cb.Prefix] = &cb
	return nil
}

// UnregisterModule removes every command, message handler and callback
// owned by module and returns how many entries were removed.
func (d *Dispatcher) UnregisterModule(module string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for name, cmd := range d.commands {
		if cmd.Module == module {
			delete(d.commands, name)
			removed++
		}
	}
	before := len(d.messages)
	d.messages = slices.DeleteFunc(d.messages, func(h *MessageHandler) bool { return h.Module == module })
	removed += before - len(d.messages)
	for prefix, cb := range d.callbacks {
		if cb.Module == module {
			delete(d.callbacks, prefix)
			removed++
		}
	}
	return removed
}

// Command returns a copy of the named command.
func (d *Dispatcher) Command(name string) (Command, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cmd, ok := d.commands[name]
	if !ok {
		return Command{}, false
	}
	return *cmd, true
}

// Commands returns all commands sorted by name.
func (d *Dispatcher) Commands() []Command {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Command, 0, len(d.commands))
	for _, name := range slices.Sorted(maps.Keys(d.commands)) {
		out = append(out, *d.commands[name])
	}
	return out
}

// ModuleCommands returns the sorted names of the commands module owns.
func (d *Dispatcher) ModuleCommands(module string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for name, cmd := range d.commands {
		if cmd.Module == module {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Counts returns the number of commands, message handlers and callbacks.
func (d *Dispatcher) Counts() (commands, messages, callbacks int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.commands), len(d.messages), len(d.callbacks)
}

// Visible reports whether cmd should be listed for a user of the given
// level in chatID: the level suffices, the chat type fits and the module is
// enabled there.
func (d *Dispatcher) Visible(cmd Command, level AdminLevel, chatID int64, chatType core.ChatType) bool {
	return level >= cmd.Level && supports(cmd.ChatTypes, chatType) && d.enabled(cmd.Module, chatID)
}

func (d *Dispatcher) enabled(module string, chatID int64) bool {
	if module == CoreModule || d.modules == nil {
		return true
	}
	return d.modules.IsEnabledForChat(module, chatID)
}

func (d *Dispatcher) botUsername() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.username
}

// updateContext attaches a bounded context to c.
func (d *Dispatcher) updateContext(c tele.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	c.Set(contextKey, ctx)
	return ctx, cancel
}

// HandleText is the telebot OnText endpoint. Commands go through the
// command gates; other text runs the message handler chain.
func (d *Dispatcher) HandleText(c tele.Context) error {
	msg := c.Message()
	if msg == nil || c.Sender() == nil {
		return nil
	}
	chatType := ChatTypeOf(c.Chat())
	if chatType == ChatChannel || chatType == "" {
		return nil
	}

	ctx, cancel := d.updateContext(c)
	defer cancel()

	if strings.HasPrefix(msg.Text, "/") {
		name, _, ok := ParseCommand(msg.Text, d.botUsername())
		if !ok {
			return nil
		}
		return d.handleCommand(ctx, c, chatType, name)
	}
	return d.handleMessage(ctx, c, chatType)
}

func (d *Dispatcher) handleCommand(ctx context.Context, c tele.Context, chatType core.ChatType, name string) error {
	userID, chatID := c.Sender().ID, c.Chat().ID
	groupAllowed := chatType != core.ChatGroup || d.admins.IsGroupAllowed(chatID)

	cmd, ok := d.Command(name)
	if !ok {
		if !groupAllowed {
			return nil
		}
		return d.suggest(c, name)
	}

	inv := Invocation{
		Kind:     KindCommand,
		Name:     cmd.Name,
		Module:   cmd.Module,
		UserID:   userID,
		ChatID:   chatID,
		ChatType: chatType,
		Start:    time.Now(),
	}
	defer func() { d.observe(&inv) }()

	ctx, span := d.tracer.Start(ctx, "command /"+cmd.Name, trace.WithAttributes(
		attribute.String("command.name", cmd.Name),
		attribute.String("command.module", cmd.Module),
		attribute.Int64("telegram.user_id", userID),
		attribute.Int64("telegram.chat_id", chatID),
	))
	defer func() {
		span.SetAttributes(attribute.String("command.outcome", string(inv.Outcome)))
		span.End()
	}()
	c.Set(contextKey, ctx)

	superAdmin := d.admins.IsSuperAdmin(userID)

	if !groupAllowed && !(superAdmin && cmd.BypassGroupGate) {
		inv.Outcome = OutcomeGroupDenied
		return c.Send(GroupNotAllowedMessage(chatID, superAdmin), tele.ModeMarkdown)
	}

	if !supports(cmd.ChatTypes, chatType) {
		inv.Outcome = OutcomeWrongChat
		return c.Send(WrongChatMessage(cmd.ChatTypes))
	}

	if !d.enabled(cmd.Module, chatID) {
		inv.Outcome = OutcomeDisabled
		return c.Send(DisabledMessage(cmd.Module))
	}

	if err := d.auth.Authorize(ctx, cmd.Level, userID, chatID, chatType); err != nil {
		inv.Outcome = OutcomeDenied
		d.logger.Info("command denied", "command", cmd.Name, "user_id", userID, "chat_id", chatID, "required", cmd.Level)
		d.audit.Log(security.AuditEvent{
			Type:    security.EventAccessDenied,
			UserID:  userID,
			ChatID:  chatID,
			Command: cmd.Name,
			Detail:  cmd.Level.String(),
		})
		return c.Send(DeniedMessage(cmd.Level))
	}

	if d.limiter != nil && !superAdmin {
		if err := d.limiter.Allow(userID); err != nil {
			inv.Outcome = OutcomeRateLimited
			d.audit.Log(security.AuditEvent{
				Type:    security.EventRateLimit,
				UserID:  userID,
				ChatID:  chatID,
				Command: cmd.Name,
			})
			return c.Send(MsgRateLimited)
		}
	}

	if err := d.invoke(c, cmd.Module, "/"+cmd.Name, cmd.Handler); err != nil {
		inv.Outcome = OutcomeError
		span.SetStatus(codes.Error, err.Error())
		return c.Send(MsgFailure)
	}
	inv.Outcome = OutcomeOK
	return nil
}

func (d *Dispatcher) suggest(c tele.Context, name string) error {
	d.mu.RLock()
	names := slices.Collect(maps.Keys(d.commands))
	d.mu.RUnlock()

	matches := Suggest(name, names)
	if len(matches) == 0 {
		return nil
	}
	return c.Send(SuggestionMessage(name, matches))
}

func (d *Dispatcher) handleMessage(ctx context.Context, c tele.Context, chatType core.ChatType) error {
	chatID := c.Chat().ID
	if chatType == core.ChatGroup && !d.admins.IsGroupAllowed(chatID) {
		return nil
	}

	d.mu.RLock()
	chain := slices.Clone(d.messages)
	d.mu.RUnlock()

	for _, h := range chain {
		if !supports(h.ChatTypes, chatType) || !d.enabled(h.Module, chatID) {
			continue
		}
		handled, err := d.invokeMessage(ctx, c, h)
		if err != nil {
			return c.Send(MsgFailure)
		}
		if handled {
			return nil
		}
	}
	return nil
}

func (d *Dispatcher) invokeMessage(ctx context.Context, c tele.Context, h *MessageHandler) (handled bool, err error) {
	_, span := d.tracer.Start(ctx, "message "+h.Module)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.logger.Error("message handler panicked", "module", h.Module, "error", err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	handled, err = h.Handler(c)
	if err != nil {
		d.logger.Error("message handler failed", "module", h.Module, "error", err)
		span.SetStatus(codes.Error, err.Error())
	}
	return handled, err
}

// invoke runs a command or callback handler, converting panics to errors.
func (d *Dispatcher) invoke(c tele.Context, module, name string, h tele.HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			d.logger.Error("handler failed", "handler", name, "module", module, "error", err)
		}
	}()
	return h(c)
}

// HandleCallback is the telebot OnCallback endpoint.
func (d *Dispatcher) HandleCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil || c.Sender() == nil {
		return nil
	}
	data := strings.TrimSpace(cb.Data)
	if data == format.NoopData || data == "" {
		return c.Respond()
	}

	prefix := CallbackPrefix(data)
	d.mu.RLock()
	entry, ok := d.callbacks[prefix]
	d.mu.RUnlock()
	if !ok {
		d.logger.Debug("no callback handler", "prefix", prefix)
		return c.Respond()
	}

	ctx, cancel := d.updateContext(c)
	defer cancel()

	userID := c.Sender().ID
	var chatID int64
	chatType := core.ChatPrivate
	if chat := c.Chat(); chat != nil {
		chatID = chat.ID
		chatType = ChatTypeOf(chat)
	}

	inv := Invocation{
		Kind:     KindCallback,
		Name:     entry.Prefix,
		Module:   entry.Module,
		UserID:   userID,
		ChatID:   chatID,
		ChatType: chatType,
		Start:    time.Now(),
	}
	defer func() { d.observe(&inv) }()

	ctx, span := d.tracer.Start(ctx, "callback "+entry.Prefix, trace.WithAttributes(
		attribute.String("callback.prefix", entry.Prefix),
		attribute.String("callback.module", entry.Module),
		attribute.Int64("telegram.user_id", userID),
	))
	defer span.End()
	c.Set(contextKey, ctx)

	alert := func(text string) error {
		return c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
	}

	switch {
	case chatType == core.ChatGroup && !d.admins.IsGroupAllowed(chatID):
		inv.Outcome = OutcomeGroupDenied
		return alert("⚠️ This group is not authorized to use this bot.")
	case !supports(entry.ChatTypes, chatType):
		inv.Outcome = OutcomeWrongChat
		return alert(WrongChatMessage(entry.ChatTypes))
	case !d.enabled(entry.Module, chatID):
		inv.Outcome = OutcomeDisabled
		return alert(DisabledMessage(entry.Module))
	}

	if err := d.auth.Authorize(ctx, entry.Level, userID, chatID, chatType); err != nil {
		inv.Outcome = OutcomeDenied
		d.audit.Log(security.AuditEvent{
			Type:    security.EventAccessDenied,
			UserID:  userID,
			ChatID:  chatID,
			Command: "callback:" + entry.Prefix,
		})
		return alert(DeniedMessage(entry.Level))
	}

	if err := d.invoke(c, entry.Module, "callback "+entry.Prefix, entry.Handler); err != nil {
		inv.Outcome = OutcomeError
		span.SetStatus(codes.Error, err.Error())
		return alert(MsgFailure)
	}
	inv.Outcome = OutcomeOK
	return nil
}

func (d *Dispatcher) observe(inv *Invocation) {
	inv.Duration = time.Since(inv.Start)
	d.mu.RLock()
	observers := d.observers
	d.mu.RUnlock()
	for _, o := range observers {
		o.Observe(*inv)
	}
}
