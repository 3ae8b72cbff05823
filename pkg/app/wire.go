package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/flemzord/modbot/internal/builtin"
	"github.com/flemzord/modbot/internal/config"
	"github.com/flemzord/modbot/internal/core"
	"github.com/flemzord/modbot/internal/cron"
	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/event"
	"github.com/flemzord/modbot/internal/gateway"
	"github.com/flemzord/modbot/internal/module"
	"github.com/flemzord/modbot/internal/reload"
	"github.com/flemzord/modbot/internal/security"
	"github.com/flemzord/modbot/internal/session"
	"github.com/flemzord/modbot/internal/state"
	"github.com/flemzord/modbot/internal/telegram"
	"github.com/flemzord/modbot/internal/telemetry"
	"github.com/flemzord/modbot/internal/usage"
)

const (
	backupRetention = 30 * 24 * time.Hour
	usageRetention  = 90 * 24 * time.Hour
)

// Bot is a fully wired bot, ready to Start.
type Bot struct {
	Logger     *slog.Logger
	Config     *config.Store
	Modules    *config.ModulesStore
	Dispatcher *dispatch.Dispatcher
	Manager    *module.Manager
	Bus        *event.Bus
	Sessions   *session.Manager
	Reloader   *reload.Handler

	app       *core.App
	paths     []string
	shutdowns []func(context.Context) error
}

// modulesComponent loads the startup modules once the transport is ready,
// picks up modules enabled in modules.json on reload and unloads everything
// on shutdown.
type modulesComponent struct {
	manager *module.Manager
	modules *config.ModulesStore
	logger  *slog.Logger
}

func (m *modulesComponent) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "modules"}
}

func (m *modulesComponent) Start() error {
	ids := config.ResolveStartupModules(m.modules, module.AvailableNames())
	if err := m.manager.LoadAll(ids); err != nil {
		m.logger.Warn("some modules failed to load", "error", err)
	}
	if !m.modules.Exists() {
		if err := m.modules.InitEnabled(ids); err != nil {
			return fmt.Errorf("writing initial modules file: %w", err)
		}
	}
	m.logger.Info("modules loaded", "count", len(m.manager.Loaded()))
	return nil
}

// Reload loads modules newly enabled in modules.json. Loaded modules are
// left alone; disabling one takes /unload or a restart.
func (m *modulesComponent) Reload(*core.AppContext) error {
	before := len(m.manager.Loaded())
	err := m.manager.LoadAll(config.ResolveStartupModules(m.modules, module.AvailableNames()))
	if added := len(m.manager.Loaded()) - before; added > 0 {
		m.logger.Info("modules loaded on reload", "count", added)
	}
	return err
}

func (m *modulesComponent) Stop(context.Context) error {
	m.manager.UnloadAll()
	return nil
}

type schedulerComponent struct{ *cron.Scheduler }

func (schedulerComponent) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "scheduler"}
}

type usageComponent struct{ *usage.Store }

func (usageComponent) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "usage"}
}

func (u usageComponent) Stop(context.Context) error { return u.Close() }

// wireParams are the resolved inputs of wire.
type wireParams struct {
	ConfigPath string
	DataDir    string
	APIURL     string
	Version    string
	UseKeyring bool
	LogOutput  io.Writer
	Lookup     config.LookupFunc
}

// wire builds every service and registers the lifecycle components in
// start order: usage log, scheduler, modules, gateway, Telegram polling.
func wire(ctx context.Context, p wireParams) (_ *Bot, err error) {
	if p.LogOutput == nil {
		p.LogOutput = os.Stderr
	}

	redactor := security.NewRedactor()
	level := new(slog.LevelVar)
	logger := security.NewLogger(p.LogOutput, level, redactor)

	store, err := config.NewStore(p.ConfigPath, config.StoreOptions{
		Logger:     logger,
		Lookup:     p.Lookup,
		UseKeyring: p.UseKeyring,
	})
	if err != nil {
		return nil, err
	}
	cfg := store.Snapshot()
	applyRuntimeConfig(cfg, level, redactor)
	store.OnChange(func(c *config.Config) { applyRuntimeConfig(c, level, redactor) })

	b := &Bot{Logger: logger, Config: store}
	defer func() {
		if err != nil {
			b.shutdown(context.Background())
		}
	}()

	if err := os.MkdirAll(p.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	auditFile, err := security.OpenAuditFile(p.DataDir)
	if err != nil {
		return nil, err
	}
	b.shutdowns = append(b.shutdowns, func(context.Context) error { return auditFile.Close() })
	audit := security.NewAuditLogger(security.AuditLoggerConfig{Writer: auditFile, Redactor: redactor})

	modulesPath := ModulesPath(p.ConfigPath)
	b.Modules, err = config.NewModulesStore(modulesPath, logger)
	if err != nil {
		return nil, err
	}
	b.paths = []string{p.ConfigPath, modulesPath}

	states, err := state.NewManager(filepath.Join(p.DataDir, "state"), state.Options{Logger: logger})
	if err != nil {
		return nil, err
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, p.Version, logger)
	if err != nil {
		return nil, err
	}
	b.shutdowns = append(b.shutdowns, shutdownTracing)

	metrics := gateway.NewMetrics()
	b.Sessions = session.NewManager(session.Options{})
	b.Bus = event.NewBus(event.Options{Logger: logger, Recorder: metrics})

	limiter := security.NewRateLimiter(cfg.RateLimit.CommandsPerMin)
	store.OnChange(func(c *config.Config) { limiter.SetLimit(c.RateLimit.CommandsPerMin) })

	usageLog, err := usage.Open(filepath.Join(p.DataDir, "usage.db"), logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = usageLog.Close()
		}
	}()

	bot, err := telegram.New(telegram.Options{
		Token:   cfg.Token,
		Network: cfg.Network,
		APIURL:  p.APIURL,
	}, logger)
	if err != nil {
		return nil, err
	}

	b.Dispatcher = dispatch.New(dispatch.Options{
		Logger:    logger,
		Admins:    store,
		Modules:   b.Modules,
		Resolver:  bot,
		Limiter:   limiter,
		Audit:     audit,
		Observers: []dispatch.Observer{metrics, usageLog},
	})
	b.Dispatcher.SetUsername(bot.Username())

	appCtx := core.NewAppContext(logger, p.DataDir).WithModuleConfigs(b.Modules.ModuleConfigNodes())
	b.app = core.NewApp(appCtx)
	b.Manager = module.NewManager(module.Deps{
		Logger:     logger,
		App:        appCtx,
		Dispatcher: b.Dispatcher,
		Bus:        b.Bus,
		Sessions:   b.Sessions,
		State:      states,
		Config:     store,
		Sender:     bot,
	})

	b.Reloader = reload.NewHandler(reload.HandlerOptions{
		Config:  store,
		Modules: b.Modules,
		App:     b.app,
		Manager: b.Manager,
		Logger:  logger,
		DataDir: p.DataDir,
	})

	scheduler := cron.NewScheduler(logger)
	jobs := []cron.Job{
		&cron.SessionPruneJob{Sessions: b.Sessions, Limiter: limiter, Logger: logger, ScheduleExpr: cfg.Cron.SessionPrune},
		&cron.BackupCleanupJob{State: states, MaxAge: retention(cfg.Cron.BackupRetention, backupRetention), Logger: logger, ScheduleExpr: cfg.Cron.BackupCleanup},
		&cron.UsagePruneJob{Usage: usageLog, Retention: usageRetention, Logger: logger, ScheduleExpr: cfg.Cron.UsagePrune},
	}
	for _, job := range jobs {
		if err := scheduler.RegisterJob(job); err != nil {
			return nil, fmt.Errorf("%w: cron: %w", config.ErrConfig, err)
		}
	}

	builtins := builtin.New(builtin.Options{
		Logger:     logger,
		Dispatcher: b.Dispatcher,
		Manager:    b.Manager,
		Config:     store,
		Modules:    b.Modules,
		Sessions:   b.Sessions,
		Bus:        b.Bus,
		Audit:      audit,
		Chats:      bot,
		Usage:      usageLog,
		Jobs:       scheduler,
		Reloader:   b.Reloader,
		Started:    time.Now(),
	})
	if err := builtins.Register(); err != nil {
		return nil, err
	}
	bot.Handle(telegram.Handlers{
		Text:         b.Dispatcher.HandleText,
		Callback:     b.Dispatcher.HandleCallback,
		MyChatMember: builtins.HandleMyChatMember,
	})
	if err := bot.SetCommands(builtins.CommandList()); err != nil {
		logger.Warn("command menu not published", "error", err)
	}

	b.app.AppendModule("usage", usageComponent{usageLog})
	b.app.AppendModule("scheduler", schedulerComponent{scheduler})
	b.app.AppendModule("modules", &modulesComponent{manager: b.Manager, modules: b.Modules, logger: logger})

	if cfg.Gateway.Bind != "" {
		metrics.Gauge("sessions_active", "Conversations with live session data.", func() float64 {
			return float64(b.Sessions.Len())
		})
		metrics.Gauge("modules_loaded", "Bot modules currently loaded.", func() float64 {
			return float64(len(b.Manager.Loaded()))
		})
		gw, err := gateway.New(gateway.Options{
			Config:     gateway.ConfigFrom(cfg.Gateway),
			Logger:     logger,
			Metrics:    metrics,
			Dispatcher: b.Dispatcher,
			Manager:    b.Manager,
			Sessions:   b.Sessions,
			Store:      store,
			Modules:    b.Modules,
			Bus:        b.Bus,
			Audit:      audit,
		})
		if err != nil {
			return nil, err
		}
		b.app.AppendModule(gateway.ModuleID, gw)
	}

	b.app.AppendModule(telegram.ModuleID, bot)

	logger.Info("bot wired",
		"username", bot.Username(),
		"admins", len(store.AdminIDs()),
		"allowed_groups", len(store.AllowedGroups()),
	)
	return b, nil
}

// applyRuntimeConfig pushes the settings that take effect without a restart.
func applyRuntimeConfig(cfg *config.Config, level *slog.LevelVar, redactor *security.Redactor) {
	if l, err := config.ParseLogLevel(cfg.LogLevel); err == nil {
		level.Set(l)
	}
	redactor.SetLiterals(cfg.Token, cfg.Gateway.BearerToken)
}

func retention(d config.Duration, def time.Duration) time.Duration {
	if d > 0 {
		return d.Std()
	}
	return def
}

// Start starts every component. On failure the started ones are stopped.
func (b *Bot) Start() error {
	return b.app.Start()
}

// Stop stops the components in reverse order, then drains the bus and
// flushes telemetry.
func (b *Bot) Stop(ctx context.Context) {
	b.app.Stop()
	if err := b.Bus.Wait(ctx); err != nil {
		b.Logger.Warn("event handlers still running at shutdown", "error", err)
	}
	b.shutdown(ctx)
}

func (b *Bot) shutdown(ctx context.Context) {
	var errs []error
	for _, fn := range b.shutdowns {
		errs = append(errs, fn(ctx))
	}
	b.shutdowns = nil
	if err := errors.Join(errs...); err != nil {
		b.Logger.Warn("shutdown incomplete", "error", err)
	}
}
