package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/modbot/internal/config"
	"github.com/flemzord/modbot/internal/core"
)

// AppContextSetter receives the context modules are provisioned from.
// *module.Manager implements it.
type AppContextSetter interface {
	SetAppContext(app *core.AppContext)
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Config  *config.Store
	Modules *config.ModulesStore

	// App holds the infrastructure components notified through core.Reloader.
	App *core.App

	// Manager, if set, gets the fresh module configs for later (re)loads.
	Manager AppContextSetter

	Logger  *slog.Logger
	DataDir string
}

// Handler re-reads configuration from disk and propagates it.
type Handler struct {
	opts   HandlerOptions
	logger *slog.Logger
}

// NewHandler creates a reload handler.
func NewHandler(opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{opts: opts, logger: opts.Logger.With("component", "reload")}
}

// Reload re-reads config.json and modules.json, then calls Reload on every
// component implementing core.Reloader. An invalid config.json leaves the
// running configuration untouched and nothing else is reloaded.
func (h *Handler) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}

	if err := h.opts.Config.Reload(); err != nil {
		return fmt.Errorf("reloading config: %w", err)
	}

	var errs []error
	if h.opts.Modules != nil {
		if err := h.opts.Modules.Reload(); err != nil {
			errs = append(errs, fmt.Errorf("reloading modules config: %w", err))
		}
	}

	appCtx := core.NewAppContext(h.opts.Logger, h.opts.DataDir)
	if h.opts.Modules != nil {
		appCtx = appCtx.WithModuleConfigs(h.opts.Modules.ModuleConfigNodes())
	}
	if h.opts.Manager != nil {
		h.opts.Manager.SetAppContext(appCtx)
	}
	if h.opts.App != nil {
		if err := h.opts.App.ReloadModules(appCtx); err != nil {
			errs = append(errs, fmt.Errorf("reloading components: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	h.logger.Info("configuration reloaded successfully")
	return nil
}

// HandleEvent reloads in response to a watcher event, logging failures.
func (h *Handler) HandleEvent(ctx context.Context, ev Event) {
	h.logger.Info("configuration file changed", "path", ev.Path)
	if err := h.Reload(ctx); err != nil {
		h.logger.Error("reload failed, keeping current configuration", "path", ev.Path, "error", err)
	}
}
