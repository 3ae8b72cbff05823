package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const shutdownTimeout = 30 * time.Second

// App manages the lifecycle of the infrastructure components that back the
// bot (transport, scheduler, gateway, module manager). Bot modules themselves
// are handled by the module manager, which is one of these components.
type App struct {
	ctx        *AppContext
	components []component
	logger     *slog.Logger
}

type component struct {
	id      ModuleID
	module  Module
	started bool
}

// NewApp creates a new App with the given context.
func NewApp(ctx *AppContext) *App {
	return &App{
		ctx:    ctx,
		logger: ctx.Logger.With("component", "core"),
	}
}

// AppendModule adds an already-built component to the lifecycle.
// Components start in the order they are appended and stop in reverse.
func (a *App) AppendModule(id ModuleID, mod Module) {
	a.components = append(a.components, component{id: id, module: mod})
}

// Module returns the component registered under id.
func (a *App) Module(id ModuleID) (Module, bool) {
	for _, c := range a.components {
		if c.id == id {
			return c.module, true
		}
	}
	return nil, false
}

// Start starts all components that implement Starter, in order.
// If any Start() fails, already-started components are stopped in reverse order.
func (a *App) Start() error {
	for i := range a.components {
		c := &a.components[i]
		s, ok := c.module.(Starter)
		if !ok {
			c.started = true
			continue
		}
		a.logger.Info("starting component", "component_id", string(c.id))
		if err := s.Start(); err != nil {
			a.logger.Error("component start failed", "component_id", string(c.id), "error", err)
			a.stopFrom(i - 1)
			return fmt.Errorf("starting %s: %w", c.id, err)
		}
		c.started = true
	}
	a.logger.Info("all components started", "count", len(a.components))
	return nil
}

// Stop stops all started components in reverse order with a timeout.
func (a *App) Stop() {
	a.stopFrom(len(a.components) - 1)
}

func (a *App) stopFrom(index int) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := index; i >= 0; i-- {
		c := &a.components[i]
		if !c.started {
			continue
		}
		if s, ok := c.module.(Stopper); ok {
			a.logger.Info("stopping component", "component_id", string(c.id))
			if err := s.Stop(ctx); err != nil {
				a.logger.Error("component stop error", "component_id", string(c.id), "error", err)
			}
		}
		c.started = false
	}
}

// ReloadModules calls Reload on all components that implement Reloader.
// Returns a joined error if any component fails to reload.
func (a *App) ReloadModules(ctx *AppContext) error {
	var errs []error
	for i := range a.components {
		c := &a.components[i]
		r, ok := c.module.(Reloader)
		if !ok {
			continue
		}
		a.logger.Info("reloading component", "component_id", string(c.id))
		if err := r.Reload(ctx.ForModule(c.id)); err != nil {
			a.logger.Error("component reload failed", "component_id", string(c.id), "error", err)
			errs = append(errs, fmt.Errorf("reloading %s: %w", c.id, err))
		}
	}
	return errors.Join(errs...)
}
