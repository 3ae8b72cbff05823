// Package module hosts bot modules. The Manager loads compiled-in modules
// from the core registry, hands each one an Interface, and tears down
// everything a module registered when it is unloaded.
package module

import (
	"context"
	"errors"

	"github.com/flemzord/modbot/internal/core"
)

var (
	// ErrModuleLoad wraps every failure to load a module.
	ErrModuleLoad = errors.New("module load failed")

	// ErrUnknownModule is returned for names missing from the registry.
	ErrUnknownModule = errors.New("unknown module")

	// ErrNotLoaded is returned when unloading a module that is not loaded.
	ErrNotLoaded = errors.New("module not loaded")

	// ErrInUse is returned when unloading a module other modules depend on.
	ErrInUse = errors.New("module in use")
)

// Plugin is a bot module. Setup registers commands, handlers and
// subscriptions through the Interface; Cleanup stops whatever the module
// started itself. Registrations are removed by the Manager after Cleanup.
type Plugin interface {
	core.Module
	Setup(iface *Interface) error
	Cleanup(iface *Interface) error
}

// Stateful modules keep state across unload and reload. SnapshotState is
// saved through the state manager before Cleanup; RestoreState runs before
// Setup on the next load.
type Stateful interface {
	SnapshotState() any
	RestoreState(iface *Interface) error
}

// Sender delivers messages outside of an update, e.g. from timers.
// The Telegram adapter implements it.
type Sender interface {
	Send(ctx context.Context, chatID int64, what any, opts ...any) error
}
