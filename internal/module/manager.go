package module

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/modbot/internal/config"
	"github.com/flemzord/modbot/internal/core"
	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/event"
	"github.com/flemzord/modbot/internal/session"
	"github.com/flemzord/modbot/internal/state"
)

// Deps are the shared services every module Interface is built on.
type Deps struct {
	Logger     *slog.Logger
	App        *core.AppContext
	Dispatcher *dispatch.Dispatcher
	Bus        *event.Bus
	Sessions   *session.Manager
	State      *state.Manager
	Config     *config.Store

	// Sender is optional; modules must handle a nil Bot().
	Sender Sender
}

// LoadedModule describes a loaded module.
type LoadedModule struct {
	Info     core.ModuleInfo
	LoadedAt time.Time
	Plugin   Plugin

	iface *Interface
}

// Registrations returns what the module currently owns.
func (l LoadedModule) Registrations() Registrations { return l.iface.Registrations() }

// Manager loads, unloads and reloads bot modules. Load order is kept so
// UnloadAll can tear down dependents before their dependencies.
type Manager struct {
	mu     sync.Mutex
	deps   Deps
	loaded map[string]*LoadedModule
	order  []string
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a Manager.
func NewManager(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.App == nil {
		deps.App = core.NewAppContext(deps.Logger, "")
	}
	return &Manager{
		deps:   deps,
		loaded: make(map[string]*LoadedModule),
		logger: deps.Logger.With("component", "module"),
		now:    time.Now,
	}
}

// SetSender installs the message sender once the bot exists. Modules
// loaded afterwards see it through Bot().
func (m *Manager) SetSender(s Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps.Sender = s
}

// SetAppContext replaces the context modules are provisioned from, e.g.
// after module_configs changed.
func (m *Manager) SetAppContext(app *core.AppContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps.App = app
}

// Load loads name and, first, any dependency not loaded yet.
func (m *Manager) Load(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(name, nil)
}

func (m *Manager) loadLocked(name string, chain []string) error {
	if _, ok := m.loaded[name]; ok {
		return fmt.Errorf("%w: %s is already loaded", ErrModuleLoad, name)
	}
	if slices.Contains(chain, name) {
		return fmt.Errorf("%w: dependency cycle %v -> %s", ErrModuleLoad, chain, name)
	}

	info, ok := core.GetModule(name)
	if !ok {
		return fmt.Errorf("%w: %w: %s", ErrModuleLoad, ErrUnknownModule, name)
	}
	if err := info.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrModuleLoad, err)
	}

	chain = append(chain, name)
	for _, dep := range info.Dependencies {
		if _, ok := m.loaded[string(dep)]; ok {
			continue
		}
		if err := m.loadLocked(string(dep), chain); err != nil {
			return fmt.Errorf("%w: %s needs %s: %w", ErrModuleLoad, name, dep, err)
		}
	}

	mod, err := m.deps.App.LoadModule(name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModuleLoad, err)
	}
	plugin, ok := mod.(Plugin)
	if !ok {
		return fmt.Errorf("%w: %s does not implement Setup and Cleanup", ErrModuleLoad, name)
	}

	deps := m.deps
	iface := newInterface(&deps, info, m.deps.Logger.With("module", name))

	if s, ok := plugin.(Stateful); ok {
		if err := s.RestoreState(iface); err != nil {
			m.logger.Warn("module state not restored", "module", name, "error", err)
		}
	}

	if err := setup(plugin, iface); err != nil {
		iface.discard()
		return fmt.Errorf("%w: %s setup: %w", ErrModuleLoad, name, err)
	}

	m.loaded[name] = &LoadedModule{Info: info, LoadedAt: m.now(), Plugin: plugin, iface: iface}
	m.order = append(m.order, name)

	reg := iface.Registrations()
	m.logger.Info("module loaded",
		"module", name,
		"version", info.Version,
		"commands", len(reg.Commands),
		"callbacks", len(reg.Callbacks),
	)
	return nil
}

func setup(p Plugin, iface *Interface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Setup(iface)
}

func cleanup(p Plugin, iface *Interface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Cleanup(iface)
}

// Unload runs the module's Cleanup and removes everything it registered.
// It refuses while another loaded module depends on name.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadLocked(name)
}

func (m *Manager) unloadLocked(name string) error {
	lm, ok := m.loaded[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, name)
	}
	if users := m.dependentsLocked(name); len(users) > 0 {
		return fmt.Errorf("%w: %s is required by %v", ErrInUse, name, users)
	}

	if s, ok := lm.Plugin.(Stateful); ok {
		if snap := s.SnapshotState(); snap != nil {
			if err := lm.iface.SaveState(snap); err != nil {
				m.logger.Warn("module state not saved", "module", name, "error", err)
			}
		}
	}

	if err := cleanup(lm.Plugin, lm.iface); err != nil {
		m.logger.Error("module cleanup failed", "module", name, "error", err)
	}
	lm.iface.discard()

	delete(m.loaded, name)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
	m.logger.Info("module unloaded", "module", name)
	return nil
}

// Dependents returns the loaded modules that depend on name.
func (m *Manager) Dependents(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dependentsLocked(name)
}

func (m *Manager) dependentsLocked(name string) []string {
	var users []string
	for _, n := range m.order {
		if slices.Contains(m.loaded[n].Info.Dependencies, core.ModuleID(name)) {
			users = append(users, n)
		}
	}
	return users
}

// Reload unloads and loads name again.
func (m *Manager) Reload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.unloadLocked(name); err != nil {
		return err
	}
	return m.loadLocked(name, nil)
}

// LoadAll loads each module, isolating failures. Modules already loaded
// (for instance as a dependency) are skipped. Failures are logged and
// returned joined.
func (m *Manager) LoadAll(names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, name := range names {
		if _, ok := m.loaded[name]; ok {
			continue
		}
		if err := m.loadLocked(name, nil); err != nil {
			m.logger.Error("skipping module", "module", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UnloadAll unloads every module in reverse load order.
func (m *Manager) UnloadAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range slices.Backward(slices.Clone(m.order)) {
		if err := m.unloadLocked(name); err != nil {
			m.logger.Error("module unload failed", "module", name, "error", err)
		}
	}
}

// IsLoaded reports whether name is loaded.
func (m *Manager) IsLoaded(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loaded[name]
	return ok
}

// Info returns the loaded module's metadata.
func (m *Manager) Info(name string) (core.ModuleInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lm, ok := m.loaded[name]
	if !ok {
		return core.ModuleInfo{}, false
	}
	return lm.Info, true
}

// Loaded returns the loaded modules in load order.
func (m *Manager) Loaded() []LoadedModule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LoadedModule, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, *m.loaded[name])
	}
	return out
}

// Available returns the metadata of every registered module that is a
// Plugin, sorted by name.
func Available() []core.ModuleInfo {
	var out []core.ModuleInfo
	for _, info := range core.GetModules() {
		if info.New == nil {
			continue
		}
		if _, ok := info.New().(Plugin); ok {
			out = append(out, info)
		}
	}
	return out
}

// AvailableNames returns the names of Available modules.
func AvailableNames() []string {
	infos := Available()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = string(info.ID)
	}
	return names
}
