// Package core provides the module system foundation for modbot.
package core

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"
)

// AppContext carries what a module may use while it is being built: a
// logger, the data directory and its entry from module_configs.
type AppContext struct {
	// Logger is scoped to the module being provisioned.
	Logger *slog.Logger

	// DataDir is the root directory for persistent bot data.
	DataDir string

	base    *slog.Logger
	configs map[string]yaml.Node
}

// NewAppContext returns a root context. A nil logger means slog.Default.
func NewAppContext(logger *slog.Logger, dataDir string) *AppContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppContext{Logger: logger, DataDir: dataDir, base: logger}
}

// WithModuleConfigs returns a copy holding the raw module_configs entries,
// keyed by module name.
func (ctx *AppContext) WithModuleConfigs(configs map[string]yaml.Node) *AppContext {
	cp := *ctx
	cp.configs = configs
	return &cp
}

// ForModule returns a copy whose Logger is tagged with id.
func (ctx *AppContext) ForModule(id ModuleID) *AppContext {
	cp := *ctx
	cp.Logger = ctx.base.With("module", string(id))
	return &cp
}

// ModuleConfig returns the module_configs entry for id.
func (ctx *AppContext) ModuleConfig(id string) (*yaml.Node, bool) {
	node, ok := ctx.configs[id]
	if !ok {
		return nil, false
	}
	return &node, true
}

// LoadModule builds the registered module id and takes it through
// Configure, Provision and Validate, each only when implemented. Configure
// is skipped when module_configs has no entry for the module.
func (ctx *AppContext) LoadModule(id string) (Module, error) {
	info, ok := GetModule(id)
	if !ok {
		return nil, fmt.Errorf("unknown module: %s", id)
	}
	mod := info.New()

	if c, ok := mod.(Configurable); ok {
		if node, ok := ctx.ModuleConfig(id); ok {
			if err := c.Configure(node); err != nil {
				return nil, fmt.Errorf("configuring module %s: %w", id, err)
			}
		}
	}
	if p, ok := mod.(Provisioner); ok {
		if err := p.Provision(ctx.ForModule(info.ID)); err != nil {
			return nil, fmt.Errorf("provisioning module %s: %w", id, err)
		}
	}
	if v, ok := mod.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("validating module %s: %w", id, err)
		}
	}
	return mod, nil
}
