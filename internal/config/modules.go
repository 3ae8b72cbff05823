package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// ModulesConfig is the document stored in config/modules.json.
type ModulesConfig struct {
	// EnabledModules is the global list, used for private chats and for
	// groups without their own entry. It also decides what loads at startup.
	EnabledModules []string `json:"enabled_modules"`

	// GroupModules overrides the enabled list per group chat id.
	GroupModules map[string][]string `json:"group_modules"`

	// ModuleConfigs holds each module's own configuration document.
	ModuleConfigs map[string]json.RawMessage `json:"module_configs"`
}

func (m *ModulesConfig) applyDefaults() {
	if m.EnabledModules == nil {
		m.EnabledModules = []string{}
	}
	if m.GroupModules == nil {
		m.GroupModules = make(map[string][]string)
	}
	if m.ModuleConfigs == nil {
		m.ModuleConfigs = make(map[string]json.RawMessage)
	}
}

// ModulesStore is the mutex-guarded, persisted per-chat module switchboard.
type ModulesStore struct {
	mu     sync.RWMutex
	path   string
	doc    ModulesConfig
	exists bool
	logger *slog.Logger
}

// NewModulesStore loads path. A missing file yields an empty document that
// is written on the first change.
func NewModulesStore(path string, logger *slog.Logger) (*ModulesStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ModulesStore{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file.
func (s *ModulesStore) Reload() error {
	raw, err := os.ReadFile(s.path)
	var doc ModulesConfig
	exists := true
	switch {
	case errors.Is(err, fs.ErrNotExist):
		exists = false
	case err != nil:
		return fmt.Errorf("%w: reading %s: %w", ErrConfig, s.path, err)
	default:
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("%w: parsing %s: %w", ErrConfig, s.path, err)
		}
	}
	doc.applyDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.exists = exists
	return nil
}

// Exists reports whether the file was present at the last load. Without
// it every compiled-in module is enabled.
func (s *ModulesStore) Exists() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exists
}

// Enabled returns the global enabled list.
func (s *ModulesStore) Enabled() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.doc.EnabledModules)
}

// IsEnabledForChat reports whether module is switched on in chatID.
// Group chats (negative ids) use their own list when they have one.
func (s *ModulesStore) IsEnabledForChat(module string, chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.listFor(chatID), module)
}

// EnabledForChat returns the modules switched on in chatID.
func (s *ModulesStore) EnabledForChat(chatID int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.listFor(chatID))
}

func (s *ModulesStore) listFor(chatID int64) []string {
	if chatID < 0 {
		if list, ok := s.doc.GroupModules[ChatKey(chatID)]; ok {
			return list
		}
	}
	return s.doc.EnabledModules
}

// EnabledAnywhere reports whether module is on globally or in any group.
func (s *ModulesStore) EnabledAnywhere(module string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if slices.Contains(s.doc.EnabledModules, module) {
		return true
	}
	for _, list := range s.doc.GroupModules {
		if slices.Contains(list, module) {
			return true
		}
	}
	return false
}

// EnableForChat switches module on. For a group it creates the group's own
// list (seeded from the global list) on first use; for private chats it
// changes the global list. Returns false when it was already enabled.
func (s *ModulesStore) EnableForChat(module string, chatID int64) (bool, error) {
	return s.update(chatID, func(list []string) ([]string, bool) {
		if slices.Contains(list, module) {
			return list, false
		}
		return append(list, module), true
	})
}

// DisableForChat switches module off. Returns false when it was not enabled.
func (s *ModulesStore) DisableForChat(module string, chatID int64) (bool, error) {
	return s.update(chatID, func(list []string) ([]string, bool) {
		i := slices.Index(list, module)
		if i < 0 {
			return list, false
		}
		return slices.Delete(list, i, i+1), true
	})
}

// SetGlobal adds or removes module from the global enabled list.
func (s *ModulesStore) SetGlobal(module string, enabled bool) error {
	var err error
	if enabled {
		_, err = s.EnableForChat(module, 0)
	} else {
		_, err = s.DisableForChat(module, 0)
	}
	return err
}

// InitEnabled seeds the global list when the file does not exist yet.
func (s *ModulesStore) InitEnabled(modules []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exists {
		return nil
	}
	s.doc.EnabledModules = slices.Clone(modules)
	return s.saveLocked()
}

func (s *ModulesStore) update(chatID int64, fn func([]string) ([]string, bool)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	group := chatID < 0
	key := ChatKey(chatID)
	current := s.doc.EnabledModules
	if group {
		if list, ok := s.doc.GroupModules[key]; ok {
			current = list
		}
	}

	prevGlobal := s.doc.EnabledModules
	prevGroup, hadGroup := s.doc.GroupModules[key]

	next, changed := fn(slices.Clone(current))
	if !changed {
		return false, nil
	}
	if group {
		s.doc.GroupModules[key] = next
	} else {
		s.doc.EnabledModules = next
	}

	if err := s.saveLocked(); err != nil {
		s.doc.EnabledModules = prevGlobal
		if hadGroup {
			s.doc.GroupModules[key] = prevGroup
		} else {
			delete(s.doc.GroupModules, key)
		}
		return false, err
	}
	return true, nil
}

func (s *ModulesStore) saveLocked() error {
	data, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding modules config: %w", ErrConfig, err)
	}
	if err := writeAtomic(s.path, append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	s.exists = true
	return nil
}

// ModuleConfigNodes returns module_configs decoded as YAML nodes, the form
// core.Configurable expects. JSON is valid YAML, so each raw document
// decodes directly. Entries that fail to decode are logged and skipped.
func (s *ModulesStore) ModuleConfigNodes() map[string]yaml.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make(map[string]yaml.Node, len(s.doc.ModuleConfigs))
	for name, raw := range s.doc.ModuleConfigs {
		var doc yaml.Node
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			s.logger.Warn("invalid module config", "module", name, "error", err)
			continue
		}
		if len(doc.Content) == 0 {
			continue
		}
		nodes[name] = *doc.Content[0]
	}
	return nodes
}
