package core

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// registry holds every module compiled into the binary.
var registry = struct {
	sync.RWMutex
	byID map[ModuleID]ModuleInfo
}{byID: map[ModuleID]ModuleInfo{}}

// RegisterModule records instance's ModuleInfo. Modules call it from init().
// A missing ID or constructor, or a duplicate ID, is a programming error and
// panics; the rest of the metadata is checked when the module is loaded.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	switch {
	case info.ID == "":
		panic("core: module ID must not be empty")
	case info.New == nil:
		panic(fmt.Sprintf("core: module %s has no New function", info.ID))
	}

	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.byID[info.ID]; dup {
		panic(fmt.Sprintf("core: module %s registered twice", info.ID))
	}
	registry.byID[info.ID] = info
}

// GetModule looks up a registered module.
func GetModule(id string) (ModuleInfo, bool) {
	registry.RLock()
	defer registry.RUnlock()
	info, ok := registry.byID[ModuleID(id)]
	return info, ok
}

// GetModules returns every registered module, sorted by ID.
func GetModules() []ModuleInfo {
	registry.RLock()
	defer registry.RUnlock()
	return slices.SortedFunc(maps.Values(registry.byID), func(a, b ModuleInfo) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
}

// ResetRegistry forgets every registration. Tests that register throwaway
// modules call it around themselves.
func ResetRegistry() {
	registry.Lock()
	defer registry.Unlock()
	clear(registry.byID)
}
