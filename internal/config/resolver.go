package config

import "slices"

// ResolveStartupModules returns the modules to load at startup, in a
// deterministic order: the enabled list order, keeping only modules that are
// compiled in. Without a modules file every available module is loaded.
func ResolveStartupModules(ms *ModulesStore, available []string) []string {
	if !ms.Exists() {
		ids := slices.Clone(available)
		slices.Sort(ids)
		return ids
	}

	var ids []string
	for _, name := range ms.Enabled() {
		if slices.Contains(available, name) && !slices.Contains(ids, name) {
			ids = append(ids, name)
		}
	}
	return ids
}
