// Package configtest builds config stores backed by temporary files.
package configtest

import (
	"path/filepath"
	"testing"

	"github.com/flemzord/modbot/internal/config"
)

// Token is a syntactically valid bot token for tests.
const Token = "100200300:TESTtokenTESTtokenTESTtokenTESTtoke"

// NoEnv is a lookup that never finds a variable.
func NoEnv(string) (string, bool) { return "", false }

// NewStore writes a valid config with the given super admins and allowed
// groups and opens a Store on it. The environment is ignored.
func NewStore(t testing.TB, admins []int64, groups ...int64) *config.Store {
	t.Helper()

	cfg := config.Default()
	cfg.Token = Token
	cfg.AdminIDs = admins
	for _, id := range groups {
		cfg.AllowedGroups[config.ChatKey(id)] = config.GroupInfo{AddedBy: admins[0]}
	}

	path := filepath.Join(t.TempDir(), "config.json")
	if err := config.Save(path, cfg); err != nil {
		t.Fatalf("saving test config: %v", err)
	}
	store, err := config.NewStore(path, config.StoreOptions{Lookup: NoEnv})
	if err != nil {
		t.Fatalf("opening test config: %v", err)
	}
	return store
}

// NewModulesStore opens an empty modules store in a temporary directory.
func NewModulesStore(t testing.TB) *config.ModulesStore {
	t.Helper()
	ms, err := config.NewModulesStore(filepath.Join(t.TempDir(), "modules.json"), nil)
	if err != nil {
		t.Fatalf("opening modules store: %v", err)
	}
	return ms
}
