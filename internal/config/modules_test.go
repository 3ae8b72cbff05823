package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestModulesStore_PerChat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modules.json")
	body := `{
		"enabled_modules": ["echo", "reminder"],
		"group_modules": {"-100": ["echo"]},
		"module_configs": {"reminder": {"max_pending": 3}}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := NewModulesStore(path, nil)
	if err != nil {
		t.Fatalf("NewModulesStore: %v", err)
	}

	tests := []struct {
		module string
		chatID int64
		want   bool
	}{
		{"reminder", 42, true},    // private chat uses global list
		{"reminder", -100, false}, // group has its own list
		{"echo", -100, true},
		{"reminder", -200, true}, // group without entry falls back to global
	}
	for _, tt := range tests {
		if got := s.IsEnabledForChat(tt.module, tt.chatID); got != tt.want {
			t.Errorf("IsEnabledForChat(%s, %d) = %v, want %v", tt.module, tt.chatID, got, tt.want)
		}
	}

	changed, err := s.EnableForChat("reminder", -100)
	if err != nil || !changed {
		t.Fatalf("EnableForChat = %v, %v", changed, err)
	}
	changed, _ = s.EnableForChat("reminder", -100)
	if changed {
		t.Error("enabling twice should report no change")
	}

	changed, err = s.DisableForChat("echo", -200)
	if err != nil || !changed {
		t.Fatalf("DisableForChat = %v, %v", changed, err)
	}
	if s.IsEnabledForChat("echo", -200) {
		t.Error("echo should be off in -200")
	}
	if !s.IsEnabledForChat("echo", 42) {
		t.Error("disabling in a group must not touch the global list")
	}

	reloaded, err := NewModulesStore(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(reloaded.EnabledForChat(-100), []string{"echo", "reminder"}) {
		t.Errorf("persisted -100 list = %v", reloaded.EnabledForChat(-100))
	}

	if s.EnabledAnywhere("ghost") {
		t.Error("unknown module reported enabled")
	}
	if _, err := s.DisableForChat("echo", 42); err != nil {
		t.Fatal(err)
	}
	if !s.EnabledAnywhere("echo") {
		t.Error("echo is still on in -100")
	}
	if _, err := s.DisableForChat("echo", -100); err != nil {
		t.Fatal(err)
	}
	if s.EnabledAnywhere("echo") {
		t.Error("echo is off everywhere")
	}

	nodes := s.ModuleConfigNodes()
	node, ok := nodes["reminder"]
	if !ok {
		t.Fatal("expected reminder config node")
	}
	var parsed struct {
		MaxPending int `yaml:"max_pending"`
	}
	if err := node.Decode(&parsed); err != nil || parsed.MaxPending != 3 {
		t.Errorf("decoded = %+v, %v", parsed, err)
	}
}

func TestResolveStartupModules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modules.json")
	s, err := NewModulesStore(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	available := []string{"reminder", "echo"}
	if got := ResolveStartupModules(s, available); !slices.Equal(got, []string{"echo", "reminder"}) {
		t.Errorf("without file = %v", got)
	}

	if err := s.InitEnabled([]string{"reminder", "ghost", "reminder"}); err != nil {
		t.Fatal(err)
	}
	if got := ResolveStartupModules(s, available); !slices.Equal(got, []string{"reminder"}) {
		t.Errorf("with file = %v", got)
	}
}
