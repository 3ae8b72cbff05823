package gateway

import (
	"encoding/json"
	"net/http"
	"slices"
	"testing"
)

func TestHealth(t *testing.T) {
	f := newFixture(t, Config{BearerToken: testToken})

	rec := f.get(t, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if !slices.Equal(resp.Modules, []string{"ping"}) {
		t.Errorf("modules = %v", resp.Modules)
	}
}

func TestHealth_DegradedWhenEnabledModuleMissing(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.modules.EnableForChat("weather", 0); err != nil {
		t.Fatal(err)
	}

	rec := f.get(t, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
}

func TestHealth_NoDependencies(t *testing.T) {
	t.Parallel()

	gw, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{gw: gw}
	rec := f.get(t, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
