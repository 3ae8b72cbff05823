package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flemzord/modbot/internal/security"
)

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testToken, http.StatusUnauthorized},
		{"lowercase scheme", "bearer " + testToken, http.StatusUnauthorized},
		{"valid", "Bearer " + testToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := &auditRecorder{}
			audit := security.NewAuditLogger(security.AuditLoggerConfig{OnEvent: rec.record})
			handler := authMiddleware(testToken, audit)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}

			events := rec.all()
			if tt.want == http.StatusOK {
				if len(events) != 0 {
					t.Fatalf("audit events = %d, want 0", len(events))
				}
				return
			}
			if len(events) != 1 {
				t.Fatalf("audit events = %d, want 1", len(events))
			}
			ev := events[0]
			if ev.Type != security.EventAuthFailure {
				t.Errorf("event type = %q", ev.Type)
			}
			if ev.Metadata["path"] != "/status" {
				t.Errorf("path metadata = %q", ev.Metadata["path"])
			}
		})
	}
}

func TestAuthMiddleware_NilAuditLogger(t *testing.T) {
	t.Parallel()

	handler := authMiddleware(testToken, nil)(http.NotFoundHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestConstantTimeEqual(t *testing.T) {
	t.Parallel()

	if !constantTimeEqual("abc", "abc") {
		t.Error("equal strings reported different")
	}
	if constantTimeEqual("abc", "abd") {
		t.Error("different strings reported equal")
	}
	if constantTimeEqual("abc", "abcd") {
		t.Error("different lengths reported equal")
	}
}
