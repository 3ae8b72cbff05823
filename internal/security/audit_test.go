package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAuditLogger_WritesJSONL(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	fixedTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	logger := NewAuditLogger(AuditLoggerConfig{
		Writer: &buf,
		Now:    func() time.Time { return fixedTime },
	})

	logger.Log(AuditEvent{
		Type:    EventGroupAdded,
		UserID:  111,
		ChatID:  -333,
		Command: "addgroup",
	})

	var got AuditEvent
	if err := json.NewDecoder(&buf).Decode(&got); err != nil {
		t.Fatalf("failed to decode JSONL: %v", err)
	}
	if got.Type != EventGroupAdded || got.UserID != 111 || got.ChatID != -333 {
		t.Errorf("event = %+v", got)
	}
	if got.ID == "" {
		t.Error("expected an event id")
	}
	if !got.Timestamp.Equal(fixedTime) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, fixedTime)
	}
}

func TestAuditLogger_RedactsDetail(t *testing.T) {
	t.Parallel()

	r := &Redactor{}
	r.SetLiterals("hunter2")

	var buf bytes.Buffer
	logger := NewAuditLogger(AuditLoggerConfig{Writer: &buf, Redactor: r})

	meta := map[string]string{"raw": "pw hunter2"}
	logger.Log(AuditEvent{Type: EventConfigReload, Detail: "token hunter2", Metadata: meta})

	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("secret leaked: %s", buf.String())
	}
	if meta["raw"] != "pw hunter2" {
		t.Error("caller metadata was mutated")
	}
}

func TestAuditLogger_OnEventOrder(t *testing.T) {
	t.Parallel()

	var types []EventType
	logger := NewAuditLogger(AuditLoggerConfig{
		OnEvent: func(e AuditEvent) { types = append(types, e.Type) },
	})

	logger.Log(AuditEvent{Type: EventModuleEnabled})
	logger.Log(AuditEvent{Type: EventModuleDisabled})

	if len(types) != 2 || types[0] != EventModuleEnabled || types[1] != EventModuleDisabled {
		t.Errorf("types = %v", types)
	}
}

func TestAuditLogger_Concurrent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewAuditLogger(AuditLoggerConfig{Writer: &buf})

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			logger.Log(AuditEvent{Type: EventAccessDenied})
		})
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 50 {
		t.Errorf("lines = %d, want 50", len(lines))
	}
}

func TestAuditLogger_Nil(t *testing.T) {
	t.Parallel()

	var logger *AuditLogger
	logger.Log(AuditEvent{Type: EventRateLimit})
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestAuditLogger_WriteErrors(t *testing.T) {
	t.Parallel()

	logger := NewAuditLogger(AuditLoggerConfig{Writer: failingWriter{}})
	logger.Log(AuditEvent{Type: EventGroupRemoved})
	logger.Log(AuditEvent{Type: EventGroupRemoved})

	if n := logger.WriteErrors(); n != 2 {
		t.Errorf("WriteErrors() = %d, want 2", n)
	}
}

func TestOpenAuditFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "data")
	f, err := OpenAuditFile(dir)
	if err != nil {
		t.Fatalf("OpenAuditFile: %v", err)
	}
	logger := NewAuditLogger(AuditLoggerConfig{Writer: f})
	logger.Log(AuditEvent{Type: EventConfigReload})
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, AuditFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"config_reload"`) {
		t.Errorf("audit file = %s", data)
	}
}
