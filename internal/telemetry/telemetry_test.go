package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/flemzord/modbot/internal/config"
	"github.com/flemzord/modbot/internal/event"
)

func TestSetup_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, "1.0.0", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Error("global provider replaced without an endpoint")
	}
}

func TestSetup_Enabled(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	cfg := config.TelemetryConfig{Endpoint: "http://127.0.0.1:4318/v1/traces", Insecure: true}
	shutdown, err := Setup(context.Background(), cfg, "1.0.0", nil)
	if err != nil {
		t.Fatal(err)
	}
	if otel.GetTracerProvider() == before {
		t.Error("global provider not installed")
	}

	// Nothing was recorded, so shutdown does not reach the collector.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestExporterOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  config.TelemetryConfig
		want int
	}{
		{config.TelemetryConfig{Endpoint: "collector:4318"}, 1},
		{config.TelemetryConfig{Endpoint: "collector:4318", Insecure: true}, 2},
		{config.TelemetryConfig{Endpoint: "https://otel.example.com/v1/traces"}, 1},
	}
	for _, tt := range tests {
		if got := len(exporterOptions(tt.cfg)); got != tt.want {
			t.Errorf("exporterOptions(%+v) = %d options, want %d", tt.cfg, got, tt.want)
		}
	}
}

func TestNewProvider_RecordsBusSpans(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := NewProvider(rec, "", "2.0.0")
	defer func() { _ = tp.Shutdown(context.Background()) }()

	bus := event.NewBus(event.Options{Tracer: tp.Tracer("test")})
	bus.Subscribe("group.added", func(context.Context, event.Event) error { return nil }, event.WithOwner("audit"))
	bus.PublishAndWait(context.Background(), "group.added", nil, "core", time.Second)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "event group.added" {
		t.Errorf("span name = %q", spans[0].Name())
	}

	attrs := spans[0].Resource().Attributes()
	want := map[attribute.Key]string{"service.name": DefaultServiceName, "service.version": "2.0.0"}
	for _, kv := range attrs {
		if v, ok := want[kv.Key]; ok && kv.Value.AsString() != v {
			t.Errorf("%s = %q, want %q", kv.Key, kv.Value.AsString(), v)
		}
		delete(want, kv.Key)
	}
	if len(want) != 0 {
		t.Errorf("missing resource attributes %v", want)
	}
}
