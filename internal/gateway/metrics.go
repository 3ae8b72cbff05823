package gateway

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/modbot/internal/dispatch"
	"github.com/flemzord/modbot/internal/event"
)

var (
	_ dispatch.Observer = (*Metrics)(nil)
	_ event.Recorder    = (*Metrics)(nil)
)

// Metrics exports dispatcher and event bus activity to Prometheus and keeps
// a few lock-free totals for /status.
type Metrics struct {
	registry *prometheus.Registry

	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	published   *prometheus.CounterVec
	handled     *prometheus.CounterVec

	commands  atomic.Int64
	callbacks atomic.Int64
	errors    atomic.Int64
	denied    atomic.Int64
	events    atomic.Int64
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modbot",
			Name:      "invocations_total",
			Help:      "Commands and callbacks routed by the dispatcher.",
		}, []string{"kind", "name", "module", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modbot",
			Name:      "invocation_duration_seconds",
			Help:      "Handler latency of routed commands and callbacks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "module"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modbot",
			Name:      "events_published_total",
			Help:      "Events published on the bus.",
		}, []string{"event"}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modbot",
			Name:      "event_handlers_total",
			Help:      "Event handler runs by result.",
		}, []string{"event", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.invocations, m.duration, m.published, m.handled,
	)
	return m
}

// Registry exposes the registry so other components can add collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Gauge registers a gauge read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "modbot",
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe records a finished command or callback.
func (m *Metrics) Observe(inv dispatch.Invocation) {
	m.invocations.WithLabelValues(inv.Kind, inv.Name, inv.Module, string(inv.Outcome)).Inc()

	switch inv.Kind {
	case dispatch.KindCallback:
		m.callbacks.Add(1)
	default:
		m.commands.Add(1)
	}

	switch inv.Outcome {
	case dispatch.OutcomeOK:
		m.duration.WithLabelValues(inv.Kind, inv.Module).Observe(inv.Duration.Seconds())
	case dispatch.OutcomeError:
		m.errors.Add(1)
		m.duration.WithLabelValues(inv.Kind, inv.Module).Observe(inv.Duration.Seconds())
	case dispatch.OutcomeDenied, dispatch.OutcomeGroupDenied:
		m.denied.Add(1)
	}
}

// EventPublished records a publish and its subscriber count.
func (m *Metrics) EventPublished(name string, _ int) {
	m.events.Add(1)
	m.published.WithLabelValues(name).Inc()
}

// EventHandled records one handler run.
func (m *Metrics) EventHandled(name string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.handled.WithLabelValues(name, result).Inc()
}

// Snapshot returns a point-in-time view of the totals.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Commands:  m.commands.Load(),
		Callbacks: m.callbacks.Load(),
		Errors:    m.errors.Load(),
		Denied:    m.denied.Load(),
		Events:    m.events.Load(),
	}
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Commands  int64 `json:"commands"`
	Callbacks int64 `json:"callbacks"`
	Errors    int64 `json:"errors"`
	Denied    int64 `json:"denied"`
	Events    int64 `json:"events"`
}
