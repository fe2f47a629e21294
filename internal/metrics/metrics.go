// ABOUTME: Prometheus counters for handler runs, dispatches, broadcasts, and key reloads
// ABOUTME: Uses a private registry served by promhttp so tests and binaries never share globals

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nightlife"

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	handlerInvocations *prometheus.CounterVec
	dispatches         *prometheus.CounterVec
	broadcasts         *prometheus.CounterVec
	keyReloads         *prometheus.CounterVec
}

// New creates and registers all collectors, including Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		handlerInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_invocations_total",
			Help:      "Topic handler runs by topic and outcome (success, failure, timeout, error).",
		}, []string{"topic", "outcome"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Dispatches by terminal status and failing stage.",
		}, []string{"status", "stage"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Per-agent broadcast attempts by result.",
		}, []string{"result"}),
		keyReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_reloads_total",
			Help:      "Verification key reload attempts by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.handlerInvocations,
		m.dispatches,
		m.broadcasts,
		m.keyReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// HandlerInvoked counts a handler run.
func (m *Metrics) HandlerInvoked(topic, outcome string) {
	m.handlerInvocations.WithLabelValues(topic, outcome).Inc()
}

// DispatchFinished counts a dispatch. stage is empty for completed dispatches.
func (m *Metrics) DispatchFinished(status, stage string) {
	m.dispatches.WithLabelValues(status, stage).Inc()
}

// BroadcastFinished counts one agent delivery attempt.
func (m *Metrics) BroadcastFinished(ok bool) {
	m.broadcasts.WithLabelValues(result(ok)).Inc()
}

// KeyReloaded counts a verification key reload.
func (m *Metrics) KeyReloaded(ok bool) {
	m.keyReloads.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
