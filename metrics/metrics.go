// Package metrics exposes Prometheus instrumentation for the chat service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so instrumentation stays optional.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal      *prometheus.CounterVec
	toolInvocations *prometheus.CounterVec
	streamEvents    *prometheus.CounterVec
	turnDuration    *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendchat_turns_total",
			Help: "Completed chat turns by mode and outcome.",
		}, []string{"mode", "outcome"}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendchat_tool_invocations_total",
			Help: "Tool invocations surfaced during turns, by tool name.",
		}, []string{"tool"}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendchat_stream_events_total",
			Help: "Streaming events emitted to clients, by type.",
		}, []string{"type"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trendchat_turn_duration_seconds",
			Help:    "Wall-clock duration of chat turns.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"mode"}),
	}
	registry.MustRegister(m.turnsTotal, m.toolInvocations, m.streamEvents, m.turnDuration)
	return m
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTurn(mode, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(mode, outcome).Inc()
	m.turnDuration.WithLabelValues(mode).Observe(seconds)
}

func (m *Metrics) ObserveToolInvocation(tool string) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(tool).Inc()
}

func (m *Metrics) ObserveStreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(eventType).Inc()
}
