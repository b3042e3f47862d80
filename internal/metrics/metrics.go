// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Channel labels.
const (
	ChannelClient = "client"
	ChannelMaster = "master"
)

// Metrics holds every relay collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections     *prometheus.GaugeVec
	authentications *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	broadcasts      prometheus.Counter
	deliveries      *prometheus.CounterVec
}

// New registers the relay collectors, plus Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "synergy",
			Name:      "connections",
			Help:      "Open websocket connections by channel.",
		}, []string{"channel"}),
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synergy",
			Name:      "authentications_total",
			Help:      "Authentication attempts by channel and outcome.",
		}, []string{"channel", "result"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synergy",
			Name:      "dropped_messages_total",
			Help:      "Inbound frames dropped without a reply.",
		}, []string{"channel"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "synergy",
			Name:      "broadcasts_total",
			Help:      "Room broadcasts fanned out.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synergy",
			Name:      "broadcast_deliveries_total",
			Help:      "Per-recipient broadcast deliveries by outcome.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.connections,
		m.authentications,
		m.dropped,
		m.broadcasts,
		m.deliveries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened(channel string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(channel).Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed(channel string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(channel).Dec()
}

// Authentication records one authentication outcome.
func (m *Metrics) Authentication(channel string, ok bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if ok {
		result = "accepted"
	}
	m.authentications.WithLabelValues(channel, result).Inc()
}

// Dropped records one silently ignored frame.
func (m *Metrics) Dropped(channel string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(channel).Inc()
}

// Broadcast records a fan-out and its per-recipient outcomes.
func (m *Metrics) Broadcast(recipients, failed int) {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
	m.deliveries.WithLabelValues("ok").Add(float64(recipients - failed))
	m.deliveries.WithLabelValues("failed").Add(float64(failed))
}
