// Package metrics holds the Prometheus collectors for the real-time client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors shared by the transport, the connection
// manager and the broadcast streams. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	published   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	subscribers *prometheus.GaugeVec
	inbound     *prometheus.CounterVec
	malformed   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	invocations *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "broadcast",
			Name:      "published_total",
			Help:      "Events published on a broadcast stream.",
		}, []string{"stream"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Events evicted from a full subscriber buffer.",
		}, []string{"stream"}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "storefront",
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Currently attached subscribers.",
		}, []string{"stream"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Server-pushed events received, by endpoint and event name.",
		}, []string{"endpoint", "event"}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "realtime",
			Name:      "malformed_events_total",
			Help:      "Server-pushed events dropped because their payload could not be decoded.",
		}, []string{"endpoint", "event"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "transport",
			Name:      "state_transitions_total",
			Help:      "Transport session state transitions.",
		}, []string{"endpoint", "state"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "transport",
			Name:      "invocations_total",
			Help:      "Remote invocations, by method and outcome.",
		}, []string{"endpoint", "method", "outcome"}),
	}
	m.registry.MustRegister(
		m.published, m.dropped, m.subscribers,
		m.inbound, m.malformed,
		m.transitions, m.invocations,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Published counts one event published on stream.
func (m *Metrics) Published(stream string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(stream).Inc()
}

// Dropped counts one event evicted from a subscriber buffer on stream.
func (m *Metrics) Dropped(stream string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(stream).Inc()
}

// SubscriberDelta adjusts the subscriber gauge for stream.
func (m *Metrics) SubscriberDelta(stream string, delta int) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(stream).Add(float64(delta))
}

// Inbound counts one server-pushed event.
func (m *Metrics) Inbound(endpoint, event string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(endpoint, event).Inc()
}

// Malformed counts one undecodable server-pushed event.
func (m *Metrics) Malformed(endpoint, event string) {
	if m == nil {
		return
	}
	m.malformed.WithLabelValues(endpoint, event).Inc()
}

// Transition counts a transport state change.
func (m *Metrics) Transition(endpoint, state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(endpoint, state).Inc()
}

// Invocation counts a remote invocation attempt with its outcome
// ("sent", "dropped" or "failed").
func (m *Metrics) Invocation(endpoint, method, outcome string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(endpoint, method, outcome).Inc()
}
