// Package metrics exposes sync core counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatsync"

// Metrics holds the counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	framesDecoded      prometheus.Counter
	framesMalformed    prometheus.Counter
	upsertsApplied     prometheus.Counter
	duplicatesDropped  prometheus.Counter
	reconnectsSched    prometheus.Counter
	reconnectsFailed   prometheus.Counter
	unauthorizedCloses prometheus.Counter
	profileLookups     *prometheus.CounterVec
}

// New creates a registry with every counter plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_decoded_total",
			Help: "Inbound protocol frames decoded, heartbeats excluded.",
		}),
		framesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_malformed_total",
			Help: "Inbound payload segments that failed to decode.",
		}),
		upsertsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "timeline_upserts_applied_total",
			Help: "Messages inserted or overwritten in a timeline.",
		}),
		duplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "timeline_duplicates_dropped_total",
			Help: "Messages dropped as duplicate deliveries.",
		}),
		reconnectsSched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_scheduled_total",
			Help: "Reconnect attempts scheduled after a lost connection.",
		}),
		reconnectsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_exhausted_total",
			Help: "Conversations that gave up after the attempt cap.",
		}),
		unauthorizedCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "unauthorized_closes_total",
			Help: "Connections closed as authorization failures.",
		}),
		profileLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "profile_lookups_total",
			Help: "User profile cache lookups by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.framesDecoded,
		m.framesMalformed,
		m.upsertsApplied,
		m.duplicatesDropped,
		m.reconnectsSched,
		m.reconnectsFailed,
		m.unauthorizedCloses,
		m.profileLookups,
	)
	return m
}

// Registry returns the underlying registry.
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

func (m *Metrics) FramesDecoded(n int) {
	if m != nil && n > 0 {
		m.framesDecoded.Add(float64(n))
	}
}

func (m *Metrics) FrameMalformed() {
	if m != nil {
		m.framesMalformed.Inc()
	}
}

func (m *Metrics) UpsertApplied(n int) {
	if m != nil && n > 0 {
		m.upsertsApplied.Add(float64(n))
	}
}

func (m *Metrics) DuplicateDropped(n int) {
	if m != nil && n > 0 {
		m.duplicatesDropped.Add(float64(n))
	}
}

func (m *Metrics) ReconnectScheduled() {
	if m != nil {
		m.reconnectsSched.Inc()
	}
}

func (m *Metrics) ReconnectExhausted() {
	if m != nil {
		m.reconnectsFailed.Inc()
	}
}

func (m *Metrics) UnauthorizedClose() {
	if m != nil {
		m.unauthorizedCloses.Inc()
	}
}

// ProfileLookup records a cache lookup; result is hit, miss, stale or placeholder.
func (m *Metrics) ProfileLookup(result string) {
	if m != nil {
		m.profileLookups.WithLabelValues(result).Inc()
	}
}
