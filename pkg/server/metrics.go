package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's prometheus instruments. Each server instance
// owns its own registry so multiple servers (tests) never collide on
// registration.
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal   prometheus.Counter
	activeSessions     prometheus.Gauge
	authAttempts       *prometheus.CounterVec
	messagesRouted     *prometheus.CounterVec
	presenceBroadcasts prometheus.Counter
}

// NewMetrics creates and registers the server's instruments.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_connections_total",
			Help: "Total number of accepted connections.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_active_sessions",
			Help: "Number of currently running sessions.",
		}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_auth_attempts_total",
			Help: "Authentication attempts by action and result.",
		}, []string{"action", "result"}),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_messages_routed_total",
			Help: "Private messages by routing outcome.",
		}, []string{"outcome"}),
		presenceBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatrelay_presence_broadcasts_total",
			Help: "Number of ONLINE_UPDATE broadcasts sent.",
		}),
	}

	registry.MustRegister(
		m.connectionsTotal,
		m.activeSessions,
		m.authAttempts,
		m.messagesRouted,
		m.presenceBroadcasts,
	)

	return m
}

// Handler returns the HTTP handler serving this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordConnection tracks an accepted connection.
func (m *Metrics) RecordConnection() {
	m.connectionsTotal.Inc()
}

// RecordActiveSessions updates the active session gauge.
func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordAuthAttempt tracks one LOGIN or REGISTER outcome.
func (m *Metrics) RecordAuthAttempt(action, result string) {
	m.authAttempts.WithLabelValues(action, result).Inc()
}

// Routing outcomes for RecordMessageRouted.
const (
	routeDelivered   = "delivered" // persisted and delivered live
	routeStored      = "stored"    // persisted, recipient offline
	routeDroppedSelf = "dropped_self"
	routeFailed      = "failed" // persistence error
)

// RecordMessageRouted tracks one private-send outcome.
func (m *Metrics) RecordMessageRouted(outcome string) {
	m.messagesRouted.WithLabelValues(outcome).Inc()
}

// RecordPresenceBroadcast tracks one ONLINE_UPDATE broadcast.
func (m *Metrics) RecordPresenceBroadcast() {
	m.presenceBroadcasts.Inc()
}
