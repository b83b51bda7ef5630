// Package metrics exports Prometheus counters for the dialogue engine, the
// tool layer, and thread sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openhouse"

// Metrics holds the registered collectors. A nil *Metrics is valid and
// records nothing, so components can take one optionally.
type Metrics struct {
	registry *prometheus.Registry

	turns             *prometheus.CounterVec
	turnLatency       prometheus.Histogram
	interrupts        prometheus.Counter
	approvals         *prometheus.CounterVec
	toolCalls         *prometheus.CounterVec
	routingErrors     prometheus.Counter
	degenerateRetries prometheus.Counter
	activeSessions    prometheus.Gauge
	expiredSessions   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg gets a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{registry: reg}

	m.turns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "turns_total",
		Help:      "Dialogue turns by final status.",
	}, []string{"status"})

	m.turnLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "turn_duration_seconds",
		Help:      "Wall time of a single dialogue turn.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	m.interrupts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "interrupts_total",
		Help:      "Turns suspended at the approval gate.",
	})

	m.approvals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "approvals_total",
		Help:      "Approval gate resolutions by outcome.",
	}, []string{"outcome"})

	m.toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tools",
		Name:      "executions_total",
		Help:      "Tool executions by tool and outcome.",
	}, []string{"tool", "outcome"})

	m.routingErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "routing_errors_total",
		Help:      "Turns abandoned because a router saw an unknown tool call.",
	})

	m.degenerateRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "degenerate_retries_total",
		Help:      "Agent re-prompts after empty output.",
	})

	m.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "active",
		Help:      "Threads currently held in the session map.",
	})

	m.expiredSessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "closed_total",
		Help:      "Threads torn down by reason.",
	}, []string{"reason"})

	reg.MustRegister(
		m.turns, m.turnLatency, m.interrupts, m.approvals, m.toolCalls,
		m.routingErrors, m.degenerateRetries, m.activeSessions, m.expiredSessions,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records a finished turn.
func (m *Metrics) ObserveTurn(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(status).Inc()
	m.turnLatency.Observe(elapsed.Seconds())
}

// Interrupt counts a suspension at the approval gate.
func (m *Metrics) Interrupt() {
	if m == nil {
		return
	}
	m.interrupts.Inc()
}

// Approval counts an approval resolution: approved, rejected, or expired.
func (m *Metrics) Approval(outcome string) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(outcome).Inc()
}

// ToolCall counts a tool execution.
func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// RoutingError counts an abandoned turn.
func (m *Metrics) RoutingError() {
	if m == nil {
		return
	}
	m.routingErrors.Inc()
}

// DegenerateRetry counts a re-prompt.
func (m *Metrics) DegenerateRetry() {
	if m == nil {
		return
	}
	m.degenerateRetries.Inc()
}

// SetActiveSessions updates the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// SessionClosed counts a torn-down thread.
func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.expiredSessions.WithLabelValues(reason).Inc()
}
