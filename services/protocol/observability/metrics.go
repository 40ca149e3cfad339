// Copyright (C) 2025 Crucible Labs (oss@crucible-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the protocol core.
//
// # Description
//
// Metrics cover the two operational surfaces worth watching in production:
//   - Ledger writes (appends, supersessions, invalidations by category)
//   - Blocking episodes (entered, resolved, timed out; resolution latency)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "crucible"

// Subsystem for protocol metrics
const protocolSubsystem = "protocol"

// ProtocolMetrics holds all Prometheus metrics for the protocol core.
//
// Initialize once at startup via InitMetrics(); registering twice panics
// because promauto uses the default registry.
type ProtocolMetrics struct {
	// DecisionsTotal counts ledger writes.
	// Labels: operation (append, supersede, invalidate), category
	DecisionsTotal *prometheus.CounterVec

	// BlockingEpisodesTotal counts blocking episodes by terminal outcome.
	// Labels: phase, outcome (resolved, timeout_default, timeout_fail, escalated)
	BlockingEpisodesTotal *prometheus.CounterVec

	// BlockingResolutionSeconds measures time from blocked to resolved.
	// Labels: phase
	BlockingResolutionSeconds *prometheus.HistogramVec

	// ActiveBlocked tracks sessions currently paused on a blocking query.
	ActiveBlocked prometheus.Gauge

	// PhaseTransitionsTotal counts phase advances.
	// Labels: from, to
	PhaseTransitionsTotal *prometheus.CounterVec

	// SessionFailuresTotal counts terminal session failures.
	// Labels: phase, code
	SessionFailuresTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of ProtocolMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *ProtocolMetrics

// InitMetrics creates and registers all protocol metrics. Call once at
// startup.
//
// # Outputs
//
//   - *ProtocolMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *ProtocolMetrics {
	DefaultMetrics = &ProtocolMetrics{
		DecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: protocolSubsystem,
				Name:      "decisions_total",
				Help:      "Total ledger writes by operation and category",
			},
			[]string{"operation", "category"},
		),

		BlockingEpisodesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: protocolSubsystem,
				Name:      "blocking_episodes_total",
				Help:      "Total blocking episodes by phase and terminal outcome",
			},
			[]string{"phase", "outcome"},
		),

		BlockingResolutionSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: protocolSubsystem,
				Name:      "blocking_resolution_seconds",
				Help:      "Time from entering blocked to resolution in seconds",
				Buckets:   []float64{1, 10, 60, 300, 900, 3600, 14400, 86400},
			},
			[]string{"phase"},
		),

		ActiveBlocked: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: protocolSubsystem,
				Name:      "active_blocked",
				Help:      "Sessions currently paused on a blocking query",
			},
		),

		PhaseTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: protocolSubsystem,
				Name:      "phase_transitions_total",
				Help:      "Total phase advances by origin and destination",
			},
			[]string{"from", "to"},
		),

		SessionFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: protocolSubsystem,
				Name:      "session_failures_total",
				Help:      "Total terminal session failures by phase and code",
			},
			[]string{"phase", "code"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Outcome Labels
// =============================================================================

// Outcome labels a blocking episode's terminal result for metrics.
type Outcome string

const (
	// OutcomeResolved is a normal human resolution.
	OutcomeResolved Outcome = "resolved"

	// OutcomeTimeoutDefault is a timeout handled by applying a default.
	OutcomeTimeoutDefault Outcome = "timeout_default"

	// OutcomeTimeoutFail is a timeout that failed the phase.
	OutcomeTimeoutFail Outcome = "timeout_fail"

	// OutcomeEscalated is a timeout surfaced for escalation.
	OutcomeEscalated Outcome = "escalated"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordDecision records a ledger write. Nil-safe so callers can run without
// metrics wired.
func (m *ProtocolMetrics) RecordDecision(operation, category string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(operation, category).Inc()
}

// BlockingStarted increments the active-blocked gauge.
func (m *ProtocolMetrics) BlockingStarted() {
	if m == nil {
		return
	}
	m.ActiveBlocked.Inc()
}

// BlockingEnded records a terminal blocking outcome and the episode duration.
func (m *ProtocolMetrics) BlockingEnded(phase string, outcome Outcome, duration time.Duration) {
	if m == nil {
		return
	}
	m.ActiveBlocked.Dec()
	m.BlockingEpisodesTotal.WithLabelValues(phase, string(outcome)).Inc()
	if outcome != OutcomeEscalated {
		m.BlockingResolutionSeconds.WithLabelValues(phase).Observe(duration.Seconds())
	}
}

// RecordPhaseTransition records a phase advance.
func (m *ProtocolMetrics) RecordPhaseTransition(from, to string) {
	if m == nil {
		return
	}
	m.PhaseTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordFailure records a terminal session failure.
func (m *ProtocolMetrics) RecordFailure(phase, code string) {
	if m == nil {
		return
	}
	m.SessionFailuresTotal.WithLabelValues(phase, code).Inc()
}
