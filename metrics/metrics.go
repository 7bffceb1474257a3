// Package metrics exposes Prometheus collectors for the execution runtime.
//
// A nil *Metrics is valid and records nothing, so components can hold one
// unconditionally:
//
//	m := metrics.New(prometheus.DefaultRegisterer)
//	eng := engine.New(store, transport, func(o *engine.Options) { o.Metrics = m })
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agentgraph"

// Turn outcomes used as the "outcome" label of TurnsTotal.
const (
	OutcomeCompleted       = "completed"
	OutcomeTransferLimit   = "transfer_limit"
	OutcomeErrorBudget     = "error_budget"
	OutcomePanic           = "panic"
	OutcomeCanceled        = "canceled"
	OutcomeTaskUnavailable = "task_unavailable"
)

// Metrics holds the runtime's collectors.
type Metrics struct {
	// TurnsTotal counts finished turns.
	// Labels: outcome
	TurnsTotal *prometheus.CounterVec

	// TurnDuration measures turn latency in seconds.
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	TurnDuration prometheus.Histogram

	// TransfersTotal counts agent hand-offs.
	TransfersTotal prometheus.Counter

	// DelegationsTotal counts delegated sub-tasks.
	DelegationsTotal prometheus.Counter

	// AgentErrorsTotal counts no-response and unrecognized responses.
	// Labels: kind (no_response|unrecognized|delegation)
	AgentErrorsTotal *prometheus.CounterVec

	// StatusUpdatesTotal counts summary events written to sinks.
	StatusUpdatesTotal prometheus.Counter

	// ArtifactsPending is the number of artifacts awaiting a generated name.
	ArtifactsPending prometheus.Gauge

	// ArtifactsDroppedTotal counts naming work rejected by backpressure.
	ArtifactsDroppedTotal prometheus.Counter

	// ArtifactNamingFailuresTotal counts artifacts that fell back to a
	// synthetic name.
	ArtifactNamingFailuresTotal prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Total number of executed turns by outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Duration of turns in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		TransfersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Total number of agent transfers",
		}),
		DelegationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Total number of delegated sub-tasks",
		}),
		AgentErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_errors_total",
				Help:      "Total number of agent errors counted against the error budget",
			},
			[]string{"kind"},
		),
		StatusUpdatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Total number of status update summaries emitted",
		}),
		ArtifactsPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifacts_pending",
			Help:      "Number of artifacts waiting for name generation",
		}),
		ArtifactsDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_dropped_total",
			Help:      "Total number of artifacts whose naming was dropped by backpressure",
		}),
		ArtifactNamingFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_naming_failures_total",
			Help:      "Total number of artifacts that received a fallback name",
		}),
	}
}

// TurnFinished records the outcome and duration of a turn.
func (m *Metrics) TurnFinished(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(seconds)
}

// Transfer records one agent hand-off.
func (m *Metrics) Transfer() {
	if m == nil {
		return
	}
	m.TransfersTotal.Inc()
}

// Delegation records one delegated sub-task.
func (m *Metrics) Delegation() {
	if m == nil {
		return
	}
	m.DelegationsTotal.Inc()
}

// AgentError records an error counted against the error budget.
func (m *Metrics) AgentError(kind string) {
	if m == nil {
		return
	}
	m.AgentErrorsTotal.WithLabelValues(kind).Inc()
}

// StatusUpdate records one emitted summary.
func (m *Metrics) StatusUpdate() {
	if m == nil {
		return
	}
	m.StatusUpdatesTotal.Inc()
}

// ArtifactPending adjusts the pending artifact gauge by delta.
func (m *Metrics) ArtifactPending(delta float64) {
	if m == nil {
		return
	}
	m.ArtifactsPending.Add(delta)
}

// ArtifactDropped records naming work rejected by backpressure.
func (m *Metrics) ArtifactDropped() {
	if m == nil {
		return
	}
	m.ArtifactsDroppedTotal.Inc()
}

// ArtifactNamingFailed records an artifact that fell back to a synthetic name.
func (m *Metrics) ArtifactNamingFailed() {
	if m == nil {
		return
	}
	m.ArtifactNamingFailuresTotal.Inc()
}
