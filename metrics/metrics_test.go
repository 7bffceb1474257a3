package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.TurnFinished(OutcomeCompleted, 1)
		m.Transfer()
		m.Delegation()
		m.AgentError("no_response")
		m.StatusUpdate()
		m.ArtifactPending(1)
		m.ArtifactDropped()
		m.ArtifactNamingFailed()
	})
}

func TestTurnFinished(t *testing.T) {
	m := New(nil)

	m.TurnFinished(OutcomeCompleted, 0.2)
	m.TurnFinished(OutcomeCompleted, 0.4)
	m.TurnFinished(OutcomeErrorBudget, 1)

	expected := `
		# HELP agentgraph_turns_total Total number of executed turns by outcome
		# TYPE agentgraph_turns_total counter
		agentgraph_turns_total{outcome="completed"} 2
		agentgraph_turns_total{outcome="error_budget"} 1
	`
	require.NoError(t, testutil.CollectAndCompare(m.TurnsTotal, strings.NewReader(expected)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TurnDuration))
}

func TestCountersAndGauge(t *testing.T) {
	m := New(nil)

	m.Transfer()
	m.Transfer()
	m.Delegation()
	m.AgentError("no_response")
	m.AgentError("no_response")
	m.AgentError("unrecognized")
	m.StatusUpdate()
	m.ArtifactPending(1)
	m.ArtifactPending(1)
	m.ArtifactPending(-1)
	m.ArtifactDropped()
	m.ArtifactNamingFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransfersTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DelegationsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AgentErrorsTotal.WithLabelValues("no_response")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentErrorsTotal.WithLabelValues("unrecognized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusUpdatesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArtifactsPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArtifactsDroppedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArtifactNamingFailuresTotal))
}

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Transfer()

	n, err := testutil.GatherAndCount(reg, "agentgraph_transfers_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Panics(t, func() { New(reg) }, "duplicate registration must panic")
}
