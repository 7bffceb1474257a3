package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
)

const seedDoc = `
graphs:
  - scope: {tenant_id: t1, project_id: p1, graph_id: support}
    config:
      default_agent_id: router
      max_transfers: 5
      models: {summarizer: fast}
      status_updates:
        enabled: true
        num_events: 3
        time_in_seconds: 10
        status_components:
          - type: progress
            description: What the agents found so far
agents:
  - id: router
    name: Router
  - id: billing
    name: Billing
    models: {base: smart}
components:
  - type: document
    description: A retrieved document
    properties:
      title: {type: string, inPreview: true}
      body: {type: string}
`

func TestLoadYAML(t *testing.T) {
	seed, err := LoadYAML(strings.NewReader(seedDoc))
	require.NoError(t, err)

	require.Len(t, seed.Graphs, 1)
	g := seed.Graphs[0]
	assert.Equal(t, "support", g.Config.ID)
	assert.Equal(t, "router", g.Config.DefaultAgentID)
	require.NotNil(t, g.Config.StatusUpdates)
	assert.Equal(t, 3, g.Config.StatusUpdates.NumEvents)
	assert.Equal(t, "progress", g.Config.StatusUpdates.Components[0].Type)

	require.Len(t, seed.Components, 1)
	assert.Equal(t, []string{"title"}, seed.Components[0].PreviewFields())

	m := NewMemoryStore()
	seed.ApplyMemory(m)
	cfg, err := m.GetGraphConfig(context.Background(), core.Scope{TenantID: "t1", ProjectID: "p1", GraphID: "support"})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.TransferLimit())
	agent, err := m.GetAgent(context.Background(), "billing")
	require.NoError(t, err)
	assert.Equal(t, "smart", agent.Models.Base)
}

func TestLoadYAML_UnknownField(t *testing.T) {
	_, err := LoadYAML(strings.NewReader("graphs: []\nunknown: 1\n"))
	assert.Error(t, err)
}

func TestLoadYAML_Empty(t *testing.T) {
	seed, err := LoadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, seed.Graphs)
}
