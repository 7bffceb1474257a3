package agentgraph

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/artifact"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/engine"
	"github.com/hupe1980/agentgraph/internal/testutil"
	"github.com/hupe1980/agentgraph/store"
	"github.com/hupe1980/agentgraph/transport"
)

const seedYAML = `
graphs:
  - scope: {tenant_id: t1, project_id: p1, graph_id: support}
    config:
      default_agent_id: router
      max_transfers: 4
agents:
  - id: router
    name: Router
components:
  - type: document
    properties:
      title: {type: string, inPreview: true}
      url: {type: string}
`

func TestAgentGraph_SeedAndExecute(t *testing.T) {
	g := New()
	defer g.Close()

	seed, err := store.LoadYAML(strings.NewReader(seedYAML))
	require.NoError(t, err)
	require.NoError(t, g.ApplySeed(context.Background(), seed))

	local := g.Local()
	require.NotNil(t, local)
	local.Register("router", func(_ context.Context, msg core.OutboundMessage) (*core.AgentResponse, error) {
		requestID, _ := msg.Metadata[engine.MetaRequestID].(string)
		g.Engine().ToolResults().Record(requestID, artifact.ToolResult{
			ToolCallID: "call_1",
			ToolName:   "search_docs",
			Result:     map[string]any{"title": "Go", "url": "https://go.dev"},
		})
		return transport.Text(`See <artifact:create id="doc1" tool="call_1" type="document"/>`), nil
	})

	sink := testutil.NewRecordingSink()
	res := g.Execute(context.Background(), engine.TurnRequest{
		Scope:          core.Scope{TenantID: "t1", ProjectID: "p1", GraphID: "support"},
		ConversationID: "conv-1",
		UserMessage:    "docs please",
		RequestID:      "req-1",
		Sink:           sink,
	})
	require.True(t, res.Success, "error: %v", res.Err)

	data := sink.Data()
	require.Len(t, data, 1)
	payload := data[0].Payload.(map[string]any)
	assert.Equal(t, map[string]any{"title": "Go"}, payload["artifactSummary"])
}

func TestAgentGraph_Local(t *testing.T) {
	g := New(func(o *Options) {
		o.Transport = transport.NewLocal()
		o.Store = store.NewMemoryStore()
	})
	defer g.Close()
	assert.NotNil(t, g.Local())

	type remote struct{ core.Transport }
	g2 := New(func(o *Options) { o.Transport = remote{} })
	defer g2.Close()
	assert.Nil(t, g2.Local())
}

func TestAgentGraph_ApplySeedRejectsNil(t *testing.T) {
	g := New()
	defer g.Close()
	assert.Error(t, g.ApplySeed(context.Background(), nil))
}
