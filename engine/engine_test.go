package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/artifact"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/testutil"
	"github.com/hupe1980/agentgraph/metrics"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/store"
	"github.com/hupe1980/agentgraph/transport"
)

var testScope = core.Scope{TenantID: "t1", ProjectID: "p1", GraphID: "support"}

func newTestEngine(t *testing.T, optFns ...func(o *Options)) (*Engine, *store.MemoryStore, *transport.Local) {
	t.Helper()
	st := store.NewMemoryStore()
	tr := transport.NewLocal()
	eng := New(st, tr, optFns...)
	t.Cleanup(func() { _ = eng.Close() })
	return eng, st, tr
}

func request(agentID string, sink core.StreamSink) TurnRequest {
	return TurnRequest{
		Scope:          testScope,
		ConversationID: "conv-1",
		UserMessage:    "Where is my invoice?",
		InitialAgentID: agentID,
		RequestID:      "req-1",
		Sink:           sink,
	}
}

func TestExecute_CompletesWithText(t *testing.T) {
	eng, st, tr := newTestEngine(t)
	tr.Register("router", func(_ context.Context, msg core.OutboundMessage) (*core.AgentResponse, error) {
		assert.Equal(t, "Where is my invoice?", msg.Text())
		assert.Equal(t, "req-1", msg.Metadata[MetaRequestID])
		assert.NotContains(t, msg.Metadata, MetaFromAgentID)
		return transport.Text("It was sent yesterday."), nil
	})

	sink := testutil.NewRecordingSink()
	res := eng.Execute(context.Background(), request("router", sink))

	require.True(t, res.Success, "error: %v", res.Err)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, core.TaskID("conv-1", "req-1"), res.TaskID)
	assert.Equal(t, "It was sent yesterday.", core.JoinText(res.Response.Parts))

	assert.Equal(t, []string{"operation", "role", "text", "operation", "complete"}, sink.Methods())
	ops := sink.Operations()
	assert.Equal(t, core.OperationAgentInitializing, ops[0].Type)
	assert.Equal(t, core.OperationCompletion, ops[1].Type)

	task, err := st.GetTask(context.Background(), res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, task.Status)

	msgs, err := st.ListMessages(context.Background(), "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAgent, msgs[1].Role)
	assert.Equal(t, "router", msgs[1].AgentID)
}

func TestExecute_DuplicateRequestsShareTask(t *testing.T) {
	eng, st, tr := newTestEngine(t)
	var calls atomic.Int32
	tr.Register("router", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) {
		calls.Add(1)
		return transport.Text("ok"), nil
	})

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = eng.Execute(context.Background(), request("router", testutil.NewRecordingSink()))
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.True(t, res.Success, "error: %v", res.Err)
		assert.Equal(t, core.TaskID("conv-1", "req-1"), res.TaskID)
	}
	assert.Equal(t, int32(2), calls.Load())

	ids, err := st.ListTaskIDsByContext(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	msgs, err := st.ListMessages(context.Background(), "conv-1", 0)
	require.NoError(t, err)
	var user int
	for _, m := range msgs {
		if m.Role == RoleUser {
			user++
		}
	}
	assert.Equal(t, 1, user, "the user message is persisted once")
}

func TestExecute_Transfer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng, st, tr := newTestEngine(t, func(o *Options) { o.Metrics = m })

	tr.Register("router", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) {
		return transport.TransferTo("billing", "needs billing"), nil
	})
	var got core.OutboundMessage
	tr.Register("billing", func(_ context.Context, msg core.OutboundMessage) (*core.AgentResponse, error) {
		got = msg
		return transport.Text("Invoice resent."), nil
	})

	sink := testutil.NewRecordingSink()
	res := eng.Execute(context.Background(), request("router", sink))

	require.True(t, res.Success, "error: %v", res.Err)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, "<transfer_context> needs billing </transfer_context>", got.Text())
	assert.Equal(t, "router", got.Metadata[MetaFromAgentID])

	active, err := st.GetActiveAgent(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "billing", active)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.TransfersTotal))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.TurnsTotal.WithLabelValues(metrics.OutcomeCompleted)))
}

func TestExecute_FollowsActiveAgent(t *testing.T) {
	eng, st, tr := newTestEngine(t)
	require.NoError(t, st.SetActiveAgent(context.Background(), "conv-1", "billing"))
	st.PutGraph(testScope, core.GraphConfig{ID: "support", DefaultAgentID: "router"})

	tr.Register("billing", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) {
		return transport.Text("billing here"), nil
	})

	req := request("", testutil.NewRecordingSink())
	res := eng.Execute(context.Background(), req)
	require.True(t, res.Success, "error: %v", res.Err)
	assert.Equal(t, "billing here", core.JoinText(res.Response.Parts))
}

func TestExecute_GraphDefaultAgent(t *testing.T) {
	eng, st, tr := newTestEngine(t)
	st.PutGraph(testScope, core.GraphConfig{ID: "support", DefaultAgentID: "router"})
	tr.Register("router", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) {
		return transport.Text("hi"), nil
	})

	res := eng.Execute(context.Background(), request("", testutil.NewRecordingSink()))
	require.True(t, res.Success, "error: %v", res.Err)
}

func TestExecute_NoAgent(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	sink := testutil.NewRecordingSink()

	res := eng.Execute(context.Background(), request("", sink))
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "no agent to run")
	assert.True(t, sink.Completed())
}

func TestExecute_ErrorBudget(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng, st, tr := newTestEngine(t, func(o *Options) { o.Metrics = m })

	var calls atomic.Int32
	tr.Register("router", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) {
		calls.Add(1)
		return nil, nil
	})

	sink := testutil.NewRecordingSink()
	res := eng.Execute(context.Background(), request("router", sink))

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, int32(3), calls.Load())
	assert.ErrorContains(t, res.Err, "budget exhausted")

	task, err := st.GetTask(context.Background(), res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, task.Status)

	ops := sink.Operations()
	require.NotEmpty(t, ops)
	assert.Equal(t, core.OperationError, ops[len(ops)-1].Type)
	assert.True(t, sink.Completed())

	assert.Equal(t, 3.0, promtest.ToFloat64(m.AgentErrorsTotal.WithLabelValues("no_response")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.TurnsTotal.WithLabelValues(metrics.OutcomeErrorBudget)))
}

func TestExecute_RecoversWithinBudget(t *testing.T) {
	eng, _, tr := newTestEngine(t)
	var calls atomic.Int32
	tr.Register("router", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) {
		if calls.Add(1) < 3 {
			return &core.AgentResponse{}, nil
		}
		return transport.Text("finally"), nil
	})

	res := eng.Execute(context.Background(), request("router", testutil.NewRecordingSink()))
	require.True(t, res.Success, "error: %v", res.Err)
	assert.Equal(t, 3, res.Iterations)
}

func TestExecute_TransferLimit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng, st, tr := newTestEngine(t, func(o *Options) { o.Metrics = m })
	st.PutGraph(testScope, core.GraphConfig{ID: "support", MaxTransfers: 3})

	tr.Register("a", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) {
		return transport.TransferTo("b", "ping"), nil
	})
	tr.Register("b", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) {
		return transport.TransferTo("a", "pong"), nil
	})

	res := eng.Execute(context.Background(), request("a", testutil.NewRecordingSink()))
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Iterations)
	assert.ErrorContains(t, res.Err, "exceeded maximum transfers (3)")
	assert.Equal(t, 3.0, promtest.ToFloat64(m.TransfersTotal))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.TurnsTotal.WithLabelValues(metrics.OutcomeTransferLimit)))
}

func TestExecute_Delegation(t *testing.T) {
	eng, st, tr := newTestEngine(t)

	var routerCalls atomic.Int32
	var second core.OutboundMessage
	tr.Register("router", func(_ context.Context, msg core.OutboundMessage) (*core.AgentResponse, error) {
		if routerCalls.Add(1) == 1 {
			return transport.DelegateTo("research", "find the invoice date"), nil
		}
		second = msg
		return transport.Text("Sent on May 2."), nil
	})
	var delegated core.OutboundMessage
	tr.Register("research", func(_ context.Context, msg core.OutboundMessage) (*core.AgentResponse, error) {
		delegated = msg
		return transport.Text("May 2"), nil
	})

	res := eng.Execute(context.Background(), request("router", testutil.NewRecordingSink()))
	require.True(t, res.Success, "error: %v", res.Err)
	assert.Equal(t, 2, res.Iterations)

	assert.Equal(t, "find the invoice date", delegated.Text())
	assert.Equal(t, true, delegated.Metadata[MetaDelegation])
	assert.Equal(t, "router", delegated.Metadata[MetaFromAgentID])
	assert.Equal(t, `<delegation_result agent="research"> May 2 </delegation_result>`, second.Text())

	active, err := st.GetActiveAgent(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Empty(t, active, "delegation does not move the active agent")
}

func TestExecute_RecoversFromPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng, st, tr := newTestEngine(t, func(o *Options) { o.Metrics = m })
	tr.Register("router", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) {
		panic("handler exploded")
	})

	sink := testutil.NewRecordingSink()
	var res Result
	require.NotPanics(t, func() {
		res = eng.Execute(context.Background(), request("router", sink))
	})

	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "handler exploded")
	assert.True(t, sink.Completed())

	task, err := st.GetTask(context.Background(), res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, task.Status)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.TurnsTotal.WithLabelValues(metrics.OutcomePanic)))
}

func TestExecute_CanceledContext(t *testing.T) {
	eng, _, tr := newTestEngine(t)
	tr.Register("router", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) {
		return transport.Text("unreachable"), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := eng.Execute(ctx, request("router", testutil.NewRecordingSink()))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 0, res.Iterations)
}

func TestExecute_NilSink(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	res := eng.Execute(context.Background(), TurnRequest{ConversationID: "conv-1", InitialAgentID: "router"})
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "without sink")
}

func TestExecute_InlineArtifact(t *testing.T) {
	eng, st, tr := newTestEngine(t)
	tr.Register("research", func(_ context.Context, msg core.OutboundMessage) (*core.AgentResponse, error) {
		requestID, _ := msg.Metadata[MetaRequestID].(string)
		eng.ToolResults().Record(requestID, artifact.ToolResult{
			ToolCallID: "call_1",
			ToolName:   "search_web",
			Result: map[string]any{
				"items": []any{map[string]any{"title": "Go", "url": "https://go.dev"}},
			},
		})
		return transport.Text(`Here: <artifact:create id="a1" tool="call_1" type="document" base="result.items[0]"/> done`), nil
	})

	sink := testutil.NewRecordingSink()
	res := eng.Execute(context.Background(), request("research", sink))
	require.True(t, res.Success, "error: %v", res.Err)

	assert.Equal(t, []string{"Here: ", " done"}, sink.Texts())
	data := sink.Data()
	require.Len(t, data, 1)
	assert.Equal(t, "artifact", data[0].Kind)
	payload, ok := data[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a1", payload["artifactId"])
	assert.Equal(t, core.PendingArtifactName, payload["name"])

	require.Len(t, res.Response.Parts, 3)
	assert.IsType(t, core.DataPart{}, res.Response.Parts[1])

	require.NoError(t, eng.Close())

	arts, err := st.GetArtifacts(context.Background(), "a1", res.TaskID)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "Document results", arts[0].Name)
	assert.Equal(t, "Results from search web.", arts[0].Description)
	assert.False(t, arts[0].PendingGeneration)

	assert.Equal(t, 0, eng.ToolResults().Sessions())
	_, ok = eng.Ledger("req-1")
	assert.False(t, ok)
}

func TestExecute_DuplicateTurnKeepsToolResults(t *testing.T) {
	eng, _, tr := newTestEngine(t)
	recorded := make(chan struct{})
	proceed := make(chan struct{})
	tr.Register("research", func(_ context.Context, msg core.OutboundMessage) (*core.AgentResponse, error) {
		requestID, _ := msg.Metadata[MetaRequestID].(string)
		eng.ToolResults().Record(requestID, artifact.ToolResult{
			ToolCallID: "call_1",
			ToolName:   "search_web",
			Result:     map[string]any{"title": "Go"},
		})
		close(recorded)
		<-proceed
		return transport.Text(`Here: <artifact:create id="a1" tool="call_1" type="document"/>`), nil
	})
	tr.Register("router", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) {
		return transport.Text("ok"), nil
	})

	slowSink := testutil.NewRecordingSink()
	done := make(chan Result, 1)
	go func() {
		done <- eng.Execute(context.Background(), request("research", slowSink))
	}()
	<-recorded

	fast := eng.Execute(context.Background(), request("router", testutil.NewRecordingSink()))
	require.True(t, fast.Success, "error: %v", fast.Err)
	_, ok := eng.ToolResults().Lookup("req-1", "call_1")
	assert.True(t, ok)

	close(proceed)
	slow := <-done
	require.True(t, slow.Success, "error: %v", slow.Err)
	require.Len(t, slowSink.Data(), 1)
	assert.Equal(t, "artifact", slowSink.Data()[0].Kind)

	require.NoError(t, eng.Close())
	assert.Equal(t, 0, eng.ToolResults().Sessions())
}

func TestExecute_StatusUpdates(t *testing.T) {
	summarizer := model.NewMockModel("summarizer").AddObject(map[string]any{
		"progress": map[string]any{"label": "Handing over to billing"},
	})
	models := model.NewRegistry()
	models.Register("summarizer", summarizer)

	eng, st, tr := newTestEngine(t, func(o *Options) { o.Models = models })
	st.PutGraph(testScope, core.GraphConfig{
		ID:            "support",
		Models:        core.ModelSettings{Summarizer: "summarizer"},
		StatusUpdates: &core.StatusUpdateConfig{Enabled: true, NumEvents: 1},
	})

	sink := testutil.NewRecordingSink()
	tr.Register("router", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) {
		return transport.TransferTo("billing", "needs billing"), nil
	})
	tr.Register("billing", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) {
		assert.Eventually(t, func() bool { return len(sink.Summaries()) > 0 }, time.Second, 5*time.Millisecond)
		return transport.Text("done"), nil
	})

	res := eng.Execute(context.Background(), request("router", sink))
	require.True(t, res.Success, "error: %v", res.Err)

	summaries := sink.Summaries()
	require.NotEmpty(t, summaries)
	assert.Equal(t, "progress", summaries[0].Type)
	assert.Equal(t, "Handing over to billing", summaries[0].Label)

	methods := sink.Methods()
	assert.Equal(t, "complete", methods[len(methods)-1], "nothing is written after completion")
}

func TestExecute_RegistriesDuringTurn(t *testing.T) {
	eng, _, tr := newTestEngine(t)
	tr.Register("router", func(_ context.Context, msg core.OutboundMessage) (*core.AgentResponse, error) {
		requestID, _ := msg.Metadata[MetaRequestID].(string)
		_, ok := eng.Sink(requestID)
		assert.True(t, ok)
		l, ok := eng.Ledger(requestID)
		if assert.True(t, ok) {
			l.RecordEvent("router", core.AgentReasoningData{Text: "checking"})
		}
		return transport.Text("ok"), nil
	})

	res := eng.Execute(context.Background(), request("router", testutil.NewRecordingSink()))
	require.True(t, res.Success, "error: %v", res.Err)

	_, ok := eng.Sink("req-1")
	assert.False(t, ok)
}
