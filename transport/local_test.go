package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
)

func TestLocal_RoutesToRegisteredHandler(t *testing.T) {
	l := NewLocal()
	var got core.OutboundMessage
	l.Register("router", func(_ context.Context, msg core.OutboundMessage) (*core.AgentResponse, error) {
		got = msg
		return Text("hi there"), nil
	})

	resp, err := l.SendMessage(context.Background(), "router", core.OutboundMessage{
		Role:     "user",
		Parts:    []core.Part{core.TextPart{Text: "hello"}},
		Metadata: map[string]any{"requestId": "r1"},
	})
	require.NoError(t, err)
	assert.Equal(t, core.ResponseCompletion, resp.Kind)
	assert.Equal(t, "hi there", core.JoinText(resp.Parts))
	assert.Equal(t, "hello", got.Text())
	assert.Equal(t, "r1", got.Metadata["requestId"])
}

func TestLocal_UnknownAgent(t *testing.T) {
	_, err := NewLocal().SendMessage(context.Background(), "ghost", core.OutboundMessage{})
	assert.ErrorContains(t, err, "agent ghost not found")
}

func TestLocal_HandlerErrorAndCancellation(t *testing.T) {
	l := NewLocal()
	boom := errors.New("boom")
	l.Register("a", func(context.Context, core.OutboundMessage) (*core.AgentResponse, error) { return nil, boom })

	_, err := l.SendMessage(context.Background(), "a", core.OutboundMessage{})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.SendMessage(ctx, "a", core.OutboundMessage{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResponseBuilders(t *testing.T) {
	tr := TransferTo("billing", "needs billing")
	assert.Equal(t, core.ResponseTransfer, tr.Kind)
	assert.Equal(t, "billing", tr.Transfer.TargetAgentID)

	d := DelegateTo("research", "look it up")
	assert.Equal(t, core.ResponseDelegation, d.Kind)
	assert.Equal(t, "look it up", d.Delegation.Message)
}
