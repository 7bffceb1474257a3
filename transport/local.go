// Package transport provides Transport implementations that deliver messages
// to agents.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
)

// HandlerFunc handles a message addressed to one agent. Returning a nil
// response with a nil error signals "no response".
type HandlerFunc func(ctx context.Context, msg core.OutboundMessage) (*core.AgentResponse, error)

// LocalOptions configure a Local transport.
type LocalOptions struct {
	Logger logging.Logger
}

// Local routes messages to in-process handlers registered by agent id.
type Local struct {
	handlers *core.Registry[HandlerFunc]
	logger   logging.Logger
}

var _ core.Transport = (*Local)(nil)

// NewLocal creates an empty Local transport.
func NewLocal(optFns ...func(o *LocalOptions)) *Local {
	opts := LocalOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Local{
		handlers: core.NewRegistry[HandlerFunc](),
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// Register adds (or replaces) the handler for agentID.
func (l *Local) Register(agentID string, h HandlerFunc) {
	l.handlers.Register(agentID, h)
}

// SendMessage implements core.Transport.
func (l *Local) SendMessage(ctx context.Context, agentID string, msg core.OutboundMessage) (*core.AgentResponse, error) {
	h, ok := l.handlers.Lookup(agentID)
	if !ok {
		return nil, fmt.Errorf("agent %s not found", agentID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := h(ctx, msg)
	logging.LogTransportCall(l.logger, agentID, time.Since(start), err)
	return resp, err
}

// Text is a convenience handler result carrying a single text part.
func Text(text string) *core.AgentResponse {
	return &core.AgentResponse{
		Kind:  core.ResponseCompletion,
		Parts: []core.Part{core.TextPart{Text: text}},
	}
}

// TransferTo builds a transfer response.
func TransferTo(agentID, reason string) *core.AgentResponse {
	return &core.AgentResponse{
		Kind:     core.ResponseTransfer,
		Transfer: &core.Transfer{TargetAgentID: agentID, Reason: reason},
	}
}

// DelegateTo builds a delegation response.
func DelegateTo(agentID, message string) *core.AgentResponse {
	return &core.AgentResponse{
		Kind:       core.ResponseDelegation,
		Delegation: &core.Delegation{TargetAgentID: agentID, Message: message},
	}
}
