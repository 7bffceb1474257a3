package core

import "context"

// OutboundMessage is the payload delivered to a remote agent.
type OutboundMessage struct {
	Role      string
	Parts     []Part
	MessageID string
	ContextID string
	Metadata  map[string]any
}

// Text returns the concatenated text parts of the message.
func (m OutboundMessage) Text() string { return JoinText(m.Parts) }

// ResponseKind tags the shape of an agent response.
type ResponseKind string

const (
	ResponseUnknown    ResponseKind = ""
	ResponseCompletion ResponseKind = "completion"
	ResponseTransfer   ResponseKind = "transfer"
	ResponseDelegation ResponseKind = "delegation"
)

// Transfer instructs the runtime to hand the conversation to another agent.
type Transfer struct {
	TargetAgentID string
	Reason        string
}

// Delegation asks the runtime to run a sub-task on another agent and return
// its result to the delegating agent.
type Delegation struct {
	TargetAgentID string
	Message       string
}

// AgentResponse is what a remote agent returns for a message. Kind may be
// empty, in which case the runtime classifies the response from its parts.
// Streamed reports that the agent already streamed its text to the sink.
type AgentResponse struct {
	Kind       ResponseKind
	Parts      []Part
	Transfer   *Transfer
	Delegation *Delegation
	Streamed   bool
}

// Transport delivers a message to a remote agent. A nil response with a nil
// error is treated as "no response".
type Transport interface {
	SendMessage(ctx context.Context, agentID string, msg OutboundMessage) (*AgentResponse, error)
}
