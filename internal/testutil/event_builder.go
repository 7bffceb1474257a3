package testutil

import (
	"time"

	"github.com/hupe1980/agentgraph/core"
)

// EventBuilder provides a fluent helper for constructing session events in tests.
// Example:
//
//	ev := NewEventBuilder().Agent("router").Transfer("billing", "needs billing").Build()
//
// Chain only the parts you need; the last data setter wins.
type EventBuilder struct {
	agentID string
	id      string
	at      *time.Time
	data    core.EventData
}

// NewEventBuilder creates a builder with default agent "agent" and an empty
// agent_generate payload.
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{agentID: "agent", data: core.AgentGenerateData{}}
}

// Agent sets the agent id recorded on the event (chainable).
func (b *EventBuilder) Agent(id string) *EventBuilder { b.agentID = id; return b }

// ID overrides the auto-generated event ID (chainable).
func (b *EventBuilder) ID(id string) *EventBuilder { b.id = id; return b }

// At overrides the event timestamp (chainable).
func (b *EventBuilder) At(t time.Time) *EventBuilder { b.at = &t; return b }

// Generate sets an agent_generate payload (chainable).
func (b *EventBuilder) Generate(text string) *EventBuilder {
	b.data = core.AgentGenerateData{Text: text}
	return b
}

// Reasoning sets an agent_reasoning payload (chainable).
func (b *EventBuilder) Reasoning(text string) *EventBuilder {
	b.data = core.AgentReasoningData{Text: text}
	return b
}

// Transfer sets a transfer payload from the builder's agent (chainable).
func (b *EventBuilder) Transfer(to, reason string) *EventBuilder {
	b.data = core.TransferData{FromAgentID: b.agentID, ToAgentID: to, Reason: reason}
	return b
}

// ToolCall sets a tool_execution payload (chainable).
func (b *EventBuilder) ToolCall(callID, name string, args map[string]any, result any) *EventBuilder {
	b.data = core.ToolExecutionData{ToolCallID: callID, ToolName: name, Args: args, Result: result}
	return b
}

// ArtifactSaved sets a pending artifact_saved payload for a (chainable).
func (b *EventBuilder) ArtifactSaved(a *core.Artifact) *EventBuilder {
	b.data = core.ArtifactSavedData{
		ArtifactID:        a.ArtifactID,
		ToolCallID:        a.ToolCallID,
		TaskID:            a.TaskID,
		ContextID:         a.ContextID,
		ArtifactType:      a.Type,
		Name:              a.Name,
		Summary:           a.Summary,
		PendingGeneration: a.PendingGeneration,
		Artifact:          a,
	}
	return b
}

// Data sets an arbitrary payload (chainable).
func (b *EventBuilder) Data(d core.EventData) *EventBuilder { b.data = d; return b }

// Build constructs the core.SessionEvent value.
func (b *EventBuilder) Build() core.SessionEvent {
	ev := core.NewSessionEvent(b.agentID, b.data)
	if b.id != "" {
		ev.ID = b.id
	}
	if b.at != nil {
		ev.Timestamp = *b.at
	}
	return ev
}
