package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType names the kind of action a SessionEvent records.
type EventType string

const (
	EventAgentGenerate      EventType = "agent_generate"
	EventAgentReasoning     EventType = "agent_reasoning"
	EventTransfer           EventType = "transfer"
	EventDelegationSent     EventType = "delegation_sent"
	EventDelegationReturned EventType = "delegation_returned"
	EventArtifactSaved      EventType = "artifact_saved"
	EventToolExecution      EventType = "tool_execution"
)

// EventData is the typed payload of a SessionEvent. The set of variants is
// closed; each variant reports the EventType it belongs to.
type EventData interface {
	EventType() EventType
}

// AgentGenerateData records text (and optional structured parts) produced by an agent.
type AgentGenerateData struct {
	Text      string
	PartCount int
	Duration  time.Duration
}

// AgentReasoningData records intermediate reasoning emitted by an agent.
type AgentReasoningData struct {
	Text string
}

// TransferData records a hand-off of the conversation to another agent.
type TransferData struct {
	FromAgentID string
	ToAgentID   string
	Reason      string
}

// DelegationSentData records a sub-task dispatched to another agent.
type DelegationSentData struct {
	DelegationID string
	FromAgentID  string
	ToAgentID    string
	TaskText     string
}

// DelegationReturnedData records the result of a delegated sub-task.
type DelegationReturnedData struct {
	DelegationID string
	FromAgentID  string
	ToAgentID    string
	ResultText   string
}

// ArtifactSavedData records that an artifact was extracted from a tool result.
// PendingGeneration marks artifacts still carrying the placeholder name.
type ArtifactSavedData struct {
	ArtifactID        string
	ToolCallID        string
	TaskID            string
	ContextID         string
	ArtifactType      string
	Name              string
	Description       string
	Summary           map[string]any
	PendingGeneration bool
	Artifact          *Artifact
}

// ToolExecutionData records a tool call together with its result.
type ToolExecutionData struct {
	ToolCallID string
	ToolName   string
	Args       map[string]any
	Result     any
	Error      string
	Duration   time.Duration
}

func (AgentGenerateData) EventType() EventType      { return EventAgentGenerate }
func (AgentReasoningData) EventType() EventType     { return EventAgentReasoning }
func (TransferData) EventType() EventType           { return EventTransfer }
func (DelegationSentData) EventType() EventType     { return EventDelegationSent }
func (DelegationReturnedData) EventType() EventType { return EventDelegationReturned }
func (ArtifactSavedData) EventType() EventType      { return EventArtifactSaved }
func (ToolExecutionData) EventType() EventType      { return EventToolExecution }

// SessionEvent is an immutable, timestamped record appended to a session
// ledger. The ordered list of events is the source of truth for status
// summarisation.
type SessionEvent struct {
	ID        string
	Timestamp time.Time
	Type      EventType
	AgentID   string
	Data      EventData
}

// NewSessionEvent stamps data with a fresh id and the current UTC time. The
// event type is derived from the data variant.
func NewSessionEvent(agentID string, data EventData) SessionEvent {
	return SessionEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      data.EventType(),
		AgentID:   agentID,
		Data:      data,
	}
}
