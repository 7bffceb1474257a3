package core

import "time"

// Operation types written to a StreamSink.
const (
	OperationAgentInitializing = "agent_initializing"
	OperationCompletion        = "completion"
	OperationError             = "error"
)

// OperationEvent is a lifecycle notification for the client.
type OperationEvent struct {
	Type    string         `json:"type"`
	Context map[string]any `json:"ctx,omitempty"`
}

// SummaryEvent is a user-facing status update.
type SummaryEvent struct {
	Type    string         `json:"type"`
	Label   string         `json:"label"`
	Details map[string]any `json:"details,omitempty"`
}

// StreamSink receives the ordered output of a turn. Calls are sequenced by
// the caller; the sink owns wire framing.
type StreamSink interface {
	WriteRole(role string) error
	StreamText(text string, chunkDelay time.Duration) error
	WriteData(kind string, payload any) error
	WriteOperation(ev OperationEvent) error
	WriteSummary(ev SummaryEvent) error
	WriteError(message string) error
	Complete() error
}
