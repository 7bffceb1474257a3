package core

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Scope identifies the tenant/project/graph a turn executes in.
type Scope struct {
	TenantID  string `json:"tenantId" yaml:"tenant_id"`
	ProjectID string `json:"projectId" yaml:"project_id"`
	GraphID   string `json:"graphId" yaml:"graph_id"`
}

// Task is one execution attempt of a turn. Its id is derived from the
// conversation and request ids so retried requests resolve to the same row.
type Task struct {
	ID        string
	Scope     Scope
	ContextID string
	AgentID   string
	Status    TaskStatus
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskID derives the idempotency key for a turn.
func TaskID(conversationID, requestID string) string {
	return "task_" + conversationID + "-" + requestID
}

// TaskUpdate describes a status transition. Metadata is merged into the
// existing task metadata.
type TaskUpdate struct {
	Status   TaskStatus
	Metadata map[string]any
}

// Message is a persisted conversation message.
type Message struct {
	ID             string
	ConversationID string
	TaskID         string
	Role           string
	AgentID        string
	Text           string
	Parts          []Part
	CreatedAt      time.Time
}
