package core

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a create violates a primary-key or
	// unique constraint.
	ErrAlreadyExists = errors.New("already exists")
)

// TaskStore persists Task records.
type TaskStore interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, id string, u TaskUpdate) error
	ListTaskIDsByContext(ctx context.Context, contextID string) ([]string, error)
}

// ConversationStore persists messages and the active-agent pointer of a
// conversation.
type ConversationStore interface {
	CreateMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	GetActiveAgent(ctx context.Context, conversationID string) (string, error)
	SetActiveAgent(ctx context.Context, conversationID, agentID string) error
}

// ArtifactStore persists ledger artifacts keyed by (artifactID, taskID).
// CreateArtifact returns ErrAlreadyExists when the key is taken;
// UpsertArtifact inserts or replaces.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, a *Artifact) error
	UpsertArtifact(ctx context.Context, a *Artifact) error
	GetArtifacts(ctx context.Context, artifactID, taskID string) ([]*Artifact, error)
	ListArtifactsByTask(ctx context.Context, taskID string) ([]*Artifact, error)
}

// ConfigStore resolves graph and agent configuration.
type ConfigStore interface {
	GetGraphConfig(ctx context.Context, scope Scope) (*GraphConfig, error)
	GetAgent(ctx context.Context, agentID string) (*AgentConfig, error)
}

// Store is the full persistence collaborator required by the runtime.
type Store interface {
	TaskStore
	ConversationStore
	ArtifactStore
	ConfigStore
}
