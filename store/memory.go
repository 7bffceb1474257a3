package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentgraph/core"
)

// MemoryStore is a volatile core.Store implementation keeping every record in
// process local maps. It is safe for concurrent access and best suited for
// tests, examples and single process deployments. Records are copied on the
// way in and out so callers cannot mutate internal state.
type MemoryStore struct {
	mu           sync.RWMutex
	tasks        map[string]*core.Task
	messages     map[string][]core.Message // conversationID -> messages
	activeAgents map[string]string         // conversationID -> agentID
	artifacts    map[artifactKey]*core.Artifact
	graphs       map[core.Scope]*core.GraphConfig
	agents       map[string]*core.AgentConfig

	now func() time.Time
}

type artifactKey struct {
	artifactID string
	taskID     string
	toolCallID string
}

var _ core.Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in‑memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:        make(map[string]*core.Task),
		messages:     make(map[string][]core.Message),
		activeAgents: make(map[string]string),
		artifacts:    make(map[artifactKey]*core.Artifact),
		graphs:       make(map[core.Scope]*core.GraphConfig),
		agents:       make(map[string]*core.AgentConfig),
		now:          time.Now,
	}
}

// CreateTask stores t or returns core.ErrAlreadyExists when the id is taken.
func (s *MemoryStore) CreateTask(_ context.Context, t *core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return core.ErrAlreadyExists
	}
	cp := cloneTask(t)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.tasks[t.ID] = cp
	return nil
}

// GetTask returns a copy of the task or core.ErrNotFound.
func (s *MemoryStore) GetTask(_ context.Context, id string) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return cloneTask(t), nil
}

// UpdateTask applies a status transition and merges metadata.
func (s *MemoryStore) UpdateTask(_ context.Context, id string, u core.TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return core.ErrNotFound
	}
	if u.Status != "" {
		t.Status = u.Status
	}
	if len(u.Metadata) > 0 && t.Metadata == nil {
		t.Metadata = make(map[string]any, len(u.Metadata))
	}
	for k, v := range u.Metadata {
		t.Metadata[k] = v
	}
	t.UpdatedAt = s.now()
	return nil
}

// ListTaskIDsByContext returns the ids of every task of the context ordered
// by creation time.
func (s *MemoryStore) ListTaskIDsByContext(_ context.Context, contextID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tasks []*core.Task
	for _, t := range s.tasks {
		if t.ContextID == contextID {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids, nil
}

// CreateMessage appends a message to its conversation.
func (s *MemoryStore) CreateMessage(_ context.Context, m *core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.Parts = append([]core.Part(nil), m.Parts...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], cp)
	return nil
}

// ListMessages returns the most recent limit messages in chronological
// order. limit <= 0 returns all messages.
func (s *MemoryStore) ListMessages(_ context.Context, conversationID string, limit int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// GetActiveAgent returns the active agent of the conversation or "" when
// none was set.
func (s *MemoryStore) GetActiveAgent(_ context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeAgents[conversationID], nil
}

// SetActiveAgent moves the conversation to agentID.
func (s *MemoryStore) SetActiveAgent(_ context.Context, conversationID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeAgents[conversationID] = agentID
	return nil
}

// CreateArtifact stores a or returns core.ErrAlreadyExists.
func (s *MemoryStore) CreateArtifact(_ context.Context, a *core.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := keyOf(a)
	if _, ok := s.artifacts[k]; ok {
		return core.ErrAlreadyExists
	}
	s.artifacts[k] = a.Clone()
	return nil
}

// UpsertArtifact inserts or replaces a.
func (s *MemoryStore) UpsertArtifact(_ context.Context, a *core.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[keyOf(a)] = a.Clone()
	return nil
}

// GetArtifacts returns every artifact stored under (artifactID, taskID).
// An empty taskID matches any task.
func (s *MemoryStore) GetArtifacts(_ context.Context, artifactID, taskID string) ([]*core.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Artifact
	for k, a := range s.artifacts {
		if k.artifactID == artifactID && (taskID == "" || k.taskID == taskID) {
			out = append(out, a.Clone())
		}
	}
	sortArtifacts(out)
	return out, nil
}

// ListArtifactsByTask returns every artifact of the task.
func (s *MemoryStore) ListArtifactsByTask(_ context.Context, taskID string) ([]*core.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Artifact
	for k, a := range s.artifacts {
		if k.taskID == taskID {
			out = append(out, a.Clone())
		}
	}
	sortArtifacts(out)
	return out, nil
}

// PutGraph registers the configuration of the graph addressed by scope.
func (s *MemoryStore) PutGraph(scope core.Scope, cfg core.GraphConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[scope] = &cfg
}

// GetGraphConfig returns the graph configuration for scope or
// core.ErrNotFound.
func (s *MemoryStore) GetGraphConfig(_ context.Context, scope core.Scope) (*core.GraphConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[scope]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

// PutAgent registers an agent configuration.
func (s *MemoryStore) PutAgent(cfg core.AgentConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[cfg.ID] = &cfg
}

// GetAgent returns the agent configuration or core.ErrNotFound.
func (s *MemoryStore) GetAgent(_ context.Context, agentID string) (*core.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func keyOf(a *core.Artifact) artifactKey {
	return artifactKey{artifactID: a.ArtifactID, taskID: a.TaskID, toolCallID: a.ToolCallID}
}

func sortArtifacts(as []*core.Artifact) {
	sort.Slice(as, func(i, j int) bool {
		if as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].Key() < as[j].Key()
		}
		return as[i].CreatedAt.Before(as[j].CreatedAt)
	})
}

func cloneTask(t *core.Task) *core.Task {
	cp := *t
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
