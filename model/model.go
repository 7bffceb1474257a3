package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoObject is returned when a provider response carries no structured object.
var ErrNoObject = errors.New("model returned no structured object")

// Request captures the normalized model input.
type Request struct {
	Instructions string `json:"instructions"` // System instructions for the model
	Prompt       string `json:"prompt"`       // User prompt
	MaxTokens    int64  `json:"max_tokens,omitempty"`
}

// Schema describes the structured object a model must produce.
// Parameters is a JSON Schema object.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Model is the collaborator used for status summaries and artifact naming.
// It is never consulted for routing decisions.
type Model interface {
	GenerateText(ctx context.Context, req Request) (string, error)
	GenerateObject(ctx context.Context, req Request, schema Schema) (map[string]any, error)

	// Info returns information about the model implementation.
	Info() Info
}

// Provider resolves models by the names used in graph and agent settings.
type Provider interface {
	Model(name string) (Model, bool)
}

// Registry is a concurrency-safe Provider backed by a map.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewRegistry returns an empty model registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Model)}
}

// Register adds m under name, replacing any previous model.
func (r *Registry) Register(name string, m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = m
}

// Model implements Provider.
func (r *Registry) Model(name string) (Model, bool) {
	if name == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// ParseObject decodes a JSON object from model text output. Code fences are
// stripped and malformed or truncated JSON is repaired before decoding.
func ParseObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoObject
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, nil
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, fmt.Errorf("repair object: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return obj, nil
}

// MockModel is a lightweight in‑memory Model useful for tests & examples.
// Responses are consumed in order; once exhausted the last one repeats.
type MockModel struct {
	info Info

	mu          sync.Mutex
	texts       []string
	objects     []map[string]any
	errs        []error
	textCalls   int
	objectCalls int
	requests    []Request
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: "mock"}}
}

// AddText queues a text completion.
func (m *MockModel) AddText(text string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return m
}

// AddObject queues a structured completion.
func (m *MockModel) AddObject(obj map[string]any) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = append(m.objects, obj)
	return m
}

// AddError queues an error returned by the next calls before any response.
func (m *MockModel) AddError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return m
}

// GenerateText implements Model.
func (m *MockModel) GenerateText(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textCalls++
	m.requests = append(m.requests, req)
	if err := m.popErrLocked(ctx); err != nil {
		return "", err
	}
	if len(m.texts) == 0 {
		return fmt.Sprintf("Mock response to: %s", req.Prompt), nil
	}
	out := m.texts[0]
	if len(m.texts) > 1 {
		m.texts = m.texts[1:]
	}
	return out, nil
}

// GenerateObject implements Model.
func (m *MockModel) GenerateObject(ctx context.Context, req Request, _ Schema) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objectCalls++
	m.requests = append(m.requests, req)
	if err := m.popErrLocked(ctx); err != nil {
		return nil, err
	}
	if len(m.objects) == 0 {
		return nil, ErrNoObject
	}
	out := m.objects[0]
	if len(m.objects) > 1 {
		m.objects = m.objects[1:]
	}
	return out, nil
}

func (m *MockModel) popErrLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(m.errs) == 0 {
		return nil
	}
	err := m.errs[0]
	m.errs = m.errs[1:]
	return err
}

// Calls returns the number of text and object generations performed.
func (m *MockModel) Calls() (text, object int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.textCalls, m.objectCalls
}

// Requests returns a copy of every request received.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
