package artifact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
)

// DefaultLocalCacheSize bounds the process-local artifact cache.
const DefaultLocalCacheSize = 500

// Options configure a Pipeline.
type Options struct {
	// Store persists artifacts. A nil store keeps artifacts in memory only.
	Store core.ArtifactStore

	// Tasks resolves the tasks of a conversation context for
	// GetContextArtifacts.
	Tasks core.TaskStore

	// ToolResults resolves raw tool results. Defaults to a fresh registry.
	ToolResults *ToolResultRegistry

	Logger            logging.Logger
	LocalCacheSize    int
	SelectorCacheSize int

	// Now is used for artifact timestamps (tests override it).
	Now func() time.Time
}

// Pipeline extracts, caches and persists artifacts.
type Pipeline struct {
	opts      Options
	selectors *Selectors
	local     *lru.Cache[string, *core.Artifact]

	mu       sync.RWMutex
	schemas  map[string]core.ComponentSchema
	sessions map[string]map[string]*core.Artifact // sessionID -> key -> artifact
	holds    map[string]int
}

// New creates a Pipeline.
func New(optFns ...func(o *Options)) *Pipeline {
	opts := Options{
		LocalCacheSize:    DefaultLocalCacheSize,
		SelectorCacheSize: DefaultSelectorCacheSize,
		Now:               time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ToolResults == nil {
		opts.ToolResults = NewToolResultRegistry(0)
	}
	if opts.LocalCacheSize <= 0 {
		opts.LocalCacheSize = DefaultLocalCacheSize
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	local, _ := lru.New[string, *core.Artifact](opts.LocalCacheSize)

	return &Pipeline{
		opts:      opts,
		selectors: NewSelectors(opts.SelectorCacheSize),
		local:     local,
		schemas:   make(map[string]core.ComponentSchema),
		sessions:  make(map[string]map[string]*core.Artifact),
		holds:     make(map[string]int),
	}
}

// ToolResults returns the registry the pipeline reads tool results from.
func (p *Pipeline) ToolResults() *ToolResultRegistry { return p.opts.ToolResults }

// Selectors returns the pipeline's memoized selector evaluator.
func (p *Pipeline) Selectors() *Selectors { return p.selectors }

// RegisterSchema registers (or replaces) the component schema for s.Type.
func (p *Pipeline) RegisterSchema(s core.ComponentSchema) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schemas[s.Type] = s
}

func (p *Pipeline) schema(artifactType string) (core.ComponentSchema, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.schemas[artifactType]
	return s, ok
}

// CreateArtifact extracts a placeholder artifact from a recorded tool result,
// persists it with PendingGeneration set and caches it for the session.
// Extraction failures are returned as *ExtractionError.
func (p *Pipeline) CreateArtifact(ctx context.Context, req core.ArtifactRequest) (*core.Artifact, error) {
	fail := func(err error) error {
		return &ExtractionError{ArtifactID: req.ArtifactID, ToolCallID: req.ToolCallID, Err: err}
	}

	res, ok := p.opts.ToolResults.Lookup(req.SessionID, req.ToolCallID)
	if !ok {
		return nil, fail(ErrToolResultNotFound)
	}

	fragment, err := p.selectBase(req.BaseSelector, selectionDocument(res))
	if err != nil {
		return nil, fail(err)
	}

	summary, full := p.project(req, fragment)

	a := &core.Artifact{
		ArtifactID:  req.ArtifactID,
		ToolCallID:  req.ToolCallID,
		TaskID:      req.TaskID,
		ContextID:   req.ContextID,
		Scope:       req.Scope,
		Type:        req.Type,
		Name:        core.PendingArtifactName,
		Description: "",
		Summary:     summary,
		Full:        full,
		Metadata: map[string]any{
			"toolName":  res.ToolName,
			"agentId":   firstNonEmpty(req.AgentID, res.AgentID),
			"sessionId": req.SessionID,
		},
		PendingGeneration: true,
		CreatedAt:         p.opts.Now(),
	}

	p.cache(req.SessionID, a)

	if p.opts.Store != nil {
		if err := p.opts.Store.CreateArtifact(ctx, a.Clone()); err != nil && !errors.Is(err, core.ErrAlreadyExists) {
			return nil, fmt.Errorf("persist artifact %s: %w", a.ArtifactID, err)
		}
	}

	p.opts.Logger.Debug("artifact created",
		"artifact_id", a.ArtifactID,
		"tool_call_id", a.ToolCallID,
		"type", a.Type,
	)

	return a.Clone(), nil
}

// selectionDocument is the value selectors are evaluated against.
func selectionDocument(res ToolResult) map[string]any {
	return map[string]any{
		"toolCallId": res.ToolCallID,
		"toolName":   res.ToolName,
		"args":       res.Args,
		"result":     res.Result,
	}
}

func (p *Pipeline) selectBase(selector string, doc map[string]any) (any, error) {
	if selector == "" {
		v, err := toDocument(doc["result"])
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, ErrEmptySelection
		}
		return CleanValue(v), nil
	}

	v, err := p.selectors.Search(selector, doc)
	if err != nil {
		return nil, err
	}
	if arr, ok := v.([]any); ok {
		if len(arr) == 0 {
			return nil, ErrEmptySelection
		}
		v = arr[0]
	}
	if v == nil {
		return nil, ErrEmptySelection
	}
	return CleanValue(v), nil
}

// project builds the summary and full projections of fragment.
func (p *Pipeline) project(req core.ArtifactRequest, fragment any) (summary, full map[string]any) {
	schema, ok := p.schema(req.Type)
	if !ok {
		return asRecord(fragment), asRecord(fragment)
	}

	summary = p.extractFields(schema.PreviewFields(), req.DetailSelectors, fragment)
	full = p.extractFields(schema.FullFields(), req.DetailSelectors, fragment)
	if len(full) == 0 {
		full = asRecord(fragment)
	}
	return summary, full
}

func (p *Pipeline) extractFields(fields []string, selectors map[string]string, fragment any) map[string]any {
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		sel := field
		if s, ok := selectors[field]; ok && s != "" {
			sel = s
		}
		v, err := p.selectors.Search(sel, fragment)
		if err != nil {
			p.opts.Logger.Debug("field selector failed", "field", field, "selector", sel, "error", err)
			continue
		}
		if v == nil {
			continue
		}
		out[field] = CleanValue(v)
	}
	return out
}

// asRecord returns fragment as a map, wrapping non-object values under "data".
func asRecord(fragment any) map[string]any {
	if m, ok := fragment.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return map[string]any{"data": fragment}
}

// GetArtifactData looks an artifact up in the cache of sessionID, the local
// cache, prefetched and finally the store. core.ErrNotFound is returned when
// no layer knows the artifact.
func (p *Pipeline) GetArtifactData(ctx context.Context, sessionID, artifactID, toolCallID, taskID string, prefetched map[string]*core.Artifact) (*core.Artifact, error) {
	key := core.ArtifactKey(artifactID, toolCallID)

	if a, ok := p.sessionLookup(sessionID, key); ok {
		return a.Clone(), nil
	}
	if a, ok := p.local.Get(key); ok {
		return a.Clone(), nil
	}
	if a, ok := prefetched[key]; ok && a != nil {
		return a.Clone(), nil
	}
	if p.opts.Store == nil {
		return nil, core.ErrNotFound
	}

	found, err := p.opts.Store.GetArtifacts(ctx, artifactID, taskID)
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", artifactID, err)
	}
	for _, a := range found {
		if toolCallID == "" || a.ToolCallID == toolCallID {
			p.local.Add(a.Key(), a.Clone())
			return a.Clone(), nil
		}
	}
	return nil, core.ErrNotFound
}

// GetContextArtifacts loads every artifact of every task in the conversation
// context, keyed by artifact key.
func (p *Pipeline) GetContextArtifacts(ctx context.Context, contextID string) (map[string]*core.Artifact, error) {
	out := make(map[string]*core.Artifact)
	if p.opts.Store == nil || p.opts.Tasks == nil {
		return out, nil
	}

	taskIDs, err := p.opts.Tasks.ListTaskIDsByContext(ctx, contextID)
	if err != nil {
		return nil, fmt.Errorf("list tasks of context %s: %w", contextID, err)
	}
	for _, taskID := range taskIDs {
		artifacts, err := p.opts.Store.ListArtifactsByTask(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("list artifacts of task %s: %w", taskID, err)
		}
		for _, a := range artifacts {
			out[a.Key()] = a
		}
	}
	return out, nil
}

// SaveArtifact upserts a finalized artifact and refreshes the caches.
func (p *Pipeline) SaveArtifact(ctx context.Context, a *core.Artifact) error {
	if a == nil {
		return errors.New("nil artifact")
	}
	sessionID, _ := a.Metadata["sessionId"].(string)
	p.cache(sessionID, a)

	if p.opts.Store == nil {
		return nil
	}
	if err := p.opts.Store.UpsertArtifact(ctx, a.Clone()); err != nil {
		return fmt.Errorf("save artifact %s: %w", a.ArtifactID, err)
	}
	return nil
}

// ClearSession drops the session-scoped cache regardless of holds.
// Artifacts remain in the local cache and the store.
func (p *Pipeline) ClearSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.holds, sessionID)
	delete(p.sessions, sessionID)
}

// AcquireSession marks the session cache as used by one more turn.
func (p *Pipeline) AcquireSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holds[sessionID]++
}

// ReleaseSession drops one hold on the session cache and clears it once no
// turn holds it.
func (p *Pipeline) ReleaseSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.holds[sessionID]; n > 1 {
		p.holds[sessionID] = n - 1
		return
	}
	delete(p.holds, sessionID)
	delete(p.sessions, sessionID)
}

func (p *Pipeline) cache(sessionID string, a *core.Artifact) {
	cp := a.Clone()
	p.local.Add(cp.Key(), cp)
	if sessionID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.sessions[sessionID]
	if !ok {
		m = make(map[string]*core.Artifact)
		p.sessions[sessionID] = m
	}
	m[cp.Key()] = cp
}

func (p *Pipeline) sessionLookup(sessionID, key string) (*core.Artifact, bool) {
	if sessionID == "" {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.sessions[sessionID][key]
	return a, ok
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
