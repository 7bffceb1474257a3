package artifact

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultToolResultTTL expires sessions that were never removed explicitly.
const DefaultToolResultTTL = 30 * time.Minute

// ToolResult is the raw outcome of a tool call recorded during a turn.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	AgentID    string
	Args       map[string]any
	Result     any
	Timestamp  time.Time
}

type sessionResults struct {
	mu      sync.RWMutex
	results map[string]ToolResult
}

// ToolResultRegistry is the process-wide store of tool results keyed by
// session id. Turns sharing a session id hold it with Acquire and Release;
// the last Release removes the session. The TTL only bounds memory for
// sessions that leak.
type ToolResultRegistry struct {
	mu    sync.Mutex
	cache *cache.Cache
	refs  map[string]int
}

// NewToolResultRegistry creates a registry whose sessions expire after ttl
// (DefaultToolResultTTL when ttl <= 0).
func NewToolResultRegistry(ttl time.Duration) *ToolResultRegistry {
	if ttl <= 0 {
		ttl = DefaultToolResultTTL
	}
	return &ToolResultRegistry{cache: cache.New(ttl, ttl/2), refs: make(map[string]int)}
}

// Record stores a tool result for the session, replacing an earlier result
// with the same tool call id.
func (r *ToolResultRegistry) Record(sessionID string, res ToolResult) {
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	s := r.session(sessionID, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.ToolCallID] = res
}

// Lookup returns the tool result recorded for toolCallID in the session.
func (r *ToolResultRegistry) Lookup(sessionID, toolCallID string) (ToolResult, bool) {
	s := r.session(sessionID, false)
	if s == nil {
		return ToolResult{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.results[toolCallID]
	return res, ok
}

// Results returns every result recorded for the session.
func (r *ToolResultRegistry) Results(sessionID string) []ToolResult {
	s := r.session(sessionID, false)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolResult, 0, len(s.results))
	for _, res := range s.results {
		out = append(out, res)
	}
	return out
}

// Acquire marks the session as used by one more turn.
func (r *ToolResultRegistry) Acquire(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[sessionID]++
}

// Release drops one hold on the session and removes its results once no
// turn holds it. It reports whether the session was removed.
func (r *ToolResultRegistry) Release(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.refs[sessionID]; n > 1 {
		r.refs[sessionID] = n - 1
		return false
	}
	delete(r.refs, sessionID)
	r.cache.Delete(sessionID)
	return true
}

// Remove drops every result of the session regardless of holds.
func (r *ToolResultRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.refs, sessionID)
	r.cache.Delete(sessionID)
}

// Sessions reports the number of live sessions.
func (r *ToolResultRegistry) Sessions() int {
	return r.cache.ItemCount()
}

func (r *ToolResultRegistry) session(sessionID string, create bool) *sessionResults {
	if v, ok := r.cache.Get(sessionID); ok {
		return v.(*sessionResults)
	}
	if !create {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.cache.Get(sessionID); ok {
		return v.(*sessionResults)
	}
	s := &sessionResults{results: make(map[string]ToolResult)}
	r.cache.SetDefault(sessionID, s)
	return s
}
