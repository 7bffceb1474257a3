package core

import "sync"

// Registry is a concurrency-safe map of per-request values (stream sinks,
// ledgers). Entries must be unregistered when the request ends.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[string]T
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[string]T)}
}

// Register stores v under id, replacing any previous entry.
func (r *Registry[T]) Register(id string, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = v
}

// Lookup returns the entry for id.
func (r *Registry[T]) Lookup(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[id]
	return v, ok
}

// Unregister removes and returns the entry for id.
func (r *Registry[T]) Unregister(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[id]
	delete(r.entries, id)
	return v, ok
}

// Len reports the number of registered entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Drain removes and returns every entry.
func (r *Registry[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, 0, len(r.entries))
	for id, v := range r.entries {
		out = append(out, v)
		delete(r.entries, id)
	}
	return out
}
