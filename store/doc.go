// Package store provides core.Store implementations.
//
// MemoryStore keeps everything in process local maps and is the default for
// tests and examples. SQLStore runs on database/sql with two dialects:
// SQLite through the pure Go modernc.org/sqlite driver and PostgreSQL
// through github.com/lib/pq. Both map primary-key violations to
// core.ErrAlreadyExists so the execution loop can resolve task creation races
// by re-reading the existing row.
//
// LoadYAML reads a seed document (graphs, agents, artifact component
// schemas) that can be applied to either store.
package store
