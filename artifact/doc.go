// Package artifact turns recorded tool results into two-tier artifacts.
//
// A Pipeline resolves a tool call's raw result from the ToolResultRegistry,
// narrows it with a base selector (JMESPath), and projects it twice through
// the component schema registered for the artifact type: a summary
// projection built from the fields flagged "inPreview" and a full projection
// built from every declared field. Without a schema both projections are the
// selected fragment itself.
//
// Selector expressions are sanitized before evaluation (double-quoted string
// literals become single-quoted, `field ~ contains(@, 'x')` becomes
// `contains(field, 'x')`) and both the sanitized text and the compiled query
// are memoized in bounded LRU caches. String values are passed through
// NormalizeEscapes to undo repeated JSON escaping.
//
// Artifacts are cached per session and in a process-local LRU, and persisted
// through core.ArtifactStore. GetArtifactData consults, in order, the session
// cache, the local cache, a caller supplied prefetched map and finally the
// store.
package artifact
