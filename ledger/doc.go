// Package ledger implements the per-turn session ledger.
//
// A Ledger records a typed core.SessionEvent for every agent action of one
// turn, in strict chronological order. Two background activities hang off the
// event log:
//
//   - Status updates. When a graph enables them, an event-count trigger
//     (checked on a zero-delay timer after each RecordEvent) and a wall-clock
//     trigger (a ticker every TimeInSeconds) ask the summarizer model for a
//     structured update. Updates are never generated while text is streaming
//     and previously shown summaries are fed back to avoid repetition.
//
//   - Artifact naming. Every pending artifact_saved event spawns a naming job
//     bounded by a semaphore. Each job retries the model with exponential
//     backoff and writes a deterministic fallback name when the model fails,
//     is missing, or the ledger is cleaned up first.
//
// EndSession makes the ledger terminal for events and stops the scheduler.
// Cleanup additionally cancels naming jobs. Wait blocks until every
// background goroutine has returned.
//
//	l := ledger.New(func(o *ledger.Options) {
//		o.SessionID = requestID
//		o.Sink = sink
//		o.Artifacts = pipeline
//	})
//	defer l.Cleanup()
package ledger
