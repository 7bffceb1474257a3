// Package engine implements the turn loop of an agent graph.
//
// The Engine drives one user message at a time through a graph of remote or
// in-process agents. It owns the loop that decides which agent speaks next,
// the per-request registries that let tools and transports find the turn's
// stream sink and session ledger, and the background work that outlives a
// turn (status updates and artifact naming).
//
// # Core Responsibilities
//
// Turn Lifecycle:
//   - Idempotent Task creation keyed by conversation and request id
//   - Initial agent selection: request, active agent, graph default
//   - Bounded iteration: at most MaxTransfers round-trips per turn
//   - Error budget: failed round-trips are tolerated up to ErrorBudget
//
// Routing:
//   - Transfers move the conversation's active agent and hand the next
//     agent a <transfer_context> message instead of the user text
//   - Delegations run a sub-task on another agent and feed its answer
//     back to the delegating agent in a <delegation_result> message
//   - Completions are streamed, persisted and close the turn
//
// Streaming:
//   - Responses not already streamed by the agent pass through a
//     stream.Assembler which resolves inline artifact markers
//   - The sink is wrapped so writes from background goroutines never
//     interleave with the loop and nothing is written after Complete
//
// Background Work:
//   - Every turn gets a ledger.Ledger that records session events, emits
//     status updates and names artifacts created during the turn
//   - A finished turn ends its ledger immediately; naming jobs keep running
//     and the request's registrations are dropped when they finish
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────┐
//	│                       Execute                             │
//	├───────────────────────────────────────────────────────────┤
//	│                      Turn Loop                            │
//	│  ┌─────────────┐ ┌─────────────┐ ┌─────────────────────┐  │
//	│  │  Classify   │ │  Callbacks  │ │   Error Budget      │  │
//	│  └─────────────┘ └─────────────┘ └─────────────────────┘  │
//	├───────────────────────────────────────────────────────────┤
//	│                  Per-Request State                        │
//	│  ┌─────────────┐ ┌─────────────┐ ┌─────────────────────┐  │
//	│  │    Sinks    │ │   Ledgers   │ │   Tool Results      │  │
//	│  └─────────────┘ └─────────────┘ └─────────────────────┘  │
//	├───────────────────────────────────────────────────────────┤
//	│                     Services                              │
//	│  ┌─────────────┐ ┌─────────────┐ ┌─────────────────────┐  │
//	│  │    Store    │ │  Transport  │ │ Artifact Pipeline   │  │
//	│  └─────────────┘ └─────────────┘ └─────────────────────┘  │
//	└───────────────────────────────────────────────────────────┘
//
// # Classification
//
// Classify maps an agent response to one of four outcomes. An explicit
// response kind wins; otherwise structured Transfer or Delegation fields
// decide, then data parts carrying a "type" or "targetAgentId". Anything
// else with content is a completion, and a response without content counts
// against the error budget.
//
// # Callback System
//
// Callbacks hook into the loop at fixed points (before and after every send,
// after transfers and delegations, on completion and on failure). They run
// synchronously on the turn's goroutine; see CallbackType for which errors
// abort the turn.
//
// # Observability
//
// Each turn opens an OpenTelemetry span with one child span per transport
// send. Outcomes, transfers, delegations and agent errors are counted when a
// metrics.Metrics is configured.
//
// # Usage
//
//	eng := engine.New(store, transport, func(o *engine.Options) {
//	    o.Models = models
//	    o.Logger = logger
//	})
//	defer eng.Close()
//
//	res := eng.Execute(ctx, engine.TurnRequest{
//	    Scope:          core.Scope{TenantID: "t1", ProjectID: "p1", GraphID: "support"},
//	    ConversationID: "conv-1",
//	    UserMessage:    "Where is my invoice?",
//	    Sink:           sink,
//	})
package engine
