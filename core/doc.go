// Package core provides the foundational domain types and collaborator
// interfaces of agentgraph. It defines:
//
//   - Tasks, messages and parts (the persisted record of a turn)
//   - SessionEvents, a closed sum type of agent actions recorded per turn
//   - Artifacts, two-tier excerpts of tool results, and their extraction requests
//   - Graph, agent and status-update configuration
//   - The Store, Transport and StreamSink collaborators
//   - Registry and Budget helpers shared by the runtime packages
//
// The package keeps implementation concerns (persistence backends, model
// providers, the execution loop) out of scope, exposing small interfaces so
// alternative backends can be substituted in tests or production.
package core
