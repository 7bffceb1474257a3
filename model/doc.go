// Package model defines the provider‑agnostic abstractions used by agentgraph
// to talk to language models.
//
// Models are only consulted for auxiliary work: summarising session events into
// status updates and naming artifacts. Routing decisions never depend on them.
//
// Core goals:
//   - Two operations: free text (GenerateText) and schema constrained objects (GenerateObject)
//   - A Provider registry resolving the model names stored in graph / agent settings
//   - Tolerant object parsing (ParseObject) for providers that answer in prose
//   - Lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so higher layers remain decoupled from vendor SDKs.
package model
