// Package tool implements in-process tools for agents served on the local
// transport. A tool call is validated against the tool's parameter schema,
// executed, and its result recorded where the rest of the turn can see it: the
// tool-result registry (so inline artifact markers can extract from it) and
// the session ledger (so status updates can summarize it).
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentgraph/logging"
)

// Tool defines the interface for capabilities an in-process agent can call.
//
// Tool implementations should:
//   - Provide clear, descriptive names (snake_case recommended)
//   - Define a JSON schema for their parameters
//   - Return JSON-serializable results, since artifacts are extracted from
//     them with selectors
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with validated arguments.
	Call(tc *Context, args map[string]any) (any, error)
}

// Context is passed to every tool call. It embeds the caller's context and
// identifies the turn and call the tool runs in.
type Context struct {
	context.Context

	RequestID  string
	AgentID    string
	ToolCallID string

	logger logging.Logger
}

// Logger returns a logger annotated with the call's identifiers.
func (c *Context) Logger() logging.Logger {
	return logging.OrNoOp(c.logger)
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Error codes used by FunctionTool and the Executor.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeExecution   = "EXECUTION_ERROR"
	CodeUnknownTool = "UNKNOWN_TOOL"
)
