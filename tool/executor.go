package tool

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentgraph/artifact"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/engine"
	"github.com/hupe1980/agentgraph/ledger"
	"github.com/hupe1980/agentgraph/logging"
)

// Runtime exposes the per-request state tool calls are recorded in.
type Runtime interface {
	ToolResults() *artifact.ToolResultRegistry
	Ledger(requestID string) (*ledger.Ledger, bool)
}

var _ Runtime = (*engine.Engine)(nil)

// ExecutorOptions configure an Executor.
type ExecutorOptions struct {
	Logger logging.Logger

	// NewCallID generates tool call ids. Defaults to "call_" + uuid.
	NewCallID func() string
}

// Executor runs registered tools on behalf of in-process agents and records
// every call against the turn it belongs to.
type Executor struct {
	runtime Runtime
	tools   *core.Registry[Tool]
	opts    ExecutorOptions
}

// CallResult is the outcome of a recorded tool call. ToolCallID is the id
// inline artifact markers use to refer to the result.
type CallResult struct {
	ToolCallID string
	Value      any
}

// NewExecutor creates an Executor recording into rt.
func NewExecutor(rt Runtime, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		NewCallID: func() string { return "call_" + uuid.NewString() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Executor{
		runtime: rt,
		tools:   core.NewRegistry[Tool](),
		opts:    opts,
	}
}

// Register adds (or replaces) tools by name.
func (x *Executor) Register(tools ...Tool) {
	for _, t := range tools {
		x.tools.Register(t.Name(), t)
	}
}

// Tool returns the registered tool with the given name.
func (x *Executor) Tool(name string) (Tool, bool) {
	return x.tools.Lookup(name)
}

// CallFor runs a tool for the turn that sent msg.
func (x *Executor) CallFor(ctx context.Context, msg core.OutboundMessage, agentID, name string, args map[string]any) (CallResult, error) {
	requestID, _ := msg.Metadata[engine.MetaRequestID].(string)
	return x.Call(ctx, requestID, agentID, name, args)
}

// Call runs a tool and records its result under requestID. Failed calls are
// recorded on the ledger with their error but not in the result registry.
func (x *Executor) Call(ctx context.Context, requestID, agentID, name string, args map[string]any) (CallResult, error) {
	t, ok := x.tools.Lookup(name)
	if !ok {
		return CallResult{}, NewToolError(name, "tool is not registered", CodeUnknownTool)
	}

	callID := x.opts.NewCallID()
	tc := &Context{
		Context:    ctx,
		RequestID:  requestID,
		AgentID:    agentID,
		ToolCallID: callID,
		logger: logging.With(x.opts.Logger,
			"request_id", requestID,
			"agent_id", agentID,
			"tool_call_id", callID,
		),
	}

	start := time.Now()
	value, err := t.Call(tc, args)
	dur := time.Since(start)

	exec := core.ToolExecutionData{
		ToolCallID: callID,
		ToolName:   name,
		Args:       args,
		Result:     value,
		Duration:   dur,
	}
	if err != nil {
		exec.Error = err.Error()
	} else {
		x.runtime.ToolResults().Record(requestID, artifact.ToolResult{
			ToolCallID: callID,
			ToolName:   name,
			AgentID:    agentID,
			Args:       args,
			Result:     value,
		})
	}

	if l, ok := x.runtime.Ledger(requestID); ok {
		l.RecordEvent(agentID, exec)
	} else if requestID != "" {
		x.opts.Logger.Debug("no ledger for tool call", "request_id", requestID, "tool", name)
	}

	if err != nil {
		var toolErr *ToolError
		if !errors.As(err, &toolErr) {
			err = &ToolError{Tool: name, Message: err.Error(), Code: CodeExecution}
		}
		return CallResult{ToolCallID: callID}, err
	}
	return CallResult{ToolCallID: callID, Value: value}, nil
}
