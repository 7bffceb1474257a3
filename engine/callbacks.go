package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
)

// CallbackType defines the lifecycle points of a turn where callbacks run.
//
// Callbacks provide a way to hook into the turn loop without modifying it:
//   - BeforeSend/AfterSend: around every transport round-trip
//   - OnTransfer/OnDelegation: after a routing decision was applied
//   - OnComplete: after the response was streamed and persisted
//   - OnError: when the turn fails
//
// Callbacks run synchronously on the turn's goroutine. An error returned from
// BeforeSend, AfterSend, OnTransfer or OnDelegation fails the turn; errors
// from OnComplete and OnError are logged.
type CallbackType string

const (
	// CallbackBeforeSend runs before a message is sent to an agent. The
	// callback may modify CallbackContext.Message.
	CallbackBeforeSend CallbackType = "before_send"

	// CallbackAfterSend runs after an agent answered, before classification.
	CallbackAfterSend CallbackType = "after_send"

	// CallbackOnTransfer runs after the active agent was moved.
	CallbackOnTransfer CallbackType = "on_transfer"

	// CallbackOnDelegation runs after a delegated sub-task returned.
	CallbackOnDelegation CallbackType = "on_delegation"

	// CallbackOnComplete runs after a turn completed.
	CallbackOnComplete CallbackType = "on_complete"

	// CallbackOnError runs after a turn failed.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries the turn state visible to a callback. Fields that
// do not apply to a callback type are zero.
type CallbackContext struct {
	RequestID    string
	TaskID       string
	AgentID      string
	Iteration    int
	CallbackType CallbackType

	// Message is the outbound message (BeforeSend, AfterSend).
	Message *core.OutboundMessage

	// Response is the agent response (AfterSend, OnDelegation, OnComplete).
	Response *core.AgentResponse

	// TargetAgentID is the transfer or delegation target.
	TargetAgentID string

	// Err is the failure (OnError).
	Err error
}

// Callback is a turn lifecycle hook.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cbCtx *CallbackContext) error
}

// FunctionCallback adapts a function to the Callback interface.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cbCtx *CallbackContext) error
}

// NewFunctionCallback creates a callback of the given type from fn.
func NewFunctionCallback(callbackType CallbackType, fn func(ctx context.Context, cbCtx *CallbackContext) error) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, cbCtx *CallbackContext) error {
	return c.fn(ctx, cbCtx)
}

// CallbackManager holds callbacks by type and runs them in registration
// order. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// RegisterCallback adds a callback.
func (cm *CallbackManager) RegisterCallback(cb Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks[cb.Type()] = append(cm.callbacks[cb.Type()], cb)
}

// ExecuteCallbacks runs every callback of the type and stops at the first
// error.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, callbackType CallbackType, cbCtx *CallbackContext) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb.Execute(ctx, cbCtx); err != nil {
			return err
		}
	}
	return nil
}

// LoggingCallback logs every invocation at debug level.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a callback that logs turns reaching callbackType.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{callbackType: callbackType, logger: logging.OrNoOp(logger)}
}

// Type implements Callback.
func (c *LoggingCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *LoggingCallback) Execute(_ context.Context, cbCtx *CallbackContext) error {
	args := []any{
		"callback", string(c.callbackType),
		"request_id", cbCtx.RequestID,
		"agent_id", cbCtx.AgentID,
		"iteration", cbCtx.Iteration,
	}
	if cbCtx.TargetAgentID != "" {
		args = append(args, "target_agent_id", cbCtx.TargetAgentID)
	}
	if cbCtx.Err != nil {
		args = append(args, "error", cbCtx.Err)
	}
	c.logger.Debug("turn callback", args...)
	return nil
}

// AgentAllowListCallback rejects sends to agents outside an allow list. It
// runs on CallbackBeforeSend.
type AgentAllowListCallback struct {
	allowed map[string]struct{}
}

// NewAgentAllowListCallback creates a callback allowing only agentIDs.
func NewAgentAllowListCallback(agentIDs ...string) *AgentAllowListCallback {
	allowed := make(map[string]struct{}, len(agentIDs))
	for _, id := range agentIDs {
		allowed[id] = struct{}{}
	}
	return &AgentAllowListCallback{allowed: allowed}
}

// Type implements Callback.
func (c *AgentAllowListCallback) Type() CallbackType { return CallbackBeforeSend }

// Execute implements Callback.
func (c *AgentAllowListCallback) Execute(_ context.Context, cbCtx *CallbackContext) error {
	if _, ok := c.allowed[cbCtx.AgentID]; !ok {
		return &AgentNotAllowedError{AgentID: cbCtx.AgentID}
	}
	return nil
}

// AgentNotAllowedError is returned by AgentAllowListCallback.
type AgentNotAllowedError struct {
	AgentID string
}

func (e *AgentNotAllowedError) Error() string {
	return "agent " + e.AgentID + " is not allowed in this graph"
}
