package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/ledger"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/metrics"
	"github.com/hupe1980/agentgraph/stream"
)

// Message roles used on the transport and in persisted messages.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Metadata keys attached to outbound messages.
const (
	MetaRequestID    = "requestId"
	MetaTaskID       = "taskId"
	MetaFromAgentID  = "fromAgentId"
	MetaDelegation   = "delegation"
	MetaDelegationID = "delegationId"
)

// TransferMessage is the message a transfer target receives instead of the
// original user text.
func TransferMessage(reason string) string {
	return fmt.Sprintf("<transfer_context> %s </transfer_context>", reason)
}

// DelegationResultMessage is the message a delegating agent receives with
// the delegate's answer.
func DelegationResultMessage(agentID, result string) string {
	return fmt.Sprintf("<delegation_result agent=%q> %s </delegation_result>", agentID, result)
}

// turn is the state of one Execute call.
type turn struct {
	engine *Engine
	req    TurnRequest
	sink   *lockedSink
	logger logging.Logger

	graph  *core.GraphConfig
	ledger *ledger.Ledger
	task   *core.Task
	taskID string

	current     string
	knownActive string
	fromAgentID string
	message     string
	iterations  int
	errBudget   *core.Budget
	outcome     string
}

func (t *turn) run(ctx context.Context) Result {
	e := t.engine

	e.sinks.Register(t.req.RequestID, t.sink)

	t.graph = t.loadGraph(ctx)
	e.pipeline.ToolResults().Acquire(t.req.RequestID)
	e.pipeline.AcquireSession(t.req.RequestID)
	t.ledger = ledger.New(func(o *ledger.Options) {
		o.SessionID = t.req.RequestID
		o.ConversationID = t.req.ConversationID
		o.TaskID = t.taskID
		o.Sink = t.sink
		o.Messages = e.store
		o.Agents = e.store
		o.Models = e.models
		o.ModelSettings = t.graph.Models
		o.Artifacts = e.pipeline
		o.Metrics = e.metrics
		o.Logger = e.logger
		o.NamingTimeout = e.config.NamingTimeout
		o.MaxPendingArtifacts = e.config.MaxPendingArtifacts
	})
	e.ledgers.Register(t.req.RequestID, t.ledger)

	if su := t.graph.StatusUpdates; su != nil && su.Enabled {
		summarizer := e.resolveModel(t.graph.Models.Summarizer)
		base := e.resolveModel(t.graph.Models.Base)
		if err := t.ledger.InitializeStatusUpdates(su, summarizer, base); err != nil {
			t.logger.Warn("status updates disabled", "error", err)
		}
	}

	if err := t.ensureTask(ctx); err != nil {
		return t.fail(ctx, metrics.OutcomeTaskUnavailable, err)
	}

	if err := t.selectInitialAgent(ctx); err != nil {
		return t.fail(ctx, metrics.OutcomeTaskUnavailable, err)
	}

	if err := t.sink.WriteOperation(core.OperationEvent{
		Type:    core.OperationAgentInitializing,
		Context: map[string]any{"agentId": t.current, "taskId": t.taskID},
	}); err != nil {
		return t.fail(ctx, metrics.OutcomeTaskUnavailable, fmt.Errorf("write operation: %w", err))
	}

	t.message = t.req.UserMessage
	t.errBudget = core.NewBudget("agent error", e.config.ErrorBudget)
	limit := t.transferLimit()

	for t.iterations < limit {
		if err := ctx.Err(); err != nil {
			return t.fail(ctx, metrics.OutcomeCanceled, err)
		}
		t.iterations++
		t.followActiveAgent(ctx)

		msg := t.outbound(t.message)
		if t.fromAgentID != "" {
			msg.Metadata[MetaFromAgentID] = t.fromAgentID
		}
		if err := t.callback(ctx, CallbackBeforeSend, &CallbackContext{Message: &msg}); err != nil {
			return t.fail(ctx, metrics.OutcomeTaskUnavailable, err)
		}

		sent := time.Now()
		resp, err := t.send(ctx, t.current, msg)
		if err != nil {
			if done, res := t.agentError(ctx, "transport", err); done {
				return res
			}
			continue
		}
		if err := t.callback(ctx, CallbackAfterSend, &CallbackContext{Message: &msg, Response: resp}); err != nil {
			return t.fail(ctx, metrics.OutcomeTaskUnavailable, err)
		}

		c := Classify(resp)
		switch c.Kind {
		case core.ResponseTransfer:
			if c.TargetAgentID == "" {
				if done, res := t.agentError(ctx, "invalid_transfer", errors.New("transfer without target agent")); done {
					return res
				}
				continue
			}
			if err := t.transfer(ctx, c); err != nil {
				return t.fail(ctx, metrics.OutcomeTaskUnavailable, err)
			}

		case core.ResponseDelegation:
			if err := t.delegate(ctx, c); err != nil {
				if done, res := t.agentError(ctx, "delegation", err); done {
					return res
				}
			}

		case core.ResponseCompletion:
			return t.complete(ctx, resp, sent)

		default:
			if done, res := t.agentError(ctx, "no_response", fmt.Errorf("agent %s returned no usable response", t.current)); done {
				return res
			}
		}
	}

	return t.fail(ctx, metrics.OutcomeTransferLimit, fmt.Errorf("exceeded maximum transfers (%d) without completion", limit))
}

func (t *turn) loadGraph(ctx context.Context) *core.GraphConfig {
	cfg, err := t.engine.store.GetGraphConfig(ctx, t.req.Scope)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			t.logger.Warn("failed to load graph config, using defaults", "error", err)
		}
		return &core.GraphConfig{ID: t.req.Scope.GraphID}
	}
	return cfg
}

func (t *turn) transferLimit() int {
	if t.graph.MaxTransfers > 0 {
		return t.graph.MaxTransfers
	}
	return t.engine.config.DefaultMaxTransfers
}

// ensureTask creates the turn's Task. A unique-constraint conflict means a
// retry of the same request already created it; the existing row is reused.
func (t *turn) ensureTask(ctx context.Context) error {
	store := t.engine.store
	now := time.Now().UTC()
	task := &core.Task{
		ID:        t.taskID,
		Scope:     t.req.Scope,
		ContextID: t.req.ConversationID,
		AgentID:   t.req.InitialAgentID,
		Status:    core.TaskPending,
		Metadata: map[string]any{
			"rootAgent": t.req.InitialAgentID,
			"requestId": t.req.RequestID,
			"createdAt": now.Format(time.RFC3339),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := store.CreateTask(ctx, task)
	switch {
	case err == nil:
		t.task = task
		return t.persistUserMessage(ctx)
	case errors.Is(err, core.ErrAlreadyExists):
		existing, gerr := store.GetTask(ctx, t.taskID)
		if gerr != nil {
			return fmt.Errorf("reuse task %s: %w", t.taskID, gerr)
		}
		t.logger.Debug("task already exists, reusing", "task_id", t.taskID)
		t.task = existing
		return nil
	default:
		return fmt.Errorf("create task %s: %w", t.taskID, err)
	}
}

func (t *turn) persistUserMessage(ctx context.Context) error {
	if t.req.UserMessage == "" {
		return nil
	}
	err := t.engine.store.CreateMessage(ctx, &core.Message{
		ID:             uuid.NewString(),
		ConversationID: t.req.ConversationID,
		TaskID:         t.taskID,
		Role:           RoleUser,
		Text:           t.req.UserMessage,
		Parts:          []core.Part{core.TextPart{Text: t.req.UserMessage}},
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}
	return nil
}

func (t *turn) selectInitialAgent(ctx context.Context) error {
	if active, err := t.engine.store.GetActiveAgent(ctx, t.req.ConversationID); err == nil {
		t.knownActive = active
	}
	t.current = t.req.InitialAgentID
	if t.current == "" {
		t.current = t.knownActive
	}
	if t.current == "" {
		t.current = t.graph.DefaultAgentID
	}
	if t.current == "" {
		return errors.New("no agent to run: request, conversation and graph name none")
	}
	return nil
}

// followActiveAgent switches to the conversation's active agent when another
// process moved the pointer since it was last read.
func (t *turn) followActiveAgent(ctx context.Context) {
	active, err := t.engine.store.GetActiveAgent(ctx, t.req.ConversationID)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			t.logger.Warn("failed to read active agent", "error", err)
		}
		return
	}
	if active == "" || active == t.knownActive {
		return
	}
	t.knownActive = active
	if active != t.current {
		t.logger.Info("active agent changed", "from", t.current, "to", active)
		t.current = active
	}
}

func (t *turn) outbound(text string) core.OutboundMessage {
	return core.OutboundMessage{
		Role:      RoleUser,
		Parts:     []core.Part{core.TextPart{Text: text}},
		MessageID: uuid.NewString(),
		ContextID: t.req.ConversationID,
		Metadata: map[string]any{
			MetaRequestID: t.req.RequestID,
			MetaTaskID:    t.taskID,
		},
	}
}

func (t *turn) send(ctx context.Context, agentID string, msg core.OutboundMessage) (*core.AgentResponse, error) {
	ctx, span := t.engine.tracer.Start(ctx, "agentgraph.send", trace.WithAttributes(
		attribute.String("agentgraph.agent_id", agentID),
		attribute.Int("agentgraph.iteration", t.iterations),
	))
	defer span.End()

	resp, err := t.engine.transport.SendMessage(ctx, agentID, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

// agentError counts a failed round-trip. done reports that the budget is
// exhausted and res is the failed result.
func (t *turn) agentError(ctx context.Context, kind string, cause error) (bool, Result) {
	t.engine.metrics.AgentError(kind)
	t.logger.Warn("agent round-trip failed",
		"agent_id", t.current,
		"iteration", t.iterations,
		"kind", kind,
		"error", cause,
	)
	if err := t.errBudget.Increment(); err != nil {
		return true, t.fail(ctx, metrics.OutcomeErrorBudget, fmt.Errorf("%w: last error: %v", err, cause))
	}
	return false, Result{}
}

func (t *turn) transfer(ctx context.Context, c Classification) error {
	from := t.current
	t.ledger.RecordEvent(from, core.TransferData{FromAgentID: from, ToAgentID: c.TargetAgentID, Reason: c.Reason})

	if err := t.engine.store.SetActiveAgent(ctx, t.req.ConversationID, c.TargetAgentID); err != nil {
		return fmt.Errorf("transfer to %s: %w", c.TargetAgentID, err)
	}
	t.engine.metrics.Transfer()
	t.logger.Info("transferred", "from", from, "to", c.TargetAgentID, "reason", c.Reason)

	t.message = TransferMessage(c.Reason)
	t.fromAgentID = from
	t.current = c.TargetAgentID
	t.knownActive = c.TargetAgentID

	return t.callback(ctx, CallbackOnTransfer, &CallbackContext{TargetAgentID: c.TargetAgentID})
}

// delegate runs a sub-task on another agent and feeds its answer back to the
// current agent as the next message.
func (t *turn) delegate(ctx context.Context, c Classification) error {
	if c.TargetAgentID == "" {
		return errors.New("delegation without target agent")
	}
	id := uuid.NewString()
	from := t.current
	t.ledger.RecordEvent(from, core.DelegationSentData{
		DelegationID: id,
		FromAgentID:  from,
		ToAgentID:    c.TargetAgentID,
		TaskText:     c.Message,
	})

	msg := t.outbound(c.Message)
	msg.Metadata[MetaFromAgentID] = from
	msg.Metadata[MetaDelegation] = true
	msg.Metadata[MetaDelegationID] = id

	resp, err := t.send(ctx, c.TargetAgentID, msg)
	if err != nil {
		return fmt.Errorf("delegate to %s: %w", c.TargetAgentID, err)
	}
	var result string
	if resp != nil {
		result = core.JoinText(resp.Parts)
	}
	if result == "" {
		return fmt.Errorf("delegate %s returned no result", c.TargetAgentID)
	}

	t.ledger.RecordEvent(c.TargetAgentID, core.DelegationReturnedData{
		DelegationID: id,
		FromAgentID:  from,
		ToAgentID:    c.TargetAgentID,
		ResultText:   result,
	})
	t.engine.metrics.Delegation()

	t.message = DelegationResultMessage(c.TargetAgentID, result)
	t.fromAgentID = ""

	return t.callback(ctx, CallbackOnDelegation, &CallbackContext{TargetAgentID: c.TargetAgentID, Response: resp})
}

// complete streams the response, persists it and closes the turn.
func (t *turn) complete(ctx context.Context, resp *core.AgentResponse, sent time.Time) Result {
	e := t.engine

	parts := resp.Parts
	if !resp.Streamed {
		streamed, err := t.stream(ctx, resp.Parts)
		if err != nil {
			return t.fail(ctx, metrics.OutcomeTaskUnavailable, err)
		}
		parts = streamed
	}
	text := core.JoinText(parts)

	if err := e.store.CreateMessage(ctx, &core.Message{
		ID:             uuid.NewString(),
		ConversationID: t.req.ConversationID,
		TaskID:         t.taskID,
		Role:           RoleAgent,
		AgentID:        t.current,
		Text:           text,
		Parts:          parts,
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		return t.fail(ctx, metrics.OutcomeTaskUnavailable, fmt.Errorf("persist response: %w", err))
	}

	if err := e.store.UpdateTask(ctx, t.taskID, core.TaskUpdate{
		Status: core.TaskCompleted,
		Metadata: map[string]any{
			"response": map[string]any{
				"agentId":   t.current,
				"text":      text,
				"partCount": len(parts),
			},
			"iterations":  t.iterations,
			"completedAt": time.Now().UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return t.fail(ctx, metrics.OutcomeTaskUnavailable, fmt.Errorf("complete task: %w", err))
	}

	t.ledger.RecordEvent(t.current, core.AgentGenerateData{
		Text:      text,
		PartCount: len(parts),
		Duration:  time.Since(sent),
	})

	if err := t.sink.WriteOperation(core.OperationEvent{
		Type: core.OperationCompletion,
		Context: map[string]any{
			"agentId":    t.current,
			"taskId":     t.taskID,
			"iterations": t.iterations,
		},
	}); err != nil {
		t.logger.Warn("failed to write completion operation", "error", err)
	}
	if err := t.sink.Complete(); err != nil {
		t.logger.Warn("failed to complete sink", "error", err)
	}

	out := *resp
	out.Parts = parts
	if err := t.callback(ctx, CallbackOnComplete, &CallbackContext{Response: &out}); err != nil {
		t.logger.Warn("completion callback failed", "error", err)
	}

	t.logger.Info("turn completed", "agent_id", t.current, "iterations", t.iterations)
	return Result{Success: true, Iterations: t.iterations, TaskID: t.taskID, Response: &out}
}

// stream writes response parts through an Assembler so inline artifact
// markers and structured components are resolved in order.
func (t *turn) stream(ctx context.Context, parts []core.Part) ([]core.Part, error) {
	e := t.engine

	prefetched, err := e.pipeline.GetContextArtifacts(ctx, t.req.ConversationID)
	if err != nil {
		t.logger.Warn("failed to prefetch context artifacts", "error", err)
		prefetched = nil
	}

	asm := stream.New(t.sink, func(o *stream.Options) {
		o.Pipeline = e.pipeline
		o.Artifacts = prefetched
		o.SessionID = t.req.RequestID
		o.TaskID = t.taskID
		o.ContextID = t.req.ConversationID
		o.AgentID = t.current
		o.Scope = t.req.Scope
		o.ChunkDelay = e.config.ChunkDelay
		o.Notifier = t.ledger
		o.Recorder = t.ledger
		o.Logger = e.logger
	})

	if err := t.sink.WriteRole(RoleAgent); err != nil {
		return nil, fmt.Errorf("write role: %w", err)
	}
	for _, p := range parts {
		switch p := p.(type) {
		case core.TextPart:
			err = asm.ProcessTextChunk(ctx, p.Text)
		case core.DataPart:
			err = asm.ProcessDataPart(ctx, p.Kind, p.Data)
		}
		if err != nil {
			_ = asm.Finalize(ctx)
			return nil, fmt.Errorf("stream response: %w", err)
		}
	}
	if err := asm.Finalize(ctx); err != nil {
		return nil, fmt.Errorf("stream response: %w", err)
	}
	return asm.CollectedParts(), nil
}

// fail reports a fatal error to the sink, marks the Task failed and returns
// the failed result.
func (t *turn) fail(ctx context.Context, outcome string, err error) Result {
	t.outcome = outcome
	t.logger.Error("turn failed", "agent_id", t.current, "iterations", t.iterations, "error", err)

	if t.sink != nil {
		if werr := t.sink.WriteOperation(core.OperationEvent{
			Type: core.OperationError,
			Context: map[string]any{
				"error":   err.Error(),
				"agentId": t.current,
				"taskId":  t.taskID,
			},
		}); werr != nil {
			t.logger.Warn("failed to write error operation", "error", werr)
		}
		if cerr := t.sink.Complete(); cerr != nil {
			t.logger.Warn("failed to complete sink", "error", cerr)
		}
	}

	if t.task != nil {
		// record the failure even when ctx was cancelled
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if uerr := t.engine.store.UpdateTask(uctx, t.taskID, core.TaskUpdate{
			Status: core.TaskFailed,
			Metadata: map[string]any{
				"error":      err.Error(),
				"iterations": t.iterations,
				"failedAt":   time.Now().UTC().Format(time.RFC3339),
			},
		}); uerr != nil {
			t.logger.Error("failed to mark task failed", "task_id", t.taskID, "error", uerr)
		}
	}

	if cerr := t.callback(ctx, CallbackOnError, &CallbackContext{Err: err}); cerr != nil {
		t.logger.Warn("error callback failed", "error", cerr)
	}

	return Result{Success: false, Err: err, Iterations: t.iterations, TaskID: t.taskID}
}

// recoverFailure is fail for the panic path. A panic inside fail itself is
// not retried.
func (t *turn) recoverFailure(ctx context.Context, err error) (res Result) {
	res = Result{Success: false, Err: err, Iterations: t.iterations, TaskID: t.taskID}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic while reporting failure", "panic", r)
		}
		t.outcome = metrics.OutcomePanic
	}()
	return t.fail(ctx, metrics.OutcomePanic, err)
}

// finish ends the ledger and releases per-request registrations.
func (t *turn) finish() {
	e := t.engine
	if t.sink != nil {
		if current, ok := e.sinks.Lookup(t.req.RequestID); ok && current == core.StreamSink(t.sink) {
			e.sinks.Unregister(t.req.RequestID)
		}
	}
	if t.ledger != nil {
		t.ledger.EndSession()
		e.release(t.req.RequestID, t.ledger)
	}
}

func (t *turn) callback(ctx context.Context, typ CallbackType, cbCtx *CallbackContext) error {
	cbCtx.RequestID = t.req.RequestID
	cbCtx.TaskID = t.taskID
	cbCtx.AgentID = t.current
	cbCtx.Iteration = t.iterations
	cbCtx.CallbackType = typ
	return t.engine.callbacks.ExecuteCallbacks(ctx, typ, cbCtx)
}
