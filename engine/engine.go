package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentgraph/artifact"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/ledger"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/metrics"
	"github.com/hupe1980/agentgraph/model"
)

// DefaultErrorBudget is the number of failed agent round-trips tolerated per
// turn before the turn fails.
const DefaultErrorBudget = 3

// Config defines tuning parameters for the Engine's turn loop.
//
// Graph-level settings loaded from the Store take precedence where both
// exist: a graph's MaxTransfers overrides DefaultMaxTransfers.
//
// Example:
//
//	cfg := engine.Config{
//	    DefaultMaxTransfers: 5,
//	    ErrorBudget:         3,
//	    ChunkDelay:          10 * time.Millisecond,
//	}
type Config struct {
	// DefaultMaxTransfers bounds loop iterations when the graph does not set
	// its own limit.
	DefaultMaxTransfers int

	// ErrorBudget is the number of no-response or unrecognized responses
	// after which the turn fails. The failing round-trip is counted, so a
	// budget of 3 fails on the third error.
	ErrorBudget int

	// ChunkDelay is forwarded to StreamSink.StreamText for every text chunk.
	ChunkDelay time.Duration

	// NamingTimeout bounds background artifact naming per artifact.
	NamingTimeout time.Duration

	// MaxPendingArtifacts caps concurrent naming jobs per turn.
	MaxPendingArtifacts int64
}

// DefaultConfig provides the default turn loop configuration.
//
// Configuration values:
//   - DefaultMaxTransfers: 10
//   - ErrorBudget: 3
//   - ChunkDelay: 0 (stream as fast as the sink accepts)
//   - NamingTimeout: 30s
//   - MaxPendingArtifacts: 100
var DefaultConfig = Config{
	DefaultMaxTransfers: core.DefaultMaxTransfers,
	ErrorBudget:         DefaultErrorBudget,
	NamingTimeout:       ledger.DefaultNamingTimeout,
	MaxPendingArtifacts: ledger.DefaultMaxPendingArtifacts,
}

// Options configures an Engine instance using the functional options pattern.
//
// Only the Store and Transport are required and are passed to New directly.
// Everything else has a working default:
//   - Pipeline: an artifact.Pipeline backed by the same Store
//   - Models: none, which disables status updates and falls back to
//     deterministic artifact names
//   - Metrics: nil, which records nothing
//   - Tracer: the global OpenTelemetry tracer
//   - Logger: NoOp
//
// Example:
//
//	eng := engine.New(store, transport, func(o *engine.Options) {
//	    o.Models = registry
//	    o.Metrics = metrics.New(prometheus.DefaultRegisterer)
//	    o.Logger = logger
//	})
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Pipeline extracts and resolves artifacts for inline markers.
	Pipeline *artifact.Pipeline

	// Models resolves the summarizer and base model names of a graph.
	Models model.Provider

	// Metrics records turn outcomes. Nil disables metrics.
	Metrics *metrics.Metrics

	// Tracer creates one span per turn and one per transport send.
	Tracer trace.Tracer

	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger
}

// Engine runs turns of an agent graph.
//
// Each call to Execute drives one user message through the graph: it creates
// the turn's Task idempotently, sends the message to the active agent via the
// Transport, follows transfers and delegations, and streams the final answer
// to the caller's sink. The Engine owns the per-request registries (stream
// sinks, session ledgers) and the shared tool-result registry; all entries
// are removed when their turn and its background work finish.
//
// Concurrency Model:
//   - Execute is safe for concurrent use; turns share only the Store, the
//     artifact pipeline and the registries, all keyed by request id
//   - A single turn is sequential: one transport round-trip at a time
//   - Status updates and artifact naming run in the background and never
//     fail a turn
//
// Error Handling:
//   - Transport errors and empty responses count against the error budget
//   - Budget exhaustion fails the turn, marks the Task failed and writes an
//     error operation to the sink
//   - Panics are recovered at the Execute boundary and reported the same way
type Engine struct {
	store     core.Store
	transport core.Transport
	config    Config
	pipeline  *artifact.Pipeline
	models    model.Provider
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    logging.Logger
	callbacks *CallbackManager

	sinks   *core.Registry[core.StreamSink]
	ledgers *core.Registry[*ledger.Ledger]

	// background tracks ledgers finishing their naming work after a turn.
	background sync.WaitGroup
}

// New creates an Engine for the given Store and Transport.
//
// Zero values in the supplied Config fall back to DefaultConfig field by
// field, so callers only set what they need.
func New(store core.Store, transport core.Transport, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := opts.Config
	if cfg.DefaultMaxTransfers <= 0 {
		cfg.DefaultMaxTransfers = DefaultConfig.DefaultMaxTransfers
	}
	if cfg.ErrorBudget <= 0 {
		cfg.ErrorBudget = DefaultConfig.ErrorBudget
	}
	if cfg.NamingTimeout <= 0 {
		cfg.NamingTimeout = DefaultConfig.NamingTimeout
	}
	if cfg.MaxPendingArtifacts <= 0 {
		cfg.MaxPendingArtifacts = DefaultConfig.MaxPendingArtifacts
	}

	logger := logging.OrNoOp(opts.Logger)

	pipeline := opts.Pipeline
	if pipeline == nil {
		pipeline = artifact.New(func(o *artifact.Options) {
			o.Store = store
			o.Tasks = store
			o.Logger = logger
		})
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/hupe1980/agentgraph/engine")
	}

	return &Engine{
		store:     store,
		transport: transport,
		config:    cfg,
		pipeline:  pipeline,
		models:    opts.Models,
		metrics:   opts.Metrics,
		tracer:    tracer,
		logger:    logger,
		callbacks: NewCallbackManager(),
		sinks:     core.NewRegistry[core.StreamSink](),
		ledgers:   core.NewRegistry[*ledger.Ledger](),
	}
}

// TurnRequest is the input of one turn.
type TurnRequest struct {
	Scope          core.Scope
	ConversationID string
	UserMessage    string

	// InitialAgentID is the agent that receives the message first. When
	// empty the conversation's active agent, then the graph's default agent
	// is used.
	InitialAgentID string

	// RequestID identifies the request. Retries of the same request must
	// reuse it so they resolve to the same Task. Generated when empty.
	RequestID string

	Sink core.StreamSink
}

// Result is the outcome of one turn.
type Result struct {
	Success    bool
	Err        error
	Iterations int
	TaskID     string

	// Response is the completing agent's response with its parts replaced by
	// the parts actually streamed to the sink.
	Response *core.AgentResponse
}

// Execute runs one turn. It never panics and never returns a Go error;
// failures are reported through Result and the sink.
func (e *Engine) Execute(ctx context.Context, req TurnRequest) (res Result) {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, span := e.tracer.Start(ctx, "agentgraph.turn", trace.WithAttributes(
		attribute.String("agentgraph.request_id", req.RequestID),
		attribute.String("agentgraph.conversation_id", req.ConversationID),
		attribute.String("agentgraph.graph_id", req.Scope.GraphID),
	))

	t := &turn{
		engine:  e,
		req:     req,
		taskID:  core.TaskID(req.ConversationID, req.RequestID),
		outcome: metrics.OutcomeCompleted,
		logger: logging.With(e.logger,
			"request_id", req.RequestID,
			"conversation_id", req.ConversationID,
		),
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("turn panicked: %v", r)
			t.logger.Error("recovered from panic", "panic", r, "stack", string(debug.Stack()))
			res = t.recoverFailure(ctx, err)
		}
		t.finish()

		e.metrics.TurnFinished(t.outcome, time.Since(start).Seconds())
		span.SetAttributes(
			attribute.Int("agentgraph.iterations", res.Iterations),
			attribute.String("agentgraph.outcome", t.outcome),
		)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.End()
	}()

	if req.Sink == nil {
		t.outcome = metrics.OutcomeTaskUnavailable
		return Result{Err: errors.New("turn request without sink"), TaskID: t.taskID}
	}
	t.sink = newLockedSink(req.Sink)

	return t.run(ctx)
}

// RegisterCallback adds a turn lifecycle hook.
func (e *Engine) RegisterCallback(cb Callback) {
	e.callbacks.RegisterCallback(cb)
}

// Ledger returns the session ledger of an in-flight request so in-process
// tools can record events against it.
func (e *Engine) Ledger(requestID string) (*ledger.Ledger, bool) {
	return e.ledgers.Lookup(requestID)
}

// Sink returns the stream sink of an in-flight request.
func (e *Engine) Sink(requestID string) (core.StreamSink, bool) {
	return e.sinks.Lookup(requestID)
}

// ToolResults returns the registry in-process tools record their results in,
// keyed by request id.
func (e *Engine) ToolResults() *artifact.ToolResultRegistry {
	return e.pipeline.ToolResults()
}

// Pipeline returns the artifact pipeline used by the engine.
func (e *Engine) Pipeline() *artifact.Pipeline {
	return e.pipeline
}

// Close cancels background work of finished turns and waits for it. Naming
// jobs still running write their fallback names before Close returns.
func (e *Engine) Close() error {
	for _, l := range e.ledgers.Drain() {
		l.Cleanup()
	}
	e.background.Wait()
	return nil
}

// release hands a finished turn's ledger to a background goroutine that
// waits for its naming work before dropping its hold on the request's
// session state. Duplicate turns of the same request keep it alive.
func (e *Engine) release(requestID string, l *ledger.Ledger) {
	e.pipeline.ToolResults().Release(requestID)

	e.background.Add(1)
	go func() {
		defer e.background.Done()
		l.Wait()
		l.Cleanup()
		if current, ok := e.ledgers.Lookup(requestID); ok && current == l {
			e.ledgers.Unregister(requestID)
		}
		e.pipeline.ReleaseSession(requestID)
	}()
}

func (e *Engine) resolveModel(name string) model.Model {
	if name == "" || e.models == nil {
		return nil
	}
	m, ok := e.models.Model(name)
	if !ok {
		return nil
	}
	return m
}
