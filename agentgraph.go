// Package agentgraph provides a high-level façade over the turn engine and its
// services (store, transport, artifact pipeline, models and logging) so an
// agent graph can be served with a few lines of setup. Most applications
// interact with this package by:
//  1. Creating an AgentGraph via New() (optionally overriding the in-memory
//     store and local transport)
//  2. Seeding graphs, agents and artifact component schemas (ApplySeed)
//  3. Executing turns against a StreamSink (Execute)
//
// The façade delegates orchestration to engine.Engine while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a SQL store, a remote
// transport and a structured logger.
package agentgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentgraph/artifact"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/engine"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/metrics"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/store"
	"github.com/hupe1980/agentgraph/transport"
)

// Options configures the AgentGraph instance.
type Options struct {
	// EngineConfig tunes the turn loop (transfer limit, error budget,
	// streaming and naming).
	EngineConfig engine.Config

	// Store persists tasks, messages and artifacts and resolves graph and
	// agent configuration. Defaults to an in-memory store.
	Store core.Store

	// Transport delivers messages to agents. Defaults to a local transport
	// reachable through Local().
	Transport core.Transport

	// Models resolves model names used for status updates and artifact
	// naming. Nil disables both model-backed features.
	Models model.Provider

	// Metrics records runtime collectors. Nil disables metrics.
	Metrics *metrics.Metrics

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// AgentGraph is the high-level façade aggregating the engine and its services.
type AgentGraph struct {
	opts     Options
	pipeline *artifact.Pipeline
	engine   *engine.Engine
}

// New creates a new AgentGraph instance with optional overrides. Any unset
// service is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *AgentGraph {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Transport == nil {
		opts.Transport = transport.NewLocal(func(o *transport.LocalOptions) {
			o.Logger = opts.Logger
		})
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	pipeline := artifact.New(func(o *artifact.Options) {
		o.Store = opts.Store
		o.Tasks = opts.Store
		o.Logger = opts.Logger
	})

	eng := engine.New(opts.Store, opts.Transport, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Pipeline = pipeline
		o.Models = opts.Models
		o.Metrics = opts.Metrics
		o.Logger = opts.Logger
	})

	return &AgentGraph{opts: opts, pipeline: pipeline, engine: eng}
}

// Engine returns the underlying turn engine.
func (g *AgentGraph) Engine() *engine.Engine { return g.engine }

// Local returns the default local transport, or nil when a custom transport
// was configured.
func (g *AgentGraph) Local() *transport.Local {
	l, _ := g.opts.Transport.(*transport.Local)
	return l
}

// RegisterSchema registers an artifact component schema with the pipeline.
func (g *AgentGraph) RegisterSchema(s core.ComponentSchema) {
	g.pipeline.RegisterSchema(s)
}

// RegisterCallback adds a turn lifecycle hook.
func (g *AgentGraph) RegisterCallback(cb engine.Callback) {
	g.engine.RegisterCallback(cb)
}

// ApplySeed registers the seed's component schemas and writes its graphs and
// agents to the configured store. Only the in-memory and SQL stores can be
// seeded.
func (g *AgentGraph) ApplySeed(ctx context.Context, seed *store.Seed) error {
	if seed == nil {
		return errors.New("nil seed")
	}
	for _, c := range seed.Components {
		g.pipeline.RegisterSchema(c)
	}

	switch s := g.opts.Store.(type) {
	case *store.MemoryStore:
		seed.ApplyMemory(s)
		return nil
	case *store.SQLStore:
		return seed.ApplySQL(ctx, s)
	default:
		return fmt.Errorf("cannot seed store of type %T", g.opts.Store)
	}
}

// Execute runs one turn. See engine.Engine.Execute.
func (g *AgentGraph) Execute(ctx context.Context, req engine.TurnRequest) engine.Result {
	return g.engine.Execute(ctx, req)
}

// Close waits for background work of finished turns.
func (g *AgentGraph) Close() error {
	return g.engine.Close()
}
