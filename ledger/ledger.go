package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/metrics"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/stream"
)

const (
	// DefaultMaxPendingArtifacts caps concurrently running naming jobs.
	DefaultMaxPendingArtifacts = 100
	// DefaultNamingAttempts is the number of model calls made per artifact
	// before the fallback name is written.
	DefaultNamingAttempts = 3
	// DefaultNamingTimeout bounds a single artifact's naming work.
	DefaultNamingTimeout = 30 * time.Second
	// DefaultSummaryWindow is how many previous summaries are shown to the
	// summarizer.
	DefaultSummaryWindow = 3
	// DefaultHistoryLimit is how many conversation messages are fetched for
	// prompts.
	DefaultHistoryLimit = 10
	// DefaultStatusAttempts is the number of model calls made per status
	// update before the events are left for the next trigger.
	DefaultStatusAttempts = 3
	// DefaultStatusTimeout bounds a single status generation.
	DefaultStatusTimeout = 20 * time.Second
)

// ArtifactSaver persists finalized artifacts. *artifact.Pipeline implements it.
type ArtifactSaver interface {
	SaveArtifact(ctx context.Context, a *core.Artifact) error
}

// Options configure a Ledger.
type Options struct {
	SessionID      string
	ConversationID string
	TaskID         string

	// Sink receives status summaries. It is written from background
	// goroutines and must be safe for concurrent use.
	Sink core.StreamSink

	// Messages provides conversation history for prompts.
	Messages core.ConversationStore
	// Agents resolves the originating agent's model for artifact naming.
	Agents core.ConfigStore
	// Models resolves model names from ModelSettings.
	Models model.Provider
	// ModelSettings are the graph-level model names.
	ModelSettings core.ModelSettings

	Artifacts ArtifactSaver
	Metrics   *metrics.Metrics
	Logger    logging.Logger

	MaxPendingArtifacts int64
	NamingAttempts      uint64
	StatusAttempts      uint64
	NamingTimeout       time.Duration
	StatusTimeout       time.Duration
	SummaryWindow       int
	HistoryLimit        int

	// IntervalUnit scales StatusUpdateConfig.TimeInSeconds. Defaults to
	// time.Second.
	IntervalUnit time.Duration

	// Backoff returns the retry schedule for one naming job or status
	// generation.
	Backoff func() backoff.BackOff

	Now func() time.Time
}

// Ledger is the per-turn event log. It records every agent action in order,
// drives status summaries from those events and names artifacts in the
// background.
type Ledger struct {
	opts Options

	// ctx scopes background children; Cleanup cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	events    []core.SessionEvent
	ended     bool
	cleaned   bool
	checks    map[uint64]*time.Timer
	nextCheck uint64
	stopTick  chan struct{}

	// streamMu orders streaming flips against summary writes.
	streamMu      sync.Mutex
	textStreaming atomic.Bool

	status atomic.Pointer[statusState]

	sem          *semaphore.Weighted
	pending      atomic.Int64
	namingMu     sync.Mutex
	namingErrors map[string]int

	startTime time.Time
}

var (
	_ stream.EventRecorder         = (*Ledger)(nil)
	_ stream.TextStreamingNotifier = (*Ledger)(nil)
)

// New creates a Ledger.
func New(optFns ...func(o *Options)) *Ledger {
	opts := Options{
		MaxPendingArtifacts: DefaultMaxPendingArtifacts,
		NamingAttempts:      DefaultNamingAttempts,
		StatusAttempts:      DefaultStatusAttempts,
		NamingTimeout:       DefaultNamingTimeout,
		StatusTimeout:       DefaultStatusTimeout,
		SummaryWindow:       DefaultSummaryWindow,
		HistoryLimit:        DefaultHistoryLimit,
		IntervalUnit:        time.Second,
		Now:                 time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxPendingArtifacts <= 0 {
		opts.MaxPendingArtifacts = DefaultMaxPendingArtifacts
	}
	if opts.NamingAttempts == 0 {
		opts.NamingAttempts = DefaultNamingAttempts
	}
	if opts.StatusAttempts == 0 {
		opts.StatusAttempts = DefaultStatusAttempts
	}
	if opts.SummaryWindow <= 0 {
		opts.SummaryWindow = DefaultSummaryWindow
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		}
	}
	opts.Logger = logging.With(logging.OrNoOp(opts.Logger), "session_id", opts.SessionID)

	ctx, cancel := context.WithCancel(context.Background())

	return &Ledger{
		opts:         opts,
		ctx:          ctx,
		cancel:       cancel,
		checks:       make(map[uint64]*time.Timer),
		sem:          semaphore.NewWeighted(opts.MaxPendingArtifacts),
		namingErrors: make(map[string]int),
		startTime:    opts.Now(),
	}
}

// SessionID returns the id the ledger was created for.
func (l *Ledger) SessionID() string { return l.opts.SessionID }

// RecordEvent appends an event. Events recorded after EndSession are dropped.
// A pending artifact_saved event starts background naming; any event may
// schedule an event-count status check.
func (l *Ledger) RecordEvent(agentID string, data core.EventData) {
	if data == nil {
		return
	}
	ev := core.NewSessionEvent(agentID, data)

	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		l.opts.Logger.Debug("dropping event on ended session", "event_type", ev.Type)
		return
	}
	l.events = append(l.events, ev)
	l.scheduleCountCheckLocked()
	if saved, ok := data.(core.ArtifactSavedData); ok && saved.PendingGeneration && saved.Artifact != nil {
		l.startNamingLocked(agentID, saved)
	}
	l.mu.Unlock()
}

// Events returns a copy of the recorded events in chronological order.
func (l *Ledger) Events() []core.SessionEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.SessionEvent(nil), l.events...)
}

// SetTextStreaming gates status updates while prose is streaming.
// Once it returns true, no summary is written until it is reset.
func (l *Ledger) SetTextStreaming(streaming bool) {
	l.streamMu.Lock()
	defer l.streamMu.Unlock()
	l.textStreaming.Store(streaming)
}

// IsTextStreaming reports the streaming gate.
func (l *Ledger) IsTextStreaming() bool {
	return l.textStreaming.Load()
}

// EndSession makes the ledger terminal for events and stops the status
// scheduler. Naming jobs already running keep going. Safe to call more than
// once.
func (l *Ledger) EndSession() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ended {
		return
	}
	l.ended = true

	if l.stopTick != nil {
		close(l.stopTick)
		l.stopTick = nil
	}
	for id, t := range l.checks {
		delete(l.checks, id)
		if t.Stop() {
			l.wg.Done()
		}
	}
}

// Cleanup ends the session and cancels all background children. Cancelled
// naming jobs write their fallback name before returning.
func (l *Ledger) Cleanup() {
	l.EndSession()

	l.mu.Lock()
	if l.cleaned {
		l.mu.Unlock()
		return
	}
	l.cleaned = true
	l.mu.Unlock()

	l.cancel()
}

// Wait blocks until all background work has finished.
func (l *Ledger) Wait() {
	l.wg.Wait()
}

// Summary describes a session at a point in time.
type Summary struct {
	SessionID        string
	EventCount       int
	EventsByType     map[core.EventType]int
	Agents           []string
	StartTime        time.Time
	Duration         time.Duration
	StatusUpdates    int
	PendingArtifacts int
	Ended            bool
}

// Summary returns counts over the recorded events.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	s := Summary{
		SessionID:    l.opts.SessionID,
		EventCount:   len(l.events),
		EventsByType: make(map[core.EventType]int),
		StartTime:    l.startTime,
		Duration:     l.opts.Now().Sub(l.startTime),
		Ended:        l.ended,
	}
	seen := make(map[string]struct{})
	for _, ev := range l.events {
		s.EventsByType[ev.Type]++
		if _, ok := seen[ev.AgentID]; !ok && ev.AgentID != "" {
			seen[ev.AgentID] = struct{}{}
			s.Agents = append(s.Agents, ev.AgentID)
		}
	}
	l.mu.Unlock()

	if st := l.status.Load(); st != nil {
		st.mu.Lock()
		s.StatusUpdates = st.sent
		st.mu.Unlock()
	}
	s.PendingArtifacts = int(l.pending.Load())
	return s
}

// history renders recent conversation messages, oldest first.
func (l *Ledger) history(ctx context.Context) []core.Message {
	if l.opts.Messages == nil || l.opts.ConversationID == "" {
		return nil
	}
	msgs, err := l.opts.Messages.ListMessages(ctx, l.opts.ConversationID, l.opts.HistoryLimit)
	if err != nil {
		l.opts.Logger.Warn("failed to load conversation history", "error", err)
		return nil
	}
	return msgs
}
