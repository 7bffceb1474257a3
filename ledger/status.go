package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/util"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/model"
)

// NoUpdateKey is the schema option a summarizer picks when nothing new is
// worth telling the user.
const NoUpdateKey = "no_relevant_updates"

var errTextStreaming = errors.New("text is streaming")

// ErrNoStatusModel is returned when status updates are enabled without a
// summarizer or base model.
var ErrNoStatusModel = errors.New("status updates require a summarizer or base model")

// DefaultStatusComponents are used when a graph enables status updates
// without declaring any components.
var DefaultStatusComponents = []core.StatusComponent{
	{
		Type:        "progress",
		Description: "What was found or accomplished since the last update, phrased for the user.",
		DetailsSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{"type": "string", "description": "One or two sentences of detail."},
			},
		},
	},
}

const statusInstructions = `You write short progress updates for a user waiting on an answer.
Describe only what has been found or done, in plain language.
Never mention internal systems, agents, hand-offs, tools by their internal names, or storage.
Do not repeat earlier updates. If nothing new is worth saying, choose ` + NoUpdateKey + `.`

const defaultStatusPrompt = `{{if .history}}Conversation so far:
{{.history}}

{{end}}New activity:
{{.events}}
{{if .previous}}
Updates already shown to the user:
{{.previous}}
{{end}}`

// statusState is the transient scheduler state of one session.
type statusState struct {
	cfg        core.StatusUpdateConfig
	components []core.StatusComponent
	summarizer model.Model
	base       model.Model
	schema     map[string]any
	compiled   *jsonschema.Schema
	prompt     *template.Template

	// lock serializes generations across both triggers.
	lock  atomic.Bool
	rerun atomic.Bool

	mu             sync.Mutex
	startTime      time.Time
	lastUpdateTime time.Time
	lastEventCount int
	summaries      []string
	sent           int
}

func (s *statusState) model() model.Model {
	if s.summarizer != nil {
		return s.summarizer
	}
	return s.base
}

// InitializeStatusUpdates enables status summaries for this session. A nil or
// disabled config is a no-op. It starts the wall-clock trigger when
// TimeInSeconds is set; NumEvents enables the event-count trigger.
func (l *Ledger) InitializeStatusUpdates(cfg *core.StatusUpdateConfig, summarizer, base model.Model) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if summarizer == nil && base == nil {
		return ErrNoStatusModel
	}

	components := cfg.Components
	if len(components) == 0 {
		components = DefaultStatusComponents
	}
	schema := statusSchema(components)
	compiled, err := util.CompileSchema("status_update", schema)
	if err != nil {
		return err
	}
	prompt, err := parseStatusPrompt(cfg.Prompt)
	if err != nil {
		return err
	}

	now := l.opts.Now()
	st := &statusState{
		cfg:            *cfg,
		components:     components,
		summarizer:     summarizer,
		base:           base,
		schema:         schema,
		compiled:       compiled,
		prompt:         prompt,
		startTime:      now,
		lastUpdateTime: now,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ended {
		return nil
	}
	if !l.status.CompareAndSwap(nil, st) {
		return errors.New("status updates already initialized")
	}
	if cfg.TimeInSeconds > 0 {
		stop := make(chan struct{})
		l.stopTick = stop
		l.wg.Add(1)
		go l.runTicker(time.Duration(cfg.TimeInSeconds)*l.opts.IntervalUnit, stop)
	}
	return nil
}

func (l *Ledger) runTicker(interval time.Duration, stop <-chan struct{}) {
	defer l.wg.Done()

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-l.ctx.Done():
			return
		case <-t.C:
			st := l.status.Load()
			l.mu.Lock()
			count := len(l.events)
			l.mu.Unlock()

			st.mu.Lock()
			due := count > st.lastEventCount
			st.mu.Unlock()
			if due {
				l.generateAndSendUpdate()
			}
		}
	}
}

// scheduleCountCheckLocked defers an event-count check to its own goroutine so
// RecordEvent never blocks on a model call. Callers hold l.mu.
func (l *Ledger) scheduleCountCheckLocked() {
	st := l.status.Load()
	if st == nil || st.cfg.NumEvents <= 0 {
		return
	}
	id := l.nextCheck
	l.nextCheck++
	l.wg.Add(1)
	l.checks[id] = time.AfterFunc(0, func() { l.runCountCheck(id) })
}

func (l *Ledger) runCountCheck(id uint64) {
	defer l.wg.Done()

	l.mu.Lock()
	if _, ok := l.checks[id]; !ok {
		// cancelled by EndSession
		l.mu.Unlock()
		return
	}
	delete(l.checks, id)
	count := len(l.events)
	l.mu.Unlock()

	st := l.status.Load()
	st.mu.Lock()
	due := count-st.lastEventCount >= st.cfg.NumEvents
	st.mu.Unlock()
	if due {
		l.generateAndSendUpdate()
	}
}

// generateAndSendUpdate summarizes the events recorded since the last update
// and writes one summary per populated component. It returns without work
// while text is streaming. A trigger that finds another generation running
// marks a rerun, which the running generation picks up once it finishes.
func (l *Ledger) generateAndSendUpdate() {
	st := l.status.Load()
	if st == nil || l.opts.Sink == nil {
		return
	}
	for {
		if l.textStreaming.Load() || l.ctx.Err() != nil {
			return
		}
		st.rerun.Store(true)
		if !st.lock.CompareAndSwap(false, true) {
			return
		}
		st.rerun.Store(false)
		l.updateOnce(st)
		st.lock.Store(false)

		if !st.rerun.Swap(false) || !l.due(st) {
			return
		}
	}
}

// due reports whether enough new events exist for another update.
func (l *Ledger) due(st *statusState) bool {
	l.mu.Lock()
	count := len(l.events)
	l.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cfg.NumEvents > 0 {
		return count-st.lastEventCount >= st.cfg.NumEvents
	}
	return count > st.lastEventCount
}

func (l *Ledger) updateOnce(st *statusState) {
	events := l.Events()

	st.mu.Lock()
	from := st.lastEventCount
	previous := append([]string(nil), st.summaries...)
	st.mu.Unlock()
	if from >= len(events) {
		return
	}

	ctx, cancel := context.WithTimeout(l.ctx, l.opts.StatusTimeout)
	defer cancel()

	labels, sent := l.generate(ctx, st, events[from:], previous)
	if !sent {
		// the events stay pending for the next trigger
		return
	}

	st.mu.Lock()
	st.lastUpdateTime = l.opts.Now()
	st.lastEventCount = len(events)
	st.sent += len(labels)
	st.summaries = append(st.summaries, labels...)
	if over := len(st.summaries) - l.opts.SummaryWindow; over > 0 {
		st.summaries = append([]string(nil), st.summaries[over:]...)
	}
	st.mu.Unlock()
}

// generate asks the status model for an update and writes it. sent is true
// when at least one summary was written or the model chose NoUpdateKey.
func (l *Ledger) generate(ctx context.Context, st *statusState, events []core.SessionEvent, previous []string) (labels []string, sent bool) {
	prompt, err := l.statusPrompt(ctx, st, events, previous)
	if err != nil {
		l.opts.Logger.Warn("failed to build status prompt", "error", err)
		return nil, false
	}

	obj, err := l.generateStatusObject(ctx, st, prompt)
	if errors.Is(err, errTextStreaming) {
		return nil, false
	}
	if err != nil {
		l.opts.Logger.Warn("status update failed", "error", err)
		return nil, false
	}
	if _, ok := obj[NoUpdateKey]; ok {
		return nil, true
	}

	for _, c := range st.components {
		raw, ok := obj[c.Type].(map[string]any)
		if !ok {
			continue
		}
		label, _ := raw["label"].(string)
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		details, _ := raw["details"].(map[string]any)
		written, err := l.writeSummary(core.SummaryEvent{Type: c.Type, Label: label, Details: details})
		if err != nil {
			l.opts.Logger.Warn("failed to write status update", "type", c.Type, "error", err)
			continue
		}
		if !written {
			// text started while the update was being written
			break
		}
		l.opts.Metrics.StatusUpdate()
		labels = append(labels, label)
	}
	return labels, len(labels) > 0
}

// generateStatusObject calls the status model until it returns an object
// matching the status schema, backing off between attempts.
func (l *Ledger) generateStatusObject(ctx context.Context, st *statusState, prompt string) (map[string]any, error) {
	m := st.model()

	var obj map[string]any
	op := func() error {
		if l.textStreaming.Load() {
			return backoff.Permanent(errTextStreaming)
		}
		start := time.Now()
		out, err := m.GenerateObject(ctx, model.Request{
			Instructions: statusInstructions,
			Prompt:       prompt,
			MaxTokens:    512,
		}, model.Schema{
			Name:        "status_update",
			Description: "A short progress update for the user, or " + NoUpdateKey + ".",
			Parameters:  st.schema,
		})
		logging.LogModelCall(l.opts.Logger, m.Info().Name, "status_update", time.Since(start), err)
		if err == nil {
			err = util.ValidateValue(st.compiled, out)
		}
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		obj = out
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(l.opts.Backoff(), l.opts.StatusAttempts-1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return obj, nil
}

// writeSummary writes ev unless text is streaming. The check and the write
// happen under streamMu, which SetTextStreaming also takes.
func (l *Ledger) writeSummary(ev core.SummaryEvent) (bool, error) {
	l.streamMu.Lock()
	defer l.streamMu.Unlock()
	if l.textStreaming.Load() {
		return false, nil
	}
	if err := l.opts.Sink.WriteSummary(ev); err != nil {
		return true, err
	}
	return true, nil
}

func (l *Ledger) statusPrompt(ctx context.Context, st *statusState, events []core.SessionEvent, previous []string) (string, error) {
	var history []string
	for _, m := range l.history(ctx) {
		history = append(history, formatMessage(m))
	}
	var rendered []string
	for _, ev := range events {
		if line := RenderEvent(ev); line != "" {
			rendered = append(rendered, "- "+line)
		}
	}
	if len(rendered) == 0 {
		rendered = append(rendered, "- Still working.")
	}

	return executePrompt(st.prompt, map[string]any{
		"history":  strings.Join(history, "\n"),
		"events":   strings.Join(rendered, "\n"),
		"previous": strings.Join(previous, "\n"),
		"elapsed":  l.opts.Now().Sub(st.startTime).Round(time.Second).String(),
	})
}

// statusSchema offers the no-update option and one optional object per
// component. Each component object carries a label and optional details.
func statusSchema(components []core.StatusComponent) map[string]any {
	props := map[string]any{
		NoUpdateKey: map[string]any{
			"type":        "object",
			"description": "Choose this when nothing new is worth telling the user.",
			"properties": map[string]any{
				"no_updates": map[string]any{"type": "boolean"},
			},
		},
	}
	for _, c := range components {
		details := c.DetailsSchema
		if details == nil {
			details = map[string]any{"type": "object"}
		}
		props[c.Type] = map[string]any{
			"type":        "object",
			"description": c.Description,
			"properties": map[string]any{
				"label":   map[string]any{"type": "string", "description": "A short user-facing sentence."},
				"details": details,
			},
			"required": []any{"label"},
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}

func formatMessage(m core.Message) string {
	text := m.Text
	if text == "" {
		text = core.JoinText(m.Parts)
	}
	return fmt.Sprintf("%s: %s", m.Role, truncate(text, 500))
}
