package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hupe1980/agentgraph/artifact"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
)

// DefaultSnapshotCacheSize bounds every per-component snapshot map.
const DefaultSnapshotCacheSize = 1000

// Data kinds written to the sink.
const (
	KindArtifact  = "artifact"
	KindComponent = "data-component"
)

// TextStreamingNotifier is told when the assembler starts and stops streaming
// prose. The session ledger implements it to hold back status updates.
type TextStreamingNotifier interface {
	SetTextStreaming(streaming bool)
}

// EventRecorder receives events for artifacts created from inline markers.
type EventRecorder interface {
	RecordEvent(agentID string, data core.EventData)
}

// Options configure an Assembler.
type Options struct {
	// Pipeline resolves reference markers and extracts create markers. When
	// nil only Artifacts is consulted and create markers are dropped.
	Pipeline *artifact.Pipeline

	// Artifacts is the pre-fetched artifact index keyed by core.ArtifactKey.
	Artifacts map[string]*core.Artifact

	SessionID string
	TaskID    string
	ContextID string
	AgentID   string
	Scope     core.Scope

	// ChunkDelay is passed to StreamSink.StreamText.
	ChunkDelay time.Duration

	SnapshotCacheSize int
	MaxMarkerLength   int

	Notifier TextStreamingNotifier
	Recorder EventRecorder
	Logger   logging.Logger
}

// Assembler turns streamed model output into ordered text and data parts.
// Text mode handles inline artifact markers that may straddle chunks; object
// mode handles incrementally revised structured output. An Assembler is not
// safe for concurrent use.
type Assembler struct {
	sink core.StreamSink
	opts Options

	buf       string
	parts     []core.Part
	streaming bool

	acc           map[string]any
	snapshots     *lru.Cache[string, string]
	streamed      *lru.Cache[string, struct{}]
	textSnapshots *lru.Cache[string, string]
}

// New creates an Assembler writing to sink.
func New(sink core.StreamSink, optFns ...func(o *Options)) *Assembler {
	opts := Options{
		SnapshotCacheSize: DefaultSnapshotCacheSize,
		MaxMarkerLength:   DefaultMaxMarkerLength,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.SnapshotCacheSize <= 0 {
		opts.SnapshotCacheSize = DefaultSnapshotCacheSize
	}
	if opts.MaxMarkerLength <= 0 {
		opts.MaxMarkerLength = DefaultMaxMarkerLength
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Artifacts == nil {
		opts.Artifacts = make(map[string]*core.Artifact)
	}

	snapshots, _ := lru.New[string, string](opts.SnapshotCacheSize)
	streamed, _ := lru.New[string, struct{}](opts.SnapshotCacheSize)
	textSnapshots, _ := lru.New[string, string](opts.SnapshotCacheSize)

	return &Assembler{
		sink:          sink,
		opts:          opts,
		snapshots:     snapshots,
		streamed:      streamed,
		textSnapshots: textSnapshots,
	}
}

// ProcessTextChunk appends text to the buffer and flushes everything that can
// no longer be part of an unfinished artifact marker.
func (a *Assembler) ProcessTextChunk(ctx context.Context, text string) error {
	a.buf += text
	return a.drain(ctx, false)
}

// ProcessDataPart flushes buffered text, then passes a data part through.
// A payload carrying ComponentsKey is treated as an object delta instead.
func (a *Assembler) ProcessDataPart(ctx context.Context, kind string, data map[string]any) error {
	if _, ok := data[ComponentsKey]; ok {
		return a.ProcessObjectDelta(ctx, data)
	}
	if err := a.drain(ctx, true); err != nil {
		return err
	}
	return a.emitData(kind, data)
}

// CollectedParts returns the parts emitted so far, in order. Adjacent text is
// merged into one part.
func (a *Assembler) CollectedParts() []core.Part {
	return append([]core.Part(nil), a.parts...)
}

// Finalize flushes buffered text and any complete but unstreamed components,
// then clears the assembler's internal state.
func (a *Assembler) Finalize(ctx context.Context) error {
	err := a.drain(ctx, true)
	if err == nil {
		err = a.flushComponents(ctx)
	}

	a.buf = ""
	a.acc = nil
	a.snapshots.Purge()
	a.streamed.Purge()
	a.textSnapshots.Purge()

	if a.streaming {
		a.streaming = false
		if a.opts.Notifier != nil {
			a.opts.Notifier.SetTextStreaming(false)
		}
	}
	return err
}

// drain parses the buffer. Unless final, an unfinished marker at the tail is
// kept for the next chunk.
func (a *Assembler) drain(ctx context.Context, final bool) error {
	from := 0
	for {
		idx := strings.IndexByte(a.buf[from:], '<')
		if idx < 0 {
			break
		}
		idx += from

		m, end, res := scanMarker(a.buf, idx)
		switch res {
		case scanNotMarker:
			from = idx + 1
			continue

		case scanIncomplete:
			tail := a.buf[idx:]
			if !final && len(tail) <= a.opts.MaxMarkerLength {
				if err := a.emitText(a.buf[:idx]); err != nil {
					return err
				}
				a.buf = tail
				return nil
			}
			if len(tail) < len(markerPrefix) || len(tail) > a.opts.MaxMarkerLength {
				// never became a marker
				from = idx + 1
				continue
			}
			a.opts.Logger.Debug("dropping unterminated artifact marker", "length", len(tail))
			if err := a.emitText(a.buf[:idx]); err != nil {
				return err
			}
			a.buf = ""
			return nil

		case scanComplete:
			if err := a.emitText(a.buf[:idx]); err != nil {
				return err
			}
			a.buf = a.buf[end:]
			from = 0
			if err := a.handleMarker(ctx, m); err != nil {
				return err
			}
		}
	}

	text := a.buf
	a.buf = ""
	return a.emitText(text)
}

func (a *Assembler) handleMarker(ctx context.Context, m Marker) error {
	id, tool := m.Attrs["id"], m.Attrs["tool"]
	if id == "" {
		a.opts.Logger.Warn("artifact marker without id", "kind", m.Kind)
		return nil
	}

	switch m.Kind {
	case MarkerRef:
		art, ok := a.lookup(ctx, id, tool)
		if !ok {
			a.opts.Logger.Warn("artifact reference not found", "artifact_id", id, "tool_call_id", tool)
			return nil
		}
		return a.emitArtifact(art)

	case MarkerCreate:
		if a.opts.Pipeline == nil {
			a.opts.Logger.Warn("artifact create marker without pipeline", "artifact_id", id)
			return nil
		}
		art, err := a.opts.Pipeline.CreateArtifact(ctx, core.ArtifactRequest{
			ArtifactID:      id,
			ToolCallID:      tool,
			Type:            m.Attrs["type"],
			BaseSelector:    m.Attrs["base"],
			DetailSelectors: parseDetails(m.Attrs["details"]),
			SessionID:       a.opts.SessionID,
			TaskID:          a.opts.TaskID,
			ContextID:       a.opts.ContextID,
			AgentID:         a.opts.AgentID,
			Scope:           a.opts.Scope,
		})
		if err != nil {
			a.opts.Logger.Warn("artifact extraction failed, dropping marker", "artifact_id", id, "error", err)
			return nil
		}
		a.opts.Artifacts[art.Key()] = art

		if a.opts.Recorder != nil {
			a.opts.Recorder.RecordEvent(a.opts.AgentID, core.ArtifactSavedData{
				ArtifactID:        art.ArtifactID,
				ToolCallID:        art.ToolCallID,
				TaskID:            art.TaskID,
				ContextID:         art.ContextID,
				ArtifactType:      art.Type,
				Name:              art.Name,
				Description:       art.Description,
				Summary:           art.Summary,
				PendingGeneration: art.PendingGeneration,
				Artifact:          art,
			})
		}
		return a.emitArtifact(art)
	}
	return nil
}

func (a *Assembler) lookup(ctx context.Context, artifactID, toolCallID string) (*core.Artifact, bool) {
	if art, ok := a.opts.Artifacts[core.ArtifactKey(artifactID, toolCallID)]; ok {
		return art, true
	}
	if a.opts.Pipeline == nil {
		return nil, false
	}
	art, err := a.opts.Pipeline.GetArtifactData(ctx, a.opts.SessionID, artifactID, toolCallID, a.opts.TaskID, a.opts.Artifacts)
	if err != nil {
		return nil, false
	}
	return art, true
}

// parseDetails decodes the details attribute, a JSON object mapping schema
// fields to selectors.
func parseDetails(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func (a *Assembler) emitText(text string) error {
	if text == "" {
		return nil
	}
	if !a.streaming {
		a.streaming = true
		if a.opts.Notifier != nil {
			a.opts.Notifier.SetTextStreaming(true)
		}
	}
	if err := a.sink.StreamText(text, a.opts.ChunkDelay); err != nil {
		return fmt.Errorf("stream text: %w", err)
	}
	if n := len(a.parts); n > 0 {
		if last, ok := a.parts[n-1].(core.TextPart); ok {
			last.Text += text
			a.parts[n-1] = last
			return nil
		}
	}
	a.parts = append(a.parts, core.TextPart{Text: text})
	return nil
}

func (a *Assembler) emitData(kind string, payload map[string]any) error {
	if err := a.sink.WriteData(kind, payload); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	a.parts = append(a.parts, core.DataPart{Kind: kind, Data: payload})
	return nil
}

func (a *Assembler) emitArtifact(art *core.Artifact) error {
	return a.emitData(KindArtifact, ArtifactPayload(art))
}

// ArtifactPayload is the client-facing representation of an artifact.
func ArtifactPayload(art *core.Artifact) map[string]any {
	return map[string]any{
		"artifactId":      art.ArtifactID,
		"toolCallId":      art.ToolCallID,
		"taskId":          art.TaskID,
		"type":            art.Type,
		"name":            art.Name,
		"description":     art.Description,
		"artifactSummary": art.Summary,
	}
}
