package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/artifact"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/testutil"
)

type notifierFunc func(bool)

func (f notifierFunc) SetTextStreaming(v bool) { f(v) }

type eventRecorder struct {
	events []core.EventData
}

func (r *eventRecorder) RecordEvent(_ string, data core.EventData) {
	r.events = append(r.events, data)
}

func indexed(arts ...*core.Artifact) map[string]*core.Artifact {
	out := make(map[string]*core.Artifact, len(arts))
	for _, a := range arts {
		out[a.Key()] = a
	}
	return out
}

func TestScanMarker(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want scanResult
		kind string
	}{
		{"complete ref", `<artifact:ref id="a1" tool="c1"/>`, scanComplete, MarkerRef},
		{"single quoted details", `<artifact:create id="a" tool="c" details='{"t":"x>1"}'/>`, scanComplete, MarkerCreate},
		{"bare bracket", `<`, scanIncomplete, ""},
		{"partial prefix", `<artif`, scanIncomplete, ""},
		{"partial kind", `<artifact:cre`, scanIncomplete, ""},
		{"open attribute", `<artifact:ref id="a1`, scanIncomplete, ""},
		{"missing close", `<artifact:ref id="a1" /`, scanIncomplete, ""},
		{"html tag", `<b>bold</b>`, scanNotMarker, ""},
		{"unknown kind", `<artifact:other id="a"/>`, scanNotMarker, ""},
		{"unquoted value", `<artifact:ref id=a1/>`, scanNotMarker, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, end, res := scanMarker(tt.in, 0)
			assert.Equal(t, tt.want, res)
			if res == scanComplete {
				assert.Equal(t, len(tt.in), end)
				assert.Equal(t, tt.kind, m.Kind)
			}
		})
	}

	m, _, _ := scanMarker(`<artifact:create id="a" tool="c" details='{"t":"x>1"}'/>`, 0)
	assert.Equal(t, `{"t":"x>1"}`, m.Attrs["details"])
}

func TestProcessTextChunk_PlainText(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	a := New(sink)

	require.NoError(t, a.ProcessTextChunk(ctx, "Hello "))
	require.NoError(t, a.ProcessTextChunk(ctx, "world"))
	require.NoError(t, a.Finalize(ctx))

	assert.Equal(t, []string{"Hello ", "world"}, sink.Texts())
	assert.Equal(t, []core.Part{core.TextPart{Text: "Hello world"}}, a.CollectedParts())
}

func TestProcessDataPart_PreservesOrder(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	a := New(sink)

	require.NoError(t, a.ProcessTextChunk(ctx, "See <"))
	require.NoError(t, a.ProcessDataPart(ctx, "chart", map[string]any{"points": 3}))
	require.NoError(t, a.ProcessTextChunk(ctx, "done"))
	require.NoError(t, a.Finalize(ctx))

	assert.Equal(t, []string{"text", "text", "data", "text"}, sink.Methods())
	assert.Equal(t, []string{"See ", "<", "done"}, sink.Texts())
	parts := a.CollectedParts()
	require.Len(t, parts, 3)
	assert.Equal(t, core.DataPart{Kind: "chart", Data: map[string]any{"points": 3}}, parts[1])
}

func TestProcessTextChunk_MarkerAcrossChunks(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	art := &core.Artifact{ArtifactID: "a1", ToolCallID: "call_1", Type: "document", Name: "Pricing", Summary: map[string]any{"title": "Pricing"}}
	a := New(sink, func(o *Options) { o.Artifacts = indexed(art) })

	require.NoError(t, a.ProcessTextChunk(ctx, "See <arti"))
	assert.Equal(t, []string{"See "}, sink.Texts())

	require.NoError(t, a.ProcessTextChunk(ctx, `fact:ref id="a1" tool="call_1"/> for details`))
	require.NoError(t, a.Finalize(ctx))

	assert.Equal(t, []string{"text", "data", "text"}, sink.Methods())
	assert.Equal(t, []string{"See ", " for details"}, sink.Texts())

	data := sink.Data()
	require.Len(t, data, 1)
	assert.Equal(t, KindArtifact, data[0].Kind)
	payload := data[0].Payload.(map[string]any)
	assert.Equal(t, "a1", payload["artifactId"])
	assert.Equal(t, "Pricing", payload["name"])

	parts := a.CollectedParts()
	require.Len(t, parts, 3)
	assert.IsType(t, core.DataPart{}, parts[1])
}

func TestProcessTextChunk_NonMarkerBrackets(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	a := New(sink)

	require.NoError(t, a.ProcessTextChunk(ctx, "a < b <c> d"))
	require.NoError(t, a.ProcessTextChunk(ctx, " x <"))
	require.NoError(t, a.Finalize(ctx))

	assert.Equal(t, "a < b <c> d x <", strings.Join(sink.Texts(), ""))
	assert.Equal(t, []string{"a < b <c> d", " x ", "<"}, sink.Texts())
}

func TestProcessTextChunk_UnterminatedMarkerDropped(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	a := New(sink)

	require.NoError(t, a.ProcessTextChunk(ctx, `Hi <artifact:ref id="a1"`))
	require.NoError(t, a.Finalize(ctx))

	assert.Equal(t, []string{"Hi "}, sink.Texts())
	assert.Empty(t, sink.Data())
}

func TestProcessTextChunk_OverlongMarkerFlushedAsText(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	a := New(sink, func(o *Options) { o.MaxMarkerLength = 16 })

	require.NoError(t, a.ProcessTextChunk(ctx, `<artifact:ref id="aaaaaaaaaaaaaaaa`))
	assert.Equal(t, []string{`<artifact:ref id="aaaaaaaaaaaaaaaa`}, sink.Texts())
}

func TestProcessTextChunk_UnknownReferenceDropped(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	a := New(sink)

	require.NoError(t, a.ProcessTextChunk(ctx, `x<artifact:ref id="nope" tool="c"/>y`))
	require.NoError(t, a.Finalize(ctx))

	assert.Equal(t, []string{"x", "y"}, sink.Texts())
	assert.Empty(t, sink.Data())
}

func TestProcessTextChunk_CreateMarker(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	rec := &eventRecorder{}

	p := artifact.New()
	p.ToolResults().Record("sess-1", artifact.ToolResult{
		ToolCallID: "call_1",
		ToolName:   "search",
		Result:     map[string]any{"items": []any{map[string]any{"title": "Pricing", "url": "https://example.com"}}},
	})

	a := New(sink, func(o *Options) {
		o.Pipeline = p
		o.SessionID = "sess-1"
		o.TaskID = "task-1"
		o.AgentID = "router"
		o.Recorder = rec
	})

	chunk := `Found <artifact:create id="a1" tool="call_1" type="document" base="result.items[0]" details='{"link":"url"}'/>.`
	require.NoError(t, a.ProcessTextChunk(ctx, chunk))
	require.NoError(t, a.ProcessTextChunk(ctx, `<artifact:create id="a2" tool="missing" type="document"/>`))
	require.NoError(t, a.Finalize(ctx))

	assert.Equal(t, []string{"Found ", "."}, sink.Texts())
	data := sink.Data()
	require.Len(t, data, 1)
	payload := data[0].Payload.(map[string]any)
	assert.Equal(t, core.PendingArtifactName, payload["name"])
	assert.Equal(t, "task-1", payload["taskId"])

	require.Len(t, rec.events, 1)
	saved := rec.events[0].(core.ArtifactSavedData)
	assert.True(t, saved.PendingGeneration)
	assert.Equal(t, "a1", saved.ArtifactID)
	assert.Equal(t, "Pricing", saved.Artifact.Full["title"])
}

func TestNotifierWrapsTextStreaming(t *testing.T) {
	ctx := context.Background()
	var calls []bool
	a := New(testutil.NewRecordingSink(), func(o *Options) {
		o.Notifier = notifierFunc(func(v bool) { calls = append(calls, v) })
	})

	require.NoError(t, a.ProcessTextChunk(ctx, "one"))
	require.NoError(t, a.ProcessTextChunk(ctx, "two"))
	require.NoError(t, a.Finalize(ctx))

	assert.Equal(t, []bool{true, false}, calls)
}

func textDelta(text string) map[string]any {
	return map[string]any{
		ComponentsKey: []any{
			map[string]any{"id": "t1", "name": "Text", "props": map[string]any{"text": text}},
		},
	}
}

func TestProcessObjectDelta_TextComponentStreamsSuffix(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	a := New(sink)

	for _, s := range []string{"Hel", "Hello", "Hello!"} {
		require.NoError(t, a.ProcessObjectDelta(ctx, textDelta(s)))
	}
	require.NoError(t, a.Finalize(ctx))

	assert.Equal(t, []string{"Hel", "lo", "!"}, sink.Texts())
	assert.Equal(t, []core.Part{core.TextPart{Text: "Hello!"}}, a.CollectedParts())
}

func cardDelta(props map[string]any) map[string]any {
	return map[string]any{
		ComponentsKey: []any{
			map[string]any{"id": "c1", "name": "Card", "props": props},
		},
	}
}

func TestProcessObjectDelta_StabilityByRepetition(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	a := New(sink)

	require.NoError(t, a.ProcessObjectDelta(ctx, cardDelta(map[string]any{"title": "A"})))
	require.NoError(t, a.ProcessObjectDelta(ctx, cardDelta(map[string]any{"title": "AB"})))
	assert.Empty(t, sink.Data())

	require.NoError(t, a.ProcessObjectDelta(ctx, cardDelta(map[string]any{"title": "AB"})))
	require.Len(t, sink.Data(), 1)

	// a later revision neither re-emits nor mutates what was sent
	require.NoError(t, a.ProcessObjectDelta(ctx, cardDelta(map[string]any{"title": "ABC"})))
	require.NoError(t, a.ProcessObjectDelta(ctx, cardDelta(map[string]any{"title": "ABC"})))
	require.NoError(t, a.Finalize(ctx))

	data := sink.Data()
	require.Len(t, data, 1)
	payload := data[0].Payload.(map[string]any)
	assert.Equal(t, KindComponent, data[0].Kind)
	assert.Equal(t, map[string]any{"title": "AB"}, payload["props"])
}

func TestProcessObjectDelta_IncompleteComponentsWait(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	a := New(sink)

	partial := map[string]any{ComponentsKey: []any{map[string]any{"id": "c1", "name": "Card"}}}
	require.NoError(t, a.ProcessObjectDelta(ctx, partial))
	require.NoError(t, a.ProcessObjectDelta(ctx, partial))

	artifactOnly := map[string]any{ComponentsKey: []any{map[string]any{
		"id": "x1", "name": "Artifact", "props": map[string]any{"artifact_id": "a1"},
	}}}
	a2 := New(sink)
	require.NoError(t, a2.ProcessObjectDelta(ctx, artifactOnly))
	require.NoError(t, a2.ProcessObjectDelta(ctx, artifactOnly))
	require.NoError(t, a2.Finalize(ctx))

	assert.Empty(t, sink.Data())
}

func TestProcessObjectDelta_ArtifactComponentResolves(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	art := &core.Artifact{ArtifactID: "a1", ToolCallID: "call_1", Name: "Docs"}
	a := New(sink, func(o *Options) { o.Artifacts = indexed(art) })

	delta := map[string]any{ComponentsKey: []any{map[string]any{
		"id": "x1", "name": "Artifact", "props": map[string]any{"artifact_id": "a1", "tool_call_id": "call_1"},
	}}}
	require.NoError(t, a.ProcessObjectDelta(ctx, delta))
	require.NoError(t, a.ProcessObjectDelta(ctx, delta))

	data := sink.Data()
	require.Len(t, data, 1)
	assert.Equal(t, "Docs", data[0].Payload.(map[string]any)["name"])
}

func TestFinalize_FlushesUnstableComponents(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	a := New(sink)

	require.NoError(t, a.ProcessObjectDelta(ctx, cardDelta(map[string]any{"title": "Only once"})))
	assert.Empty(t, sink.Data())
	require.NoError(t, a.Finalize(ctx))

	require.Len(t, sink.Data(), 1)
	assert.Nil(t, a.acc)
	assert.Equal(t, 0, a.snapshots.Len())
}

func TestProcessObjectJSON_RepairsTruncatedInput(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewRecordingSink()
	a := New(sink)

	require.NoError(t, a.ProcessObjectJSON(ctx, `{"dataComponents":[{"id":"t1","name":"Text","props":{"text":"Hel`))
	require.NoError(t, a.ProcessObjectJSON(ctx, `{"dataComponents":[{"id":"t1","name":"Text","props":{"text":"Hello"}}]}`))
	require.NoError(t, a.ProcessObjectJSON(ctx, "  "))

	assert.Equal(t, []string{"Hel", "lo"}, sink.Texts())
}

func TestSnapshotMapsAreBounded(t *testing.T) {
	ctx := context.Background()
	a := New(testutil.NewRecordingSink(), func(o *Options) { o.SnapshotCacheSize = 2 })

	var list []any
	for _, id := range []string{"c1", "c2", "c3"} {
		list = append(list, map[string]any{"id": id, "name": "Card", "props": map[string]any{"v": id}})
	}
	require.NoError(t, a.ProcessObjectDelta(ctx, map[string]any{ComponentsKey: list}))
	assert.Equal(t, 2, a.snapshots.Len())
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{"a": map[string]any{"x": 1.0}, "list": []any{map[string]any{"k": "v"}, "keep"}}
	src := map[string]any{"a": map[string]any{"y": 2.0}, "list": []any{map[string]any{"k2": "v2"}}}

	got := deepMerge(dst, src)
	assert.Equal(t, map[string]any{"x": 1.0, "y": 2.0}, got["a"])
	assert.Equal(t, []any{map[string]any{"k": "v", "k2": "v2"}, "keep"}, got["list"])
}

func TestJSONLSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLSink(&buf)

	require.NoError(t, s.WriteRole("agent"))
	require.NoError(t, s.StreamText("hi", 0))
	require.NoError(t, s.WriteData(KindArtifact, map[string]any{"artifactId": "a1"}))
	require.NoError(t, s.WriteSummary(core.SummaryEvent{Type: "progress", Label: "Searching"}))
	require.NoError(t, s.WriteOperation(core.OperationEvent{Type: core.OperationCompletion}))
	require.NoError(t, s.Complete())
	require.NoError(t, s.WriteError("ignored"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)

	var types []string
	for _, l := range lines {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &rec))
		types = append(types, rec["type"].(string))
	}
	assert.Equal(t, []string{"role", "text", "data", "summary", "operation", "complete"}, types)
	assert.Contains(t, lines[3], `"label":"Searching"`)
}
