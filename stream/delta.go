package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ComponentsKey is the accumulator field holding the streamed components.
const ComponentsKey = "dataComponents"

// component is one entry of the accumulator's component list.
type component struct {
	id    string
	name  string
	props map[string]any
}

// ProcessObjectDelta merges a partial structured object into the running
// accumulator and emits whatever became stable. Text components stream their
// new suffix immediately; other components are emitted once their props
// serialize identically in two consecutive deltas.
func (a *Assembler) ProcessObjectDelta(ctx context.Context, delta map[string]any) error {
	a.acc = deepMerge(a.acc, delta)

	for _, c := range components(a.acc) {
		if !c.ready() {
			continue
		}
		if c.isText() {
			if err := a.streamTextComponent(c); err != nil {
				return err
			}
			continue
		}
		if a.streamed.Contains(c.id) {
			continue
		}

		raw, err := json.Marshal(c.props)
		if err != nil {
			return fmt.Errorf("encode component %s: %w", c.id, err)
		}
		current := string(raw)
		if prev, ok := a.snapshots.Get(c.id); ok && prev == current {
			if err := a.emitComponent(ctx, c); err != nil {
				return err
			}
			a.streamed.Add(c.id, struct{}{})
			continue
		}
		a.snapshots.Add(c.id, current)
	}
	return nil
}

// ProcessObjectJSON repairs a possibly truncated JSON document and feeds it to
// ProcessObjectDelta.
func (a *Assembler) ProcessObjectJSON(ctx context.Context, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var delta map[string]any
	if err := json.Unmarshal([]byte(raw), &delta); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return fmt.Errorf("repair object delta: %w", rerr)
		}
		if err := json.Unmarshal([]byte(repaired), &delta); err != nil {
			return fmt.Errorf("decode object delta: %w", err)
		}
	}
	return a.ProcessObjectDelta(ctx, delta)
}

func (a *Assembler) streamTextComponent(c component) error {
	text, _ := c.props["text"].(string)
	prev, _ := a.textSnapshots.Get(c.id)
	if len(text) <= len(prev) || !strings.HasPrefix(text, prev) {
		return nil
	}
	a.textSnapshots.Add(c.id, text)
	return a.emitText(text[len(prev):])
}

// flushComponents emits ready non-text components that never reached
// stability.
func (a *Assembler) flushComponents(ctx context.Context) error {
	for _, c := range components(a.acc) {
		if !c.ready() || c.isText() || a.streamed.Contains(c.id) {
			continue
		}
		if err := a.emitComponent(ctx, c); err != nil {
			return err
		}
		a.streamed.Add(c.id, struct{}{})
	}
	return nil
}

func (a *Assembler) emitComponent(ctx context.Context, c component) error {
	// later deltas merge into the accumulator in place
	c.props, _ = cloneValue(c.props).(map[string]any)
	if c.isArtifact() {
		artifactID, toolCallID := c.artifactRef()
		if art, ok := a.lookup(ctx, artifactID, toolCallID); ok {
			return a.emitArtifact(art)
		}
		return a.emitData(KindArtifact, map[string]any{
			"id":    c.id,
			"name":  c.name,
			"props": c.props,
		})
	}
	return a.emitData(KindComponent, map[string]any{
		"id":    c.id,
		"name":  c.name,
		"props": c.props,
	})
}

func components(acc map[string]any) []component {
	list, _ := acc[ComponentsKey].([]any)
	out := make([]component, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := component{}
		c.id, _ = m["id"].(string)
		c.name, _ = m["name"].(string)
		c.props, _ = m["props"].(map[string]any)
		out = append(out, c)
	}
	return out
}

func (c component) ready() bool {
	if c.id == "" || c.name == "" || c.props == nil {
		return false
	}
	if c.isArtifact() {
		artifactID, ref := c.artifactRef()
		if ref == "" {
			ref = stringProp(c.props, "task_id", "taskId")
		}
		return artifactID != "" && ref != ""
	}
	return true
}

func (c component) isText() bool {
	return strings.EqualFold(c.name, "text")
}

func (c component) isArtifact() bool {
	if strings.EqualFold(c.name, "artifact") {
		return true
	}
	_, snake := c.props["artifact_id"]
	_, camel := c.props["artifactId"]
	return snake || camel
}

func (c component) artifactRef() (artifactID, toolCallID string) {
	return stringProp(c.props, "artifact_id", "artifactId"), stringProp(c.props, "tool_call_id", "toolCallId")
}

func stringProp(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// deepMerge merges src into dst. Objects merge recursively, arrays merge
// element-wise, everything else is replaced.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = mergeValue(dst[k], v)
	}
	return dst
}

func mergeValue(dst, src any) any {
	switch s := src.(type) {
	case map[string]any:
		d, _ := dst.(map[string]any)
		return deepMerge(d, s)
	case []any:
		d, _ := dst.([]any)
		out := make([]any, len(s))
		for i, v := range s {
			var prev any
			if i < len(d) {
				prev = d[i]
			}
			out[i] = mergeValue(prev, v)
		}
		if len(d) > len(s) {
			out = append(out, d[len(s):]...)
		}
		return out
	default:
		return src
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
