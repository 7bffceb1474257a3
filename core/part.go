package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Part represents a polymorphic segment of message content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text     string         // Plain UTF-8 text
	Metadata map[string]any // Optional producer-provided metadata
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map). Kind names
// the payload shape ("artifact", "data-component", "transfer", ...).
type DataPart struct {
	Kind     string
	Data     map[string]any
	Metadata map[string]any
}

// isPart implements the Part interface for DataPart.
func (DataPart) isPart() {}

// JoinText concatenates the text of all TextParts preserving order.
func JoinText(parts []Part) string {
	var sb strings.Builder
	for _, p := range parts {
		if tp, ok := p.(TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

type wirePart struct {
	Kind     string         `json:"kind"`
	Text     string         `json:"text,omitempty"`
	DataKind string         `json:"dataKind,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MarshalParts encodes parts as a JSON array of {kind, text|data} objects.
func MarshalParts(parts []Part) ([]byte, error) {
	out := make([]wirePart, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case TextPart:
			out = append(out, wirePart{Kind: "text", Text: v.Text, Metadata: v.Metadata})
		case DataPart:
			out = append(out, wirePart{Kind: "data", DataKind: v.Kind, Data: v.Data, Metadata: v.Metadata})
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
	}
	return json.Marshal(out)
}

// UnmarshalParts decodes the representation produced by MarshalParts.
func UnmarshalParts(raw []byte) ([]Part, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var in []wirePart
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode parts: %w", err)
	}
	parts := make([]Part, 0, len(in))
	for _, wp := range in {
		switch wp.Kind {
		case "text":
			parts = append(parts, TextPart{Text: wp.Text, Metadata: wp.Metadata})
		case "data":
			parts = append(parts, DataPart{Kind: wp.DataKind, Data: wp.Data, Metadata: wp.Metadata})
		default:
			return nil, fmt.Errorf("unknown part kind %q", wp.Kind)
		}
	}
	return parts, nil
}
