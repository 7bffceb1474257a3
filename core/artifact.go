package core

import "time"

// PendingArtifactName is the placeholder name carried by an artifact until
// its name and description have been generated.
const PendingArtifactName = "Processing..."

// Artifact is a named, two-tier excerpt of a tool result. Summary holds the
// preview projection, Full the complete projection.
type Artifact struct {
	ArtifactID        string
	ToolCallID        string
	TaskID            string
	ContextID         string
	Scope             Scope
	Type              string
	Name              string
	Description       string
	Summary           map[string]any
	Full              map[string]any
	Metadata          map[string]any
	PendingGeneration bool
	CreatedAt         time.Time
}

// Key returns the stable cache key of the artifact.
func (a *Artifact) Key() string { return ArtifactKey(a.ArtifactID, a.ToolCallID) }

// Clone returns a copy whose top-level maps can be mutated independently.
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	c := *a
	c.Summary = cloneMap(a.Summary)
	c.Full = cloneMap(a.Full)
	c.Metadata = cloneMap(a.Metadata)
	return &c
}

// ArtifactKey joins an artifact id and tool call id into a cache key.
func ArtifactKey(artifactID, toolCallID string) string {
	return artifactID + ":" + toolCallID
}

// ArtifactRequest describes how to extract an artifact from a recorded tool
// result. BaseSelector narrows the tool result; DetailSelectors maps a
// schema field to the selector used for it (defaults to the field name).
type ArtifactRequest struct {
	ArtifactID      string
	ToolCallID      string
	Type            string
	BaseSelector    string
	DetailSelectors map[string]string
	SessionID       string
	TaskID          string
	ContextID       string
	AgentID         string
	Scope           Scope
}

// ComponentSchema declares the shape of an artifact component. Properties is
// a JSON-schema properties map; a property with "inPreview": true joins the
// summary projection.
type ComponentSchema struct {
	Type        string         `yaml:"type"`
	Description string         `yaml:"description"`
	Properties  map[string]any `yaml:"properties"`
}

// PreviewFields returns the property names flagged for the summary projection.
func (s ComponentSchema) PreviewFields() []string {
	var out []string
	for name, raw := range s.Properties {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := prop["inPreview"].(bool); ok && v {
			out = append(out, name)
		}
	}
	return out
}

// FullFields returns every declared property name.
func (s ComponentSchema) FullFields() []string {
	out := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		out = append(out, name)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
