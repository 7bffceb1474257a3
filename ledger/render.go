package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hupe1980/agentgraph/core"
)

// internalTerms matches vocabulary about routing and persistence that users
// must never see in a status update.
var internalTerms = regexp.MustCompile(`(?i)\b(transferr(?:ed|ing)|transfers?|delegat(?:ed|ing|ions?|es?)|hand(?:ed|ing)?[ -]off|handoffs?|sub-?agents?|artifacts?|saved|saving|persist(?:ed|ing)?|stored|storing)\b`)

var termReplacements = map[string]string{
	"artifact":  "result",
	"artifacts": "results",
	"saved":     "found",
	"saving":    "finding",
	"stored":    "found",
	"storing":   "finding",
	"persisted": "found",
}

// scrub rewrites internal vocabulary into neutral wording. Terms without a
// neutral counterpart are removed.
func scrub(s string) string {
	out := internalTerms.ReplaceAllStringFunc(s, func(term string) string {
		return termReplacements[strings.ToLower(term)]
	})
	return strings.Join(strings.Fields(out), " ")
}

// RenderEvent renders an event as one user-safe line. Events that only
// describe internal routing render as "".
func RenderEvent(ev core.SessionEvent) string {
	switch d := ev.Data.(type) {
	case core.AgentGenerateData:
		if strings.TrimSpace(d.Text) == "" {
			return ""
		}
		return scrub("Drafted: " + truncate(d.Text, 300))
	case core.AgentReasoningData:
		if strings.TrimSpace(d.Text) == "" {
			return ""
		}
		return scrub("Considered: " + truncate(d.Text, 300))
	case core.TransferData:
		return ""
	case core.DelegationSentData:
		if d.TaskText == "" {
			return ""
		}
		return scrub("Working on: " + truncate(d.TaskText, 300))
	case core.DelegationReturnedData:
		if d.ResultText == "" {
			return ""
		}
		return scrub("Learned: " + truncate(d.ResultText, 300))
	case core.ArtifactSavedData:
		return scrub(renderFound(d))
	case core.ToolExecutionData:
		if d.Error != "" {
			return "A lookup did not return results."
		}
		line := "Looked up information"
		if name := humanize(d.ToolName); name != "" {
			line += " using " + name
		}
		if preview := previewValue(d.Result); preview != "" {
			line += ": " + preview
		}
		return scrub(line)
	default:
		return ""
	}
}

func renderFound(d core.ArtifactSavedData) string {
	kind := humanize(d.ArtifactType)
	if kind == "" {
		kind = "information"
	}
	line := "Found " + kind
	if d.Name != "" && d.Name != core.PendingArtifactName {
		line += " \"" + d.Name + "\""
	}
	if preview := previewValue(d.Summary); preview != "" {
		line += ": " + preview
	}
	return line
}

// previewValue renders a compact, deterministic preview of a tool result.
func previewValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return truncate(t, 200)
	case map[string]any:
		if len(t) == 0 {
			return ""
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, compact(t[k])))
		}
		return truncate(strings.Join(parts, ", "), 200)
	default:
		return truncate(compact(v), 200)
	}
}

func compact(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// humanize turns identifiers like "search_web" into "search web".
func humanize(s string) string {
	return strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(s))
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
