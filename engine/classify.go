package engine

import (
	"strings"

	"github.com/hupe1980/agentgraph/core"
)

// Classification is the routing decision derived from an agent response.
type Classification struct {
	Kind          core.ResponseKind
	TargetAgentID string

	// Reason is the human-readable transfer reason.
	Reason string

	// Message is the delegated task text.
	Message string
}

// Classify decides whether a response is a transfer, a delegation, a
// completion or unusable.
//
// An explicit Kind wins. Without one, a data part tagged with
// "type": "transfer" or "delegation" decides, then a data part carrying a
// "targetAgentId" is read as a transfer. Any remaining non-empty content is a
// completion. A completion without content is unusable and reported as
// ResponseUnknown.
func Classify(resp *core.AgentResponse) Classification {
	if resp == nil {
		return Classification{Kind: core.ResponseUnknown}
	}

	switch resp.Kind {
	case core.ResponseTransfer:
		c := Classification{Kind: core.ResponseTransfer}
		if resp.Transfer != nil {
			c.TargetAgentID, c.Reason = resp.Transfer.TargetAgentID, resp.Transfer.Reason
		} else if d, ok := findData(resp.Parts, isRouting); ok {
			c.TargetAgentID, c.Reason = stringField(d, "targetAgentId"), stringField(d, "reason")
		}
		return c

	case core.ResponseDelegation:
		c := Classification{Kind: core.ResponseDelegation}
		if resp.Delegation != nil {
			c.TargetAgentID, c.Message = resp.Delegation.TargetAgentID, resp.Delegation.Message
		} else if d, ok := findData(resp.Parts, isRouting); ok {
			c.TargetAgentID, c.Message = stringField(d, "targetAgentId"), delegationText(d)
		}
		return c

	case core.ResponseCompletion:
		if hasContent(resp.Parts) {
			return Classification{Kind: core.ResponseCompletion}
		}
		return Classification{Kind: core.ResponseUnknown}
	}

	if resp.Transfer != nil {
		return Classification{Kind: core.ResponseTransfer, TargetAgentID: resp.Transfer.TargetAgentID, Reason: resp.Transfer.Reason}
	}
	if resp.Delegation != nil {
		return Classification{Kind: core.ResponseDelegation, TargetAgentID: resp.Delegation.TargetAgentID, Message: resp.Delegation.Message}
	}

	if d, ok := findData(resp.Parts, func(d map[string]any) bool { return stringField(d, "type") != "" }); ok {
		switch strings.ToLower(stringField(d, "type")) {
		case string(core.ResponseTransfer):
			return Classification{Kind: core.ResponseTransfer, TargetAgentID: stringField(d, "targetAgentId"), Reason: stringField(d, "reason")}
		case string(core.ResponseDelegation):
			return Classification{Kind: core.ResponseDelegation, TargetAgentID: stringField(d, "targetAgentId"), Message: delegationText(d)}
		}
	}
	if d, ok := findData(resp.Parts, func(d map[string]any) bool { return stringField(d, "targetAgentId") != "" }); ok {
		return Classification{Kind: core.ResponseTransfer, TargetAgentID: stringField(d, "targetAgentId"), Reason: stringField(d, "reason")}
	}

	if hasContent(resp.Parts) {
		return Classification{Kind: core.ResponseCompletion}
	}
	return Classification{Kind: core.ResponseUnknown}
}

func isRouting(d map[string]any) bool {
	return stringField(d, "targetAgentId") != ""
}

func findData(parts []core.Part, match func(map[string]any) bool) (map[string]any, bool) {
	for _, p := range parts {
		if dp, ok := p.(core.DataPart); ok && dp.Data != nil && match(dp.Data) {
			return dp.Data, true
		}
	}
	return nil, false
}

func delegationText(d map[string]any) string {
	if s := stringField(d, "message"); s != "" {
		return s
	}
	return stringField(d, "task")
}

func hasContent(parts []core.Part) bool {
	for _, p := range parts {
		switch p := p.(type) {
		case core.TextPart:
			if strings.TrimSpace(p.Text) != "" {
				return true
			}
		case core.DataPart:
			if len(p.Data) > 0 {
				return true
			}
		}
	}
	return false
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
