package tool

import (
	"fmt"

	"github.com/hupe1980/agentgraph/core"
)

// transferToAgentTool produces the routing payload of a transfer. Its result
// returned as a data part makes the engine hand the conversation over.
type transferToAgentTool struct{}

// NewTransferToAgentTool constructs the transfer tool instance.
func NewTransferToAgentTool() Tool { return &transferToAgentTool{} }

func (t *transferToAgentTool) Name() string { return "transfer_to_agent" }

func (t *transferToAgentTool) Description() string {
	return "Request transfer of the conversation to another agent by id. Use when another agent is better suited."
}

func (t *transferToAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent":  map[string]any{"type": "string", "description": "Target agent id"},
			"reason": map[string]any{"type": "string", "description": "Why the target agent should take over"},
		},
		"required": []string{"agent"},
	}
}

func (t *transferToAgentTool) Call(_ *Context, args map[string]any) (any, error) {
	agentID, ok := args["agent"].(string)
	if !ok || agentID == "" {
		return nil, fmt.Errorf("field 'agent' must be non-empty string")
	}
	reason, _ := args["reason"].(string)
	return map[string]any{
		"type":          string(core.ResponseTransfer),
		"targetAgentId": agentID,
		"reason":        reason,
	}, nil
}

// RoutingPart wraps a transfer tool result into the data part the engine
// classifies as a transfer.
func RoutingPart(result any) (core.DataPart, bool) {
	data, ok := result.(map[string]any)
	if !ok {
		return core.DataPart{}, false
	}
	if id, _ := data["targetAgentId"].(string); id == "" {
		return core.DataPart{}, false
	}
	return core.DataPart{Data: data}, true
}
