package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentgraph/core"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		resp *core.AgentResponse
		want Classification
	}{
		{
			name: "nil response",
			resp: nil,
			want: Classification{Kind: core.ResponseUnknown},
		},
		{
			name: "explicit transfer",
			resp: &core.AgentResponse{
				Kind:     core.ResponseTransfer,
				Transfer: &core.Transfer{TargetAgentID: "billing", Reason: "invoice question"},
			},
			want: Classification{Kind: core.ResponseTransfer, TargetAgentID: "billing", Reason: "invoice question"},
		},
		{
			name: "explicit transfer from data part",
			resp: &core.AgentResponse{
				Kind:  core.ResponseTransfer,
				Parts: []core.Part{core.DataPart{Data: map[string]any{"targetAgentId": "billing", "reason": "r"}}},
			},
			want: Classification{Kind: core.ResponseTransfer, TargetAgentID: "billing", Reason: "r"},
		},
		{
			name: "explicit transfer without target",
			resp: &core.AgentResponse{Kind: core.ResponseTransfer},
			want: Classification{Kind: core.ResponseTransfer},
		},
		{
			name: "explicit delegation",
			resp: &core.AgentResponse{
				Kind:       core.ResponseDelegation,
				Delegation: &core.Delegation{TargetAgentID: "research", Message: "look it up"},
			},
			want: Classification{Kind: core.ResponseDelegation, TargetAgentID: "research", Message: "look it up"},
		},
		{
			name: "completion with text",
			resp: &core.AgentResponse{Kind: core.ResponseCompletion, Parts: []core.Part{core.TextPart{Text: "hi"}}},
			want: Classification{Kind: core.ResponseCompletion},
		},
		{
			name: "completion with blank text",
			resp: &core.AgentResponse{Kind: core.ResponseCompletion, Parts: []core.Part{core.TextPart{Text: "  "}}},
			want: Classification{Kind: core.ResponseUnknown},
		},
		{
			name: "structured transfer without kind",
			resp: &core.AgentResponse{Transfer: &core.Transfer{TargetAgentID: "billing"}},
			want: Classification{Kind: core.ResponseTransfer, TargetAgentID: "billing"},
		},
		{
			name: "typed data delegation",
			resp: &core.AgentResponse{Parts: []core.Part{
				core.TextPart{Text: "let me ask"},
				core.DataPart{Data: map[string]any{"type": "Delegation", "targetAgentId": "research", "task": "find it"}},
			}},
			want: Classification{Kind: core.ResponseDelegation, TargetAgentID: "research", Message: "find it"},
		},
		{
			name: "data part with target only",
			resp: &core.AgentResponse{Parts: []core.Part{
				core.DataPart{Data: map[string]any{"targetAgentId": "billing", "reason": "money"}},
			}},
			want: Classification{Kind: core.ResponseTransfer, TargetAgentID: "billing", Reason: "money"},
		},
		{
			name: "unrelated typed data is content",
			resp: &core.AgentResponse{Parts: []core.Part{
				core.DataPart{Kind: "data-component", Data: map[string]any{"type": "chart"}},
			}},
			want: Classification{Kind: core.ResponseCompletion},
		},
		{
			name: "text without kind",
			resp: &core.AgentResponse{Parts: []core.Part{core.TextPart{Text: "answer"}}},
			want: Classification{Kind: core.ResponseCompletion},
		},
		{
			name: "empty response",
			resp: &core.AgentResponse{},
			want: Classification{Kind: core.ResponseUnknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.resp))
		})
	}
}

func TestRoutingMessages(t *testing.T) {
	assert.Equal(t, "<transfer_context> needs billing </transfer_context>", TransferMessage("needs billing"))
	assert.Equal(t, `<delegation_result agent="research"> 42 </delegation_result>`, DelegationResultMessage("research", "42"))
}
