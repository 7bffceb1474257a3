package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/model"
)

func newTestModel(t *testing.T, body string, seen *map[string]any) *Model {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		if seen != nil {
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	client := openai.NewClient(option.WithBaseURL(srv.URL+"/v1/"), option.WithAPIKey("test"), option.WithMaxRetries(0))
	return NewModelFromClient(&client, func(o *Options) { o.Model = "gpt-test" })
}

func TestGenerateText(t *testing.T) {
	var req map[string]any
	m := newTestModel(t, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Searching docs"}}]}`, &req)

	text, err := m.GenerateText(context.Background(), model.Request{Instructions: "be brief", Prompt: "summarize"})
	require.NoError(t, err)
	assert.Equal(t, "Searching docs", text)

	messages, ok := req["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
	assert.Equal(t, "gpt-test", req["model"])
}

func TestGenerateObject_ToolCall(t *testing.T) {
	var req map[string]any
	m := newTestModel(t, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
		"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
		"tool_calls":[{"id":"call_1","type":"function","function":{"name":"artifact_name","arguments":"{\"name\":\"Docs\",\"description\":\"Search results\"}"}}]}}]}`, &req)

	obj, err := m.GenerateObject(context.Background(), model.Request{Prompt: "name it"}, model.Schema{
		Name:       "artifact_name",
		Parameters: map[string]any{"type": "object"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Docs", obj["name"])

	tools, ok := req["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 1)
}

func TestGenerateObject_TextFallback(t *testing.T) {
	m := newTestModel(t, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"name\":\"Docs\""}}]}`, nil)

	obj, err := m.GenerateObject(context.Background(), model.Request{Prompt: "name it"}, model.Schema{})
	require.NoError(t, err)
	assert.Equal(t, "Docs", obj["name"])
}

func TestInfo(t *testing.T) {
	client := openai.NewClient(option.WithAPIKey("test"))
	m := NewModelFromClient(&client)
	assert.Equal(t, "openai", m.Info().Provider)
}
