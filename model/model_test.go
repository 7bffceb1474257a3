package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{name: "plain", in: `{"name":"Docs"}`, want: map[string]any{"name": "Docs"}},
		{name: "fenced", in: "```json\n{\"name\":\"Docs\"}\n```", want: map[string]any{"name": "Docs"}},
		{name: "truncated", in: `{"name":"Docs","description":"Search res`, want: map[string]any{"name": "Docs", "description": "Search res"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseObject(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseObject_Empty(t *testing.T) {
	_, err := ParseObject("   ")
	assert.ErrorIs(t, err, ErrNoObject)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	m := NewMockModel("summarizer")
	r.Register("summarizer", m)

	got, ok := r.Model("summarizer")
	require.True(t, ok)
	assert.Equal(t, "summarizer", got.Info().Name)

	_, ok = r.Model("")
	assert.False(t, ok)
}

func TestMockModel_QueuesAndErrors(t *testing.T) {
	ctx := context.Background()
	m := NewMockModel("m").
		AddError(errors.New("rate limited")).
		AddObject(map[string]any{"a": 1.0}).
		AddObject(map[string]any{"b": 2.0})

	_, err := m.GenerateObject(ctx, Request{}, Schema{})
	require.Error(t, err)

	first, err := m.GenerateObject(ctx, Request{}, Schema{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, first["a"])

	second, _ := m.GenerateObject(ctx, Request{}, Schema{})
	third, _ := m.GenerateObject(ctx, Request{}, Schema{})
	assert.Equal(t, second, third)

	text, err := m.GenerateText(ctx, Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: hi", text)

	tc, oc := m.Calls()
	assert.Equal(t, 1, tc)
	assert.Equal(t, 4, oc)
}
