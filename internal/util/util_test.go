package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namingResult struct {
	Name        string `json:"name" description:"Short artifact title"`
	Description string `json:"description"`
	Tone        string `json:"tone,omitempty" enum:"neutral, upbeat"`
	internal    string
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(namingResult{})
	props := schema["properties"].(map[string]any)

	assert.Len(t, props, 3)
	assert.Equal(t, "Short artifact title", props["name"].(map[string]any)["description"])
	assert.Equal(t, []any{"neutral", "upbeat"}, props["tone"].(map[string]any)["enum"])
	assert.Equal(t, []any{"name", "description"}, schema["required"])
}

func TestCompileAndValidate(t *testing.T) {
	compiled, err := CompileSchema("naming", CreateSchema(&namingResult{}))
	require.NoError(t, err)

	assert.NoError(t, ValidateValue(compiled, map[string]any{"name": "Docs", "description": "d"}))
	assert.Error(t, ValidateValue(compiled, map[string]any{"name": "Docs"}))
	assert.Error(t, ValidateValue(compiled, map[string]any{"name": "Docs", "description": "d", "tone": "angry"}))
}
