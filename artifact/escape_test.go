package artifact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEscapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"newline", `a\nb`, "a\nb"},
		{"double escaped newline", `a\\nb`, "a\nb"},
		{"quotes", `say \"hi\"`, `say "hi"`},
		{"over escaped quotes", `say \\\"hi\\\"`, `say "hi"`},
		{"tab and cr", `a\tb\rc`, "a\tb\rc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeEscapes(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeEscapes(got))
		})
	}
}

func TestNormalizeEscapes_Bounded(t *testing.T) {
	in := strings.Repeat(`\`, 1<<12) + "n"
	out := NormalizeEscapes(in)
	assert.Equal(t, out, NormalizeEscapes(out))
}

func TestCleanValue(t *testing.T) {
	in := map[string]any{
		"text":  `a\\nb`,
		"list":  []any{`x\"y`, 3.0},
		"inner": map[string]any{"s": `c\td`},
	}
	out := CleanValue(in).(map[string]any)

	assert.Equal(t, "a\nb", out["text"])
	assert.Equal(t, []any{`x"y`, 3.0}, out["list"])
	assert.Equal(t, "c\td", out["inner"].(map[string]any)["s"])
	assert.Equal(t, `a\\nb`, in["text"])
}
