package artifact

import "strings"

// maxUnescapePasses bounds NormalizeEscapes on pathological input.
const maxUnescapePasses = 32

var unescaper = strings.NewReplacer(
	`\\`, `\`,
	`\"`, `"`,
	`\n`, "\n",
	`\t`, "\t",
	`\r`, "\r",
)

// NormalizeEscapes collapses escaping left behind by values that went through
// several JSON encodings (doubled backslashes, escaped quotes and newlines).
// It repeats until the string stops changing, so NormalizeEscapes of its own
// output is a no-op.
func NormalizeEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	for i := 0; i < maxUnescapePasses; i++ {
		next := unescaper.Replace(s)
		if next == s {
			return s
		}
		s = next
	}
	return s
}

// CleanValue applies NormalizeEscapes to every string inside v. Maps and
// slices are copied, never mutated.
func CleanValue(v any) any {
	switch val := v.(type) {
	case string:
		return NormalizeEscapes(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CleanValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CleanValue(item)
		}
		return out
	default:
		return v
	}
}
