package ledger

import (
	"fmt"
	"strings"
	"text/template"
)

// Status prompts see these variables: history, events, previous and elapsed.
var promptFuncs = template.FuncMap{
	"default": func(fallback, val any) any {
		if val == nil || val == "" {
			return fallback
		}
		return val
	},
	"truncate": func(n int, s string) string { return truncate(s, n) },
	"upper":    strings.ToUpper,
	"lower":    strings.ToLower,
}

// parseStatusPrompt compiles a graph's status prompt, or the default one
// when text is empty.
func parseStatusPrompt(text string) (*template.Template, error) {
	if text == "" {
		text = defaultStatusPrompt
	}
	tpl, err := template.New("status_prompt").Option("missingkey=zero").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse status prompt: %w", err)
	}
	return tpl, nil
}

func executePrompt(tpl *template.Template, vars map[string]any) (string, error) {
	var sb strings.Builder
	if err := tpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render status prompt: %w", err)
	}
	return sb.String(), nil
}
