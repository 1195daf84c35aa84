// Package tmpl renders the short text templates used for coordinator notices.
package tmpl

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"join":     strings.Join,
	"upper":    strings.ToUpper,
	"trim":     strings.TrimSpace,
	"truncate": truncate,
	"default":  stringOrDefault,
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(n int, s string) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

func stringOrDefault(def, s string) string {
	if s != "" {
		return s
	}
	return def
}

func parse(tmpl string) (*template.Template, error) {
	t, err := template.New("").Funcs(funcs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return t, nil
}

// Validate reports whether tmpl parses.
func Validate(tmpl string) error {
	_, err := parse(tmpl)
	return err
}

// Render executes a Go template string with the given data.
// Returns an error if the template is invalid or references undefined keys.
//
// Available template functions:
//   - join: Join string slice with separator (e.g., join .Files ", ")
//   - upper, trim: strings.ToUpper and strings.TrimSpace
//   - truncate: Cut a string to n runes (e.g., .Reason | truncate 80)
//   - default: Fallback for empty strings (e.g., .Category | default "none")
func Render(tmpl string, data any) (string, error) {
	t, err := parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}

	return buf.String(), nil
}
