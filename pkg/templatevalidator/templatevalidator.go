// Package templatevalidator validates Go text/template syntax for escalation
// response templates before the admin surface persists them, restricted to
// a small whitelisted function set (no shell-out, no filesystem access).
package templatevalidator

import (
	"fmt"
	"strings"
	"text/template"
	"text/template/parse"
)

// whitelist is the only functions an escalation response template may call.
var whitelist = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
}

// mockData mirrors the fields a response template is rendered with at
// escalation time, so Execute can catch a field-name typo at validation time.
type mockData struct {
	Category string
	Trigger  string
	Urgency  string
}

// Validate parses content as a Go template restricted to whitelist, then
// executes it against representative mock data. A parse or execute failure
// is returned verbatim so the admin UI can surface the line/column.
func Validate(content string) error {
	// Parsing with whitelist as the only function table reports any other
	// function, including text/template builtins such as printf, as undefined.
	if _, err := parse.Parse("response", content, "", "", map[string]any(whitelist)); err != nil {
		return fmt.Errorf("template syntax error: %w", err)
	}
	tmpl, err := template.New("response").Funcs(whitelist).Parse(content)
	if err != nil {
		return fmt.Errorf("template syntax error: %w", err)
	}
	var sb strings.Builder
	data := mockData{Category: "example", Trigger: "example keyword", Urgency: "high"}
	if err := tmpl.Execute(&sb, data); err != nil {
		return fmt.Errorf("template execution error: %w", err)
	}
	return nil
}
