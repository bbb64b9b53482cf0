package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
)

// BindingsMarkdown lists the registry's step definitions and hooks as
// Markdown tables. Invalid step definitions are listed with their error.
func BindingsMarkdown(r *bindings.Registry) string {
	var b strings.Builder
	b.WriteString("# Bindings\n\n")

	steps := r.AllStepDefinitions()
	fmt.Fprintf(&b, "## Step definitions (%d)\n\n", len(steps))
	if len(steps) == 0 {
		b.WriteString("_none_\n\n")
	} else {
		b.WriteString("| Type | Pattern | Method | Scope | Notes |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, d := range steps {
			var notes []string
			if d.Obsolete != nil {
				notes = append(notes, "obsolete: "+d.Obsolete.Message)
			}
			if err := d.Err(); err != nil {
				notes = append(notes, "**invalid**: "+err.Error())
			}
			fmt.Fprintf(&b, "| %s | `%s` | %s | %s | %s |\n",
				d.Type, cell(d.Pattern), cell(d.Method.Signature()), cell(scopeText(d.Scope)), cell(strings.Join(notes, "; ")))
		}
		b.WriteString("\n")
	}

	hooks := r.AllHooks()
	fmt.Fprintf(&b, "## Hooks (%d)\n\n", len(hooks))
	if len(hooks) == 0 {
		b.WriteString("_none_\n")
		return b.String()
	}
	b.WriteString("| Kind | Order | Method | Scope |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, h := range hooks {
		fmt.Fprintf(&b, "| %s | %d | %s | %s |\n", h.Kind, h.Order, cell(h.Method.Signature()), cell(scopeText(h.Scope)))
	}
	return b.String()
}

// RenderMarkdown renders md for the terminal. A width of zero disables
// word wrapping.
func RenderMarkdown(md string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}

func scopeText(s scope.Spec) string {
	if s.IsZero() {
		return ""
	}
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("tags", s.Tags)
	add("keyword", string(s.Keyword))
	add("block", string(s.Block))
	add("feature", s.FeatureTitle)
	add("scenario", s.ScenarioTitle)
	return strings.Join(parts, " ")
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
