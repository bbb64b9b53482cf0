// Package report renders run progress, run summaries and binding listings
// for terminals.
package report

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

// Status glyphs convey the outcome without relying on color alone.
const (
	GlyphPassed    = "✓"
	GlyphFailed    = "✗"
	GlyphSkipped   = "⏭"
	GlyphPending   = "○"
	GlyphUndefined = "?"
	GlyphAmbiguous = "≠"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
	colorWhite  = lipgloss.Color("255")
)

var (
	featureStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	scenarioStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite)

	passedStyle = lipgloss.NewStyle().
			Foreground(colorGreen)

	failedStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	dimStyle = lipgloss.NewStyle().
			Faint(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)
)

// palette applies styles only when color output is enabled.
type palette struct{ colored bool }

func (p palette) render(s lipgloss.Style, text string) string {
	if !p.colored {
		return text
	}
	return s.Render(text)
}

func glyph(s outcome.Status) string {
	switch s {
	case outcome.Passed:
		return GlyphPassed
	case outcome.Skipped:
		return GlyphSkipped
	case outcome.StepDefinitionPending:
		return GlyphPending
	case outcome.UndefinedStep:
		return GlyphUndefined
	case outcome.AmbiguousScenarioDefinition:
		return GlyphAmbiguous
	}
	return GlyphFailed
}

func statusStyle(s outcome.Status) lipgloss.Style {
	switch s {
	case outcome.Passed:
		return passedStyle
	case outcome.Skipped:
		return dimStyle
	case outcome.StepDefinitionPending, outcome.UndefinedStep:
		return warnStyle
	}
	return failedStyle
}
