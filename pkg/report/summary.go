package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/stepbind/pkg/kernel/engine"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
	"github.com/ormasoftchile/stepbind/pkg/kernel/runner"
)

// maxNameWidth caps the scenario column of the summary table.
const maxNameWidth = 60

// WriteSummary prints the run totals, a table of scenarios that did not
// pass and the step skeletons suggested for undefined steps.
func WriteSummary(w io.Writer, out *runner.Output, colored bool) {
	p := palette{colored: colored}
	s := out.Summary

	counts := []struct {
		label string
		n     int
		style func(string) string
	}{
		{"passed", s.Passed, func(t string) string { return p.render(passedStyle, t) }},
		{"failed", s.Failed, func(t string) string { return p.render(failedStyle, t) }},
		{"pending", s.Pending, func(t string) string { return p.render(warnStyle, t) }},
		{"undefined", s.Undefined, func(t string) string { return p.render(warnStyle, t) }},
		{"skipped", s.Skipped, func(t string) string { return p.render(dimStyle, t) }},
	}
	var parts []string
	for _, c := range counts {
		if c.n > 0 {
			parts = append(parts, c.style(fmt.Sprintf("%d %s", c.n, c.label)))
		}
	}
	line := fmt.Sprintf("%d features, %d scenarios", s.Features, s.Total)
	if len(parts) > 0 {
		line += " (" + strings.Join(parts, ", ") + ")"
	}
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "%s %s  %s %s\n",
		p.render(labelStyle, "Run:"), out.RunID,
		p.render(labelStyle, "Duration:"), out.Duration.Round(time.Millisecond))

	var failing []*engine.ScenarioResult
	for _, f := range out.Features {
		for _, sc := range f.Scenarios {
			if sc.Status != outcome.Passed && sc.Status != outcome.Skipped {
				failing = append(failing, sc)
			}
		}
	}
	if len(failing) > 0 {
		fmt.Fprintln(w)
		writeScenarioTable(w, p, failing)
	}

	snippets := collectSnippets(out)
	if len(snippets) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, p.render(warnStyle, "You can implement step definitions for undefined steps with these snippets:"))
		for _, sn := range snippets {
			fmt.Fprintln(w)
			fmt.Fprintln(w, sn)
		}
	}
}

func writeScenarioTable(w io.Writer, p palette, rows []*engine.ScenarioResult) {
	nameWidth := runewidth.StringWidth("Scenario")
	names := make([]string, len(rows))
	for i, sc := range rows {
		names[i] = runewidth.Truncate(sc.Info.Name, maxNameWidth, "…")
		if n := runewidth.StringWidth(names[i]); n > nameWidth {
			nameWidth = n
		}
	}
	fmt.Fprintf(w, "%s  %s\n", p.render(labelStyle, runewidth.FillRight("Scenario", nameWidth)), p.render(labelStyle, "Status"))
	for i, sc := range rows {
		fmt.Fprintf(w, "%s  %s\n", runewidth.FillRight(names[i], nameWidth),
			p.render(statusStyle(sc.Status), glyph(sc.Status)+" "+sc.Status.String()))
		if sc.Err != nil {
			fmt.Fprintf(w, "%s  %s\n", strings.Repeat(" ", nameWidth), firstLine(sc.Err.Error()))
		}
	}
}

// collectSnippets returns the distinct snippets of the run in order.
func collectSnippets(out *runner.Output) []string {
	seen := map[string]bool{}
	var all []string
	for _, f := range out.Features {
		for _, sc := range f.Scenarios {
			for _, sn := range sc.Snippets {
				if !seen[sn] {
					seen[sn] = true
					all = append(all, sn)
				}
			}
		}
	}
	return all
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
