package debugger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
)

// scopeFor builds the scope context of step within the selected scenario.
func (d *Debugger) scopeFor(step feature.StepInstance) scope.Context {
	c := scope.Context{Keyword: step.Keyword, Block: step.Block}
	if d.current < 0 {
		return c
	}
	t := d.targets[d.current]
	c.FeatureTitle = t.feature.Info.Name
	c.ScenarioTitle = t.scenario.Info.Name
	c.Tags = t.scenario.Info.CombinedTags
	if len(c.Tags) == 0 {
		c.Tags = feature.MergeTags(t.feature.Info.Tags, t.scenario.Info.Tags)
	}
	return c
}

// handleNext matches the next step of the selected scenario and advances.
func (d *Debugger) handleNext() bool {
	if d.current < 0 {
		fmt.Fprintf(d.output, "No scenario selected.\n")
		return false
	}
	sc := d.targets[d.current].scenario
	if d.stepIdx >= len(sc.Steps) {
		fmt.Fprintf(d.output, "All steps matched.\n")
		return false
	}

	step := sc.Steps[d.stepIdx]
	o := d.matcher.Match(step, d.scopeFor(step))
	r := o.Report(step)
	d.history = append(d.history, record{Index: d.stepIdx, Report: r})
	d.stepIdx++

	if o.Kind == match.KindMatched {
		fmt.Fprintf(d.output, "  ✓ %s\n      %s%s\n", r.Step, r.Method, formatArgs(r.Arguments))
		return true
	}
	fmt.Fprintf(d.output, "  ✗ %s: %s\n", r.Step, r.Kind)
	if r.Error != "" {
		fmt.Fprintf(d.output, "      %s\n", r.Error)
	}
	for _, c := range r.Candidates {
		fmt.Fprintf(d.output, "      candidate: %s\n", c)
	}
	return false
}

// handleContinue matches all remaining steps.
func (d *Debugger) handleContinue() {
	if d.current < 0 {
		fmt.Fprintf(d.output, "No scenario selected.\n")
		return
	}
	sc := d.targets[d.current].scenario
	problems := 0
	for d.stepIdx < len(sc.Steps) {
		if !d.handleNext() {
			problems++
		}
	}
	fmt.Fprintf(d.output, "All steps matched, %d problems.\n", problems)
}

// handleMatch matches a written step in the selected scenario's scope.
func (d *Debugger) handleMatch(line string) {
	if line == "" {
		fmt.Fprintf(d.output, "Usage: match <keyword> <step text>\n")
		return
	}
	step, err := feature.ParseStepLine(line)
	if err != nil {
		fmt.Fprintf(d.output, "  Error: %v\n", err)
		return
	}
	r := d.matcher.Match(step, d.scopeFor(step)).Report(step)
	d.printJSON(r)
}

// handleScenarios lists the selectable scenarios.
func (d *Debugger) handleScenarios() {
	if len(d.targets) == 0 {
		fmt.Fprintf(d.output, "No scenarios loaded.\n")
		return
	}
	for i, t := range d.targets {
		marker := " "
		if i == d.current {
			marker = "▸"
		}
		line := fmt.Sprintf("%s [%d] %s / %s (%d steps)", marker, i+1, t.feature.Info.Name, t.scenario.Info.Name, len(t.scenario.Steps))
		if tags := t.scenario.Info.CombinedTags; len(tags) > 0 {
			line += " " + strings.Join(tags, " ")
		}
		fmt.Fprintln(d.output, line)
	}
}

// handleSelect chooses a scenario by number or name and rewinds it.
func (d *Debugger) handleSelect(arg string) {
	if arg == "" {
		fmt.Fprintf(d.output, "Usage: select <number|scenario name>\n")
		return
	}
	idx := -1
	if n, err := strconv.Atoi(arg); err == nil {
		if n >= 1 && n <= len(d.targets) {
			idx = n - 1
		}
	} else {
		for i, t := range d.targets {
			if t.scenario.Info.Name == arg {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		fmt.Fprintf(d.output, "No scenario %q.\n", arg)
		return
	}
	d.current = idx
	d.stepIdx = 0
	d.history = nil
	t := d.targets[idx]
	fmt.Fprintf(d.output, "Selected %s / %s\n", t.feature.Info.Name, t.scenario.Info.Name)
}

// handleHistory shows the match results of the selected scenario.
func (d *Debugger) handleHistory() {
	if len(d.history) == 0 {
		fmt.Fprintf(d.output, "No steps matched yet.\n")
		return
	}
	for _, h := range d.history {
		status := "✓"
		if h.Report.Kind != match.KindMatched.String() {
			status = "✗"
		}
		fmt.Fprintf(d.output, "  %s [%d] %s: %s\n", status, h.Index+1, h.Report.Step, h.Report.Kind)
		if h.Report.Error != "" {
			fmt.Fprintf(d.output, "       error: %s\n", h.Report.Error)
		}
	}
}

// handleBindings lists the step definitions.
func (d *Debugger) handleBindings() {
	defs := d.registry.AllStepDefinitions()
	if len(defs) == 0 {
		fmt.Fprintf(d.output, "No step definitions.\n")
		return
	}
	for _, def := range defs {
		line := fmt.Sprintf("  %-5s %s  → %s", def.Type, def.Pattern, def.Method.Signature())
		if def.Scope.Tags != "" {
			line += "  [" + def.Scope.Tags + "]"
		}
		fmt.Fprintln(d.output, line)
	}
}

// handleDump outputs the match history of the selected scenario as JSON.
func (d *Debugger) handleDump() {
	if d.history == nil {
		d.printJSON([]record{})
		return
	}
	d.printJSON(d.history)
}

// handleRun dry-runs the loaded features.
func (d *Debugger) handleRun(ctx context.Context) {
	if d.run == nil {
		fmt.Fprintf(d.output, "Run is not available.\n")
		return
	}
	if err := d.run(ctx, d.output); err != nil {
		fmt.Fprintf(d.output, "  Error: %v\n", err)
	}
}

// handleHelp displays available commands.
func (d *Debugger) handleHelp() {
	fmt.Fprintln(d.output, "Available commands:")
	fmt.Fprintln(d.output, "  next (n)          Match the next step of the selected scenario")
	fmt.Fprintln(d.output, "  continue (c)      Match all remaining steps")
	fmt.Fprintln(d.output, "  match (m) <step>  Match a written step, e.g. match Given I have 3 apples")
	fmt.Fprintln(d.output, "  scenarios (ls)    List scenarios")
	fmt.Fprintln(d.output, "  select (s) <n>    Select a scenario by number or name")
	fmt.Fprintln(d.output, "  history (h)       Show match results of the selected scenario")
	fmt.Fprintln(d.output, "  bindings (b)      List step definitions")
	fmt.Fprintln(d.output, "  dump              Output match results as JSON")
	fmt.Fprintln(d.output, "  run (r)           Dry-run all loaded features")
	fmt.Fprintln(d.output, "  help (?)          Show this help")
	fmt.Fprintln(d.output, "  quit (q)          Exit debugger")
}

func (d *Debugger) printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(d.output, "  Error marshaling: %v\n", err)
		return
	}
	fmt.Fprintln(d.output, string(data))
}

func formatArgs(args []match.Argument) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%v", a.Value)
	}
	return "  [" + strings.Join(parts, ", ") + "]"
}
