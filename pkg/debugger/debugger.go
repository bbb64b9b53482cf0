// Package debugger implements an interactive REPL that walks the steps of
// a scenario through the matcher, one step at a time.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
)

// RunFunc dry-runs the loaded features and prints the result.
type RunFunc func(ctx context.Context, w io.Writer) error

// target is one selectable scenario.
type target struct {
	feature  *feature.Feature
	scenario *feature.Scenario
}

// record is the match result of one stepped-through step.
type record struct {
	Index  int          `json:"index"`
	Report match.Report `json:"report"`
}

// Debugger provides an interactive REPL over a binding registry and a set
// of features.
type Debugger struct {
	registry *bindings.Registry
	matcher  *match.Matcher
	targets  []target
	output   io.Writer
	rl       *readline.Instance
	run      RunFunc

	current int // selected target, -1 when none
	stepIdx int
	history []record
}

// New creates a debugger. The first scenario is selected when there is
// one.
func New(reg *bindings.Registry, features []feature.Feature) (*Debugger, error) {
	m, err := match.New(reg)
	if err != nil {
		return nil, fmt.Errorf("create matcher: %w", err)
	}
	d := &Debugger{
		registry: reg,
		matcher:  m,
		output:   os.Stdout,
		current:  -1,
	}
	for i := range features {
		f := &features[i]
		for j := range f.Scenarios {
			d.targets = append(d.targets, target{feature: f, scenario: &f.Scenarios[j]})
		}
	}
	if len(d.targets) > 0 {
		d.current = 0
	}
	return d, nil
}

// SetOutput redirects command output.
func (d *Debugger) SetOutput(w io.Writer) { d.output = w }

// SetRunner enables the run command.
func (d *Debugger) SetRunner(run RunFunc) { d.run = run }

// Run starts the interactive REPL loop.
func (d *Debugger) Run(ctx context.Context) error {
	commands := []string{"next", "continue", "match", "scenarios", "select",
		"history", "bindings", "dump", "run", "help", "quit"}

	var completer = readline.NewPrefixCompleter()
	for _, cmd := range commands {
		completer.Children = append(completer.Children,
			readline.PcItem(cmd))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          d.buildPrompt(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	d.rl = rl
	defer rl.Close()

	fmt.Fprintf(d.output, "stepbind debugger: %d scenarios, %d step definitions\n",
		len(d.targets), len(d.registry.AllStepDefinitions()))
	fmt.Fprintf(d.output, "Type 'help' for available commands, 'next' to match the next step.\n\n")

	for {
		rl.SetPrompt(d.buildPrompt())
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if d.Execute(ctx, line) {
			return nil
		}
	}
}

// Execute runs one command line and reports whether the session ends.
func (d *Debugger) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "next", "n":
		d.handleNext()
	case "continue", "c":
		d.handleContinue()
	case "match", "m":
		d.handleMatch(rest)
	case "scenarios", "ls":
		d.handleScenarios()
	case "select", "s":
		d.handleSelect(rest)
	case "history", "h":
		d.handleHistory()
	case "bindings", "b":
		d.handleBindings()
	case "dump":
		d.handleDump()
	case "run", "r":
		d.handleRun(ctx)
	case "help", "?":
		d.handleHelp()
	case "quit", "q":
		fmt.Fprintf(d.output, "Exiting debugger.\n")
		return true
	default:
		fmt.Fprintf(d.output, "Unknown command: %q. Type 'help' for available commands.\n", cmd)
	}
	return false
}

// buildPrompt creates the prompt string: stepbind[step N/total | scenario]>
func (d *Debugger) buildPrompt() string {
	if d.current < 0 {
		return "stepbind> "
	}
	sc := d.targets[d.current].scenario
	total := len(sc.Steps)
	if d.stepIdx >= total {
		return fmt.Sprintf("stepbind[done | %s]> ", sc.Info.Name)
	}
	return fmt.Sprintf("stepbind[%d/%d | %s]> ", d.stepIdx+1, total, sc.Info.Name)
}
