// Package tui renders a live view of a run in the terminal. Lifecycle
// events are sent to a Bubble Tea program that lists features and
// scenarios as they execute.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/stepbind/pkg/kernel/events"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
	"github.com/ormasoftchile/stepbind/pkg/kernel/runner"
)

// Glyphs for scenario states.
const (
	GlyphQueued  = "○"
	GlyphPassed  = "✓"
	GlyphFailed  = "✗"
	GlyphSkipped = "⏭"
	GlyphPending = "…"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")

	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan).Padding(0, 1)
	featureStyle  = lipgloss.NewStyle().Bold(true)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	passedStyle   = lipgloss.NewStyle().Foreground(colorGreen)
	failedStyle   = lipgloss.NewStyle().Foreground(colorRed)
	pendingStyle  = lipgloss.NewStyle().Foreground(colorYellow)
	dimStyle      = lipgloss.NewStyle().Foreground(colorDim)
	spinnerStyle  = lipgloss.NewStyle().Foreground(colorYellow)
)

// RunFunc executes the run the view follows.
type RunFunc func(ctx context.Context) (*runner.Output, error)

// ScenarioState tracks one scenario in the view.
type ScenarioState struct {
	Name    string
	Running bool
	Done    bool
	Status  outcome.Status
	// Step is the step being executed while the scenario runs.
	Step     string
	Err      string
	Duration time.Duration
}

// FeatureState groups the scenarios of one feature.
type FeatureState struct {
	Name      string
	Scenarios []*ScenarioState
}

type eventMsg struct{ event events.Event }

type runCompleteMsg struct {
	output *runner.Output
	err    error
}

// Model is the Bubble Tea model of a live run.
type Model struct {
	title    string
	run      RunFunc
	features []*FeatureState
	index    map[string]*ScenarioState
	selected int
	spinner  spinner.Model
	done     bool
	output   *runner.Output
	err      error
	width    int
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewModel creates a view titled title that starts run on Init.
func NewModel(title string, run RunFunc) Model {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = spinnerStyle
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		title:   title,
		run:     run,
		index:   make(map[string]*ScenarioState),
		spinner: sp,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Listener forwards lifecycle events to a running program.
func Listener(p *tea.Program) events.Listener {
	return events.ListenerFunc(func(e events.Event) {
		switch e.Type {
		case events.FeatureStarted, events.ScenarioStarted, events.StepStarted, events.ScenarioFinished:
			p.Send(eventMsg{event: e})
		}
	})
}

// Run starts the program on the terminal and blocks until the user quits.
// The program receives events through the listener handed to start.
func Run(title string, start func(l events.Listener) RunFunc) error {
	var p *tea.Program
	m := NewModel(title, nil)
	l := events.ListenerFunc(func(e events.Event) { Listener(p).OnEvent(e) })
	m.run = start(l)
	p = tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startRun())
}

func (m Model) startRun() tea.Cmd {
	if m.run == nil {
		return nil
	}
	run, ctx := m.run, m.ctx
	return func() tea.Msg {
		out, err := run(ctx)
		return runCompleteMsg{output: out, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < m.scenarioCount()-1 {
				m.selected++
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(msg.event)

	case runCompleteMsg:
		m.done = true
		m.output = msg.output
		m.err = msg.err
	}
	return m, nil
}

func (m *Model) apply(e events.Event) {
	switch e.Type {
	case events.FeatureStarted:
		m.feature(e.Feature)
	case events.ScenarioStarted:
		sc := m.scenario(e.Feature, e.Scenario)
		sc.Running = true
	case events.StepStarted:
		m.scenario(e.Feature, e.Scenario).Step = e.Step
	case events.ScenarioFinished:
		sc := m.scenario(e.Feature, e.Scenario)
		sc.Running = false
		sc.Done = true
		sc.Step = ""
		sc.Status = e.Status
		sc.Err = e.Error()
		sc.Duration = e.Duration
	}
}

func (m *Model) feature(name string) *FeatureState {
	for _, f := range m.features {
		if f.Name == name {
			return f
		}
	}
	f := &FeatureState{Name: name}
	m.features = append(m.features, f)
	return f
}

// scenario finds or adds a scenario row. Outline rows share a name, so a
// finished row with the same name starts a new one.
func (m *Model) scenario(featureName, name string) *ScenarioState {
	key := featureName + "\x00" + name
	if sc, ok := m.index[key]; ok && !sc.Done {
		return sc
	}
	f := m.feature(featureName)
	sc := &ScenarioState{Name: name}
	f.Scenarios = append(f.Scenarios, sc)
	m.index[key] = sc
	return sc
}

func (m Model) scenarioCount() int {
	n := 0
	for _, f := range m.features {
		n += len(f.Scenarios)
	}
	return n
}

func (m Model) selectedScenario() *ScenarioState {
	i := 0
	for _, f := range m.features {
		for _, sc := range f.Scenarios {
			if i == m.selected {
				return sc
			}
			i++
		}
	}
	return nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("stepbind: " + m.title))
	b.WriteString("\n\n")

	i := 0
	for _, f := range m.features {
		b.WriteString(featureStyle.Render("Feature: " + f.Name))
		b.WriteString("\n")
		for _, sc := range f.Scenarios {
			line := fmt.Sprintf("%s %s", m.glyph(sc), sc.Name)
			if sc.Done && sc.Duration > 0 {
				line += dimStyle.Render("  " + sc.Duration.Truncate(time.Millisecond).String())
			}
			if sc.Running && sc.Step != "" {
				line += dimStyle.Render("  " + sc.Step)
			}
			if i == m.selected {
				b.WriteString(selectedStyle.Render("› ") + line)
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
			i++
		}
	}

	if sc := m.selectedScenario(); sc != nil && sc.Err != "" {
		b.WriteString("\n")
		b.WriteString(failedStyle.Render(wrap(sc.Err, m.width)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q: quit  ↑/↓: select"))
	return b.String()
}

func (m Model) glyph(sc *ScenarioState) string {
	switch {
	case sc.Running:
		return m.spinner.View()
	case !sc.Done:
		return dimStyle.Render(GlyphQueued)
	}
	switch sc.Status {
	case outcome.Passed:
		return passedStyle.Render(GlyphPassed)
	case outcome.Skipped:
		return dimStyle.Render(GlyphSkipped)
	case outcome.StepDefinitionPending, outcome.UndefinedStep:
		return pendingStyle.Render(GlyphPending)
	default:
		return failedStyle.Render(GlyphFailed)
	}
}

func (m Model) statusLine() string {
	switch {
	case !m.done:
		running := 0
		for _, sc := range m.index {
			if sc.Running {
				running++
			}
		}
		return fmt.Sprintf("%s running, %d scenarios started", m.spinner.View(), m.scenarioCount()) +
			dimStyle.Render(fmt.Sprintf(" (%d active)", running))
	case m.err != nil:
		return failedStyle.Render(GlyphFailed + " " + m.err.Error())
	case m.output == nil:
		return dimStyle.Render("no output")
	}
	s := m.output.Summary
	text := fmt.Sprintf("%s: %d scenarios, %d passed, %d failed, %d skipped, %d pending, %d undefined in %s",
		m.output.Status, s.Total, s.Passed, s.Failed, s.Skipped, s.Pending, s.Undefined,
		m.output.Duration.Truncate(time.Millisecond))
	if m.output.Status == outcome.Passed {
		return passedStyle.Render(GlyphPassed + " " + text)
	}
	return failedStyle.Render(GlyphFailed + " " + text)
}

func wrap(s string, width int) string {
	if width <= 4 {
		return s
	}
	return lipgloss.NewStyle().Width(width - 2).Render(s)
}
