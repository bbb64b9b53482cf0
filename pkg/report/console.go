package report

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ormasoftchile/stepbind/pkg/kernel/events"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

// Console prints run progress as features finish. Output of each worker
// is buffered until its feature completes so parallel runs do not
// interleave lines.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	p    palette
	bufs map[int]*strings.Builder
}

// NewConsole returns a console listener writing to w.
func NewConsole(w io.Writer, colored bool) *Console {
	return &Console{w: w, p: palette{colored: colored}, bufs: map[int]*strings.Builder{}}
}

func (c *Console) OnEvent(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.bufs[e.Worker]
	if !ok {
		b = &strings.Builder{}
		c.bufs[e.Worker] = b
	}

	switch e.Type {
	case events.FeatureStarted:
		fmt.Fprintf(b, "%s %s\n", c.p.render(labelStyle, "Feature:"), c.p.render(featureStyle, e.Feature))
	case events.ScenarioStarted:
		fmt.Fprintf(b, "\n  %s %s%s\n", c.p.render(labelStyle, "Scenario:"), c.p.render(scenarioStyle, e.Scenario), c.tags(e.Tags))
	case events.ScenarioSkipped:
		fmt.Fprintf(b, "\n  %s %s %s\n", c.p.render(labelStyle, "Scenario:"), c.p.render(scenarioStyle, e.Scenario),
			c.p.render(dimStyle, "(skipped)"))
		c.errorLine(b, "    ", e.Err)
	case events.StepFinished:
		fmt.Fprintf(b, "    %s %s\n", c.p.render(statusStyle(e.Status), glyph(e.Status)), c.stepText(e))
		if e.Status != outcome.Skipped {
			c.errorLine(b, "      ", e.Err)
		}
	case events.HookFinished:
		if e.Status != outcome.Passed {
			fmt.Fprintf(b, "    %s %s hook\n", c.p.render(statusStyle(e.Status), glyph(e.Status)), e.Hook)
			c.errorLine(b, "      ", e.Err)
		}
	case events.ScenarioFinished:
		if e.Status != outcome.Passed {
			fmt.Fprintf(b, "  %s\n", c.p.render(statusStyle(e.Status), "=> "+e.Status.String()))
		}
	case events.FeatureFinished:
		b.WriteString("\n")
		io.WriteString(c.w, b.String())
		b.Reset()
	case events.TestRunFinished:
		for _, buf := range c.bufs {
			if buf.Len() > 0 {
				io.WriteString(c.w, buf.String())
				buf.Reset()
			}
		}
	}
}

func (c *Console) stepText(e events.Event) string {
	if e.Status == outcome.Skipped {
		return c.p.render(dimStyle, e.Step)
	}
	return e.Step
}

func (c *Console) tags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return " " + c.p.render(dimStyle, strings.Join(tags, " "))
}

func (c *Console) errorLine(b *strings.Builder, indent string, err error) {
	if err == nil {
		return
	}
	for _, line := range strings.Split(err.Error(), "\n") {
		fmt.Fprintf(b, "%s%s\n", indent, c.p.render(errorStyle, line))
	}
}
