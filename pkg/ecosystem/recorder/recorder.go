// Package recorder captures the outcomes of a real run as a replay
// document, so the same feature files can later be run without the step
// library.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/engine"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
	"github.com/ormasoftchile/stepbind/pkg/kernel/replay"
)

// Recorder wraps an invoker and records every step and hook outcome.
// Outcomes of one method are kept in call order; with several workers that
// order follows completion, so record with one worker for stable files.
type Recorder struct {
	inner   engine.Invoker
	secrets []string // env var names whose values should be redacted

	mu    sync.Mutex
	steps map[string][]replay.Outcome
	hooks map[string][]replay.Outcome
}

// New creates a recording wrapper around an existing invoker.
func New(inner engine.Invoker) *Recorder {
	return &Recorder{
		inner: inner,
		steps: make(map[string][]replay.Outcome),
		hooks: make(map[string][]replay.Outcome),
	}
}

// SetSecrets configures secret env var names whose values are redacted in
// recorded error messages.
func (r *Recorder) SetSecrets(envVars []string) {
	r.secrets = envVars
}

// InvokeStep delegates to the inner invoker and records the outcome.
func (r *Recorder) InvokeStep(ctx context.Context, m *match.Match, step feature.StepInstance) error {
	err := r.inner.InvokeStep(ctx, m, step)
	r.record(r.steps, m.Binding.Method.ID(), err)
	return err
}

// InvokeHook delegates to the inner invoker and records the outcome.
func (r *Recorder) InvokeHook(ctx context.Context, h *bindings.Hook) error {
	err := r.inner.InvokeHook(ctx, h)
	r.record(r.hooks, h.Method.ID(), err)
	return err
}

func (r *Recorder) record(table map[string][]replay.Outcome, id string, err error) {
	o := r.outcome(err)
	r.mu.Lock()
	table[id] = append(table[id], o)
	r.mu.Unlock()
}

func (r *Recorder) outcome(err error) replay.Outcome {
	switch {
	case err == nil:
		return replay.Outcome{Status: replay.Pass}
	case errors.Is(err, outcome.ErrPending):
		var p *outcome.PendingStepError
		if errors.As(err, &p) {
			return replay.Outcome{Status: replay.Pending, Error: r.redact(p.Reason)}
		}
		return replay.Outcome{Status: replay.Pending}
	case errors.Is(err, outcome.ErrSkipped):
		msg := strings.TrimSuffix(err.Error(), ": "+outcome.ErrSkipped.Error())
		if msg == outcome.ErrSkipped.Error() {
			msg = ""
		}
		return replay.Outcome{Status: replay.Skip, Error: r.redact(msg)}
	default:
		return replay.Outcome{Status: replay.Fail, Error: r.redact(err.Error())}
	}
}

// Scenario returns the recorded replay document. Methods that only ever
// passed are left out; the document default passes them.
func (r *Recorder) Scenario() *replay.Scenario {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &replay.Scenario{
		Steps: compact(r.steps),
		Hooks: compact(r.hooks),
	}
}

// WriteFile writes the recorded replay document as YAML.
func (r *Recorder) WriteFile(path string) error {
	data, err := yaml.Marshal(r.Scenario())
	if err != nil {
		return fmt.Errorf("marshal replay: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write replay: %w", err)
	}
	return nil
}

func compact(table map[string][]replay.Outcome) map[string][]replay.Outcome {
	out := make(map[string][]replay.Outcome)
	for id, outcomes := range table {
		for _, o := range outcomes {
			if o.Status != replay.Pass {
				out[id] = append([]replay.Outcome(nil), outcomes...)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// redact replaces secret values with <REDACTED>.
func (r *Recorder) redact(s string) string {
	for _, envVar := range r.secrets {
		val := os.Getenv(envVar)
		if val != "" {
			s = strings.ReplaceAll(s, val, "<REDACTED>")
		}
	}
	return s
}
