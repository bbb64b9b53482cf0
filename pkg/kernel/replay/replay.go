// Package replay provides an invoker that returns canned outcomes instead
// of calling bound methods. A replay file maps method identities to the
// outcomes their successive invocations produce, enabling deterministic
// runs of feature files without the step library being present. An empty
// replay passes every matched step, which is what dry runs use.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

// ErrExhausted is returned once every canned outcome of a method is used.
var ErrExhausted = errors.New("replay: canned outcomes exhausted")

// Kind is the result a canned outcome produces.
type Kind string

const (
	Pass    Kind = "passed"
	Fail    Kind = "failed"
	Pending Kind = "pending"
	Skip    Kind = "skipped"
)

// Outcome is one canned invocation result.
type Outcome struct {
	Status Kind   `yaml:"status" json:"status" jsonschema:"enum=passed,enum=failed,enum=pending,enum=skipped"`
	Error  string `yaml:"error,omitempty" json:"error,omitempty"`
}

// Err converts the outcome into what the bound method would have returned.
func (o Outcome) Err() error {
	switch o.Status {
	case Pass, "":
		return nil
	case Pending:
		return &outcome.PendingStepError{Reason: o.Error}
	case Skip:
		if o.Error == "" {
			return outcome.ErrSkipped
		}
		return fmt.Errorf("%s: %w", o.Error, outcome.ErrSkipped)
	default:
		msg := o.Error
		if msg == "" {
			msg = "replayed failure"
		}
		return errors.New(msg)
	}
}

// Scenario is the top-level replay document.
type Scenario struct {
	// Steps maps a step method identity (Type.Name) to its outcomes.
	Steps map[string][]Outcome `yaml:"steps,omitempty" json:"steps,omitempty"`
	// Hooks maps a hook method identity to its outcomes.
	Hooks map[string][]Outcome `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	// Default applies to methods without canned outcomes.
	Default Outcome `yaml:"default,omitempty" json:"default,omitempty"`
}

// LoadScenarioFile loads a replay document from a YAML file.
func LoadScenarioFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read replay: %w", err)
	}
	defer f.Close()
	return LoadScenario(f)
}

// LoadScenario parses a replay document.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse replay: %w", err)
	}
	return &s, nil
}

// Call is one recorded invocation.
type Call struct {
	Method    string
	Step      string
	Arguments []any
	Err       error
}

// Invoker replays canned outcomes. It consumes outcomes in order per
// method and is safe for concurrent use.
type Invoker struct {
	scenario *Scenario

	mu       sync.Mutex
	consumed map[string]int
	calls    []Call
}

// NewInvoker creates a replay invoker. A nil scenario passes everything.
func NewInvoker(s *Scenario) *Invoker {
	if s == nil {
		s = &Scenario{}
	}
	return &Invoker{scenario: s, consumed: make(map[string]int)}
}

// InvokeStep returns the next canned outcome of the matched method.
func (r *Invoker) InvokeStep(_ context.Context, m *match.Match, step feature.StepInstance) error {
	id := m.Binding.Method.ID()
	err := r.next("step", r.scenario.Steps, id)
	r.record(Call{Method: m.Binding.Method.Signature(), Step: step.String(), Arguments: m.Values(), Err: err})
	return err
}

// InvokeHook returns the next canned outcome of the hook method.
func (r *Invoker) InvokeHook(_ context.Context, h *bindings.Hook) error {
	err := r.next("hook", r.scenario.Hooks, h.Method.ID())
	r.record(Call{Method: h.Method.Signature(), Err: err})
	return err
}

func (r *Invoker) next(kind string, table map[string][]Outcome, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	outcomes, ok := table[id]
	if !ok {
		return r.scenario.Default.Err()
	}
	key := kind + ":" + id
	idx := r.consumed[key]
	if idx >= len(outcomes) {
		return fmt.Errorf("%s %s (used %d): %w", kind, id, len(outcomes), ErrExhausted)
	}
	r.consumed[key] = idx + 1
	return outcomes[idx].Err()
}

func (r *Invoker) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// Calls returns the invocations seen so far.
func (r *Invoker) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}
