package contexts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ormasoftchile/stepbind/pkg/kernel/events"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
)

var (
	// ErrContextActive is returned when pushing a level that is already
	// active, or popping a level whose child is still active.
	ErrContextActive = errors.New("context already active")
	// ErrNoParent is returned when pushing a level without its parent.
	ErrNoParent = errors.New("no active parent context")
	// ErrNoContext is returned when popping a level that is not active.
	ErrNoContext = errors.New("no active context")
)

// Stack is one worker's context chain. Exactly one context is current per
// level. A stack is owned by a single worker and is not synchronized.
type Stack struct {
	// Worker identifies the owning worker in events.
	Worker int

	run      *RunContext
	feature  *FeatureContext
	scenario *ScenarioContext
	step     *StepContext
}

// NewStack returns an empty stack under run.
func NewStack(run *RunContext) *Stack {
	return &Stack{run: run}
}

// Run returns the run context.
func (s *Stack) Run() *RunContext { return s.run }

// Feature returns the current feature context, nil when none is active.
func (s *Stack) Feature() *FeatureContext { return s.feature }

// Scenario returns the current scenario context, nil when none is active.
func (s *Stack) Scenario() *ScenarioContext { return s.scenario }

// Step returns the current step context, nil when none is active.
func (s *Stack) Step() *StepContext { return s.step }

// PushFeature makes info the current feature.
func (s *Stack) PushFeature(info feature.FeatureInfo) (*FeatureContext, error) {
	if s.run == nil {
		return nil, fmt.Errorf("push feature %q: %w", info.Name, ErrNoParent)
	}
	if s.feature != nil {
		return nil, fmt.Errorf("push feature %q while %q is active: %w", info.Name, s.feature.Info.Name, ErrContextActive)
	}
	s.feature = &FeatureContext{Info: info, Run: s.run, Started: time.Now()}
	return s.feature, nil
}

// PopFeature ends the current feature and folds its status into the run.
func (s *Stack) PopFeature() (*FeatureContext, error) {
	if s.feature == nil {
		return nil, fmt.Errorf("pop feature: %w", ErrNoContext)
	}
	if s.scenario != nil {
		return nil, fmt.Errorf("pop feature with scenario %q active: %w", s.scenario.Info.Name, ErrContextActive)
	}
	f := s.feature
	s.feature = nil
	s.run.Record(f.Status(), f.Err())
	return f, nil
}

// PushScenario makes info the current scenario of the current feature.
func (s *Stack) PushScenario(info feature.ScenarioInfo) (*ScenarioContext, error) {
	if s.feature == nil {
		return nil, fmt.Errorf("push scenario %q: %w", info.Name, ErrNoParent)
	}
	if s.scenario != nil {
		return nil, fmt.Errorf("push scenario %q while %q is active: %w", info.Name, s.scenario.Info.Name, ErrContextActive)
	}
	s.scenario = &ScenarioContext{Info: info, Feature: s.feature, Started: time.Now(), CurrentBlock: feature.BlockNone}
	return s.scenario, nil
}

// PopScenario ends the current scenario and folds its status into the
// feature.
func (s *Stack) PopScenario() (*ScenarioContext, error) {
	if s.scenario == nil {
		return nil, fmt.Errorf("pop scenario: %w", ErrNoContext)
	}
	if s.step != nil {
		return nil, fmt.Errorf("pop scenario with step %q active: %w", s.step.Step.Text, ErrContextActive)
	}
	sc := s.scenario
	s.scenario = nil
	s.feature.Record(sc.Status(), sc.Err())
	return sc, nil
}

// PushStep makes step the current step of the current scenario.
func (s *Stack) PushStep(step feature.StepInstance) (*StepContext, error) {
	if s.scenario == nil {
		return nil, fmt.Errorf("push step %q: %w", step.Text, ErrNoParent)
	}
	if s.step != nil {
		return nil, fmt.Errorf("push step %q while %q is active: %w", step.Text, s.step.Step.Text, ErrContextActive)
	}
	s.step = &StepContext{Step: step, Scenario: s.scenario, Started: time.Now()}
	return s.step, nil
}

// PopStep ends the current step and folds its status into the scenario.
func (s *Stack) PopStep() (*StepContext, error) {
	if s.step == nil {
		return nil, fmt.Errorf("pop step: %w", ErrNoContext)
	}
	st := s.step
	s.step = nil
	s.scenario.Record(st.Status, st.Err)
	return st, nil
}

// ScopeContext describes the current position for scope matching. Keyword
// and block come from the active step, or the scenario's current block
// between steps.
func (s *Stack) ScopeContext() scope.Context {
	var c scope.Context
	if s.feature != nil {
		c.FeatureTitle = s.feature.Info.Name
		c.Tags = s.feature.Info.Tags
	}
	if s.scenario != nil {
		c.ScenarioTitle = s.scenario.Info.Name
		c.Tags = s.scenario.Tags()
		c.Block = s.scenario.CurrentBlock
	}
	if s.step != nil {
		c.Keyword = s.step.Step.Keyword
		c.Block = s.step.Step.Block
	}
	return c
}

// Event returns an event of type t carrying a snapshot of the stack.
func (s *Stack) Event(t events.Type) events.Event {
	e := events.Event{Type: t, Worker: s.Worker}
	if s.run != nil {
		e.RunID = s.run.ID
	}
	if s.feature != nil {
		e.Feature = s.feature.Info.Name
		e.Tags = s.feature.Info.Tags
	}
	if s.scenario != nil {
		e.Scenario = s.scenario.Info.Name
		e.Tags = s.scenario.Tags()
		e.Location = s.scenario.Info.Location.String()
	}
	if s.step != nil {
		e.Step = s.step.Step.String()
		e.Location = s.step.Step.Location.String()
		if s.step.Match != nil {
			e.Method = s.step.Match.Binding.Method.Signature()
		}
	}
	return e
}

type stackKey struct{}

// WithStack returns a context carrying the worker's stack.
func WithStack(ctx context.Context, s *Stack) context.Context {
	return context.WithValue(ctx, stackKey{}, s)
}

// FromContext returns the stack carried by ctx.
func FromContext(ctx context.Context) (*Stack, bool) {
	s, ok := ctx.Value(stackKey{}).(*Stack)
	return s, ok
}

// ScenarioFromContext returns the active scenario context carried by ctx.
func ScenarioFromContext(ctx context.Context) (*ScenarioContext, bool) {
	s, ok := FromContext(ctx)
	if !ok || s.scenario == nil {
		return nil, false
	}
	return s.scenario, true
}
