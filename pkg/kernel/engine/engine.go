// Package engine drives one worker through the run, feature, scenario and
// step lifecycle: it matches steps, fires hooks and folds outcomes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/contexts"
	"github.com/ormasoftchile/stepbind/pkg/kernel/events"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/hooks"
	"github.com/ormasoftchile/stepbind/pkg/kernel/logging"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

// Invoker calls bound methods. Implementations decide how a match is
// invoked; the engine only needs the call to have completed on return.
// The replay invoker substitutes canned outcomes.
type Invoker interface {
	hooks.Invoker
	InvokeStep(ctx context.Context, m *match.Match, step feature.StepInstance) error
}

// ErrNoFeature is returned when a scenario is run outside a feature.
var ErrNoFeature = errors.New("no active feature")

// Config configures an engine.
type Config struct {
	Registry *bindings.Registry
	// Matcher is built from Registry when nil.
	Matcher   *match.Matcher
	Invoker   Invoker
	Policy    outcome.Policy
	Publisher events.Publisher
	Logger    logging.Logger
	// Worker identifies this engine's worker in events.
	Worker int
}

// Engine executes features for one worker. It is not safe for concurrent
// use; give every worker its own engine over the shared run context.
type Engine struct {
	matcher   *match.Matcher
	invoker   Invoker
	resolver  *outcome.Resolver
	hooks     *hooks.Executor
	publisher events.Publisher
	log       logging.Logger
	stack     *contexts.Stack
}

// New creates an engine bound to run. The registry must be frozen and
// valid.
func New(cfg Config, run *contexts.RunContext) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, errors.New("engine: registry is required")
	}
	if err := cfg.Registry.Err(); err != nil {
		return nil, fmt.Errorf("engine: invalid binding registry: %w", err)
	}
	m := cfg.Matcher
	if m == nil {
		var err error
		if m, err = match.New(cfg.Registry); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}
	log := logging.OrNop(cfg.Logger)
	pub := cfg.Publisher
	if pub == nil {
		pub = events.Nop()
	}
	resolver := outcome.NewResolver(cfg.Policy, log)
	stack := contexts.NewStack(run)
	stack.Worker = cfg.Worker

	return &Engine{
		matcher:  m,
		invoker:  cfg.Invoker,
		resolver: resolver,
		hooks: hooks.New(hooks.Config{
			Registry:  cfg.Registry,
			Invoker:   cfg.Invoker,
			Resolver:  resolver,
			Publisher: pub,
			Logger:    log,
		}),
		publisher: pub,
		log:       log,
		stack:     stack,
	}, nil
}

// Stack returns the engine's context stack.
func (e *Engine) Stack() *contexts.Stack { return e.stack }

// Resolver returns the outcome resolver in use.
func (e *Engine) Resolver() *outcome.Resolver { return e.resolver }

// withStack returns ctx carrying the engine's stack.
func (e *Engine) withStack(ctx context.Context) context.Context {
	return contexts.WithStack(ctx, e.stack)
}

func (e *Engine) publish(t events.Type, fill func(*events.Event)) {
	ev := e.stack.Event(t)
	if fill != nil {
		fill(&ev)
	}
	e.publisher.Publish(ev)
}

// TestRunStart publishes test_run_started and runs the before-test-run
// hooks. A hook failure is recorded in the run context and returned.
func (e *Engine) TestRunStart(ctx context.Context) error {
	e.publish(events.TestRunStarted, nil)
	res := e.hooks.Run(e.withStack(ctx), bindings.BeforeTestRun, e.stack.ScopeContext(), e.stack)
	if !res.OK() {
		e.stack.Run().Record(res.Status, res.Err)
		return res.Err
	}
	return nil
}

// TestRunEnd runs the after-test-run hooks and publishes test_run_finished
// with the run's final status.
func (e *Engine) TestRunEnd(ctx context.Context) error {
	res := e.hooks.Run(e.withStack(ctx), bindings.AfterTestRun, e.stack.ScopeContext(), e.stack)
	run := e.stack.Run()
	e.recordAll(run.Record, res)
	e.publish(events.TestRunFinished, func(ev *events.Event) {
		ev.Status = run.Status()
		ev.Duration = time.Since(run.Started)
		ev.Err = run.Err()
	})
	return res.Err
}

// RunFeature executes every scenario of f between the feature hooks.
func (e *Engine) RunFeature(ctx context.Context, f feature.Feature) (*FeatureResult, error) {
	if err := e.FeatureStart(ctx, f.Info); err != nil {
		return nil, err
	}
	result := &FeatureResult{Info: f.Info}
	for _, sc := range f.Scenarios {
		sr, err := e.RunScenario(ctx, sc)
		if err != nil {
			return nil, err
		}
		result.Scenarios = append(result.Scenarios, sr)
	}
	fc, err := e.FeatureEnd(ctx)
	if err != nil {
		return nil, err
	}
	result.Status = fc.Status()
	result.Err = fc.Err()
	result.Duration = time.Since(fc.Started)
	return result, nil
}

// FeatureStart pushes the feature context, publishes feature_started and
// runs the before-feature hooks. A hook failure skips the feature's
// scenarios; it is not returned as an error.
func (e *Engine) FeatureStart(ctx context.Context, info feature.FeatureInfo) error {
	fc, err := e.stack.PushFeature(info)
	if err != nil {
		return err
	}
	e.publish(events.FeatureStarted, nil)
	res := e.hooks.Run(e.withStack(ctx), bindings.BeforeFeature, e.stack.ScopeContext(), e.stack)
	if !res.OK() {
		fc.BeforeFeatureErr = res.Err
		fc.Record(res.Status, res.Err)
		e.log.Warn("before feature hook failed, skipping scenarios", "feature", info.Name, "error", res.Err)
	}
	return nil
}

// FeatureEnd runs the after-feature hooks, publishes feature_finished and
// pops the feature context.
func (e *Engine) FeatureEnd(ctx context.Context) (*contexts.FeatureContext, error) {
	fc := e.stack.Feature()
	if fc == nil {
		return nil, fmt.Errorf("feature end: %w", ErrNoFeature)
	}
	res := e.hooks.Run(e.withStack(ctx), bindings.AfterFeature, e.stack.ScopeContext(), e.stack)
	e.recordAll(fc.Record, res)
	e.publish(events.FeatureFinished, func(ev *events.Event) {
		ev.Status = fc.Status()
		ev.Duration = time.Since(fc.Started)
		ev.Err = fc.Err()
	})
	return e.stack.PopFeature()
}

// RunScenario executes one scenario within the current feature.
func (e *Engine) RunScenario(ctx context.Context, sc feature.Scenario) (*ScenarioResult, error) {
	fc := e.stack.Feature()
	if fc == nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Info.Name, ErrNoFeature)
	}
	scx, err := e.stack.PushScenario(sc.Info)
	if err != nil {
		return nil, err
	}
	result := &ScenarioResult{Info: sc.Info}
	ctx = e.withStack(ctx)
	e.publish(events.ScenarioStarted, nil)

	if sc.Ignored || fc.BeforeFeatureErr != nil {
		e.skipScenario(scx, fc.BeforeFeatureErr)
	} else {
		e.runScenario(ctx, scx, sc, result)
	}

	e.publish(events.ScenarioFinished, func(ev *events.Event) {
		ev.Status = scx.Status()
		ev.Duration = time.Since(scx.Started)
		ev.Err = scx.Err()
	})
	if _, err := e.stack.PopScenario(); err != nil {
		return nil, err
	}

	result.Status = scx.Status()
	result.Err = scx.Err()
	result.Secondary = scx.Secondary()
	result.PendingSteps = append(append([]string(nil), scx.PendingSteps...), scx.MissingSteps...)
	result.Snippets = scx.Snippets
	result.Boundary = e.resolver.BoundaryError(result.Status, result.Err, result.PendingSteps)
	result.Duration = time.Since(scx.Started)
	return result, nil
}

// skipScenario marks a scenario skipped without running hooks or steps.
func (e *Engine) skipScenario(scx *contexts.ScenarioContext, cause error) {
	var err error
	if cause != nil {
		err = fmt.Errorf("scenario skipped, before feature hook failed: %w", cause)
	}
	scx.Record(outcome.Skipped, err)
	e.publish(events.ScenarioSkipped, func(ev *events.Event) {
		ev.Status = outcome.Skipped
		ev.Err = err
	})
	e.log.Debug("scenario skipped", "scenario", scx.Info.Name, "ignored", cause == nil)
}

func (e *Engine) runScenario(ctx context.Context, scx *contexts.ScenarioContext, sc feature.Scenario, result *ScenarioResult) {
	stopAtFirst := e.resolver.Policy().StopAtFirstError

	res := e.hooks.Run(ctx, bindings.BeforeScenario, e.stack.ScopeContext(), e.stack)
	e.recordAll(scx.Record, res)
	stopped := !res.OK() && stopAtFirst

	steps := append([]feature.StepInstance(nil), sc.Steps...)
	feature.ResolveBlocks(steps)
	for _, step := range steps {
		if stopped {
			result.Steps = append(result.Steps, e.abandonStep(scx, step))
			continue
		}
		sr, stop := e.runStep(ctx, scx, step)
		if sr != nil {
			result.Steps = append(result.Steps, *sr)
		}
		stopped = stop
	}
	if !stopped {
		// A failing block hook is already recorded in the scenario.
		_ = e.switchBlock(ctx, scx, feature.BlockNone)
	}

	if scx.Status() != outcome.Skipped {
		res := e.hooks.Run(ctx, bindings.AfterScenario, e.stack.ScopeContext(), e.stack)
		e.recordAll(scx.Record, res)
	}
}

// switchBlock fires the block hooks when the scenario moves to another
// block. Hooks only run while the scenario is still passing.
func (e *Engine) switchBlock(ctx context.Context, scx *contexts.ScenarioContext, block feature.Block) error {
	if scx.CurrentBlock == block {
		return nil
	}
	if scx.Status() == outcome.Passed && scx.CurrentBlock != feature.BlockNone {
		res := e.hooks.Run(ctx, bindings.AfterScenarioBlock, e.stack.ScopeContext(), e.stack)
		if !res.OK() {
			e.recordAll(scx.Record, res)
			scx.CurrentBlock = block
			return res.Err
		}
	}
	scx.CurrentBlock = block
	if scx.Status() == outcome.Passed && block != feature.BlockNone {
		res := e.hooks.Run(ctx, bindings.BeforeScenarioBlock, e.stack.ScopeContext(), e.stack)
		if !res.OK() {
			e.recordAll(scx.Record, res)
			return res.Err
		}
	}
	return nil
}

// runStep executes one step. The second result reports whether the rest
// of the scenario must be abandoned.
func (e *Engine) runStep(ctx context.Context, scx *contexts.ScenarioContext, step feature.StepInstance) (*StepResult, bool) {
	if err := e.switchBlock(ctx, scx, step.Block); err != nil {
		sr := e.abandonStep(scx, step)
		return &sr, true
	}

	stx, err := e.stack.PushStep(step)
	if err != nil {
		scx.Record(outcome.TestError, err)
		return nil, true
	}
	started := time.Now()
	afterPrevious := scx.Status() != outcome.Passed
	status := outcome.Passed
	if afterPrevious {
		status = outcome.Skipped
	}
	var stepErr error
	undefined := false

	o := e.matcher.Match(step, e.stack.ScopeContext())
	if o.Kind == match.KindMatched {
		stx.Match = o.Match
	} else {
		r := e.resolver.FromMatch(o)
		status, stepErr = r.Status, r.Err
		var u *match.UndefinedStepError
		if errors.As(o.Err, &u) {
			undefined = true
			scx.MissingSteps = append(scx.MissingSteps, step.String())
			scx.Snippets = append(scx.Snippets, u.Snippet)
		}
	}

	if status == outcome.Passed {
		if r := e.resolver.FromObsolete(stx.Match); !r.OK() {
			status, stepErr = r.Status, r.Err
		}
	}

	beforeRan := false
	if status == outcome.Passed {
		beforeRan = true
		res := e.hooks.Run(ctx, bindings.BeforeStep, e.stack.ScopeContext(), e.stack)
		if !res.OK() {
			status, stepErr = res.Status, res.Err
		}
	}

	e.publish(events.StepStarted, nil)
	if status == outcome.Passed {
		if err := e.invokeStep(ctx, stx.Match, step); err != nil {
			stepErr = &outcome.StepExecutionError{Step: step, Method: stx.Match.Binding.Method, Err: err}
			status = e.resolver.FromError(stepErr)
		}
	} else if status == outcome.Skipped && !undefined {
		e.publish(events.StepSkipped, func(ev *events.Event) {
			ev.Status = outcome.Skipped
			ev.Err = stepErr
		})
	}

	if status == outcome.StepDefinitionPending && !undefined {
		scx.PendingSteps = append(scx.PendingSteps, step.String())
	}
	stx.Record(status, stepErr)
	e.publish(events.StepFinished, func(ev *events.Event) {
		ev.Status = status
		ev.Duration = time.Since(started)
		ev.Err = stepErr
	})

	stop := stepErr != nil && !undefined && e.resolver.Policy().StopAtFirstError
	if beforeRan {
		res := e.hooks.Run(ctx, bindings.AfterStep, e.stack.ScopeContext(), e.stack)
		if !res.OK() {
			stx.Record(res.Status, res.Err)
			stop = true
		}
	}

	if _, err := e.stack.PopStep(); err != nil {
		scx.Record(outcome.TestError, err)
		stop = true
	}

	sr := &StepResult{
		Step:     step,
		Status:   stx.Status,
		Err:      stx.Err,
		Skipped:  afterPrevious && status == outcome.Skipped,
		Duration: time.Since(started),
	}
	if stx.Match != nil {
		sr.Method = stx.Match.Binding.Method.Signature()
		sr.Arguments = stx.Match.Values()
	}
	return sr, stop
}

// abandonStep reports a step that was never attempted because the
// scenario stopped at its first error.
func (e *Engine) abandonStep(scx *contexts.ScenarioContext, step feature.StepInstance) StepResult {
	sr := StepResult{Step: step, Status: outcome.Skipped, Skipped: true}
	if _, err := e.stack.PushStep(step); err != nil {
		scx.Record(outcome.TestError, err)
		return sr
	}
	e.publish(events.StepSkipped, func(ev *events.Event) { ev.Status = outcome.Skipped })
	e.publish(events.StepFinished, func(ev *events.Event) { ev.Status = outcome.Skipped })
	e.stack.Step().Record(outcome.Skipped, nil)
	if _, err := e.stack.PopStep(); err != nil {
		scx.Record(outcome.TestError, err)
	}
	return sr
}

// invokeStep calls the step binding between the binding events, turning a
// panic into an error.
func (e *Engine) invokeStep(ctx context.Context, m *match.Match, step feature.StepInstance) (err error) {
	started := time.Now()
	method := m.Binding.Method.Signature()
	e.publish(events.StepBindingStarted, func(ev *events.Event) { ev.Method = method })
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
		e.publish(events.StepBindingFinished, func(ev *events.Event) {
			ev.Method = method
			ev.Status = e.resolver.FromError(err)
			ev.Duration = time.Since(started)
			ev.Err = err
		})
	}()
	if e.invoker == nil {
		return nil
	}
	return e.invoker.InvokeStep(ctx, m, step)
}

// recordAll folds a hook result, secondary failures included, into a
// context aggregate.
func (e *Engine) recordAll(record func(outcome.Status, error), res hooks.Result) {
	if res.OK() {
		return
	}
	record(res.Status, res.Err)
	for _, err := range res.Secondary {
		record(e.resolver.FromError(err), err)
	}
}
