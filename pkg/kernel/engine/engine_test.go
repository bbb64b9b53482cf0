package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/contexts"
	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/events"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
)

// scriptInvoker records calls and returns the scripted error per method.
type scriptInvoker struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
	// onStep runs inside the step body.
	onStep func(ctx context.Context, m *match.Match)
}

func (s *scriptInvoker) InvokeStep(ctx context.Context, m *match.Match, _ feature.StepInstance) error {
	s.mu.Lock()
	s.calls = append(s.calls, m.Binding.Method.Name)
	s.mu.Unlock()
	if s.onStep != nil {
		s.onStep(ctx, m)
	}
	return s.errs[m.Binding.Method.Name]
}

func (s *scriptInvoker) InvokeHook(_ context.Context, h *bindings.Hook) error {
	s.mu.Lock()
	s.calls = append(s.calls, string(h.Kind)+":"+h.Method.Name)
	s.mu.Unlock()
	return s.errs[h.Method.Name]
}

func (s *scriptInvoker) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func stepDef(typ feature.StepType, pattern, name string, kinds ...descriptor.ValueKind) *bindings.StepDefinition {
	m := descriptor.Method{DeclaringType: "steps.Calc", Name: name}
	for _, k := range kinds {
		m.Params = append(m.Params, descriptor.Param{Kind: k})
	}
	return &bindings.StepDefinition{Type: typ, Pattern: pattern, Method: m}
}

func hookDef(kind bindings.HookKind, name, tags string) *bindings.Hook {
	return &bindings.Hook{Kind: kind, Method: descriptor.Method{DeclaringType: "steps.Hooks", Name: name}, Scope: scope.Spec{Tags: tags}}
}

func calcRegistry(t *testing.T, extra ...any) *bindings.Registry {
	t.Helper()
	r := bindings.NewRegistry(nil)
	defs := []*bindings.StepDefinition{
		stepDef(feature.StepGiven, "I have entered {int} into the calculator", "Enter", descriptor.KindInt),
		stepDef(feature.StepWhen, "I press add", "Add"),
		stepDef(feature.StepWhen, "I press divide", "Divide"),
		stepDef(feature.StepThen, "the result should be {int}", "Result", descriptor.KindInt),
	}
	for _, d := range defs {
		require.NoError(t, r.AddStepDefinition(d))
	}
	for _, x := range extra {
		switch v := x.(type) {
		case *bindings.StepDefinition:
			require.NoError(t, r.AddStepDefinition(v))
		case *bindings.Hook:
			require.NoError(t, r.AddHook(v))
		}
	}
	require.False(t, r.Freeze().HasErrors())
	return r
}

func steps(t *testing.T, lines ...[2]string) []feature.StepInstance {
	t.Helper()
	var out []feature.StepInstance
	for _, l := range lines {
		s, err := feature.NewStep(l[0], l[1])
		require.NoError(t, err)
		out = append(out, s)
	}
	return out
}

func addScenario(t *testing.T, name string, tags ...string) feature.Scenario {
	return feature.Scenario{
		Info: feature.ScenarioInfo{Name: name, Tags: tags},
		Steps: steps(t,
			[2]string{"Given", "I have entered 50 into the calculator"},
			[2]string{"And", "I have entered 70 into the calculator"},
			[2]string{"When", "I press add"},
			[2]string{"Then", "the result should be 120"},
		),
	}
}

type harness struct {
	engine  *Engine
	invoker *scriptInvoker
	rec     *events.Recorder
}

func newHarness(t *testing.T, reg *bindings.Registry, policy outcome.Policy) *harness {
	t.Helper()
	inv := &scriptInvoker{errs: map[string]error{}}
	bus := events.NewBus()
	rec := &events.Recorder{}
	bus.Subscribe(rec)
	e, err := New(Config{Registry: reg, Invoker: inv, Policy: policy, Publisher: bus}, contexts.NewRun("run-1"))
	require.NoError(t, err)
	return &harness{engine: e, invoker: inv, rec: rec}
}

func (h *harness) runFeature(t *testing.T, scenarios ...feature.Scenario) *FeatureResult {
	t.Helper()
	res, err := h.engine.RunFeature(context.Background(), feature.Feature{
		Info:      feature.FeatureInfo{Name: "Calculator"},
		Scenarios: scenarios,
	})
	require.NoError(t, err)
	return res
}

func statuses(sr *ScenarioResult) []outcome.Status {
	out := make([]outcome.Status, len(sr.Steps))
	for i, s := range sr.Steps {
		out[i] = s.Status
	}
	return out
}

func TestNewRefusesInvalidRegistry(t *testing.T) {
	r := bindings.NewRegistry(nil)
	_, err := New(Config{Registry: r}, contexts.NewRun(""))
	require.ErrorIs(t, err, bindings.ErrNotFrozen)

	r = bindings.NewRegistry(nil)
	require.NoError(t, r.AddStepDefinition(stepDef(feature.StepGiven, "broken {nope}", "Broken")))
	r.Freeze()
	_, err = New(Config{Registry: r}, contexts.NewRun(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid binding registry")
}

func TestRunFeaturePassing(t *testing.T) {
	h := newHarness(t, calcRegistry(t), outcome.DefaultPolicy())
	res := h.runFeature(t, addScenario(t, "Add two numbers"))

	assert.Equal(t, outcome.Passed, res.Status)
	require.Len(t, res.Scenarios, 1)
	sr := res.Scenarios[0]
	assert.Equal(t, outcome.Passed, sr.Status)
	assert.NoError(t, sr.Boundary)
	assert.Equal(t, []string{"Enter", "Enter", "Add", "Result"}, h.invoker.Calls())
	require.Len(t, sr.Steps, 4)
	assert.Equal(t, []any{50}, sr.Steps[0].Arguments)
	assert.Equal(t, "steps.Calc.Result(int)", sr.Steps[3].Method)
	assert.Equal(t, map[outcome.Status]int{outcome.Passed: 1}, res.Counts())
}

func TestBlockHooksFireOnBlockSwitch(t *testing.T) {
	reg := calcRegistry(t,
		hookDef(bindings.BeforeScenarioBlock, "OpenBlock", ""),
		hookDef(bindings.AfterScenarioBlock, "CloseBlock", ""),
		hookDef(bindings.BeforeStep, "StepIn", ""),
	)
	h := newHarness(t, reg, outcome.DefaultPolicy())
	h.runFeature(t, addScenario(t, "Add"))

	assert.Equal(t, []string{
		"before_scenario_block:OpenBlock",
		"before_step:StepIn", "Enter",
		"before_step:StepIn", "Enter",
		"after_scenario_block:CloseBlock",
		"before_scenario_block:OpenBlock",
		"before_step:StepIn", "Add",
		"after_scenario_block:CloseBlock",
		"before_scenario_block:OpenBlock",
		"before_step:StepIn", "Result",
		"after_scenario_block:CloseBlock",
	}, h.invoker.Calls())
}

func TestUndefinedStepWithPendingPolicy(t *testing.T) {
	h := newHarness(t, calcRegistry(t), outcome.DefaultPolicy())
	sc := addScenario(t, "Multiply")
	sc.Steps[2] = steps(t, [2]string{"When", "I press multiply"})[0]

	res := h.runFeature(t, sc)
	sr := res.Scenarios[0]

	assert.Equal(t, outcome.StepDefinitionPending, sr.Status)
	assert.Equal(t, []outcome.Status{outcome.Passed, outcome.Passed, outcome.StepDefinitionPending, outcome.Skipped}, statuses(sr))
	assert.True(t, sr.Steps[3].Skipped)
	assert.Equal(t, []string{"When I press multiply"}, sr.PendingSteps)
	require.Len(t, sr.Snippets, 1)
	assert.Contains(t, sr.Snippets[0], `"I press multiply"`)

	var pending *outcome.PendingError
	require.ErrorAs(t, sr.Boundary, &pending)
	assert.ErrorIs(t, sr.Boundary, outcome.ErrPending)
	assert.Contains(t, pending.Message, "When I press multiply")
	// The later step is matched but never invoked.
	assert.Equal(t, []string{"Enter", "Enter"}, h.invoker.Calls())
}

func TestUndefinedStepWithInconclusivePolicy(t *testing.T) {
	h := newHarness(t, calcRegistry(t), outcome.Policy{MissingOrPendingSteps: outcome.MissingInconclusive})
	sc := addScenario(t, "Multiply")
	sc.Steps[3] = steps(t, [2]string{"Then", "the screen is green"})[0]

	sr := h.runFeature(t, sc).Scenarios[0]
	assert.Equal(t, outcome.UndefinedStep, sr.Status)
	var inc *outcome.InconclusiveError
	assert.ErrorAs(t, sr.Boundary, &inc)
}

func TestFailingStepSkipsRest(t *testing.T) {
	h := newHarness(t, calcRegistry(t, hookDef(bindings.AfterScenario, "Cleanup", "")), outcome.DefaultPolicy())
	boom := errors.New("overflow")
	h.invoker.errs["Add"] = boom

	sr := h.runFeature(t, addScenario(t, "Add")).Scenarios[0]
	assert.Equal(t, outcome.TestError, sr.Status)
	assert.Equal(t, []outcome.Status{outcome.Passed, outcome.Passed, outcome.TestError, outcome.Skipped}, statuses(sr))
	assert.ErrorIs(t, sr.Err, boom)
	assert.ErrorIs(t, sr.Boundary, boom)

	var stepErr *outcome.StepExecutionError
	require.ErrorAs(t, sr.Err, &stepErr)
	assert.Equal(t, "Add", stepErr.Method.Name)
	assert.Contains(t, h.invoker.Calls(), "after_scenario:Cleanup")
}

func TestTeardownFailureKeepsStepCause(t *testing.T) {
	h := newHarness(t, calcRegistry(t, hookDef(bindings.AfterScenario, "Cleanup", "")), outcome.DefaultPolicy())
	boom := errors.New("overflow")
	cleanupErr := errors.New("connection reset")
	h.invoker.errs["Add"] = boom
	h.invoker.errs["Cleanup"] = cleanupErr

	sr := h.runFeature(t, addScenario(t, "Add")).Scenarios[0]
	assert.Equal(t, outcome.TestError, sr.Status)
	assert.ErrorIs(t, sr.Err, boom)
	assert.NotErrorIs(t, sr.Err, cleanupErr)
	require.Len(t, sr.Secondary, 1)
	assert.ErrorIs(t, sr.Secondary[0], cleanupErr)
	assert.ErrorIs(t, sr.Boundary, boom)
	assert.Equal(t, "after_scenario:Cleanup", h.invoker.Calls()[len(h.invoker.Calls())-1])
}

func TestStopAtFirstError(t *testing.T) {
	h := newHarness(t, calcRegistry(t, hookDef(bindings.AfterScenario, "Cleanup", "")), outcome.Policy{StopAtFirstError: true})
	h.invoker.errs["Add"] = &outcome.BindingInvocationError{Err: errors.New("bad arg")}

	sc := feature.Scenario{
		Info: feature.ScenarioInfo{Name: "Stop"},
		Steps: steps(t,
			[2]string{"Given", "I have entered 1 into the calculator"},
			[2]string{"When", "I press add"},
			[2]string{"And", "I press divide"},
			[2]string{"Then", "the result should be 1"},
		),
	}

	sr := h.runFeature(t, sc).Scenarios[0]
	assert.Equal(t, []outcome.Status{outcome.Passed, outcome.BindingError, outcome.Skipped, outcome.Skipped}, statuses(sr))
	assert.Equal(t, outcome.BindingError, sr.Status)
	assert.True(t, sr.Steps[2].Skipped)
	assert.True(t, sr.Steps[3].Skipped)
	assert.Equal(t, []string{"Enter", "Add", "after_scenario:Cleanup"}, h.invoker.Calls())

	skipped := 0
	for _, tp := range h.rec.Types() {
		if tp == events.StepSkipped {
			skipped++
		}
	}
	assert.Equal(t, 2, skipped)
}

func TestBeforeFeatureFailureSkipsScenarios(t *testing.T) {
	reg := calcRegistry(t,
		hookDef(bindings.BeforeFeature, "Boot", ""),
		hookDef(bindings.AfterScenario, "Cleanup", ""),
		hookDef(bindings.AfterFeature, "Shutdown", ""),
	)
	h := newHarness(t, reg, outcome.DefaultPolicy())
	bootErr := errors.New("no database")
	h.invoker.errs["Boot"] = bootErr

	res := h.runFeature(t, addScenario(t, "One"), addScenario(t, "Two"))
	require.Len(t, res.Scenarios, 2)
	for _, sr := range res.Scenarios {
		assert.Equal(t, outcome.Skipped, sr.Status)
		assert.ErrorIs(t, sr.Boundary, bootErr)
		assert.Empty(t, sr.Steps)
	}
	assert.Equal(t, []string{"before_feature:Boot", "after_feature:Shutdown"}, h.invoker.Calls())
	assert.Equal(t, outcome.TestError, res.Status)
	assert.ErrorIs(t, res.Err, bootErr)
}

func TestIgnoredScenario(t *testing.T) {
	reg := calcRegistry(t, hookDef(bindings.BeforeScenario, "Setup", ""), hookDef(bindings.AfterScenario, "Cleanup", ""))
	h := newHarness(t, reg, outcome.DefaultPolicy())
	sc := addScenario(t, "Later", "@ignore")
	sc.Ignored = true

	sr := h.runFeature(t, sc).Scenarios[0]
	assert.Equal(t, outcome.Skipped, sr.Status)
	var ignored *outcome.IgnoredError
	require.ErrorAs(t, sr.Boundary, &ignored)
	assert.Equal(t, "The scenario has been skipped.", ignored.Message)
	assert.Empty(t, h.invoker.Calls())
	assert.Contains(t, h.rec.Types(), events.ScenarioSkipped)
}

func TestBeforeScenarioFailureSkipsSteps(t *testing.T) {
	reg := calcRegistry(t, hookDef(bindings.BeforeScenario, "Setup", ""), hookDef(bindings.AfterScenario, "Cleanup", ""))
	h := newHarness(t, reg, outcome.DefaultPolicy())
	h.invoker.errs["Setup"] = errors.New("setup failed")

	sr := h.runFeature(t, addScenario(t, "Add")).Scenarios[0]
	assert.Equal(t, outcome.TestError, sr.Status)
	assert.Equal(t, []outcome.Status{outcome.Skipped, outcome.Skipped, outcome.Skipped, outcome.Skipped}, statuses(sr))
	var hookErr *outcome.HookExecutionError
	require.ErrorAs(t, sr.Err, &hookErr)
	assert.Equal(t, bindings.BeforeScenario, hookErr.Kind)
	assert.Equal(t, []string{"before_scenario:Setup", "after_scenario:Cleanup"}, h.invoker.Calls())
}

func TestPendingStepBody(t *testing.T) {
	h := newHarness(t, calcRegistry(t), outcome.DefaultPolicy())
	h.invoker.errs["Divide"] = outcome.ErrPending
	sc := addScenario(t, "Divide")
	sc.Steps[2] = steps(t, [2]string{"When", "I press divide"})[0]

	sr := h.runFeature(t, sc).Scenarios[0]
	assert.Equal(t, outcome.StepDefinitionPending, sr.Status)
	assert.Equal(t, []string{"When I press divide"}, sr.PendingSteps)
	assert.ErrorIs(t, sr.Boundary, outcome.ErrPending)
}

func TestSkippedStepBodySkipsAfterScenario(t *testing.T) {
	h := newHarness(t, calcRegistry(t, hookDef(bindings.AfterScenario, "Cleanup", "")), outcome.DefaultPolicy())
	h.invoker.errs["Add"] = outcome.ErrSkipped

	sr := h.runFeature(t, addScenario(t, "Add")).Scenarios[0]
	assert.Equal(t, outcome.Skipped, sr.Status)
	assert.NotContains(t, h.invoker.Calls(), "after_scenario:Cleanup")
	assert.ErrorIs(t, sr.Boundary, outcome.ErrSkipped)
}

func TestAmbiguousStep(t *testing.T) {
	reg := calcRegistry(t, stepDef(feature.StepWhen, "I press (.*)", "PressAny", descriptor.KindString))
	h := newHarness(t, reg, outcome.DefaultPolicy())

	sr := h.runFeature(t, addScenario(t, "Add")).Scenarios[0]
	assert.Equal(t, outcome.AmbiguousScenarioDefinition, sr.Status)
	var amb *match.AmbiguousMatchError
	require.ErrorAs(t, sr.Err, &amb)
	assert.Len(t, amb.Candidates, 2)
}

func TestObsoleteStepPolicies(t *testing.T) {
	obsolete := stepDef(feature.StepWhen, "I press the old add", "OldAdd")
	obsolete.Obsolete = &bindings.Obsolescence{Message: "use 'I press add'"}
	reg := calcRegistry(t, obsolete)

	sc := addScenario(t, "Old")
	sc.Steps[2] = steps(t, [2]string{"When", "I press the old add"})[0]

	for _, tc := range []struct {
		behavior outcome.ObsoleteBehavior
		want     outcome.Status
	}{
		{outcome.ObsoleteWarn, outcome.Passed},
		{outcome.ObsoleteNone, outcome.Passed},
		{outcome.ObsoletePending, outcome.StepDefinitionPending},
		{outcome.ObsoleteError, outcome.BindingError},
	} {
		t.Run(string(tc.behavior), func(t *testing.T) {
			h := newHarness(t, reg, outcome.Policy{Obsolete: tc.behavior})
			sr := h.runFeature(t, sc).Scenarios[0]
			assert.Equal(t, tc.want, sr.Status)
		})
	}
}

func TestScenarioValuesThroughContext(t *testing.T) {
	h := newHarness(t, calcRegistry(t), outcome.DefaultPolicy())
	var seen []any
	h.invoker.onStep = func(ctx context.Context, m *match.Match) {
		sc, ok := contexts.ScenarioFromContext(ctx)
		require.True(t, ok)
		if m.Binding.Method.Name == "Enter" {
			sc.Set("last", m.Values()[0])
			return
		}
		v, _ := sc.Get("last")
		seen = append(seen, v)
	}
	h.runFeature(t, addScenario(t, "Values"))
	assert.Equal(t, []any{70, 70}, seen)
}

func TestEventSequence(t *testing.T) {
	reg := calcRegistry(t)
	h := newHarness(t, reg, outcome.DefaultPolicy())
	ctx := context.Background()

	require.NoError(t, h.engine.TestRunStart(ctx))
	sc := feature.Scenario{
		Info:  feature.ScenarioInfo{Name: "Tiny"},
		Steps: steps(t, [2]string{"When", "I press add"}),
	}
	_, err := h.engine.RunFeature(ctx, feature.Feature{Info: feature.FeatureInfo{Name: "F"}, Scenarios: []feature.Scenario{sc}})
	require.NoError(t, err)
	require.NoError(t, h.engine.TestRunEnd(ctx))

	assert.Equal(t, []events.Type{
		events.TestRunStarted,
		events.HookStarted, events.HookFinished,
		events.FeatureStarted,
		events.HookStarted, events.HookFinished,
		events.ScenarioStarted,
		events.HookStarted, events.HookFinished,
		events.HookStarted, events.HookFinished,
		events.HookStarted, events.HookFinished,
		events.StepStarted,
		events.StepBindingStarted, events.StepBindingFinished,
		events.StepFinished,
		events.HookStarted, events.HookFinished,
		events.HookStarted, events.HookFinished,
		events.HookStarted, events.HookFinished,
		events.ScenarioFinished,
		events.HookStarted, events.HookFinished,
		events.FeatureFinished,
		events.HookStarted, events.HookFinished,
		events.TestRunFinished,
	}, h.rec.Types())

	last := h.rec.Events()[len(h.rec.Events())-1]
	assert.Equal(t, outcome.Passed, last.Status)
	assert.Equal(t, "run-1", last.RunID)
}

func TestRunScenarioOutsideFeature(t *testing.T) {
	h := newHarness(t, calcRegistry(t), outcome.DefaultPolicy())
	_, err := h.engine.RunScenario(context.Background(), addScenario(t, "Orphan"))
	require.ErrorIs(t, err, ErrNoFeature)
}
