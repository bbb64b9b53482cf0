package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/engine"
	"github.com/ormasoftchile/stepbind/pkg/kernel/events"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

type countingInvoker struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string]error
}

func newCountingInvoker() *countingInvoker {
	return &countingInvoker{calls: map[string]int{}, errs: map[string]error{}}
}

func (c *countingInvoker) InvokeStep(_ context.Context, m *match.Match, _ feature.StepInstance) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[m.Binding.Method.Name]++
	return c.errs[m.Binding.Method.Name]
}

func (c *countingInvoker) InvokeHook(_ context.Context, h *bindings.Hook) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[h.Method.Name]++
	return c.errs[h.Method.Name]
}

func (c *countingInvoker) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func registry(t *testing.T) *bindings.Registry {
	t.Helper()
	r := bindings.NewRegistry(nil)
	require.NoError(t, r.AddStepDefinition(&bindings.StepDefinition{
		Type:    feature.StepGiven,
		Pattern: "a user named {word}",
		Method: descriptor.Method{DeclaringType: "steps.Users", Name: "Named",
			Params: []descriptor.Param{{Kind: descriptor.KindString}}},
	}))
	require.NoError(t, r.AddStepDefinition(&bindings.StepDefinition{
		Type:    feature.StepThen,
		Pattern: "the user is saved",
		Method:  descriptor.Method{DeclaringType: "steps.Users", Name: "Saved"},
	}))
	for _, k := range []bindings.HookKind{bindings.BeforeTestRun, bindings.AfterTestRun} {
		require.NoError(t, r.AddHook(&bindings.Hook{
			Kind:   k,
			Method: descriptor.Method{DeclaringType: "steps.Hooks", Name: string(k)},
		}))
	}
	require.False(t, r.Freeze().HasErrors())
	return r
}

func userFeature(t *testing.T, name string, scenarios int) feature.Feature {
	t.Helper()
	f := feature.Feature{Info: feature.FeatureInfo{Name: name}}
	for i := range scenarios {
		given, err := feature.NewStep("Given", "a user named alice")
		require.NoError(t, err)
		then, err := feature.NewStep("Then", "the user is saved")
		require.NoError(t, err)
		f.Scenarios = append(f.Scenarios, feature.Scenario{
			Info:  feature.ScenarioInfo{Name: fmt.Sprintf("%s %d", name, i)},
			Steps: []feature.StepInstance{given, then},
		})
	}
	return f
}

func TestNewRefusesInvalidRegistry(t *testing.T) {
	_, err := New(Config{Registry: bindings.NewRegistry(nil), Invoker: newCountingInvoker()})
	assert.ErrorIs(t, err, bindings.ErrNotFrozen)

	_, err = New(Config{Registry: registry(t)})
	assert.ErrorIs(t, err, ErrNoInvoker)
}

func TestRunParallelKeepsFeatureOrder(t *testing.T) {
	inv := newCountingInvoker()
	r, err := New(Config{Registry: registry(t), Invoker: inv, Workers: 3, RunID: "run-par"})
	require.NoError(t, err)

	var features []feature.Feature
	for i := range 5 {
		features = append(features, userFeature(t, fmt.Sprintf("F%d", i), 2))
	}

	out, err := r.Run(context.Background(), features)
	require.NoError(t, err)
	require.Len(t, out.Features, 5)
	for i, fr := range out.Features {
		assert.Equal(t, fmt.Sprintf("F%d", i), fr.Info.Name)
	}
	assert.Equal(t, "run-par", out.RunID)
	assert.Equal(t, outcome.Passed, out.Status)
	assert.Equal(t, Summary{Features: 5, Total: 10, Passed: 10}, out.Summary)

	assert.Equal(t, 1, inv.count(string(bindings.BeforeTestRun)))
	assert.Equal(t, 1, inv.count(string(bindings.AfterTestRun)))
	assert.Equal(t, 10, inv.count("Named"))
}

func TestRunWorkersGetOwnInvoker(t *testing.T) {
	var mu sync.Mutex
	built := map[int]bool{}
	bus := events.NewBus()
	workers := map[int]bool{}
	bus.Subscribe(events.ListenerFunc(func(e events.Event) { workers[e.Worker] = true }), events.ScenarioStarted)

	r, err := New(Config{
		Registry: registry(t),
		NewInvoker: func(w int) engine.Invoker {
			mu.Lock()
			built[w] = true
			mu.Unlock()
			return newCountingInvoker()
		},
		Publisher: bus,
		Workers:   2,
	})
	require.NoError(t, err)

	out, err := r.Run(context.Background(), []feature.Feature{
		userFeature(t, "A", 3), userFeature(t, "B", 3), userFeature(t, "C", 3),
	})
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{0: true, 1: true}, built)
	assert.Equal(t, 9, out.Summary.Passed)
	for w := range workers {
		assert.Less(t, w, 2)
	}
}

func TestRunBeforeTestRunFailureSkipsFeatures(t *testing.T) {
	inv := newCountingInvoker()
	inv.errs[string(bindings.BeforeTestRun)] = errors.New("no database")
	r, err := New(Config{Registry: registry(t), Invoker: inv, Workers: 2})
	require.NoError(t, err)

	out, err := r.Run(context.Background(), []feature.Feature{userFeature(t, "A", 2)})
	require.NoError(t, err)

	assert.Equal(t, outcome.TestError, out.Status)
	assert.Equal(t, Summary{Features: 1, Total: 2, Skipped: 2}, out.Summary)
	assert.Equal(t, 0, inv.count("Named"))
	assert.Equal(t, 1, inv.count(string(bindings.AfterTestRun)))

	sr := out.Features[0].Scenarios[0]
	assert.ErrorContains(t, sr.Err, "no database")
	for _, st := range sr.Steps {
		assert.True(t, st.Skipped)
	}
}

func TestRunSummaryCountsFailures(t *testing.T) {
	inv := newCountingInvoker()
	inv.errs["Saved"] = errors.New("constraint violation")
	r, err := New(Config{Registry: registry(t), Invoker: inv})
	require.NoError(t, err)

	f := userFeature(t, "A", 1)
	undefined, err := feature.NewStep("When", "the user logs out")
	require.NoError(t, err)
	f.Scenarios = append(f.Scenarios, feature.Scenario{
		Info:  feature.ScenarioInfo{Name: "logout"},
		Steps: []feature.StepInstance{undefined},
	})

	out, err := r.Run(context.Background(), []feature.Feature{f})
	require.NoError(t, err)
	assert.Equal(t, Summary{Features: 1, Total: 2, Failed: 1, Pending: 1}, out.Summary)
	assert.Equal(t, outcome.TestError, out.Status)
}
