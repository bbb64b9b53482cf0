package invoke

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/contexts"
	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/engine"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

type calculator struct {
	stack []int
	users [][]string
	log   []string
}

func (c *calculator) Enter(n int) { c.stack = append(c.stack, n) }
func (c *calculator) Add() error {
	if len(c.stack) < 2 {
		return errors.New("need two operands")
	}
	n := len(c.stack)
	c.stack = append(c.stack[:n-2], c.stack[n-2]+c.stack[n-1])
	return nil
}
func (c *calculator) Result(want int) error {
	if got := c.stack[len(c.stack)-1]; got != want {
		return errors.New("result mismatch")
	}
	return nil
}

type ctxKey struct{}

func (c *calculator) suite() *Suite {
	return NewSuite("steps.Calculator").
		Given("I have entered {int} into the calculator", c.Enter).
		When("I press add", c.Add).
		Then("the result should be {int}", c.Result).
		Given("the following users:", func(t *feature.DataTable) {
			c.users = t.Rows[1:]
		}, Named("Users")).
		Given("I remember {string}", func(ctx context.Context, s string) (context.Context, error) {
			return context.WithValue(ctx, ctxKey{}, s), nil
		}, Named("Remember")).
		Then("I recall {string}", func(ctx context.Context, want string) error {
			if got, _ := ctx.Value(ctxKey{}).(string); got != want {
				return errors.New("recalled " + got)
			}
			return nil
		}, Named("Recall")).
		BeforeScenario(func() { c.log = append(c.log, "reset") }, Named("Reset")).
		AfterScenario(func(ctx context.Context) error {
			if _, ok := contexts.ScenarioFromContext(ctx); !ok {
				return errors.New("no scenario in context")
			}
			c.log = append(c.log, "cleanup")
			return nil
		}, Named("Cleanup"), Tags("@db"))
}

func run(t *testing.T, reg *bindings.Registry, inv engine.Invoker, sc feature.Scenario) *engine.ScenarioResult {
	t.Helper()
	e, err := engine.New(engine.Config{Registry: reg, Invoker: inv}, contexts.NewRun(""))
	require.NoError(t, err)
	res, err := e.RunFeature(context.Background(), feature.Feature{
		Info:      feature.FeatureInfo{Name: "Calculator"},
		Scenarios: []feature.Scenario{sc},
	})
	require.NoError(t, err)
	return res.Scenarios[0]
}

func scenario(t *testing.T, tags []string, lines ...[2]string) feature.Scenario {
	t.Helper()
	sc := feature.Scenario{Info: feature.ScenarioInfo{Name: "s", Tags: tags}}
	for _, l := range lines {
		st, err := feature.NewStep(l[0], l[1])
		require.NoError(t, err)
		sc.Steps = append(sc.Steps, st)
	}
	return sc
}

func TestSuiteDescribesMethods(t *testing.T) {
	c := &calculator{}
	reg, _, err := c.suite().Build()
	require.NoError(t, err)

	defs := reg.AllStepDefinitions()
	require.Len(t, defs, 6)
	assert.Equal(t, "steps.Calculator.Enter(int)", defs[0].Method.Signature())
	assert.Equal(t, feature.StepGiven, defs[0].Type)
	assert.Equal(t, "steps.Calculator.Users(datatable)", defs[3].Method.Signature())
	assert.Equal(t, []descriptor.Param{{Kind: descriptor.KindString}}, defs[4].Method.Params)

	hooks := reg.AllHooks()
	require.Len(t, hooks, 2)
	assert.Equal(t, "@db", hooks[1].Scope.Tags)
}

func TestRunThroughEngine(t *testing.T) {
	c := &calculator{}
	reg, inv, err := c.suite().Build()
	require.NoError(t, err)

	res := run(t, reg, inv, scenario(t, []string{"@db"},
		[2]string{"Given", "I have entered 50 into the calculator"},
		[2]string{"And", "I have entered 70 into the calculator"},
		[2]string{"When", "I press add"},
		[2]string{"Then", "the result should be 120"},
	))
	assert.Equal(t, outcome.Passed, res.Status, "%v", res.Err)
	assert.Equal(t, []int{120}, c.stack)
	assert.Equal(t, []string{"reset", "cleanup"}, c.log)
}

func TestStepErrorIsTestError(t *testing.T) {
	c := &calculator{}
	reg, inv, err := c.suite().Build()
	require.NoError(t, err)

	res := run(t, reg, inv, scenario(t, nil, [2]string{"When", "I press add"}))
	assert.Equal(t, outcome.TestError, res.Status)
	assert.ErrorContains(t, res.Err, "need two operands")
	assert.Equal(t, []string{"reset"}, c.log)
}

func TestContextFlowsBetweenSteps(t *testing.T) {
	c := &calculator{}
	reg, inv, err := c.suite().Build()
	require.NoError(t, err)

	res := run(t, reg, inv, scenario(t, nil,
		[2]string{"Given", `I remember "blue"`},
		[2]string{"Then", `I recall "blue"`},
	))
	assert.Equal(t, outcome.Passed, res.Status, "%v", res.Err)

	res = run(t, reg, inv, scenario(t, nil, [2]string{"Then", `I recall "blue"`}))
	assert.Equal(t, outcome.TestError, res.Status)
}

func TestDataTableArgument(t *testing.T) {
	c := &calculator{}
	reg, inv, err := c.suite().Build()
	require.NoError(t, err)

	sc := scenario(t, nil, [2]string{"Given", "the following users:"})
	sc.Steps[0].Table = &feature.DataTable{Rows: [][]string{{"name"}, {"alice"}, {"bob"}}}
	res := run(t, reg, inv, sc)
	assert.Equal(t, outcome.Passed, res.Status, "%v", res.Err)
	assert.Equal(t, [][]string{{"alice"}, {"bob"}}, c.users)
}

func TestDeclarationErrors(t *testing.T) {
	s := NewSuite("steps.Bad").
		Given("not a func", 42).
		Given("a map {int}", func(map[string]int) {}).
		When("two results", func() (int, int) { return 0, 0 }).
		BeforeScenario(func(n int) {})

	_, _, err := s.Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAFunc)
	assert.ErrorIs(t, err, ErrUnsupportedParam)
	assert.ErrorIs(t, err, ErrUnsupportedOut)
}

func TestDuplicateFunctionNamesAreSuffixed(t *testing.T) {
	s := NewSuite("steps.Dup").
		Given("one", func() {}, Named("Step")).
		Given("two", func() {}, Named("Step"))
	reg, _, err := s.Build()
	require.NoError(t, err)
	defs := reg.AllStepDefinitions()
	assert.Equal(t, "Step", defs[0].Method.Name)
	assert.Equal(t, "Step_2", defs[1].Method.Name)
}

type color string

func TestConvertArg(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"assignable", 5, 5},
		{"named string", "red", color("red")},
		{"text to int64", "42", int64(42)},
		{"nil", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := convertArg(tt.in, reflect.TypeOf(tt.want))
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Interface())
		})
	}

	_, err := convertArg(3.5, reflect.TypeOf(""))
	assert.Error(t, err)
}

func TestInvokeUnknownMethod(t *testing.T) {
	inv := NewFuncInvoker(NewSuite("steps.Empty"))
	err := inv.InvokeHook(context.Background(), &bindings.Hook{
		Kind:   bindings.BeforeStep,
		Method: descriptor.Method{DeclaringType: "steps.Empty", Name: "Missing"},
	})
	var bie *outcome.BindingInvocationError
	assert.ErrorAs(t, err, &bie)
}
