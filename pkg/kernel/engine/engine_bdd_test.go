package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/contexts"
	"github.com/ormasoftchile/stepbind/pkg/kernel/descriptor"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

var (
	errNoResult       = errors.New("the scenario has not run")
	errNoBoundary     = errors.New("expected a boundary signal")
	errUnexpectedHook = errors.New("unexpected hooks ran")
)

// lifecycleWorld holds the state of one lifecycle scenario.
type lifecycleWorld struct {
	defs     []*bindings.StepDefinition
	hooks    []*bindings.Hook
	policy   outcome.Policy
	invoker  *scriptInvoker
	scenario feature.Scenario
	result   *ScenarioResult
}

func (w *lifecycleWorld) reset() {
	*w = lifecycleWorld{invoker: &scriptInvoker{errs: map[string]error{}}}
}

func (w *lifecycleWorld) theCalculatorStepDefinitions() error {
	w.defs = []*bindings.StepDefinition{
		stepDef(feature.StepGiven, "I have entered {int} into the calculator", "Enter", descriptor.KindInt),
		stepDef(feature.StepWhen, "I press add", "Add"),
		stepDef(feature.StepWhen, "I press divide", "Divide"),
		stepDef(feature.StepThen, "the result should be {int}", "Result", descriptor.KindInt),
	}
	return nil
}

func (w *lifecycleWorld) theMissingStepsOutcomeIs(name string) error {
	o, err := outcome.ParseMissingStepsOutcome(name)
	if err != nil {
		return err
	}
	w.policy.MissingOrPendingSteps = o
	return nil
}

func (w *lifecycleWorld) stopAtFirstErrorIsEnabled() error {
	w.policy.StopAtFirstError = true
	return nil
}

func (w *lifecycleWorld) theStepDefinitionFailsWith(method, message string) error {
	w.invoker.errs[method] = errors.New(message)
	return nil
}

func (w *lifecycleWorld) aBeforeScenarioHookScopedTo(name, tags string) error {
	w.hooks = append(w.hooks, hookDef(bindings.BeforeScenario, name, tags))
	return nil
}

func (w *lifecycleWorld) aBeforeScenarioHookWithoutScope(name string) error {
	return w.aBeforeScenarioHookScopedTo(name, "")
}

func (w *lifecycleWorld) aScenarioWithTheSteps(table *godog.Table) error {
	return w.aScenarioTaggedWithTheSteps("", table)
}

func (w *lifecycleWorld) aScenarioTaggedWithTheSteps(tag string, table *godog.Table) error {
	w.scenario = feature.Scenario{Info: feature.ScenarioInfo{Name: "under test"}}
	if tag != "" {
		w.scenario.Info.Tags = []string{tag}
	}
	for _, row := range table.Rows[1:] {
		s, err := feature.NewStep(row.Cells[0].Value, row.Cells[1].Value)
		if err != nil {
			return err
		}
		w.scenario.Steps = append(w.scenario.Steps, s)
	}
	return nil
}

func (w *lifecycleWorld) theScenarioRuns(ctx context.Context) error {
	reg := bindings.NewRegistry(nil)
	for _, d := range w.defs {
		if err := reg.AddStepDefinition(d); err != nil {
			return err
		}
	}
	for _, h := range w.hooks {
		if err := reg.AddHook(h); err != nil {
			return err
		}
	}
	if errs := reg.Freeze(); errs.HasErrors() {
		return errs
	}
	e, err := New(Config{Registry: reg, Invoker: w.invoker, Policy: w.policy}, contexts.NewRun(""))
	if err != nil {
		return err
	}
	res, err := e.RunFeature(ctx, feature.Feature{
		Info:      feature.FeatureInfo{Name: "Calculator"},
		Scenarios: []feature.Scenario{w.scenario},
	})
	if err != nil {
		return err
	}
	w.result = res.Scenarios[0]
	return nil
}

func (w *lifecycleWorld) theScenarioStatusIs(name string) error {
	if w.result == nil {
		return errNoResult
	}
	want, err := outcome.ParseStatus(name)
	if err != nil {
		return err
	}
	if w.result.Status != want {
		return fmt.Errorf("scenario status = %s, want %s (error: %v)", w.result.Status, want, w.result.Err)
	}
	return nil
}

func (w *lifecycleWorld) theStepStatusesAre(list string) error {
	if w.result == nil {
		return errNoResult
	}
	var got []string
	for _, s := range w.result.Steps {
		got = append(got, s.Status.String())
	}
	if strings.Join(got, ", ") != list {
		return fmt.Errorf("step statuses = %q, want %q", strings.Join(got, ", "), list)
	}
	return nil
}

func (w *lifecycleWorld) theBoundarySignalIsAPendingErrorListing(step string) error {
	if w.result == nil {
		return errNoResult
	}
	var pending *outcome.PendingError
	if !errors.As(w.result.Boundary, &pending) {
		return fmt.Errorf("%w: got %v", errNoBoundary, w.result.Boundary)
	}
	for _, s := range pending.Steps {
		if s == step {
			return nil
		}
	}
	return fmt.Errorf("pending steps %q do not list %q", pending.Steps, step)
}

func (w *lifecycleWorld) theScenarioErrorMentions(text string) error {
	if w.result == nil || w.result.Err == nil {
		return errNoResult
	}
	if !strings.Contains(w.result.Err.Error(), text) {
		return fmt.Errorf("scenario error %q does not mention %q", w.result.Err, text)
	}
	return nil
}

func (w *lifecycleWorld) theHooksThatRanAre(list string) error {
	var ran []string
	for _, c := range w.invoker.Calls() {
		if name, ok := strings.CutPrefix(c, string(bindings.BeforeScenario)+":"); ok {
			ran = append(ran, name)
		}
	}
	if strings.Join(ran, ", ") != list {
		return fmt.Errorf("%w: %q, want %q", errUnexpectedHook, strings.Join(ran, ", "), list)
	}
	return nil
}

func initializeLifecycleScenario(ctx *godog.ScenarioContext) {
	w := &lifecycleWorld{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		w.reset()
		return ctx, nil
	})

	ctx.Step(`^the calculator step definitions$`, w.theCalculatorStepDefinitions)
	ctx.Step(`^the missing steps outcome is "([^"]*)"$`, w.theMissingStepsOutcomeIs)
	ctx.Step(`^stop at first error is enabled$`, w.stopAtFirstErrorIsEnabled)
	ctx.Step(`^the step definition "([^"]*)" fails with "([^"]*)"$`, w.theStepDefinitionFailsWith)
	ctx.Step(`^a before scenario hook "([^"]*)" scoped to "([^"]*)"$`, w.aBeforeScenarioHookScopedTo)
	ctx.Step(`^a before scenario hook "([^"]*)" without scope$`, w.aBeforeScenarioHookWithoutScope)
	ctx.Step(`^a scenario with the steps:$`, w.aScenarioWithTheSteps)
	ctx.Step(`^a scenario tagged "([^"]*)" with the steps:$`, w.aScenarioTaggedWithTheSteps)
	ctx.Step(`^the scenario runs$`, w.theScenarioRuns)
	ctx.Step(`^the scenario status is "([^"]*)"$`, w.theScenarioStatusIs)
	ctx.Step(`^the step statuses are "([^"]*)"$`, w.theStepStatusesAre)
	ctx.Step(`^the boundary signal is a pending error listing "([^"]*)"$`, w.theBoundarySignalIsAPendingErrorListing)
	ctx.Step(`^the scenario error mentions "([^"]*)"$`, w.theScenarioErrorMentions)
	ctx.Step(`^the hooks that ran are "([^"]*)"$`, w.theHooksThatRanAre)
}

func TestLifecycleFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeLifecycleScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"testdata/features"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
