package testing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
	"github.com/ormasoftchile/stepbind/pkg/kernel/replay"
	"github.com/ormasoftchile/stepbind/pkg/kernel/runner"
)

// TestResult is the result of running one replay scenario.
type TestResult struct {
	FeatureName  string            `json:"feature_name"`
	ScenarioName string            `json:"scenario_name"`
	Status       string            `json:"status"` // passed, failed, skipped, error
	DurationMs   int64             `json:"duration_ms"`
	Assertions   []AssertionResult `json:"assertions,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// TestSummary aggregates counts across scenarios.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// TestOutput is the top-level output of a test run.
type TestOutput struct {
	Feature   string       `json:"feature"`
	Scenarios []TestResult `json:"scenarios"`
	Summary   TestSummary  `json:"summary"`
}

// Runner replays a feature once per discovered scenario directory.
type Runner struct {
	Registry *bindings.Registry
	// Parse loads a feature file.
	Parse    func(path string) (feature.Feature, error)
	Policy   outcome.Policy
	Timeout  time.Duration
	FailFast bool
}

// ScenarioInfo describes a discovered scenario directory.
type ScenarioInfo struct {
	Name string
	Dir  string
}

// DiscoverScenarios finds replay scenario directories for a feature file.
// Convention: scenarios live in a sibling `scenarios/<feature-name>/`
// directory, each subdirectory containing a `replay.yaml`.
func DiscoverScenarios(featurePath string) ([]ScenarioInfo, error) {
	scenariosDir := scenariosDir(featurePath)
	entries, err := os.ReadDir(scenariosDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scenarios dir: %w", err)
	}

	var scenarios []ScenarioInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(scenariosDir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "replay.yaml")); err == nil {
			scenarios = append(scenarios, ScenarioInfo{Name: entry.Name(), Dir: dir})
		}
	}
	return scenarios, nil
}

func scenariosDir(featurePath string) string {
	base := strings.TrimSuffix(filepath.Base(featurePath), filepath.Ext(featurePath))
	return filepath.Join(filepath.Dir(featurePath), "scenarios", base)
}

// RunAll discovers and runs all scenarios for a feature file.
func (r *Runner) RunAll(ctx context.Context, featurePath string) (*TestOutput, error) {
	scenarios, err := DiscoverScenarios(featurePath)
	if err != nil {
		return nil, err
	}
	f, err := r.load(featurePath)
	if err != nil {
		return nil, err
	}

	output := &TestOutput{Feature: f.Info.Name}
	for _, si := range scenarios {
		result := r.runScenario(ctx, f, si)
		output.Scenarios = append(output.Scenarios, result)

		switch result.Status {
		case "passed":
			output.Summary.Passed++
		case "failed":
			output.Summary.Failed++
		case "skipped":
			output.Summary.Skipped++
		case "error":
			output.Summary.Errors++
		}
		output.Summary.Total++

		if r.FailFast && (result.Status == "failed" || result.Status == "error") {
			break
		}
	}
	return output, nil
}

// RunScenario runs a single named scenario.
func (r *Runner) RunScenario(ctx context.Context, featurePath, scenarioName string) (*TestResult, error) {
	f, err := r.load(featurePath)
	if err != nil {
		return nil, err
	}
	si := ScenarioInfo{Name: scenarioName, Dir: filepath.Join(scenariosDir(featurePath), scenarioName)}
	result := r.runScenario(ctx, f, si)
	return &result, nil
}

func (r *Runner) load(featurePath string) (feature.Feature, error) {
	if r.Registry == nil || r.Parse == nil {
		return feature.Feature{}, fmt.Errorf("test runner needs a registry and a feature parser")
	}
	f, err := r.Parse(featurePath)
	if err != nil {
		return feature.Feature{}, fmt.Errorf("load feature: %w", err)
	}
	return f, nil
}

// runScenario replays the feature against one scenario and evaluates its
// test spec.
func (r *Runner) runScenario(ctx context.Context, f feature.Feature, si ScenarioInfo) TestResult {
	start := time.Now()
	fail := func(format string, args ...any) TestResult {
		return TestResult{
			FeatureName:  f.Info.Name,
			ScenarioName: si.Name,
			Status:       "error",
			DurationMs:   time.Since(start).Milliseconds(),
			Error:        fmt.Sprintf(format, args...),
		}
	}

	scenario, err := replay.LoadScenarioFile(filepath.Join(si.Dir, "replay.yaml"))
	if err != nil {
		return fail("load scenario: %s", err)
	}

	// test.yaml is optional; without it the scenario is skipped.
	var spec *TestSpec
	testSpecPath := filepath.Join(si.Dir, "test.yaml")
	if _, err := os.Stat(testSpecPath); err == nil {
		spec, err = LoadTestSpec(testSpecPath)
		if err != nil {
			return fail("load test spec: %s", err)
		}
	}
	if spec == nil {
		return TestResult{
			FeatureName:  f.Info.Name,
			ScenarioName: si.Name,
			Status:       "skipped",
			DurationMs:   time.Since(start).Milliseconds(),
		}
	}

	inv := replay.NewInvoker(scenario)
	run, err := runner.New(runner.Config{
		Registry: r.Registry,
		Invoker:  inv,
		Policy:   r.Policy,
		RunID:    "test-" + si.Name,
	})
	if err != nil {
		return fail("%s", err)
	}

	var (
		out    *runner.Output
		runErr error
	)
	if r.Timeout > 0 {
		done := make(chan struct{})
		go func() {
			out, runErr = run.Run(ctx, []feature.Feature{f})
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(r.Timeout):
			return fail("timeout")
		}
	} else {
		out, runErr = run.Run(ctx, []feature.Feature{f})
	}
	if runErr != nil {
		return fail("%s", runErr)
	}

	assertions := Evaluate(spec, runResult(out, inv))
	status := "passed"
	if HasFailures(assertions) {
		status = "failed"
	}
	return TestResult{
		FeatureName:  f.Info.Name,
		ScenarioName: si.Name,
		Status:       status,
		DurationMs:   time.Since(start).Milliseconds(),
		Assertions:   assertions,
	}
}

// runResult builds the assertion input. Scenarios sharing a name, such as
// outline rows, report their worst status.
func runResult(out *runner.Output, inv *replay.Invoker) *RunResult {
	worst := map[string]outcome.Status{}
	for _, fr := range out.Features {
		for _, sc := range fr.Scenarios {
			worst[sc.Info.Name] = outcome.Worst(worst[sc.Info.Name], sc.Status)
		}
	}
	rr := &RunResult{
		Status:    out.Status.String(),
		Scenarios: make(map[string]string, len(worst)),
		Error:     out.Err,
	}
	for name, st := range worst {
		rr.Scenarios[name] = st.String()
	}
	for _, c := range inv.Calls() {
		rr.Invoked = append(rr.Invoked, Invocation{Method: c.Method, Arguments: c.Arguments})
	}
	return rr
}
