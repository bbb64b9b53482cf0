package engine

import (
	"time"

	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

// StepResult is the outcome of one step.
type StepResult struct {
	Step   feature.StepInstance
	Status outcome.Status
	Err    error
	// Skipped is set when the step was not invoked because an earlier
	// step or hook failed.
	Skipped   bool
	Method    string
	Arguments []any
	Duration  time.Duration
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Info      feature.ScenarioInfo
	Status    outcome.Status
	Err       error
	Secondary []error
	Steps     []StepResult
	// PendingSteps lists pending then missing steps.
	PendingSteps []string
	Snippets     []string
	// Boundary is the signal handed to a test framework adapter, nil for
	// a passed scenario.
	Boundary error
	Duration time.Duration
}

// FeatureResult is the outcome of one feature.
type FeatureResult struct {
	Info      feature.FeatureInfo
	Status    outcome.Status
	Err       error
	Scenarios []*ScenarioResult
	Duration  time.Duration
}

// Counts tallies scenario statuses.
func (r *FeatureResult) Counts() map[outcome.Status]int {
	out := make(map[outcome.Status]int)
	for _, s := range r.Scenarios {
		out[s.Status]++
	}
	return out
}
