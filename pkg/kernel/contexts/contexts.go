// Package contexts holds the per-worker execution context chain: run,
// feature, scenario and step contexts with their value bags and status
// aggregates.
package contexts

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

// Values is a string-keyed value bag.
type Values struct {
	m map[string]any
}

// Set stores v under key.
func (b *Values) Set(key string, v any) {
	if b.m == nil {
		b.m = make(map[string]any)
	}
	b.m[key] = v
}

// Get returns the value stored under key.
func (b *Values) Get(key string) (any, bool) {
	v, ok := b.m[key]
	return v, ok
}

// Delete removes key.
func (b *Values) Delete(key string) { delete(b.m, key) }

// Keys returns the stored keys in sorted order.
func (b *Values) Keys() []string {
	keys := make([]string, 0, len(b.m))
	for k := range b.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// aggregate tracks the worst status of a unit. The error that raised the
// status to its current level is primary; every other error is secondary.
type aggregate struct {
	status    outcome.Status
	primary   error
	secondary []error
}

func (a *aggregate) record(s outcome.Status, err error) {
	if s > a.status {
		a.status = s
		if err != nil {
			if a.primary != nil {
				a.secondary = append(a.secondary, a.primary)
			}
			a.primary = err
		}
		return
	}
	if err == nil {
		return
	}
	if a.primary == nil {
		a.primary = err
		return
	}
	a.secondary = append(a.secondary, err)
}

// RunContext is shared by every worker of a test run.
type RunContext struct {
	ID      string
	Started time.Time

	mu   sync.Mutex
	vals Values
	agg  aggregate
}

// NewRun returns a run context. An empty id gets a generated one.
func NewRun(id string) *RunContext {
	if id == "" {
		id = uuid.NewString()
	}
	return &RunContext{ID: id, Started: time.Now()}
}

// Set stores a run-wide value.
func (r *RunContext) Set(key string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vals.Set(key, v)
}

// Get returns a run-wide value.
func (r *RunContext) Get(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vals.Get(key)
}

// Record folds a status and error into the run aggregate.
func (r *RunContext) Record(s outcome.Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agg.record(s, err)
}

// Status returns the worst status observed in the run.
func (r *RunContext) Status() outcome.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agg.status
}

// Err returns the primary error of the run.
func (r *RunContext) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agg.primary
}

// FeatureContext is the context of the feature a worker is executing.
type FeatureContext struct {
	Values
	Info    feature.FeatureInfo
	Run     *RunContext
	Started time.Time
	// BeforeFeatureErr is set when a before-feature hook failed; the
	// feature's scenarios are skipped.
	BeforeFeatureErr error

	agg aggregate
}

// Record folds a status and error into the feature aggregate.
func (f *FeatureContext) Record(s outcome.Status, err error) { f.agg.record(s, err) }

// Status returns the worst status observed in the feature.
func (f *FeatureContext) Status() outcome.Status { return f.agg.status }

// Err returns the primary error of the feature.
func (f *FeatureContext) Err() error { return f.agg.primary }

// Secondary returns the errors recorded after the primary one.
func (f *FeatureContext) Secondary() []error { return f.agg.secondary }

// ScenarioContext is the context of the scenario a worker is executing.
type ScenarioContext struct {
	Values
	Info    feature.ScenarioInfo
	Feature *FeatureContext
	Started time.Time
	// CurrentBlock is the block of the last executed step, BlockNone
	// before the first step and after the last.
	CurrentBlock feature.Block
	// PendingSteps and MissingSteps list step descriptions for the
	// pending and undefined boundary messages.
	PendingSteps []string
	MissingSteps []string
	// Snippets holds skeleton suggestions for missing steps.
	Snippets []string

	agg aggregate
}

// Record folds a status and error into the scenario aggregate.
func (s *ScenarioContext) Record(st outcome.Status, err error) { s.agg.record(st, err) }

// Status returns the worst status observed in the scenario.
func (s *ScenarioContext) Status() outcome.Status { return s.agg.status }

// Err returns the primary error of the scenario.
func (s *ScenarioContext) Err() error { return s.agg.primary }

// Secondary returns the errors recorded after the primary one.
func (s *ScenarioContext) Secondary() []error { return s.agg.secondary }

// Tags returns the scenario's combined tags.
func (s *ScenarioContext) Tags() []string {
	if len(s.Info.CombinedTags) > 0 {
		return s.Info.CombinedTags
	}
	return feature.MergeTags(s.Feature.Info.Tags, s.Info.Tags)
}

// StepContext is the context of the step a worker is executing.
type StepContext struct {
	Values
	Step     feature.StepInstance
	Scenario *ScenarioContext
	Started  time.Time
	// Match is set once the step has been bound.
	Match  *match.Match
	Status outcome.Status
	Err    error
}

// Record raises the step's status. The error of the most severe status
// wins; ties keep the first.
func (s *StepContext) Record(st outcome.Status, err error) {
	if st > s.Status {
		s.Status = st
		if err != nil {
			s.Err = err
		}
		return
	}
	if s.Err == nil {
		s.Err = err
	}
}
