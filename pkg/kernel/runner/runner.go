// Package runner executes features across a pool of workers. Every worker
// owns an engine and its context stack; all of them share the run context,
// the matcher and the event publisher.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/contexts"
	"github.com/ormasoftchile/stepbind/pkg/kernel/engine"
	"github.com/ormasoftchile/stepbind/pkg/kernel/events"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/logging"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

// ErrNoInvoker is returned when neither Invoker nor NewInvoker is set.
var ErrNoInvoker = errors.New("runner: an invoker is required")

// Config configures a runner.
type Config struct {
	Registry *bindings.Registry
	// Invoker is shared by every worker and must be safe for concurrent
	// use. NewInvoker takes precedence when set.
	Invoker    engine.Invoker
	NewInvoker func(worker int) engine.Invoker
	Policy     outcome.Policy
	Publisher  events.Publisher
	Logger     logging.Logger
	// SnippetStyle selects the skeleton style of undefined-step errors.
	SnippetStyle match.SnippetStyle
	// Workers defaults to 1.
	Workers int
	// RunID is generated when empty.
	RunID string
}

// Summary aggregates scenario counts across a run.
type Summary struct {
	Features  int `json:"features"`
	Total     int `json:"total"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Pending   int `json:"pending"`
	Undefined int `json:"undefined"`
}

func (s *Summary) add(st outcome.Status) {
	s.Total++
	switch st {
	case outcome.Passed:
		s.Passed++
	case outcome.Skipped:
		s.Skipped++
	case outcome.StepDefinitionPending:
		s.Pending++
	case outcome.UndefinedStep:
		s.Undefined++
	default:
		s.Failed++
	}
}

// Output is the result of a run. Features keep their input order.
type Output struct {
	RunID    string                  `json:"run_id"`
	Status   outcome.Status          `json:"status"`
	Err      error                   `json:"-"`
	Features []*engine.FeatureResult `json:"-"`
	Summary  Summary                 `json:"summary"`
	Duration time.Duration           `json:"duration"`
}

// Runner dispatches features to workers.
type Runner struct {
	cfg     Config
	matcher *match.Matcher
}

// New validates the registry once and builds the shared matcher. A runner
// refuses to start over an unfrozen or invalid registry.
func New(cfg Config) (*Runner, error) {
	if cfg.Registry == nil {
		return nil, errors.New("runner: registry is required")
	}
	if err := cfg.Registry.Err(); err != nil {
		return nil, fmt.Errorf("runner: invalid binding registry: %w", err)
	}
	if cfg.Invoker == nil && cfg.NewInvoker == nil {
		return nil, ErrNoInvoker
	}
	m, err := match.New(cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}
	if cfg.SnippetStyle != "" {
		m = m.WithSnippetStyle(cfg.SnippetStyle)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop()
	}
	return &Runner{cfg: cfg, matcher: m}, nil
}

func (r *Runner) invoker(worker int) engine.Invoker {
	if r.cfg.NewInvoker != nil {
		return r.cfg.NewInvoker(worker)
	}
	return r.cfg.Invoker
}

func (r *Runner) newEngine(worker int, run *contexts.RunContext) (*engine.Engine, error) {
	return engine.New(engine.Config{
		Registry:  r.cfg.Registry,
		Matcher:   r.matcher,
		Invoker:   r.invoker(worker),
		Policy:    r.cfg.Policy,
		Publisher: r.cfg.Publisher,
		Logger:    r.cfg.Logger,
		Worker:    worker,
	}, run)
}

// Run executes features. The before-test-run hooks run once before any
// worker starts and the after-test-run hooks once after all have finished.
// When a before-test-run hook fails no feature runs; every scenario is
// reported as skipped.
func (r *Runner) Run(ctx context.Context, features []feature.Feature) (*Output, error) {
	run := contexts.NewRun(r.cfg.RunID)
	workers := min(r.cfg.Workers, max(len(features), 1))

	engines := make([]*engine.Engine, workers)
	for i := range engines {
		e, err := r.newEngine(i, run)
		if err != nil {
			return nil, err
		}
		engines[i] = e
	}
	coordinator := engines[0]

	r.cfg.Logger.Info("test run started", "run_id", run.ID, "features", len(features), "workers", workers)

	results := make([]*engine.FeatureResult, len(features))
	var runErr error
	if err := coordinator.TestRunStart(ctx); err != nil {
		r.cfg.Logger.Warn("before test run hook failed, skipping features", "error", err)
		cause := fmt.Errorf("before test run hook failed: %w", err)
		for i, f := range features {
			results[i] = skippedFeature(f, cause)
		}
	} else {
		runErr = r.dispatch(ctx, engines, features, results)
	}

	if err := coordinator.TestRunEnd(ctx); err != nil {
		r.cfg.Logger.Warn("after test run hook failed", "error", err)
	}

	out := &Output{
		RunID:    run.ID,
		Status:   run.Status(),
		Err:      run.Err(),
		Features: results,
		Duration: time.Since(run.Started),
	}
	for _, fr := range results {
		if fr == nil {
			continue
		}
		out.Summary.Features++
		for _, sr := range fr.Scenarios {
			out.Summary.add(sr.Status)
		}
		out.Status = outcome.Worst(out.Status, fr.Status)
	}
	r.cfg.Logger.Info("test run finished", "run_id", run.ID, "status", out.Status, "scenarios", out.Summary.Total)
	return out, runErr
}

// dispatch fans features out to the workers and stores each result at the
// feature's index.
func (r *Runner) dispatch(ctx context.Context, engines []*engine.Engine, features []feature.Feature, results []*engine.FeatureResult) error {
	jobs := make(chan int)
	errs := make([]error, len(engines))
	var wg sync.WaitGroup

	for w, e := range engines {
		wg.Add(1)
		go func(worker int, e *engine.Engine) {
			defer wg.Done()
			for idx := range jobs {
				f := features[idx]
				r.cfg.Logger.Debug("worker picked feature", "worker", worker, "feature", f.Info.Name)
				res, err := e.RunFeature(ctx, f)
				if err != nil {
					errs[worker] = errors.Join(errs[worker], fmt.Errorf("feature %q: %w", f.Info.Name, err))
					continue
				}
				results[idx] = res
			}
		}(w, e)
	}

	for i := range features {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return errors.Join(errs...)
}

// skippedFeature reports every scenario of f as skipped with cause.
func skippedFeature(f feature.Feature, cause error) *engine.FeatureResult {
	fr := &engine.FeatureResult{Info: f.Info, Status: outcome.Skipped, Err: cause}
	for _, sc := range f.Scenarios {
		sr := &engine.ScenarioResult{Info: sc.Info, Status: outcome.Skipped, Err: cause}
		for _, st := range sc.Steps {
			sr.Steps = append(sr.Steps, engine.StepResult{Step: st, Status: outcome.Skipped, Skipped: true})
		}
		fr.Scenarios = append(fr.Scenarios, sr)
	}
	return fr
}
