// Package dryrun runs feature files through the engine with the replay
// invoker. It wires configuration, feature parsing, the binding manifest,
// the trace writer and any extra listeners for the command line tools.
package dryrun

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ormasoftchile/stepbind/pkg/config"
	"github.com/ormasoftchile/stepbind/pkg/gherkin"
	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/events"
	"github.com/ormasoftchile/stepbind/pkg/kernel/logging"
	"github.com/ormasoftchile/stepbind/pkg/kernel/replay"
	"github.com/ormasoftchile/stepbind/pkg/kernel/runner"
	"github.com/ormasoftchile/stepbind/pkg/kernel/trace"
)

// ErrNoFeatures is returned when the feature paths hold no feature.
var ErrNoFeatures = errors.New("no feature files found")

// Options configures a dry run.
type Options struct {
	Manifest string
	Features []string
	// Config is the configuration file; empty uses the defaults.
	Config string
	// Replay is a replay file of canned outcomes; empty passes every
	// matched step.
	Replay string
	// Trace overrides the configured trace file.
	Trace string
	// Workers overrides the configured worker count when positive.
	Workers   int
	Listeners []events.Listener
	Logger    logging.Logger
}

// LoadConfig reads and validates the configuration file, or returns the
// defaults when path is empty. Validation warnings are logged.
func LoadConfig(path string, log logging.Logger) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, errs := config.ValidateFile(path)
	for _, e := range errs {
		if e.Severity != "error" {
			logging.OrNop(log).Warn("config warning", "path", e.Path, "message", e.Message)
		}
	}
	if config.HasErrors(errs) {
		return nil, fmt.Errorf("invalid config %s: %w", path, joinErrors(errs))
	}
	return cfg, nil
}

// Run executes the dry run and returns the runner output. The registry
// must load without structural errors.
func Run(ctx context.Context, opts Options) (*runner.Output, error) {
	log := logging.OrNop(opts.Logger)
	cfg, err := LoadConfig(opts.Config, log)
	if err != nil {
		return nil, err
	}

	reg, err := bindings.LoadRegistryFile(opts.Manifest)
	if err != nil {
		return nil, fmt.Errorf("load bindings: %w", err)
	}

	features, err := gherkin.LoadPaths(opts.Features, cfg.Language)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, ErrNoFeatures
	}

	var canned *replay.Scenario
	if opts.Replay != "" {
		if canned, err = replay.LoadScenarioFile(opts.Replay); err != nil {
			return nil, err
		}
	}

	runID := uuid.NewString()
	bus := events.NewBus()
	for _, l := range opts.Listeners {
		bus.Subscribe(l)
	}

	tracePath := cfg.Trace.File
	if opts.Trace != "" {
		tracePath = opts.Trace
	}
	if tracePath != "" {
		tw, err := trace.NewFileWriter(tracePath, runID, cfg.TraceOptions())
		if err != nil {
			return nil, err
		}
		tw.SetLogger(log)
		defer tw.Close()
		bus.Subscribe(tw)
	}

	workers := cfg.Runtime.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	r, err := runner.New(runner.Config{
		Registry:     reg,
		Invoker:      replay.NewInvoker(canned),
		Policy:       cfg.Policy(),
		Publisher:    bus,
		Logger:       log,
		SnippetStyle: cfg.SnippetStyle(),
		Workers:      workers,
		RunID:        runID,
	})
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, features)
}

func joinErrors(errs []*config.ValidationError) error {
	var out []error
	for _, e := range errs {
		if e.Severity == "error" {
			out = append(out, e)
		}
	}
	return errors.Join(out...)
}
