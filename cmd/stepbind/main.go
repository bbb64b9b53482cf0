package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepbind/pkg/config"
	"github.com/ormasoftchile/stepbind/pkg/dryrun"
	"github.com/ormasoftchile/stepbind/pkg/gherkin"
	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/kernel/events"
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
	"github.com/ormasoftchile/stepbind/pkg/kernel/logging"
	"github.com/ormasoftchile/stepbind/pkg/kernel/match"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
	"github.com/ormasoftchile/stepbind/pkg/kernel/scope"
	ktesting "github.com/ormasoftchile/stepbind/pkg/kernel/testing"
	"github.com/ormasoftchile/stepbind/pkg/report"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	verbose    bool
	noColor    bool
	configPath string
)

func main() {
	loadDotEnv(".env")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// loadDotEnv sets KEY=VALUE pairs from a .env file that are not already
// set in the environment. Blank lines and # comments are skipped.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:           "stepbind",
	Short:         "Step binding and scenario execution engine",
	Long:          "stepbind matches Gherkin steps to step definitions and runs scenarios with hooks, scoping and outcome aggregation.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func logger() logging.Logger {
	return logging.NewText(os.Stderr, verbose)
}

// colored reports whether console output is styled. --no-color wins over
// the configuration file.
func colored(cfg *config.Config) bool {
	return cfg.Trace.ColoredOutput && !noColor
}

// --- validate ---

var validateType string

var validateCmd = &cobra.Command{
	Use:   "validate [manifest.yaml|stepbind.yaml]",
	Short: "Validate a binding manifest or a configuration file",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	if validateType == "config" {
		_, errs := config.ValidateFile(path)
		if n := printConfigErrors(errOut, errs); n > 0 {
			return fmt.Errorf("validation failed with %d error(s)", n)
		}
		fmt.Fprintf(out, "✓ %s is valid\n", path)
		return nil
	}

	reg, err := bindings.LoadRegistryFile(path)
	if err != nil {
		var verrs bindings.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		n := printBindingErrors(errOut, verrs)
		return fmt.Errorf("validation failed with %d error(s)", n)
	}
	printBindingErrors(errOut, reg.Errors())
	fmt.Fprintf(out, "✓ %s is valid (%d step definitions, %d hooks)\n",
		path, len(reg.AllStepDefinitions()), len(reg.AllHooks()))
	return nil
}

// printBindingErrors prints warnings and numbered errors and returns the
// error count.
func printBindingErrors(w io.Writer, errs bindings.ValidationErrors) int {
	n := 0
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(w, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			continue
		}
		n++
		if n == 1 {
			fmt.Fprintf(w, "Validation failed:\n\n")
		}
		fmt.Fprintf(w, "  %d. [%s] %s\n", n, e.Phase, e.Message)
		if e.Path != "" {
			fmt.Fprintf(w, "     at: %s\n", e.Path)
		}
	}
	return n
}

func printConfigErrors(w io.Writer, errs []*config.ValidationError) int {
	n := 0
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(w, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			continue
		}
		n++
		fmt.Fprintf(w, "  %d. [%s] %s\n", n, e.Phase, e.Message)
		if e.Path != "" {
			fmt.Fprintf(w, "     at: %s\n", e.Path)
		}
	}
	return n
}

// --- match ---

var matchTags string

var matchCmd = &cobra.Command{
	Use:   "match [manifest.yaml] [step]",
	Short: "Match one written step against the bindings",
	Long: `Match a step such as "Given I have 3 apples" and print the selected
binding, its converted arguments and score as JSON. Undefined, ambiguous
and out-of-scope steps exit non-zero.`,
	Args: cobra.ExactArgs(2),
	RunE: runMatch,
}

func runMatch(cmd *cobra.Command, args []string) error {
	reg, err := bindings.LoadRegistryFile(args[0])
	if err != nil {
		return fmt.Errorf("load bindings: %w", err)
	}
	m, err := match.New(reg)
	if err != nil {
		return err
	}
	st, err := feature.ParseStepLine(args[1])
	if err != nil {
		return err
	}

	var tags []string
	for _, t := range strings.Split(matchTags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	out := m.Match(st, scope.Context{Tags: tags, Keyword: st.Keyword, Block: st.Block})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out.Report(st)); err != nil {
		return err
	}
	if out.Kind != match.KindMatched {
		return fmt.Errorf("step is %s", out.Kind)
	}
	return nil
}

// --- dry-run ---

var (
	dryRunReplay  string
	dryRunTrace   string
	dryRunWorkers int
	dryRunJSON    bool
	dryRunEvents  string
)

var dryRunCmd = &cobra.Command{
	Use:   "dry-run [manifest.yaml] [features...]",
	Short: "Run feature files against the bindings with canned step outcomes",
	Long: `Run every scenario of the given feature files or directories. Step
bodies are not executed: each bound method reports the outcome recorded in
the --replay file, or passes when none is recorded.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runDryRun,
}

func runDryRun(cmd *cobra.Command, args []string) error {
	log := logger()
	cfg, err := dryrun.LoadConfig(configPath, log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var listeners []events.Listener
	if !dryRunJSON {
		listeners = append(listeners, report.NewConsole(out, colored(cfg)))
	}
	if dryRunEvents != "" {
		f, err := os.Create(dryRunEvents)
		if err != nil {
			return fmt.Errorf("create events file: %w", err)
		}
		defer f.Close()
		listeners = append(listeners, events.NewCloudEventWriter(f, log))
	}

	result, err := dryrun.Run(cmd.Context(), dryrun.Options{
		Manifest:  args[0],
		Features:  args[1:],
		Config:    configPath,
		Replay:    dryRunReplay,
		Trace:     dryRunTrace,
		Workers:   dryRunWorkers,
		Listeners: listeners,
		Logger:    log,
	})
	if err != nil && result == nil {
		return err
	}

	if dryRunJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		report.WriteSummary(out, result, colored(cfg))
	}

	if err != nil {
		return err
	}
	if result.Status != outcome.Passed {
		return fmt.Errorf("run %s: %s", result.RunID, result.Status)
	}
	return nil
}

// --- test ---

var (
	testScenario string
	testJSON     bool
	testFailFast bool
	testTimeout  string
)

var testCmd = &cobra.Command{
	Use:   "test [manifest.yaml] [feature...]",
	Short: "Run replay tests for feature files",
	Long: `Discover replay scenarios for each feature file, run them, and compare
against test.yaml assertions.

Scenarios are discovered by convention at:
  {feature-dir}/scenarios/{feature-name}/*/replay.yaml

Only scenarios with a test.yaml file are asserted. Scenarios without
test.yaml are reported as skipped.

Exit codes:
  0 all asserted tests passed
  1 at least one asserted test failed
  2 bindings or feature could not be loaded`,
	Args: cobra.MinimumNArgs(2),
	RunE: runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	timeout, err := time.ParseDuration(testTimeout)
	if err != nil {
		return fmt.Errorf("invalid --timeout %q: %w", testTimeout, err)
	}
	cfg, err := dryrun.LoadConfig(configPath, logger())
	if err != nil {
		return err
	}
	reg, err := bindings.LoadRegistryFile(args[0])
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "  ✗ %s: %v\n", args[0], err)
		os.Exit(2)
	}

	runner := &ktesting.Runner{
		Registry: reg,
		Parse:    func(p string) (feature.Feature, error) { return gherkin.ParseFile(p, cfg.Language) },
		Policy:   cfg.Policy(),
		Timeout:  timeout,
		FailFast: testFailFast,
	}
	allPassed, loadFailed := runTests(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), runner, args[1:])
	if loadFailed {
		os.Exit(2)
	}
	if !allPassed {
		os.Exit(1)
	}
	return nil
}

func runTests(ctx context.Context, out, errOut io.Writer, runner *ktesting.Runner, paths []string) (allPassed, loadFailed bool) {
	allPassed = true
	for _, path := range paths {
		var output *ktesting.TestOutput
		if testScenario != "" {
			result, err := runner.RunScenario(ctx, path, testScenario)
			if err != nil {
				fmt.Fprintf(errOut, "  ✗ %s: %v\n", path, err)
				loadFailed = true
				continue
			}
			output = singleOutput(result)
		} else {
			var err error
			output, err = runner.RunAll(ctx, path)
			if err != nil {
				fmt.Fprintf(errOut, "  ✗ %s: %v\n", path, err)
				loadFailed = true
				continue
			}
		}

		if testJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			enc.Encode(output)
		} else {
			printTestOutput(out, output)
		}

		if output.Summary.Failed > 0 || output.Summary.Errors > 0 {
			allPassed = false
		}
		if testFailFast && !allPassed {
			break
		}
	}
	return allPassed, loadFailed
}

func singleOutput(r *ktesting.TestResult) *ktesting.TestOutput {
	out := &ktesting.TestOutput{
		Feature:   r.FeatureName,
		Scenarios: []ktesting.TestResult{*r},
		Summary:   ktesting.TestSummary{Total: 1},
	}
	switch r.Status {
	case "passed":
		out.Summary.Passed = 1
	case "failed":
		out.Summary.Failed = 1
	case "skipped":
		out.Summary.Skipped = 1
	default:
		out.Summary.Errors = 1
	}
	return out
}

func printTestOutput(w io.Writer, output *ktesting.TestOutput) {
	fmt.Fprintf(w, "\n  %s\n", output.Feature)
	for _, s := range output.Scenarios {
		switch s.Status {
		case "passed":
			fmt.Fprintf(w, "    ✓ %-30s %dms\n", s.ScenarioName, s.DurationMs)
		case "failed":
			fmt.Fprintf(w, "    ✗ %-30s %dms\n", s.ScenarioName, s.DurationMs)
			for _, a := range s.Assertions {
				if !a.Passed {
					fmt.Fprintf(w, "        %s: %s\n", a.Type, a.Message)
				}
			}
		case "skipped":
			fmt.Fprintf(w, "    ○ %-30s (no test.yaml)  %dms\n", s.ScenarioName, s.DurationMs)
		case "error":
			fmt.Fprintf(w, "    ✗ %-30s ERROR: %s\n", s.ScenarioName, s.Error)
		}
	}
	fmt.Fprintf(w, "\n  %d scenarios, %d passed, %d failed, %d skipped\n",
		output.Summary.Total, output.Summary.Passed, output.Summary.Failed, output.Summary.Skipped)
	if output.Summary.Errors > 0 {
		fmt.Fprintf(w, "  %d errors\n", output.Summary.Errors)
	}
}

// --- bindings ---

var (
	bindingsRaw   bool
	bindingsWidth int
)

var bindingsCmd = &cobra.Command{
	Use:   "bindings [manifest.yaml]",
	Short: "List the step definitions and hooks of a manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runBindings,
}

func runBindings(cmd *cobra.Command, args []string) error {
	reg, err := bindings.LoadRegistryFile(args[0])
	if err != nil {
		var verrs bindings.ValidationErrors
		if !errors.As(err, &verrs) || reg == nil {
			return err
		}
		printBindingErrors(cmd.ErrOrStderr(), verrs)
	}
	md := report.BindingsMarkdown(reg)
	if bindingsRaw || noColor {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	rendered, err := report.RenderMarkdown(md, bindingsWidth)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:       "export [config|manifest]",
	Short:     "Export JSON Schema to stdout",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"config", "manifest"},
	RunE:      runSchemaExport,
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	switch args[0] {
	case "config":
		data, err = config.GenerateJSONSchema()
	case "manifest":
		data, err = bindings.GenerateManifestJSONSchema()
	default:
		return fmt.Errorf("unknown schema %q, use config or manifest", args[0])
	}
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "stepbind %s (build: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable styled output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a stepbind configuration file (YAML, TOML or JSON)")

	validateCmd.Flags().StringVar(&validateType, "type", "manifest", "File type: manifest or config")

	matchCmd.Flags().StringVar(&matchTags, "tags", "", "Comma separated scenario tags, e.g. @web,@slow")

	dryRunCmd.Flags().StringVar(&dryRunReplay, "replay", "", "Path to a replay file of canned outcomes")
	dryRunCmd.Flags().StringVar(&dryRunTrace, "trace", "", "Write a JSONL trace to this path (overrides the config)")
	dryRunCmd.Flags().IntVar(&dryRunWorkers, "workers", 0, "Features run in parallel (overrides the config)")
	dryRunCmd.Flags().BoolVar(&dryRunJSON, "json", false, "Output the run result as JSON")
	dryRunCmd.Flags().StringVar(&dryRunEvents, "events", "", "Write execution events as CloudEvents JSON lines to this path")

	testCmd.Flags().StringVar(&testScenario, "scenario", "", "Run only the named scenario (default: all)")
	testCmd.Flags().BoolVar(&testJSON, "json", false, "Output results as structured JSON")
	testCmd.Flags().BoolVar(&testFailFast, "fail-fast", false, "Stop after first failure")
	testCmd.Flags().StringVar(&testTimeout, "timeout", "30s", "Per-scenario timeout (e.g. 30s, 1m)")

	bindingsCmd.Flags().BoolVar(&bindingsRaw, "raw", false, "Print Markdown without rendering")
	bindingsCmd.Flags().IntVar(&bindingsWidth, "width", 100, "Word wrap width of rendered output")

	schemaCmd.AddCommand(schemaExportCmd)

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(dryRunCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(bindingsCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}
