package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepbind/pkg/debugger"
	"github.com/ormasoftchile/stepbind/pkg/dryrun"
	"github.com/ormasoftchile/stepbind/pkg/gherkin"
	"github.com/ormasoftchile/stepbind/pkg/kernel/bindings"
	"github.com/ormasoftchile/stepbind/pkg/report"
)

var debugReplay string

var debugCmd = &cobra.Command{
	Use:   "debug [manifest.yaml] [features...]",
	Short: "Step through scenario matching interactively",
	Long: `Open a REPL over the bindings and feature files. Select a scenario, match
its steps one at a time, try ad hoc steps, or dry-run everything.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runDebug,
}

func runDebug(cmd *cobra.Command, args []string) error {
	log := logger()
	cfg, err := dryrun.LoadConfig(configPath, log)
	if err != nil {
		return err
	}
	reg, err := bindings.LoadRegistryFile(args[0])
	if err != nil {
		return fmt.Errorf("load bindings: %w", err)
	}
	features, err := gherkin.LoadPaths(args[1:], cfg.Language)
	if err != nil {
		return err
	}

	d, err := debugger.New(reg, features)
	if err != nil {
		return err
	}
	d.SetOutput(cmd.OutOrStdout())
	d.SetRunner(func(ctx context.Context, w io.Writer) error {
		result, err := dryrun.Run(ctx, dryrun.Options{
			Manifest: args[0],
			Features: args[1:],
			Config:   configPath,
			Replay:   debugReplay,
			Logger:   log,
		})
		if result != nil {
			report.WriteSummary(w, result, colored(cfg))
		}
		return err
	})
	return d.Run(cmd.Context())
}

func init() {
	debugCmd.Flags().StringVar(&debugReplay, "replay", "", "Path to a replay file of canned outcomes for the run command")
	rootCmd.AddCommand(debugCmd)
}
