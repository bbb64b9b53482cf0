package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepbind/pkg/dryrun"
	"github.com/ormasoftchile/stepbind/pkg/ecosystem/tui"
	"github.com/ormasoftchile/stepbind/pkg/kernel/events"
	"github.com/ormasoftchile/stepbind/pkg/kernel/logging"
	"github.com/ormasoftchile/stepbind/pkg/kernel/runner"
)

var (
	tuiReplay  string
	tuiWorkers int
)

var tuiCmd = &cobra.Command{
	Use:   "tui [manifest.yaml] [features...]",
	Short: "Dry-run feature files in an interactive terminal view",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := dryrun.Options{
			Manifest: args[0],
			Features: args[1:],
			Config:   configPath,
			Replay:   tuiReplay,
			Workers:  tuiWorkers,
			// Logs are discarded while the alternate screen is active.
			Logger: logging.Nop(),
		}
		return tui.Run(filepath.Base(args[0]), func(l events.Listener) tui.RunFunc {
			opts.Listeners = []events.Listener{l}
			return func(ctx context.Context) (*runner.Output, error) {
				return dryrun.Run(ctx, opts)
			}
		})
	},
}

func init() {
	tuiCmd.Flags().StringVar(&tuiReplay, "replay", "", "Path to a replay file of canned outcomes")
	tuiCmd.Flags().IntVar(&tuiWorkers, "workers", 0, "Features run in parallel (overrides the config)")
	rootCmd.AddCommand(tuiCmd)
}
