package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/stepbind/pkg/dryrun"
	"github.com/ormasoftchile/stepbind/pkg/kernel/outcome"
)

var (
	watchDebounce string
	watchReplay   string
)

var watchCmd = &cobra.Command{
	Use:   "watch [manifest.yaml] [features...]",
	Short: "Dry-run features again whenever they or the bindings change",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	debounce, err := time.ParseDuration(watchDebounce)
	if err != nil {
		return fmt.Errorf("invalid --debounce: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dirs, err := watchDirs(args)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	log := logger()
	opts := dryrun.Options{
		Manifest: args[0],
		Features: args[1:],
		Config:   configPath,
		Replay:   watchReplay,
		Logger:   log,
	}

	run := 0
	rerun := func() {
		run++
		printWatchLine(out, run, runOnce(ctx, opts))
	}
	rerun()

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			log.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			rerun()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "error", err)
		}
	}
}

type watchResult struct {
	status   outcome.Status
	total    int
	failed   int
	duration time.Duration
	err      error
}

func runOnce(ctx context.Context, opts dryrun.Options) watchResult {
	start := time.Now()
	out, err := dryrun.Run(ctx, opts)
	res := watchResult{duration: time.Since(start), err: err}
	if out != nil {
		res.status = out.Status
		res.total = out.Summary.Total
		res.failed = out.Summary.Failed
		res.duration = out.Duration
	}
	return res
}

func printWatchLine(w io.Writer, run int, r watchResult) {
	ts := time.Now().Format("15:04:05")
	if r.err != nil {
		fmt.Fprintf(w, "%s  #%d ! %v\n", ts, run, r.err)
		return
	}
	fmt.Fprintf(w, "%s  #%d %s %s: %d scenarios, %d failed   %s\n",
		ts, run, statusIcon(r.status), r.status, r.total, r.failed, r.duration.Truncate(time.Millisecond))
}

func statusIcon(s outcome.Status) string {
	switch s {
	case outcome.Passed:
		return "✓"
	case outcome.Skipped, outcome.StepDefinitionPending:
		return "○"
	default:
		return "✗"
	}
}

// watchDirs returns the directories holding the manifest and the feature
// paths. Feature directories are watched recursively.
func watchDirs(paths []string) ([]string, error) {
	seen := map[string]bool{}
	var dirs []string
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(filepath.Dir(p))
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return dirs, nil
}

// relevant reports whether an event touches a feature, manifest or
// replay file.
func relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	switch strings.ToLower(filepath.Ext(ev.Name)) {
	case ".feature", ".yaml", ".yml", ".toml", ".json":
		return true
	}
	return false
}

func init() {
	watchCmd.Flags().StringVar(&watchDebounce, "debounce", "300ms", "Quiet period after a change before re-running")
	watchCmd.Flags().StringVar(&watchReplay, "replay", "", "Path to a replay file of canned outcomes")
	rootCmd.AddCommand(watchCmd)
}
