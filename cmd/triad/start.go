package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/triad/internal/checkpoint"
	"github.com/ShayCichocki/triad/internal/config"
	"github.com/ShayCichocki/triad/internal/events"
	"github.com/ShayCichocki/triad/internal/signals"
	"github.com/ShayCichocki/triad/internal/tui"
	"github.com/ShayCichocki/triad/internal/vcs"
	"github.com/ShayCichocki/triad/internal/workflow"
	"github.com/ShayCichocki/triad/pkg/models"
)

type runOptions struct {
	projectID string
	maxCycles int
	dryRun    bool
	watch     bool
}

func newStartCmd(root *rootOptions) *cobra.Command {
	var ro runOptions
	cmd := &cobra.Command{
		Use:   "start <goal>",
		Short: "Plan a goal and run it to completion",
		Long: `Plan a goal and run the resulting task graph.

The goal is classified by keyword (bug fixes get an investigate, fix and
verify plan; everything else gets research, implement and test) and each
task is dispatched to a worker for its role in dependency order.

Use --dry-run to walk the plan with simulated workers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), root, ro, args[0])
		},
	}
	cmd.Flags().StringVar(&ro.projectID, "project", "", "project id (default: working directory name)")
	cmd.Flags().IntVar(&ro.maxCycles, "max-cycles", 0, "maximum orchestration cycles (default: workflow.max_cycles)")
	cmd.Flags().BoolVar(&ro.dryRun, "dry-run", false, "use simulated workers instead of running agents")
	cmd.Flags().BoolVarP(&ro.watch, "watch", "w", false, "follow the run in the dashboard")
	return cmd
}

func newResumeCmd(root *rootOptions) *cobra.Command {
	var ro runOptions
	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Continue a stopped, failed or interrupted session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd.Context(), root, ro, args[0])
		},
	}
	cmd.Flags().IntVar(&ro.maxCycles, "max-cycles", 0, "maximum orchestration cycles (default: workflow.max_cycles)")
	cmd.Flags().BoolVar(&ro.dryRun, "dry-run", false, "use simulated workers instead of running agents")
	cmd.Flags().BoolVarP(&ro.watch, "watch", "w", false, "follow the run in the dashboard")
	return cmd
}

func runStart(ctx context.Context, root *rootOptions, ro runOptions, goal string) error {
	a, err := openApp(root)
	if err != nil {
		return err
	}
	defer a.Close()

	em := watchEmitter(a, ro)
	eng, cleanup, err := buildEngine(ctx, a, root, ro, em)
	if err != nil {
		return err
	}
	defer cleanup()

	projectID := ro.projectID
	if projectID == "" {
		projectID = defaultProjectID()
	}
	id, err := eng.InitializeSession(projectID, goal)
	if err != nil {
		return err
	}
	fmt.Fprintf(root.out, "Session %s started for project %s\n", color.CyanString(id), projectID)
	if em != nil {
		return driveWatched(ctx, root.out, a, eng, em, maxCycles(a.cfg, ro))
	}
	return drive(ctx, root.out, eng, maxCycles(a.cfg, ro))
}

func runResume(ctx context.Context, root *rootOptions, ro runOptions, sessionID string) error {
	a, err := openApp(root)
	if err != nil {
		return err
	}
	defer a.Close()

	em := watchEmitter(a, ro)
	eng, cleanup, err := buildEngine(ctx, a, root, ro, em)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := eng.ResumeSession(sessionID); err != nil {
		return err
	}
	s := eng.Session()
	fmt.Fprintf(root.out, "Resuming session %s (%d completed, %d failed)\n",
		color.CyanString(s.SessionID), len(s.CompletedTasks), len(s.FailedTasks))
	if em != nil {
		return driveWatched(ctx, root.out, a, eng, em, maxCycles(a.cfg, ro))
	}
	return drive(ctx, root.out, eng, maxCycles(a.cfg, ro))
}

func maxCycles(cfg *config.Config, ro runOptions) int {
	if ro.maxCycles > 0 {
		return ro.maxCycles
	}
	return cfg.Workflow.MaxCycles
}

func watchEmitter(a *app, ro runOptions) *events.Emitter {
	if !ro.watch {
		return nil
	}
	return events.NewEmitter(256, a.log)
}

// buildEngine wires the store, planner, event bus, executor, signal
// watcher, checkpoints and optional git bookkeeping into an engine. With
// an emitter, events go to the dashboard instead of stdout.
func buildEngine(ctx context.Context, a *app, root *rootOptions, ro runOptions, em *events.Emitter) (*workflow.Engine, func(), error) {
	p, err := a.newPlanner()
	if err != nil {
		return nil, nil, err
	}

	backend := a.cfg.Executor.Backend
	if ro.dryRun {
		backend = config.BackendSimulate
	}
	exec, err := a.newExecutor(backend, p)
	if err != nil {
		return nil, nil, err
	}

	watcher, err := signals.NewWatcher(a.cfg.StateDir, a.log)
	if err != nil {
		return nil, nil, err
	}
	// Leftover kill or pause files belong to an earlier run.
	if err := watcher.Clear(); err != nil {
		watcher.Close()
		return nil, nil, err
	}

	bus := events.NewBus(a.db, a.log)
	if em != nil {
		bus.Subscribe(events.Wildcard, em.Handler())
	} else {
		bus.Subscribe(events.Wildcard, progressPrinter(root.out))
	}

	opts := []workflow.Option{
		workflow.WithMonitorConfig(a.monitorConfig()),
		workflow.WithSignals(watcher),
		workflow.WithCheckpoints(
			checkpoint.NewManager(a.cfg.CheckpointDir(), a.cfg.Checkpoint.Keep, a.log),
			a.cfg.Checkpoint.Interval,
		),
	}
	if root.verbose && em == nil {
		opts = append(opts, workflow.WithWorkerOutput(func(taskID, line string) {
			fmt.Fprintf(root.errOut, "  %s %s\n", color.HiBlackString(shortID(taskID)), line)
		}))
	}
	if a.cfg.Workflow.Commit {
		cwd, err := os.Getwd()
		if err == nil {
			git := vcs.NewGit(cwd, nil)
			if git.IsRepo(ctx) {
				opts = append(opts, workflow.WithCommitter(git))
			} else {
				a.log.Log("workflow.commit set but %s is not a git repository", cwd)
			}
		}
	}

	eng := workflow.New(a.db, p, bus, exec, a.log, opts...)
	return eng, func() { watcher.Close() }, nil
}

// drive runs the workflow, turning SIGINT/SIGTERM into a graceful stop.
func drive(ctx context.Context, out io.Writer, eng *workflow.Engine, cycles int) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(out, color.YellowString("Stopping after the current task..."))
			eng.Stop()
		case <-done:
		}
	}()

	start := time.Now()
	summary, err := eng.RunWorkflow(ctx, cycles)
	if summary != nil {
		printSummary(out, summary, time.Since(start))
	}
	return err
}

// driveWatched runs the workflow in the background while the dashboard
// owns the terminal. Quitting the dashboard stops the run.
func driveWatched(ctx context.Context, out io.Writer, a *app, eng *workflow.Engine, em *events.Emitter, cycles int) error {
	type result struct {
		summary *workflow.Summary
		err     error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		summary, err := eng.RunWorkflow(ctx, cycles)
		em.Close()
		done <- result{summary, err}
	}()

	uiErr := tui.Run(tui.NewStoreSource(a.db, a.log), tui.Options{
		SessionID:   eng.Session().SessionID,
		RefreshRate: a.cfg.TUI.RefreshRate,
		Emitter:     em,
	})
	eng.Stop()
	res := <-done

	if res.summary != nil {
		printSummary(out, res.summary, time.Since(start))
	}
	if res.err != nil {
		return res.err
	}
	return uiErr
}

func printSummary(out io.Writer, s *workflow.Summary, elapsed time.Duration) {
	fmt.Fprintln(out)
	state := string(s.State)
	switch {
	case s.Stopped:
		state = color.YellowString("stopped")
	case len(s.FailedTasks) > 0 || s.State == models.SessionFailed:
		state = color.RedString(state)
	default:
		state = color.GreenString(state)
	}
	fmt.Fprintf(out, "Session %s: %s after %d cycles (%s)\n", s.SessionID, state, s.Cycles, formatDuration(elapsed))
	fmt.Fprintf(out, "  completed: %d/%d (%.0f%%)\n", len(s.CompletedTasks), s.TotalTasks, s.Progress)
	if len(s.FailedTasks) > 0 {
		fmt.Fprintf(out, "  failed:    %s\n", color.RedString("%d", len(s.FailedTasks)))
		for _, id := range s.FailedTasks {
			fmt.Fprintf(out, "    %s %s\n", color.RedString("✗"), id)
		}
	}
	if s.Stopped {
		fmt.Fprintf(out, "  resume with: triad resume %s\n", s.SessionID)
	}
}

// progressPrinter echoes task lifecycle events as they happen.
func progressPrinter(out io.Writer) events.Handler {
	return func(ev events.Event) error {
		taskID, _ := ev.Data["task_id"].(string)
		switch ev.Type {
		case events.TaskStarted:
			fmt.Fprintf(out, "%s %s %v\n", color.BlueString("▶"), shortID(taskID), ev.Data["role"])
		case events.TaskCompleted:
			fmt.Fprintf(out, "%s %s\n", color.GreenString("✓"), shortID(taskID))
		case events.TaskFailed:
			fmt.Fprintf(out, "%s %s %v\n", color.RedString("✗"), shortID(taskID), ev.Data["error"])
		case events.SessionFailed:
			fmt.Fprintf(out, "%s session failed: %v\n", color.RedString("✗"), ev.Data["error"])
		}
		return nil
	}
}

// shortID drops the timestamp prefix from planner task ids.
func shortID(taskID string) string {
	if i := strings.IndexByte(taskID, '-'); i >= 0 {
		return taskID[i+1:]
	}
	return taskID
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	if m := int(d.Minutes()) % 60; m > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dh", h)
}
