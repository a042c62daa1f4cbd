package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	stateDir   string
	verbose    bool

	out    io.Writer
	errOut io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &rootOptions{out: out, errOut: errOut}

	cmd := &cobra.Command{
		Use:   "triad",
		Short: "Supervisor / Coder / Adversary orchestrator",
		Long: `Triad drives three agent roles toward a goal.

A goal is classified and expanded into a dependency-ordered task graph.
Each task is handed to a worker for its role (Supervisor, Coder or
Adversary) and tracked in a durable store under the state directory, so
a run can be inspected while it executes and resumed after a crash.

Configuration is read from ~/.config/triad/config.yaml, then .triad.yaml
in the current directory or a parent, then TRIAD_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: XDG user config merged with .triad.yaml)")
	cmd.PersistentFlags().StringVar(&opts.stateDir, "state-dir", "", "state directory (overrides state_dir)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "mirror the debug log to stderr")

	cmd.AddCommand(
		newStartCmd(opts),
		newResumeCmd(opts),
		newStatusCmd(opts),
		newMemoryCmd(opts),
		newVersionCmd(opts),
		newServeCmd(opts),
		newDashboardCmd(opts),
		newSignalCmd(opts, "stop", "Ask a running session to stop after its current task"),
		newSignalCmd(opts, "pause", "Pause a running session between tasks"),
		newSignalCmd(opts, "continue", "Resume a paused session"),
	)
	return cmd
}

// Execute runs the root command and exits 1 on any error.
func Execute() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
