package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/triad/internal/signals"
)

// newSignalCmd builds stop, pause and continue. They only touch files in
// the state directory, so they work from any shell while start runs.
func newSignalCmd(root *rootOptions, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			switch name {
			case "stop":
				err = signals.SendKill(cfg.StateDir)
			case "pause":
				err = signals.SendPause(cfg.StateDir)
			case "continue":
				err = signals.Resume(cfg.StateDir)
			default:
				err = fmt.Errorf("unknown signal command %q", name)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(root.out, "%s requested (%s)\n", name, signals.Dir(cfg.StateDir))
			return nil
		},
	}
}
