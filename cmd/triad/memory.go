package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/triad/internal/store"
)

func newMemoryCmd(root *rootOptions) *cobra.Command {
	var list, quarantine bool
	cmd := &cobra.Command{
		Use:   "memory [key]",
		Short: "Inspect the shared store",
		Long: `Print a stored value, or list keys.

  triad memory /projects/app/supervisor/task_graph   print one value
  triad memory --list /sessions/                     list keys under a prefix
  triad memory                                       list every key
  triad memory --quarantine /tasks/index/abc         move a corrupt value aside`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(root)
			if err != nil {
				return err
			}
			defer a.Close()

			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			if quarantine {
				if key == "" {
					return fmt.Errorf("--quarantine needs a key")
				}
				if err := a.db.Quarantine(key); err != nil {
					return err
				}
				fmt.Fprintf(root.out, "moved %s to %s\n", key, store.QuarantineKey(key))
				return nil
			}
			if list || key == "" {
				return listKeys(root.out, a, key)
			}
			return printValue(root.out, a, key)
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list keys starting with the argument instead of printing a value")
	cmd.Flags().BoolVar(&quarantine, "quarantine", false, "move the key's value under /quarantine")
	return cmd
}

func listKeys(out io.Writer, a *app, prefix string) error {
	keys, err := a.db.Keys(prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Fprintln(out, "No keys.")
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"Key", "Version", "Updated"})
	for _, k := range keys {
		e, err := a.db.GetEntry(k)
		if err != nil {
			return err
		}
		if e == nil {
			continue
		}
		tw.AppendRow(table.Row{k, e.Version, e.UpdatedAt.Local().Format("2006-01-02 15:04:05")})
	}
	tw.Render()
	return nil
}

func printValue(out io.Writer, a *app, key string) error {
	value, found, err := a.db.Get(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("key %s not found", key)
	}
	var buf bytes.Buffer
	if json.Indent(&buf, value, "", "  ") == nil {
		value = buf.Bytes()
	}
	fmt.Fprintln(out, string(value))
	return nil
}
