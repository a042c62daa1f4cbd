package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/triad/internal/planner"
	"github.com/ShayCichocki/triad/internal/workflow"
	"github.com/ShayCichocki/triad/pkg/models"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var (
		projectID string
		sessionID string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sessions and task progress",
		Long: `Show the newest session's plan and progress, followed by recent sessions.

With --project, the newest session of that project is shown. With
--session, that exact session is shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(root)
			if err != nil {
				return err
			}
			defer a.Close()
			return showStatus(root.out, a, projectID, sessionID, limit)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "only this project")
	cmd.Flags().StringVar(&sessionID, "session", "", "show this session")
	cmd.Flags().IntVar(&limit, "limit", 5, "recent sessions to list")
	return cmd
}

func showStatus(out io.Writer, a *app, projectID, sessionID string, limit int) error {
	sessions := workflow.NewSessions(a.db, a.log)
	p := planner.New(a.db, a.log)

	var (
		current *models.Session
		err     error
	)
	switch {
	case sessionID != "":
		current, _, err = sessions.Load(sessionID)
		if err == nil && current == nil {
			return fmt.Errorf("session %s not found", sessionID)
		}
	case projectID != "":
		current, err = sessions.ForProject(projectID)
	default:
		var all []*models.Session
		all, err = sessions.List()
		if len(all) > 0 {
			current = all[0]
		}
	}
	if err != nil {
		return err
	}
	if current == nil {
		fmt.Fprintln(out, "No sessions. Run 'triad start <goal>' to begin.")
		return nil
	}

	if err := displaySession(out, p, current); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return displayRecentSessions(out, sessions, projectID, limit)
}

func stateColor(s models.SessionState) string {
	switch s {
	case models.SessionActive:
		return color.GreenString(string(s))
	case models.SessionFailed:
		return color.RedString(string(s))
	case models.SessionInactive:
		return color.CyanString(string(s))
	default:
		return string(s)
	}
}

func displaySession(out io.Writer, p *planner.Planner, s *models.Session) error {
	completed := s.CompletedSet()
	prog, err := p.GetProgress(s.ProjectID, completed)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Session: %s\n", s.SessionID)
	fmt.Fprintf(out, "  Project: %s\n", s.ProjectID)
	fmt.Fprintf(out, "  Goal:    %s\n", s.Goal)
	fmt.Fprintf(out, "  State:   %s\n", stateColor(s.State))
	fmt.Fprintf(out, "  Updated: %s ago\n", formatDuration(time.Since(s.UpdatedAt)))
	fmt.Fprintf(out, "  Cycles:  %d\n", s.Metrics[models.MetricStageCycles])
	fmt.Fprintf(out, "  Progress: %d/%d (%.0f%%)\n", prog.CompletedTasks, prog.TotalTasks, prog.CompletionPercentage)
	if s.LastError != "" {
		fmt.Fprintf(out, "  Last error: %s\n", color.RedString(s.LastError))
	}

	g, err := p.LoadGraph(s.ProjectID)
	if err != nil || g == nil {
		return err
	}
	failed := map[string]bool{}
	for _, id := range s.FailedTasks {
		failed[id] = true
	}

	fmt.Fprintln(out)
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"#", "Task", "Role", "Type", "Status", "Depends on"})
	for i, t := range g.Tasks {
		status := string(t.Status)
		switch {
		case completed[t.ID]:
			status = color.GreenString(string(models.TaskStatusCompleted))
		case failed[t.ID]:
			status = color.RedString(string(models.TaskStatusFailed))
		case t.Status == models.TaskStatusInProgress:
			status = color.YellowString(status)
		}
		deps := ""
		for j, d := range t.Dependencies {
			if j > 0 {
				deps += ", "
			}
			deps += shortID(d)
		}
		tw.AppendRow(table.Row{i + 1, shortID(t.ID), t.Role, t.Type, status, deps})
	}
	tw.Render()
	return nil
}

func displayRecentSessions(out io.Writer, sessions *workflow.Sessions, projectID string, limit int) error {
	all, err := sessions.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetTitle("Recent sessions")
	tw.AppendHeader(table.Row{"Session", "Project", "State", "Done", "Failed", "Created"})
	n := 0
	for _, s := range all {
		if projectID != "" && s.ProjectID != projectID {
			continue
		}
		if limit > 0 && n >= limit {
			break
		}
		tw.AppendRow(table.Row{
			s.SessionID, s.ProjectID, stateColor(s.State),
			len(s.CompletedTasks), len(s.FailedTasks),
			formatDuration(time.Since(s.CreatedAt)) + " ago",
		})
		n++
	}
	tw.Render()
	return nil
}
