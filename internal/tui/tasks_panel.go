package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/triad/pkg/models"
)

const (
	iconPending = "○"
	iconRunning = "●"
	iconDone    = "✓"
	iconFailed  = "✗"
	iconBlocked = "◌"
)

// TasksPanel lists the selected session's plan in graph order.
type TasksPanel struct {
	tasks        []models.Task
	completed    map[string]bool
	failed       map[string]bool
	selected     int
	scrollOffset int
	width        int
	height       int
	focused      bool

	titleStyle    lipgloss.Style
	selectedStyle lipgloss.Style
	normalStyle   lipgloss.Style
	pendingStyle  lipgloss.Style
	runningStyle  lipgloss.Style
	doneStyle     lipgloss.Style
	failedStyle   lipgloss.Style
	blockedStyle  lipgloss.Style
	roleStyle     lipgloss.Style
}

// NewTasksPanel creates a new TasksPanel instance.
func NewTasksPanel() *TasksPanel {
	return &TasksPanel{
		completed: map[string]bool{},
		failed:    map[string]bool{},

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),

		selectedStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("15")).
			Bold(true),

		normalStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		pendingStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")), // Gray

		runningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")), // Green

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")), // Dark green

		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")), // Red

		blockedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")), // Orange

		roleStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")),
	}
}

// SetGraph replaces the displayed plan. completed and failed come from
// the session, which is authoritative over the stored task status.
func (p *TasksPanel) SetGraph(g *models.TaskGraph, s *models.Session) {
	p.tasks = nil
	if g != nil {
		p.tasks = g.Tasks
	}
	p.completed = map[string]bool{}
	p.failed = map[string]bool{}
	if s != nil {
		p.completed = s.CompletedSet()
		for _, id := range s.FailedTasks {
			p.failed[id] = true
		}
	}
	if p.selected >= len(p.tasks) {
		p.selected = len(p.tasks) - 1
	}
	if p.selected < 0 {
		p.selected = 0
	}
}

// SetSize updates the panel dimensions.
func (p *TasksPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// SetFocused sets whether this panel has keyboard focus.
func (p *TasksPanel) SetFocused(focused bool) {
	p.focused = focused
}

// Update handles navigation keys.
func (p *TasksPanel) Update(msg tea.Msg) (*TasksPanel, tea.Cmd) {
	if !p.focused {
		return p, nil
	}
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "up", "k":
			if p.selected > 0 {
				p.selected--
				p.ensureVisible()
			}
		case "down", "j":
			if p.selected < len(p.tasks)-1 {
				p.selected++
				p.ensureVisible()
			}
		}
	}
	return p, nil
}

// ensureVisible adjusts scroll offset to keep selected item visible.
func (p *TasksPanel) ensureVisible() {
	visibleRows := p.height - 4
	if visibleRows < 1 {
		visibleRows = 1
	}
	if p.selected < p.scrollOffset {
		p.scrollOffset = p.selected
	} else if p.selected >= p.scrollOffset+visibleRows {
		p.scrollOffset = p.selected - visibleRows + 1
	}
}

// status is the effective display status of t.
func (p *TasksPanel) status(t models.Task) models.TaskStatus {
	switch {
	case p.completed[t.ID]:
		return models.TaskStatusCompleted
	case p.failed[t.ID]:
		return models.TaskStatusFailed
	}
	return t.Status
}

// blocked reports whether a pending task waits on a failed dependency.
func (p *TasksPanel) blocked(t models.Task) bool {
	for _, dep := range t.Dependencies {
		if p.failed[dep] {
			return true
		}
	}
	return false
}

func (p *TasksPanel) statusIcon(t models.Task) string {
	switch p.status(t) {
	case models.TaskStatusInProgress:
		return p.runningStyle.Render(iconRunning)
	case models.TaskStatusCompleted:
		return p.doneStyle.Render(iconDone)
	case models.TaskStatusFailed:
		return p.failedStyle.Render(iconFailed)
	}
	if p.blocked(t) {
		return p.blockedStyle.Render(iconBlocked)
	}
	return p.pendingStyle.Render(iconPending)
}

// View renders the tasks panel.
func (p *TasksPanel) View() string {
	var b strings.Builder

	title := "Tasks"
	if p.focused {
		title = "[Tasks]"
	}
	b.WriteString(p.titleStyle.Render(title))
	b.WriteString("\n")

	if len(p.tasks) == 0 {
		b.WriteString(p.normalStyle.Render("  No plan"))
	} else {
		rows := p.height - 4
		if rows < 1 {
			rows = len(p.tasks)
		}
		end := p.scrollOffset + rows
		if end > len(p.tasks) {
			end = len(p.tasks)
		}
		for i := p.scrollOffset; i < end; i++ {
			b.WriteString(p.renderTaskLine(p.tasks[i], i == p.selected))
			if i < end-1 {
				b.WriteString("\n")
			}
		}
	}

	borderColor := lipgloss.Color("240")
	if p.focused {
		borderColor = lipgloss.Color("63")
	}
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor)
	if p.width > 2 {
		style = style.Width(p.width - 2)
	}
	if p.height > 2 {
		style = style.Height(p.height - 2)
	}
	return style.Render(b.String())
}

func (p *TasksPanel) renderTaskLine(t models.Task, selected bool) string {
	desc := t.Description
	if max := p.width - 24; max > 10 && len(desc) > max {
		desc = desc[:max-3] + "..."
	}
	line := fmt.Sprintf(" %s %s %s", p.statusIcon(t), p.roleStyle.Render(fmt.Sprintf("%-10s", t.Role)), desc)
	if t.Error != "" && p.status(t) == models.TaskStatusFailed {
		line += "\n     " + p.failedStyle.Render(truncate(t.Error, 60))
	}
	if selected && p.focused {
		return p.selectedStyle.Render(line)
	}
	return p.normalStyle.Render(line)
}

// SelectedTask returns the highlighted task, or nil.
func (p *TasksPanel) SelectedTask() *models.Task {
	if p.selected < 0 || p.selected >= len(p.tasks) {
		return nil
	}
	t := p.tasks[p.selected]
	return &t
}

// Counts returns done, failed and running totals for the footer.
func (p *TasksPanel) Counts() TaskCounts {
	var c TaskCounts
	for _, t := range p.tasks {
		switch p.status(t) {
		case models.TaskStatusCompleted:
			c.Done++
		case models.TaskStatusFailed:
			c.Failed++
		case models.TaskStatusInProgress:
			c.Running++
		}
	}
	return c
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
