package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/triad/internal/planner"
	"github.com/ShayCichocki/triad/pkg/models"
)

// Header renders the title bar with the selected session.
type Header struct {
	width    int
	session  *models.Session
	progress planner.Progress
	index    int
	total    int

	titleStyle lipgloss.Style
	dimStyle   lipgloss.Style
	barStyle   lipgloss.Style
	stateStyle map[models.SessionState]lipgloss.Style
}

// NewHeader creates a new Header.
func NewHeader() *Header {
	return &Header{
		width: 80,
		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4ECDC4")),
		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")),
		barStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),
		stateStyle: map[models.SessionState]lipgloss.Style{
			models.SessionIdle:     lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
			models.SessionActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("34")).Bold(true),
			models.SessionInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
			models.SessionFailed:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		},
	}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// SetSession sets the session shown and its position among all sessions.
func (h *Header) SetSession(s *models.Session, prog planner.Progress, index, total int) {
	h.session = s
	h.progress = prog
	h.index = index
	h.total = total
}

// View renders the header.
func (h *Header) View() string {
	title := h.titleStyle.Render("triad")
	if h.session == nil {
		return title + h.dimStyle.Render("  no sessions yet, run `triad start <goal>`")
	}
	s := h.session
	line1 := fmt.Sprintf("%s  %s  %s  %s",
		title,
		h.stateStyle[s.State].Render(string(s.State)),
		h.dimStyle.Render(fmt.Sprintf("session %s (%d/%d)", s.SessionID, h.index+1, h.total)),
		h.dimStyle.Render("project "+s.ProjectID),
	)
	goal := truncate(s.Goal, max(h.width-8, 20))
	line2 := "goal: " + goal
	line3 := h.progressBar(max(h.width-30, 10))
	if s.LastError != "" {
		line3 += "  " + h.stateStyle[models.SessionFailed].Render(truncate(s.LastError, 40))
	}
	return lipgloss.JoinVertical(lipgloss.Left, line1, line2, line3)
}

func (h *Header) progressBar(width int) string {
	filled := int(h.progress.CompletionPercentage / 100 * float64(width))
	if filled > width {
		filled = width
	}
	bar := h.barStyle.Render(strings.Repeat("█", filled)) + h.dimStyle.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %5.1f%% (%d/%d)", bar, h.progress.CompletionPercentage, h.progress.CompletedTasks, h.progress.TotalTasks)
}

// Height returns the header height in lines.
func (h *Header) Height() int {
	return 3
}
