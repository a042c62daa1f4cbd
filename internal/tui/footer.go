package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// TaskCounts holds the count of tasks in each status.
type TaskCounts struct {
	Done    int
	Failed  int
	Running int
}

// Footer renders the status bar and keyboard hints.
type Footer struct {
	message    string
	isError    bool
	filtering  bool
	width      int
	taskCounts TaskCounts

	errorStyle     lipgloss.Style
	hintStyle      lipgloss.Style
	separatorStyle lipgloss.Style
}

// NewFooter creates a new Footer instance.
func NewFooter() *Footer {
	return &Footer{
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		separatorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("236")),
	}
}

// SetMessage sets the status message. Error messages are highlighted.
func (f *Footer) SetMessage(message string, isError bool) {
	f.message = message
	f.isError = isError
}

// SetFiltering switches the hints to the filter prompt.
func (f *Footer) SetFiltering(on bool) {
	f.filtering = on
}

// SetWidth sets the footer width.
func (f *Footer) SetWidth(width int) {
	f.width = width
}

// SetTaskCounts updates the task counts for display.
func (f *Footer) SetTaskCounts(counts TaskCounts) {
	f.taskCounts = counts
}

// View renders the footer.
func (f *Footer) View() string {
	left := fmt.Sprintf("✓%d", f.taskCounts.Done)
	if f.taskCounts.Failed > 0 {
		left += f.errorStyle.Render(fmt.Sprintf(" ✗%d", f.taskCounts.Failed))
	}
	if f.taskCounts.Running > 0 {
		left += fmt.Sprintf(" ●%d", f.taskCounts.Running)
	}
	if f.message != "" {
		if f.isError {
			left += "  " + f.errorStyle.Render(f.message)
		} else {
			left += "  " + f.hintStyle.Render(f.message)
		}
	}
	return left + f.separatorStyle.Render(" │ ") + f.keyboardHints()
}

func (f *Footer) keyboardHints() string {
	if f.filtering {
		return f.hintStyle.Render("enter apply │ esc cancel")
	}
	return f.hintStyle.Render("tab session │ ←/→ panel │ ↑/↓ scroll │ / filter │ r refresh │ q quit")
}
