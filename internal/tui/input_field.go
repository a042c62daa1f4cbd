package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// FilterSubmittedMsg is sent when the user applies an event filter.
type FilterSubmittedMsg struct {
	Filter string
}

// FilterCancelledMsg is sent when the user leaves the filter prompt.
type FilterCancelledMsg struct{}

// InputField is the one-line prompt used to filter the event log.
type InputField struct {
	input textinput.Model
	width int
}

// NewInputField creates a new InputField.
func NewInputField() *InputField {
	ti := textinput.New()
	ti.Placeholder = "filter events (type, task id or text)"
	ti.CharLimit = 200
	ti.Width = 60

	return &InputField{
		input: ti,
		width: 80,
	}
}

// SetWidth sets the width of the input field.
func (f *InputField) SetWidth(width int) {
	f.width = width
	f.input.Width = width - 4 // prompt and padding
}

// SetValue pre-fills the prompt.
func (f *InputField) SetValue(v string) {
	f.input.SetValue(v)
	f.input.CursorEnd()
}

// Update handles messages for the input field.
func (f *InputField) Update(msg tea.Msg) (*InputField, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyEnter:
			text := f.input.Value()
			return f, func() tea.Msg { return FilterSubmittedMsg{Filter: text} }
		case tea.KeyEsc:
			return f, func() tea.Msg { return FilterCancelledMsg{} }
		}
	}

	var cmd tea.Cmd
	f.input, cmd = f.input.Update(msg)
	return f, cmd
}

// View renders the input field.
func (f *InputField) View() string {
	promptStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(f.width - 2)

	return boxStyle.Render(promptStyle.Render("/ ") + f.input.View())
}

// Focus sets focus on the input field.
func (f *InputField) Focus() tea.Cmd {
	return f.input.Focus()
}

// Blur removes focus from the input field.
func (f *InputField) Blur() {
	f.input.Blur()
}

// Value returns the current text.
func (f *InputField) Value() string {
	return f.input.Value()
}
