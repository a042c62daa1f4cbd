package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/triad/internal/events"
)

// LogLevel represents the severity of a log line.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelError LogLevel = "ERROR"
	LogLevelDebug LogLevel = "DEBUG"
)

// PanelLogEntry is one rendered line of the event log.
type PanelLogEntry struct {
	Seq       int64
	Timestamp time.Time
	Level     LogLevel
	Type      string
	TaskID    string
	Message   string
}

// entryFromEvent flattens an event into a log line.
func entryFromEvent(ev events.Event) PanelLogEntry {
	e := PanelLogEntry{
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp,
		Level:     LogLevelInfo,
		Type:      ev.Type,
	}
	switch ev.Type {
	case events.TaskFailed, events.SessionFailed:
		e.Level = LogLevelError
	case events.CheckpointSaved:
		e.Level = LogLevelDebug
	}
	if id, ok := ev.Data["task_id"].(string); ok {
		e.TaskID = id
	}

	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		if k != "task_id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := []string{ev.Type}
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ev.Data[k]))
	}
	e.Message = strings.Join(parts, " ")
	return e
}

// LogsPanel displays a filterable, scrollable event log.
type LogsPanel struct {
	logs         []PanelLogEntry
	lastSeq      int64
	filter       string
	scrollOffset int
	autoScroll   bool
	width        int
	height       int
	focused      bool
	maxLogs      int

	titleStyle   lipgloss.Style
	filterStyle  lipgloss.Style
	infoStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	debugStyle   lipgloss.Style
	timeStyle    lipgloss.Style
	taskStyle    lipgloss.Style
	messageStyle lipgloss.Style
}

// NewLogsPanel creates a new LogsPanel instance.
func NewLogsPanel() *LogsPanel {
	return &LogsPanel{
		autoScroll: true,
		maxLogs:    1000,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),

		filterStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),

		infoStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")), // Green

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")), // Red

		debugStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")), // Gray

		timeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		taskStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("63")), // Blue

		messageStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
	}
}

// AddEvents appends events not yet shown. Events arrive both from polling
// and from a live emitter, so anything at or below the last sequence
// number is a duplicate.
func (p *LogsPanel) AddEvents(evs []events.Event) {
	for _, ev := range evs {
		if ev.Seq != 0 && ev.Seq <= p.lastSeq {
			continue
		}
		if ev.Seq > p.lastSeq {
			p.lastSeq = ev.Seq
		}
		p.logs = append(p.logs, entryFromEvent(ev))
	}
	if len(p.logs) > p.maxLogs {
		p.logs = p.logs[len(p.logs)-p.maxLogs:]
	}
	if p.autoScroll {
		p.scrollToBottom()
	}
}

// LastSeq is the newest sequence number shown.
func (p *LogsPanel) LastSeq() int64 {
	return p.lastSeq
}

// SetFilter keeps only lines whose type, task or message contain f.
func (p *LogsPanel) SetFilter(f string) {
	p.filter = strings.TrimSpace(f)
	p.scrollToBottom()
}

// SetSize updates the panel dimensions.
func (p *LogsPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
	if p.autoScroll {
		p.scrollToBottom()
	}
}

// SetFocused sets whether this panel has keyboard focus.
func (p *LogsPanel) SetFocused(focused bool) {
	p.focused = focused
}

// Update handles scrolling keys.
func (p *LogsPanel) Update(msg tea.Msg) (*LogsPanel, tea.Cmd) {
	if !p.focused {
		return p, nil
	}
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "up", "k":
			if p.scrollOffset > 0 {
				p.scrollOffset--
				p.autoScroll = false
			}
		case "down", "j":
			if p.scrollOffset < len(p.filteredLogs())-p.visibleLines() {
				p.scrollOffset++
			}
		case "g":
			p.scrollOffset = 0
			p.autoScroll = false
		case "G":
			p.scrollToBottom()
			p.autoScroll = true
		case "a":
			p.autoScroll = !p.autoScroll
			if p.autoScroll {
				p.scrollToBottom()
			}
		}
	}
	return p, nil
}

func (p *LogsPanel) visibleLines() int {
	lines := p.height - 4 // title and borders
	if lines < 1 {
		lines = 1
	}
	return lines
}

func (p *LogsPanel) scrollToBottom() {
	p.scrollOffset = len(p.filteredLogs()) - p.visibleLines()
	if p.scrollOffset < 0 {
		p.scrollOffset = 0
	}
}

func (p *LogsPanel) filteredLogs() []PanelLogEntry {
	if p.filter == "" {
		return p.logs
	}
	needle := strings.ToLower(p.filter)
	var out []PanelLogEntry
	for _, l := range p.logs {
		if strings.Contains(strings.ToLower(l.Type), needle) ||
			strings.Contains(strings.ToLower(l.TaskID), needle) ||
			strings.Contains(strings.ToLower(l.Message), needle) {
			out = append(out, l)
		}
	}
	return out
}

// View renders the logs panel.
func (p *LogsPanel) View() string {
	var b strings.Builder

	title := "Events"
	if p.focused {
		title = "[Events]"
	}
	b.WriteString(p.titleStyle.Render(title))
	filterText := " all"
	if p.filter != "" {
		filterText = " /" + p.filter
	}
	if p.autoScroll {
		filterText += " (auto)"
	}
	b.WriteString(p.filterStyle.Render(filterText))
	b.WriteString("\n")

	filtered := p.filteredLogs()
	if len(filtered) == 0 {
		b.WriteString(lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			Render("  No events"))
	} else {
		start := p.scrollOffset
		if start < 0 {
			start = 0
		}
		end := start + p.visibleLines()
		if end > len(filtered) {
			end = len(filtered)
		}
		for i := start; i < end; i++ {
			b.WriteString(p.renderLogLine(filtered[i]))
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

func (p *LogsPanel) renderLogLine(entry PanelLogEntry) string {
	parts := []string{p.timeStyle.Render(entry.Timestamp.Local().Format("15:04:05"))}

	levelStyle, levelIcon := p.infoStyle, "I"
	switch entry.Level {
	case LogLevelError:
		levelStyle, levelIcon = p.errorStyle, "E"
	case LogLevelDebug:
		levelStyle, levelIcon = p.debugStyle, "D"
	}
	parts = append(parts, levelStyle.Render(levelIcon))

	if entry.TaskID != "" {
		parts = append(parts, p.taskStyle.Render("["+truncate(entry.TaskID, 24)+"]"))
	}

	maxMsgLen := p.width - 40
	if maxMsgLen < 20 {
		maxMsgLen = 20
	}
	parts = append(parts, p.messageStyle.Render(truncate(entry.Message, maxMsgLen)))
	return strings.Join(parts, " ")
}

// LogCount returns the total number of lines held.
func (p *LogsPanel) LogCount() int {
	return len(p.logs)
}

// FilteredCount returns the number of lines matching the filter.
func (p *LogsPanel) FilteredCount() int {
	return len(p.filteredLogs())
}
