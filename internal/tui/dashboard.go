package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/triad/internal/events"
)

// Panel indices.
const (
	PanelTasks = 0
	PanelLogs  = 1
)

// SnapshotMsg carries the result of a Source load.
type SnapshotMsg struct {
	Snapshot Snapshot
	Err      error
}

// EventMsg carries one event from a live emitter.
type EventMsg struct {
	Event events.Event
}

// emitterClosedMsg is sent once the emitter channel is drained and closed.
type emitterClosedMsg struct{}

type tickMsg time.Time

// Options configures a Dashboard.
type Options struct {
	// SessionID selects the initial session; empty means the newest.
	SessionID string
	// RefreshRate is how often the source is polled. Defaults to 500ms.
	RefreshRate time.Duration
	// Emitter, when set, streams events between polls.
	Emitter *events.Emitter
}

// Dashboard is the bubbletea model for `triad dashboard`.
type Dashboard struct {
	source Source
	opts   Options
	header *Header
	tasks  *TasksPanel
	logs   *LogsPanel
	footer *Footer
	filter *InputField

	sessionID string
	sessionIx int
	snapshot  Snapshot
	focused   int
	filtering bool
	width     int
	height    int
	quitting  bool
}

// NewDashboard creates a dashboard reading from source.
func NewDashboard(source Source, opts Options) *Dashboard {
	if opts.RefreshRate <= 0 {
		opts.RefreshRate = 500 * time.Millisecond
	}
	d := &Dashboard{
		source:    source,
		opts:      opts,
		header:    NewHeader(),
		tasks:     NewTasksPanel(),
		logs:      NewLogsPanel(),
		footer:    NewFooter(),
		filter:    NewInputField(),
		sessionID: opts.SessionID,
		focused:   PanelTasks,
	}
	d.updatePanelFocus()
	return d
}

// Init implements tea.Model.
func (d *Dashboard) Init() tea.Cmd {
	cmds := []tea.Cmd{d.load(), d.tick()}
	if d.opts.Emitter != nil {
		cmds = append(cmds, waitForEvent(d.opts.Emitter))
	}
	return tea.Batch(cmds...)
}

func (d *Dashboard) load() tea.Cmd {
	id, after := d.sessionID, d.logs.LastSeq()
	return func() tea.Msg {
		snap, err := d.source.Load(id, after)
		return SnapshotMsg{Snapshot: snap, Err: err}
	}
}

func (d *Dashboard) tick() tea.Cmd {
	return tea.Tick(d.opts.RefreshRate, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForEvent(em *events.Emitter) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-em.Events()
		if !ok {
			return emitterClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// Update implements tea.Model.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return d.handleKey(msg)

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.updatePanelSizes()

	case tickMsg:
		return d, tea.Batch(d.load(), d.tick())

	case SnapshotMsg:
		d.applySnapshot(msg)

	case EventMsg:
		d.logs.AddEvents([]events.Event{msg.Event})
		// Session state changes with every task event; refresh promptly.
		return d, tea.Batch(waitForEvent(d.opts.Emitter), d.load())

	case emitterClosedMsg:
		d.opts.Emitter = nil

	case FilterSubmittedMsg:
		d.logs.SetFilter(msg.Filter)
		d.stopFiltering()

	case FilterCancelledMsg:
		d.stopFiltering()

	default:
		if d.filtering {
			var cmd tea.Cmd
			d.filter, cmd = d.filter.Update(msg)
			return d, cmd
		}
	}
	return d, nil
}

func (d *Dashboard) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if d.filtering {
		var cmd tea.Cmd
		d.filter, cmd = d.filter.Update(msg)
		return d, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		d.quitting = true
		return d, tea.Quit
	case "/":
		d.filtering = true
		d.filter.SetValue(d.logs.filter)
		d.footer.SetFiltering(true)
		return d, d.filter.Focus()
	case "r":
		return d, d.load()
	case "tab":
		d.cycleSession(1)
		return d, d.load()
	case "shift+tab":
		d.cycleSession(-1)
		return d, d.load()
	case "left", "h":
		d.focused = PanelTasks
		d.updatePanelFocus()
		return d, nil
	case "right", "l":
		d.focused = PanelLogs
		d.updatePanelFocus()
		return d, nil
	}

	var cmd tea.Cmd
	switch d.focused {
	case PanelTasks:
		d.tasks, cmd = d.tasks.Update(msg)
	case PanelLogs:
		d.logs, cmd = d.logs.Update(msg)
	}
	return d, cmd
}

func (d *Dashboard) stopFiltering() {
	d.filtering = false
	d.filter.Blur()
	d.footer.SetFiltering(false)
}

func (d *Dashboard) cycleSession(step int) {
	n := len(d.snapshot.Sessions)
	if n == 0 {
		return
	}
	d.sessionIx = ((d.sessionIx+step)%n + n) % n
	d.sessionID = d.snapshot.Sessions[d.sessionIx].SessionID
}

func (d *Dashboard) applySnapshot(msg SnapshotMsg) {
	if msg.Err != nil {
		d.footer.SetMessage(msg.Err.Error(), true)
		return
	}
	snap := msg.Snapshot
	d.snapshot = snap
	d.sessionIx = 0
	if snap.Session != nil {
		d.sessionID = snap.Session.SessionID
		for i, s := range snap.Sessions {
			if s.SessionID == d.sessionID {
				d.sessionIx = i
				break
			}
		}
	}
	d.header.SetSession(snap.Session, snap.Progress, d.sessionIx, len(snap.Sessions))
	d.tasks.SetGraph(snap.Graph, snap.Session)
	d.logs.AddEvents(snap.Events)
	d.footer.SetTaskCounts(d.tasks.Counts())
	d.footer.SetMessage("", false)
}

func (d *Dashboard) updatePanelFocus() {
	d.tasks.SetFocused(d.focused == PanelTasks)
	d.logs.SetFocused(d.focused == PanelLogs)
}

func (d *Dashboard) updatePanelSizes() {
	d.header.SetWidth(d.width)
	d.footer.SetWidth(d.width)
	d.filter.SetWidth(d.width)

	body := d.height - d.header.Height() - 1 // footer
	if body < 4 {
		body = 4
	}
	left := d.width * 2 / 5
	d.tasks.SetSize(left, body)
	d.logs.SetSize(d.width-left, body)
}

// View implements tea.Model.
func (d *Dashboard) View() string {
	if d.quitting {
		return ""
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top, d.tasks.View(), d.logs.View())
	bottom := d.footer.View()
	if d.filtering {
		bottom = d.filter.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left, d.header.View(), body, bottom)
}

// Run starts the dashboard on the terminal and blocks until the user quits.
func Run(source Source, opts Options) error {
	p := tea.NewProgram(NewDashboard(source, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
