package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/typepool/internal/events"
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	ctx    context.Context
	apiURL string
	source string

	width  int
	height int

	tracker  *events.Tracker
	eventLog []events.Event
	table    table.Model

	ticker  Ticker
	spinner Spinner
	theme   Theme

	hubEvents  chan events.Event
	local      <-chan events.Event
	connected  bool
	stopped    bool
	quitOnStop bool
	lastError  string
}

// NewLocal watches a subscription to an in-process hub. When quitOnStop is set the program
// exits once the pool reports it has stopped or the subscription closes.
func NewLocal(sub <-chan events.Event, quitOnStop bool) *Model {
	m := newModel(context.Background(), "local")
	m.local = sub
	m.connected = true
	m.quitOnStop = quitOnStop
	return m
}

// NewRemote watches the status API at apiURL (for example http://127.0.0.1:8089).
func NewRemote(ctx context.Context, apiURL string) *Model {
	m := newModel(ctx, apiURL)
	m.apiURL = strings.TrimRight(apiURL, "/")
	m.hubEvents = make(chan events.Event, 100)
	return m
}

func newModel(ctx context.Context, source string) *Model {
	return &Model{
		ctx:     ctx,
		source:  source,
		tracker: events.NewTracker(),
		table:   newWorkerTable(),
		ticker:  NewTicker(),
		theme:   NewDefaultTheme(),
	}
}

// Snapshot is the folded state the model is currently rendering.
func (m Model) Snapshot() events.Snapshot {
	return m.tracker.Snapshot()
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	}
	if m.local != nil {
		cmds = append(cmds, receiveNextEvent(m.local))
	} else {
		cmds = append(cmds,
			subscribeToEvents(m.ctx, m.apiURL, 0, m.hubEvents),
			receiveNextEvent(m.hubEvents),
			func() tea.Msg { return fetchHealth(m.apiURL) },
		)
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		next := receiveNextEvent(m.events())

		// Replays after a reconnect can repeat what was already folded.
		if e.ID != 0 && e.ID <= m.tracker.Snapshot().LastEvent {
			return m, next
		}

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > 50 {
			m.eventLog = m.eventLog[:50]
		}
		m.spinner.OnEvent(time.Now())
		m.tracker.Apply(e)
		m.table.SetRows(workerRows(m.tracker.Snapshot().Workers, m.theme))
		m.connected = true
		m.lastError = ""

		if e.Type == events.PoolStopped {
			m.stopped = true
			if m.quitOnStop {
				return m, tea.Quit
			}
		}
		return m, next

	case sourceClosedMsg:
		m.stopped = true
		if m.quitOnStop {
			return m, tea.Quit
		}
		return m, nil

	case healthMsg:
		m.connected = true
		m.lastError = ""
		if msg.Status != "" && msg.Status != "ok" {
			m.lastError = "status API reports " + msg.Status
		}
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		if m.ctx.Err() != nil {
			return m, nil
		}
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.ctx, m.apiURL, m.tracker.Snapshot().LastEvent, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		if m.apiURL == "" {
			return m, nil
		}
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) events() <-chan events.Event {
	if m.local != nil {
		return m.local
	}
	return m.hubEvents
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing watch..."
	}

	snap := m.tracker.Snapshot()
	header := renderHeader(snap, m.source, m.connected, m.ticker, m.spinner, m.theme, m.width)
	workers := renderWorkers(m.table, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.Fault.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	helpText := " [q] Quit • [↑/↓] Scroll Workers"
	if !m.stopped && m.local != nil {
		helpText = " [q] Stop dispatching and quit • [↑/↓] Scroll Workers"
	}
	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(helpText)

	parts := []string{header, workers, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
