package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/facegate/internal/events"
	"github.com/mattjoyce/facegate/internal/supervisor"
)

const (
	maxEventLog    = 50
	healthInterval = 5 * time.Second
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	baseURL string

	width  int
	height int

	health   HealthState
	workers  []supervisor.WorkerInfo
	eventLog []events.Event
	activity Activity

	// fetching is set while a healthz request is outstanding.
	fetching bool

	table     table.Model
	theme     Theme
	hubEvents chan events.Event
	lastError string
}

// New creates a watch model for the gateway at baseURL.
func New(baseURL string) *Model {
	return &Model{
		baseURL:   baseURL,
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		table:     newWorkerTable(),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.baseURL, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return tickMsg(time.Now()) },
		tea.EnterAltScreen,
	)
}

// refreshHealth starts a healthz request unless one is outstanding.
func (m *Model) refreshHealth() tea.Cmd {
	if m.fetching {
		return nil
	}
	m.fetching = true
	m.health.LastCheck = time.Now()
	baseURL := m.baseURL
	return func() tea.Msg { return fetchHealth(baseURL) }
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		now := time.Time(msg)
		m.activity.Decay(now)
		m.table.SetRows(workerRows(m.workers, now))
		cmds := []tea.Cmd{tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })}
		if now.Sub(m.health.LastCheck) >= healthInterval {
			cmds = append(cmds, m.refreshHealth())
		}
		return m, tea.Batch(cmds...)

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.activity.OnEvent(time.Now())
		m.health.Connected = true
		m.lastError = ""

		// Worker and session transitions change what healthz reports.
		refresh := m.refreshHealth()
		return m, tea.Batch(receiveNextEvent(m.hubEvents), refresh)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Sessions = msg.Sessions
		m.health.Connected = true
		m.fetching = false
		m.workers = msg.Workers
		m.table.SetRows(workerRows(m.workers, time.Now()))
		m.lastError = ""

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.baseURL, m.hubEvents)

	case errMsg:
		m.health.Connected = false
		m.fetching = false
		m.lastError = msg.Error()
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to " + m.baseURL + "..."
	}

	parts := []string{
		renderHeader(m.health, m.activity, m.theme, m.width, time.Now()),
		renderWorkers(m.table, len(m.workers), m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ! %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit  [up/down] Select worker"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
