// Package tui implements the terminal dashboard shown by `sessiond
// top`: aggregate counts refreshed on a timer, plus a live feed of
// push events received from a connected Agent.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/localsession/sessiond/internal/agentclient"
	"github.com/localsession/sessiond/internal/protocol"
	"github.com/localsession/sessiond/internal/session"
	"github.com/localsession/sessiond/internal/storage"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	eventStyle = map[protocol.EventType]lipgloss.Style{
		protocol.EventNewMessage:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		protocol.EventSessionStart: lipgloss.NewStyle().Foreground(lipgloss.Color("#00BFFF")),
		protocol.EventSessionEnd:   lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")),
		protocol.EventHookEvent:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500")),
	}

	maxFeedLines = 200
)

const refreshInterval = 2 * time.Second

// Dashboard is the live view driven by `sessiond top`: it subscribes
// to every push event over an existing Agent connection and polls
// storage directly for aggregate counts (the Agent has no "get_stats"
// push of its own, so the dashboard reads that on its own timer).
type Dashboard struct {
	client *agentclient.Client
	store  *storage.Store
}

// NewDashboard wires a live client connection to a read-only storage
// handle over the same database the Agent writes to; WAL mode lets
// both coexist safely.
func NewDashboard(client *agentclient.Client, store *storage.Store) *Dashboard {
	return &Dashboard{client: client, store: store}
}

// Run subscribes to all event types and blocks until the user quits.
func (d *Dashboard) Run() error {
	if err := d.client.Subscribe([]protocol.EventType{
		protocol.EventNewMessage,
		protocol.EventSessionStart,
		protocol.EventSessionEnd,
		protocol.EventHookEvent,
	}); err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}

	m := initialModel(d.client, d.store)
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

type tickMsg struct{}

type pushMsg protocol.Push

type statsMsg struct {
	stats session.Stats
	err   error
}

// feedEntry pairs a formatted push line with its arrival time so the
// feed pane can render a relative age ("3s ago") that keeps advancing
// between pushes instead of freezing at insert time.
type feedEntry struct {
	at   time.Time
	text string
}

type model struct {
	client *agentclient.Client
	store  *storage.Store

	stats    session.Stats
	statsErr error
	entries  []feedEntry
	viewport viewport.Model
	width    int
	height   int
}

func initialModel(client *agentclient.Client, store *storage.Store) model {
	return model{client: client, store: store, viewport: viewport.New(0, 0)}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForPush(m.client.Pushes()), fetchStats(m.store), tickCmd())
}

func waitForPush(pushes <-chan protocol.Push) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-pushes
		if !ok {
			return nil
		}
		return pushMsg(p)
	}
}

func fetchStats(store *storage.Store) tea.Cmd {
	return func() tea.Msg {
		stats, err := store.GetStats()
		return statsMsg{stats: stats, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = m.width - 2
		m.viewport.Height = m.height - 6
		m.renderFeed()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tickMsg:
		m.renderFeed()
		return m, tea.Batch(fetchStats(m.store), tickCmd())

	case statsMsg:
		m.stats, m.statsErr = msg.stats, msg.err
		return m, nil

	case pushMsg:
		atBottom := m.viewport.AtBottom()
		m.entries = append(m.entries, feedEntry{at: time.Now(), text: formatPush(protocol.Push(msg))})
		if len(m.entries) > maxFeedLines {
			m.entries = m.entries[len(m.entries)-maxFeedLines:]
		}
		m.renderFeed()
		if atBottom {
			m.viewport.GotoBottom()
		}
		return m, waitForPush(m.client.Pushes())
	}

	return m, nil
}

func formatPush(p protocol.Push) string {
	style := eventStyle[p.Type]
	switch p.Type {
	case protocol.EventNewMessage:
		return fmt.Sprintf("%s session %s +%d message(s)", style.Render(p.Type.String()), p.SessionID, p.Count)
	case protocol.EventHookEvent:
		eventType := ""
		if p.HookEvent != nil {
			eventType = p.HookEvent.EventType
		}
		return fmt.Sprintf("%s %s (session %s)", style.Render(p.Type.String()), eventType, p.SessionID)
	default:
		return fmt.Sprintf("%s session %s", style.Render(p.Type.String()), p.SessionID)
	}
}

// renderFeed rebuilds the viewport content from m.entries, prefixing
// each line with its age so far rather than a fixed clock time — the
// age keeps advancing as the dashboard idles between pushes.
func (m *model) renderFeed() {
	lines := make([]string, len(m.entries))
	for i, e := range m.entries {
		lines[i] = fmt.Sprintf("%s  %s", humanize.Time(e.at), e.text)
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
}

func (m model) View() string {
	if m.width == 0 {
		return "\n  initializing...\n"
	}

	var header strings.Builder
	header.WriteString(titleStyle.Render("sessiond — live"))
	header.WriteString("\n")
	if m.statsErr != nil {
		header.WriteString(fmt.Sprintf("stats error: %v\n", m.statsErr))
	} else {
		header.WriteString(fmt.Sprintf("projects: %d   sessions: %d   messages: %d   db: %s\n",
			m.stats.ProjectCount, m.stats.SessionCount, m.stats.MessageCount,
			humanize.Bytes(uint64(m.stats.DatabaseSizeBytes))))
	}

	body := paneStyle.Width(m.width - 2).Height(m.viewport.Height).Render(m.viewport.View())
	help := helpStyle.Render("q: quit   ↑/↓: scroll")

	return header.String() + "\n" + body + "\n" + help
}
