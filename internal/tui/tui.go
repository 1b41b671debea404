// Package tui renders the companion host's terminal dashboard: the server
// status panel, the captured log stream and the start/stop controls.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dock108/aicli-companion/internal/logging"
	"github.com/dock108/aicli-companion/internal/supervisor"
)

// Controller is the subset of the supervisor the dashboard drives.
type Controller interface {
	Start(ctx context.Context, opts supervisor.StartOptions) (supervisor.ServerStatus, error)
	Stop(ctx context.Context, opts supervisor.StopOptions) error
	Status() supervisor.ServerStatus
	DetectRunning(ctx context.Context, port int) supervisor.ServerStatus
	Logs() []logging.Entry
	ClearLogs()
	SubscribeLogs(buffer int) (<-chan logging.Entry, func())
}

const (
	actionTimeout = 30 * time.Second
	refreshPeriod = 2 * time.Second
	logBuffer     = 256
)

type tickMsg time.Time

type logEntryMsg logging.Entry

// logsClosedMsg is sent once the subscription channel is closed.
type logsClosedMsg struct{}

type actionResultMsg struct {
	action string
	status supervisor.ServerStatus
	err    error
}

type detectResultMsg supervisor.ServerStatus

// Model is the bubbletea model for the dashboard.
type Model struct {
	ctrl      Controller
	startOpts supervisor.StartOptions
	localIP   string
	keys      KeyMap
	help      help.Model
	spinner   spinner.Model
	viewport  viewport.Model

	status  supervisor.ServerStatus
	entries []logging.Entry
	maxLogs int
	filter  Filter
	follow  bool

	busy     bool
	message  string
	msgError bool

	logs     <-chan logging.Entry
	width    int
	height   int
	ready    bool
	quitting bool
}

// NewModel builds the dashboard over ctrl. logs may be nil, in which case
// the log panel only shows the snapshot taken here.
func NewModel(ctrl Controller, opts Options, logs <-chan logging.Entry) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	maxLogs := opts.MaxLogEntries
	if maxLogs <= 0 {
		maxLogs = logging.DefaultMaxEntries
	}

	m := Model{
		ctrl:      ctrl,
		startOpts: opts.Start,
		localIP:   opts.LocalIP,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		spinner:   s,
		viewport:  viewport.New(80, 10),
		status:    ctrl.Status(),
		entries:   trimEntries(ctrl.Logs(), maxLogs),
		maxLogs:   maxLogs,
		follow:    true,
		logs:      logs,
		width:     80,
		height:    24,
	}
	m.refreshViewport()
	return m
}

func doTick() tea.Cmd {
	return tea.Tick(refreshPeriod, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForEntry(ch <-chan logging.Entry) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return logsClosedMsg{}
		}
		return logEntryMsg(e)
	}
}

func (m Model) startCmd() tea.Cmd {
	ctrl, opts := m.ctrl, m.startOpts
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		st, err := ctrl.Start(ctx, opts)
		return actionResultMsg{action: "start", status: st, err: err}
	}
}

func (m Model) stopCmd(force bool) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		err := ctrl.Stop(ctx, supervisor.StopOptions{ForceExternal: force})
		return actionResultMsg{action: "stop", status: ctrl.Status(), err: err}
	}
}

func (m Model) detectCmd() tea.Cmd {
	ctrl, port := m.ctrl, m.port()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return detectResultMsg(ctrl.DetectRunning(ctx, port))
	}
}

func (m Model) port() int {
	if m.startOpts.Port > 0 {
		return m.startOpts.Port
	}
	return m.status.Port
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, doTick(), waitForEntry(m.logs))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resize()
		return m, nil

	case tickMsg:
		if !m.busy {
			m.status = m.ctrl.Status()
		}
		return m, doTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case logEntryMsg:
		m.entries = append(m.entries, logging.Entry(msg))
		m.entries = trimEntries(m.entries, m.maxLogs)
		m.refreshViewport()
		return m, waitForEntry(m.logs)

	case logsClosedMsg:
		m.logs = nil
		return m, nil

	case actionResultMsg:
		m.busy = false
		m.status = msg.status
		if msg.err != nil {
			m.setMessage(fmt.Sprintf("Failed to %s: %v", msg.action, msg.err), true)
		} else if msg.action == "start" {
			m.setMessage(startMessage(msg.status), false)
		} else {
			m.setMessage("Server stopped", false)
		}
		return m, nil

	case detectResultMsg:
		m.busy = false
		m.status = supervisor.ServerStatus(msg)
		m.setMessage("Detected: "+ownership(m.status), false)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resize()
		return m, nil
	case key.Matches(msg, m.keys.Start):
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.setMessage("Starting server...", false)
		return m, m.startCmd()
	case key.Matches(msg, m.keys.Stop), key.Matches(msg, m.keys.ForceStop):
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.setMessage("Stopping server...", false)
		return m, m.stopCmd(key.Matches(msg, m.keys.ForceStop))
	case key.Matches(msg, m.keys.Detect):
		if m.busy {
			return m, nil
		}
		m.busy = true
		return m, m.detectCmd()
	case key.Matches(msg, m.keys.Clear):
		m.ctrl.ClearLogs()
		m.entries = nil
		m.refreshViewport()
		m.setMessage("Logs cleared", false)
		return m, nil
	case key.Matches(msg, m.keys.Filter):
		m.filter = m.filter.Next()
		m.refreshViewport()
		return m, nil
	case key.Matches(msg, m.keys.Follow):
		m.follow = !m.follow
		if m.follow {
			m.viewport.GotoBottom()
		}
		return m, nil
	case key.Matches(msg, m.keys.Up):
		m.follow = false
		m.viewport.LineUp(1)
		return m, nil
	case key.Matches(msg, m.keys.Down):
		m.viewport.LineDown(1)
		if m.viewport.AtBottom() {
			m.follow = true
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) setMessage(text string, isErr bool) {
	m.message = text
	m.msgError = isErr
}

// chromeHeight is the number of rows used by everything except the log text.
func (m Model) chromeHeight() int {
	h := lipgloss.Height(m.renderHeader()) + lipgloss.Height(m.renderStatus()) + 2
	h += lipgloss.Height(m.help.View(m.keys))
	return h + 2 // log box border
}

func (m *Model) resize() {
	m.help.Width = m.width
	w := m.width - 2
	if w < 20 {
		w = 20
	}
	h := m.height - m.chromeHeight()
	if h < 3 {
		h = 3
	}
	m.viewport.Width = w
	m.viewport.Height = h
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	m.viewport.SetContent(renderLogLines(m.filter.Apply(m.entries), m.viewport.Width))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.renderMessage())
	b.WriteString("\n")
	b.WriteString(LogBoxStyle.Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(m.help.View(m.keys)))
	return b.String()
}

func (m Model) renderHeader() string {
	title := TitleStyle.Render("AICLI Companion Host")
	filter := MutedBadge.Render("logs: " + m.filter.String())
	follow := ""
	if !m.follow {
		follow = " " + WarningBadge.Render("PAUSED")
	}
	return title + "  " + filter + follow
}

func (m Model) renderStatus() string {
	var badge string
	switch {
	case !m.status.Running:
		badge = ErrorBadge.Render("STOPPED")
	case m.status.External:
		badge = WarningBadge.Render("EXTERNAL")
	default:
		badge = SuccessBadge.Render("RUNNING")
	}
	if m.busy {
		badge += " " + m.spinner.View()
	}

	pid := "-"
	if m.status.PID != nil {
		pid = strconv.Itoa(*m.status.PID)
	}
	address := "-"
	if m.localIP != "" {
		address = fmt.Sprintf("%s:%d", m.localIP, m.status.Port)
	}

	rows := []string{
		row("Status", badge),
		row("Port", strconv.Itoa(m.status.Port)),
		row("PID", pid),
		row("Health", m.status.HealthURL),
		row("Address", address),
	}
	return BoxStyle.Render(strings.Join(rows, "\n"))
}

func row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

func (m Model) renderMessage() string {
	if m.message == "" {
		return ""
	}
	if m.msgError {
		return Error(m.message)
	}
	return Success(m.message)
}

func startMessage(st supervisor.ServerStatus) string {
	if st.External {
		return fmt.Sprintf("Adopted external server on port %d", st.Port)
	}
	if st.PID != nil {
		return fmt.Sprintf("Server started on port %d (PID: %d)", st.Port, *st.PID)
	}
	return fmt.Sprintf("Server started on port %d", st.Port)
}

func ownership(st supervisor.ServerStatus) string {
	switch {
	case !st.Running:
		return "not running"
	case st.External:
		return "external"
	default:
		return "managed"
	}
}
