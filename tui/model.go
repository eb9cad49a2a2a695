// Package tui is the terminal dashboard: profiles with their live status,
// the traffic chart of the monitored connection and the connect controls.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/connection"
	"github.com/yllada/vpnrdp-manager/credential"
	"github.com/yllada/vpnrdp-manager/traffic"
)

// Controller is the orchestrator surface the dashboard drives.
type Controller interface {
	Connect(name string) error
	Disconnect(name string) error
	Cancel(name string) error
	Get(name string) (connection.Connection, bool)
	LastOutcome(name string) (connection.Connection, bool)
	ConnectedNames() []string
}

// Profiles lists the profile names to show.
type Profiles interface {
	Names() []string
}

// Traffic is the sampler surface used for the chart.
type Traffic interface {
	SetMonitored(name string)
	Monitored() string
	History() (in, out []uint64)
	ScaleMax() float64
	Latest() traffic.Sample
	Interval() time.Duration
}

// Deps holds all dependencies injected into the TUI.
type Deps struct {
	Controller Controller
	Profiles   Profiles
	Traffic    Traffic
	Statuses   <-chan connection.StatusEvent
	Samples    <-chan traffic.Sample
}

type promptState struct {
	req      credential.Request
	reply    chan<- promptReply
	input    textinput.Model
	remember bool
}

// Model is the root BubbleTea model.
type Model struct {
	ctl      Controller
	profiles Profiles
	traffic  Traffic
	statuses <-chan connection.StatusEvent
	samples  <-chan traffic.Sample

	width  int
	height int

	names    []string
	cursor   int
	showHelp bool
	help     help.Model

	prompt  *promptState
	pending []promptRequestMsg

	notification    string
	notificationErr bool
	notifVersion    int
}

// NewModel creates a new root Model.
func NewModel(deps Deps) *Model {
	m := &Model{
		ctl:      deps.Controller,
		profiles: deps.Profiles,
		traffic:  deps.Traffic,
		statuses: deps.Statuses,
		samples:  deps.Samples,
		help:     help.New(),
	}
	m.reloadNames()
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		waitForStatus(m.statuses),
		waitForSample(m.samples),
		tick(),
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	prevNotifVersion := m.notifVersion

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if m.prompt != nil {
			cmds = append(cmds, m.handlePromptKey(msg))
		} else if cmd := m.handleKey(msg); cmd != nil {
			cmds = append(cmds, cmd)
		}

	case statusMsg:
		m.reloadNames()
		m.notifyStatus(msg.event)
		cmds = append(cmds, waitForStatus(m.statuses))

	case sampleMsg:
		cmds = append(cmds, waitForSample(m.samples))

	case actionResultMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("%s %s failed: %v", msg.verb, msg.name, msg.err), true)
		}

	case promptRequestMsg:
		if m.prompt != nil {
			m.pending = append(m.pending, msg)
			break
		}
		m.prompt = newPromptState(msg)
		cmds = append(cmds, textinput.Blink)

	case promptDismissMsg:
		m.dismissPrompt(msg.reply)

	case tickMsg:
		cmds = append(cmds, tick())

	case clearNotificationMsg:
		if msg.version == m.notifVersion {
			m.notification = ""
			m.notificationErr = false
		}
	}

	if m.notifVersion > prevNotifVersion && m.notification != "" {
		cmds = append(cmds, clearNotification(4*time.Second, m.notifVersion))
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp

	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.names)-1 {
			m.cursor++
		}

	case key.Matches(msg, keys.Connect):
		if name := m.selected(); name != "" {
			return m.action("Connect", name, m.ctl.Connect)
		}

	case key.Matches(msg, keys.Disconnect):
		if name := m.selected(); name != "" {
			return m.action("Disconnect", name, m.ctl.Disconnect)
		}

	case key.Matches(msg, keys.Cancel):
		if name := m.selected(); name != "" {
			return m.action("Cancel", name, m.ctl.Cancel)
		}

	case key.Matches(msg, keys.Monitor):
		m.cycleMonitored()
	}
	return nil
}

// action runs a controller call off the update loop.
func (m *Model) action(verb, name string, fn func(string) error) tea.Cmd {
	return func() tea.Msg {
		return actionResultMsg{verb: verb, name: name, err: fn(name)}
	}
}

// cycleMonitored steps through auto and then each connected profile.
func (m *Model) cycleMonitored() {
	if m.traffic == nil {
		return
	}
	options := append([]string{""}, m.ctl.ConnectedNames()...)
	current := m.traffic.Monitored()

	next := options[0]
	for i, opt := range options {
		if opt == current {
			next = options[(i+1)%len(options)]
			break
		}
	}
	m.traffic.SetMonitored(next)

	if next == "" {
		m.setNotification("Monitoring: auto", false)
	} else {
		m.setNotification("Monitoring: "+next, false)
	}
}

func (m *Model) notifyStatus(ev connection.StatusEvent) {
	switch {
	case ev.Status == connection.StatusConnected:
		m.setNotification(ev.Message, false)
	case ev.Status.Failed():
		m.setNotification(ev.Message, ev.Status != connection.StatusCanceled)
	case ev.Status == connection.StatusDisconnected:
		m.setNotification(ev.Message, false)
	}
}

func (m *Model) reloadNames() {
	if m.profiles == nil {
		return
	}
	m.names = m.profiles.Names()
	if m.cursor >= len(m.names) {
		m.cursor = max(len(m.names)-1, 0)
	}
}

func (m *Model) selected() string {
	if m.cursor < 0 || m.cursor >= len(m.names) {
		return ""
	}
	return m.names[m.cursor]
}

func (m *Model) setNotification(text string, isErr bool) {
	m.notification = text
	m.notificationErr = isErr
	m.notifVersion++
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	parts := []string{m.viewHeader()}
	if m.notification != "" {
		if m.notificationErr {
			parts = append(parts, notifErrorStyle.Render("! "+m.notification))
		} else {
			parts = append(parts, notifSuccessStyle.Render("* "+m.notification))
		}
	}
	parts = append(parts, m.viewProfiles(), m.viewTraffic())
	if m.prompt != nil {
		parts = append(parts, m.viewPrompt())
	}
	if m.showHelp {
		parts = append(parts, helpBarStyle.Render(m.help.FullHelpView(keys.FullHelp())))
	} else {
		parts = append(parts, helpBarStyle.Render(m.help.ShortHelpView(keys.ShortHelp())))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *Model) viewHeader() string {
	connected := 0
	if m.ctl != nil {
		connected = len(m.ctl.ConnectedNames())
	}
	return logoStyle.Render(common.AppName) +
		dimStyle.Render(fmt.Sprintf("%d profiles, %d connected", len(m.names), connected))
}

func (m *Model) viewProfiles() string {
	if len(m.names) == 0 {
		return cardStyle.Render(dimStyle.Render("No profiles. Add one with \"vpnrdp add\"."))
	}

	rows := make([]string, 0, len(m.names))
	for i, name := range m.names {
		cursor := "  "
		if i == m.cursor {
			cursor = cursorStyle.Render("> ")
		}
		status, detail := m.describe(name)
		rows = append(rows, cursor+nameStyle.Render(name)+pillStyle(status).Render(status.String())+" "+dimStyle.Render(detail))
	}
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// describe returns the status and a one-line detail of a profile.
func (m *Model) describe(name string) (connection.Status, string) {
	if c, ok := m.ctl.Get(name); ok {
		if c.Status == connection.StatusConnected {
			return c.Status, "up " + formatDuration(c.Uptime())
		}
		return c.Status, c.Message
	}
	if c, ok := m.ctl.LastOutcome(name); ok && c.Status.Failed() {
		return c.Status, c.Message
	}
	return connection.StatusDisconnected, ""
}

func (m *Model) viewTraffic() string {
	if m.traffic == nil {
		return ""
	}

	monitored := m.traffic.Monitored()
	if monitored == "" {
		monitored = "auto"
	}
	in, out := m.traffic.History()
	scale := m.traffic.ScaleMax()
	width := max(m.width-14, 10)

	body := lipgloss.JoinVertical(lipgloss.Left,
		cardTitleStyle.Render("Traffic")+dimStyle.Render(" ("+monitored+")"),
		"In  "+inSparkStyle.Render(Sparkline(in, scale, width)),
		"Out "+outSparkStyle.Render(Sparkline(out, scale, width)),
		traffic.FormatSummary(m.traffic.Latest(), m.traffic.Interval()),
	)
	return cardStyle.Render(body)
}

func (m *Model) viewPrompt() string {
	remember := "[ ]"
	if m.prompt.remember {
		remember = "[x]"
	}
	return promptStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		cardTitleStyle.Render(m.prompt.req.Label()),
		m.prompt.input.View(),
		dimStyle.Render(remember+" remember (tab)   enter submit   esc cancel"),
	))
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the last width values scaled against scaleMax.
func Sparkline(values []uint64, scaleMax float64, width int) string {
	if width <= 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	if scaleMax <= 0 {
		scaleMax = common.DefaultScaleMax
	}

	var b strings.Builder
	top := len(sparkBlocks) - 1
	for _, v := range values {
		level := int(float64(v) / scaleMax * float64(top))
		b.WriteRune(sparkBlocks[min(max(level, 0), top)])
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// NewProgram creates a bubbletea program with alt screen. A non-nil
// prompter is attached so credential prompts appear inside the dashboard.
func NewProgram(deps Deps, prompter *Prompter) *tea.Program {
	p := tea.NewProgram(NewModel(deps), tea.WithAltScreen())
	if prompter != nil {
		prompter.Attach(p)
	}
	return p
}
