// Package tray is the system tray indicator: an icon reflecting the
// overall connection state and a menu to connect, disconnect and quit.
package tray

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"fyne.io/systray"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/connection"
)

// Controller is the orchestrator surface the tray drives.
type Controller interface {
	Connect(name string) error
	Disconnect(name string) error
	Cancel(name string) error
	DisconnectAll() error
	Get(name string) (connection.Connection, bool)
	LastOutcome(name string) (connection.Connection, bool)
	List() []connection.Connection
}

// Profiles lists the profile names to offer.
type Profiles interface {
	Names() []string
}

// Deps holds the indicator's collaborators.
type Deps struct {
	Controller Controller
	Profiles   Profiles
	Statuses   <-chan connection.StatusEvent
	// OnQuit runs on the tray goroutine before the indicator exits.
	OnQuit func()
}

// Indicator manages the system tray icon and menu.
type Indicator struct {
	deps Deps

	mu          sync.Mutex
	statusItem  *systray.MenuItem
	uptimeItem  *systray.MenuItem
	disconnect  *systray.MenuItem
	items       map[string]*systray.MenuItem
	lastFailure string

	stop chan struct{}
}

// New creates an indicator.
func New(deps Deps) *Indicator {
	return &Indicator{
		deps:  deps,
		items: make(map[string]*systray.MenuItem),
		stop:  make(chan struct{}),
	}
}

// Run shows the indicator and blocks until Quit is chosen.
func (t *Indicator) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the indicator from another goroutine.
func (t *Indicator) Quit() {
	systray.Quit()
}

func (t *Indicator) onReady() {
	systray.SetIcon(Icon(StateDisconnected))
	systray.SetTitle(common.AppName)
	systray.SetTooltip(common.AppName + " - Disconnected")

	t.statusItem = systray.AddMenuItem("○  Not Connected", "Current connection status")
	t.statusItem.Disable()
	t.uptimeItem = systray.AddMenuItem("", "Connection duration")
	t.uptimeItem.Disable()
	t.uptimeItem.Hide()

	t.disconnect = systray.AddMenuItem("⏹  Disconnect All", "Disconnect every connection")
	t.disconnect.Hide()
	go func() {
		for range t.disconnect.ClickedCh {
			if err := t.deps.Controller.DisconnectAll(); err != nil {
				common.LogWarn("Tray: disconnect all failed: %v", err)
			}
		}
	}()

	systray.AddSeparator()
	header := systray.AddMenuItem("── Profiles ──", "")
	header.Disable()
	for _, name := range t.deps.Profiles.Names() {
		t.addProfile(name)
	}

	systray.AddSeparator()
	quit := systray.AddMenuItem("Quit", "Disconnect and close "+common.AppName)
	go func() {
		<-quit.ClickedCh
		systray.Quit()
	}()

	go t.watch()
	t.refresh()
}

func (t *Indicator) onExit() {
	close(t.stop)
	if t.deps.OnQuit != nil {
		t.deps.OnQuit()
	}
	common.LogInfo("Tray indicator cleanup completed")
}

func (t *Indicator) addProfile(name string) {
	item := systray.AddMenuItem(name, "Connect to "+name)
	t.mu.Lock()
	t.items[name] = item
	t.mu.Unlock()

	go func() {
		for range item.ClickedCh {
			t.toggle(name)
		}
	}()
}

// toggle connects an idle profile, cancels an attempt in flight and
// disconnects an established connection.
func (t *Indicator) toggle(name string) {
	status := connection.StatusDisconnected
	if c, ok := t.deps.Controller.Get(name); ok {
		status = c.Status
	}

	var err error
	switch clickAction(status) {
	case actionConnect:
		err = t.deps.Controller.Connect(name)
	case actionCancel:
		err = t.deps.Controller.Cancel(name)
	case actionDisconnect:
		err = t.deps.Controller.Disconnect(name)
	}
	if err != nil {
		common.LogWarn("Tray: %s: %v", name, err)
	}
}

// watch follows status events and refreshes the uptime once a second.
func (t *Indicator) watch() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	statuses := t.deps.Statuses
	for {
		select {
		case <-t.stop:
			return
		case ev, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			t.mu.Lock()
			switch {
			case ev.Status.Failed() && ev.Status != connection.StatusCanceled:
				t.lastFailure = ev.Message
			case ev.Status.Active():
				t.lastFailure = ""
			}
			t.mu.Unlock()
			t.refresh()
		case <-ticker.C:
			t.refreshUptime()
		}
	}
}

func (t *Indicator) refresh() {
	conns := t.deps.Controller.List()

	t.mu.Lock()
	lastFailure := t.lastFailure
	items := make(map[string]*systray.MenuItem, len(t.items))
	for k, v := range t.items {
		items[k] = v
	}
	t.mu.Unlock()

	s := summarize(conns, lastFailure)
	systray.SetIcon(Icon(s.state))
	systray.SetTooltip(common.AppName + " - " + s.tooltip)
	t.statusItem.SetTitle(s.title)
	if s.active > 0 {
		t.disconnect.Show()
	} else {
		t.disconnect.Hide()
	}

	byName := make(map[string]connection.Status, len(conns))
	for _, c := range conns {
		byName[c.Profile] = c.Status
	}
	for name, item := range items {
		status, ok := byName[name]
		if !ok {
			status = connection.StatusDisconnected
		}
		item.SetTitle(itemTitle(name, status))
	}
	t.refreshUptime()
}

func (t *Indicator) refreshUptime() {
	var longest time.Duration
	for _, c := range t.deps.Controller.List() {
		longest = max(longest, c.Uptime())
	}
	if longest == 0 {
		t.uptimeItem.Hide()
		return
	}
	t.uptimeItem.SetTitle("    ⏱ Uptime: " + formatUptime(longest))
	t.uptimeItem.Show()
}

type action int

const (
	actionConnect action = iota
	actionCancel
	actionDisconnect
)

func clickAction(s connection.Status) action {
	switch {
	case s == connection.StatusConnected:
		return actionDisconnect
	case s.Active():
		return actionCancel
	default:
		return actionConnect
	}
}

func itemTitle(name string, s connection.Status) string {
	switch {
	case s == connection.StatusConnected:
		return "●  " + name
	case s.Active():
		return "⟳  " + name + " (" + s.String() + ")"
	default:
		return "○  " + name
	}
}

type summary struct {
	state   State
	title   string
	tooltip string
	active  int
}

// summarize derives the icon state and status line from the active
// connections and the message of the last failed attempt.
func summarize(conns []connection.Connection, lastFailure string) summary {
	var connected, connecting []string
	for _, c := range conns {
		switch {
		case c.Status == connection.StatusConnected:
			connected = append(connected, c.Profile)
		case c.Status.Active():
			connecting = append(connecting, c.Profile)
		}
	}

	s := summary{active: len(connected) + len(connecting)}
	switch {
	case len(connecting) > 0:
		s.state = StateConnecting
		s.title = "⟳  Connecting: " + strings.Join(connecting, ", ")
		s.tooltip = "Connecting to " + strings.Join(connecting, ", ") + "..."
	case len(connected) > 0:
		s.state = StateConnected
		s.title = "●  Connected: " + strings.Join(connected, ", ")
		s.tooltip = "Connected to " + strings.Join(connected, ", ")
	case lastFailure != "":
		s.state = StateFailed
		s.title = "✕  " + lastFailure
		s.tooltip = lastFailure
	default:
		s.state = StateDisconnected
		s.title = "○  Not Connected"
		s.tooltip = "Disconnected"
	}
	return s
}

func formatUptime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
