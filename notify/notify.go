// Package notify shows desktop notifications for connection events over
// the freedesktop notification D-Bus interface.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/connection"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
	notifyCall = busName + ".Notify"
)

// Kind represents the type of notification.
type Kind int

const (
	KindInfo Kind = iota
	KindSuccess
	KindWarning
	KindError
)

// Notification represents a desktop notification.
type Notification struct {
	Title   string
	Message string
	Kind    Kind
	Icon    string
}

// icon returns the explicit icon or a default for the kind.
func (n Notification) icon() string {
	if n.Icon != "" {
		return n.Icon
	}
	switch n.Kind {
	case KindWarning:
		return "dialog-warning"
	case KindError:
		return "dialog-error"
	default:
		return "network-vpn"
	}
}

// urgency maps the kind onto the notification low/normal/critical byte.
func (n Notification) urgency() byte {
	switch n.Kind {
	case KindError:
		return 2
	case KindWarning:
		return 1
	default:
		return 0
	}
}

// Sender delivers notifications.
type Sender interface {
	Send(n Notification) error
}

// Notifier talks to the notification daemon on the session bus.
type Notifier struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// NewNotifier connects to the session bus.
func NewNotifier() (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &Notifier{
		conn: conn,
		obj:  conn.Object(busName, dbus.ObjectPath(objectPath)),
	}, nil
}

// Send shows n and returns once the daemon accepted it.
func (s *Notifier) Send(n Notification) error {
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(n.urgency()),
	}
	call := s.obj.Call(notifyCall, 0,
		common.AppName, // app_name
		uint32(0),      // replaces_id
		n.icon(),
		n.Title,
		n.Message,
		[]string{}, // actions
		hints,
		int32(-1), // default timeout
	)
	if call.Err != nil {
		return fmt.Errorf("notification failed: %w", call.Err)
	}
	return nil
}

// Close closes the bus connection.
func (s *Notifier) Close() error {
	return s.conn.Close()
}

// ForEvent returns the notification for a status event, if it deserves one.
func ForEvent(ev connection.StatusEvent) (Notification, bool) {
	switch ev.Status {
	case connection.StatusConnected:
		return Notification{Title: "Connected", Message: "Connected to " + ev.Profile, Kind: KindSuccess}, true
	case connection.StatusDisconnected:
		return Notification{Title: "Disconnected", Message: ev.Message, Kind: KindInfo, Icon: "network-offline"}, true
	case connection.StatusVPNFailed, connection.StatusRDPFailed, connection.StatusError:
		return Notification{Title: "Connection failed", Message: ev.Message, Kind: KindError}, true
	case connection.StatusCanceled:
		return Notification{Title: "Connection canceled", Message: ev.Message, Kind: KindWarning}, true
	}
	return Notification{}, false
}

// Listener turns status events into notifications.
type Listener struct {
	sender Sender

	mu      sync.Mutex
	enabled bool
	warned  bool
}

// NewListener creates a listener. A nil sender disables it.
func NewListener(sender Sender, enabled bool) *Listener {
	return &Listener{sender: sender, enabled: enabled && sender != nil}
}

// SetEnabled toggles delivery.
func (l *Listener) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled && l.sender != nil
}

// Handle notifies for one event.
func (l *Listener) Handle(ev connection.StatusEvent) {
	l.mu.Lock()
	enabled := l.enabled
	l.mu.Unlock()
	if !enabled {
		return
	}

	n, ok := ForEvent(ev)
	if !ok {
		return
	}
	if err := l.sender.Send(n); err != nil {
		l.mu.Lock()
		first := !l.warned
		l.warned = true
		l.mu.Unlock()
		if first {
			common.LogWarn("Desktop notifications unavailable: %v", err)
		}
	}
}

// Run handles events until ctx is done or events is closed.
func (l *Listener) Run(ctx context.Context, events <-chan connection.StatusEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			l.Handle(ev)
		}
	}
}
