package connection

import (
	"fmt"
	"time"
)

// Status is the state of one profile's connection.
type Status int

const (
	// StatusDisconnected means no active connection exists.
	StatusDisconnected Status = iota
	// StatusConnectingVPN means the VPN session is being started.
	StatusConnectingVPN
	// StatusVPNUp means the VPN is up and the tunnel is settling.
	StatusVPNUp
	// StatusConnectingRDP means the RDP client is being launched.
	StatusConnectingRDP
	// StatusConnected means both the VPN session and RDP client are running.
	StatusConnected
	// StatusVPNFailed means the VPN session could not be started.
	StatusVPNFailed
	// StatusRDPFailed means the RDP client failed and the VPN was unwound.
	StatusRDPFailed
	// StatusCanceled means the attempt was canceled before completion.
	StatusCanceled
	// StatusError means the attempt failed unexpectedly.
	StatusError
)

var statusNames = map[Status]string{
	StatusDisconnected:  "Disconnected",
	StatusConnectingVPN: "Connecting VPN",
	StatusVPNUp:         "VPN Up",
	StatusConnectingRDP: "Connecting RDP",
	StatusConnected:     "Connected",
	StatusVPNFailed:     "VPN Failed",
	StatusRDPFailed:     "RDP Failed",
	StatusCanceled:      "Canceled",
	StatusError:         "Error",
}

// String returns a human-readable representation of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for st, name := range statusNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown connection status %q", text)
}

// Active reports whether a connection in this status occupies its profile:
// an attempt in flight or an established session.
func (s Status) Active() bool {
	switch s {
	case StatusConnectingVPN, StatusVPNUp, StatusConnectingRDP, StatusConnected:
		return true
	}
	return false
}

// Failed reports whether the status is one of the failure exits.
func (s Status) Failed() bool {
	switch s {
	case StatusVPNFailed, StatusRDPFailed, StatusCanceled, StatusError:
		return true
	}
	return false
}

// Connection is a snapshot of one profile's connection.
type Connection struct {
	Profile     string    `json:"profile"`
	AttemptID   string    `json:"attempt_id"`
	Status      Status    `json:"status"`
	VPNSession  string    `json:"vpn_session,omitempty"`
	RDPPid      int       `json:"rdp_pid,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	Message     string    `json:"message,omitempty"`
}

// Uptime returns how long the connection has been established.
func (c Connection) Uptime() time.Duration {
	if c.Status != StatusConnected || c.ConnectedAt.IsZero() {
		return 0
	}
	return time.Since(c.ConnectedAt).Truncate(time.Second)
}

// StatusEvent is pushed on every transition.
type StatusEvent struct {
	Profile    string    `json:"profile"`
	AttemptID  string    `json:"attempt_id"`
	Status     Status    `json:"status"`
	Message    string    `json:"message"`
	VPNSession string    `json:"vpn_session,omitempty"`
	Time       time.Time `json:"time"`
}
