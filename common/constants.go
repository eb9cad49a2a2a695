// Package common provides shared constants, types, and utilities
// used across the VPN+RDP Manager application.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "com.vpnrdp.manager"
	// AppName is the display name of the application.
	AppName = "VPN+RDP Manager"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "vpnrdp"
	// VaultService is the namespace under which secrets are kept in the vault.
	VaultService = "vpnrdp"
)

// File names used by the application.
const (
	ProfilesFileName    = "connections.json"
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	HistoryFileName     = "history.db"
	LogFileName         = "vpnrdp.log"
	// APITokenFileName holds the running instance's status API token.
	APITokenFileName = "api.token"
)

// Orchestration timings.
const (
	// VPNStartTimeout bounds the wait for the VPN client to report a session.
	VPNStartTimeout = 30 * time.Second
	// VPNStopTimeout bounds the VPN disconnect command.
	VPNStopTimeout = 5 * time.Second
	// StatsTimeout bounds a single traffic counter query.
	StatsTimeout = 5 * time.Second
	// StabilizeDelay is the pause between VPN up and RDP launch.
	StabilizeDelay = 3 * time.Second
	// RDPGraceWindow is how long a fresh RDP client must survive to count as started.
	RDPGraceWindow = 2 * time.Second
	// RDPStopGrace is how long a terminated RDP client gets before it is killed.
	RDPStopGrace = 5 * time.Second
	// ReconcileInterval is how often process liveness is checked.
	ReconcileInterval = 2 * time.Second
	// SampleInterval is how often traffic counters are sampled.
	SampleInterval = 2 * time.Second
)

// Traffic chart defaults.
const (
	// HistoryPoints is the capacity of each traffic ring buffer.
	HistoryPoints = 60
	// ScaleHeadroom pads the chart maximum above the highest observed rate.
	ScaleHeadroom = 1.2
	// DefaultScaleMax is the chart maximum before any traffic is seen.
	DefaultScaleMax = 1000.0
)

// Default binaries.
const (
	VPNBinary          = "openvpn3"
	MonitorQueryBinary = "xrandr"
)

// RDPBinaries lists the FreeRDP client names in order of preference.
var RDPBinaries = []string{"xfreerdp3", "xfreerdp"}

// DefaultAPIListen is the loopback address of the local status API.
const DefaultAPIListen = "127.0.0.1:47615"
