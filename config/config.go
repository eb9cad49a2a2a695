// Package config provides configuration management for VPN+RDP Manager.
// It handles loading, saving, and validating application settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpnrdp-manager/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// VPNBinary is the OpenVPN 3 command line client.
	VPNBinary string `yaml:"vpn_binary"`
	// RDPBinaries lists FreeRDP client names, first found wins.
	RDPBinaries []string `yaml:"rdp_binaries"`

	// VPNStartTimeout bounds session-start.
	VPNStartTimeout time.Duration `yaml:"vpn_start_timeout"`
	// VPNStopTimeout bounds session-manage --disconnect.
	VPNStopTimeout time.Duration `yaml:"vpn_stop_timeout"`
	// StatsTimeout bounds session-stats.
	StatsTimeout time.Duration `yaml:"stats_timeout"`
	// StabilizeDelay is the wait between VPN up and RDP launch.
	StabilizeDelay time.Duration `yaml:"stabilize_delay"`
	// RDPGraceWindow is how long the RDP client must stay alive after launch.
	RDPGraceWindow time.Duration `yaml:"rdp_grace_window"`
	// RDPStopGrace is how long the RDP client gets to exit before SIGKILL.
	RDPStopGrace time.Duration `yaml:"rdp_stop_grace"`
	// ReconcileInterval is the process liveness polling interval.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	// SampleInterval is the traffic sampling interval.
	SampleInterval time.Duration `yaml:"sample_interval"`
	// HistoryPoints is the length of the traffic chart window.
	HistoryPoints int `yaml:"history_points"`

	// IgnoreCertificate passes /cert:ignore to the RDP client.
	IgnoreCertificate bool `yaml:"ignore_certificate"`
	// ShowNotifications enables desktop notifications for connection events.
	ShowNotifications bool `yaml:"show_notifications"`
	// RecordHistory keeps a SQLite log of connection sessions.
	RecordHistory bool `yaml:"record_history"`
	// APIListen is the loopback address of the status API, empty disables it.
	APIListen string `yaml:"api_listen"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		VPNBinary:         common.VPNBinary,
		RDPBinaries:       append([]string(nil), common.RDPBinaries...),
		VPNStartTimeout:   common.VPNStartTimeout,
		VPNStopTimeout:    common.VPNStopTimeout,
		StatsTimeout:      common.StatsTimeout,
		StabilizeDelay:    common.StabilizeDelay,
		RDPGraceWindow:    common.RDPGraceWindow,
		RDPStopGrace:      common.RDPStopGrace,
		ReconcileInterval: common.ReconcileInterval,
		SampleInterval:    common.SampleInterval,
		HistoryPoints:     common.HistoryPoints,
		IgnoreCertificate: true,
		ShowNotifications: true,
		RecordHistory:     true,
		APIListen:         common.DefaultAPIListen,
		LogLevel:          "info",
	}
}

// DefaultPath returns ~/.config/vpnrdp/config.yaml.
func DefaultPath() (string, error) {
	return common.ConfigPath(common.ConfigFileName)
}

// Load loads the configuration from the default path.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration at path.
// If the file doesn't exist, it is created with default values.
func LoadFrom(path string) (*Config, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(path); err != nil {
			return cfg, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	cfg := DefaultConfig()
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", common.ErrConfigLoad, path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize replaces out-of-range values with defaults.
func (c *Config) normalize() {
	def := DefaultConfig()

	if c.VPNBinary == "" {
		c.VPNBinary = def.VPNBinary
	}
	if len(c.RDPBinaries) == 0 {
		c.RDPBinaries = def.RDPBinaries
	}

	durations := []struct {
		value    *time.Duration
		fallback time.Duration
	}{
		{&c.VPNStartTimeout, def.VPNStartTimeout},
		{&c.VPNStopTimeout, def.VPNStopTimeout},
		{&c.StatsTimeout, def.StatsTimeout},
		{&c.StabilizeDelay, def.StabilizeDelay},
		{&c.RDPGraceWindow, def.RDPGraceWindow},
		{&c.RDPStopGrace, def.RDPStopGrace},
		{&c.ReconcileInterval, def.ReconcileInterval},
		{&c.SampleInterval, def.SampleInterval},
	}
	for _, d := range durations {
		if *d.value <= 0 {
			common.LogWarn("Invalid duration %v in config, using %v", *d.value, d.fallback)
			*d.value = d.fallback
		}
	}

	if c.HistoryPoints < 2 {
		c.HistoryPoints = def.HistoryPoints
	}

	switch common.ParseLevel(c.LogLevel) {
	case common.LevelDebug:
		c.LogLevel = "debug"
	case common.LevelWarn:
		c.LogLevel = "warn"
	case common.LevelError:
		c.LogLevel = "error"
	default:
		c.LogLevel = "info"
	}
}

// Save saves the configuration to the default path.
func (c *Config) Save() error {
	path, err := DefaultPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration to path with owner-only permissions.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	if err := common.WriteFilePrivate(path, data); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}
	return nil
}
