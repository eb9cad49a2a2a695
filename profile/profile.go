// Package profile holds the named VPN+RDP connection profiles and their
// JSON-file persistence.
package profile

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/yllada/vpnrdp-manager/common"
)

// AudioMode selects where remote audio is played.
type AudioMode string

const (
	// AudioLocal redirects remote audio to this machine.
	AudioLocal AudioMode = "local"
	// AudioRemote leaves audio playing on the remote host.
	AudioRemote AudioMode = "remote"
	// AudioDisabled turns audio off.
	AudioDisabled AudioMode = "disabled"
)

// Valid reports whether m is one of the three known modes.
func (m AudioMode) Valid() bool {
	switch m {
	case AudioLocal, AudioRemote, AudioDisabled:
		return true
	}
	return false
}

// DefaultResolution is used for windowed sessions with no resolution set.
const DefaultResolution = "1920x1080"

var resolutionPattern = regexp.MustCompile(`^\d+x\d+$`)

// Profile is one named VPN+RDP connection.
type Profile struct {
	// Name is the unique key of the profile.
	Name string `json:"name"`

	// VPNConfig is the OpenVPN 3 configuration file path.
	VPNConfig string `json:"vpn_config"`
	// VPNUsername is sent on the first line of the VPN client's stdin.
	VPNUsername string `json:"vpn_username"`

	RDPHost     string `json:"rdp_host"`
	RDPUsername string `json:"rdp_username"`
	RDPDomain   string `json:"rdp_domain,omitempty"`

	// Display.
	Fullscreen bool   `json:"rdp_fullscreen"`
	Resolution string `json:"rdp_resolution,omitempty"`
	Multimon   bool   `json:"multimon"`
	// Monitors are xrandr indices passed to /monitors when Multimon is set.
	Monitors []int `json:"selected_monitors,omitempty"`

	// Performance. The file keys predate the field names: "disable_fonts"
	// set means +fonts and "disable_aero" set means +aero.
	FontSmoothing      bool `json:"disable_fonts"`
	DisableWallpaper   bool `json:"disable_wallpaper"`
	DisableThemes      bool `json:"disable_themes"`
	DesktopComposition bool `json:"disable_aero"`
	DisableWindowDrag  bool `json:"disable_drag"`
	Compression        bool `json:"compression"`

	AudioMode      AudioMode `json:"audio_mode"`
	Clipboard      bool      `json:"clipboard"`
	RedirectDrives bool      `json:"redirect_drives"`
	// NLA selects network level authentication; false falls back to RDP security.
	NLA bool `json:"nla"`
}

// New returns a profile with the same defaults the connection dialog offers.
func New(name string) Profile {
	return Profile{
		Name:               name,
		Fullscreen:         true,
		Resolution:         DefaultResolution,
		FontSmoothing:      true,
		DisableWallpaper:   true,
		DisableThemes:      true,
		DesktopComposition: true,
		Compression:        true,
		AudioMode:          AudioLocal,
		Clipboard:          true,
		NLA:                true,
	}
}

// Validate checks if the profile has all required fields.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", common.ErrInvalidProfile)
	}
	if p.VPNConfig == "" {
		return fmt.Errorf("%w: vpn configuration is required", common.ErrInvalidProfile)
	}
	if strings.TrimSpace(p.RDPHost) == "" {
		return fmt.Errorf("%w: rdp host is required", common.ErrInvalidProfile)
	}
	if p.AudioMode != "" && !p.AudioMode.Valid() {
		return fmt.Errorf("%w: unknown audio mode %q", common.ErrInvalidProfile, p.AudioMode)
	}
	if !p.Fullscreen && p.Resolution != "" && !resolutionPattern.MatchString(p.Resolution) {
		return fmt.Errorf("%w: resolution %q is not WIDTHxHEIGHT", common.ErrInvalidProfile, p.Resolution)
	}
	for _, m := range p.Monitors {
		if m < 0 {
			return fmt.Errorf("%w: negative monitor index %d", common.ErrInvalidProfile, m)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	p.Monitors = slices.Clone(p.Monitors)
	return p
}

// EffectiveAudio returns the audio mode, treating empty as local.
func (p *Profile) EffectiveAudio() AudioMode {
	if p.AudioMode == "" {
		return AudioLocal
	}
	return p.AudioMode
}

// EffectiveResolution returns the windowed resolution, defaulting to 1920x1080.
func (p *Profile) EffectiveResolution() string {
	if p.Resolution == "" {
		return DefaultResolution
	}
	return p.Resolution
}

// ParseMonitorList parses a comma-separated list of monitor indices like "0,2".
// Empty input yields nil.
func ParseMonitorList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var monitors []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad monitor index %q", common.ErrInvalidProfile, part)
		}
		monitors = append(monitors, n)
	}
	return monitors, nil
}

// FormatMonitorList is the inverse of ParseMonitorList.
func FormatMonitorList(monitors []int) string {
	parts := make([]string, len(monitors))
	for i, m := range monitors {
		parts[i] = strconv.Itoa(m)
	}
	return strings.Join(parts, ",")
}
