package process

import (
	"strings"

	"github.com/yllada/vpnrdp-manager/profile"
)

// ArgOptions are the RDP settings that come from application config rather
// than the profile.
type ArgOptions struct {
	IgnoreCertificate bool
	HomeDir           string
}

// BuildRDPArgs builds the FreeRDP argument list for a profile.
func BuildRDPArgs(p *profile.Profile, secret string, opts ArgOptions) []string {
	args := []string{
		"/v:" + p.RDPHost,
		"/u:" + p.RDPUsername,
	}
	if p.RDPDomain != "" {
		args = append(args, "/d:"+p.RDPDomain)
	}
	args = append(args, "/p:"+secret)

	if p.Fullscreen {
		args = append(args, "/f")
	} else {
		args = append(args, "/size:"+p.EffectiveResolution())
	}

	if p.Multimon {
		args = append(args, "/multimon")
		if len(p.Monitors) > 0 {
			args = append(args, "/monitors:"+profile.FormatMonitorList(p.Monitors))
		}
	}

	if p.FontSmoothing {
		args = append(args, "+fonts")
	}
	if p.DisableWallpaper {
		args = append(args, "-wallpaper")
	}
	if p.DisableThemes {
		args = append(args, "-themes")
	}
	if p.DesktopComposition {
		args = append(args, "+aero")
	}
	if p.DisableWindowDrag {
		args = append(args, "-window-drag")
	}

	switch p.EffectiveAudio() {
	case profile.AudioLocal:
		args = append(args, "/sound")
	case profile.AudioRemote:
		args = append(args, "/audio-mode:1")
	case profile.AudioDisabled:
		args = append(args, "/audio-mode:2")
	}

	if p.Clipboard {
		args = append(args, "+clipboard")
	}
	if p.RedirectDrives && opts.HomeDir != "" {
		args = append(args, "/drive:home,"+opts.HomeDir)
	}
	if opts.IgnoreCertificate {
		args = append(args, "/cert:ignore")
	}

	if p.NLA {
		args = append(args, "/sec:nla")
	} else {
		args = append(args, "/sec:rdp")
	}

	if p.Compression {
		args = append(args, "+compression")
	}
	return args
}

// RedactArgs returns a copy of args safe for logging, with the /p: value masked.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "/p:") {
			out[i] = "/p:****"
			continue
		}
		out[i] = a
	}
	return out
}

// redactSecret masks every occurrence of secret in s.
func redactSecret(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "****")
}
