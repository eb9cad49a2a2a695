package process

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yllada/vpnrdp-manager/common"
)

const sessionPathMarker = "Session path:"

var (
	sessionPathPattern = regexp.MustCompile(`/net/openvpn/v3/sessions/[a-f0-9s]+`)
	geometryPattern    = regexp.MustCompile(`^(\d+)x(\d+)\+(\d+)\+(\d+)`)
)

// ParseSessionPath extracts the VPN session identifier from session-start
// output. Two formats are accepted, in order:
//
//  1. a line containing "Session path: <path>"; the trimmed remainder is used
//  2. the first "/net/openvpn/v3/sessions/<hex>" token anywhere in the output
//
// If both are present the first format wins. Anything else is
// ErrUnparsableOutput.
func ParseSessionPath(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		idx := strings.Index(line, sessionPathMarker)
		if idx < 0 {
			continue
		}
		if path := strings.TrimSpace(line[idx+len(sessionPathMarker):]); path != "" {
			return path, nil
		}
	}

	if match := sessionPathPattern.FindString(output); match != "" {
		return match, nil
	}
	return "", fmt.Errorf("%w: no session path in session-start output", common.ErrUnparsableOutput)
}

// Counters are cumulative byte counts of a VPN session.
type Counters struct {
	BytesIn  uint64
	BytesOut uint64
}

// ParseStats reads BYTES_IN and BYTES_OUT from session-stats output. Lines
// whose trimmed text starts with TUN_ are tunnel-internal and skipped. The
// value is whatever follows the last '.' on the line, so dotted padding
// like "BYTES_IN.......1234" parses. Output with neither counter is
// ErrUnparsableOutput.
func ParseStats(output string) (Counters, error) {
	var c Counters
	var found bool

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "TUN_") {
			continue
		}

		var dst *uint64
		switch {
		case strings.Contains(trimmed, "BYTES_IN"):
			dst = &c.BytesIn
		case strings.Contains(trimmed, "BYTES_OUT"):
			dst = &c.BytesOut
		default:
			continue
		}

		dot := strings.LastIndex(trimmed, ".")
		if dot < 0 {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(trimmed[dot+1:]), 10, 64)
		if err != nil {
			continue
		}
		*dst = v
		found = true
	}

	if !found {
		return Counters{}, fmt.Errorf("%w: no byte counters in session-stats output", common.ErrUnparsableOutput)
	}
	return c, nil
}

// ParseConfigsList returns the first column of every row of configs-list
// output after the two header lines, ignoring separator lines.
func ParseConfigsList(output string) []string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) <= 2 {
		return nil
	}

	var configs []string
	for _, line := range lines[2:] {
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "-") {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 0 {
			configs = append(configs, fields[0])
		}
	}
	return configs
}

// Monitor is one connected display output.
type Monitor struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

func (m Monitor) String() string {
	return fmt.Sprintf("%d: %s %dx%d+%d+%d", m.Index, m.Name, m.Width, m.Height, m.X, m.Y)
}

// ParseXrandr parses `xrandr --query` output. Only connected outputs with a
// WxH+X+Y geometry are returned; indices count those in order.
func ParseXrandr(output string) []Monitor {
	var monitors []Monitor
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, " connected") || strings.Contains(line, "disconnected") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		for _, field := range fields[1:] {
			m := geometryPattern.FindStringSubmatch(field)
			if m == nil {
				continue
			}
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			x, _ := strconv.Atoi(m[3])
			y, _ := strconv.Atoi(m[4])
			monitors = append(monitors, Monitor{
				Index:  len(monitors),
				Name:   fields[0],
				Width:  w,
				Height: h,
				X:      x,
				Y:      y,
			})
			break
		}
	}
	return monitors
}
