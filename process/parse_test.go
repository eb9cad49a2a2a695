package process

import (
	"errors"
	"reflect"
	"testing"

	"github.com/yllada/vpnrdp-manager/common"
)

func TestParseSessionPath(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{
			name:   "session path line",
			output: "Using pre-loaded configuration profile 'office'\nSession path: /net/openvpn/v3/sessions/ab12cds3\nConnected\n",
			want:   "/net/openvpn/v3/sessions/ab12cds3",
		},
		{
			name:   "bare path token",
			output: "Connected to session /net/openvpn/v3/sessions/0f9as77 successfully\n",
			want:   "/net/openvpn/v3/sessions/0f9as77",
		},
		{
			name:   "line format wins over token",
			output: "created /net/openvpn/v3/sessions/aaaa\nSession path: /net/openvpn/v3/sessions/bbbb\n",
			want:   "/net/openvpn/v3/sessions/bbbb",
		},
		{
			name:   "empty marker falls back to token",
			output: "Session path:\n/net/openvpn/v3/sessions/cafe\n",
			want:   "/net/openvpn/v3/sessions/cafe",
		},
		{
			name:    "nothing recognizable",
			output:  "Connection failed\n",
			wantErr: true,
		},
		{
			name:    "empty",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSessionPath(tt.output)
			if tt.wantErr {
				if !errors.Is(err, common.ErrUnparsableOutput) {
					t.Errorf("ParseSessionPath() error = %v, want ErrUnparsableOutput", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseSessionPath() = %q, %v, want %q", got, err, tt.want)
			}
		})
	}
}

func TestParseStats(t *testing.T) {
	output := `
Connection statistics:
     BYTES_IN....................1394825
     BYTES_OUT....................224101
     PACKETS_IN.......................1850
     TUN_BYTES_IN.................1212121
     TUN_BYTES_OUT.................999999
`
	got, err := ParseStats(output)
	if err != nil {
		t.Fatalf("ParseStats() error = %v", err)
	}
	want := Counters{BytesIn: 1394825, BytesOut: 224101}
	if got != want {
		t.Errorf("ParseStats() = %+v, want %+v", got, want)
	}

	if _, err := ParseStats("PACKETS_IN......12\n"); !errors.Is(err, common.ErrUnparsableOutput) {
		t.Errorf("ParseStats() without counters error = %v", err)
	}

	partial, err := ParseStats("BYTES_OUT.....77\nBYTES_IN no dots here\n")
	if err != nil || partial != (Counters{BytesOut: 77}) {
		t.Errorf("ParseStats() partial = %+v, %v", partial, err)
	}
}

func TestParseConfigsList(t *testing.T) {
	output := `Configuration path
Imported                        Last used                 Used
------------------------------------------------------------------------------
/net/openvpn/v3/configuration/1a2b  2024-01-01 10:00:00  3
office.ovpn                     alice
------------------------------------------------------------------------------
/net/openvpn/v3/configuration/3c4d  2024-02-01 11:00:00  0
`
	got := ParseConfigsList(output)
	want := []string{"/net/openvpn/v3/configuration/1a2b", "office.ovpn", "/net/openvpn/v3/configuration/3c4d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseConfigsList() = %v, want %v", got, want)
	}

	if got := ParseConfigsList("header\n"); got != nil {
		t.Errorf("ParseConfigsList(header only) = %v", got)
	}
}

func TestParseXrandr(t *testing.T) {
	output := `Screen 0: minimum 320 x 200, current 4480 x 1440, maximum 16384 x 16384
eDP-1 connected primary 1920x1080+0+360 (normal left inverted right x axis y axis) 344mm x 194mm
   1920x1080     60.01*+
HDMI-1 disconnected (normal left inverted right x axis y axis)
DP-1 connected 2560x1440+1920+0 (normal left inverted right x axis y axis) 597mm x 336mm
DP-2 connected (normal left inverted right x axis y axis)
`
	got := ParseXrandr(output)
	want := []Monitor{
		{Index: 0, Name: "eDP-1", Width: 1920, Height: 1080, X: 0, Y: 360},
		{Index: 1, Name: "DP-1", Width: 2560, Height: 1440, X: 1920, Y: 0},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseXrandr() = %+v, want %+v", got, want)
	}
	if s := got[1].String(); s != "1: DP-1 2560x1440+1920+0" {
		t.Errorf("Monitor.String() = %q", s)
	}
}
