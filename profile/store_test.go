package profile

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/yllada/vpnrdp-manager/common"
)

func sampleProfile(name string) Profile {
	p := New(name)
	p.VPNConfig = "/etc/openvpn3/office.ovpn"
	p.VPNUsername = "alice"
	p.RDPHost = "10.0.0.5"
	p.RDPUsername = "alice"
	p.RDPDomain = "CORP"
	return p
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vpnrdp", "connections.json")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s, path
}

func TestStore_RoundTrip(t *testing.T) {
	s, path := newTestStore(t)

	p := sampleProfile("office")
	p.Fullscreen = false
	p.Resolution = "2560x1440"
	p.Multimon = true
	p.Monitors = []int{0, 2}
	p.AudioMode = AudioRemote
	p.RedirectDrives = true
	p.NLA = false
	p.DisableWindowDrag = true

	if err := s.Add(p); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() reload error = %v", err)
	}
	got, err := reloaded.Get("office")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("reloaded profile differs\n got: %+v\nwant: %+v", got, p)
	}
}

func TestStore_FilePermissionsAndDirectory(t *testing.T) {
	s, path := newTestStore(t)
	if err := s.Add(sampleProfile("office")); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("profiles file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("profiles file mode = %v, want 0600", perm)
	}
}

func TestStore_DuplicateName(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Add(sampleProfile("office")); err != nil {
		t.Fatal(err)
	}

	err := s.Add(sampleProfile("office"))
	if !errors.Is(err, common.ErrDuplicateName) {
		t.Errorf("Add() duplicate error = %v, want ErrDuplicateName", err)
	}
}

func TestStore_UpdateRename(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Add(sampleProfile("office")); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(sampleProfile("lab")); err != nil {
		t.Fatal(err)
	}

	renamed := sampleProfile("hq")
	if err := s.Update("office", renamed); err != nil {
		t.Fatalf("Update() rename error = %v", err)
	}
	if s.Exists("office") {
		t.Error("old name should be gone after rename")
	}
	if !s.Exists("hq") {
		t.Error("new name should exist after rename")
	}

	err := s.Update("hq", sampleProfile("lab"))
	if !errors.Is(err, common.ErrDuplicateName) {
		t.Errorf("rename onto existing profile error = %v, want ErrDuplicateName", err)
	}

	same := sampleProfile("hq")
	same.RDPHost = "10.0.0.9"
	if err := s.Update("hq", same); err != nil {
		t.Errorf("Update() keeping the name should succeed, got %v", err)
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Update("ghost", sampleProfile("ghost"))
	if !errors.Is(err, common.ErrProfileNotFound) {
		t.Errorf("Update() error = %v, want ErrProfileNotFound", err)
	}
}

func TestStore_Remove(t *testing.T) {
	s, path := newTestStore(t)
	if err := s.Add(sampleProfile("office")); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("office"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove("office"); !errors.Is(err, common.ErrProfileNotFound) {
		t.Errorf("second Remove() error = %v, want ErrProfileNotFound", err)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.List()) != 0 {
		t.Error("removed profile should not be persisted")
	}
}

func TestStore_ListSortedAndCopied(t *testing.T) {
	s, _ := newTestStore(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		p := sampleProfile(name)
		p.Monitors = []int{1}
		if err := s.Add(p); err != nil {
			t.Fatal(err)
		}
	}

	list := s.List()
	if got := []string{list[0].Name, list[1].Name, list[2].Name}; !reflect.DeepEqual(got, []string{"alpha", "mid", "zeta"}) {
		t.Errorf("List() order = %v", got)
	}

	list[0].Monitors[0] = 99
	p, _ := s.Get("alpha")
	if p.Monitors[0] != 1 {
		t.Error("List() should return copies, not shared slices")
	}
}

func TestStore_LoadUsesMapKeyAsName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	data := `{"office": {"vpn_config": "/tmp/a.ovpn", "rdp_host": "h", "audio_mode": "disabled"}}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	p, err := s.Get("office")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "office" || p.AudioMode != AudioDisabled {
		t.Errorf("loaded profile = %+v", p)
	}
}

func TestStore_LoadsExistingFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	data := `{
  "office": {
    "name": "office",
    "vpn_config": "/home/alice/office.ovpn",
    "vpn_username": "alice",
    "rdp_host": "10.0.0.5",
    "rdp_username": "alice",
    "rdp_domain": "CORP",
    "rdp_fullscreen": false,
    "rdp_resolution": "1280x720",
    "multimon": true,
    "selected_monitors": [0, 1],
    "disable_fonts": true,
    "disable_wallpaper": false,
    "disable_themes": true,
    "disable_aero": true,
    "disable_drag": true,
    "compression": false,
    "audio_mode": "remote",
    "clipboard": false,
    "redirect_drives": true,
    "nla": false
  },
  "lab": {"vpn_config": "/home/alice/lab.ovpn", "rdp_host": "lab.local"}
}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	office, err := s.Get("office")
	if err != nil {
		t.Fatal(err)
	}
	want := Profile{
		Name:               "office",
		VPNConfig:          "/home/alice/office.ovpn",
		VPNUsername:        "alice",
		RDPHost:            "10.0.0.5",
		RDPUsername:        "alice",
		RDPDomain:          "CORP",
		Resolution:         "1280x720",
		Multimon:           true,
		Monitors:           []int{0, 1},
		FontSmoothing:      true,
		DisableThemes:      true,
		DesktopComposition: true,
		DisableWindowDrag:  true,
		AudioMode:          AudioRemote,
		RedirectDrives:     true,
	}
	if !reflect.DeepEqual(office, want) {
		t.Errorf("office\n got: %+v\nwant: %+v", office, want)
	}

	// Keys missing from a record keep the defaults.
	lab, err := s.Get("lab")
	if err != nil {
		t.Fatal(err)
	}
	wantLab := New("lab")
	wantLab.VPNConfig = "/home/alice/lab.ovpn"
	wantLab.RDPHost = "lab.local"
	if !reflect.DeepEqual(lab, wantLab) {
		t.Errorf("lab\n got: %+v\nwant: %+v", lab, wantLab)
	}
}

func TestStore_WritesExistingKeyNames(t *testing.T) {
	s, path := newTestStore(t)
	p := sampleProfile("office")
	p.DisableWindowDrag = true
	if err := s.Add(p); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"disable_fonts": true`, `"disable_aero": true`, `"disable_drag": true`, `"rdp_fullscreen": true`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("profiles file missing %s:\n%s", key, data)
		}
	}
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(path); err == nil {
		t.Error("NewStore() should fail on a corrupt file")
	}
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantErr bool
	}{
		{"valid", func(p *Profile) {}, false},
		{"empty name", func(p *Profile) { p.Name = " " }, true},
		{"no vpn config", func(p *Profile) { p.VPNConfig = "" }, true},
		{"no rdp host", func(p *Profile) { p.RDPHost = "" }, true},
		{"bad audio", func(p *Profile) { p.AudioMode = "surround" }, true},
		{"empty audio", func(p *Profile) { p.AudioMode = "" }, false},
		{"bad resolution", func(p *Profile) { p.Fullscreen = false; p.Resolution = "big" }, true},
		{"resolution ignored when fullscreen", func(p *Profile) { p.Resolution = "big" }, false},
		{"negative monitor", func(p *Profile) { p.Monitors = []int{-1} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := sampleProfile("office")
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, common.ErrInvalidProfile) {
				t.Errorf("Validate() error should wrap ErrInvalidProfile, got %v", err)
			}
		})
	}
}

func TestParseMonitorList(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"", nil, false},
		{"0", []int{0}, false},
		{"0, 1,2", []int{0, 1, 2}, false},
		{"a,b", nil, true},
		{"1,-2", nil, true},
	}

	for _, tt := range tests {
		got, err := ParseMonitorList(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMonitorList(%q) error = %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseMonitorList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if got := FormatMonitorList([]int{0, 2}); got != "0,2" {
		t.Errorf("FormatMonitorList() = %q", got)
	}
}

func TestNewDefaults(t *testing.T) {
	p := New("x")
	if !p.Fullscreen || !p.NLA || !p.Clipboard || !p.Compression {
		t.Errorf("New() defaults = %+v", p)
	}
	if p.EffectiveAudio() != AudioLocal {
		t.Errorf("EffectiveAudio() = %v", p.EffectiveAudio())
	}
	p.Resolution = ""
	if p.EffectiveResolution() != DefaultResolution {
		t.Errorf("EffectiveResolution() = %v", p.EffectiveResolution())
	}
}
