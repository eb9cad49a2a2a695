package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/profile"
)

// writeScript creates an executable shell script standing in for a client binary.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "office.ovpn")
	if err := os.WriteFile(path, []byte("client\n"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStartVPN_Success(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	vpn := writeScript(t, dir, "openvpn3", `
read user
read secret
echo "$user" > "`+dir+`/user"
echo "$secret" > "`+dir+`/secret"
echo "Session path: /net/openvpn/v3/sessions/beef01"
`)

	s := NewSupervisor(Options{VPNBinary: vpn, VPNStartTimeout: 5 * time.Second})
	session, err := s.StartVPN(context.Background(), cfg, "alice", "s3cret")
	if err != nil {
		t.Fatalf("StartVPN() error = %v", err)
	}
	if session != "/net/openvpn/v3/sessions/beef01" {
		t.Errorf("StartVPN() session = %q", session)
	}

	user, _ := os.ReadFile(filepath.Join(dir, "user"))
	secret, _ := os.ReadFile(filepath.Join(dir, "secret"))
	if strings.TrimSpace(string(user)) != "alice" || strings.TrimSpace(string(secret)) != "s3cret" {
		t.Errorf("stdin lines = %q, %q", user, secret)
	}
}

func TestStartVPN_Failures(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	tests := []struct {
		name    string
		config  string
		script  string
		timeout time.Duration
		wantErr error
	}{
		{"missing config", filepath.Join(dir, "nope.ovpn"), `echo "Session path: x"`, time.Second, common.ErrConfigNotFound},
		{"empty config", "", `echo "Session path: x"`, time.Second, common.ErrConfigNotFound},
		{"non-zero exit", cfg, `read u; read p; echo "auth failed for $p" >&2; exit 3`, 5 * time.Second, common.ErrSubprocessNonZeroExit},
		{"unparsable", cfg, `echo "all good"`, 5 * time.Second, common.ErrUnparsableOutput},
		{"timeout", cfg, `exec sleep 10`, 200 * time.Millisecond, common.ErrSubprocessTimeout},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vpn := writeScript(t, dir, "vpn"+string(rune('a'+i)), tt.script)
			s := NewSupervisor(Options{VPNBinary: vpn, VPNStartTimeout: tt.timeout})

			_, err := s.StartVPN(context.Background(), tt.config, "alice", "s3cret")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("StartVPN() error = %v, want %v", err, tt.wantErr)
			}
			if strings.Contains(err.Error(), "s3cret") {
				t.Errorf("error message leaks the secret: %v", err)
			}
		})
	}
}

func TestStartVPN_MissingBinary(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor(Options{VPNBinary: filepath.Join(dir, "no-such-openvpn3")})
	_, err := s.StartVPN(context.Background(), writeConfig(t, dir), "a", "b")
	if !errors.Is(err, common.ErrBinaryNotFound) {
		t.Errorf("StartVPN() error = %v, want ErrBinaryNotFound", err)
	}
}

func TestStopVPN_SwallowsErrors(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "args")
	vpn := writeScript(t, dir, "openvpn3", `echo "$@" > "`+marker+`"; exit 1`)

	s := NewSupervisor(Options{VPNBinary: vpn})
	s.StopVPN(context.Background(), "/net/openvpn/v3/sessions/ab")

	args, err := os.ReadFile(marker)
	if err != nil {
		t.Fatal(err)
	}
	want := "session-manage --session-path /net/openvpn/v3/sessions/ab --disconnect"
	if strings.TrimSpace(string(args)) != want {
		t.Errorf("StopVPN() args = %q, want %q", args, want)
	}
}

func TestQueryStats(t *testing.T) {
	dir := t.TempDir()
	vpn := writeScript(t, dir, "openvpn3", `
[ "$1" = "session-stats" ] || exit 2
echo "BYTES_IN.......500"
echo "BYTES_OUT......250"
echo "TUN_BYTES_IN...9"
`)
	s := NewSupervisor(Options{VPNBinary: vpn})
	got, err := s.QueryStats(context.Background(), "/net/openvpn/v3/sessions/ab")
	if err != nil || got != (Counters{BytesIn: 500, BytesOut: 250}) {
		t.Errorf("QueryStats() = %+v, %v", got, err)
	}
}

func rdpProfile() *profile.Profile {
	p := profile.New("office")
	p.RDPHost = "10.0.0.5"
	p.RDPUsername = "alice"
	return &p
}

func TestStartRDP_AliveAfterGrace(t *testing.T) {
	dir := t.TempDir()
	rdp := writeScript(t, dir, "xfreerdp3", `exec sleep 30`)

	s := NewSupervisor(Options{RDPBinaries: []string{rdp}, RDPGraceWindow: 100 * time.Millisecond})
	h, err := s.StartRDP(context.Background(), rdpProfile(), "pw")
	if err != nil {
		t.Fatalf("StartRDP() error = %v", err)
	}
	if !s.Poll(h) {
		t.Fatal("RDP process should be alive after the grace window")
	}

	if err := s.Stop(h, time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.Poll(h) {
		t.Error("RDP process should be gone after Stop()")
	}
}

func TestStartRDP_DiesDuringGrace(t *testing.T) {
	dir := t.TempDir()
	rdp := writeScript(t, dir, "xfreerdp3", `echo "connection refused"; exit 1`)

	s := NewSupervisor(Options{RDPBinaries: []string{rdp}, RDPGraceWindow: 2 * time.Second})
	_, err := s.StartRDP(context.Background(), rdpProfile(), "pw")
	if !errors.Is(err, common.ErrProcessDiedPrematurely) {
		t.Errorf("StartRDP() error = %v, want ErrProcessDiedPrematurely", err)
	}
}

func TestStartRDP_BinaryFallbackAndMissing(t *testing.T) {
	dir := t.TempDir()
	fallback := writeScript(t, dir, "xfreerdp", `exec sleep 30`)

	s := NewSupervisor(Options{RDPBinaries: []string{filepath.Join(dir, "xfreerdp3"), fallback}})
	bin, err := s.FindRDPBinary()
	if err != nil || bin != fallback {
		t.Errorf("FindRDPBinary() = %q, %v, want %q", bin, err, fallback)
	}

	s = NewSupervisor(Options{RDPBinaries: []string{filepath.Join(dir, "none")}})
	if _, err := s.StartRDP(context.Background(), rdpProfile(), "pw"); !errors.Is(err, common.ErrBinaryNotFound) {
		t.Errorf("StartRDP() error = %v, want ErrBinaryNotFound", err)
	}
}

func TestProcessStop_ForceKill(t *testing.T) {
	dir := t.TempDir()
	stubborn := writeScript(t, dir, "stubborn", `trap '' TERM; while :; do sleep 0.1; done`)

	p, err := Launch(stubborn, nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := p.Stop(200 * time.Millisecond); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if p.Alive() {
		t.Error("process should be killed after the grace period")
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("Stop() returned after %v, before the grace period", elapsed)
	}
	if err := p.Stop(time.Second); err != nil {
		t.Errorf("Stop() on an exited process error = %v", err)
	}
}

func TestCheckDependencies(t *testing.T) {
	dir := t.TempDir()
	vpn := writeScript(t, dir, "openvpn3", `exit 0`)

	s := NewSupervisor(Options{
		VPNBinary:     vpn,
		RDPBinaries:   []string{filepath.Join(dir, "xfreerdp3")},
		MonitorBinary: filepath.Join(dir, "xrandr"),
	})
	deps := s.CheckDependencies()
	if len(deps) != 3 {
		t.Fatalf("CheckDependencies() returned %d entries", len(deps))
	}
	if !deps[0].Found() || deps[1].Found() || deps[2].Found() {
		t.Errorf("CheckDependencies() = %+v", deps)
	}
	if !deps[1].Required || deps[2].Required {
		t.Error("RDP client is required, xrandr is optional")
	}
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(5)
	b.Write([]byte("abc"))
	b.Write([]byte("defg"))
	if got := b.String(); got != "cdefg" {
		t.Errorf("tailBuffer = %q, want cdefg", got)
	}
}
