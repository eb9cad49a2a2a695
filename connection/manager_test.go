package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/credential"
	"github.com/yllada/vpnrdp-manager/process"
	"github.com/yllada/vpnrdp-manager/profile"
)

type fakeProfiles map[string]profile.Profile

func (f fakeProfiles) Get(name string) (profile.Profile, error) {
	p, ok := f[name]
	if !ok {
		return profile.Profile{}, fmt.Errorf("%w: %s", common.ErrProfileNotFound, name)
	}
	return p, nil
}

type fakeCreds struct {
	err error
}

func (f fakeCreds) Resolve(_ context.Context, req credential.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "secret-" + string(req.Kind), nil
}

type fakeHandle struct {
	pid  int
	once sync.Once
	done chan struct{}
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, done: make(chan struct{})}
}

func (h *fakeHandle) Pid() int              { return h.pid }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) exit()                 { h.once.Do(func() { close(h.done) }) }

func (h *fakeHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

type fakeSupervisor struct {
	mu sync.Mutex

	vpnGate  chan struct{}
	vpnErr   error
	rdpErr   error
	rdpPanic bool

	startVPN int
	stopVPN  []string
	startRDP int
	stopped  []process.Handle
	handles  []*fakeHandle
	secrets  []string
}

func (s *fakeSupervisor) StartVPN(_ context.Context, configPath, username, secret string) (string, error) {
	s.mu.Lock()
	s.startVPN++
	s.secrets = append(s.secrets, secret)
	gate, err := s.vpnGate, s.vpnErr
	n := s.startVPN
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/net/openvpn/v3/sessions/%d", n), nil
}

func (s *fakeSupervisor) StopVPN(_ context.Context, session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopVPN = append(s.stopVPN, session)
}

func (s *fakeSupervisor) StartRDP(_ context.Context, p *profile.Profile, secret string) (process.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startRDP++
	s.secrets = append(s.secrets, secret)
	if s.rdpPanic {
		panic("rdp exploded")
	}
	if s.rdpErr != nil {
		return nil, s.rdpErr
	}
	h := newFakeHandle(1000 + s.startRDP)
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeSupervisor) Poll(h process.Handle) bool { return h.Alive() }

func (s *fakeSupervisor) Stop(h process.Handle, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, h)
	h.(*fakeHandle).exit()
	return nil
}

func (s *fakeSupervisor) counts() (startVPN, stopVPN, startRDP int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startVPN, len(s.stopVPN), s.startRDP
}

func testProfiles(names ...string) fakeProfiles {
	f := fakeProfiles{}
	for _, n := range names {
		p := profile.New(n)
		p.VPNConfig = "/tmp/" + n + ".ovpn"
		p.VPNUsername = "alice"
		p.RDPHost = "10.0.0.5"
		p.RDPUsername = "alice"
		f[n] = p
	}
	return f
}

func newTestManager(t *testing.T, sup *fakeSupervisor, creds CredentialSource, delay time.Duration) (*Manager, <-chan StatusEvent) {
	t.Helper()
	if creds == nil {
		creds = fakeCreds{}
	}
	m := NewManager(testProfiles("office", "lab"), creds, sup, Options{StabilizeDelay: delay, RDPStopGrace: time.Second})
	events, unsub := m.Subscribe(128)
	t.Cleanup(func() {
		unsub()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, events
}

// waitStatus reads events until name reaches want, failing on timeout.
func waitStatus(t *testing.T, events <-chan StatusEvent, name string, want Status) StatusEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Profile == name && ev.Status == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s to reach %v", name, want)
		}
	}
}

func TestConnect_Success(t *testing.T) {
	sup := &fakeSupervisor{}
	m, events := newTestManager(t, sup, nil, 10*time.Millisecond)

	if err := m.Connect("office"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitStatus(t, events, "office", StatusConnectingVPN)
	waitStatus(t, events, "office", StatusVPNUp)
	waitStatus(t, events, "office", StatusConnectingRDP)
	ev := waitStatus(t, events, "office", StatusConnected)
	if ev.Message != "Connected to office" {
		t.Errorf("Connected message = %q", ev.Message)
	}

	c, ok := m.Get("office")
	if !ok || c.Status != StatusConnected || c.VPNSession == "" || c.RDPPid == 0 {
		t.Fatalf("Get() = %+v, %v; connected entries need both handles", c, ok)
	}
	if c.AttemptID == "" {
		t.Error("AttemptID should be set")
	}
	if got := m.ConnectedNames(); len(got) != 1 || got[0] != "office" {
		t.Errorf("ConnectedNames() = %v", got)
	}

	sup.mu.Lock()
	secrets := append([]string(nil), sup.secrets...)
	sup.mu.Unlock()
	if len(secrets) != 2 || secrets[0] != "secret-vpn" || secrets[1] != "secret-rdp" {
		t.Errorf("secrets passed to supervisor = %v", secrets)
	}

	if err := m.Disconnect("office"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	waitStatus(t, events, "office", StatusDisconnected)

	_, stopVPN, _ := sup.counts()
	if stopVPN != 1 {
		t.Errorf("StopVPN calls = %d, want 1", stopVPN)
	}
	if len(sup.stopped) != 1 {
		t.Errorf("RDP Stop calls = %d, want 1", len(sup.stopped))
	}
	if _, ok := m.Get("office"); ok {
		t.Error("entry should be removed after Disconnect")
	}
	if m.Status("office") != StatusDisconnected {
		t.Errorf("Status() = %v, want Disconnected", m.Status("office"))
	}
	if err := m.Disconnect("office"); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("second Disconnect() error = %v, want ErrNotConnected", err)
	}
}

func TestConnect_SingleFlight(t *testing.T) {
	gate := make(chan struct{})
	sup := &fakeSupervisor{vpnGate: gate}
	m, events := newTestManager(t, sup, nil, 0)

	if err := m.Connect("office"); err != nil {
		t.Fatal(err)
	}
	if err := m.Connect("office"); !errors.Is(err, common.ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
	close(gate)
	waitStatus(t, events, "office", StatusConnected)

	if err := m.Connect("office"); !errors.Is(err, common.ErrAlreadyConnected) {
		t.Errorf("Connect() on a connected profile error = %v", err)
	}

	startVPN, _, startRDP := sup.counts()
	if startVPN != 1 || startRDP != 1 {
		t.Errorf("launches = (vpn %d, rdp %d), want exactly one pair", startVPN, startRDP)
	}
}

func TestConnect_VPNFailure(t *testing.T) {
	sup := &fakeSupervisor{vpnErr: common.ErrSubprocessTimeout}
	m, events := newTestManager(t, sup, nil, 0)

	if err := m.Connect("office"); err != nil {
		t.Fatal(err)
	}
	ev := waitStatus(t, events, "office", StatusVPNFailed)
	<-m.Done("office")

	if _, _, startRDP := sup.counts(); startRDP != 0 {
		t.Errorf("StartRDP called %d times after VPN failure", startRDP)
	}
	if ev.Message == "" {
		t.Error("failure event should carry a message")
	}
	if _, ok := m.Get("office"); ok {
		t.Error("failed attempt should not leave an entry")
	}
	last, ok := m.LastOutcome("office")
	if !ok || last.Status != StatusVPNFailed {
		t.Errorf("LastOutcome() = %+v, %v", last, ok)
	}

	// A failed attempt does not block a retry.
	sup.mu.Lock()
	sup.vpnErr = nil
	sup.mu.Unlock()
	if err := m.Connect("office"); err != nil {
		t.Errorf("retry Connect() error = %v", err)
	}
	waitStatus(t, events, "office", StatusConnected)
}

func TestConnect_RDPFailureUnwindsVPN(t *testing.T) {
	sup := &fakeSupervisor{rdpErr: common.ErrProcessDiedPrematurely}
	m, events := newTestManager(t, sup, nil, 0)

	if err := m.Connect("office"); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, events, "office", StatusRDPFailed)
	<-m.Done("office")

	startVPN, stopVPN, startRDP := sup.counts()
	if startVPN != 1 || startRDP != 1 || stopVPN != 1 {
		t.Errorf("calls = (startVPN %d, startRDP %d, stopVPN %d), want 1/1/1", startVPN, startRDP, stopVPN)
	}
	if sup.stopVPN[0] != "/net/openvpn/v3/sessions/1" {
		t.Errorf("StopVPN session = %q", sup.stopVPN[0])
	}
}

func TestCancel_DuringStabilization(t *testing.T) {
	sup := &fakeSupervisor{}
	m, events := newTestManager(t, sup, nil, 10*time.Second)

	if err := m.Connect("office"); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, events, "office", StatusVPNUp)

	start := time.Now()
	if err := m.Cancel("office"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	waitStatus(t, events, "office", StatusCanceled)
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation should interrupt the stabilization delay")
	}
	<-m.Done("office")

	_, stopVPN, startRDP := sup.counts()
	if stopVPN != 1 || startRDP != 0 {
		t.Errorf("calls = (stopVPN %d, startRDP %d), want 1/0", stopVPN, startRDP)
	}
}

func TestDisconnect_InFlightCancels(t *testing.T) {
	gate := make(chan struct{})
	sup := &fakeSupervisor{vpnGate: gate}
	m, events := newTestManager(t, sup, nil, 0)

	if err := m.Connect("office"); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, events, "office", StatusConnectingVPN)

	if err := m.Disconnect("office"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	close(gate)
	waitStatus(t, events, "office", StatusCanceled)
	<-m.Done("office")

	_, stopVPN, startRDP := sup.counts()
	if stopVPN != 1 || startRDP != 0 {
		t.Errorf("calls = (stopVPN %d, startRDP %d), want 1/0", stopVPN, startRDP)
	}
	if _, ok := m.Get("office"); ok {
		t.Error("canceled attempt should not leave an entry")
	}
}

func TestConnect_CredentialDeclined(t *testing.T) {
	sup := &fakeSupervisor{}
	m, events := newTestManager(t, sup, fakeCreds{err: common.ErrCredentialDeclined}, 0)

	if err := m.Connect("office"); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, events, "office", StatusCanceled)
	<-m.Done("office")

	if startVPN, _, _ := sup.counts(); startVPN != 0 {
		t.Error("StartVPN should not run without credentials")
	}
}

func TestConnect_PanicBecomesError(t *testing.T) {
	sup := &fakeSupervisor{rdpPanic: true}
	m, events := newTestManager(t, sup, nil, 0)

	if err := m.Connect("office"); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, events, "office", StatusError)
	<-m.Done("office")

	if _, stopVPN, _ := sup.counts(); stopVPN != 1 {
		t.Errorf("StopVPN calls = %d, want best-effort unwind", stopVPN)
	}
	if _, ok := m.Get("office"); ok {
		t.Error("errored attempt should not leave an entry")
	}
}

func TestConnect_UnknownProfile(t *testing.T) {
	m, _ := newTestManager(t, &fakeSupervisor{}, nil, 0)
	if err := m.Connect("ghost"); !errors.Is(err, common.ErrProfileNotFound) {
		t.Errorf("Connect() error = %v, want ErrProfileNotFound", err)
	}
	if err := m.Cancel("ghost"); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("Cancel() error = %v, want ErrNotConnected", err)
	}
}

func TestFailureIsolatedPerProfile(t *testing.T) {
	sup := &fakeSupervisor{}
	m, events := newTestManager(t, sup, nil, 0)

	if err := m.Connect("lab"); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, events, "lab", StatusConnected)

	sup.mu.Lock()
	sup.rdpErr = errors.New("boom")
	sup.mu.Unlock()
	if err := m.Connect("office"); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, events, "office", StatusRDPFailed)

	if m.Status("lab") != StatusConnected {
		t.Errorf("lab status = %v, want Connected", m.Status("lab"))
	}
}

func TestReapExited(t *testing.T) {
	sup := &fakeSupervisor{}
	m, events := newTestManager(t, sup, nil, 0)

	if err := m.Connect("office"); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, events, "office", StatusConnected)

	tracked := m.Tracked()
	if len(tracked) != 1 || tracked[0].Profile != "office" {
		t.Fatalf("Tracked() = %+v", tracked)
	}

	if m.ReapExited("office", newFakeHandle(1)) {
		t.Error("ReapExited() with a stale handle should do nothing")
	}

	sup.handles[0].exit()
	if !m.ReapExited("office", tracked[0].Handle) {
		t.Fatal("ReapExited() should tear down the connection")
	}
	waitStatus(t, events, "office", StatusDisconnected)

	if _, stopVPN, _ := sup.counts(); stopVPN != 1 {
		t.Errorf("StopVPN calls = %d, want 1", stopVPN)
	}
	if _, ok := m.Get("office"); ok {
		t.Error("entry should be removed")
	}
	if m.ReapExited("office", tracked[0].Handle) {
		t.Error("second ReapExited() should be a no-op")
	}
}

func TestShutdown(t *testing.T) {
	gate := make(chan struct{})
	sup := &fakeSupervisor{}
	m := NewManager(testProfiles("office", "lab"), fakeCreds{}, sup, Options{})
	events, unsub := m.Subscribe(64)
	defer unsub()

	if err := m.Connect("office"); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, events, "office", StatusConnected)

	sup.mu.Lock()
	sup.vpnGate = gate
	sup.mu.Unlock()
	if err := m.Connect("lab"); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, events, "lab", StatusConnectingVPN)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(gate)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if len(m.List()) != 0 {
		t.Errorf("List() after Shutdown = %+v", m.List())
	}
	if _, stopVPN, startRDP := sup.counts(); stopVPN != 2 || startRDP != 1 {
		t.Errorf("calls = (stopVPN %d, startRDP %d), want 2/1", stopVPN, startRDP)
	}
	if err := m.Connect("office"); err == nil {
		t.Error("Connect() after Shutdown should fail")
	}
}

func TestDisconnectAll(t *testing.T) {
	sup := &fakeSupervisor{}
	m, events := newTestManager(t, sup, nil, 0)

	for _, name := range []string{"office", "lab"} {
		if err := m.Connect(name); err != nil {
			t.Fatal(err)
		}
		waitStatus(t, events, name, StatusConnected)
	}

	if err := m.DisconnectAll(); err != nil {
		t.Fatalf("DisconnectAll() error = %v", err)
	}
	if len(m.List()) != 0 {
		t.Errorf("List() = %+v, want empty", m.List())
	}
}

func TestStatusText(t *testing.T) {
	for s := StatusDisconnected; s <= StatusError; s++ {
		text, _ := s.MarshalText()
		var back Status
		if err := back.UnmarshalText(text); err != nil || back != s {
			t.Errorf("status %d round trip = %v, %v", s, back, err)
		}
	}
	if !StatusVPNUp.Active() || StatusCanceled.Active() {
		t.Error("Active() classification is wrong")
	}
	if !StatusRDPFailed.Failed() || StatusConnected.Failed() {
		t.Error("Failed() classification is wrong")
	}
}
