// Package connection orchestrates VPN+RDP connections: it sequences the VPN
// session and RDP client for a profile, unwinds partial failures, honors
// cancellation and publishes every status transition.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/config"
	"github.com/yllada/vpnrdp-manager/credential"
	"github.com/yllada/vpnrdp-manager/event"
	"github.com/yllada/vpnrdp-manager/process"
	"github.com/yllada/vpnrdp-manager/profile"
)

// ProfileSource looks profiles up by name.
type ProfileSource interface {
	Get(name string) (profile.Profile, error)
}

// CredentialSource resolves secrets for a profile.
type CredentialSource interface {
	Resolve(ctx context.Context, req credential.Request) (string, error)
}

// Supervisor starts and stops the external clients.
type Supervisor interface {
	StartVPN(ctx context.Context, configPath, username, secret string) (string, error)
	StopVPN(ctx context.Context, session string)
	StartRDP(ctx context.Context, p *profile.Profile, secret string) (process.Handle, error)
	Poll(h process.Handle) bool
	Stop(h process.Handle, grace time.Duration) error
}

// Options tune the orchestration timings.
type Options struct {
	StabilizeDelay time.Duration
	RDPStopGrace   time.Duration
}

// OptionsFromConfig maps application settings onto manager options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		StabilizeDelay: cfg.StabilizeDelay,
		RDPStopGrace:   cfg.RDPStopGrace,
	}
}

// entry is the ActiveConnection of one profile. All fields are guarded by
// Manager.mu.
type entry struct {
	conn Connection
	rdp  process.Handle

	canceled    bool
	cancel      chan struct{}
	done        chan struct{}
	tearingDown bool
}

func (e *entry) requestCancel() {
	if !e.canceled {
		e.canceled = true
		close(e.cancel)
	}
}

// Manager is the connection orchestrator. At most one entry exists per
// profile name; entries are created by Connect and removed on disconnect
// or terminal failure.
type Manager struct {
	profiles ProfileSource
	creds    CredentialSource
	sup      Supervisor
	opts     Options

	mu      sync.Mutex
	entries map[string]*entry
	last    map[string]Connection
	closed  bool

	events *event.Bus[StatusEvent]
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a connection manager.
func NewManager(profiles ProfileSource, creds CredentialSource, sup Supervisor, opts Options) *Manager {
	if opts.StabilizeDelay < 0 {
		opts.StabilizeDelay = 0
	}
	if opts.RDPStopGrace <= 0 {
		opts.RDPStopGrace = common.RDPStopGrace
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		profiles: profiles,
		creds:    creds,
		sup:      sup,
		opts:     opts,
		entries:  make(map[string]*entry),
		last:     make(map[string]Connection),
		events:   event.NewBus[StatusEvent]("status"),
		ctx:      ctx,
		stop:     stop,
	}
}

// Subscribe returns a channel of status events and its unsubscribe function.
func (m *Manager) Subscribe(buffer int) (<-chan StatusEvent, func()) {
	return m.events.Subscribe(buffer)
}

// Connect starts a connection attempt for the named profile in the
// background and returns at once. A profile that already has an active
// entry is left alone and ErrAlreadyConnected is returned.
func (m *Manager) Connect(name string) error {
	p, err := m.profiles.Get(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("connection manager is shut down")
	}
	if _, exists := m.entries[name]; exists {
		m.mu.Unlock()
		common.LogDebug("Connect %s ignored: connection already active", name)
		return common.ErrAlreadyConnected
	}

	e := &entry{
		conn: Connection{
			Profile:   name,
			AttemptID: uuid.NewString(),
			Status:    StatusConnectingVPN,
			StartedAt: time.Now(),
		},
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.entries[name] = e
	delete(m.last, name)
	m.wg.Add(1)
	m.publishLocked(e, fmt.Sprintf("Connecting to %s...", name))
	m.mu.Unlock()

	common.LogInfo("Connecting %s (attempt %s)", name, e.conn.AttemptID)
	go m.run(e, p)
	return nil
}

// run is the connect worker. It always leaves the entry in Connected or
// removes it with a terminal status before returning.
func (m *Manager) run(e *entry, p profile.Profile) {
	defer m.wg.Done()
	defer close(e.done)

	name := p.Name
	var session string

	defer func() {
		if r := recover(); r != nil {
			common.LogError("Connect worker for %s panicked: %v", name, r)
			if session != "" {
				m.sup.StopVPN(m.cleanupCtx(), session)
			}
			m.finish(e, StatusError, fmt.Sprintf("Unexpected error connecting %s: %v", name, r))
		}
	}()

	ctx := m.ctx

	// An open password prompt is abandoned as soon as the attempt is canceled.
	promptCtx, stopPrompt := context.WithCancel(ctx)
	go func() {
		select {
		case <-e.cancel:
			stopPrompt()
		case <-promptCtx.Done():
		}
	}()
	vpnSecret, rdpSecret, err := m.resolveSecrets(promptCtx, p)
	stopPrompt()
	if err != nil {
		m.finishCredentialError(e, err)
		return
	}
	if m.isCanceled(e) {
		m.finish(e, StatusCanceled, fmt.Sprintf("Connection to %s canceled", name))
		return
	}

	session, err = m.sup.StartVPN(ctx, p.VPNConfig, p.VPNUsername, vpnSecret)
	if err != nil {
		common.LogError("VPN connection failed for %s: %v", name, err)
		m.finish(e, StatusVPNFailed, fmt.Sprintf("VPN connection failed for %s: %v", name, err))
		return
	}

	m.transition(e, StatusVPNUp, fmt.Sprintf("VPN connected for %s, waiting for the tunnel to settle...", name), func(c *Connection) {
		c.VPNSession = session
	})

	if m.isCanceled(e) {
		m.unwindCanceled(e, nil, session)
		return
	}

	timer := time.NewTimer(m.opts.StabilizeDelay)
	select {
	case <-timer.C:
	case <-e.cancel:
		timer.Stop()
		m.unwindCanceled(e, nil, session)
		return
	case <-ctx.Done():
		timer.Stop()
		m.unwindCanceled(e, nil, session)
		return
	}

	if m.isCanceled(e) {
		m.unwindCanceled(e, nil, session)
		return
	}

	m.transition(e, StatusConnectingRDP, fmt.Sprintf("Establishing RDP connection to %s...", p.RDPHost), nil)

	h, err := m.sup.StartRDP(ctx, &p, rdpSecret)
	if err != nil {
		common.LogError("RDP connection failed for %s: %v", name, err)
		m.sup.StopVPN(m.cleanupCtx(), session)
		m.finish(e, StatusRDPFailed, fmt.Sprintf("RDP connection failed for %s: %v", name, err))
		return
	}

	// The Connected transition and the cancel check share the lock with
	// Disconnect, so a disconnect either cancels this attempt or tears
	// down the finished connection, never both.
	m.mu.Lock()
	if e.canceled {
		m.mu.Unlock()
		m.unwindCanceled(e, h, session)
		return
	}
	e.rdp = h
	e.conn.Status = StatusConnected
	e.conn.RDPPid = h.Pid()
	e.conn.ConnectedAt = time.Now()
	m.publishLocked(e, fmt.Sprintf("Connected to %s", name))
	m.mu.Unlock()

	common.LogInfo("Connected to %s (vpn %s, rdp pid %d)", name, session, h.Pid())
}

func (m *Manager) resolveSecrets(ctx context.Context, p profile.Profile) (vpn, rdp string, err error) {
	vpn, err = m.creds.Resolve(ctx, credential.Request{Profile: p.Name, Kind: credential.KindVPN, Username: p.VPNUsername})
	if err != nil {
		return "", "", err
	}
	rdp, err = m.creds.Resolve(ctx, credential.Request{Profile: p.Name, Kind: credential.KindRDP, Username: p.RDPUsername})
	if err != nil {
		return "", "", err
	}
	return vpn, rdp, nil
}

func (m *Manager) finishCredentialError(e *entry, err error) {
	name := e.conn.Profile
	if errors.Is(err, common.ErrCredentialDeclined) {
		common.LogInfo("Connection to %s aborted: credentials not provided", name)
		m.finish(e, StatusCanceled, fmt.Sprintf("Connection to %s canceled: password not provided", name))
		return
	}
	common.LogError("Credential lookup failed for %s: %v", name, err)
	m.finish(e, StatusError, fmt.Sprintf("Credential lookup failed for %s: %v", name, err))
}

func (m *Manager) unwindCanceled(e *entry, h process.Handle, session string) {
	name := e.conn.Profile
	common.LogInfo("Connection to %s canceled, cleaning up", name)
	if h != nil {
		if err := m.sup.Stop(h, m.opts.RDPStopGrace); err != nil {
			common.LogWarn("Failed to stop RDP client for %s: %v", name, err)
		}
	}
	if session != "" {
		m.sup.StopVPN(m.cleanupCtx(), session)
	}
	m.finish(e, StatusCanceled, fmt.Sprintf("Connection to %s canceled", name))
}

// finish publishes a terminal status and removes the entry.
func (m *Manager) finish(e *entry, status Status, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.conn.Status = status
	e.conn.Message = msg
	m.publishLocked(e, msg)

	if m.entries[e.conn.Profile] == e {
		delete(m.entries, e.conn.Profile)
	}
	m.last[e.conn.Profile] = e.conn
}

func (m *Manager) transition(e *entry, status Status, msg string, mutate func(*Connection)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.conn.Status = status
	if mutate != nil {
		mutate(&e.conn)
	}
	m.publishLocked(e, msg)
}

func (m *Manager) publishLocked(e *entry, msg string) {
	e.conn.Message = msg
	m.events.Publish(StatusEvent{
		Profile:    e.conn.Profile,
		AttemptID:  e.conn.AttemptID,
		Status:     e.conn.Status,
		Message:    msg,
		VPNSession: e.conn.VPNSession,
		Time:       time.Now(),
	})
}

func (m *Manager) isCanceled(e *entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.canceled
}

// cleanupCtx outlives Shutdown so that unwinding still reaches the VPN daemon.
func (m *Manager) cleanupCtx() context.Context {
	return context.WithoutCancel(m.ctx)
}

// Cancel asks an in-flight attempt to stop at its next checkpoint.
// Established connections are not affected; use Disconnect for those.
func (m *Manager) Cancel(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrNotConnected, name)
	}
	if e.conn.Status == StatusConnected {
		common.LogDebug("Cancel %s ignored: already connected", name)
		return nil
	}
	e.requestCancel()
	return nil
}

// Disconnect closes the RDP client and the VPN session of a profile. An
// attempt still in flight is canceled instead and unwinds on its own.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", common.ErrNotConnected, name)
	}
	if e.conn.Status != StatusConnected {
		e.requestCancel()
		m.mu.Unlock()
		common.LogInfo("Disconnect %s: canceling connection attempt", name)
		return nil
	}
	if e.tearingDown {
		m.mu.Unlock()
		return nil
	}
	e.tearingDown = true
	m.mu.Unlock()

	m.teardown(e, fmt.Sprintf("Disconnected from %s", name))
	return nil
}

// DisconnectAll disconnects every profile with an entry, concurrently.
func (m *Manager) DisconnectAll() error {
	var g errgroup.Group
	for _, name := range m.names() {
		g.Go(func() error {
			err := m.Disconnect(name)
			if errors.Is(err, common.ErrNotConnected) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// teardown stops the RDP client, then the VPN session, removes the entry
// and reports Disconnected. The caller must have set e.tearingDown.
func (m *Manager) teardown(e *entry, msg string) {
	m.mu.Lock()
	name, session, h := e.conn.Profile, e.conn.VPNSession, e.rdp
	m.mu.Unlock()

	common.LogInfo("Disconnecting %s...", name)
	if h != nil {
		if err := m.sup.Stop(h, m.opts.RDPStopGrace); err != nil {
			common.LogWarn("Failed to stop RDP client for %s: %v", name, err)
		}
	}
	m.sup.StopVPN(m.cleanupCtx(), session)

	m.mu.Lock()
	if m.entries[name] == e {
		delete(m.entries, name)
	}
	e.conn.Status = StatusDisconnected
	e.conn.RDPPid = 0
	m.publishLocked(e, msg)
	m.last[name] = e.conn
	m.mu.Unlock()

	common.LogInfo("%s", msg)
}

// Tracked is an established connection whose RDP client is being watched.
type Tracked struct {
	Profile string
	Handle  process.Handle
}

// Tracked returns the connected entries that own an RDP process.
func (m *Manager) Tracked() []Tracked {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Tracked
	for name, e := range m.entries {
		if e.conn.Status == StatusConnected && e.rdp != nil && !e.tearingDown {
			out = append(out, Tracked{Profile: name, Handle: e.rdp})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Profile < out[j].Profile })
	return out
}

// ReapExited tears down name if its RDP handle is still h. It returns
// false when the entry changed in the meantime.
func (m *Manager) ReapExited(name string, h process.Handle) bool {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok || e.rdp != h || e.conn.Status != StatusConnected || e.tearingDown {
		m.mu.Unlock()
		return false
	}
	e.tearingDown = true
	m.mu.Unlock()

	common.LogInfo("RDP client for %s exited, disconnecting", name)
	m.teardown(e, fmt.Sprintf("RDP session closed, disconnected from %s", name))
	return true
}

// Get returns a snapshot of the profile's active connection.
func (m *Manager) Get(name string) (Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return Connection{}, false
	}
	return e.conn, true
}

// Status returns the current status, Disconnected when no entry exists.
func (m *Manager) Status(name string) Status {
	if c, ok := m.Get(name); ok {
		return c.Status
	}
	return StatusDisconnected
}

// LastOutcome returns how the most recent finished attempt of name ended.
func (m *Manager) LastOutcome(name string) (Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.last[name]
	return c, ok
}

// List returns snapshots of all active connections sorted by profile.
func (m *Manager) List() []Connection {
	m.mu.Lock()
	list := make([]Connection, 0, len(m.entries))
	for _, e := range m.entries {
		list = append(list, e.conn)
	}
	m.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Profile < list[j].Profile })
	return list
}

// ConnectedNames returns the sorted names of established connections.
func (m *Manager) ConnectedNames() []string {
	var names []string
	for _, c := range m.List() {
		if c.Status == StatusConnected {
			names = append(names, c.Profile)
		}
	}
	return names
}

// Done returns a channel closed when the connect worker of name has
// finished. With no entry the channel is already closed.
func (m *Manager) Done(name string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[name]; ok {
		return e.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (m *Manager) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown cancels in-flight attempts, waits for their workers and then
// disconnects every established connection.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, e := range m.entries {
		if e.conn.Status != StatusConnected {
			e.requestCancel()
		}
	}
	m.mu.Unlock()
	m.stop()

	waited := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return fmt.Errorf("waiting for connect workers: %w", ctx.Err())
	}

	g, _ := errgroup.WithContext(ctx)
	for _, name := range m.names() {
		g.Go(func() error {
			err := m.Disconnect(name)
			if errors.Is(err, common.ErrNotConnected) {
				return nil
			}
			return err
		})
	}
	err := g.Wait()
	m.events.Close()
	return err
}
