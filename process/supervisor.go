package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/config"
	"github.com/yllada/vpnrdp-manager/profile"
)

// Options configure a Supervisor.
type Options struct {
	VPNBinary         string
	RDPBinaries       []string
	MonitorBinary     string
	VPNStartTimeout   time.Duration
	VPNStopTimeout    time.Duration
	StatsTimeout      time.Duration
	RDPGraceWindow    time.Duration
	IgnoreCertificate bool
	HomeDir           string
}

// OptionsFromConfig maps application settings onto supervisor options.
func OptionsFromConfig(cfg *config.Config) Options {
	home, _ := os.UserHomeDir()
	return Options{
		VPNBinary:         cfg.VPNBinary,
		RDPBinaries:       cfg.RDPBinaries,
		MonitorBinary:     common.MonitorQueryBinary,
		VPNStartTimeout:   cfg.VPNStartTimeout,
		VPNStopTimeout:    cfg.VPNStopTimeout,
		StatsTimeout:      cfg.StatsTimeout,
		RDPGraceWindow:    cfg.RDPGraceWindow,
		IgnoreCertificate: cfg.IgnoreCertificate,
		HomeDir:           home,
	}
}

// Supervisor drives the openvpn3 and FreeRDP command line clients.
type Supervisor struct {
	opts     Options
	lookPath func(string) (string, error)
}

// NewSupervisor creates a supervisor. Zero timeouts get the defaults.
func NewSupervisor(opts Options) *Supervisor {
	if opts.VPNBinary == "" {
		opts.VPNBinary = common.VPNBinary
	}
	if len(opts.RDPBinaries) == 0 {
		opts.RDPBinaries = common.RDPBinaries
	}
	if opts.MonitorBinary == "" {
		opts.MonitorBinary = common.MonitorQueryBinary
	}
	if opts.VPNStartTimeout <= 0 {
		opts.VPNStartTimeout = common.VPNStartTimeout
	}
	if opts.VPNStopTimeout <= 0 {
		opts.VPNStopTimeout = common.VPNStopTimeout
	}
	if opts.StatsTimeout <= 0 {
		opts.StatsTimeout = common.StatsTimeout
	}
	if opts.RDPGraceWindow <= 0 {
		opts.RDPGraceWindow = common.RDPGraceWindow
	}
	return &Supervisor{opts: opts, lookPath: exec.LookPath}
}

// StartVPN runs `openvpn3 session-start --config <path>`, feeding username
// and secret as two stdin lines, and returns the session path it reports.
func (s *Supervisor) StartVPN(ctx context.Context, configPath, username, secret string) (string, error) {
	if configPath == "" {
		return "", common.ErrConfigNotFound
	}
	if _, err := os.Stat(configPath); err != nil {
		return "", fmt.Errorf("%w: %s", common.ErrConfigNotFound, configPath)
	}

	common.LogInfo("Starting VPN session with config %s", configPath)
	stdout, err := s.run(ctx, s.opts.VPNStartTimeout, username+"\n"+secret+"\n",
		s.opts.VPNBinary, "session-start", "--config", configPath)
	if err != nil {
		return "", err
	}

	session, err := ParseSessionPath(stdout)
	if err != nil {
		common.LogDebug("session-start output: %s", redactSecret(stdout, secret))
		return "", err
	}
	common.LogInfo("VPN session established: %s", session)
	return session, nil
}

// StopVPN disconnects a VPN session. Failures are logged and swallowed;
// the daemon may already have dropped the session.
func (s *Supervisor) StopVPN(ctx context.Context, session string) {
	if session == "" {
		return
	}
	_, err := s.run(ctx, s.opts.VPNStopTimeout, "",
		s.opts.VPNBinary, "session-manage", "--session-path", session, "--disconnect")
	if err != nil {
		common.LogWarn("VPN disconnect of %s failed (ignored): %v", session, err)
		return
	}
	common.LogInfo("VPN session disconnected: %s", session)
}

// QueryStats returns the cumulative byte counters of a VPN session.
func (s *Supervisor) QueryStats(ctx context.Context, session string) (Counters, error) {
	stdout, err := s.run(ctx, s.opts.StatsTimeout, "",
		s.opts.VPNBinary, "session-stats", "--session-path", session)
	if err != nil {
		return Counters{}, err
	}
	return ParseStats(stdout)
}

// ListVPNConfigs returns the configurations imported into openvpn3.
func (s *Supervisor) ListVPNConfigs(ctx context.Context) ([]string, error) {
	stdout, err := s.run(ctx, s.opts.StatsTimeout, "", s.opts.VPNBinary, "configs-list")
	if err != nil {
		return nil, err
	}
	return ParseConfigsList(stdout), nil
}

// ListMonitors returns the connected display outputs reported by xrandr.
func (s *Supervisor) ListMonitors(ctx context.Context) ([]Monitor, error) {
	stdout, err := s.run(ctx, s.opts.StatsTimeout, "", s.opts.MonitorBinary, "--query")
	if err != nil {
		return nil, err
	}
	return ParseXrandr(stdout), nil
}

// FindRDPBinary returns the first configured FreeRDP client on PATH.
func (s *Supervisor) FindRDPBinary() (string, error) {
	for _, name := range s.opts.RDPBinaries {
		if path, err := s.lookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: none of %s", common.ErrBinaryNotFound, strings.Join(s.opts.RDPBinaries, ", "))
}

// StartRDP launches the RDP client for p and waits the grace window. A
// client that exits during the window is ErrProcessDiedPrematurely.
func (s *Supervisor) StartRDP(ctx context.Context, p *profile.Profile, secret string) (Handle, error) {
	bin, err := s.FindRDPBinary()
	if err != nil {
		return nil, err
	}

	args := BuildRDPArgs(p, secret, ArgOptions{
		IgnoreCertificate: s.opts.IgnoreCertificate,
		HomeDir:           s.opts.HomeDir,
	})
	common.LogInfo("Starting RDP client: %s %s", bin, strings.Join(RedactArgs(args), " "))

	proc, err := Launch(bin, args)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", bin, err)
	}

	return s.confirm(ctx, proc, secret)
}

func (s *Supervisor) confirm(ctx context.Context, proc *Process, secret string) (Handle, error) {
	timer := time.NewTimer(s.opts.RDPGraceWindow)
	defer timer.Stop()

	select {
	case <-proc.Done():
		out := strings.TrimSpace(redactSecret(proc.Output(), secret))
		common.LogWarn("RDP client exited during grace window: %v", proc.ExitErr())
		if out != "" {
			common.LogDebug("RDP client output: %s", out)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrProcessDiedPrematurely, proc.ExitErr())
	case <-ctx.Done():
		_ = proc.Stop(time.Second)
		return nil, ctx.Err()
	case <-timer.C:
	}

	common.LogInfo("RDP client running (pid %d)", proc.Pid())
	return proc, nil
}

// Poll reports whether the process behind h is still running.
func (s *Supervisor) Poll(h Handle) bool {
	return h != nil && h.Alive()
}

type stopper interface {
	Stop(grace time.Duration) error
}

// Stop terminates h, force-killing it after grace.
func (s *Supervisor) Stop(h Handle, grace time.Duration) error {
	if h == nil {
		return nil
	}
	st, ok := h.(stopper)
	if !ok {
		return fmt.Errorf("handle %d cannot be stopped", h.Pid())
	}
	return st.Stop(grace)
}

// Dependency is an external program the manager needs.
type Dependency struct {
	Name     string
	Path     string
	Required bool
}

// Found reports whether the program is on PATH.
func (d Dependency) Found() bool {
	return d.Path != ""
}

// CheckDependencies looks up the VPN client, an RDP client and xrandr.
func (s *Supervisor) CheckDependencies() []Dependency {
	deps := []Dependency{{Name: s.opts.VPNBinary, Required: true}}
	if path, err := s.lookPath(s.opts.VPNBinary); err == nil {
		deps[0].Path = path
	}

	rdp := Dependency{Name: strings.Join(s.opts.RDPBinaries, " or "), Required: true}
	if path, err := s.FindRDPBinary(); err == nil {
		rdp.Path = path
	}
	deps = append(deps, rdp)

	mon := Dependency{Name: s.opts.MonitorBinary}
	if path, err := s.lookPath(s.opts.MonitorBinary); err == nil {
		mon.Path = path
	}
	return append(deps, mon)
}

// run executes a short-lived command bounded by timeout and returns stdout.
func (s *Supervisor) run(ctx context.Context, timeout time.Duration, stdin, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	op := name
	if len(args) > 0 {
		op = name + " " + args[0]
	}

	switch {
	case err == nil:
		return stdout.String(), nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "", common.WrapOp(op, "", fmt.Errorf("%w after %v", common.ErrSubprocessTimeout, timeout))
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return "", common.WrapOp(op, "", fmt.Errorf("%w: %s", common.ErrBinaryNotFound, name))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		// stdin carries credentials; never echo them back in an error.
		for _, line := range strings.Split(stdin, "\n") {
			msg = redactSecret(msg, line)
		}
		return "", common.WrapOp(op, "", fmt.Errorf("%w (code %d): %s",
			common.ErrSubprocessNonZeroExit, exitErr.ExitCode(), lastLine(msg)))
	}
	return "", common.WrapOp(op, "", err)
}

func lastLine(s string) string {
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
