// Package process starts, polls and stops the external VPN and RDP clients
// and parses their line-oriented output.
package process

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yllada/vpnrdp-manager/common"
)

// Handle is an owned, running OS process.
type Handle interface {
	Pid() int
	Alive() bool
	Done() <-chan struct{}
}

// Process is a child started in its own process group so that terminating
// it also reaches any helpers it forked.
type Process struct {
	cmd     *exec.Cmd
	name    string
	started time.Time
	output  *tailBuffer

	done    chan struct{}
	mu      sync.Mutex
	waitErr error
}

// Launch starts name with args and returns once the process exists.
func Launch(name string, args []string) (*Process, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out := newTailBuffer(4096)
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, common.ErrBinaryNotFound
		}
		return nil, err
	}

	p := &Process{
		cmd:     cmd,
		name:    name,
		started: time.Now(),
		output:  out,
		done:    make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.done)
}

// Pid returns the process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Name returns the executable the process was started from.
func (p *Process) Name() string {
	return p.name
}

// Started returns the launch time.
func (p *Process) Started() time.Time {
	return p.started
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the result of Wait once the process has exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Output returns the last few KB the process wrote to stdout and stderr.
func (p *Process) Output() string {
	return p.output.String()
}

// Stop sends SIGTERM to the process group, waits up to grace and then
// sends SIGKILL. Stopping an exited process is a no-op.
func (p *Process) Stop(grace time.Duration) error {
	if !p.Alive() {
		return nil
	}

	pid := p.Pid()
	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		common.LogDebug("SIGTERM to %s (pid %d) failed: %v", p.name, pid, err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	common.LogWarn("%s (pid %d) did not exit within %v, killing", p.name, pid, grace)
	if err := signalGroup(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(2 * time.Second):
		return common.ErrSubprocessTimeout
	}
}

// signalGroup signals the whole process group, falling back to the single
// process when the group is already gone.
func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, data...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(data), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
