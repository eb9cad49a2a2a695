// Package monitor runs the periodic background work: reconciliation of
// RDP client liveness and traffic sampling.
package monitor

import (
	"context"
	"sync"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/connection"
	"github.com/yllada/vpnrdp-manager/process"
)

// Tracker exposes the established connections and tears down dead ones.
type Tracker interface {
	Tracked() []connection.Tracked
	ReapExited(name string, h process.Handle) bool
}

// Poller checks process liveness.
type Poller interface {
	Poll(h process.Handle) bool
}

// Reconciler detects RDP clients that exited on their own, typically the
// user closing the remote desktop window, and disconnects their profile.
type Reconciler struct {
	tracker Tracker
	poller  Poller

	mu       sync.RWMutex
	onReaped func(name string)
}

// NewReconciler creates a reconciler.
func NewReconciler(tracker Tracker, poller Poller) *Reconciler {
	return &Reconciler{tracker: tracker, poller: poller}
}

// SetOnReaped sets a callback run after a profile was disconnected because
// its RDP client exited.
func (r *Reconciler) SetOnReaped(callback func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReaped = callback
}

// Tick polls every tracked RDP client once and returns how many
// connections were torn down.
func (r *Reconciler) Tick(ctx context.Context) int {
	reaped := 0
	for _, t := range r.tracker.Tracked() {
		if ctx.Err() != nil {
			break
		}
		if r.poller.Poll(t.Handle) {
			continue
		}

		common.LogInfo("RDP client of %s (pid %d) is gone", t.Profile, t.Handle.Pid())
		if !r.tracker.ReapExited(t.Profile, t.Handle) {
			continue
		}
		reaped++

		r.mu.RLock()
		cb := r.onReaped
		r.mu.RUnlock()
		if cb != nil {
			cb(t.Profile)
		}
	}
	return reaped
}
