package history

import (
	"context"
	"sync"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/connection"
	"github.com/yllada/vpnrdp-manager/traffic"
)

// Recorder writes status transitions and the last traffic totals of each
// attempt into a Store.
type Recorder struct {
	store *Store

	mu     sync.Mutex
	totals map[string]traffic.Sample
}

// NewRecorder creates a recorder for store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store, totals: make(map[string]traffic.Sample)}
}

// Run consumes events until ctx is done or both channels are closed.
func (r *Recorder) Run(ctx context.Context, statuses <-chan connection.StatusEvent, samples <-chan traffic.Sample) {
	for statuses != nil || samples != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			r.HandleStatus(ctx, ev)
		case s, ok := <-samples:
			if !ok {
				samples = nil
				continue
			}
			r.HandleSample(s)
		}
	}
}

// HandleSample remembers the latest cumulative counters of a profile.
func (r *Recorder) HandleSample(s traffic.Sample) {
	if s.Profile == "" {
		return
	}
	r.mu.Lock()
	r.totals[s.Profile] = s
	r.mu.Unlock()
}

// HandleStatus records one status transition.
func (r *Recorder) HandleStatus(ctx context.Context, ev connection.StatusEvent) {
	var err error
	switch {
	case ev.Status == connection.StatusConnectingVPN:
		r.mu.Lock()
		delete(r.totals, ev.Profile)
		r.mu.Unlock()
		err = r.store.Begin(ctx, ev.AttemptID, ev.Profile, ev.Time)
	case ev.Status == connection.StatusConnected:
		err = r.store.MarkConnected(ctx, ev.AttemptID, ev.Time)
	case ev.Status == connection.StatusDisconnected || ev.Status.Failed():
		r.mu.Lock()
		last := r.totals[ev.Profile]
		delete(r.totals, ev.Profile)
		r.mu.Unlock()
		err = r.store.Finish(ctx, ev.AttemptID, ev.Status.String(), ev.Message, last.TotalIn, last.TotalOut, ev.Time)
	}
	if err != nil {
		common.LogWarn("History: %v", err)
	}
}
