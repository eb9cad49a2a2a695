// Package traffic turns cumulative VPN byte counters into per-interval
// rates kept in a rolling window for charting.
package traffic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/connection"
	"github.com/yllada/vpnrdp-manager/event"
	"github.com/yllada/vpnrdp-manager/process"
)

// StatsSource returns cumulative counters for a VPN session.
type StatsSource interface {
	QueryStats(ctx context.Context, session string) (process.Counters, error)
}

// ConnectionSource lists the active connections.
type ConnectionSource interface {
	List() []connection.Connection
}

// Sample is one tick of traffic. Rates are bytes per sampling interval.
// Profile is empty for the zero sample pushed while nothing is monitored.
type Sample struct {
	Profile  string    `json:"profile"`
	InRate   uint64    `json:"in_rate"`
	OutRate  uint64    `json:"out_rate"`
	TotalIn  uint64    `json:"total_in"`
	TotalOut uint64    `json:"total_out"`
	Time     time.Time `json:"time"`
}

type observation struct {
	session  string
	counters process.Counters
}

// Sampler polls the monitored connection's counters on every Tick.
type Sampler struct {
	stats    StatsSource
	conns    ConnectionSource
	interval time.Duration

	mu        sync.Mutex
	monitored string
	in, out   *Ring
	last      map[string]observation
	scaleMax  float64
	latest    Sample

	events *event.Bus[Sample]
}

// NewSampler creates a sampler with a window of points samples. interval
// is only used to express rates per second.
func NewSampler(stats StatsSource, conns ConnectionSource, points int, interval time.Duration) *Sampler {
	if points < 1 {
		points = common.HistoryPoints
	}
	if interval <= 0 {
		interval = common.SampleInterval
	}
	return &Sampler{
		stats:    stats,
		conns:    conns,
		interval: interval,
		in:       NewRing(points),
		out:      NewRing(points),
		last:     make(map[string]observation),
		scaleMax: common.DefaultScaleMax,
		events:   event.NewBus[Sample]("traffic"),
	}
}

// Subscribe returns a channel of samples and its unsubscribe function.
func (s *Sampler) Subscribe(buffer int) (<-chan Sample, func()) {
	return s.events.Subscribe(buffer)
}

// SetMonitored selects the profile to chart. An empty name selects auto
// mode: the first connected profile with a VPN session, by name.
func (s *Sampler) SetMonitored(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitored = name
}

// Monitored returns the explicit selection, empty in auto mode.
func (s *Sampler) Monitored() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitored
}

// target picks the connection to sample.
func (s *Sampler) target() (name, session string) {
	selected := s.Monitored()
	for _, c := range s.conns.List() {
		if c.Status != connection.StatusConnected || c.VPNSession == "" {
			continue
		}
		if selected == "" || c.Profile == selected {
			return c.Profile, c.VPNSession
		}
	}
	return "", ""
}

// Tick takes one sample. With nothing to monitor a zero sample is pushed so
// the window keeps moving. A failed counter query skips the tick and
// returns the error.
func (s *Sampler) Tick(ctx context.Context) error {
	name, session := s.target()
	if name == "" {
		s.push(Sample{Time: time.Now()})
		return nil
	}

	counters, err := s.stats.QueryStats(ctx, session)
	if err != nil {
		common.LogDebug("Skipping traffic sample for %s: %v", name, err)
		return err
	}
	s.Observe(name, session, counters)
	return nil
}

// Observe records cumulative counters for a session and pushes the rate
// since the previous observation of the same session. The first
// observation of a session has rate 0; a counter that went backwards also
// yields 0 for that direction.
func (s *Sampler) Observe(name, session string, c process.Counters) Sample {
	s.mu.Lock()
	prev, seen := s.last[name]
	s.last[name] = observation{session: session, counters: c}
	s.mu.Unlock()

	sample := Sample{
		Profile:  name,
		TotalIn:  c.BytesIn,
		TotalOut: c.BytesOut,
		Time:     time.Now(),
	}
	if seen && prev.session == session {
		sample.InRate = delta(c.BytesIn, prev.counters.BytesIn)
		sample.OutRate = delta(c.BytesOut, prev.counters.BytesOut)
	}
	s.push(sample)
	return sample
}

func delta(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func (s *Sampler) push(sample Sample) {
	s.mu.Lock()
	s.in.Push(sample.InRate)
	s.out.Push(sample.OutRate)
	if peak := max(s.in.Max(), s.out.Max()); peak > 0 {
		s.scaleMax = float64(peak) * common.ScaleHeadroom
	}
	s.latest = sample
	s.mu.Unlock()

	s.events.Publish(sample)
}

// Forget drops the stored counters of a profile, e.g. after it disconnects.
func (s *Sampler) Forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, name)
}

// History returns copies of the in and out windows, oldest first.
func (s *Sampler) History() (in, out []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.in.Values(), s.out.Values()
}

// ScaleMax is the chart's upper bound: 1.2 times the largest rate in the
// window, kept at its previous value while the window is all zeros.
func (s *Sampler) ScaleMax() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scaleMax
}

// Latest returns the most recent sample.
func (s *Sampler) Latest() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Interval returns the sampling interval rates are measured over.
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// Close closes every subscriber channel.
func (s *Sampler) Close() {
	s.events.Close()
}

// FormatSummary renders totals in MB and rates in KB/s, e.g.
// "office - Total: In 1.3MB / Out 0.2MB | Rate: In 12.5KB/s / Out 1.0KB/s".
func FormatSummary(sample Sample, interval time.Duration) string {
	if sample.Profile == "" {
		return "No active connection"
	}
	const mb = 1024 * 1024
	secs := interval.Seconds()
	if secs <= 0 {
		secs = 1
	}
	return fmt.Sprintf("%s - Total: In %.1fMB / Out %.1fMB | Rate: In %.1fKB/s / Out %.1fKB/s",
		sample.Profile,
		float64(sample.TotalIn)/mb, float64(sample.TotalOut)/mb,
		float64(sample.InRate)/1024/secs, float64(sample.OutRate)/1024/secs)
}
