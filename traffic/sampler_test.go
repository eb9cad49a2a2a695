package traffic

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/yllada/vpnrdp-manager/common"
	"github.com/yllada/vpnrdp-manager/connection"
	"github.com/yllada/vpnrdp-manager/process"
)

type fakeStats struct {
	seq   []process.Counters
	calls int
	err   error
}

func (f *fakeStats) QueryStats(context.Context, string) (process.Counters, error) {
	if f.err != nil {
		return process.Counters{}, f.err
	}
	c := f.seq[f.calls]
	f.calls++
	return c, nil
}

type fakeConns []connection.Connection

func (f fakeConns) List() []connection.Connection { return f }

func connected(name, session string) connection.Connection {
	return connection.Connection{Profile: name, Status: connection.StatusConnected, VPNSession: session}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing(60)
	for i := 0; i < 61; i++ {
		r.Push(uint64(i))
	}
	if r.Len() != 60 {
		t.Fatalf("Len() = %d, want 60", r.Len())
	}
	values := r.Values()
	if values[0] != 1 || values[59] != 60 {
		t.Errorf("Values() = [%d ... %d], want [1 ... 60]", values[0], values[59])
	}
	if r.Max() != 60 {
		t.Errorf("Max() = %d", r.Max())
	}
}

func TestRing_Partial(t *testing.T) {
	r := NewRing(3)
	if r.Max() != 0 || len(r.Values()) != 0 {
		t.Error("empty ring should have no values")
	}
	r.Push(5)
	r.Push(2)
	if got := r.Values(); !reflect.DeepEqual(got, []uint64{5, 2}) {
		t.Errorf("Values() = %v", got)
	}
}

func TestSampler_RatesClampNegativeDeltas(t *testing.T) {
	stats := &fakeStats{seq: []process.Counters{
		{BytesIn: 0, BytesOut: 0},
		{BytesIn: 1000, BytesOut: 1000},
		{BytesIn: 900, BytesOut: 900},
		{BytesIn: 2500, BytesOut: 2500},
	}}
	s := NewSampler(stats, fakeConns{connected("office", "/s/1")}, 60, 2*time.Second)

	for range stats.seq {
		if err := s.Tick(context.Background()); err != nil {
			t.Fatalf("Tick() error = %v", err)
		}
	}

	in, out := s.History()
	want := []uint64{0, 1000, 0, 1600}
	if !reflect.DeepEqual(in, want) || !reflect.DeepEqual(out, want) {
		t.Errorf("History() = %v / %v, want %v", in, out, want)
	}
	if got := s.ScaleMax(); got != 1600*common.ScaleHeadroom {
		t.Errorf("ScaleMax() = %v, want %v", got, 1600*common.ScaleHeadroom)
	}
}

func TestSampler_NoTargetPushesZero(t *testing.T) {
	s := NewSampler(&fakeStats{}, fakeConns{
		{Profile: "office", Status: connection.StatusConnectingRDP, VPNSession: "/s/1"},
	}, 60, time.Second)

	for i := 0; i < 3; i++ {
		if err := s.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	in, _ := s.History()
	if !reflect.DeepEqual(in, []uint64{0, 0, 0}) {
		t.Errorf("History() = %v, want three zero samples", in)
	}
	if s.ScaleMax() != common.DefaultScaleMax {
		t.Errorf("ScaleMax() = %v, want default", s.ScaleMax())
	}
}

func TestSampler_QueryFailureSkipsTick(t *testing.T) {
	stats := &fakeStats{err: common.ErrSubprocessTimeout}
	s := NewSampler(stats, fakeConns{connected("office", "/s/1")}, 60, time.Second)

	if err := s.Tick(context.Background()); !errors.Is(err, common.ErrSubprocessTimeout) {
		t.Errorf("Tick() error = %v", err)
	}
	if in, _ := s.History(); len(in) != 0 {
		t.Errorf("failed tick should not push a sample, got %v", in)
	}
}

func TestSampler_TargetSelection(t *testing.T) {
	conns := fakeConns{connected("alpha", "/s/a"), connected("beta", "/s/b")}
	stats := &fakeStats{seq: []process.Counters{{BytesIn: 1}, {BytesIn: 2}, {BytesIn: 3}}}
	s := NewSampler(stats, conns, 10, time.Second)
	events, unsub := s.Subscribe(8)
	defer unsub()

	if err := s.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ev := <-events; ev.Profile != "alpha" {
		t.Errorf("auto mode sampled %q, want alpha", ev.Profile)
	}

	s.SetMonitored("beta")
	if err := s.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ev := <-events; ev.Profile != "beta" {
		t.Errorf("explicit selection sampled %q, want beta", ev.Profile)
	}

	s.SetMonitored("gamma")
	if err := s.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ev := <-events; ev.Profile != "" {
		t.Errorf("unconnected selection should yield a zero sample, got %q", ev.Profile)
	}
}

func TestSampler_NewSessionRestartsDelta(t *testing.T) {
	s := NewSampler(&fakeStats{}, fakeConns{}, 10, time.Second)
	s.Observe("office", "/s/1", process.Counters{BytesIn: 100})
	if got := s.Observe("office", "/s/1", process.Counters{BytesIn: 300}); got.InRate != 200 {
		t.Errorf("InRate = %d, want 200", got.InRate)
	}
	if got := s.Observe("office", "/s/2", process.Counters{BytesIn: 5000}); got.InRate != 0 {
		t.Errorf("first sample of a new session InRate = %d, want 0", got.InRate)
	}
}

func TestSampler_ScaleKeepsPreviousWhenIdle(t *testing.T) {
	s := NewSampler(&fakeStats{}, fakeConns{}, 2, time.Second)
	s.Observe("office", "/s/1", process.Counters{})
	s.Observe("office", "/s/1", process.Counters{BytesIn: 500})
	if s.ScaleMax() != 600 {
		t.Fatalf("ScaleMax() = %v, want 600", s.ScaleMax())
	}

	// Two zero samples age the peak out of a 2-point window.
	s.Observe("office", "/s/1", process.Counters{BytesIn: 500})
	s.Observe("office", "/s/1", process.Counters{BytesIn: 500})
	if s.ScaleMax() != 600 {
		t.Errorf("ScaleMax() = %v, want the previous 600 while the window is all zeros", s.ScaleMax())
	}
}

func TestFormatSummary(t *testing.T) {
	sample := Sample{Profile: "office", TotalIn: 3 * 1024 * 1024, TotalOut: 1024 * 1024 / 2, InRate: 20480, OutRate: 2048}
	got := FormatSummary(sample, 2*time.Second)
	want := "office - Total: In 3.0MB / Out 0.5MB | Rate: In 10.0KB/s / Out 1.0KB/s"
	if got != want {
		t.Errorf("FormatSummary() = %q, want %q", got, want)
	}
	if FormatSummary(Sample{}, time.Second) != "No active connection" {
		t.Error("zero sample summary")
	}
}
