package hardware

import (
	"context"
	"sync"
	"testing"
	"time"
)

// scriptedSource replays a fixed sequence of snapshots, repeating the
// last one once the script is exhausted.
type scriptedSource struct {
	mu    sync.Mutex
	snaps []Snapshot
	pos   int
}

func (s *scriptedSource) Probe(ctx context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.snaps) {
		return s.snaps[len(s.snaps)-1]
	}
	snap := s.snaps[s.pos]
	s.pos++
	return snap
}

func device(serial string, mode Mode) Snapshot {
	return Snapshot{Device: &Identity{Serial: serial, Mode: mode, BatteryLevel: -1}}
}

func collectEvents(t *testing.T, m *Monitor, n int, timeout time.Duration) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(timeout)
	for len(events) < n {
		select {
		case ev := <-m.Events():
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out after %v waiting for %d events, got %d: %v", timeout, n, len(events), events)
		}
	}
	return events
}

func TestMonitor_AppearedThenRemoved(t *testing.T) {
	src := &scriptedSource{snaps: []Snapshot{
		{},
		device("serial-1", ModeBridge),
		{}, {}, {}, // three misses -> removed
		{},
	}}

	m := NewMonitor(src, 5*time.Millisecond, 3)
	m.Start(context.Background())
	defer m.Stop()

	events := collectEvents(t, m, 2, 2*time.Second)

	if events[0].Kind != EventAppeared || events[0].Device.Serial != "serial-1" {
		t.Errorf("event 0 = %+v, want Appeared serial-1", events[0])
	}
	if events[1].Kind != EventRemoved || events[1].Previous.Serial != "serial-1" {
		t.Errorf("event 1 = %+v, want Removed serial-1", events[1])
	}
}

func TestMonitor_SingleMissDoesNotRemove(t *testing.T) {
	// Device present, one missed poll, present again: flap tolerance
	// means no Removed (and no second Appeared) is ever emitted.
	src := &scriptedSource{snaps: []Snapshot{
		device("serial-1", ModeBridge),
		{},
		device("serial-1", ModeBridge),
	}}

	m := NewMonitor(src, 5*time.Millisecond, 3)
	m.Start(context.Background())
	defer m.Stop()

	events := collectEvents(t, m, 1, 2*time.Second)
	if events[0].Kind != EventAppeared {
		t.Fatalf("first event = %+v, want Appeared", events[0])
	}

	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event after transient miss: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMonitor_ModeChangeEmitsChanged(t *testing.T) {
	src := &scriptedSource{snaps: []Snapshot{
		device("serial-1", ModeBridge),
		device("serial-1", ModeBootloader),
	}}

	m := NewMonitor(src, 5*time.Millisecond, 3)
	m.Start(context.Background())
	defer m.Stop()

	events := collectEvents(t, m, 2, 2*time.Second)

	if events[0].Kind != EventAppeared {
		t.Errorf("event 0 = %+v, want Appeared", events[0])
	}
	if events[1].Kind != EventChanged {
		t.Fatalf("event 1 = %+v, want Changed", events[1])
	}
	if events[1].Previous.Mode != ModeBridge || events[1].Device.Mode != ModeBootloader {
		t.Errorf("changed modes = %s -> %s, want bridge -> bootloader",
			events[1].Previous.Mode, events[1].Device.Mode)
	}
}

func TestMonitor_SteadyStateEmitsNothing(t *testing.T) {
	src := &scriptedSource{snaps: []Snapshot{
		device("serial-1", ModeBridge),
	}}

	m := NewMonitor(src, 5*time.Millisecond, 3)
	m.Start(context.Background())
	defer m.Stop()

	collectEvents(t, m, 1, 2*time.Second)

	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event in steady state: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMonitor_PauseSuppressesEvents(t *testing.T) {
	src := &scriptedSource{snaps: []Snapshot{
		device("serial-1", ModeBridge),
	}}

	m := NewMonitor(src, 5*time.Millisecond, 3)
	m.Pause()
	m.Start(context.Background())
	defer m.Stop()

	select {
	case ev := <-m.Events():
		t.Fatalf("event emitted while paused: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	// Resuming reports the still-connected device fresh.
	m.Resume()
	events := collectEvents(t, m, 1, 2*time.Second)
	if events[0].Kind != EventAppeared {
		t.Errorf("post-resume event = %+v, want Appeared", events[0])
	}
}
