package hardware

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// monitorBuffer bounds the event channel. Only the latest state matters
// to consumers, so the monitor drops the oldest queued event when full
// instead of blocking the poll loop.
const monitorBuffer = 16

// SnapshotSource is anything that can report the current USB device
// state. *Prober is the production implementation.
type SnapshotSource interface {
	Probe(ctx context.Context) Snapshot
}

// Monitor polls a SnapshotSource on a fixed interval in a background
// goroutine and publishes device lifecycle events. A device must be
// absent for removalMisses consecutive polls before Removed fires, so
// transient USB enumeration hiccups never flap the wizard.
type Monitor struct {
	prober        SnapshotSource
	interval      time.Duration
	removalMisses int

	events chan Event
	paused atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewMonitor builds a monitor. interval defaults to 1s and removalMisses
// to 3 when non-positive.
func NewMonitor(prober SnapshotSource, interval time.Duration, removalMisses int) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	if removalMisses <= 0 {
		removalMisses = 3
	}
	return &Monitor{
		prober:        prober,
		interval:      interval,
		removalMisses: removalMisses,
		events:        make(chan Event, monitorBuffer),
	}
}

// Events returns the subscription channel. Events arrive in poll order.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Start launches the poll loop. It is an error-free no-op if already running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true

	slog.Info("monitor_start", "interval", m.interval, "removal_misses", m.removalMisses)
	go m.loop(ctx)
}

// Stop halts the poll loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.started = false
	m.mu.Unlock()

	cancel()
	<-done
	slog.Info("monitor_stopped")
}

// Pause suspends probing without stopping the goroutine. Used while the
// flash executor owns the device: probing mid-flash can confuse fastboot.
func (m *Monitor) Pause() {
	slog.Info("monitor_paused")
	m.paused.Store(true)
}

// Resume re-enables probing. Diff state is reset inside the loop so a
// still-connected device is reported as Appeared again.
func (m *Monitor) Resume() {
	slog.Info("monitor_resumed")
	m.paused.Store(false)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var last *Identity
	misses := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if m.paused.Load() {
			// Reset so reconnection is detected fresh on resume.
			last = nil
			misses = 0
			continue
		}

		snap := m.prober.Probe(ctx)

		switch {
		case snap.Present() && last == nil:
			misses = 0
			last = snap.Device
			slog.Info("device_appeared", "serial", last.Serial, "mode", last.Mode, "codename", last.Codename)
			m.publish(Event{Kind: EventAppeared, Device: snap.Device})

		case snap.Present():
			misses = 0
			if snap.Device.Serial != last.Serial || snap.Device.Mode != last.Mode {
				slog.Info("device_changed",
					"serial", snap.Device.Serial, "mode", snap.Device.Mode,
					"prev_serial", last.Serial, "prev_mode", last.Mode)
				m.publish(Event{Kind: EventChanged, Device: snap.Device, Previous: last})
			}
			last = snap.Device

		case last != nil:
			misses++
			if misses >= m.removalMisses {
				slog.Info("device_removed", "serial", last.Serial, "misses", misses)
				m.publish(Event{Kind: EventRemoved, Previous: last})
				last = nil
				misses = 0
			}
		}
	}
}

// publish delivers without ever blocking the poll loop: when the buffer
// is full the oldest queued event is dropped to make room.
func (m *Monitor) publish(ev Event) {
	for {
		select {
		case m.events <- ev:
			return
		default:
			select {
			case dropped := <-m.events:
				slog.Warn("monitor_event_dropped", "kind", dropped.Kind)
			default:
			}
		}
	}
}
