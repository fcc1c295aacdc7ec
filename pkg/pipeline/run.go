package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/droidflash/droidflash/pkg/catalog"
	"github.com/droidflash/droidflash/pkg/flashing"
)

// eventBuffer bounds the unified event stream; slow consumers lose the
// oldest events, never block the pipeline.
const eventBuffer = 64

// StageState is the recorded progress of one pipeline stage.
type StageState struct {
	Stage      flashing.Stage
	Status     flashing.Status
	BytesDone  int64
	BytesTotal int64
}

// Run is the live state of one install attempt: the immutable plan, the
// per-stage progress, the overall status, and the cancellation handle.
type Run struct {
	config    *catalog.InstallerConfig
	installID int64

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	stages []StageState
	status flashing.Status

	events    chan flashing.Event
	closed    bool
	closeOnce sync.Once
}

// NewRun builds a pending run for the given plan. Cancel releases the
// run context; every stage observes it at its suspension points.
func NewRun(parent context.Context, cfg *catalog.InstallerConfig) *Run {
	ctx, cancel := context.WithCancel(parent)
	stages := make([]StageState, len(flashing.Stages))
	for i, s := range flashing.Stages {
		stages[i] = StageState{Stage: s, Status: flashing.StatusPending, BytesTotal: flashing.TotalUnknown}
	}
	return &Run{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		stages: stages,
		status: flashing.StatusPending,
		events: make(chan flashing.Event, eventBuffer),
	}
}

// Config returns the immutable install plan.
func (r *Run) Config() *catalog.InstallerConfig { return r.config }

// Context returns the run context; it is done once Cancel is called.
func (r *Run) Context() context.Context { return r.ctx }

// Cancel requests cancellation of the run.
func (r *Run) Cancel() { r.cancel() }

// Cancelled reports whether cancellation was requested.
func (r *Run) Cancelled() bool { return r.ctx.Err() != nil }

// InstallID returns the history row backing this run.
func (r *Run) InstallID() int64 { return r.installID }

// SetInstallID records the history row backing this run.
func (r *Run) SetInstallID(id int64) { r.installID = id }

// Events returns the unified progress stream. The channel is closed when
// the run reaches a terminal status.
func (r *Run) Events() <-chan flashing.Event { return r.events }

// Status returns the overall run status.
func (r *Run) Status() flashing.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// StageStates returns a snapshot of per-stage progress, in pipeline order.
func (r *Run) StageStates() []StageState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageState, len(r.stages))
	copy(out, r.stages)
	return out
}

// StageStatus returns the recorded status of one stage.
func (r *Run) StageStatus(stage flashing.Stage) flashing.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.stages {
		if r.stages[i].Stage == stage {
			return r.stages[i].Status
		}
	}
	return flashing.StatusPending
}

// startStage marks a stage Running. Every earlier stage must have
// Succeeded; anything else is a sequencing bug and the run must not
// proceed.
func (r *Run) startStage(stage flashing.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.stages {
		if r.stages[i].Stage == stage {
			r.stages[i].Status = flashing.StatusRunning
			if r.status == flashing.StatusPending {
				r.status = flashing.StatusRunning
			}
			return nil
		}
		if r.stages[i].Status != flashing.StatusSucceeded {
			return fmt.Errorf("stage %s started before %s succeeded (is %s)",
				stage, r.stages[i].Stage, r.stages[i].Status)
		}
	}
	return fmt.Errorf("unknown stage %s", stage)
}

// finishStage records a stage's terminal status.
func (r *Run) finishStage(stage flashing.Stage, status flashing.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.stages {
		if r.stages[i].Stage == stage {
			r.stages[i].Status = status
			return
		}
	}
}

// finish records the overall terminal status and closes the event stream.
func (r *Run) finish(status flashing.Status) {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.status = status
		r.closed = true
		r.mu.Unlock()
		close(r.events)
	})
}

// Sink returns the progress callback stages report through: it records
// byte counts, fills in the weighted overall fraction, and publishes to
// the event stream.
func (r *Run) Sink() flashing.Sink {
	return func(ev flashing.Event) {
		r.mu.Lock()
		for i := range r.stages {
			if r.stages[i].Stage == ev.Stage {
				r.stages[i].BytesDone = ev.BytesDone
				r.stages[i].BytesTotal = ev.BytesTotal
				break
			}
		}
		r.mu.Unlock()
		if ev.Fraction == 0 {
			ev.Fraction = flashing.OverallFraction(ev.Stage, ev.BytesDone, ev.BytesTotal)
		}
		r.publish(ev)
	}
}

// publish is non-blocking: when the buffer is full the oldest event is
// dropped to make room.
func (r *Run) publish(ev flashing.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for {
		select {
		case r.events <- ev:
			return
		default:
			select {
			case <-r.events:
			default:
			}
		}
	}
}
