package pipeline

import (
	"context"
	"testing"

	"github.com/droidflash/droidflash/pkg/catalog"
	"github.com/droidflash/droidflash/pkg/flashing"
)

func newRun() *Run {
	return NewRun(context.Background(), &catalog.InstallerConfig{Codename: "sargo", Serial: "SER123"})
}

func TestRun_CancelPropagates(t *testing.T) {
	r := newRun()
	if r.Cancelled() {
		t.Fatal("fresh run must not be cancelled")
	}
	r.Cancel()
	if !r.Cancelled() {
		t.Fatal("cancel not observed")
	}
	select {
	case <-r.Context().Done():
	default:
		t.Fatal("run context not done after cancel")
	}
}

func TestRun_StageOrdering(t *testing.T) {
	r := newRun()

	if err := r.startStage(flashing.StageVerify); err == nil {
		t.Fatal("verify must not start before download succeeded")
	}

	if err := r.startStage(flashing.StageDownload); err != nil {
		t.Fatalf("download start: %v", err)
	}
	if err := r.startStage(flashing.StageDecompress); err == nil {
		t.Fatal("decompress must not start while download is running")
	}

	r.finishStage(flashing.StageDownload, flashing.StatusSucceeded)
	if err := r.startStage(flashing.StageDecompress); err != nil {
		t.Fatalf("decompress start: %v", err)
	}
}

func TestRun_PublishDropsOldest(t *testing.T) {
	r := newRun()

	total := eventBuffer + 10
	for i := 0; i < total; i++ {
		r.publish(flashing.Event{Stage: flashing.StageDownload, BytesDone: int64(i)})
	}

	// The buffer holds the newest eventBuffer events; the first ten were
	// dropped to make room.
	first := <-r.Events()
	if first.BytesDone != 10 {
		t.Errorf("first buffered event = %d, want 10", first.BytesDone)
	}
}

func TestRun_PublishAfterFinishIsNoop(t *testing.T) {
	r := newRun()
	r.finish(flashing.StatusFailed)

	// Must not panic on the closed channel.
	r.publish(flashing.Event{Stage: flashing.StageDownload})

	if _, ok := <-r.Events(); ok {
		t.Error("event stream should be closed and drained")
	}
	if r.Status() != flashing.StatusFailed {
		t.Errorf("status = %s", r.Status())
	}
}

func TestRun_SinkRecordsProgress(t *testing.T) {
	r := newRun()
	sink := r.Sink()

	sink(flashing.Event{Stage: flashing.StageDownload, BytesDone: 50, BytesTotal: 100})

	states := r.StageStates()
	if states[0].Stage != flashing.StageDownload || states[0].BytesDone != 50 || states[0].BytesTotal != 100 {
		t.Errorf("download state = %+v", states[0])
	}

	ev := <-r.Events()
	if ev.Fraction == 0 {
		t.Error("sink should fill in the overall fraction")
	}
}
