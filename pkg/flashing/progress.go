// Package flashing implements the install pipeline stage components:
// download, decompress, verify and flash. Each component streams its work
// through a progress sink and observes cancellation at every suspension
// point (chunk read, decoder read, child-process wait).
package flashing

// Stage identifies one pipeline stage. Stages always execute in the
// fixed order Download, Decompress, Verify, Flash.
type Stage string

const (
	StageDownload   Stage = "download"
	StageDecompress Stage = "decompress"
	StageVerify     Stage = "verify"
	StageFlash      Stage = "flash"
)

// Stages lists all stages in execution order.
var Stages = []Stage{StageDownload, StageDecompress, StageVerify, StageFlash}

// Status is the lifecycle state of a stage or a whole run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// TotalUnknown is used for BytesTotal when the size is indeterminate,
// e.g. an HTTP response without Content-Length.
const TotalUnknown int64 = -1

// Stage weights for the blended overall fraction. Download and flash
// dominate wall-clock time by an order of magnitude, so equal quarters
// would make the bar crawl then jump.
var stageWeights = map[Stage]float64{
	StageDownload:   0.45,
	StageDecompress: 0.10,
	StageVerify:     0.10,
	StageFlash:      0.35,
}

// Event is one progress update from the active stage.
type Event struct {
	Stage      Stage
	BytesDone  int64
	BytesTotal int64 // TotalUnknown when indeterminate
	// Fraction is the blended 0..1 progress across the whole run.
	Fraction float64
	// Line carries one line of flashing-tool output, for the log view.
	// Empty for byte-progress events.
	Line string
}

// Sink receives progress events. Implementations must not block; the
// pipeline wraps delivery in a bounded drop-oldest channel.
type Sink func(Event)

// OverallFraction blends a stage-local fraction into the run-wide 0..1
// value: completed stages contribute their full weight, the active stage
// contributes proportionally, later stages contribute nothing.
func OverallFraction(active Stage, done, total int64) float64 {
	overall := 0.0
	for _, s := range Stages {
		if s == active {
			break
		}
		overall += stageWeights[s]
	}

	if total > 0 && done > 0 {
		local := float64(done) / float64(total)
		if local > 1 {
			local = 1
		}
		overall += stageWeights[active] * local
	}
	return overall
}
