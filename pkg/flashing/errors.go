package flashing

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned by a stage that stopped because the run's
// cancellation flag was set.
var ErrCancelled = errors.New("install cancelled")

// ErrDeviceRemoved indicates the target device disappeared while the
// flash stage was running. Never retried automatically: the device may
// be in an inconsistent partition state.
var ErrDeviceRemoved = errors.New("device removed during flash")

// HTTPStatusError reports a non-2xx download response.
type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d for %s", e.Status, e.URL)
}

// ChecksumMismatchError reports a digest that does not match the
// expected value. Always fatal for the run.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// CorruptArchiveError reports decoder-detected stream corruption.
type CorruptArchiveError struct {
	Path string
	Err  error
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupt archive %s: %v", e.Path, e.Err)
}

func (e *CorruptArchiveError) Unwrap() error {
	return e.Err
}

// FlashCommandError reports a flashing-tool step that exited non-zero.
// The run halts at the failing step; remaining steps are never issued.
type FlashCommandError struct {
	Step     Step
	ExitCode int
	Output   string
}

func (e *FlashCommandError) Error() string {
	return fmt.Sprintf("flash step %s %s failed with exit code %d", e.Step.Op, e.Step.Partition, e.ExitCode)
}
