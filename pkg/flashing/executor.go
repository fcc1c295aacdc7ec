package flashing

import (
	"context"
	goerrors "errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/droidflash/droidflash/pkg/hardware"
	"github.com/droidflash/droidflash/pkg/runner"
)

// MainImage is the placeholder a flash step uses to reference the
// downloaded-and-decompressed primary image of the run.
const MainImage = "$image"

// FastbootTool is the subset of the fastboot wrapper the executor
// drives. *hardware.Fastboot is the production implementation.
type FastbootTool interface {
	FlashWithFlags(ctx context.Context, serial, partition, image string, flags []string, onLine runner.LineFunc) error
	Erase(ctx context.Context, serial, partition string, onLine runner.LineFunc) error
	Format(ctx context.Context, serial, partition, fsType string, onLine runner.LineFunc) error
	SetActive(ctx context.Context, serial, slot string, onLine runner.LineFunc) error
	Reboot(ctx context.Context, serial string, onLine runner.LineFunc) error
	RebootBootloader(ctx context.Context, serial string, onLine runner.LineFunc) error
	RebootRecovery(ctx context.Context, serial string, onLine runner.LineFunc) error
	Devices(ctx context.Context) ([]hardware.BootloaderDevice, error)
}

// Executor interprets an ordered flash step list against one device.
// It is a pure interpreter: every device- or distro-specific quirk
// arrives as data inside the steps.
type Executor struct {
	fastboot FastbootTool
}

// NewExecutor builds an executor over the given fastboot wrapper.
func NewExecutor(fastboot FastbootTool) *Executor {
	return &Executor{fastboot: fastboot}
}

// Run issues the steps strictly in order, waiting for each tool process
// to exit before starting the next. Tool output lines are forwarded
// through the sink for the log view. The first non-zero exit halts the
// sequence: a partially applied partition write must never be papered
// over by retrying, so the error is final for this run.
//
// imagesDir anchors relative step image paths; mainImage substitutes the
// $image placeholder.
func (e *Executor) Run(ctx context.Context, serial string, steps []Step, imagesDir, mainImage string, sink Sink) error {
	total := int64(len(steps))
	slog.Info("flash_sequence_start", "serial", serial, "steps", total)

	onLine := func(line string) {
		if sink != nil && line != "" {
			sink(Event{Stage: StageFlash, Line: line})
		}
	}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			slog.Info("flash_sequence_cancelled", "serial", serial, "completed_steps", i)
			return ErrCancelled
		}

		slog.Info("flash_step_start", "serial", serial, "step", i+1, "total", total, "op", step.Op, "partition", step.Partition)
		if sink != nil {
			sink(Event{
				Stage:      StageFlash,
				BytesDone:  int64(i),
				BytesTotal: total,
				Fraction:   OverallFraction(StageFlash, int64(i), total),
				Line:       step.Describe(),
			})
		}

		if err := e.runStep(ctx, serial, step, imagesDir, mainImage, onLine); err != nil {
			return e.classify(ctx, serial, step, err)
		}

		if sink != nil {
			sink(Event{
				Stage:      StageFlash,
				BytesDone:  int64(i + 1),
				BytesTotal: total,
				Fraction:   OverallFraction(StageFlash, int64(i+1), total),
			})
		}
	}

	slog.Info("flash_sequence_complete", "serial", serial, "steps", total)
	return nil
}

func (e *Executor) runStep(ctx context.Context, serial string, step Step, imagesDir, mainImage string, onLine runner.LineFunc) error {
	switch step.Op {
	case OpFlash:
		image := step.Image
		if image == MainImage {
			image = mainImage
		} else if !filepath.IsAbs(image) {
			image = filepath.Join(imagesDir, image)
		}
		return e.fastboot.FlashWithFlags(ctx, serial, step.Partition, image, step.Flags, onLine)
	case OpErase:
		return e.fastboot.Erase(ctx, serial, step.Partition, onLine)
	case OpFormat:
		return e.fastboot.Format(ctx, serial, step.Partition, step.FSType, onLine)
	case OpSetActive:
		return e.fastboot.SetActive(ctx, serial, step.Slot, onLine)
	case OpReboot:
		return e.fastboot.Reboot(ctx, serial, onLine)
	case OpRebootBootloader:
		return e.fastboot.RebootBootloader(ctx, serial, onLine)
	case OpRebootRecovery:
		return e.fastboot.RebootRecovery(ctx, serial, onLine)
	default:
		return fmt.Errorf("unknown flash op %q", step.Op)
	}
}

// classify turns a step failure into the run-level error: cancellation,
// device disappearance, or a plain flash command failure with the
// child's exit code.
func (e *Executor) classify(ctx context.Context, serial string, step Step, err error) error {
	if ctx.Err() != nil {
		return ErrCancelled
	}

	var xerr *runner.ExitError
	if goerrors.As(err, &xerr) {
		if !e.devicePresent(ctx, serial) {
			slog.Error("flash_device_removed", "serial", serial, "step", step.Describe())
			return ErrDeviceRemoved
		}
		slog.Error("flash_step_failed", "serial", serial, "step", step.Describe(), "exit_code", xerr.Code)
		return &FlashCommandError{Step: step, ExitCode: xerr.Code, Output: xerr.Error()}
	}

	slog.Error("flash_step_error", "serial", serial, "step", step.Describe(), "error", err)
	return err
}

func (e *Executor) devicePresent(ctx context.Context, serial string) bool {
	devices, err := e.fastboot.Devices(ctx)
	if err != nil {
		// Can't tell; assume present so the real failure is surfaced.
		return true
	}
	for _, d := range devices {
		if strings.EqualFold(d.Serial, serial) {
			return true
		}
	}
	return false
}
