package flashing

import (
	"context"
	"errors"
	"testing"

	"github.com/droidflash/droidflash/pkg/hardware"
	"github.com/droidflash/droidflash/pkg/runner"
)

// fakeFastboot records issued operations and fails on command.
type fakeFastboot struct {
	calls        []string
	failAtCall   int // 1-based; 0 means never fail
	failExitCode int
	devicesGone  bool
}

func (f *fakeFastboot) record(op string) error {
	f.calls = append(f.calls, op)
	if f.failAtCall > 0 && len(f.calls) == f.failAtCall {
		return &runner.ExitError{Tool: "fastboot", Code: f.failExitCode}
	}
	return nil
}

func (f *fakeFastboot) FlashWithFlags(ctx context.Context, serial, partition, image string, flags []string, onLine runner.LineFunc) error {
	if onLine != nil {
		onLine("Sending '" + partition + "'")
	}
	return f.record("flash " + partition)
}

func (f *fakeFastboot) Erase(ctx context.Context, serial, partition string, onLine runner.LineFunc) error {
	return f.record("erase " + partition)
}

func (f *fakeFastboot) Format(ctx context.Context, serial, partition, fsType string, onLine runner.LineFunc) error {
	return f.record("format " + partition + ":" + fsType)
}

func (f *fakeFastboot) SetActive(ctx context.Context, serial, slot string, onLine runner.LineFunc) error {
	return f.record("set_active " + slot)
}

func (f *fakeFastboot) Reboot(ctx context.Context, serial string, onLine runner.LineFunc) error {
	return f.record("reboot")
}

func (f *fakeFastboot) RebootBootloader(ctx context.Context, serial string, onLine runner.LineFunc) error {
	return f.record("reboot_bootloader")
}

func (f *fakeFastboot) RebootRecovery(ctx context.Context, serial string, onLine runner.LineFunc) error {
	return f.record("reboot_recovery")
}

func (f *fakeFastboot) Devices(ctx context.Context) ([]hardware.BootloaderDevice, error) {
	if f.devicesGone {
		return nil, nil
	}
	return []hardware.BootloaderDevice{{Serial: "SER123"}}, nil
}

var threeSteps = []Step{
	{Op: OpFlash, Partition: "boot", Image: "$image"},
	{Op: OpFlash, Partition: "system", Image: "system.img"},
	{Op: OpFlash, Partition: "vendor", Image: "vendor.img"},
}

func TestExecutor_RunsStepsInOrder(t *testing.T) {
	fb := &fakeFastboot{}
	ex := NewExecutor(fb)

	steps := []Step{
		{Op: OpFlash, Partition: "vbmeta", Image: "$image", Flags: []string{"--disable-verity", "--disable-verification"}},
		{Op: OpErase, Partition: "userdata"},
		{Op: OpFormat, Partition: "userdata", FSType: "ext4"},
		{Op: OpReboot},
	}

	if err := ex.Run(context.Background(), "SER123", steps, "/imgs", "/work/main.img", nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []string{"flash vbmeta", "erase userdata", "format userdata:ext4", "reboot"}
	if len(fb.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", fb.calls, want)
	}
	for i := range want {
		if fb.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, fb.calls[i], want[i])
		}
	}
}

func TestExecutor_FactoryImageSequence(t *testing.T) {
	fb := &fakeFastboot{}
	ex := NewExecutor(fb)

	// Factory images flash firmware in stages, re-entering the
	// bootloader between them.
	steps := []Step{
		{Op: OpFlash, Partition: "bootloader", Image: "bootloader.img"},
		{Op: OpRebootBootloader},
		{Op: OpFlash, Partition: "radio", Image: "radio.img"},
		{Op: OpRebootBootloader},
		{Op: OpFlash, Partition: "boot", Image: "$image"},
	}

	if err := ex.Run(context.Background(), "SER123", steps, "/imgs", "/work/main.img", nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []string{"flash bootloader", "reboot_bootloader", "flash radio", "reboot_bootloader", "flash boot"}
	if len(fb.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", fb.calls, want)
	}
	for i := range want {
		if fb.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, fb.calls[i], want[i])
		}
	}
}

func TestExecutor_FailureHaltsSequence(t *testing.T) {
	// Step B (the second) exits non-zero: C must never be invoked and
	// the captured exit code must surface.
	fb := &fakeFastboot{failAtCall: 2, failExitCode: 1}
	ex := NewExecutor(fb)

	err := ex.Run(context.Background(), "SER123", threeSteps, "/imgs", "/work/main.img", nil)

	var ferr *FlashCommandError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected FlashCommandError, got %v", err)
	}
	if ferr.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", ferr.ExitCode)
	}
	if ferr.Step.Partition != "system" {
		t.Errorf("failing step partition = %s, want system", ferr.Step.Partition)
	}
	if len(fb.calls) != 2 {
		t.Errorf("issued %d calls, want 2 (C must not run): %v", len(fb.calls), fb.calls)
	}
}

func TestExecutor_DeviceRemovedDuringFlash(t *testing.T) {
	fb := &fakeFastboot{failAtCall: 2, failExitCode: 1, devicesGone: true}
	ex := NewExecutor(fb)

	err := ex.Run(context.Background(), "SER123", threeSteps, "/imgs", "/work/main.img", nil)
	if !errors.Is(err, ErrDeviceRemoved) {
		t.Fatalf("expected ErrDeviceRemoved, got %v", err)
	}
}

func TestExecutor_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fb := &fakeFastboot{}
	ex := NewExecutor(fb)

	err := ex.Run(ctx, "SER123", threeSteps, "/imgs", "/work/main.img", nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if len(fb.calls) != 0 {
		t.Errorf("no steps should run after cancel, got %v", fb.calls)
	}
}

func TestExecutor_ForwardsOutputLines(t *testing.T) {
	fb := &fakeFastboot{}
	ex := NewExecutor(fb)

	var lines []string
	sink := func(ev Event) {
		if ev.Line != "" {
			lines = append(lines, ev.Line)
		}
	}

	if err := ex.Run(context.Background(), "SER123", threeSteps[:1], "/imgs", "/work/main.img", sink); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	found := false
	for _, l := range lines {
		if l == "Sending 'boot'" {
			found = true
		}
	}
	if !found {
		t.Errorf("tool output line not forwarded, got %v", lines)
	}
}
