package hardware

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/droidflash/droidflash/pkg/errors"
	"github.com/droidflash/droidflash/pkg/runner"
)

// BootloaderDevice is one line of `fastboot devices` output.
type BootloaderDevice struct {
	Serial string
}

// Fastboot wraps the fastboot binary.
type Fastboot struct {
	runner *runner.Runner
}

// NewFastboot creates a wrapper using the given binary path. Empty path
// falls back to the DROIDFLASH_FASTBOOT_PATH environment variable, then
// "fastboot".
func NewFastboot(bin string) *Fastboot {
	if bin == "" {
		bin = os.Getenv("DROIDFLASH_FASTBOOT_PATH")
	}
	if bin == "" {
		bin = "fastboot"
	}
	return &Fastboot{runner: runner.New(bin)}
}

// Devices lists devices currently in bootloader mode. Lines look like
// "SERIAL\tfastboot"; only lines whose last field is "fastboot" count.
func (f *Fastboot) Devices(ctx context.Context) ([]BootloaderDevice, error) {
	res, err := f.runner.Run(ctx, "devices")
	if err != nil {
		return nil, errors.Wrap(err, "fastboot devices failed")
	}

	devices := parseBootloaderDevices(res.Stdout)
	slog.Debug("fastboot_devices", "count", len(devices))
	return devices, nil
}

// Getvar queries a bootloader variable. fastboot prints "var: value" on
// stderr, not stdout.
func (f *Fastboot) Getvar(ctx context.Context, serial, name string) (string, error) {
	res, err := f.runner.Run(ctx, "-s", serial, "getvar", name)
	if err != nil {
		return "", errors.Wrapf(err, "fastboot getvar %s failed", name)
	}

	prefix := name + ": "
	for _, line := range strings.Split(res.Stderr, "\n") {
		if val, ok := strings.CutPrefix(line, prefix); ok {
			return strings.TrimSpace(val), nil
		}
	}
	return "", nil
}

// Product returns the device product codename from the bootloader.
func (f *Fastboot) Product(ctx context.Context, serial string) (string, error) {
	return f.Getvar(ctx, serial, "product")
}

// IsUnlocked reports whether the bootloader is unlocked.
func (f *Fastboot) IsUnlocked(ctx context.Context, serial string) (bool, error) {
	val, err := f.Getvar(ctx, serial, "unlocked")
	if err != nil {
		return false, err
	}
	return val == "yes", nil
}

// OEMUnlock attempts to unlock the bootloader. Most devices require
// physical confirmation on the device screen before this completes.
func (f *Fastboot) OEMUnlock(ctx context.Context, serial string) error {
	slog.Info("fastboot_oem_unlock", "serial", serial)
	_, err := f.runner.Run(ctx, "-s", serial, "oem", "unlock")
	return errors.Wrap(err, "oem unlock failed")
}

// FlashingUnlock is the newer unlock command used by Pixel-era devices.
func (f *Fastboot) FlashingUnlock(ctx context.Context, serial string) error {
	slog.Info("fastboot_flashing_unlock", "serial", serial)
	_, err := f.runner.Run(ctx, "-s", serial, "flashing", "unlock")
	return errors.Wrap(err, "flashing unlock failed")
}

// Flash writes an image to a partition, forwarding tool output lines to
// onLine when non-nil.
func (f *Fastboot) Flash(ctx context.Context, serial, partition, image string, onLine runner.LineFunc) error {
	return f.FlashWithFlags(ctx, serial, partition, image, nil, onLine)
}

// FlashWithFlags writes an image with extra flags inserted between the
// partition and the file, e.g. --disable-verity --disable-verification
// for vbmeta. Flag placement matches the stock tool's expectations:
//
//	fastboot -s SERIAL flash PARTITION [FLAGS...] FILE
func (f *Fastboot) FlashWithFlags(ctx context.Context, serial, partition, image string, flags []string, onLine runner.LineFunc) error {
	slog.Info("fastboot_flash", "serial", serial, "partition", partition, "image", image, "flags", flags)

	args := []string{"-s", serial, "flash", partition}
	args = append(args, flags...)
	args = append(args, image)

	_, err := f.runner.Stream(ctx, args, onLine)
	return err
}

// Erase wipes a partition.
func (f *Fastboot) Erase(ctx context.Context, serial, partition string, onLine runner.LineFunc) error {
	slog.Info("fastboot_erase", "serial", serial, "partition", partition)
	_, err := f.runner.Stream(ctx, []string{"-s", serial, "erase", partition}, onLine)
	return err
}

// Format formats a partition with the given filesystem type
// (fastboot format:ext4 userdata).
func (f *Fastboot) Format(ctx context.Context, serial, partition, fsType string, onLine runner.LineFunc) error {
	slog.Info("fastboot_format", "serial", serial, "partition", partition, "fs_type", fsType)
	_, err := f.runner.Stream(ctx, []string{"-s", serial, "format:" + fsType, partition}, onLine)
	return err
}

// SetActive selects the active slot on A/B devices.
func (f *Fastboot) SetActive(ctx context.Context, serial, slot string, onLine runner.LineFunc) error {
	slog.Info("fastboot_set_active", "serial", serial, "slot", slot)
	_, err := f.runner.Stream(ctx, []string{"-s", serial, "set_active", slot}, onLine)
	return err
}

// Reboot reboots the device into the OS.
func (f *Fastboot) Reboot(ctx context.Context, serial string, onLine runner.LineFunc) error {
	slog.Info("fastboot_reboot", "serial", serial)
	_, err := f.runner.Stream(ctx, []string{"-s", serial, "reboot"}, onLine)
	return err
}

// RebootBootloader reboots the device back into the bootloader, used
// between bootloader and radio updates in factory sequences.
func (f *Fastboot) RebootBootloader(ctx context.Context, serial string, onLine runner.LineFunc) error {
	slog.Info("fastboot_reboot_bootloader", "serial", serial)
	_, err := f.runner.Stream(ctx, []string{"-s", serial, "reboot-bootloader"}, onLine)
	return err
}

// RebootRecovery reboots the device directly into recovery mode.
func (f *Fastboot) RebootRecovery(ctx context.Context, serial string, onLine runner.LineFunc) error {
	slog.Info("fastboot_reboot_recovery", "serial", serial)
	_, err := f.runner.Stream(ctx, []string{"-s", serial, "reboot", "recovery"}, onLine)
	return err
}

func parseBootloaderDevices(stdout string) []BootloaderDevice {
	var devices []BootloaderDevice
	for _, line := range strings.Split(stdout, "\n") {
		parts := strings.Fields(line)
		if len(parts) > 0 && parts[len(parts)-1] == "fastboot" {
			devices = append(devices, BootloaderDevice{Serial: parts[0]})
		}
	}
	return devices
}
