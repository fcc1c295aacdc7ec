package hardware

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/droidflash/droidflash/pkg/errors"
	"github.com/droidflash/droidflash/pkg/runner"
)

// BridgeDevice is one line of `adb devices` output.
type BridgeDevice struct {
	Serial string
	State  string // "device", "unauthorized", "offline", ...
}

// ADB wraps the android debug bridge binary.
type ADB struct {
	runner *runner.Runner
}

// NewADB creates a wrapper using the given binary path. Empty path falls
// back to the DROIDFLASH_ADB_PATH environment variable, then "adb".
func NewADB(bin string) *ADB {
	if bin == "" {
		bin = os.Getenv("DROIDFLASH_ADB_PATH")
	}
	if bin == "" {
		bin = "adb"
	}
	return &ADB{runner: runner.New(bin)}
}

// Devices lists connected bridge devices. The first output line is the
// "List of devices attached" header and is skipped.
func (a *ADB) Devices(ctx context.Context) ([]BridgeDevice, error) {
	res, err := a.runner.Run(ctx, "devices")
	if err != nil {
		return nil, errors.Wrap(err, "adb devices failed")
	}

	devices := parseBridgeDevices(res.Stdout)
	slog.Debug("adb_devices", "count", len(devices))
	return devices, nil
}

// Getprop reads a system property from the device.
func (a *ADB) Getprop(ctx context.Context, serial, prop string) (string, error) {
	res, err := a.runner.Run(ctx, "-s", serial, "shell", "getprop", prop)
	if err != nil {
		return "", errors.Wrapf(err, "adb getprop %s failed", prop)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Codename returns ro.product.device.
func (a *ADB) Codename(ctx context.Context, serial string) (string, error) {
	return a.Getprop(ctx, serial, "ro.product.device")
}

// Model returns ro.product.model.
func (a *ADB) Model(ctx context.Context, serial string) (string, error) {
	return a.Getprop(ctx, serial, "ro.product.model")
}

// AndroidVersion returns ro.build.version.release.
func (a *ADB) AndroidVersion(ctx context.Context, serial string) (string, error) {
	return a.Getprop(ctx, serial, "ro.build.version.release")
}

// BuildID returns ro.build.id.
func (a *ADB) BuildID(ctx context.Context, serial string) (string, error) {
	return a.Getprop(ctx, serial, "ro.build.id")
}

// BatteryLevel reads the battery charge percentage via dumpsys.
// Returns -1 when the level cannot be parsed.
func (a *ADB) BatteryLevel(ctx context.Context, serial string) (int, error) {
	out, err := a.Shell(ctx, serial, "dumpsys", "battery")
	if err != nil {
		return -1, err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if val, ok := strings.CutPrefix(line, "level: "); ok {
			level, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return -1, errors.Wrap(err, "unparseable battery level")
			}
			return level, nil
		}
	}
	return -1, nil
}

// IsUnlocked reports bootloader lock state from boot properties.
// ro.boot.flash.locked == "0" or verifiedbootstate == "orange" means unlocked.
func (a *ADB) IsUnlocked(ctx context.Context, serial string) (bool, error) {
	locked, err := a.Getprop(ctx, serial, "ro.boot.flash.locked")
	if err != nil {
		return false, err
	}
	if locked == "0" {
		return true, nil
	}

	bootState, err := a.Getprop(ctx, serial, "ro.boot.verifiedbootstate")
	if err != nil {
		return false, err
	}
	return bootState == "orange", nil
}

// Shell runs a shell command on the device and returns its stdout.
func (a *ADB) Shell(ctx context.Context, serial string, args ...string) (string, error) {
	full := append([]string{"-s", serial, "shell"}, args...)
	res, err := a.runner.Run(ctx, full...)
	if err != nil {
		return "", errors.Wrap(err, "adb shell failed")
	}
	return res.Stdout, nil
}

// RebootBootloader reboots the device into the bootloader.
func (a *ADB) RebootBootloader(ctx context.Context, serial string) error {
	slog.Info("adb_reboot_bootloader", "serial", serial)
	_, err := a.runner.Run(ctx, "-s", serial, "reboot", "bootloader")
	return errors.Wrap(err, "reboot to bootloader failed")
}

// Push copies a local file to the device.
func (a *ADB) Push(ctx context.Context, serial, local, remote string) error {
	slog.Info("adb_push", "serial", serial, "local", filepath.Base(local), "remote", remote)
	_, err := a.runner.Run(ctx, "-s", serial, "push", local, remote)
	return errors.Wrap(err, "adb push failed")
}

// parseBridgeDevices parses `adb devices` output. Split out for testing.
func parseBridgeDevices(stdout string) []BridgeDevice {
	var devices []BridgeDevice
	for i, line := range strings.Split(stdout, "\n") {
		if i == 0 {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			devices = append(devices, BridgeDevice{Serial: parts[0], State: parts[1]})
		}
	}
	return devices
}
