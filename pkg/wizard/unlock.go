package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// UnlockStepKind distinguishes steps the user performs by hand from
// steps the wizard can run itself.
type UnlockStepKind string

const (
	UnlockManual    UnlockStepKind = "manual"
	UnlockAutomated UnlockStepKind = "automated"
)

// UnlockStep is one step of the bootloader unlocking walkthrough.
type UnlockStep struct {
	Order       int            `yaml:"order"`
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	Kind        UnlockStepKind `yaml:"type"`
	Command     string         `yaml:"command"`
	Optional    bool           `yaml:"optional"`
	Warning     string         `yaml:"warning"`
}

// DefaultUnlockSteps is the generic unlocking walkthrough used when the
// catalog carries no device-specific sequence.
func DefaultUnlockSteps() []UnlockStep {
	return []UnlockStep{
		{
			Order: 1,
			Title: "Enable developer options",
			Description: "Open Settings > About phone and tap the build number " +
				"seven times, then enable USB debugging and OEM unlocking under " +
				"Developer options.",
			Kind: UnlockManual,
		},
		{
			Order:       2,
			Title:       "Reboot to bootloader",
			Description: "The device restarts into fastboot mode.",
			Kind:        UnlockAutomated,
			Command:     "adb reboot bootloader",
		},
		{
			Order:       3,
			Title:       "Unlock the bootloader",
			Description: "Confirm the unlock prompt on the device screen with the volume and power keys.",
			Kind:        UnlockAutomated,
			Command:     "fastboot flashing unlock",
			Warning:     "Unlocking erases all user data on the device.",
		},
	}
}

// runUnlockCommand dispatches an automated step's command to the matching
// tool. Unrecognized adb commands fall through to the device shell.
func (c *Controller) runUnlockCommand(ctx context.Context, serial, command string) error {
	slog.Info("unlock_step_command", "serial", serial, "command", command)

	switch {
	case command == "adb reboot bootloader":
		return c.adb.RebootBootloader(ctx, serial)
	case command == "fastboot oem unlock":
		return c.fastboot.OEMUnlock(ctx, serial)
	case command == "fastboot flashing unlock":
		return c.fastboot.FlashingUnlock(ctx, serial)
	case strings.HasPrefix(command, "adb shell "):
		_, err := c.adb.Shell(ctx, serial, strings.Fields(strings.TrimPrefix(command, "adb shell "))...)
		return err
	default:
		return fmt.Errorf("unsupported unlock command %q", command)
	}
}
