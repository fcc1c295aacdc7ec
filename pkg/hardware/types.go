// Package hardware wraps the adb and fastboot command-line tools and
// provides device detection on top of them: a Prober that takes one
// snapshot of the USB state, and a Monitor that polls in the background
// and emits appeared/changed/removed events.
package hardware

// Mode classifies how a detected device can be reached.
type Mode string

const (
	// ModeBridge means the device OS is booted and adb can talk to it.
	ModeBridge Mode = "bridge"
	// ModeBootloader means only fastboot can talk to it.
	ModeBootloader Mode = "bootloader"
	// ModeUnknown means a serial was seen but the mode could not be determined.
	ModeUnknown Mode = "unknown"
)

// Identity describes one detected device. A fresh Identity is built on
// every probe cycle and replaces the previous one wholesale; fields are
// never mutated in place.
type Identity struct {
	Serial         string
	Mode           Mode
	Codename       string
	Model          string
	AndroidVersion string
	BuildID        string

	// BatteryLevel is 0-100, or -1 when unreadable (typical in bootloader mode).
	BatteryLevel int

	// Unlocked reports bootloader lock state; nil when it could not be read.
	Unlocked *bool
}

// Snapshot is the result of one probe cycle: zero or one device.
type Snapshot struct {
	Device *Identity
}

// Present reports whether the snapshot contains a device.
func (s Snapshot) Present() bool {
	return s.Device != nil
}

// EventKind enumerates monitor event types.
type EventKind string

const (
	// EventAppeared fires when a device shows up after none was present.
	EventAppeared EventKind = "appeared"
	// EventChanged fires when the present device's serial or mode differs
	// from the previous poll.
	EventChanged EventKind = "changed"
	// EventRemoved fires after a previously present device has been absent
	// for the configured number of consecutive polls.
	EventRemoved EventKind = "removed"
)

// Event is delivered to monitor subscribers in poll order.
type Event struct {
	Kind     EventKind
	Device   *Identity // set for Appeared and Changed
	Previous *Identity // set for Changed and Removed
}
