package wizard

import (
	"fmt"

	"github.com/droidflash/droidflash/pkg/catalog"
	"github.com/droidflash/droidflash/pkg/flashing"
	"github.com/droidflash/droidflash/pkg/hardware"
	"github.com/droidflash/droidflash/pkg/pipeline"
)

// State is one screen of the install wizard.
type State string

const (
	StateWaitingForDevice  State = "waiting_for_device"
	StateDeviceDetails     State = "device_details"
	StateUnlocking         State = "unlocking"
	StateDistroSelection   State = "distro_selection"
	StatePrerequisiteCheck State = "prerequisite_check"
	StateInstalling        State = "installing"
	StateSuccess           State = "success"
	StateFailure           State = "failure"
	StateBrowsing          State = "browsing"
)

// Prerequisite names reported by CheckPrerequisites.
const (
	PrereqBattery    = "battery"
	PrereqBootloader = "bootloader"
	PrereqDevice     = "device"
)

// PrerequisiteError reports which installation prerequisite is not met.
type PrerequisiteError struct {
	Which  string
	Detail string
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("prerequisite not met: %s (%s)", e.Which, e.Detail)
}

// Session is the wizard's single mutable state. Mutations happen only
// through Controller transitions.
type Session struct {
	State         State
	Device        *hardware.Identity
	CatalogDevice *catalog.Device
	Distro        *catalog.Distro
	Channel       string
	Run           *pipeline.Run
	FailedStage   flashing.Stage
	Err           error
	Cancelled     bool

	// set while browsing, to return to the interrupted screen
	returnTo State
	// next unlock step to run, 0-based
	UnlockIndex int
	// prerequisite checks passed for the current selection
	prereqsOK bool
	// download re-attempts performed for the current selection
	downloadAttempts int
}
