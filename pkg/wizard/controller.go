// Package wizard drives the guided install flow: device discovery,
// bootloader unlocking, distro selection, prerequisite checks, and the
// handoff to the install pipeline. It holds no UI; frontends render its
// session and feed it inputs.
package wizard

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/droidflash/droidflash/pkg/catalog"
	"github.com/droidflash/droidflash/pkg/flashing"
	"github.com/droidflash/droidflash/pkg/hardware"
	"github.com/droidflash/droidflash/pkg/pipeline"
)

// ADBTool is the slice of the adb wrapper the wizard needs.
type ADBTool interface {
	BatteryLevel(ctx context.Context, serial string) (int, error)
	IsUnlocked(ctx context.Context, serial string) (bool, error)
	RebootBootloader(ctx context.Context, serial string) error
	Shell(ctx context.Context, serial string, args ...string) (string, error)
}

// FastbootTool is the slice of the fastboot wrapper the wizard needs.
type FastbootTool interface {
	Devices(ctx context.Context) ([]hardware.BootloaderDevice, error)
	IsUnlocked(ctx context.Context, serial string) (bool, error)
	OEMUnlock(ctx context.Context, serial string) error
	FlashingUnlock(ctx context.Context, serial string) error
}

// InstallStarter launches the install pipeline for a resolved plan.
type InstallStarter interface {
	Start(ctx context.Context, cfg *catalog.InstallerConfig) (*pipeline.Run, error)
}

// Options tune controller behavior.
type Options struct {
	// DownloadRetries is how many times a failed download stage may be
	// re-attempted before the run is declared failed. Zero disables
	// retrying; checksum and flash failures are never retried.
	DownloadRetries int
	// BatteryMin is the charge floor applied when the catalog entry for
	// the device does not declare its own. Zero means the built-in default.
	BatteryMin int
	// UnlockSteps overrides the default unlocking walkthrough.
	UnlockSteps []UnlockStep
}

// Controller owns the wizard session and applies its transitions.
type Controller struct {
	catalog     *catalog.Catalog
	adb         ADBTool
	fastboot    FastbootTool
	starter     InstallStarter
	workDir     string
	retries     int
	batteryMin  int
	unlockSteps []UnlockStep

	mu      sync.Mutex
	session Session
}

// NewController builds a controller waiting for a device.
func NewController(cat *catalog.Catalog, adb ADBTool, fastboot FastbootTool, starter InstallStarter, workDir string, opts Options) *Controller {
	steps := opts.UnlockSteps
	if steps == nil {
		steps = DefaultUnlockSteps()
	}
	floor := opts.BatteryMin
	if floor <= 0 {
		floor = catalog.DefaultBatteryMin
	}
	return &Controller{
		catalog:     cat,
		adb:         adb,
		fastboot:    fastboot,
		starter:     starter,
		workDir:     workDir,
		retries:     opts.DownloadRetries,
		batteryMin:  floor,
		unlockSteps: steps,
		session:     Session{State: StateWaitingForDevice},
	}
}

// Session returns a copy of the current session.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// State returns the current wizard state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.State
}

// Reset discards the session and waits for a device again.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = Session{State: StateWaitingForDevice}
}

// HandleDeviceEvent feeds a monitor event into the wizard.
func (c *Controller) HandleDeviceEvent(ev hardware.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case hardware.EventAppeared, hardware.EventChanged:
		c.deviceSeen(ev.Device)
	case hardware.EventRemoved:
		c.deviceGone()
	}
}

func (c *Controller) deviceSeen(dev *hardware.Identity) {
	if dev == nil {
		return
	}
	switch c.session.State {
	case StateWaitingForDevice:
		c.session.Device = dev
		if entry, ok := c.catalog.FindByCodename(dev.Codename); ok {
			c.session.CatalogDevice = entry
		}
		c.session.State = StateDeviceDetails
		slog.Info("wizard_device_detected", "serial", dev.Serial, "codename", dev.Codename, "mode", dev.Mode)
	case StateDeviceDetails, StateUnlocking, StateDistroSelection, StatePrerequisiteCheck:
		// Refresh identity in place; mode changes (bridge -> bootloader)
		// happen mid-walkthrough during unlocking.
		if c.session.Device != nil && c.session.Device.Serial == dev.Serial {
			c.session.Device = dev
		}
	}
}

func (c *Controller) deviceGone() {
	switch c.session.State {
	case StateDeviceDetails, StateUnlocking, StateDistroSelection, StatePrerequisiteCheck:
		slog.Info("wizard_device_removed", "state", c.session.State)
		c.session = Session{State: StateWaitingForDevice}
	case StateInstalling:
		// The pipeline owns the device during flashing; losing it now
		// fails the run.
		slog.Error("wizard_device_removed_during_install")
		if c.session.Run != nil {
			c.session.Run.Cancel()
		}
		c.session.Err = flashing.ErrDeviceRemoved
		c.session.FailedStage = flashing.StageFlash
		c.session.State = StateFailure
	}
}

// UnlockSteps returns the unlocking walkthrough for the current device.
func (c *Controller) UnlockSteps() []UnlockStep {
	out := make([]UnlockStep, len(c.unlockSteps))
	copy(out, c.unlockSteps)
	return out
}

// Next advances from the informational screens.
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.session.State {
	case StateDeviceDetails:
		if c.needsUnlocking(ctx) {
			c.session.UnlockIndex = 0
			c.session.State = StateUnlocking
		} else {
			c.session.State = StateDistroSelection
		}
		return nil
	case StateUnlocking:
		// Manual steps are acknowledged by advancing.
		return c.advanceUnlock(ctx, false)
	default:
		return fmt.Errorf("cannot advance from %s", c.session.State)
	}
}

// Back returns to the previous screen where that is meaningful.
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.session.State {
	case StateUnlocking, StateDistroSelection:
		c.session.State = StateDeviceDetails
		return nil
	case StatePrerequisiteCheck:
		c.session.State = StateDistroSelection
		return nil
	default:
		return fmt.Errorf("cannot go back from %s", c.session.State)
	}
}

// needsUnlocking reports whether the unlocking walkthrough applies: the
// device must be present in bridge mode and still locked.
func (c *Controller) needsUnlocking(ctx context.Context) bool {
	dev := c.session.Device
	if dev == nil || len(c.unlockSteps) == 0 {
		return false
	}
	if dev.Unlocked != nil {
		return !*dev.Unlocked
	}
	if dev.Mode == hardware.ModeBridge {
		unlocked, err := c.adb.IsUnlocked(ctx, dev.Serial)
		if err != nil {
			slog.Warn("unlock_state_unknown", "serial", dev.Serial, "error", err)
			return true
		}
		return !unlocked
	}
	return false
}

// RunUnlockStep executes the current unlock step and advances.
func (c *Controller) RunUnlockStep(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State != StateUnlocking {
		return fmt.Errorf("not unlocking (state %s)", c.session.State)
	}
	return c.advanceUnlock(ctx, true)
}

func (c *Controller) advanceUnlock(ctx context.Context, execute bool) error {
	i := c.session.UnlockIndex
	if i >= len(c.unlockSteps) {
		c.session.State = StateDistroSelection
		return nil
	}
	step := c.unlockSteps[i]

	if execute && step.Kind == UnlockAutomated && step.Command != "" {
		if c.session.Device == nil {
			return fmt.Errorf("no device for unlock step %d", step.Order)
		}
		if err := c.runUnlockCommand(ctx, c.session.Device.Serial, step.Command); err != nil {
			if step.Optional {
				slog.Warn("unlock_step_failed_optional", "order", step.Order, "error", err)
			} else {
				return err
			}
		}
	}

	c.session.UnlockIndex = i + 1
	if c.session.UnlockIndex >= len(c.unlockSteps) {
		c.session.State = StateDistroSelection
	}
	return nil
}

// Distros lists what can be installed on the current device.
func (c *Controller) Distros() []catalog.Distro {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Device == nil {
		return nil
	}
	return c.catalog.DistrosFor(c.session.Device.Codename)
}

// SelectDistro picks a distro and channel and moves to the prerequisite
// check.
func (c *Controller) SelectDistro(id, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State != StateDistroSelection {
		return fmt.Errorf("cannot select distro in state %s", c.session.State)
	}
	distro, ok := c.catalog.FindDistro(id)
	if !ok {
		return fmt.Errorf("unknown distro %q", id)
	}
	device := c.session.CatalogDevice
	if device == nil || !distro.SupportsDevice(device.Codename) {
		return fmt.Errorf("distro %s does not support this device", id)
	}
	if _, err := distro.Channel(channel); err != nil {
		return err
	}

	c.session.Distro = distro
	c.session.Channel = channel
	c.session.prereqsOK = false
	c.session.downloadAttempts = 0
	c.session.State = StatePrerequisiteCheck
	return nil
}

// CheckPrerequisites verifies the device is ready to flash: present,
// charged past the device's floor, and unlocked when the distro needs it.
// A failure leaves the wizard in the prerequisite screen.
func (c *Controller) CheckPrerequisites(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkPrerequisitesLocked(ctx)
}

func (c *Controller) checkPrerequisitesLocked(ctx context.Context) error {
	if c.session.State != StatePrerequisiteCheck && c.session.State != StateInstalling {
		return fmt.Errorf("cannot check prerequisites in state %s", c.session.State)
	}
	dev := c.session.Device
	if dev == nil {
		return &PrerequisiteError{Which: PrereqDevice, Detail: "no device connected"}
	}

	batteryMin := c.batteryMin
	if c.session.CatalogDevice != nil && c.session.CatalogDevice.BatteryMin > 0 {
		batteryMin = c.session.CatalogDevice.BatteryMin
	}

	switch dev.Mode {
	case hardware.ModeBridge:
		level, err := c.adb.BatteryLevel(ctx, dev.Serial)
		if err != nil {
			return &PrerequisiteError{Which: PrereqDevice, Detail: fmt.Sprintf("device unreachable: %v", err)}
		}
		if level >= 0 && level < batteryMin {
			return &PrerequisiteError{Which: PrereqBattery, Detail: fmt.Sprintf("battery %d%% below required %d%%", level, batteryMin)}
		}
		if c.session.Distro != nil && c.session.Distro.RequireUnlocked() {
			unlocked, err := c.adb.IsUnlocked(ctx, dev.Serial)
			if err == nil && !unlocked {
				return &PrerequisiteError{Which: PrereqBootloader, Detail: "bootloader is locked"}
			}
		}
	case hardware.ModeBootloader:
		devices, err := c.fastboot.Devices(ctx)
		if err != nil {
			return &PrerequisiteError{Which: PrereqDevice, Detail: fmt.Sprintf("fastboot unreachable: %v", err)}
		}
		present := false
		for _, d := range devices {
			if d.Serial == dev.Serial {
				present = true
			}
		}
		if !present {
			return &PrerequisiteError{Which: PrereqDevice, Detail: "device not in fastboot devices"}
		}
		if c.session.Distro != nil && c.session.Distro.RequireUnlocked() {
			unlocked, err := c.fastboot.IsUnlocked(ctx, dev.Serial)
			if err == nil && !unlocked {
				return &PrerequisiteError{Which: PrereqBootloader, Detail: "bootloader is locked"}
			}
		}
	default:
		return &PrerequisiteError{Which: PrereqDevice, Detail: fmt.Sprintf("device in unusable state %s", dev.Mode)}
	}

	c.session.prereqsOK = true
	return nil
}

// StartInstall resolves the install plan and launches the pipeline.
// Prerequisites must have passed since the last selection.
func (c *Controller) StartInstall(ctx context.Context) (*pipeline.Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startInstallLocked(ctx)
}

func (c *Controller) startInstallLocked(ctx context.Context) (*pipeline.Run, error) {
	if c.session.State != StatePrerequisiteCheck && c.session.State != StateInstalling {
		return nil, fmt.Errorf("cannot start install in state %s", c.session.State)
	}
	if !c.session.prereqsOK {
		return nil, fmt.Errorf("prerequisites not checked")
	}
	if c.session.Distro == nil || c.session.CatalogDevice == nil || c.session.Device == nil {
		return nil, fmt.Errorf("incomplete selection")
	}

	cfg, err := c.catalog.Resolve(c.session.CatalogDevice, c.session.Distro, c.session.Channel, c.session.Device.Serial, c.workDir)
	if err != nil {
		return nil, err
	}

	run, err := c.starter.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c.session.Run = run
	c.session.State = StateInstalling
	slog.Info("wizard_install_started", "serial", cfg.Serial, "distro", cfg.DistroID, "channel", c.session.Channel)
	return run, nil
}

// CancelInstall requests cancellation of the running install.
func (c *Controller) CancelInstall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.State != StateInstalling || c.session.Run == nil {
		return
	}
	slog.Info("wizard_install_cancel_requested")
	c.session.Cancelled = true
	c.session.Run.Cancel()
}

// HandlePipelineResult consumes the pipeline outcome. A retryable
// download failure may relaunch the pipeline when download retries are
// configured; everything else is terminal.
func (c *Controller) HandlePipelineResult(ctx context.Context, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State != StateInstalling {
		return
	}

	if err == nil {
		c.session.State = StateSuccess
		slog.Info("wizard_install_succeeded")
		return
	}

	stage := c.failedStage()
	c.session.FailedStage = stage
	c.session.Err = err

	if c.session.Cancelled || stderrors.Is(err, flashing.ErrCancelled) {
		c.session.Cancelled = true
		c.session.State = StateFailure
		slog.Info("wizard_install_cancelled")
		return
	}

	if stage == flashing.StageDownload && downloadRetryable(err) && c.session.downloadAttempts < c.retries {
		c.session.downloadAttempts++
		wait := retryBackoff(c.session.downloadAttempts)
		run := c.session.Run
		slog.Warn("wizard_download_retry", "attempt", c.session.downloadAttempts, "wait", wait, "error", err)

		// Wait without the lock so Session, State and CancelInstall stay
		// responsive, and so a cancel cuts the backoff short.
		var cancelled <-chan struct{}
		if run != nil {
			cancelled = run.Context().Done()
		}
		c.mu.Unlock()
		interrupted := false
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			interrupted = true
		case <-cancelled:
			interrupted = true
		}
		c.mu.Lock()

		if c.session.State != StateInstalling {
			return
		}
		if interrupted || c.session.Cancelled {
			c.session.Cancelled = true
			c.session.State = StateFailure
			slog.Info("wizard_install_cancelled")
			return
		}

		c.session.prereqsOK = false
		if perr := c.checkPrerequisitesLocked(ctx); perr != nil {
			c.session.Err = perr
			c.session.State = StateFailure
			return
		}
		if _, rerr := c.startInstallLocked(ctx); rerr != nil {
			c.session.Err = rerr
			c.session.State = StateFailure
		}
		return
	}

	c.session.State = StateFailure
	slog.Error("wizard_install_failed", "stage", stage, "error", err)
}

// failedStage finds the stage the run died in.
func (c *Controller) failedStage() flashing.Stage {
	if c.session.Run == nil {
		return flashing.StageDownload
	}
	for _, st := range c.session.Run.StageStates() {
		if st.Status == flashing.StatusFailed || st.Status == flashing.StatusCancelled {
			return st.Stage
		}
	}
	return flashing.StageDownload
}

// downloadRetryable reports whether a download failure is worth another
// attempt. Corrupt data and device-side failures never are.
func downloadRetryable(err error) bool {
	var mismatch *flashing.ChecksumMismatchError
	var corrupt *flashing.CorruptArchiveError
	var flash *flashing.FlashCommandError
	if stderrors.As(err, &mismatch) || stderrors.As(err, &corrupt) || stderrors.As(err, &flash) {
		return false
	}
	if stderrors.Is(err, flashing.ErrCancelled) || stderrors.Is(err, flashing.ErrDeviceRemoved) {
		return false
	}
	var status *flashing.HTTPStatusError
	if stderrors.As(err, &status) {
		// Client errors are permanent; the mirror is not going to grow
		// the file.
		return status.Status >= 500
	}
	return true
}

// retryBackoff spaces download re-attempts exponentially.
func retryBackoff(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.RandomizationFactor = 0

	var wait time.Duration
	for i := 0; i < attempt; i++ {
		wait = b.NextBackOff()
	}
	return wait
}

// Browse opens the in-wizard browser screen.
func (c *Controller) Browse() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.session.State {
	case StateWaitingForDevice, StateDeviceDetails, StateUnlocking, StateDistroSelection:
		c.session.returnTo = c.session.State
		c.session.State = StateBrowsing
		return nil
	default:
		return fmt.Errorf("cannot browse from %s", c.session.State)
	}
}

// CloseBrowser returns to the screen browsing interrupted.
func (c *Controller) CloseBrowser() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.State != StateBrowsing {
		return fmt.Errorf("not browsing")
	}
	c.session.State = c.session.returnTo
	c.session.returnTo = ""
	return nil
}
