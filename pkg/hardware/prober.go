package hardware

import (
	"context"
	"log/slog"
	"time"
)

// Prober takes one snapshot of the USB device state by running both
// tools' list commands. Probe failures are absorbed: the poll loop and
// the wizard treat a failed probe exactly like "no device present".
type Prober struct {
	adb      *ADB
	fastboot *Fastboot
	timeout  time.Duration
}

// NewProber builds a prober over the two tool wrappers. timeout bounds
// each probe cycle end to end.
func NewProber(adb *ADB, fastboot *Fastboot, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{adb: adb, fastboot: fastboot, timeout: timeout}
}

// Probe checks adb first, then fastboot, and returns at most one device.
// Bridge-mode devices are enriched with codename, model, OS version,
// battery and lock state; bootloader-mode devices with product and lock
// state. Enrichment failures degrade to partial identities, never errors.
func (p *Prober) Probe(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dev, unknownSerial := p.probeBridge(ctx)
	if dev != nil {
		return Snapshot{Device: dev}
	}
	if dev := p.probeBootloader(ctx); dev != nil {
		return Snapshot{Device: dev}
	}
	// A serial adb can see but not use (unauthorized, offline) still
	// counts as a present device, just with an undetermined mode.
	if unknownSerial != "" {
		slog.Debug("probe_unknown_mode", "serial", unknownSerial)
		return Snapshot{Device: &Identity{Serial: unknownSerial, Mode: ModeUnknown, BatteryLevel: -1}}
	}
	return Snapshot{}
}

func (p *Prober) probeBridge(ctx context.Context) (*Identity, string) {
	devices, err := p.adb.Devices(ctx)
	if err != nil {
		slog.Debug("probe_bridge_failed", "error", err)
		return nil, ""
	}

	unknownSerial := ""
	for _, dev := range devices {
		if dev.State != "device" {
			if unknownSerial == "" {
				unknownSerial = dev.Serial
			}
			continue
		}

		id := &Identity{
			Serial:       dev.Serial,
			Mode:         ModeBridge,
			BatteryLevel: -1,
		}

		if codename, err := p.adb.Codename(ctx, dev.Serial); err == nil {
			id.Codename = codename
		} else {
			slog.Warn("probe_codename_failed", "serial", dev.Serial, "error", err)
		}
		if model, err := p.adb.Model(ctx, dev.Serial); err == nil {
			id.Model = model
		}
		if ver, err := p.adb.AndroidVersion(ctx, dev.Serial); err == nil {
			id.AndroidVersion = ver
		}
		if build, err := p.adb.BuildID(ctx, dev.Serial); err == nil {
			id.BuildID = build
		}
		if level, err := p.adb.BatteryLevel(ctx, dev.Serial); err == nil {
			id.BatteryLevel = level
		}
		if unlocked, err := p.adb.IsUnlocked(ctx, dev.Serial); err == nil {
			id.Unlocked = &unlocked
		} else {
			slog.Warn("probe_lock_status_failed", "serial", dev.Serial, "error", err)
		}

		slog.Debug("probe_bridge_device", "serial", id.Serial, "codename", id.Codename)
		// One device at a time: the wizard drives a single install.
		return id, unknownSerial
	}
	return nil, unknownSerial
}

func (p *Prober) probeBootloader(ctx context.Context) *Identity {
	devices, err := p.fastboot.Devices(ctx)
	if err != nil {
		slog.Debug("probe_bootloader_failed", "error", err)
		return nil
	}

	for _, dev := range devices {
		id := &Identity{
			Serial:       dev.Serial,
			Mode:         ModeBootloader,
			BatteryLevel: -1,
		}

		if product, err := p.fastboot.Product(ctx, dev.Serial); err == nil && product != "" {
			id.Codename = product
		} else if err != nil {
			slog.Warn("probe_product_failed", "serial", dev.Serial, "error", err)
		}
		if unlocked, err := p.fastboot.IsUnlocked(ctx, dev.Serial); err == nil {
			id.Unlocked = &unlocked
		}

		slog.Debug("probe_bootloader_device", "serial", id.Serial, "codename", id.Codename)
		return id
	}
	return nil
}
