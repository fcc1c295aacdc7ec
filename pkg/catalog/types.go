package catalog

import (
	"fmt"

	"github.com/droidflash/droidflash/pkg/flashing"
)

// DefaultBatteryMin applies when a device entry does not set its own floor.
const DefaultBatteryMin = 50

// Device is a supported device entry from the catalog.
type Device struct {
	Codename     string   `yaml:"codename"`
	Name         string   `yaml:"name"`
	Maker        string   `yaml:"maker"`
	Experimental bool     `yaml:"experimental"`
	BatteryMin   int      `yaml:"battery_min"`
	Warnings     []string `yaml:"warnings"`
	Aliases      []string `yaml:"aliases"`
	Variants     []string `yaml:"variants"`
}

// MatchesCodename reports whether codename names this device, aliases
// included.
func (d *Device) MatchesCodename(codename string) bool {
	if d.Codename == codename {
		return true
	}
	for _, alias := range d.Aliases {
		if alias == codename {
			return true
		}
	}
	return false
}

// EffectiveBatteryMin returns the device's battery floor, falling back to
// the catalog default.
func (d *Device) EffectiveBatteryMin() int {
	if d.BatteryMin > 0 {
		return d.BatteryMin
	}
	return DefaultBatteryMin
}

// Channel is one release channel of a distro (stable, nightly, ...).
type Channel struct {
	ID          string               `yaml:"id"`
	Label       string               `yaml:"label"`
	ImageURL    string               `yaml:"image_url"`
	SHA256      string               `yaml:"sha256"`
	ChecksumURL string               `yaml:"checksum_url"`
	Compression flashing.Compression `yaml:"compression"`
}

// Interface is a user-facing UI variant offered by a distro
// (e.g. phosh vs plasma-mobile).
type Interface struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// Distro describes one installable OS build for a device.
type Distro struct {
	ID                string          `yaml:"id"`
	Name              string          `yaml:"name"`
	Version           string          `yaml:"version"`
	Description       string          `yaml:"description"`
	Homepage          string          `yaml:"homepage"`
	DownloadBaseURL   string          `yaml:"download_base_url"`
	ChecksumURL       string          `yaml:"checksum_url"`
	Channels          []Channel       `yaml:"channels"`
	Interfaces        []Interface     `yaml:"interfaces"`
	Devices           []string        `yaml:"devices"`
	RequiresUnlock    *bool           `yaml:"requires_unlock"`
	DownloadSizeBytes int64           `yaml:"download_size_bytes"`
	PostInstallNotes  string          `yaml:"post_install_notes"`
	Steps             []flashing.Step `yaml:"steps"`
}

// Channel returns the named channel, or an error listing what exists.
func (d *Distro) Channel(id string) (*Channel, error) {
	for i := range d.Channels {
		if d.Channels[i].ID == id {
			return &d.Channels[i], nil
		}
	}
	return nil, fmt.Errorf("distro %s has no channel %q (have %d channels)", d.ID, id, len(d.Channels))
}

// RequireUnlocked reports whether flashing needs an unlocked bootloader.
// Unset means yes; almost every build does.
func (d *Distro) RequireUnlocked() bool {
	if d.RequiresUnlock == nil {
		return true
	}
	return *d.RequiresUnlock
}

// SupportsDevice reports whether the distro lists the codename.
func (d *Distro) SupportsDevice(codename string) bool {
	for _, dev := range d.Devices {
		if dev == codename {
			return true
		}
	}
	return false
}

// InstallerConfig is the immutable per-run plan handed to the pipeline.
// Resolve builds it once, before anything touches the device.
type InstallerConfig struct {
	Codename        string
	Serial          string
	DistroID        string
	ImageURL        string
	SHA256          string
	ChecksumURL     string
	Compression     flashing.Compression
	BatteryMin      int
	RequireUnlocked bool
	Steps           []flashing.Step
	WorkDir         string
}
