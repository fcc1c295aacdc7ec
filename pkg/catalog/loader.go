package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/droidflash/droidflash/pkg/errors"
	"github.com/droidflash/droidflash/pkg/flashing"
)

// Catalog holds the parsed device and distro database.
type Catalog struct {
	Devices []Device
	Distros []Distro
}

type deviceFile struct {
	Devices []Device `yaml:"devices"`
}

type distroFile struct {
	Distros []Distro `yaml:"distros"`
}

// Load reads every *.yaml / *.yml file under dir. Files with a top-level
// `devices:` key contribute devices, files with `distros:` contribute
// distros; a file may carry both.
func Load(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading catalog dir %s", dir)
	}

	cat := &Catalog{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := cat.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cat.validate(); err != nil {
		return nil, err
	}

	slog.Info("catalog_loaded", "dir", dir, "devices", len(cat.Devices), "distros", len(cat.Distros))
	return cat, nil
}

func (c *Catalog) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}

	var devices deviceFile
	if err := yaml.Unmarshal(data, &devices); err != nil {
		return errors.Wrapf(err, "parsing %s", path)
	}
	var distros distroFile
	if err := yaml.Unmarshal(data, &distros); err != nil {
		return errors.Wrapf(err, "parsing %s", path)
	}

	c.Devices = append(c.Devices, devices.Devices...)
	c.Distros = append(c.Distros, distros.Distros...)
	return nil
}

func (c *Catalog) validate() error {
	seen := make(map[string]bool, len(c.Devices))
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Codename == "" {
			return fmt.Errorf("device entry %d has no codename", i)
		}
		if seen[d.Codename] {
			return fmt.Errorf("duplicate device codename %q", d.Codename)
		}
		seen[d.Codename] = true
	}

	ids := make(map[string]bool, len(c.Distros))
	for i := range c.Distros {
		d := &c.Distros[i]
		if d.ID == "" {
			return fmt.Errorf("distro entry %d (%s) has no id", i, d.Name)
		}
		if ids[d.ID] {
			return fmt.Errorf("duplicate distro id %q", d.ID)
		}
		ids[d.ID] = true
		for j, ch := range d.Channels {
			if ch.ImageURL == "" {
				return fmt.Errorf("distro %s channel %d (%s) has no image_url", d.ID, j, ch.ID)
			}
		}
		for j, step := range d.Steps {
			switch step.Op {
			case flashing.OpFlash, flashing.OpErase, flashing.OpFormat, flashing.OpSetActive,
				flashing.OpReboot, flashing.OpRebootBootloader, flashing.OpRebootRecovery:
			default:
				return fmt.Errorf("distro %s step %d has unknown op %q", d.ID, j, step.Op)
			}
		}
	}
	return nil
}

// FindByCodename locates a device by codename or alias.
func (c *Catalog) FindByCodename(codename string) (*Device, bool) {
	for i := range c.Devices {
		if c.Devices[i].MatchesCodename(codename) {
			return &c.Devices[i], true
		}
	}
	return nil, false
}

// DistrosFor lists the distros installable on the given codename.
func (c *Catalog) DistrosFor(codename string) []Distro {
	device, ok := c.FindByCodename(codename)
	if !ok {
		return nil
	}
	var out []Distro
	for _, d := range c.Distros {
		if d.SupportsDevice(device.Codename) {
			out = append(out, d)
		}
	}
	return out
}

// FindDistro locates a distro by id.
func (c *Catalog) FindDistro(id string) (*Distro, bool) {
	for i := range c.Distros {
		if c.Distros[i].ID == id {
			return &c.Distros[i], true
		}
	}
	return nil, false
}

// Resolve builds the per-run install plan for a device, distro and channel.
// Relative channel URLs are joined to the distro's download base; the
// channel checksum URL falls back to the distro-level one.
func (c *Catalog) Resolve(device *Device, distro *Distro, channelID, serial, workDir string) (*InstallerConfig, error) {
	if !distro.SupportsDevice(device.Codename) {
		return nil, fmt.Errorf("distro %s does not support device %s", distro.ID, device.Codename)
	}
	channel, err := distro.Channel(channelID)
	if err != nil {
		return nil, err
	}
	if len(distro.Steps) == 0 {
		return nil, fmt.Errorf("distro %s has no flash steps", distro.ID)
	}

	imageURL := channel.ImageURL
	if distro.DownloadBaseURL != "" && !strings.Contains(imageURL, "://") {
		imageURL = strings.TrimSuffix(distro.DownloadBaseURL, "/") + "/" + strings.TrimPrefix(imageURL, "/")
	}
	checksumURL := channel.ChecksumURL
	if checksumURL == "" {
		checksumURL = distro.ChecksumURL
	}
	compression := channel.Compression
	if compression == "" {
		compression = flashing.CompressionForName(imageURL)
	}

	steps := make([]flashing.Step, len(distro.Steps))
	copy(steps, distro.Steps)

	return &InstallerConfig{
		Codename:        device.Codename,
		Serial:          serial,
		DistroID:        distro.ID,
		ImageURL:        imageURL,
		SHA256:          channel.SHA256,
		ChecksumURL:     checksumURL,
		Compression:     compression,
		BatteryMin:      device.EffectiveBatteryMin(),
		RequireUnlocked: distro.RequireUnlocked(),
		Steps:           steps,
		WorkDir:         workDir,
	}, nil
}
