package flashing

import "strings"

// Compression identifies the container format of a downloaded image.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionXz   Compression = "xz"
)

// CompressionForName infers the compression kind from a filename.
func CompressionForName(name string) Compression {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return CompressionGzip
	case strings.HasSuffix(name, ".xz"):
		return CompressionXz
	default:
		return CompressionNone
	}
}

// Op enumerates the operations the flash executor can interpret.
type Op string

const (
	OpFlash            Op = "flash"
	OpErase            Op = "erase"
	OpFormat           Op = "format"
	OpSetActive        Op = "setactive"
	OpReboot           Op = "reboot"
	OpRebootBootloader Op = "reboot-bootloader"
	OpRebootRecovery   Op = "reboot-recovery"
)

// Step is one declarative instruction in a flash sequence. Device and
// distro quirks (verity flags, format-vs-erase for data partitions) are
// expressed here as data; the executor contains no per-device branching.
type Step struct {
	Op        Op       `yaml:"op" json:"op"`
	Partition string   `yaml:"partition,omitempty" json:"partition,omitempty"`
	Image     string   `yaml:"image,omitempty" json:"image,omitempty"`
	Flags     []string `yaml:"flags,omitempty" json:"flags,omitempty"`
	FSType    string   `yaml:"fs_type,omitempty" json:"fs_type,omitempty"`
	Slot      string   `yaml:"slot,omitempty" json:"slot,omitempty"`
}

// Describe renders a short human-readable label for progress display.
func (s Step) Describe() string {
	switch s.Op {
	case OpFlash:
		return "flash " + s.Partition
	case OpErase:
		return "erase " + s.Partition
	case OpFormat:
		return "format " + s.Partition + " (" + s.FSType + ")"
	case OpSetActive:
		return "set active slot " + s.Slot
	case OpReboot:
		return "reboot"
	case OpRebootBootloader:
		return "reboot to bootloader"
	case OpRebootRecovery:
		return "reboot to recovery"
	default:
		return string(s.Op)
	}
}
