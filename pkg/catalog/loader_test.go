package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/droidflash/droidflash/pkg/flashing"
)

const devicesYAML = `
devices:
  - codename: sargo
    name: Pixel 3a
    maker: Google
    battery_min: 40
    aliases: [sargo-foo]
    warnings:
      - "Back cover is glued; avoid heat."
  - codename: miatoll
    name: Redmi Note 9S
    maker: Xiaomi
    experimental: true
    variants: ["POCO M2 Pro", "Redmi Note 9 Pro"]
`

const distrosYAML = `
distros:
  - id: pmos
    name: postmarketOS
    version: "24.06"
    download_base_url: https://images.postmarketos.org/sargo
    checksum_url: https://images.postmarketos.org/sargo/SHA256SUMS
    devices: [sargo]
    download_size_bytes: 734003200
    channels:
      - id: stable
        label: Stable
        image_url: pmos-sargo-stable.img.xz
        sha256: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
      - id: edge
        label: Edge
        image_url: https://mirror.example.org/pmos-sargo-edge.img.gz
        sha256: bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb
        compression: gzip
    steps:
      - op: erase
        partition: userdata
      - op: flash
        partition: boot
        image: $image
      - op: reboot
  - id: droidian
    name: Droidian
    version: "trixie"
    devices: [miatoll]
    requires_unlock: true
    channels:
      - id: nightly
        label: Nightly
        image_url: https://example.org/droidian-miatoll.img
        sha256: cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc
    steps:
      - op: flash
        partition: userdata
        image: $image
`

func writeCatalog(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeCatalog(t, map[string]string{
		"devices.yaml": devicesYAML,
		"distros.yaml": distrosYAML,
		"notes.txt":    "ignored",
	})

	cat, err := Load(dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cat.Devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(cat.Devices))
	}
	if len(cat.Distros) != 2 {
		t.Fatalf("distros = %d, want 2", len(cat.Distros))
	}

	sargo, ok := cat.FindByCodename("sargo")
	if !ok {
		t.Fatal("sargo not found")
	}
	if sargo.EffectiveBatteryMin() != 40 {
		t.Errorf("battery min = %d, want 40", sargo.EffectiveBatteryMin())
	}

	// Alias lookup resolves to the canonical entry.
	byAlias, ok := cat.FindByCodename("sargo-foo")
	if !ok || byAlias.Codename != "sargo" {
		t.Errorf("alias lookup = %+v, %v", byAlias, ok)
	}

	miatoll, _ := cat.FindByCodename("miatoll")
	if miatoll.EffectiveBatteryMin() != DefaultBatteryMin {
		t.Errorf("default battery min = %d, want %d", miatoll.EffectiveBatteryMin(), DefaultBatteryMin)
	}
}

func TestLoad_DuplicateCodename(t *testing.T) {
	dir := writeCatalog(t, map[string]string{
		"a.yaml": "devices:\n  - codename: sargo\n    name: A\n    maker: X\n",
		"b.yaml": "devices:\n  - codename: sargo\n    name: B\n    maker: Y\n",
	})
	if _, err := Load(dir); err == nil {
		t.Fatal("expected duplicate codename error")
	}
}

func TestLoad_UnknownStepOp(t *testing.T) {
	dir := writeCatalog(t, map[string]string{
		"d.yaml": `distros:
  - id: bad
    name: Bad
    version: "1"
    devices: [sargo]
    channels:
      - id: s
        label: S
        image_url: https://example.org/x.img
    steps:
      - op: sideload
        partition: boot
`,
	})
	if _, err := Load(dir); err == nil {
		t.Fatal("expected unknown op error")
	}
}

func TestLoad_FactorySequenceOps(t *testing.T) {
	dir := writeCatalog(t, map[string]string{
		"d.yaml": `distros:
  - id: factory
    name: Factory
    version: "1"
    devices: [sargo]
    channels:
      - id: stable
        label: Stable
        image_url: https://example.org/x.img
    steps:
      - op: flash
        partition: bootloader
        image: bootloader.img
      - op: reboot-bootloader
      - op: flash
        partition: radio
        image: radio.img
      - op: reboot-bootloader
      - op: flash
        partition: boot
        image: $image
`,
	})
	cat, err := Load(dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	d, ok := cat.FindDistro("factory")
	if !ok {
		t.Fatal("factory distro not found")
	}
	if len(d.Steps) != 5 {
		t.Fatalf("steps = %d, want 5", len(d.Steps))
	}
	if d.Steps[1].Op != flashing.OpRebootBootloader || d.Steps[3].Op != flashing.OpRebootBootloader {
		t.Errorf("reboot steps = %q/%q, want reboot-bootloader", d.Steps[1].Op, d.Steps[3].Op)
	}
}

func TestDistrosFor(t *testing.T) {
	dir := writeCatalog(t, map[string]string{
		"devices.yaml": devicesYAML,
		"distros.yaml": distrosYAML,
	})
	cat, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	got := cat.DistrosFor("sargo-foo") // via alias
	if len(got) != 1 || got[0].ID != "pmos" {
		t.Fatalf("distros for sargo = %+v", got)
	}
	if cat.DistrosFor("unknown") != nil {
		t.Error("unknown codename should list nothing")
	}
}

func TestResolve(t *testing.T) {
	dir := writeCatalog(t, map[string]string{
		"devices.yaml": devicesYAML,
		"distros.yaml": distrosYAML,
	})
	cat, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	device, _ := cat.FindByCodename("sargo")
	distro, _ := cat.FindDistro("pmos")

	cfg, err := cat.Resolve(device, distro, "stable", "SER123", "/tmp/work")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if cfg.ImageURL != "https://images.postmarketos.org/sargo/pmos-sargo-stable.img.xz" {
		t.Errorf("image url = %s", cfg.ImageURL)
	}
	if cfg.Compression != flashing.CompressionXz {
		t.Errorf("compression = %s, want xz (inferred from filename)", cfg.Compression)
	}
	if cfg.BatteryMin != 40 {
		t.Errorf("battery min = %d, want 40", cfg.BatteryMin)
	}
	if !cfg.RequireUnlocked {
		t.Error("requires_unlock should default to true")
	}
	if len(cfg.Steps) != 3 || cfg.Steps[1].Image != flashing.MainImage {
		t.Errorf("steps = %+v", cfg.Steps)
	}

	// Absolute channel URL is used as-is; explicit compression wins.
	edge, err := cat.Resolve(device, distro, "edge", "SER123", "/tmp/work")
	if err != nil {
		t.Fatal(err)
	}
	if edge.ImageURL != "https://mirror.example.org/pmos-sargo-edge.img.gz" {
		t.Errorf("edge image url = %s", edge.ImageURL)
	}
	if edge.Compression != flashing.CompressionGzip {
		t.Errorf("edge compression = %s", edge.Compression)
	}

	if _, err := cat.Resolve(device, distro, "nope", "SER123", "/tmp/work"); err == nil {
		t.Error("expected unknown channel error")
	}

	other, _ := cat.FindDistro("droidian")
	if _, err := cat.Resolve(device, other, "nightly", "SER123", "/tmp/work"); err == nil {
		t.Error("expected unsupported device error")
	}
}
