package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/droidflash/droidflash/internal/config"
	"github.com/droidflash/droidflash/pkg/errors"
	"github.com/droidflash/droidflash/pkg/hardware"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Probe for connected Android devices",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	adb := hardware.NewADB(cfg.ADBPath)
	fastboot := hardware.NewFastboot(cfg.FastbootPath)
	prober := hardware.NewProber(adb, fastboot, cfg.ProbeTimeout)

	snapshot := prober.Probe(context.Background())
	if !snapshot.Present() {
		fmt.Println("No devices found")
		return nil
	}

	dev := snapshot.Device
	fmt.Printf("%-20s %-12s %-12s %-20s %-8s %-8s %-9s\n",
		"SERIAL", "MODE", "CODENAME", "MODEL", "ANDROID", "BATTERY", "UNLOCKED")
	fmt.Println("-------------------------------------------------------------------------------------------")
	fmt.Printf("%-20s %-12s %-12s %-20s %-8s %-8s %-9s\n",
		dev.Serial, dev.Mode, dash(dev.Codename), dash(dev.Model),
		dash(dev.AndroidVersion), batteryString(dev.BatteryLevel), unlockedString(dev))

	return nil
}
