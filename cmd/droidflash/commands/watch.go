package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/droidflash/droidflash/internal/config"
	"github.com/droidflash/droidflash/pkg/errors"
	"github.com/droidflash/droidflash/pkg/hardware"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch for device connections and disconnections",
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adb := hardware.NewADB(cfg.ADBPath)
	fastboot := hardware.NewFastboot(cfg.FastbootPath)
	prober := hardware.NewProber(adb, fastboot, cfg.ProbeTimeout)
	monitor := hardware.NewMonitor(prober, cfg.PollInterval, cfg.RemovalMisses)

	monitor.Start(ctx)
	defer monitor.Stop()

	fmt.Println("Watching for devices (Ctrl-C to stop)...")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-monitor.Events():
			printEvent(ev)
		}
	}
}

func printEvent(ev hardware.Event) {
	switch ev.Kind {
	case hardware.EventAppeared:
		fmt.Printf("+ %s (%s mode, codename %s)\n", ev.Device.Serial, ev.Device.Mode, dash(ev.Device.Codename))
	case hardware.EventChanged:
		fmt.Printf("~ %s now in %s mode\n", ev.Device.Serial, ev.Device.Mode)
	case hardware.EventRemoved:
		serial := "unknown"
		if ev.Previous != nil {
			serial = ev.Previous.Serial
		}
		fmt.Printf("- %s removed\n", serial)
	}
}
