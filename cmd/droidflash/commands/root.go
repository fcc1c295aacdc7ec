package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "droidflash",
	Short: "droidflash - alternative OS installer for Android devices",
	Long: `Detects Android devices over adb/fastboot, walks through bootloader
unlocking, and installs alternative operating systems: download,
decompress, verify, flash.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("adb-path", "adb", "Path to the adb binary")
	rootCmd.PersistentFlags().String("fastboot-path", "fastboot", "Path to the fastboot binary")
	rootCmd.PersistentFlags().String("catalog-dir", "./catalog", "Device/distro catalog directory")
	rootCmd.PersistentFlags().String("work-dir", "/tmp/droidflash", "Working directory for downloads and images")
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/installs.db", "SQLite database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm.db", "FSM BoltDB path")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "Region for s3:// image sources")
	rootCmd.PersistentFlags().Duration("poll-interval", time.Second, "Device poll interval")
	rootCmd.PersistentFlags().Duration("probe-timeout", 5*time.Second, "Per-probe timeout")
	rootCmd.PersistentFlags().Int("removal-misses", 3, "Consecutive missed polls before a device counts as removed")

	viper.BindPFlag("adb-path", rootCmd.PersistentFlags().Lookup("adb-path"))
	viper.BindPFlag("fastboot-path", rootCmd.PersistentFlags().Lookup("fastboot-path"))
	viper.BindPFlag("catalog-dir", rootCmd.PersistentFlags().Lookup("catalog-dir"))
	viper.BindPFlag("work-dir", rootCmd.PersistentFlags().Lookup("work-dir"))
	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
	viper.BindPFlag("poll-interval", rootCmd.PersistentFlags().Lookup("poll-interval"))
	viper.BindPFlag("probe-timeout", rootCmd.PersistentFlags().Lookup("probe-timeout"))
	viper.BindPFlag("removal-misses", rootCmd.PersistentFlags().Lookup("removal-misses"))
}
