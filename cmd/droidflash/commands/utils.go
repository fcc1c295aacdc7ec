package commands

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/droidflash/droidflash/pkg/errors"
	"github.com/droidflash/droidflash/pkg/hardware"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, workDir string) error {
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	if fsmDBPath != "" {
		if err := os.MkdirAll(filepath.Dir(fsmDBPath), 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}

	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func unlockedString(dev *hardware.Identity) string {
	if dev.Unlocked == nil {
		return "unknown"
	}
	if *dev.Unlocked {
		return "yes"
	}
	return "no"
}

func batteryString(level int) string {
	if level < 0 {
		return "-"
	}
	return strconv.Itoa(level) + "%"
}
