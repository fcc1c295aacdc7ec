package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/droidflash/droidflash/internal/config"
	"github.com/droidflash/droidflash/pkg/db"
	"github.com/droidflash/droidflash/pkg/errors"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past install attempts",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	installs, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(installs) == 0 {
		fmt.Println("No installs found")
		return nil
	}

	fmt.Printf("%-5s %-16s %-12s %-16s %-12s %-10s %-16s\n",
		"ID", "SERIAL", "CODENAME", "DISTRO", "STATUS", "STAGE", "WHEN")
	fmt.Println("--------------------------------------------------------------------------------------------")

	for _, in := range installs {
		fmt.Printf("%-5d %-16s %-12s %-16s %-12s %-10s %-16s\n",
			in.ID, in.Serial, in.Codename, in.Distro, in.Status, dash(in.Stage), age(in.CreatedAt))
		if in.ErrorMessage != "" {
			fmt.Printf("      error: %s\n", in.ErrorMessage)
		}
	}

	return nil
}

// age humanizes the SQLite timestamp, which is stored in UTC.
func age(created string) string {
	t, err := time.Parse("2006-01-02 15:04:05", created)
	if err != nil {
		return created
	}
	return humanize.Time(t.UTC())
}
