package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/droidflash/droidflash/internal/config"
	"github.com/droidflash/droidflash/pkg/db"
	"github.com/droidflash/droidflash/pkg/errors"
)

var (
	cleanupOlderThan int
	cleanupWorkDir   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune old install history and downloaded images",
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupOlderThan, "older-than", 30, "Purge finished installs older than this many days")
	cleanupCmd.Flags().BoolVar(&cleanupWorkDir, "work-dir", true, "Also remove downloads no history row references")
}

func runCleanup(cmd *cobra.Command, args []string) error {
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

	deleted, err := repo.PurgeOlderThan(cleanupOlderThan)
	if err != nil {
		return errors.Wrap(err, "purge failed")
	}
	fmt.Printf("🧹 Purged %d install records older than %d days\n", deleted, cleanupOlderThan)

	if cleanupWorkDir {
		removed, err := scrubDownloads(repo, cfg.WorkDir)
		if err != nil {
			return err
		}
		fmt.Printf("🗑️  Removed %d unreferenced downloads\n", removed)
	}

	return nil
}

// scrubDownloads deletes files in the downloads directory that no
// remaining history row references.
func scrubDownloads(repo *db.Repository, workDir string) (int, error) {
	installs, err := repo.List()
	if err != nil {
		return 0, errors.Wrap(err, "list failed")
	}

	referenced := make(map[string]bool, len(installs))
	for _, in := range installs {
		referenced[filepath.Base(in.ImageURL)] = true
		// The decompressed sibling shares the name minus the suffix.
		base := filepath.Base(in.ImageURL)
		referenced[base[:len(base)-len(filepath.Ext(base))]] = true
	}

	downloadDir := filepath.Join(workDir, "downloads")
	entries, err := os.ReadDir(downloadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read downloads dir")
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || referenced[entry.Name()] {
			continue
		}
		path := filepath.Join(downloadDir, entry.Name())
		if err := os.Remove(path); err != nil {
			fmt.Printf("⚠️  Failed to remove %s: %v\n", entry.Name(), err)
			continue
		}
		removed++
	}
	return removed, nil
}
