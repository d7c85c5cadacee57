package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB      bool
	resetPhotos  bool
	resetLedger  bool
	resetConfirm bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, Photo Archive, Ledger File)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetPhotos && !resetLedger {
			resetDB = true
			resetPhotos = true
			resetLedger = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				db, err := openDB(cmd.Context())
				if err != nil {
					utils.Die("Database unavailable", err, nil)
				}
				fmt.Println("🗑️  Clearing Database...")
				if err := db.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetPhotos {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all photos in %s?", Cfg.Archive.Root)) {
				fmt.Println("🗑️  Clearing Photo Archive...")
				removeDir(Cfg.Archive.Root)
			}
		}

		if resetLedger && Cfg.Ledger.Path != "" {
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete the ledger file %s?", Cfg.Ledger.Path)) {
				fmt.Println("🗑️  Clearing Ledger File...")
				removeDir(Cfg.Ledger.Path)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear PostgreSQL database")
	resetCmd.Flags().BoolVar(&resetPhotos, "photos", false, "Clear the photo archive")
	resetCmd.Flags().BoolVar(&resetLedger, "ledger", false, "Clear the CSV ledger file")
	resetCmd.Flags().BoolVarP(&resetConfirm, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	if resetConfirm {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeDir deletes a file or directory tree, warning instead of failing.
func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
