package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var renameCmd = &cobra.Command{
	Use:   "rename <old_name> <new_name>",
	Short: "Rename a known identity",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runRename(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(renameCmd)
}

func runRename(ctx context.Context, oldName, newName string) {
	db, err := openDB(ctx)
	if err != nil {
		utils.Die("Database unavailable", err, nil)
	}

	n, err := db.RenameIdentity(ctx, oldName, newName)
	if err != nil {
		utils.Die("Failed to rename identity", err, nil)
	}
	if n == 0 {
		fmt.Printf("❌ No identity named '%s'\n", oldName)
		return
	}

	fmt.Printf("✅ '%s' renamed to '%s' (%d descriptors)\n", oldName, newName, n)
}
