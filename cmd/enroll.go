package cmd

import (
	"fmt"
	"strings"

	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"
)

var enrollReplace bool

var enrollCmd = &cobra.Command{
	Use:   "enroll <name> <image_path>",
	Short: "Store the largest face in an image as a known identity",
	Long: `Encodes the largest face in the image and adds it to the known identities.
A person may be enrolled several times; every descriptor is used when matching.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		name := strings.TrimSpace(args[0])
		if name == "" || name == types.Unknown {
			err := fmt.Errorf("%q is not a usable name", args[0])
			utils.ShowError("Invalid name", err, nil)
			return err
		}

		face, err := encodeLargestFace(args[1], Cfg)
		if err != nil {
			return err
		}
		if face == nil {
			fmt.Println("❌ No faces detected in the provided image.")
			return nil
		}

		db, err := openDB(ctx)
		if err != nil {
			utils.ShowError("Database unavailable", err, nil)
			return err
		}

		if enrollReplace {
			n, err := db.DeleteIdentity(ctx, name)
			if err != nil {
				utils.ShowError("Failed to remove old descriptors", err, nil)
				return err
			}
			if n > 0 {
				fmt.Printf("🗑️  Removed %s for '%s'\n", english.Plural(int(n), "old descriptor", ""), name)
			}
		}

		id, err := db.AddIdentity(ctx, name, face.Vec)
		if err != nil {
			utils.ShowError("Failed to enroll identity", err, nil)
			return err
		}
		fmt.Printf("✅ Enrolled '%s' (ID: %d)\n", name, id)
		return nil
	},
}

func init() {
	enrollCmd.Flags().BoolVar(&enrollReplace, "replace", false, "Replace every existing descriptor for this name")
	rootCmd.AddCommand(enrollCmd)
}
