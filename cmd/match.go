package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/matcher"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/worker"
	"github.com/spf13/cobra"
)

var (
	matchThreshold  float64
	matchIdentities string
)

var matchCmd = &cobra.Command{
	Use:   "match <image_path>",
	Short: "Match the largest face in an image against known identities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("threshold") {
			Cfg.Match.DistanceThreshold = matchThreshold
		}
		if cmd.Flags().Changed("identities") {
			Cfg.Match.IdentitiesFile = matchIdentities
		}
		return runMatch(cmd.Context(), args[0], Cfg)
	},
}

func init() {
	matchCmd.Flags().Float64VarP(&matchThreshold, "threshold", "t", 0.40, "Face matching distance threshold")
	matchCmd.Flags().StringVar(&matchIdentities, "identities", "", "YAML identities file to use instead of the database")
	rootCmd.AddCommand(matchCmd)
}

func runMatch(ctx context.Context, imagePath string, cfg *config.Config) error {
	face, err := encodeLargestFace(imagePath, cfg)
	if err != nil {
		return err
	}
	if face == nil {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	m, err := loadMatcher(ctx, cfg)
	if err != nil {
		utils.ShowError("Failed to load identities", err, nil)
		return err
	}

	name, dist, err := m.Match(face.Vec)
	if err != nil {
		utils.ShowError("Match failed", err, nil)
		return err
	}

	if name == types.Unknown {
		fmt.Println("❌ No match found among known identities.")
	} else {
		fmt.Printf("✅ Found Match: %s (distance %.3f)\n", name, dist)
	}

	closest, err := m.Closest(face.Vec, 5)
	if err != nil {
		return err
	}
	if len(closest) == 0 {
		return nil
	}

	wOut := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(wOut, "\nNAME\tDISTANCE")
	fmt.Fprintln(wOut, "----\t--------")
	for _, c := range closest {
		fmt.Fprintf(wOut, "%s\t%.3f\n", c.Name, c.Distance)
	}
	wOut.Flush()
	return nil
}

// encodeLargestFace runs the worker once on an image file. It returns nil when no face is found.
func encodeLargestFace(imagePath string, cfg *config.Config) (*types.FaceResult, error) {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		utils.ShowError("Input file does not exist", err, nil)
		return nil, err
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	// We use ID 0 for this ad-hoc worker
	w, err := worker.NewPythonWorker(0, worker.Config{
		Python:      cfg.Worker.Python,
		Script:      cfg.Worker.Script,
		ReadTimeout: cfg.Worker.ReadTimeout,
	})
	if err != nil {
		utils.ShowError("Failed to start AI worker", err, nil)
		return nil, err
	}
	defer w.Close()

	imgData, err := os.ReadFile(imagePath)
	if err != nil {
		utils.ShowError("Failed to read image file", err, nil)
		return nil, err
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	faces, err := w.Detect(imgData)
	if err != nil {
		utils.ShowError("AI processing failed", err, w.Cmd)
		return nil, err
	}

	best, ok := worker.Largest(faces)
	if !ok {
		return nil, nil
	}
	if len(faces) > 1 {
		fmt.Printf("⚠️  Multiple faces detected (%d). Using the largest face.\n", len(faces))
	}
	if len(best.Vec) == 0 {
		err := fmt.Errorf("worker returned no descriptor: %w", matcher.ErrDimension)
		utils.ShowError("Face could not be encoded", err, nil)
		return nil, err
	}
	return &best, nil
}
