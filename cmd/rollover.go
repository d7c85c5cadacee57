package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"
)

var (
	rolloverDate   string
	rolloverLedger string
)

var rolloverCmd = &cobra.Command{
	Use:   "rollover",
	Short: "Write a ledger section listing every known identity for a date",
	Long: `Issues the same archive operation a live session performs at midnight. Running it
twice for the same date is harmless; names enrolled since are appended to the section.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("ledger") {
			Cfg.Ledger.Backend = rolloverLedger
		}
		return runRollover(cmd.Context(), Cfg, rolloverDate)
	},
}

func init() {
	rolloverCmd.Flags().StringVar(&rolloverDate, "date", "", "Date as YYYY-MM-DD (default today)")
	rolloverCmd.Flags().StringVar(&rolloverLedger, "ledger", "file", "Ledger backend: file or postgres")
	rootCmd.AddCommand(rolloverCmd)
}

func runRollover(ctx context.Context, cfg *config.Config, date string) error {
	loc, err := cfg.Location()
	if err != nil {
		utils.ShowError("Invalid timezone", err, nil)
		return err
	}
	day, err := parseDay(date, loc)
	if err != nil {
		utils.ShowError("Invalid date", err, nil)
		return err
	}

	m, err := loadMatcher(ctx, cfg)
	if err != nil {
		utils.ShowError("Failed to load identities", err, nil)
		return err
	}
	led, err := openLedger(ctx, cfg)
	if err != nil {
		utils.ShowError("Failed to open ledger", err, nil)
		return err
	}

	names := m.Names()
	if err := led.ArchiveSection(ctx, day, names); err != nil {
		utils.ShowError("Failed to write ledger section", err, nil)
		return err
	}
	fmt.Printf("📅 Section %s ready with %s\n", day.Format(ledger.DateLayout), english.Plural(len(names), "name", ""))
	return nil
}
