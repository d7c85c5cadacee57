package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/ledger"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/spf13/cobra"
)

var (
	ledgerDate    string
	ledgerBackend string
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the attendance ledger",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print one day's section of the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("ledger") {
			Cfg.Ledger.Backend = ledgerBackend
		}
		return runLedgerShow(cmd.Context(), Cfg, ledgerDate)
	},
}

func init() {
	ledgerShowCmd.Flags().StringVar(&ledgerDate, "date", "", "Date as YYYY-MM-DD (default today)")
	ledgerShowCmd.Flags().StringVar(&ledgerBackend, "ledger", "file", "Ledger backend: file or postgres")
	ledgerCmd.AddCommand(ledgerShowCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedgerShow(ctx context.Context, cfg *config.Config, date string) error {
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

	led, err := openLedger(ctx, cfg)
	if err != nil {
		utils.ShowError("Failed to open ledger", err, nil)
		return err
	}

	rows, err := led.Section(ctx, day)
	if errors.Is(err, ledger.ErrNoSection) {
		fmt.Printf("No section for %s.\n", day.Format(ledger.DateLayout))
		return nil
	}
	if err != nil {
		utils.ShowError("Failed to read ledger", err, nil)
		return err
	}

	return printSection(os.Stdout, day, rows)
}

func printSection(out io.Writer, day time.Time, rows []ledger.Row) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\t%s\n", day.Format(ledger.DateLayout), ledger.StatusHeader, ledger.TimeHeader)
	present := 0
	for _, r := range rows {
		if r.Status == ledger.StatusPresent {
			present++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Status, r.Time)
	}
	fmt.Fprintf(w, "\n%d/%d present\n", present, len(rows))
	return w.Flush()
}
