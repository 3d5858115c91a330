package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vrcbridge/vrcbridge/internal/timeline"
)

var (
	historyLimit int
	historyCycle string
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent poll cycles from the ledger",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of cycles to list")
	historyCmd.Flags().StringVar(&historyCycle, "cycle", "", "Show group fetches and deliveries of one cycle")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output machine-readable JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if !fileExists(cfg.Paths.LedgerPath) {
		return fmt.Errorf("no ledger at %s (has the poller run yet?)", cfg.Paths.LedgerPath)
	}
	ledger, err := timeline.NewLedger(cfg.Paths.LedgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	out := cmd.OutOrStdout()
	if historyCycle != "" {
		return printCycleDetail(out, ledger, historyCycle, historyJSON)
	}

	cycles, err := ledger.RecentCycles(historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return writeJSON(out, cycles)
	}
	if len(cycles) == 0 {
		fmt.Fprintln(out, "No cycles recorded.")
		return nil
	}
	printCycles(out, cycles)
	return nil
}

func printCycles(w io.Writer, cycles []timeline.CycleRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CYCLE\tSTARTED\tDURATION\tGROUPS\tENTRIES\tFAILED\tCHUNKS\tSTATUS")
	for _, c := range cycles {
		duration := "-"
		if c.EndedAt != nil {
			duration = c.EndedAt.Sub(c.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d/%d\t%s\n",
			c.CycleID, c.StartedAt.Local().Format("2006-01-02 15:04:05"), duration,
			c.EligibleGroups, c.Entries, c.FailedGroups,
			c.ChunksSent, c.ChunksSent+c.ChunksFailed, c.Status)
	}
	tw.Flush()
}

func printCycleDetail(w io.Writer, ledger *timeline.Ledger, cycleID string, asJSON bool) error {
	fetches, err := ledger.GroupFetches(cycleID)
	if err != nil {
		return err
	}
	deliveries, err := ledger.Deliveries(cycleID)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, map[string]any{"cycleId": cycleID, "fetches": fetches, "deliveries": deliveries})
	}
	if len(fetches) == 0 && len(deliveries) == 0 {
		return fmt.Errorf("cycle %s not found", cycleID)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tSINCE\tUNTIL\tENTRIES\tERROR")
	for _, f := range fetches {
		errText := f.ErrorText
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", f.GroupID,
			f.Since.Format(time.RFC3339), f.Until.Format(time.RFC3339), f.Entries, errText)
	}
	tw.Flush()

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHUNK\tBLOCKS\tSTATUS\tERROR")
	for _, d := range deliveries {
		errText := d.ErrorText
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", d.ChunkIndex, d.Blocks, d.Status, errText)
	}
	tw.Flush()
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
