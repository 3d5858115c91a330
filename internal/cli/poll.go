package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vrcbridge/vrcbridge/internal/config"
	"github.com/vrcbridge/vrcbridge/internal/notify"
	"github.com/vrcbridge/vrcbridge/internal/poller"
)

var (
	pollSince  time.Duration
	pollDryRun bool
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run a single poll cycle over a look-back window",
	RunE:  runPollOnce,
}

func init() {
	pollCmd.Flags().DurationVar(&pollSince, "since", time.Hour, "Look-back window for this cycle")
	pollCmd.Flags().BoolVar(&pollDryRun, "dry-run", false, "Print rendered blocks as JSON instead of sending them")
	rootCmd.AddCommand(pollCmd)
}

func runPollOnce(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if pollSince <= 0 {
		return fmt.Errorf("--since must be positive")
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := validateForPoll(cfg, pollDryRun); err != nil {
		return err
	}

	opts := bridgeOptions{Start: time.Now().Add(-pollSince)}
	if pollDryRun {
		opts.Sender = jsonSender(out)
		opts.NoLedger = true
	}
	b, err := newBridge(cfg, opts)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx := cmd.Context()
	if err := b.refresh(ctx); err != nil {
		return err
	}
	report, err := b.poll(ctx)
	if err != nil {
		return err
	}
	printCycleReport(out, report)
	return report.Err()
}

// validateForPoll checks config; a dry run needs no chat credentials.
func validateForPoll(cfg *config.Config, dryRun bool) error {
	err := cfg.Validate()
	if err == nil || !dryRun {
		return err
	}
	var keep []error
	for _, e := range unwrapJoined(err) {
		if strings.HasPrefix(e.Error(), "discord.") {
			continue
		}
		keep = append(keep, e)
	}
	return errors.Join(keep...)
}

func unwrapJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func jsonSender(w io.Writer) notify.Sender {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return notify.SenderFunc(func(_ context.Context, channelID string, blocks []notify.Block) error {
		return enc.Encode(map[string]any{"channel": channelID, "blocks": blocks})
	})
}

func printCycleReport(w io.Writer, r poller.CycleReport) {
	fmt.Fprintf(w, "Cycle %s\n", r.CycleID)
	fmt.Fprintf(w, "  eligible groups: %d (skipped %d)\n", len(r.Eligible), len(r.Skipped))
	for _, d := range r.Skipped {
		fmt.Fprintf(w, "    - %s: %s\n", d.GroupID, d.Reason)
	}
	fmt.Fprintf(w, "  entries:         %d\n", r.Fetch.EntryCount())
	for _, g := range r.Fetch.Failures() {
		fmt.Fprintf(w, "  fetch failed:    %s: %v\n", g.GroupID, g.Err)
	}
	fmt.Fprintf(w, "  chunks sent:     %d/%d\n", r.Dispatch.Sent(), len(r.Dispatch.Chunks))
	fmt.Fprintf(w, "  status:          %s\n", r.Status())
}
