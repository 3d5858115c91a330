package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vrcbridge/vrcbridge/internal/scheduler"
	"github.com/vrcbridge/vrcbridge/internal/timeline"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vrcbridge %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, lock and last cycle",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	printHeader(out, "📊 vrcbridge Status")
	fmt.Fprintf(out, "Version: %s\n", version)

	path := configLocation()
	if fileExists(path) {
		fmt.Fprintln(out, "Config:  "+color.GreenString("✓")+" Found ("+path+")")
	} else {
		fmt.Fprintln(out, "Config:  "+color.RedString("✗")+" Not found ("+path+")")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config:  ? Unable to load (%v)\n", err)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(out, "Valid:   "+color.RedString("✗"))
		for _, e := range unwrapJoined(err) {
			fmt.Fprintf(out, "  - %v\n", e)
		}
	} else {
		fmt.Fprintln(out, "Valid:   "+color.GreenString("✓"))
	}
	fmt.Fprintf(out, "Groups:  %d configured\n", len(cfg.VRChat.Groups))
	fmt.Fprintf(out, "Poll:    %s (refresh %s, watermark %s)\n",
		cfg.Poll.Schedule, cfg.Poll.RefreshSchedule, cfg.Poll.WatermarkMode)

	var mirrors []string
	if cfg.Slack.Enabled {
		mirrors = append(mirrors, "slack")
	}
	if cfg.Kafka.Enabled {
		mirrors = append(mirrors, "kafka")
	}
	fmt.Fprintf(out, "Mirrors: %v\n", mirrors)

	if pid, ok := scheduler.ReadLockPID(cfg.Paths.LockPath); ok {
		fmt.Fprintf(out, "Poller:  running (pid %d)\n", pid)
	} else {
		fmt.Fprintln(out, "Poller:  not running")
	}

	if !fileExists(cfg.Paths.LedgerPath) {
		fmt.Fprintln(out, "Last cycle: none recorded")
		return nil
	}
	ledger, err := timeline.NewLedger(cfg.Paths.LedgerPath)
	if err != nil {
		fmt.Fprintf(out, "Last cycle: ? (%v)\n", err)
		return nil
	}
	defer ledger.Close()
	cycles, err := ledger.RecentCycles(1)
	if err != nil || len(cycles) == 0 {
		fmt.Fprintln(out, "Last cycle: none recorded")
		return nil
	}
	c := cycles[0]
	fmt.Fprintf(out, "Last cycle: %s at %s, %d entries, status %s\n",
		c.CycleID, c.StartedAt.Local().Format("2006-01-02 15:04:05"), c.Entries, c.Status)
	return nil
}
