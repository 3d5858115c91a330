package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vrcbridge/vrcbridge/internal/config"
	"github.com/vrcbridge/vrcbridge/internal/poller"
	"github.com/vrcbridge/vrcbridge/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll audit logs on the configured schedule until interrupted",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	printHeader(out, "🛰️ vrcbridge")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config (%s):\n%w", configLocation(), err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Entries older than process start are never delivered.
	b, err := newBridge(cfg, bridgeOptions{Start: time.Now()})
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.refresh(ctx); err != nil {
		return err
	}

	if err := config.EnsureDir(filepath.Dir(cfg.Paths.LockPath)); err != nil {
		return err
	}
	sched := scheduler.New(scheduler.Config{LockPath: cfg.Paths.LockPath})
	if err := sched.Register(scheduler.Job{
		Name:     "poll",
		Schedule: cfg.Poll.Schedule,
		Run: func(ctx context.Context) error {
			_, err := b.poll(ctx)
			if errors.Is(err, poller.ErrCycleInFlight) {
				return nil
			}
			return err
		},
	}); err != nil {
		return err
	}
	if err := sched.Register(scheduler.Job{
		Name:     "refresh",
		Schedule: cfg.Poll.RefreshSchedule,
		Run:      b.refresh,
	}); err != nil {
		return err
	}

	fmt.Fprintf(out, "Tracking %d group(s), polling %s, posting to channel %s\n",
		b.registry.Len(), cfg.Poll.Schedule, cfg.Discord.ChannelIDs.Logs)

	err = sched.Run(ctx)
	if errors.Is(err, scheduler.ErrLocked) {
		return fmt.Errorf("another vrcbridge is already running (lock %s)", cfg.Paths.LockPath)
	}
	if errors.Is(err, context.Canceled) {
		slog.Info("Shutting down")
		return nil
	}
	return err
}
