package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/vrcbridge/vrcbridge/internal/auditlog"
	"github.com/vrcbridge/vrcbridge/internal/channels"
	"github.com/vrcbridge/vrcbridge/internal/config"
	"github.com/vrcbridge/vrcbridge/internal/notify"
	"github.com/vrcbridge/vrcbridge/internal/poller"
	"github.com/vrcbridge/vrcbridge/internal/policy"
	"github.com/vrcbridge/vrcbridge/internal/timeline"
	"github.com/vrcbridge/vrcbridge/internal/vrchat"
)

// bridge holds every wired component of a running poller.
type bridge struct {
	cfg       *config.Config
	client    *vrchat.Client
	registry  *poller.Registry
	evaluator *policy.Evaluator
	sender    notify.Sender
	closers   []func() error
	ledger    *timeline.Ledger
	poller    *poller.Poller
}

type bridgeOptions struct {
	// Start is the initial watermark of every group.
	Start time.Time
	// Sender replaces the configured chat sinks when set.
	Sender notify.Sender
	// NoLedger skips opening the history ledger.
	NoLedger bool
}

func newBridge(cfg *config.Config, opts bridgeOptions) (*bridge, error) {
	mode, err := auditlog.ParseMode(cfg.Poll.WatermarkMode)
	if err != nil {
		return nil, err
	}
	client, err := vrchat.NewClient(vrchat.ClientConfig{
		BaseURL:    cfg.VRChat.BaseURL,
		Username:   cfg.VRChat.Username,
		Password:   cfg.VRChat.Password,
		TOTPSecret: cfg.VRChat.TOTPSecret,
		UserAgent:  cfg.VRChat.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	b := &bridge{
		cfg:       cfg,
		client:    client,
		registry:  poller.NewRegistry(),
		evaluator: policy.NewEvaluator(nil, cfg.VRChat),
		sender:    opts.Sender,
	}
	if b.sender == nil {
		sink, err := newSink(cfg)
		if err != nil {
			return nil, err
		}
		b.sender = sink
		b.closers = append(b.closers, sink.Close)
		slog.Info("Chat sinks ready", "channels", sink.Names())
	}

	if !opts.NoLedger {
		ledger, err := openLedger(cfg)
		if err != nil {
			slog.Warn("History ledger unavailable", "path", cfg.Paths.LedgerPath, "error", err)
		} else {
			b.ledger = ledger
			b.closers = append(b.closers, ledger.Close)
		}
	}

	fetcher := auditlog.NewFetcher(client)
	fetcher.RequestTimeout = cfg.Poll.RequestTimeout()
	fetcher.MaxConcurrent = cfg.Poll.MaxConcurrentFetches
	fetcher.PageSize = cfg.Poll.PageSize
	fetcher.MaxPages = cfg.Poll.MaxPages

	batcher := notify.NewBatcher(b.sender, cfg.Discord.ChannelIDs.Logs, b.registry)
	batcher.SendTimeout = cfg.Poll.SendTimeout()

	orch := &poller.Orchestrator{
		Registry:  b.registry,
		Evaluator: b.evaluator,
		Fetcher:   fetcher,
		Batcher:   batcher,
	}
	if b.ledger != nil {
		orch.Ledger = b.ledger
	}

	start := opts.Start
	if start.IsZero() {
		start = time.Now()
	}
	b.poller = poller.New(orch, auditlog.NewState(start, mode))
	return b, nil
}

// newSink builds the Discord sender and the enabled mirrors.
func newSink(cfg *config.Config) (*channels.Fanout, error) {
	discord, err := channels.NewDiscordChannel(cfg.Discord)
	if err != nil {
		return nil, err
	}
	var mirrors []channels.Channel
	if cfg.Slack.Enabled {
		mirrors = append(mirrors, channels.NewSlackChannel(cfg.Slack))
	}
	if cfg.Kafka.Enabled {
		k, err := channels.NewKafkaChannel(cfg.Kafka)
		if err != nil {
			discord.Close()
			return nil, err
		}
		mirrors = append(mirrors, k)
	}
	return channels.NewFanout(discord, mirrors...), nil
}

func openLedger(cfg *config.Config) (*timeline.Ledger, error) {
	if err := config.EnsureDir(filepath.Dir(cfg.Paths.LedgerPath)); err != nil {
		return nil, err
	}
	return timeline.NewLedger(cfg.Paths.LedgerPath)
}

// refresh logs in when needed and reloads group permissions. Partial
// failures are logged by the registry; only an empty registry is an error.
func (b *bridge) refresh(ctx context.Context) error {
	if err := b.client.Login(ctx); err != nil {
		return err
	}
	n, err := b.registry.Refresh(ctx, b.client, b.cfg.VRChat.GroupIDs(), b.cfg.Poll.RequestTimeout())
	if n == 0 {
		if err == nil {
			err = fmt.Errorf("no groups configured")
		}
		return fmt.Errorf("group refresh: %w", err)
	}
	return nil
}

// poll runs one cycle, logging in again first if the session was dropped.
func (b *bridge) poll(ctx context.Context) (poller.CycleReport, error) {
	if err := b.client.Login(ctx); err != nil {
		return poller.CycleReport{}, err
	}
	return b.poller.Poll(ctx)
}

func (b *bridge) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
