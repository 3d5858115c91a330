// Package channels delivers rendered log blocks to chat platforms.
package channels

import (
	"context"
	"log/slog"

	"github.com/vrcbridge/vrcbridge/internal/notify"
)

// Channel is one chat sink (Discord, Slack, Kafka).
type Channel interface {
	// Name returns the channel name (e.g. "discord").
	Name() string
	// Send delivers at most notify.MaxBlocksPerMessage blocks to channelID.
	Send(ctx context.Context, channelID string, blocks []notify.Block) error
	// Close releases any connection the channel holds.
	Close() error
}

// Fanout sends every chunk to a primary channel and then to optional mirrors.
// Only the primary decides whether the chunk succeeded.
type Fanout struct {
	Primary Channel
	Mirrors []Channel
}

// NewFanout creates a Fanout. Nil mirrors are dropped.
func NewFanout(primary Channel, mirrors ...Channel) *Fanout {
	f := &Fanout{Primary: primary}
	for _, m := range mirrors {
		if m != nil {
			f.Mirrors = append(f.Mirrors, m)
		}
	}
	return f
}

// Send implements notify.Sender.
func (f *Fanout) Send(ctx context.Context, channelID string, blocks []notify.Block) error {
	err := f.Primary.Send(ctx, channelID, blocks)
	for _, m := range f.Mirrors {
		if merr := m.Send(ctx, channelID, blocks); merr != nil {
			slog.Warn("Mirror delivery failed", "channel", m.Name(), "blocks", len(blocks), "error", merr)
		}
	}
	return err
}

// Close closes the primary and every mirror, returning the first error.
func (f *Fanout) Close() error {
	var first error
	for _, c := range append([]Channel{f.Primary}, f.Mirrors...) {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Names lists the channel names, primary first.
func (f *Fanout) Names() []string {
	out := []string{f.Primary.Name()}
	for _, m := range f.Mirrors {
		out = append(out, m.Name())
	}
	return out
}
