package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// MaxBlocksPerMessage is the most blocks the chat platform accepts per message.
const MaxBlocksPerMessage = 10

// Sender delivers one message of at most MaxBlocksPerMessage blocks.
type Sender interface {
	Send(ctx context.Context, channelID string, blocks []Block) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, channelID string, blocks []Block) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, channelID string, blocks []Block) error {
	return f(ctx, channelID, blocks)
}

// ChunkOutcome records the delivery of one chunk.
type ChunkOutcome struct {
	Index int
	Size  int
	Err   error
}

// DispatchReport summarises one DispatchLogs call.
type DispatchReport struct {
	Blocks int
	Chunks []ChunkOutcome
}

// Sent counts chunks delivered successfully.
func (r DispatchReport) Sent() int {
	n := 0
	for _, c := range r.Chunks {
		if c.Err == nil {
			n++
		}
	}
	return n
}

// Err joins every chunk failure, or returns nil.
func (r DispatchReport) Err() error {
	var errs []error
	for _, c := range r.Chunks {
		if c.Err != nil {
			errs = append(errs, fmt.Errorf("chunk %d (%d blocks): %w", c.Index, c.Size, c.Err))
		}
	}
	return errors.Join(errs...)
}

// Batcher renders logs and sends them to one channel in order.
type Batcher struct {
	Sender      Sender
	ChannelID   string
	Names       GroupNames
	ChunkSize   int
	SendTimeout time.Duration
}

// NewBatcher creates a Batcher with the platform chunk size.
func NewBatcher(sender Sender, channelID string, names GroupNames) *Batcher {
	return &Batcher{
		Sender:      sender,
		ChannelID:   channelID,
		Names:       names,
		ChunkSize:   MaxBlocksPerMessage,
		SendTimeout: 30 * time.Second,
	}
}

// DispatchLogs renders logs and sends them in chunks, one at a time. A failed
// chunk is logged and the next chunk is still attempted. Nothing is sent when
// there is nothing to render.
func (b *Batcher) DispatchLogs(ctx context.Context, logs []GroupLogs) DispatchReport {
	blocks := Render(logs, b.Names)
	return b.DispatchBlocks(ctx, blocks)
}

// DispatchBlocks sends already rendered blocks in chunks.
func (b *Batcher) DispatchBlocks(ctx context.Context, blocks []Block) DispatchReport {
	report := DispatchReport{Blocks: len(blocks)}
	if len(blocks) == 0 {
		return report
	}
	size := b.ChunkSize
	if size <= 0 || size > MaxBlocksPerMessage {
		size = MaxBlocksPerMessage
	}

	for i, chunk := range Chunk(blocks, size) {
		err := b.send(ctx, chunk)
		if err != nil {
			slog.Error("Log chunk delivery failed", "channel", b.ChannelID, "chunk", i, "blocks", len(chunk), "error", err)
		}
		report.Chunks = append(report.Chunks, ChunkOutcome{Index: i, Size: len(chunk), Err: err})
	}
	return report
}

func (b *Batcher) send(ctx context.Context, chunk []Block) error {
	if b.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.SendTimeout)
		defer cancel()
	}
	return b.Sender.Send(ctx, b.ChannelID, chunk)
}

// Chunk splits blocks into contiguous slices of at most size elements.
func Chunk(blocks []Block, size int) [][]Block {
	if size <= 0 {
		size = MaxBlocksPerMessage
	}
	var out [][]Block
	for i := 0; i < len(blocks); i += size {
		end := min(i+size, len(blocks))
		out = append(out, blocks[i:end:end])
	}
	return out
}
