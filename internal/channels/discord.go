package channels

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/vrcbridge/vrcbridge/internal/config"
	"github.com/vrcbridge/vrcbridge/internal/notify"
)

// embedSender is the slice of *discordgo.Session we use.
type embedSender interface {
	ChannelMessageSendEmbeds(channelID string, embeds []*discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordChannel posts blocks as message embeds through the Discord REST API.
type DiscordChannel struct {
	api     embedSender
	limiter *rate.Limiter
	closeFn func() error
}

// NewDiscordChannel creates a REST-only Discord sender from config.
func NewDiscordChannel(cfg config.DiscordConfig) (*DiscordChannel, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	if cfg.UserAgent != "" {
		s.UserAgent = cfg.UserAgent
	}
	return newDiscordChannel(s, cfg.MessagesPerSecond, s.Close), nil
}

func newDiscordChannel(api embedSender, perSecond float64, closeFn func() error) *DiscordChannel {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &DiscordChannel{
		api:     api,
		limiter: rate.NewLimiter(limit, 1),
		closeFn: closeFn,
	}
}

func (c *DiscordChannel) Name() string { return "discord" }

// Send posts one message carrying every block as an embed.
func (c *DiscordChannel) Send(ctx context.Context, channelID string, blocks []notify.Block) error {
	if strings.TrimSpace(channelID) == "" {
		return fmt.Errorf("discord: empty channel id")
	}
	if len(blocks) > notify.MaxBlocksPerMessage {
		return fmt.Errorf("discord: %d embeds exceeds limit of %d", len(blocks), notify.MaxBlocksPerMessage)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	embeds := make([]*discordgo.MessageEmbed, len(blocks))
	for i, b := range blocks {
		embeds[i] = toEmbed(b)
	}
	if _, err := c.api.ChannelMessageSendEmbeds(channelID, embeds, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send to %s: %w", channelID, err)
	}
	return nil
}

func (c *DiscordChannel) Close() error {
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}

func toEmbed(b notify.Block) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       b.Title,
		Description: b.Description,
		Color:       b.Color,
		Author:      &discordgo.MessageEmbedAuthor{Name: b.Author},
	}
	if !b.Timestamp.IsZero() {
		e.Timestamp = b.Timestamp.UTC().Format(time.RFC3339)
	}
	if b.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: b.Footer}
	}
	return e
}
