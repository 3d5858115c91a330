package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/slack-go/slack"

	"github.com/vrcbridge/vrcbridge/internal/config"
	"github.com/vrcbridge/vrcbridge/internal/notify"
)

// SlackChannel mirrors blocks to a Slack incoming webhook as attachments.
type SlackChannel struct {
	config config.SlackConfig
}

func NewSlackChannel(cfg config.SlackConfig) *SlackChannel {
	return &SlackChannel{config: cfg}
}

func (c *SlackChannel) Name() string { return "slack" }

// Send posts one webhook message. The Discord channel ID is ignored; the
// webhook (or configured channel override) decides where it lands.
func (c *SlackChannel) Send(ctx context.Context, _ string, blocks []notify.Block) error {
	url := strings.TrimSpace(c.config.WebhookURL)
	if url == "" {
		return nil
	}
	msg := &slack.WebhookMessage{
		Channel:     strings.TrimSpace(c.config.Channel),
		Username:    strings.TrimSpace(c.config.Username),
		Attachments: make([]slack.Attachment, 0, len(blocks)),
	}
	for _, b := range blocks {
		msg.Attachments = append(msg.Attachments, toAttachment(b))
	}
	if err := slack.PostWebhookContext(ctx, url, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

func (c *SlackChannel) Close() error { return nil }

func toAttachment(b notify.Block) slack.Attachment {
	a := slack.Attachment{
		Color:      fmt.Sprintf("#%06x", b.Color&0xFFFFFF),
		AuthorName: b.Author,
		Title:      b.Title,
		Text:       b.Description,
		Footer:     b.Footer,
	}
	if !b.Timestamp.IsZero() {
		a.Ts = json.Number(strconv.FormatInt(b.Timestamp.Unix(), 10))
	}
	return a
}
