package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/vrcbridge/vrcbridge/internal/config"
	"github.com/vrcbridge/vrcbridge/internal/notify"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaChannel publishes every block as a JSON record keyed by group ID.
type KafkaChannel struct {
	writer messageWriter
	topic  string
}

// NewKafkaChannel creates a producer for cfg.Topic on cfg.Brokers
// (comma-separated).
func NewKafkaChannel(cfg config.KafkaConfig) (*KafkaChannel, error) {
	brokers := splitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: cfg.AutoCreateTopic,
	}
	return &KafkaChannel{writer: w, topic: cfg.Topic}, nil
}

func (c *KafkaChannel) Name() string { return "kafka" }

// kafkaRecord is the published value.
type kafkaRecord struct {
	ChannelID string       `json:"channelId"`
	Block     notify.Block `json:"block"`
}

// Send writes one record per block, in order.
func (c *KafkaChannel) Send(ctx context.Context, channelID string, blocks []notify.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(blocks))
	for _, b := range blocks {
		value, err := json.Marshal(kafkaRecord{ChannelID: channelID, Block: b})
		if err != nil {
			return fmt.Errorf("kafka encode: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(b.GroupID),
			Value: value,
			Time:  b.Timestamp,
		})
	}
	if err := c.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write to %s: %w", c.topic, err)
	}
	return nil
}

func (c *KafkaChannel) Close() error { return c.writer.Close() }

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
