// Package config provides configuration types and loading for vrcbridge.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration struct.
// Top-level groups: VRChat, Discord, Slack, Kafka, Poll, Paths.
type Config struct {
	VRChat  VRChatConfig  `json:"vrchat" yaml:"vrchat"`
	Discord DiscordConfig `json:"discord" yaml:"discord"`
	Slack   SlackConfig   `json:"slack" yaml:"slack"`
	Kafka   KafkaConfig   `json:"kafka" yaml:"kafka"`
	Poll    PollConfig    `json:"poll" yaml:"poll"`
	Paths   PathsConfig   `json:"paths" yaml:"paths"`
}

// ---------------------------------------------------------------------------
// VRChat – group platform credentials and tracked groups
// ---------------------------------------------------------------------------

// VRChatConfig holds group-platform credentials and the tracked groups.
type VRChatConfig struct {
	BaseURL    string `json:"baseUrl" yaml:"baseUrl" envconfig:"VRCHAT_BASE_URL"`
	Username   string `json:"username" yaml:"username" envconfig:"VRCHAT_USERNAME"`
	Password   string `json:"password" yaml:"password" envconfig:"VRCHAT_PASSWORD"`
	TOTPSecret string `json:"totp" yaml:"totp" envconfig:"VRCHAT_TOTP"`
	UserAgent  string `json:"userAgent" yaml:"userAgent" envconfig:"VRCHAT_USER_AGENT"`
	// Groups maps a group ID to its capability configuration.
	Groups map[string]GroupConfig `json:"groupIds" yaml:"groupIds" ignored:"true"`
}

// GroupConfig enables or disables capabilities for one group. A capability
// missing from the map is treated as disabled.
type GroupConfig struct {
	Capabilities map[string]bool `json:"capabilities" yaml:"capabilities"`
}

// GroupIDs lists tracked group IDs in sorted order.
func (c VRChatConfig) GroupIDs() []string {
	return sortedKeys(c.Groups)
}

// ---------------------------------------------------------------------------
// Chat sinks
// ---------------------------------------------------------------------------

// DiscordConfig configures the primary Discord sink.
type DiscordConfig struct {
	Token             string            `json:"token" yaml:"token" envconfig:"DISCORD_TOKEN"`
	ChannelIDs        DiscordChannelIDs `json:"channelIds" yaml:"channelIds" ignored:"true"`
	UserAgent         string            `json:"userAgent" yaml:"userAgent" envconfig:"DISCORD_USER_AGENT"`
	MessagesPerSecond float64           `json:"messagesPerSecond" yaml:"messagesPerSecond" envconfig:"DISCORD_MESSAGES_PER_SECOND"`
}

// DiscordChannelIDs names the output channels.
type DiscordChannelIDs struct {
	Logs string `json:"logs" yaml:"logs"`
}

// SlackConfig configures the optional Slack webhook mirror.
type SlackConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled" envconfig:"SLACK_ENABLED"`
	WebhookURL string `json:"webhookUrl" yaml:"webhookUrl" envconfig:"SLACK_WEBHOOK_URL"`
	Channel    string `json:"channel,omitempty" yaml:"channel,omitempty" envconfig:"SLACK_CHANNEL"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty" envconfig:"SLACK_USERNAME"`
}

// KafkaConfig configures the optional Kafka mirror.
type KafkaConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled" envconfig:"KAFKA_ENABLED"`
	Brokers         string `json:"brokers" yaml:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic           string `json:"topic" yaml:"topic" envconfig:"KAFKA_TOPIC"`
	AutoCreateTopic bool   `json:"autoCreateTopic" yaml:"autoCreateTopic" envconfig:"KAFKA_AUTO_CREATE_TOPIC"`
}

// ---------------------------------------------------------------------------
// Poll – cycle schedule and limits
// ---------------------------------------------------------------------------

// PollConfig groups the poll cycle settings.
type PollConfig struct {
	Schedule              string `json:"schedule" yaml:"schedule" envconfig:"POLL_SCHEDULE"`
	RefreshSchedule       string `json:"refreshSchedule" yaml:"refreshSchedule" envconfig:"POLL_REFRESH_SCHEDULE"`
	WatermarkMode         string `json:"watermarkMode" yaml:"watermarkMode" envconfig:"POLL_WATERMARK_MODE"`
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds" yaml:"requestTimeoutSeconds" envconfig:"POLL_REQUEST_TIMEOUT_SECONDS"`
	SendTimeoutSeconds    int    `json:"sendTimeoutSeconds" yaml:"sendTimeoutSeconds" envconfig:"POLL_SEND_TIMEOUT_SECONDS"`
	MaxConcurrentFetches  int    `json:"maxConcurrentFetches" yaml:"maxConcurrentFetches" envconfig:"POLL_MAX_CONCURRENT_FETCHES"`
	PageSize              int    `json:"pageSize" yaml:"pageSize" envconfig:"POLL_PAGE_SIZE"`
	MaxPages              int    `json:"maxPages" yaml:"maxPages" envconfig:"POLL_MAX_PAGES"`
}

// RequestTimeout is the per-group fetch timeout.
func (p PollConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSeconds) * time.Second
}

// SendTimeout is the per-chunk send timeout.
func (p PollConfig) SendTimeout() time.Duration {
	return time.Duration(p.SendTimeoutSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	LedgerPath string `json:"ledgerPath" yaml:"ledgerPath" envconfig:"LEDGER_PATH"`
	LockPath   string `json:"lockPath" yaml:"lockPath" envconfig:"LOCK_PATH"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		VRChat: VRChatConfig{
			BaseURL:   "https://api.vrchat.cloud/api/1",
			UserAgent: "vrcbridge/1.0",
			Groups:    map[string]GroupConfig{},
		},
		Discord: DiscordConfig{
			MessagesPerSecond: 1,
		},
		Poll: PollConfig{
			Schedule:              "@every 1m",
			RefreshSchedule:       "@every 30m",
			WatermarkMode:         "per-group",
			RequestTimeoutSeconds: 30,
			SendTimeoutSeconds:    30,
			MaxConcurrentFetches:  4,
			PageSize:              100,
			MaxPages:              20,
		},
		Paths: PathsConfig{
			LedgerPath: filepath.Join(home, ConfigDir, "ledger.db"),
			LockPath:   filepath.Join(home, ConfigDir, "poller.lock"),
		},
	}
}
