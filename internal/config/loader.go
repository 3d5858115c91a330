package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/vrcbridge/vrcbridge/internal/capability"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".vrcbridge"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "VRCBRIDGE"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("VRCBRIDGE_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("VRCBRIDGE_HOME")); h != "" {
		return expandHome(h)
	}
	return os.UserHomeDir()
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	base, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, p[1:]), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	// Load process env vars from ~/.config/vrcbridge/env (and fallbacks) first.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		cfg := DefaultConfig()
		applyEnv(cfg)
		applyDefaults(cfg)
		return cfg, nil // Use defaults if we can't find config path
	}
	return LoadFile(path)
}

// LoadFile loads path (JSON, or YAML by extension) over the defaults and then
// applies environment overrides. A missing file yields defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	// If file doesn't exist, continue with defaults

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envconfig.Process(EnvPrefix, &cfg.VRChat)
	envconfig.Process(EnvPrefix, &cfg.Discord)
	envconfig.Process(EnvPrefix, &cfg.Slack)
	envconfig.Process(EnvPrefix, &cfg.Kafka)
	envconfig.Process(EnvPrefix, &cfg.Poll)
	envconfig.Process(EnvPrefix, &cfg.Paths)

	if v := strings.TrimSpace(os.Getenv("VRCBRIDGE_DISCORD_LOGS_CHANNEL")); v != "" {
		cfg.Discord.ChannelIDs.Logs = v
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.VRChat.Groups == nil {
		cfg.VRChat.Groups = map[string]GroupConfig{}
	}
	if strings.TrimSpace(cfg.Poll.Schedule) == "" {
		cfg.Poll.Schedule = defaults.Poll.Schedule
	}
	if strings.TrimSpace(cfg.Poll.RefreshSchedule) == "" {
		cfg.Poll.RefreshSchedule = defaults.Poll.RefreshSchedule
	}
	if cfg.Poll.RequestTimeoutSeconds <= 0 {
		cfg.Poll.RequestTimeoutSeconds = defaults.Poll.RequestTimeoutSeconds
	}
	if cfg.Poll.SendTimeoutSeconds <= 0 {
		cfg.Poll.SendTimeoutSeconds = defaults.Poll.SendTimeoutSeconds
	}
	if cfg.Poll.MaxConcurrentFetches <= 0 {
		cfg.Poll.MaxConcurrentFetches = defaults.Poll.MaxConcurrentFetches
	}
	if cfg.Poll.PageSize <= 0 || cfg.Poll.PageSize > 100 {
		cfg.Poll.PageSize = defaults.Poll.PageSize
	}
	if cfg.Poll.MaxPages <= 0 {
		cfg.Poll.MaxPages = defaults.Poll.MaxPages
	}
	for _, p := range []*string{&cfg.Paths.LedgerPath, &cfg.Paths.LockPath} {
		if expanded, err := expandHome(*p); err == nil {
			*p = expanded
		}
	}
}

// Validate reports configuration that would stop the poller from running.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.VRChat.Username) == "" || strings.TrimSpace(c.VRChat.Password) == "" {
		errs = append(errs, errors.New("vrchat.username and vrchat.password are required"))
	}
	if strings.TrimSpace(c.Discord.Token) == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if strings.TrimSpace(c.Discord.ChannelIDs.Logs) == "" {
		errs = append(errs, errors.New("discord.channelIds.logs is required"))
	}
	if len(c.VRChat.Groups) == 0 {
		errs = append(errs, errors.New("vrchat.groupIds must list at least one group"))
	}
	for _, id := range c.VRChat.GroupIDs() {
		for _, name := range sortedKeys(c.VRChat.Groups[id].Capabilities) {
			if !capability.Default.Has(capability.Capability(name)) {
				errs = append(errs, fmt.Errorf("vrchat.groupIds.%s: unknown capability %q", id, name))
			}
		}
	}
	if c.Slack.Enabled && strings.TrimSpace(c.Slack.WebhookURL) == "" {
		errs = append(errs, errors.New("slack.webhookUrl is required when slack is enabled"))
	}
	if c.Kafka.Enabled && (strings.TrimSpace(c.Kafka.Brokers) == "" || strings.TrimSpace(c.Kafka.Topic) == "") {
		errs = append(errs, errors.New("kafka.brokers and kafka.topic are required when kafka is enabled"))
	}
	return errors.Join(errs...)
}

// CapabilityEnabled reports the configured state of c for groupID.
// configured is false when the group or the capability key is absent.
func (c VRChatConfig) CapabilityEnabled(groupID string, want capability.Capability) (enabled, configured bool) {
	g, ok := c.Groups[groupID]
	if !ok {
		return false, false
	}
	v, ok := g.Capabilities[string(want)]
	return v, ok
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	raw, err := decodeObject(absPath, data)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

// decodeObject parses a config document as YAML when the extension says so,
// otherwise as JSON.
func decodeObject(path string, data []byte) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json %s: %w", path, err)
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		if !srcIsMap {
			dst[key] = val
			continue
		}

		existing, ok := dst[key]
		if !ok {
			copyMap := map[string]any{}
			deepMerge(copyMap, srcMap)
			dst[key] = copyMap
			continue
		}
		dstMap, dstIsMap := existing.(map[string]any)
		if !dstIsMap {
			copyMap := map[string]any{}
			deepMerge(copyMap, srcMap)
			dst[key] = copyMap
			continue
		}
		deepMerge(dstMap, srcMap)
	}
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
