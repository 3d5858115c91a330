package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFileCandidates loads environment variables from known files.
// Existing process env vars are never overridden.
func LoadEnvFileCandidates() {
	for _, p := range envFileCandidates() {
		_ = godotenv.Load(p)
	}
}

func envFileCandidates() []string {
	candidates := make([]string, 0, 4)
	if explicit := strings.TrimSpace(os.Getenv("VRCBRIDGE_ENV_FILE")); explicit != "" {
		candidates = append(candidates, explicit)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".config", "vrcbridge", "env"),
			filepath.Join(home, ConfigDir, "env"),
			filepath.Join(home, ConfigDir, ".env"),
		)
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(candidates))
	for _, p := range candidates {
		if p == "" {
			continue
		}
		abs := p
		if !filepath.IsAbs(abs) {
			if resolved, err := filepath.Abs(p); err == nil {
				abs = resolved
			}
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		out = append(out, abs)
	}
	return out
}
