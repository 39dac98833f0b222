package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// envFiles are attempted in order; the first one that parses wins.
var envFiles = []string{".env", ".env.local"}

// loadEnvFiles loads environment variables from .env/.env.local if present.
// Existing process environment variables are not overwritten, so CI-provided
// values always take precedence over local files.
func loadEnvFiles() {
	for _, path := range envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			slog.Warn("Failed to load env file", "path", path, "error", err)
			continue
		}
		slog.Debug("Loaded environment variables", "path", path)
		return
	}
}

// MergeEnviron copies process environment variables into the descriptor env
// for keys the descriptor does not already set. Descriptor values win, so a
// pinned DATABASE_URL is never clobbered by the ambient shell.
func (c *Config) MergeEnviron(environ []string) {
	if c.Env == nil {
		c.Env = make(map[string]string, len(environ))
	}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		if _, exists := c.Env[key]; !exists {
			c.Env[key] = value
		}
	}
}
