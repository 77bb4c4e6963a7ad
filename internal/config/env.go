package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides applied after parsing.
const (
	EnvConfig   = "THREADLET_CONFIG"
	EnvLogLevel = "THREADLET_LOG_LEVEL"
	EnvStorage  = "THREADLET_STORAGE_PATH"
)

// LoadEnv loads .env style files into the process environment. Missing
// files are ignored; variables already set win.
func LoadEnv(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
	} else if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overlays environment overrides on cfg.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorage)); v != "" && cfg.Storage != nil {
		cfg.Storage.Path = v
	}
}
