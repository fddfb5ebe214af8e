package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/goccy/go-yaml"
)

// Config is the explicit configuration struct handed to the server and the
// loaders. Values come from an optional config.yaml overridden by
// environment variables.
type Config struct {
	Port           string   `yaml:"port"`
	DatabaseURL    string   `yaml:"database_url"`
	BatchSize      int      `yaml:"batch_size"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SeedCounties   bool     `yaml:"seed_counties"`
}

// Load reads path (when it exists) and applies env overrides. A missing
// file is fine; a missing DATABASE_URL is not.
func Load(path string) (Config, error) {
	cfg := Config{
		Port:           "5050",
		BatchSize:      500,
		MaxUploadBytes: 16 << 20,
		SeedCounties:   true,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// optional file
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("INGEST_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("bad INGEST_BATCH_SIZE %q", v)
		}
		cfg.BatchSize = n
	}
	if v := os.Getenv("MAX_UPLOAD_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("bad MAX_UPLOAD_SIZE %q", v)
		}
		cfg.MaxUploadBytes = n
	}

	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is empty")
	}
	return cfg, nil
}
