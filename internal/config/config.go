package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBFile         string
	APIAddr        string
	UploadsPath    string
	AuthSecret     string
	TokenExpiry    time.Duration
	TokenCacheTTL  time.Duration
	TokenCacheSize int64
	AllowedOrigins []string
}

func Load() (*Config, error) {
	// Missing .env is fine, env vars may be set directly.
	_ = godotenv.Load()

	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_EXPIRY: %w", err)
	}

	cacheTTL, err := time.ParseDuration(getEnv("TOKEN_CACHE_TTL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_CACHE_TTL: %w", err)
	}

	cfg := &Config{
		DBFile:         getEnv("GOVORILKA_DB", "govorilka.db"),
		APIAddr:        getEnv("API_ADDR", ":8080"),
		UploadsPath:    getEnv("UPLOADS_PATH", "uploads"),
		AuthSecret:     os.Getenv("AUTH_SECRET"),
		TokenExpiry:    tokenExpiry,
		TokenCacheTTL:  cacheTTL,
		TokenCacheSize: 30 << 20,
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.TokenCacheTTL <= 0 {
		return fmt.Errorf("TOKEN_CACHE_TTL must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
