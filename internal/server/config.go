package server

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/relaychat/relaychat/internal/history"
)

// RateLimitConfig defines the parameters for per-session frame rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay's runtime settings. It is built once at startup
// and passed into the server; nothing reads it ambiently.
type Config struct {
	Host            string
	Port            string
	AllowedOrigins  []string
	MaxFrameSize    int64
	HistoryCapacity int
	HistoryTTL      time.Duration
	BlobDir         string
	RateLimit       RateLimitConfig
}

func defaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            "8000",
		AllowedOrigins:  []string{"http://localhost:8000"},
		MaxFrameSize:    1 << 20,
		HistoryCapacity: history.DefaultCapacity,
		HistoryTTL:      history.DefaultTTL,
		BlobDir:         "file_storage",
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
	}
}

// Addr returns the listen address for the configured host and port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) sanitize() {
	def := defaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = def.HistoryCapacity
	}
	if c.HistoryTTL <= 0 {
		c.HistoryTTL = def.HistoryTTL
	}
	if c.BlobDir == "" {
		c.BlobDir = def.BlobDir
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for anything unset or unparsable.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_FRAME_SIZE"); maxSize != "" {
		cfg.MaxFrameSize = parseInt64Value(maxSize, cfg.MaxFrameSize)
	}
	if capacity := os.Getenv("HISTORY_CAPACITY"); capacity != "" {
		cfg.HistoryCapacity = parseIntValue(capacity, cfg.HistoryCapacity)
	}
	if ttl := os.Getenv("HISTORY_TTL"); ttl != "" {
		cfg.HistoryTTL = parseSeconds(ttl, cfg.HistoryTTL)
	}
	if dir := os.Getenv("BLOB_DIR"); dir != "" {
		cfg.BlobDir = dir
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
