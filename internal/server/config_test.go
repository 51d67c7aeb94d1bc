package server

import (
	"testing"
	"time"
)

// TestNewConfigDefaults verifies the out-of-the-box configuration.
func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Addr() != "127.0.0.1:8000" {
		t.Errorf("Expected default addr 127.0.0.1:8000, got %s", cfg.Addr())
	}
	if cfg.MaxFrameSize != 1<<20 {
		t.Errorf("Expected default max frame size %d, got %d", 1<<20, cfg.MaxFrameSize)
	}
	if cfg.HistoryCapacity != 20 {
		t.Errorf("Expected default history capacity 20, got %d", cfg.HistoryCapacity)
	}
	if cfg.HistoryTTL != time.Hour {
		t.Errorf("Expected default history TTL 1h, got %s", cfg.HistoryTTL)
	}
	if cfg.BlobDir != "file_storage" {
		t.Errorf("Expected default blob dir file_storage, got %s", cfg.BlobDir)
	}
}

// TestNewConfigFromEnv verifies that environment variables override the
// defaults.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_HOST", "0.0.0.0")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "http://example.com, http://other.test")
	t.Setenv("MAX_FRAME_SIZE", "2048")
	t.Setenv("HISTORY_CAPACITY", "5")
	t.Setenv("HISTORY_TTL", "30")
	t.Setenv("BLOB_DIR", "/tmp/blobs")
	t.Setenv("RATE_LIMIT_BURST", "3")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")

	cfg := NewConfigFromEnv()

	if cfg.Addr() != "0.0.0.0:9000" {
		t.Errorf("Expected addr 0.0.0.0:9000, got %s", cfg.Addr())
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://other.test" {
		t.Errorf("Unexpected origins: %v", cfg.AllowedOrigins)
	}
	if cfg.MaxFrameSize != 2048 {
		t.Errorf("Expected max frame size 2048, got %d", cfg.MaxFrameSize)
	}
	if cfg.HistoryCapacity != 5 {
		t.Errorf("Expected history capacity 5, got %d", cfg.HistoryCapacity)
	}
	if cfg.HistoryTTL != 30*time.Second {
		t.Errorf("Expected history TTL 30s, got %s", cfg.HistoryTTL)
	}
	if cfg.BlobDir != "/tmp/blobs" {
		t.Errorf("Expected blob dir /tmp/blobs, got %s", cfg.BlobDir)
	}
	if cfg.RateLimit.Burst != 3 || cfg.RateLimit.RefillInterval != 2*time.Second {
		t.Errorf("Unexpected rate limit: %+v", cfg.RateLimit)
	}
}

// TestNewConfigFromEnvIgnoresGarbage verifies unparsable values fall back
// to defaults instead of failing startup.
func TestNewConfigFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("MAX_FRAME_SIZE", "not-a-number")
	t.Setenv("HISTORY_CAPACITY", "-4")
	t.Setenv("RATE_LIMIT_BURST", "0")

	cfg := NewConfigFromEnv()

	if cfg.MaxFrameSize != 1<<20 {
		t.Errorf("Expected default max frame size, got %d", cfg.MaxFrameSize)
	}
	if cfg.HistoryCapacity != 20 {
		t.Errorf("Expected default history capacity, got %d", cfg.HistoryCapacity)
	}
	if cfg.RateLimit.Burst != 20 {
		t.Errorf("Expected default rate limit burst, got %d", cfg.RateLimit.Burst)
	}
}

// TestSanitizeFillsZeroValues verifies that a partially filled Config is
// completed with defaults.
func TestSanitizeFillsZeroValues(t *testing.T) {
	cfg := &Config{Port: "9999"}
	cfg.sanitize()

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Expected default host, got %q", cfg.Host)
	}
	if cfg.Port != "9999" {
		t.Errorf("Explicit port overwritten: %q", cfg.Port)
	}
	if cfg.HistoryCapacity != 20 || cfg.HistoryTTL != time.Hour {
		t.Errorf("History defaults not applied: %d, %s", cfg.HistoryCapacity, cfg.HistoryTTL)
	}
	if cfg.RateLimit.Burst <= 0 || cfg.RateLimit.RefillInterval <= 0 {
		t.Errorf("Rate limit defaults not applied: %+v", cfg.RateLimit)
	}
}
