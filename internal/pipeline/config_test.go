package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/trailblaze-io/trailblaze/internal/chunker"
)

// ==============================================================================
// Unit Tests: Configuration resolution
// ==============================================================================

func TestLoadConfigDefaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.MaxRetries != defaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", cfg.MaxRetries, defaultMaxRetries)
	}

	if cfg.RetryDelay != defaultRetryDelay {
		t.Errorf("RetryDelay = %v, want %v", cfg.RetryDelay, defaultRetryDelay)
	}

	if cfg.CacheDir != defaultCacheDir || cfg.CacheTTL != defaultCacheTTL {
		t.Errorf("cache defaults = %q / %v", cfg.CacheDir, cfg.CacheTTL)
	}

	if cfg.InitialChunkSize != chunker.DefaultInitialSize {
		t.Errorf("InitialChunkSize = %d, want %d", cfg.InitialChunkSize, chunker.DefaultInitialSize)
	}

	if cfg.UseAIExtraction {
		t.Error("UseAIExtraction should default to false")
	}

	if cfg.RunTimeout != defaultRunTimeout {
		t.Errorf("RunTimeout = %v, want %v", cfg.RunTimeout, defaultRunTimeout)
	}

	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers = %v, want empty", cfg.KafkaBrokers)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	path := filepath.Join(t.TempDir(), "scraper.yaml")
	body := `
max_retries: 7
retry_delay: 2s
cache_dir: /var/cache/trailblaze
refresh_cache: true
kafka_brokers:
  - broker-1:9092
  - broker-2:9092
kafka_topic: rides
`

	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("SCRAPER_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7", cfg.MaxRetries)
	}

	if cfg.RetryDelay != 2*time.Second {
		t.Errorf("RetryDelay = %v, want 2s", cfg.RetryDelay)
	}

	if cfg.CacheDir != "/var/cache/trailblaze" || !cfg.RefreshCache {
		t.Errorf("cache settings = %q refresh %v", cfg.CacheDir, cfg.RefreshCache)
	}

	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaTopic != "rides" {
		t.Errorf("messaging = %v / %q", cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	// Values the file does not name keep their defaults.
	if cfg.RequestTimeout != defaultRequestTimeout {
		t.Errorf("RequestTimeout = %v, want default", cfg.RequestTimeout)
	}
}

func TestLoadConfigEnvWinsOverFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	path := filepath.Join(t.TempDir(), "scraper.yaml")
	if err := os.WriteFile(path, []byte("max_retries: 7\ncache_ttl: 10m\n"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("SCRAPER_CONFIG_FILE", path)
	t.Setenv("SCRAPER_MAX_RETRIES", "2")
	t.Setenv("SCRAPER_RUN_TIMEOUT", "90s")
	t.Setenv("KAFKA_BROKERS", "localhost:9092, localhost:9093")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want env value 2", cfg.MaxRetries)
	}

	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v, want file value 10m", cfg.CacheTTL)
	}

	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "localhost:9093" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}

	if cfg.RunTimeout != 90*time.Second {
		t.Errorf("RunTimeout = %v, want env value 90s", cfg.RunTimeout)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("SCRAPER_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() succeeded with a missing config file")
	}
}

// ==============================================================================
// Unit Tests: Validation
// ==============================================================================

func TestConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	base := func() *Config {
		return &Config{
			MaxRetries:           3,
			InitialChunkSize:     chunker.DefaultInitialSize,
			MinChunkSize:         chunker.DefaultMinSize,
			MaxChunkSize:         chunker.DefaultMaxSize,
			ExtractorParallelism: 4,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(_ *Config) {}},
		{name: "negative retries", mutate: func(c *Config) { c.MaxRetries = -1 }, wantErr: true},
		{name: "inverted clamp", mutate: func(c *Config) { c.MinChunkSize = 100; c.MaxChunkSize = 50 }, wantErr: true},
		{name: "initial below clamp", mutate: func(c *Config) { c.InitialChunkSize = c.MinChunkSize - 1 }, wantErr: true},
		{name: "initial above clamp", mutate: func(c *Config) { c.InitialChunkSize = c.MaxChunkSize + 1 }, wantErr: true},
		{name: "zero parallelism", mutate: func(c *Config) { c.ExtractorParallelism = 0 }, wantErr: true},
		{name: "negative run timeout", mutate: func(c *Config) { c.RunTimeout = -time.Second }, wantErr: true},
		{name: "ai without key", mutate: func(c *Config) { c.UseAIExtraction = true }, wantErr: true},
		{name: "ai with key", mutate: func(c *Config) { c.UseAIExtraction = true; c.AnthropicAPIKey = "sk-test" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)

			if err := cfg.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
