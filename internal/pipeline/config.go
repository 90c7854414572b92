// Package pipeline drives one ingestion run per source through its
// stages: fetch, clean, chunk, extract, validate, transform, upsert,
// and verify.
package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trailblaze-io/trailblaze/internal/chunker"
	"github.com/trailblaze-io/trailblaze/internal/config"
	"github.com/trailblaze-io/trailblaze/internal/extractor"
	"github.com/trailblaze-io/trailblaze/internal/metrics"
)

// Defaults for the pipeline configuration.
const (
	defaultMaxRetries     = 3
	defaultRetryDelay     = 5 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultCacheDir       = "cache"
	defaultCacheTTL       = time.Hour
	defaultParallelism    = 4
	defaultRunTimeout     = 10 * time.Minute
)

// Config holds every knob for a pipeline run. Values resolve in three
// layers: compiled defaults, then an optional YAML file named by
// SCRAPER_CONFIG_FILE, then SCRAPER_* environment variables.
type Config struct {
	// Fetcher
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Cache
	CacheDir     string        `yaml:"cache_dir"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	RefreshCache bool          `yaml:"refresh_cache"`

	// Chunker
	InitialChunkSize int `yaml:"initial_chunk_size"`
	MinChunkSize     int `yaml:"min_chunk_size"`
	MaxChunkSize     int `yaml:"max_chunk_size"`

	// Extractor
	UseAIExtraction      bool   `yaml:"use_ai_extraction"`
	AnthropicAPIKey      string `yaml:"-"` // env only, never from a file on disk
	AssistedModel        string `yaml:"assisted_model"`
	ExtractorParallelism int    `yaml:"extractor_parallelism"`

	// Run control. Zero disables the per-run deadline.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// Reporting
	MetricsDir string `yaml:"metrics_dir"`

	// Messaging; empty brokers disables publishing.
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// LoadConfig resolves the pipeline configuration.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		MaxRetries:           defaultMaxRetries,
		RetryDelay:           defaultRetryDelay,
		RequestTimeout:       defaultRequestTimeout,
		CacheDir:             defaultCacheDir,
		CacheTTL:             defaultCacheTTL,
		InitialChunkSize:     chunker.DefaultInitialSize,
		MinChunkSize:         chunker.DefaultMinSize,
		MaxChunkSize:         chunker.DefaultMaxSize,
		AssistedModel:        extractor.DefaultAssistedModel,
		ExtractorParallelism: defaultParallelism,
		RunTimeout:           defaultRunTimeout,
		MetricsDir:           metrics.DefaultDir,
	}

	if path := config.GetEnvStr("SCRAPER_CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	return cfg, nil
}

// applyFile overlays values from a YAML config file.
func (c *Config) applyFile(path string) error {
	payload, err := os.ReadFile(path) // #nosec G304 - path comes from the operator
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(payload, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// applyEnv overlays SCRAPER_* environment variables. Unset variables
// keep the current value, so env always wins over the file.
func (c *Config) applyEnv() {
	c.MaxRetries = config.GetEnvInt("SCRAPER_MAX_RETRIES", c.MaxRetries)
	c.RetryDelay = config.GetEnvDuration("SCRAPER_RETRY_DELAY", c.RetryDelay)
	c.RequestTimeout = config.GetEnvDuration("SCRAPER_REQUEST_TIMEOUT", c.RequestTimeout)

	c.CacheDir = config.GetEnvStr("SCRAPER_CACHE_DIR", c.CacheDir)
	c.CacheTTL = config.GetEnvDuration("SCRAPER_CACHE_TTL", c.CacheTTL)
	c.RefreshCache = config.GetEnvBool("REFRESH_CACHE", c.RefreshCache)

	c.InitialChunkSize = config.GetEnvInt("SCRAPER_INITIAL_CHUNK_SIZE", c.InitialChunkSize)
	c.MinChunkSize = config.GetEnvInt("SCRAPER_MIN_CHUNK_SIZE", c.MinChunkSize)
	c.MaxChunkSize = config.GetEnvInt("SCRAPER_MAX_CHUNK_SIZE", c.MaxChunkSize)

	c.UseAIExtraction = config.GetEnvBool("SCRAPER_USE_AI_EXTRACTION", c.UseAIExtraction)
	c.AnthropicAPIKey = config.GetEnvStr("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AssistedModel = config.GetEnvStr("SCRAPER_ASSISTED_MODEL", c.AssistedModel)
	c.ExtractorParallelism = config.GetEnvInt("SCRAPER_EXTRACTOR_PARALLELISM", c.ExtractorParallelism)

	c.RunTimeout = config.GetEnvDuration("SCRAPER_RUN_TIMEOUT", c.RunTimeout)

	c.MetricsDir = config.GetEnvStr("SCRAPER_METRICS_DIR", c.MetricsDir)

	if brokers := config.ParseCommaSeparatedList(config.GetEnvStr("KAFKA_BROKERS", "")); len(brokers) > 0 {
		c.KafkaBrokers = brokers
	}

	c.KafkaTopic = config.GetEnvStr("KAFKA_TOPIC", c.KafkaTopic)
}

// Validate checks the configuration for impossible combinations.
func (c *Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative: %d", c.MaxRetries)
	}

	if c.MinChunkSize <= 0 || c.MaxChunkSize < c.MinChunkSize {
		return fmt.Errorf("invalid chunk size clamp: min %d, max %d", c.MinChunkSize, c.MaxChunkSize)
	}

	if c.InitialChunkSize < c.MinChunkSize || c.InitialChunkSize > c.MaxChunkSize {
		return fmt.Errorf("initial_chunk_size %d outside clamp [%d, %d]",
			c.InitialChunkSize, c.MinChunkSize, c.MaxChunkSize)
	}

	if c.ExtractorParallelism < 1 {
		return fmt.Errorf("extractor_parallelism must be at least 1: %d", c.ExtractorParallelism)
	}

	if c.RunTimeout < 0 {
		return fmt.Errorf("run_timeout cannot be negative: %v", c.RunTimeout)
	}

	if c.UseAIExtraction && c.AnthropicAPIKey == "" {
		return fmt.Errorf("use_ai_extraction requires ANTHROPIC_API_KEY")
	}

	return nil
}
