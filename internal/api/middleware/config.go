package middleware

import (
	"time"

	"github.com/trailblaze-io/trailblaze/internal/config"
)

// Config holds rate limiter settings. Rates are requests per second for
// the three tiers; burst fields of 0 compute automatically as twice the
// rate.
type Config struct {
	GlobalRPS   int
	ConsumerRPS int
	UnAuthRPS   int

	GlobalBurst   int
	ConsumerBurst int
	UnAuthBurst   int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxConsumers    int
}

// LoadConfig reads rate limiter settings from the environment.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:   config.GetEnvInt("TRAILBLAZE_GLOBAL_RPS", defaultGlobalRPS),
		ConsumerRPS: config.GetEnvInt("TRAILBLAZE_CONSUMER_RPS", defaultConsumerRPS),
		UnAuthRPS:   config.GetEnvInt("TRAILBLAZE_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst:   config.GetEnvInt("TRAILBLAZE_GLOBAL_BURST", 0),
		ConsumerBurst: config.GetEnvInt("TRAILBLAZE_CONSUMER_BURST", 0),
		UnAuthBurst:   config.GetEnvInt("TRAILBLAZE_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"TRAILBLAZE_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:  config.GetEnvDuration("TRAILBLAZE_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxConsumers: config.GetEnvInt("TRAILBLAZE_RATE_LIMIT_MAX_CONSUMERS", maxConsumers),
	}
}
