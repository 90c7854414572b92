package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier = 2
	maxConsumers            = 100
	defaultGlobalRPS        = 100
	defaultConsumerRPS      = 50
	defaultUnAuthRPS        = 10
	warnThresholdFraction   = 0.8

	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = time.Hour
)

type (
	// RateLimiter decides whether a request may proceed. The owner is
	// the authenticated key owner, or "" for unauthenticated requests.
	//
	// The interface allows swapping the in-memory token buckets for a
	// distributed limiter without touching the middleware.
	RateLimiter interface {
		Allow(owner string) bool
	}

	// InMemoryRateLimiter enforces three tiers of token-bucket limits:
	// a global limit over all traffic, a per-consumer limit for
	// authenticated requests, and a tighter limit for anonymous ones.
	// Idle per-consumer buckets are reaped in the background.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perConsumer     map[string]*consumerLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}

		consumerRPS     int
		consumerBurst   int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxConsumers    int
	}

	consumerLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates the limiter. Burst capacity defaults
// to twice the sustained rate unless the config overrides it.
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	rl := &InMemoryRateLimiter{
		global: rate.NewLimiter(
			rate.Limit(config.GlobalRPS), burstCapacity(config.GlobalRPS, config.GlobalBurst)),
		perConsumer: make(map[string]*consumerLimiter),
		unauthenticated: rate.NewLimiter(
			rate.Limit(config.UnAuthRPS), burstCapacity(config.UnAuthRPS, config.UnAuthBurst)),
		done:            make(chan struct{}),
		consumerRPS:     config.ConsumerRPS,
		consumerBurst:   burstCapacity(config.ConsumerRPS, config.ConsumerBurst),
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxConsumers:    config.MaxConsumers,
	}

	rl.startCleanup()

	return rl
}

func burstCapacity(rps, override int) int {
	if override > 0 {
		return override
	}

	return rps * burstCapacityMultiplier
}

// Allow checks the global tier first, then the consumer-specific or
// anonymous tier.
func (rl *InMemoryRateLimiter) Allow(owner string) bool {
	if !rl.global.Allow() {
		return false
	}

	if owner == "" {
		return rl.unauthenticated.Allow()
	}

	rl.mu.RLock()
	cl, ok := rl.perConsumer[owner]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		// Re-check after acquiring the write lock.
		if cl, ok = rl.perConsumer[owner]; !ok {
			cl = &consumerLimiter{
				limiter:    rate.NewLimiter(rate.Limit(rl.consumerRPS), rl.consumerBurst),
				lastAccess: time.Now(),
			}
			rl.perConsumer[owner] = cl

			if count := len(rl.perConsumer); count >= int(float64(rl.maxConsumers)*warnThresholdFraction) {
				slog.Warn("rate limiter approaching max consumers",
					"current_consumers", count,
					"max_consumers", rl.maxConsumers)
			}
		}
		rl.mu.Unlock()
	}

	cl.mu.Lock()
	cl.lastAccess = time.Now()
	cl.mu.Unlock()

	return cl.limiter.Allow()
}

// Close stops the background cleanup goroutine.
func (rl *InMemoryRateLimiter) Close() {
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}

	close(rl.done)
}

func (rl *InMemoryRateLimiter) startCleanup() {
	interval := rl.cleanupInterval
	if interval == 0 {
		interval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes consumer buckets that have been idle past the
// timeout, bounding memory on long-running servers.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for owner, cl := range rl.perConsumer {
		cl.mu.Lock()
		lastAccess := cl.lastAccess
		cl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perConsumer, owner)
		}
	}
}

// RateLimit returns the rate limiting middleware. It must sit after
// authentication in the chain so per-consumer limits can key on the
// authenticated owner. Rejections are 429s in problem+json format.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := ""
			if consumer, ok := GetConsumerContext(r.Context()); ok {
				owner = consumer.Owner
			}

			if !limiter.Allow(owner) {
				correlationID := GetCorrelationID(r.Context())
				detail := "Rate limit exceeded. Please retry after some time."

				if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("failed to write rate limit response",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
