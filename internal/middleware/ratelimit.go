package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Limiter is the interface rate-limit middleware depends on. Routes own
// their Limiter instance explicitly (auth routes get a stricter one than
// general API routes) instead of reaching into a shared global — see
// RateLimitMiddleware.
type Limiter interface {
	Allow(key string) bool
}

// RateLimiter implements a token bucket rate limiter. It satisfies Limiter.
type RateLimiter struct {
	buckets      map[string]*bucket
	mu           sync.RWMutex
	rate         int           // tokens per interval
	interval     time.Duration // refill interval
	maxBurst     int           // maximum tokens
	cleanupEvery time.Duration
	stopChan     chan struct{}
}

type bucket struct {
	tokens    int
	lastRefil time.Time
}

// RateLimitConfig holds rate limiter configuration
type RateLimitConfig struct {
	// Rate is the number of requests allowed per interval
	Rate int
	// Interval is the time period for the rate (e.g., time.Minute)
	Interval time.Duration
	// MaxBurst is the maximum number of requests allowed in a burst
	MaxBurst int
	// KeyGenerator generates a key for rate limiting (default: IP address)
	KeyGenerator func(*fiber.Ctx) string
	// SkipPaths are paths that bypass rate limiting
	SkipPaths []string
	// OnLimitReached is called when rate limit is exceeded
	OnLimitReached func(*fiber.Ctx) error
}

// DefaultRateLimitConfig matches the API surface's general rate limit.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:     100,
		Interval: 15 * time.Minute,
		MaxBurst: 20,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		SkipPaths: []string{"/health", "/metrics"},
		OnLimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error": fiber.Map{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Rate limit exceeded. Please try again later.",
				},
			})
		},
	}
}

// AuthRateLimitConfig matches the stricter auth-route rate limit.
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:     5,
		Interval: 15 * time.Minute,
		MaxBurst: 5,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		OnLimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error": fiber.Map{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Too many attempts. Please wait before trying again.",
				},
			})
		},
	}
}

// NewRateLimiter creates a token-bucket Limiter and starts its own cleanup
// goroutine. Callers own the returned instance and must Stop() it.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 100
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.MaxBurst <= 0 {
		config.MaxBurst = config.Rate / 10
		if config.MaxBurst < 1 {
			config.MaxBurst = 1
		}
	}

	rl := &RateLimiter{
		buckets:      make(map[string]*bucket),
		rate:         config.Rate,
		interval:     config.Interval,
		maxBurst:     config.MaxBurst,
		cleanupEvery: 5 * time.Minute,
		stopChan:     make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, exists := rl.buckets[key]

	if !exists {
		rl.buckets[key] = &bucket{
			tokens:    rl.maxBurst - 1,
			lastRefil: now,
		}
		return true
	}

	// Refill tokens based on time elapsed
	elapsed := now.Sub(b.lastRefil)
	tokensToAdd := int(elapsed.Seconds() * float64(rl.rate) / rl.interval.Seconds())
	if tokensToAdd > 0 {
		b.tokens += tokensToAdd
		if b.tokens > rl.maxBurst {
			b.tokens = rl.maxBurst
		}
		b.lastRefil = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}

	return false
}

// cleanup removes stale buckets periodically
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			threshold := time.Now().Add(-rl.cleanupEvery)
			for key, b := range rl.buckets {
				if b.lastRefil.Before(threshold) {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopChan:
			return
		}
	}
}

// Stop stops the rate limiter cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopChan)
}

// RateLimitMiddleware wraps an already-constructed Limiter. The server
// builds one Limiter per route class (auth vs. general API) and passes it
// in explicitly, rather than the middleware owning a shared global map.
func RateLimitMiddleware(limiter Limiter, config RateLimitConfig) fiber.Handler {
	if config.KeyGenerator == nil {
		config.KeyGenerator = func(c *fiber.Ctx) string {
			return c.IP()
		}
	}
	if config.OnLimitReached == nil {
		config.OnLimitReached = func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error": fiber.Map{
					"code":    "RATE_LIMIT_EXCEEDED",
					"message": "Rate limit exceeded. Please try again later.",
				},
			})
		}
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, skipPath := range config.SkipPaths {
			if path == skipPath {
				return c.Next()
			}
		}

		key := config.KeyGenerator(c)
		if !limiter.Allow(key) {
			return config.OnLimitReached(c)
		}

		return c.Next()
	}
}
