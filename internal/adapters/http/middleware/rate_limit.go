// Package middleware - Rate Limiting middleware.
//
// Fixed-window counters keyed by client. State lives in process memory by
// default; configure a Redis client to share the counters across replicas.
package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig configures rate limiting.
type RateLimitConfig struct {
	// Limit is the number of requests allowed per window.
	Limit int
	// Window is the counting window.
	Window time.Duration
	// KeyFunc derives the limiting key. Defaults to the client IP.
	KeyFunc func(*gin.Context) string
	// Redis shares the counters across replicas. Nil keeps them in-process.
	Redis *redis.Client
	// OnLimitReached runs when a request is rejected.
	OnLimitReached func(*gin.Context)
}

// DefaultRateLimitConfig returns the global default: 100 requests per
// minute per client IP.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		Limit:  100,
		Window: time.Minute,
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
		OnLimitReached: nil,
	}
}

// limitStore counts a hit against key and reports whether it is allowed,
// how many requests remain and when the window resets.
type limitStore interface {
	allow(ctx context.Context, key string) (allowed bool, remaining int, retryAfter time.Duration, err error)
}

// ============================================
// In-memory store
// ============================================

// memoryStore is a per-process fixed window counter.
type memoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
}

// bucket tracks one key's window.
type bucket struct {
	tokens    int
	lastReset time.Time
}

func newMemoryStore(limit int, window time.Duration) *memoryStore {
	s := &memoryStore{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
	}

	go s.cleanup()

	return s
}

func (s *memoryStore) allow(_ context.Context, key string) (bool, int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	b, exists := s.buckets[key]

	if !exists {
		s.buckets[key] = &bucket{
			tokens:    s.limit - 1, // current request included
			lastReset: now,
		}
		return true, s.limit - 1, s.window, nil
	}

	if now.Sub(b.lastReset) >= s.window {
		b.tokens = s.limit - 1
		b.lastReset = now
		return true, b.tokens, s.window, nil
	}

	retryAfter := s.window - now.Sub(b.lastReset)
	if b.tokens <= 0 {
		return false, 0, retryAfter, nil
	}

	b.tokens--
	return true, b.tokens, retryAfter, nil
}

// cleanup drops buckets idle for more than two windows.
func (s *memoryStore) cleanup() {
	ticker := time.NewTicker(s.window * 2)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for key, b := range s.buckets {
			if now.Sub(b.lastReset) > s.window*2 {
				delete(s.buckets, key)
			}
		}
		s.mu.Unlock()
	}
}

// ============================================
// Redis store
// ============================================

// redisStore is a fixed window counter shared through Redis.
type redisStore struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func newRedisStore(client *redis.Client, limit int, window time.Duration) *redisStore {
	return &redisStore{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (s *redisStore) allow(ctx context.Context, key string) (bool, int, time.Duration, error) {
	redisKey := "ratelimit:" + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, s.window)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, s.limit, s.window, err
	}

	retryAfter := ttl.Val()
	if retryAfter < 0 {
		retryAfter = s.window
	}

	count := int(incr.Val())
	if count > s.limit {
		return false, 0, retryAfter, nil
	}
	return true, s.limit - count, retryAfter, nil
}

// ============================================
// Middleware
// ============================================

// RateLimit rejects requests beyond the configured rate.
//
// Algorithm: fixed window counter per key. Rejections answer 429 with the
// standard headers.
//
// Headers:
// - X-RateLimit-Limit: requests allowed per window
// - X-RateLimit-Remaining: requests left in this window
// - X-RateLimit-Reset: window reset time (Unix timestamp)
// - Retry-After: seconds until reset (on 429)
func RateLimit(config *RateLimitConfig) gin.HandlerFunc {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	var store limitStore
	if config.Redis != nil {
		store = newRedisStore(config.Redis, config.Limit, config.Window)
	} else {
		store = newMemoryStore(config.Limit, config.Window)
	}

	return func(c *gin.Context) {
		key := config.KeyFunc(c)
		allowed, remaining, retryAfter, err := store.allow(c.Request.Context(), key)
		if err != nil {
			// Counter store unreachable: let the request through rather
			// than reject traffic on an infrastructure fault.
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", itoa(config.Limit))
		c.Header("X-RateLimit-Remaining", itoa(remaining))
		c.Header("X-RateLimit-Reset", itoa(int(time.Now().Add(retryAfter).Unix())))

		if !allowed {
			retrySeconds := int(retryAfter.Seconds())
			if retrySeconds < 1 {
				retrySeconds = 1
			}
			c.Header("Retry-After", itoa(retrySeconds))

			if config.OnLimitReached != nil {
				config.OnLimitReached(c)
			}

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":        "TOO_MANY_REQUESTS",
					"message":     "Rate limit exceeded, please try again later",
					"retry_after": retrySeconds,
				},
				"request_id": GetRequestID(c),
				"timestamp":  time.Now().UTC(),
			})
			return
		}

		c.Next()
	}
}

// itoa is a minimal int to string converter.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}

	neg := i < 0
	if neg {
		i = -i
	}

	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}

	return string(buf[pos:])
}

// ============================================
// Endpoint-specific rate limiters
// ============================================

// SensitiveEndpointRateLimit is the stricter limit for operator endpoints.
func SensitiveEndpointRateLimit(client *redis.Client) gin.HandlerFunc {
	return RateLimit(&RateLimitConfig{
		Limit:  10,
		Window: time.Minute,
		Redis:  client,
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP() + ":" + c.Request.URL.Path
		},
	})
}

// TransactionRateLimit limits transaction submissions per caller.
func TransactionRateLimit(client *redis.Client) gin.HandlerFunc {
	return RateLimit(&RateLimitConfig{
		Limit:  30,
		Window: time.Minute,
		Redis:  client,
		KeyFunc: func(c *gin.Context) string {
			if subject := GetAuthSubject(c); subject != "" {
				return "subject:" + subject
			}
			return "ip:" + c.ClientIP()
		},
	})
}
