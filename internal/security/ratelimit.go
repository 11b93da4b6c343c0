package security

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter defines the interface for rate limiting
type RateLimiter interface {
	Allow(ctx context.Context, key string) (*RateLimitResult, error)
	Reset(ctx context.Context, key string) error
	GetLimits(ctx context.Context, key string) (*RateLimitInfo, error)
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after"`
}

// RateLimitInfo contains current rate limit status
type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	WindowDuration    time.Duration `yaml:"window_duration"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	RedisURL          string        `yaml:"redis_url"`
}

// InMemoryRateLimiter implements rate limiting with a golang.org/x/time/rate
// limiter per key, grounded on agentflow's use of the same package for its
// own request throttling.
type InMemoryRateLimiter struct {
	config *RateLimitConfig
	logger *logrus.Logger

	buckets map[string]*limiterEntry
	mutex   sync.RWMutex

	cleanupTicker *time.Ticker
	stopCleanup   chan bool
	stopped       bool
}

// limiterEntry pairs a per-key limiter with the last time it was touched,
// so cleanup can evict keys that have gone quiet.
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *InMemoryRateLimiter {
	if config.WindowDuration == 0 {
		config.WindowDuration = time.Minute
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.BurstSize == 0 {
		config.BurstSize = config.RequestsPerMinute
	}

	rl := &InMemoryRateLimiter{
		config:      config,
		logger:      logger,
		buckets:     make(map[string]*limiterEntry),
		stopCleanup: make(chan bool),
	}

	rl.startCleanup()

	return rl
}

// ratePerSecond converts the configured per-minute budget into the
// continuous refill rate rate.Limiter expects.
func (rl *InMemoryRateLimiter) ratePerSecond() rate.Limit {
	return rate.Limit(float64(rl.config.RequestsPerMinute) / 60.0)
}

// Allow checks if a request is allowed under the rate limit
func (rl *InMemoryRateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	if !rl.config.Enabled {
		return &RateLimitResult{
			Allowed:   true,
			Remaining: rl.config.RequestsPerMinute,
			ResetTime: time.Now().Add(rl.config.WindowDuration),
		}, nil
	}

	now := time.Now()
	entry := rl.getOrCreateEntry(key)

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return nil, fmt.Errorf("rate limiter misconfigured: burst size too small for a single request")
	}

	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.Cancel()

		rl.logger.WithFields(logrus.Fields{
			"key":         maskKey(key),
			"retry_after": delay,
		}).Warn("Rate limit exceeded")

		return &RateLimitResult{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  now.Add(delay),
			RetryAfter: delay,
		}, nil
	}

	rl.mutex.Lock()
	entry.lastAccess = now
	rl.mutex.Unlock()

	return &RateLimitResult{
		Allowed:   true,
		Remaining: remainingTokens(entry.limiter, rl.config.BurstSize, now),
		ResetTime: now.Add(rl.config.WindowDuration),
	}, nil
}

// Reset resets the rate limit for a key
func (rl *InMemoryRateLimiter) Reset(ctx context.Context, key string) error {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	delete(rl.buckets, key)

	rl.logger.WithField("key", maskKey(key)).Info("Rate limit reset")
	return nil
}

// GetLimits returns current rate limit information for a key
func (rl *InMemoryRateLimiter) GetLimits(ctx context.Context, key string) (*RateLimitInfo, error) {
	entry := rl.getOrCreateEntry(key)

	now := time.Now()
	remaining := remainingTokens(entry.limiter, rl.config.BurstSize, now)

	return &RateLimitInfo{
		Limit:     rl.config.RequestsPerMinute,
		Used:      rl.config.BurstSize - remaining,
		Remaining: remaining,
		ResetTime: now.Add(rl.config.WindowDuration),
	}, nil
}

// remainingTokens rounds a limiter's current burst balance down to an int,
// clamped to the configured burst size.
func remainingTokens(l *rate.Limiter, burst int, now time.Time) int {
	return minInt(int(l.TokensAt(now)), burst)
}

// getOrCreateEntry gets or creates a per-key limiter, seeded with a full
// burst so a key's first request is always allowed.
func (rl *InMemoryRateLimiter) getOrCreateEntry(key string) *limiterEntry {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	entry, exists := rl.buckets[key]
	if !exists {
		entry = &limiterEntry{
			limiter:    rate.NewLimiter(rl.ratePerSecond(), rl.config.BurstSize),
			lastAccess: time.Now(),
		}
		rl.buckets[key] = entry
	}

	return entry
}

// startCleanup starts the cleanup goroutine to remove old buckets
func (rl *InMemoryRateLimiter) startCleanup() {
	rl.cleanupTicker = time.NewTicker(rl.config.CleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.stopCleanup:
				return
			}
		}
	}()
}

// cleanup removes buckets that haven't been used recently
func (rl *InMemoryRateLimiter) cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	cutoff := time.Now().Add(-2 * rl.config.WindowDuration)

	removed := 0
	for key, entry := range rl.buckets {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.WithField("removed_buckets", removed).Debug("Rate limit cleanup completed")
	}
}

// Stop stops the rate limiter and cleanup goroutine
func (rl *InMemoryRateLimiter) Stop() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if rl.stopped {
		return
	}

	rl.stopped = true
	if rl.cleanupTicker != nil {
		rl.cleanupTicker.Stop()
	}
	close(rl.stopCleanup)
}

// RateLimitMiddleware creates rate limiting middleware
func RateLimitMiddleware(rateLimiter RateLimiter, keyExtractor func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := rateLimiter.Allow(r.Context(), key)
			if err != nil {
				http.Error(w, "Rate limiting error", http.StatusInternalServerError)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Remaining+1))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				response := fmt.Sprintf(`{
					"error": {
						"message": "Rate limit exceeded",
						"type": "rate_limit_error",
						"code": 429,
						"retry_after": %d
					},
					"timestamp": %d
				}`, int(result.RetryAfter.Seconds()), time.Now().Unix())

				w.Write([]byte(response))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// DefaultKeyExtractor extracts rate limiting key from request
func DefaultKeyExtractor(r *http.Request) string {
	if authInfo, ok := r.Context().Value("auth_info").(*AuthInfo); ok {
		return "user:" + authInfo.UserID
	}

	return "ip:" + getClientIPFromRequest(r)
}

// APIKeyExtractor extracts rate limiting key from API key
func APIKeyExtractor(r *http.Request) string {
	token := extractToken(r)
	if token != "" {
		return "key:" + maskKey(token)
	}
	return "ip:" + getClientIPFromRequest(r)
}

// Helper functions

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****"
}
