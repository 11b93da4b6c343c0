// Package breaker implements the per-provider circuit breaker described
// in the routing plane: a shared, Redis-backed, three-state machine that
// fails open whenever its backing store is unreachable. The state
// machine shape (beforeCall/afterCall-style transitions) follows the
// mutex-guarded breaker pattern common in the Go ecosystem; the exact
// thresholds, TTL'd keys, and fail-open behavior follow the
// Redis-counter breaker this plane's Python predecessor used.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/wasllot/llm-routing-plane/internal/apperrors"
)

// State is one of the three breaker states.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// Config carries the tunable breaker parameters. Zero values are
// replaced with the spec defaults in New.
type Config struct {
	// Threshold is the number of failures within Window that trips the
	// breaker to OPEN.
	Threshold int
	// Window is the rolling period failures are counted over.
	Window time.Duration
	// OpenDuration is how long the breaker stays OPEN before a single
	// HALF_OPEN probe is allowed.
	OpenDuration time.Duration
	// StateTTL bounds how long state/opened-at keys survive in the
	// store, so a silent provider cannot leave a stale OPEN breaker
	// forever.
	StateTTL time.Duration
	// StoreTimeout bounds every individual store round trip.
	StoreTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold:    5,
		Window:       5 * time.Minute,
		OpenDuration: 2 * time.Minute,
		StateTTL:     10 * time.Minute,
		StoreTimeout: 1 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = d.OpenDuration
	}
	if c.StateTTL <= 0 {
		c.StateTTL = d.StateTTL
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	return c
}

// Breaker is the capability contract the router depends on.
type Breaker interface {
	CanAttempt(ctx context.Context) bool
	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context)
	GetState(ctx context.Context) State
}

// store is the subset of redis.Cmdable the breaker needs; satisfied by
// *redis.Client and by a miniredis-backed client in tests.
type store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisBreaker is the production Breaker implementation. All state
// lives in the shared store so that every process instance sees the
// same breaker for a given provider.
type RedisBreaker struct {
	provider string
	store    store
	cfg      Config
	logger   *logrus.Entry
}

func New(provider string, client store, cfg Config, logger *logrus.Logger) *RedisBreaker {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisBreaker{
		provider: provider,
		store:    client,
		cfg:      cfg.withDefaults(),
		logger:   logger.WithField("component", "breaker").WithField("provider", provider),
	}
}

func (b *RedisBreaker) failuresKey() string { return "llm:" + b.provider + ":failures" }
func (b *RedisBreaker) stateKey() string    { return "llm:" + b.provider + ":circuit_state" }
func (b *RedisBreaker) openedAtKey() string { return "llm:" + b.provider + ":opened_at" }

// GetState returns the breaker's current state, lazily transitioning
// OPEN to HALF_OPEN once the open duration has elapsed. On any store
// error it fails open and reports CLOSED.
func (b *RedisBreaker) GetState(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.StoreTimeout)
	defer cancel()

	raw, err := b.store.Get(ctx, b.stateKey()).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			b.logger.WithError(apperrors.ErrBreakerStoreDown).Warn("breaker store unreachable, failing open")
		}
		return Closed
	}

	state := State(raw)
	if state != Open {
		return state
	}

	openedRaw, err := b.store.Get(ctx, b.openedAtKey()).Result()
	if err != nil {
		// State says OPEN but we can't read opened_at: fail open rather
		// than wedge the breaker OPEN forever.
		return Closed
	}
	openedAt, err := time.Parse(time.RFC3339Nano, openedRaw)
	if err != nil {
		return Closed
	}

	if time.Since(openedAt) >= b.cfg.OpenDuration {
		_ = b.store.Set(ctx, b.stateKey(), string(HalfOpen), b.cfg.StateTTL).Err()
		b.logger.Info("breaker entering half-open")
		return HalfOpen
	}

	return Open
}

// CanAttempt reports whether a dispatch attempt is currently allowed.
// While HALF_OPEN only the first caller is granted the probe; the probe
// claim expires after OpenDuration so an abandoned probe cannot wedge
// the breaker.
func (b *RedisBreaker) CanAttempt(ctx context.Context) bool {
	state := b.GetState(ctx)
	if state != HalfOpen {
		return state == Closed
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.StoreTimeout)
	defer cancel()
	probeKey := "llm:" + b.provider + ":probe"
	n, err := b.store.Incr(ctx, probeKey).Result()
	if err != nil {
		return true
	}
	if n == 1 {
		_ = b.store.Expire(ctx, probeKey, b.cfg.OpenDuration).Err()
	}
	return n == 1
}

// RecordSuccess clears the failure counter and, from HALF_OPEN, closes
// the breaker.
func (b *RedisBreaker) RecordSuccess(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.StoreTimeout)
	defer cancel()

	state := b.GetState(ctx)
	if err := b.store.Del(ctx, b.failuresKey()).Err(); err != nil {
		b.logger.WithError(err).Debug("telemetry write failed recording success")
	}
	if state == HalfOpen || state == Open {
		_ = b.store.Set(ctx, b.stateKey(), string(Closed), b.cfg.StateTTL).Err()
		b.logger.Info("breaker closed")
	}
}

// RecordFailure increments the failure counter and trips the breaker to
// OPEN when the threshold is reached within the window (or immediately,
// from HALF_OPEN).
func (b *RedisBreaker) RecordFailure(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.StoreTimeout)
	defer cancel()

	state := b.GetState(ctx)
	if state == HalfOpen {
		b.trip(ctx)
		return
	}

	count, err := b.store.Incr(ctx, b.failuresKey()).Result()
	if err != nil {
		b.logger.WithError(apperrors.ErrBreakerStoreDown).Warn("breaker store unreachable recording failure")
		return
	}
	if count == 1 {
		_ = b.store.Expire(ctx, b.failuresKey(), b.cfg.Window).Err()
	}
	if int(count) >= b.cfg.Threshold {
		b.trip(ctx)
	}
}

func (b *RedisBreaker) trip(ctx context.Context) {
	_ = b.store.Set(ctx, b.stateKey(), string(Open), b.cfg.StateTTL).Err()
	_ = b.store.Set(ctx, b.openedAtKey(), time.Now().Format(time.RFC3339Nano), b.cfg.StateTTL).Err()
	b.logger.Warn("breaker opened")
}

// NullBreaker always allows attempts; used when no breaker store is
// configured, and in tests.
type NullBreaker struct{}

func (NullBreaker) CanAttempt(context.Context) bool  { return true }
func (NullBreaker) RecordSuccess(context.Context)    {}
func (NullBreaker) RecordFailure(context.Context)    {}
func (NullBreaker) GetState(context.Context) State   { return Closed }
