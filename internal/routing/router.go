// Package routing implements the router's ordered-attempt-list
// dispatch: walk the configured providers in priority order, skip any
// whose circuit breaker is open, retry Transient failures with
// exponential backoff, and fall through to the static degraded
// responder when every provider has failed. The retry/backoff shape
// follows the teacher's retry package; the breaker gating and
// terminal-fallback contract are new, grounded on the routing plane's
// Python predecessor's router.
package routing

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wasllot/llm-routing-plane/internal/apperrors"
	"github.com/wasllot/llm-routing-plane/internal/breaker"
	"github.com/wasllot/llm-routing-plane/internal/providers"
	"github.com/wasllot/llm-routing-plane/internal/telemetry"
)

// RetryConfig controls per-provider retry behavior. Only errors tagged
// Transient are retried; RateLimit, Policy, and Fatal errors move the
// router straight to the next provider.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 1 * time.Second, MaxDelay: 4 * time.Second}
}

// attempt pairs a provider with the breaker gating it.
type attempt struct {
	provider providers.Provider
	breaker  breaker.Breaker
}

// Router dispatches a prompt across an ordered list of breaker-gated
// providers, falling through to a static responder that cannot fail.
type Router struct {
	attempts  []attempt
	fallback  providers.Provider
	retry     RetryConfig
	telemetry telemetry.Recorder
	logger    *logrus.Logger
}

// New builds a Router. providerOrder is the priority order attempts
// are made in; breakers must have an entry for every provider's Name().
// fallback is invoked only once every provider in providerOrder has
// failed or been skipped, and its result is always returned as-is.
func New(providerOrder []providers.Provider, breakers map[string]breaker.Breaker, fallback providers.Provider, retry RetryConfig, rec telemetry.Recorder, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	if rec == nil {
		rec = telemetry.NullRecorder{}
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}

	attempts := make([]attempt, 0, len(providerOrder))
	for _, p := range providerOrder {
		br, ok := breakers[p.Name()]
		if !ok {
			br = breaker.NullBreaker{}
		}
		attempts = append(attempts, attempt{provider: p, breaker: br})
	}

	return &Router{attempts: attempts, fallback: fallback, retry: retry, telemetry: rec, logger: logger}
}

// Route walks the ordered attempt list and returns the first
// successful generation. It never returns an error: if every provider
// is exhausted or breaker-skipped, the static fallback answers.
func (r *Router) Route(ctx context.Context, prompt string) Result {
	return r.RouteWithFallback(ctx, prompt, r.fallback)
}

// RouteWithFallback is Route with the terminal static responder
// overridden for this call only. Callers that gather request-specific
// context (e.g. the chat orchestrator's retrieval hits) use this to
// hand the static responder a provider constructed fresh per request,
// rather than the zero-value fallback fixed at router construction.
func (r *Router) RouteWithFallback(ctx context.Context, prompt string, fallback providers.Provider) Result {
	start := time.Now()
	var failed []string
	totalAttempts := 0

	for _, a := range r.attempts {
		name := a.provider.Name()

		if !a.breaker.CanAttempt(ctx) {
			r.telemetry.IncrCounter("circuit_open_skip", name)
			r.logger.WithField("provider", name).Debug("skipping provider, circuit open")
			failed = append(failed, name)
			continue
		}

		text, attempts, err := r.dispatchWithRetry(ctx, a.provider, prompt)
		totalAttempts += attempts

		if err == nil {
			a.breaker.RecordSuccess(ctx)
			r.telemetry.IncrCounter("llm_success", name)
			r.telemetry.ObserveLatencySeconds("llm_latency_seconds", time.Since(start).Seconds(), name)
			return Result{
				Text:         text,
				Provider:     name,
				FallbackUsed: len(failed) > 0,
				Attempts:     totalAttempts,
				FailedChain:  failed,
				Elapsed:      time.Since(start),
			}
		}

		a.breaker.RecordFailure(ctx)
		r.telemetry.IncrCounter("llm_error", name)
		r.logger.WithError(err).WithField("provider", name).Warn("provider exhausted, trying next")
		failed = append(failed, name)
	}

	r.telemetry.IncrCounter("all_llm_failed")
	r.telemetry.IncrCounter("llm_fallback", providers.StaticProviderName)
	r.logger.WithField("failed_chain", failed).Warn("all providers failed, using static fallback")

	if fallback == nil {
		fallback = r.fallback
	}

	// The static fallback's Generate never returns an error; ignore it
	// defensively rather than propagating.
	text, _ := fallback.Generate(ctx, prompt)
	totalAttempts++

	return Result{
		Text:         text,
		Provider:     providers.StaticProviderName,
		FallbackUsed: true,
		Attempts:     totalAttempts,
		FailedChain:  failed,
		Elapsed:      time.Since(start),
	}
}

// dispatchWithRetry retries a single provider up to r.retry.MaxAttempts
// times, but only when the failure is tagged Transient. Any other
// error kind returns immediately so the router can move to the next
// provider without wasting the retry budget.
func (r *Router) dispatchWithRetry(ctx context.Context, p providers.Provider, prompt string) (string, int, error) {
	var lastErr error

	for n := 1; n <= r.retry.MaxAttempts; n++ {
		text, err := p.Generate(ctx, prompt)
		if err == nil {
			return text, n, nil
		}
		lastErr = err

		if !apperrors.IsTransient(err) {
			return "", n, err
		}
		if n == r.retry.MaxAttempts {
			break
		}

		delay := r.calculateBackoff(n)
		select {
		case <-ctx.Done():
			return "", n, ctx.Err()
		case <-time.After(delay):
		}
	}

	return "", r.retry.MaxAttempts, lastErr
}

// calculateBackoff computes exponential backoff with +/-25% jitter,
// capped at MaxDelay, mirroring the teacher's retry calculateDelay.
func (r *Router) calculateBackoff(attempt int) time.Duration {
	delay := float64(r.retry.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(r.retry.MaxDelay) {
		delay = float64(r.retry.MaxDelay)
	}

	jitter := delay * 0.25
	delay += (rand.Float64()*2 - 1) * jitter

	if delay < float64(r.retry.BaseDelay) {
		delay = float64(r.retry.BaseDelay)
	}
	return time.Duration(delay)
}
