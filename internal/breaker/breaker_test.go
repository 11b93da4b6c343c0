package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBreaker(t *testing.T, cfg Config) (*RedisBreaker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New("primary", client, cfg, nil), mr
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Threshold: 5, Window: 5 * time.Minute, OpenDuration: 2 * time.Minute})
	ctx := context.Background()

	if !b.CanAttempt(ctx) {
		t.Fatal("breaker should start closed and allow attempts")
	}
	if b.GetState(ctx) != Closed {
		t.Fatalf("expected Closed, got %s", b.GetState(ctx))
	}
}

func TestBreaker_TripsAfterThresholdWithinWindow(t *testing.T) {
	b, _ := newTestBreaker(t, Config{Threshold: 5, Window: 5 * time.Minute, OpenDuration: 2 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		b.RecordFailure(ctx)
	}
	if !b.CanAttempt(ctx) {
		t.Fatal("breaker should remain closed before the threshold is reached")
	}

	b.RecordFailure(ctx) // 5th failure
	if b.CanAttempt(ctx) {
		t.Fatal("breaker should open exactly at the threshold")
	}
	if b.GetState(ctx) != Open {
		t.Fatalf("expected Open, got %s", b.GetState(ctx))
	}
}

func TestBreaker_HalfOpenAfterCooldownThenCloses(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := Config{Threshold: 2, Window: 5 * time.Minute, OpenDuration: 2 * time.Minute}
	b := New("primary", client, cfg, nil)
	ctx := context.Background()

	b.RecordFailure(ctx)
	b.RecordFailure(ctx)
	if b.GetState(ctx) != Open {
		t.Fatalf("expected Open after threshold failures, got %s", b.GetState(ctx))
	}

	// The cooldown is measured against the wall clock, not miniredis's
	// TTL clock, so backdate opened_at instead of fast-forwarding.
	mr.Set("llm:primary:opened_at", time.Now().Add(-(cfg.OpenDuration + time.Second)).Format(time.RFC3339Nano))

	if b.GetState(ctx) != HalfOpen {
		t.Fatalf("expected HalfOpen after cooldown, got %s", b.GetState(ctx))
	}
	if !b.CanAttempt(ctx) {
		t.Fatal("half-open should allow exactly one probe attempt")
	}

	b.RecordSuccess(ctx)
	if b.GetState(ctx) != Closed {
		t.Fatalf("expected Closed after successful probe, got %s", b.GetState(ctx))
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := Config{Threshold: 1, Window: 5 * time.Minute, OpenDuration: 1 * time.Minute}
	b := New("primary", client, cfg, nil)
	ctx := context.Background()

	b.RecordFailure(ctx)
	// The cooldown is measured against the wall clock, not miniredis's
	// TTL clock, so backdate opened_at instead of fast-forwarding.
	mr.Set("llm:primary:opened_at", time.Now().Add(-(cfg.OpenDuration + time.Second)).Format(time.RFC3339Nano))
	if b.GetState(ctx) != HalfOpen {
		t.Fatalf("expected HalfOpen, got %s", b.GetState(ctx))
	}

	b.RecordFailure(ctx)
	if b.GetState(ctx) != Open {
		t.Fatalf("a half-open failure must reopen the breaker, got %s", b.GetState(ctx))
	}
}

func TestBreaker_FailsOpenWhenStoreUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := New("primary", client, DefaultConfig(), nil)
	ctx := context.Background()

	mr.Close() // simulate the store becoming unreachable

	if !b.CanAttempt(ctx) {
		t.Fatal("breaker must fail open (allow attempts) when the store is unreachable")
	}
	if b.GetState(ctx) != Closed {
		t.Fatalf("expected fail-open state Closed, got %s", b.GetState(ctx))
	}
}
