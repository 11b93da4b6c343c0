package scraper

import (
	"context"
	"testing"
	"time"
)

func TestInProcessCache_MissThenHit(t *testing.T) {
	c := NewInProcessCache()
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected a clean miss, got ok=%v err=%v", ok, err)
	}

	page := &CachedPage{Title: "Example", Data: map[string]interface{}{"h1": "hello"}}
	if err := c.Set(ctx, "key", page, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok, err := c.Get(ctx, "key")
	if err != nil || !ok {
		t.Fatalf("expected a hit, got ok=%v err=%v", ok, err)
	}
	if got.Title != "Example" {
		t.Errorf("unexpected cached title: %q", got.Title)
	}
}

func TestInProcessCache_ExpiresAtRead(t *testing.T) {
	c := NewInProcessCache()
	ctx := context.Background()

	page := &CachedPage{Title: "stale"}
	if err := c.Set(ctx, "key", page, -time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok, err := c.Get(ctx, "key"); err != nil || ok {
		t.Errorf("expected the entry to be expired, got ok=%v err=%v", ok, err)
	}
}
