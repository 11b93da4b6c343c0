package scraper

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestService() *Service {
	return &Service{
		pool:   newTestPool(1),
		cache:  NewInProcessCache(),
		cfg:    DefaultServiceConfig(),
		logger: logrus.New(),
	}
}

func TestExtract_RejectsInvalidURL(t *testing.T) {
	svc := newTestService()
	result := svc.Extract(context.Background(), "ftp://example.com", JobPostingRuleset(), false)
	if result.Success {
		t.Error("expected a non-http(s) url to fail")
	}
	if result.Error == "" {
		t.Error("expected an error message")
	}
}

func TestExtract_RejectsEmptyRuleset(t *testing.T) {
	svc := newTestService()
	result := svc.Extract(context.Background(), "https://example.com", Ruleset{}, false)
	if result.Success {
		t.Error("expected an empty ruleset to fail")
	}
}

func TestExtract_CacheHitSkipsBrowserPool(t *testing.T) {
	svc := newTestService()
	rules := Ruleset{"title": {Selector: "h1"}}
	key := CacheKey("https://example.com", rules)
	_ = svc.cache.Set(context.Background(), key, &CachedPage{
		Title: "Example Domain",
		Data:  map[string]interface{}{"title": "Example Domain"},
	}, svc.cfg.CacheTTL)

	result := svc.Extract(context.Background(), "https://example.com", rules, true)
	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if !result.FromCache {
		t.Error("expected a cache hit to be flagged from_cache=true")
	}
	if result.Title != "Example Domain" {
		t.Errorf("unexpected title: %q", result.Title)
	}

	idle, active, total := svc.pool.Stats()
	if idle != 0 || active != 0 || total != 0 {
		t.Error("expected the browser pool to remain untouched on a cache hit")
	}
}
