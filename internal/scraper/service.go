package scraper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Result is what the pipeline returns. Any failure becomes a non-raising
// Result with Success=false and Error populated — callers never see a
// raised error out of Extract.
type Result struct {
	Success   bool                   `json:"success"`
	URL       string                 `json:"url"`
	Title     string                 `json:"title,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	FromCache bool                   `json:"from_cache"`
	Error     string                 `json:"error,omitempty"`
}

// ServiceConfig tunes the pipeline's cache behavior.
type ServiceConfig struct {
	CacheTTL    time.Duration
	PageTimeout time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{CacheTTL: time.Hour, PageTimeout: defaultPageTimeout}
}

// Service is the scrape pipeline: check cache, on miss acquire a
// pooled context, fetch, parse, extract, populate the cache, and
// return a Result. Grounded on spec.md §4.8's pipeline description;
// the check-fetch-parse-populate shape mirrors original_source's
// scraper-service request flow (app/scrapers/base.py imports a
// BrowserProvider/HTMLParser pair driven by the same steps).
type Service struct {
	pool   *Pool
	cache  Cache
	cfg    ServiceConfig
	logger *logrus.Logger
}

func NewService(pool *Pool, cache Cache, cfg ServiceConfig, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultServiceConfig().CacheTTL
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = defaultPageTimeout
	}
	return &Service{pool: pool, cache: cache, cfg: cfg, logger: logger}
}

// Extract runs the pipeline for one URL+ruleset pair. It never
// returns an error; failures are reported inside the Result.
func (s *Service) Extract(ctx context.Context, url string, rules Ruleset, useCache bool) *Result {
	if err := ValidateURL(url); err != nil {
		return &Result{Success: false, URL: url, Error: err.Error()}
	}
	if err := ValidateRuleset(rules); err != nil {
		return &Result{Success: false, URL: url, Error: err.Error()}
	}

	key := CacheKey(url, rules)

	if useCache {
		if cached, ok, err := s.cache.Get(ctx, key); err != nil {
			s.logger.WithError(err).Warn("scrape cache read failed, continuing without it")
		} else if ok {
			return &Result{Success: true, URL: url, Title: cached.Title, Data: cached.Data, FromCache: true}
		}
	}

	bc, err := s.pool.Acquire(ctx)
	if err != nil {
		return &Result{Success: false, URL: url, Error: err.Error()}
	}
	defer s.pool.Release(bc)

	html, err := fetchRenderedHTML(ctx, bc, url, s.cfg.PageTimeout)
	if err != nil {
		return &Result{Success: false, URL: url, Error: err.Error()}
	}

	data, err := extractFields(html, rules)
	if err != nil {
		return &Result{Success: false, URL: url, Error: err.Error()}
	}
	title := extractTitle(html)

	if useCache {
		if err := s.cache.Set(ctx, key, &CachedPage{Title: title, Data: data}, s.cfg.CacheTTL); err != nil {
			s.logger.WithError(err).Warn("scrape cache write failed")
		}
	}

	return &Result{Success: true, URL: url, Title: title, Data: data}
}

// Close releases the underlying browser pool.
func (s *Service) Close() {
	s.pool.Close()
}
