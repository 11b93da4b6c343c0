// Package scraper drives a headless-browser extraction pipeline: a
// bounded pool of browser contexts, declarative CSS extraction rules,
// and a content-addressed cache in front of the pool. Pool shape
// adapted from agentflow/agent/browser/browser_pool.go, retargeted
// from whole browser processes to per-navigation browser contexts
// sharing one allocator, and with a bounded acquire instead of an
// indefinite wait.
package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

// defaultAcquireTimeout is the spec's 30s bound on how long a caller
// waits for a pool slot before a fresh context is fabricated.
const defaultAcquireTimeout = 30 * time.Second

// BrowserContext is one reusable navigation context. It is not
// returned to the pool after Close has been called on it.
type BrowserContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// Close releases the underlying chromedp tab. Safe to call more than
// once.
func (b *BrowserContext) Close() {
	if b.closed {
		return
	}
	b.closed = true
	b.cancel()
}

// PoolConfig configures the context pool.
type PoolConfig struct {
	Size           int
	AcquireTimeout time.Duration
	Headless       bool
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Size: 5, AcquireTimeout: defaultAcquireTimeout, Headless: true}
}

// Pool is a bounded, shared collection of browser contexts with
// acquire/release semantics. Acquire blocks up to AcquireTimeout; on
// timeout it fabricates a fresh, unpooled context rather than failing
// the caller, since a slow-draining pool should degrade to extra
// capacity, not errors.
type Pool struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc

	cfg PoolConfig

	mu        sync.Mutex
	idle      chan *BrowserContext
	active    map[*BrowserContext]bool
	closed    bool
	closeOnce sync.Once

	logger *logrus.Logger
}

func NewPool(cfg PoolConfig, logger *logrus.Logger) *Pool {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultPoolConfig().Size
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Pool{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		cfg:         cfg,
		idle:        make(chan *BrowserContext, cfg.Size),
		active:      make(map[*BrowserContext]bool),
		logger:      logger,
	}
}

func (p *Pool) newContext() (*BrowserContext, error) {
	ctx, cancel := chromedp.NewContext(p.allocCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser context: %w", err)
	}
	return &BrowserContext{ctx: ctx, cancel: cancel}, nil
}

// Acquire returns an owned context for the duration of one page load.
// It must be returned via Release on every exit path.
func (p *Pool) Acquire(ctx context.Context) (*BrowserContext, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("scraper pool is closed")
	}
	p.mu.Unlock()

	select {
	case bc := <-p.idle:
		p.mu.Lock()
		p.active[bc] = true
		p.mu.Unlock()
		return bc, nil
	default:
	}

	p.mu.Lock()
	total := len(p.active) + len(p.idle)
	if total < p.cfg.Size {
		p.mu.Unlock()
		bc, err := p.newContext()
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.active[bc] = true
		p.mu.Unlock()
		return bc, nil
	}
	p.mu.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	select {
	case bc := <-p.idle:
		p.mu.Lock()
		p.active[bc] = true
		p.mu.Unlock()
		return bc, nil
	case <-acquireCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("scraper pool saturated past acquire timeout, fabricating fresh context")
		bc, err := p.newContext()
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.active[bc] = true
		p.mu.Unlock()
		return bc, nil
	}
}

// Release returns a context to the pool, or closes it outright if the
// pool is already saturated or shutting down.
func (p *Pool) Release(bc *BrowserContext) {
	p.mu.Lock()
	delete(p.active, bc)

	if p.closed {
		p.mu.Unlock()
		bc.Close()
		return
	}

	select {
	case p.idle <- bc:
		p.mu.Unlock()
	default:
		p.mu.Unlock()
		bc.Close()
	}
}

// Close tears down every context, idle or in flight.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	for bc := range p.active {
		bc.Close()
	}
	p.active = make(map[*BrowserContext]bool)
	p.closeOnce.Do(func() { close(p.idle) })
	p.mu.Unlock()

	for bc := range p.idle {
		bc.Close()
	}
	p.allocCancel()
}

// Stats reports idle/active/total contexts for health and metrics.
func (p *Pool) Stats() (idle, active, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle = len(p.idle)
	active = len(p.active)
	total = idle + active
	return
}
