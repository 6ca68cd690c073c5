// Package headless fetches pages with a pooled, real Chrome instance via
// chromedp — the fallback (or, for known JS-heavy domains, primary)
// strategy for pages whose content only exists after script execution.
package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/common"
)

// Pool manages a small set of long-lived headless Chrome browser contexts,
// handed out round-robin so concurrent jobs don't each pay Chrome's startup
// cost.
type Pool struct {
	mu               sync.Mutex
	browsers         []context.Context
	browserCancels   []context.CancelFunc
	allocatorCancels []context.CancelFunc
	currentIndex     int
	maxInstances     int
	userAgent        string
	logger           arbor.ILogger
	initialized      bool
}

// NewPool constructs an uninitialized Pool; call Init to start Chrome
// instances.
func NewPool(config common.HeadlessConfig, maxInstances int, userAgent string, logger arbor.ILogger) *Pool {
	if maxInstances <= 0 {
		maxInstances = 1
	}
	if userAgent == "" {
		userAgent = "crawlservice/1.0"
	}
	return &Pool{
		maxInstances: maxInstances,
		userAgent:    userAgent,
		logger:       logger,
	}
}

// Init starts up to maxInstances Chrome instances, tolerating partial
// failure: as long as at least one instance starts, the pool is usable with
// a reduced size.
func (p *Pool) Init(config common.HeadlessConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return fmt.Errorf("headless pool already initialized")
	}

	p.browsers = make([]context.Context, 0, p.maxInstances)
	p.browserCancels = make([]context.CancelFunc, 0, p.maxInstances)
	p.allocatorCancels = make([]context.CancelFunc, 0, p.maxInstances)

	started := 0
	var lastErr error
	for i := 0; i < p.maxInstances; i++ {
		if err := p.start(i, config); err != nil {
			lastErr = err
			p.logger.Warn().Err(err).Int("browser_index", i).Msg("failed to start headless browser instance")
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("failed to start any headless browser instance: %w", lastErr)
	}
	p.maxInstances = started
	p.initialized = true
	return nil
}

func (p *Pool) start(index int, config common.HeadlessConfig) error {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(p.userAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	timeout := config.NavigateTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	testCtx, testCancel := context.WithTimeout(browserCtx, timeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser startup test failed: %w", err)
	}

	p.browsers = append(p.browsers, browserCtx)
	p.browserCancels = append(p.browserCancels, browserCancel)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)
	return nil
}

// Acquire returns a browser context via round-robin allocation.
func (p *Pool) Acquire() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized || len(p.browsers) == 0 {
		return nil, fmt.Errorf("headless pool not initialized")
	}
	idx := p.currentIndex % len(p.browsers)
	p.currentIndex = (p.currentIndex + 1) % len(p.browsers)
	return p.browsers[idx], nil
}

// Shutdown cancels every browser and allocator context in the pool.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.browserCancels {
		cancel()
	}
	for _, cancel := range p.allocatorCancels {
		cancel()
	}
	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil
	p.initialized = false
}
