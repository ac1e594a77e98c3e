package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ed-baer97/mektab/internal/common"
	"github.com/ed-baer97/mektab/internal/interfaces"
)

// Pool manages headless browser contexts for the worker pool. Unlike a
// round-robin pool, leases are exclusive: a leased browser carries the
// session cookies of whatever credential is driving it, so two jobs must
// never share a context at the same time.
type Pool struct {
	logger  arbor.ILogger
	free    chan *Driver
	cancels []context.CancelFunc
	mu      sync.Mutex
	size    int
	closed  bool
}

// NewPool starts size browser instances and verifies each one responds. A
// partially started pool is usable; startup fails only when no instance
// comes up at all.
func NewPool(size int, portal *common.PortalConfig, logger arbor.ILogger) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be greater than 0, got %d", size)
	}

	p := &Pool{
		logger: logger,
		free:   make(chan *Driver, size),
	}

	logger.Info().
		Int("pool_size", size).
		Bool("headless", portal.Headless).
		Msg("Starting browser pool")

	var lastErr error
	started := 0
	for i := 0; i < size; i++ {
		driver, err := p.startInstance(i, portal)
		if err != nil {
			lastErr = err
			p.logger.Warn().
				Err(err).
				Int("browser_index", i).
				Msg("Failed to start browser instance")
			continue
		}
		p.free <- driver
		started++
	}

	if started == 0 {
		p.Shutdown()
		return nil, fmt.Errorf("failed to start any browser instance, last error: %w", lastErr)
	}
	if started < size {
		logger.Warn().
			Int("requested", size).
			Int("started", started).
			Msg("Started fewer browser instances than requested")
	}

	p.size = started
	logger.Info().Int("browsers", started).Msg("Browser pool ready")
	return p, nil
}

// startInstance launches one Chrome process and probes it with a blank
// page before admitting it to the pool.
func (p *Pool) startInstance(index int, portal *common.PortalConfig) (*Driver, error) {
	startTime := time.Now()

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", portal.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if portal.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(portal.UserAgent))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	probeTimeout := portal.PageTimeout
	if probeTimeout <= 0 {
		probeTimeout = 30 * time.Second
	}
	probeCtx, probeCancel := context.WithTimeout(browserCtx, probeTimeout)
	defer probeCancel()

	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup probe: %w", err)
	}

	p.mu.Lock()
	p.cancels = append(p.cancels, browserCancel, allocatorCancel)
	p.mu.Unlock()

	p.logger.Debug().
		Int("browser_index", index).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser instance started")

	return newDriver(browserCtx, portal.StepTimeout, portal.PageTimeout, p.logger), nil
}

// Lease blocks until a browser is free or the context ends. The release
// function returns the browser to the pool and must be called exactly once.
func (p *Pool) Lease(ctx context.Context) (interfaces.Browser, func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("browser pool is shut down")
	}
	p.mu.Unlock()

	select {
	case driver := <-p.free:
		release := func() {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if !closed {
				p.free <- driver
			}
		}
		return driver, release, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Size returns the number of running browser instances.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Shutdown terminates all browser processes. Chrome occasionally hangs on
// exit, so cleanup is bounded.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancels := p.cancels
	p.cancels = nil
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, cancel := range cancels {
			cancel()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		p.logger.Warn().Msg("Browser pool shutdown timed out")
	}

	p.logger.Info().Msg("Browser pool shut down")
}
