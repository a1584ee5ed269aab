package failover

import (
	"context"
	"sync"
	"time"

	"github.com/arloliu/dispenser/types"
)

// Prober periodically checks the primary store while the fallback store is
// active and triggers recovery when the check succeeds.
//
// The ticker keeps running in primary mode but ticks are skipped without
// touching the store, so a healthy system sends no probe traffic.
type Prober struct {
	controller *Controller
	primary    types.PrimaryStore
	interval   time.Duration
	timeout    time.Duration
	logger     types.Logger
	metrics    types.FailoverMetrics

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	ticker  *time.Ticker
}

// NewProber creates a recovery prober.
//
// Parameters:
//   - controller: Controller to recover when the probe succeeds
//   - primary: Store to probe
//   - interval: Probe interval (fixed, independent of request traffic)
//   - timeout: Timeout for a single probe
//   - logger: Logger for probe outcomes
//   - metrics: Metrics for probe outcomes
//
// Returns:
//   - *Prober: Stopped prober; call Start to begin probing
func NewProber(
	controller *Controller,
	primary types.PrimaryStore,
	interval time.Duration,
	timeout time.Duration,
	logger types.Logger,
	metrics types.FailoverMetrics,
) *Prober {
	return &Prober{
		controller: controller,
		primary:    primary,
		interval:   interval,
		timeout:    timeout,
		logger:     logger,
		metrics:    metrics,
	}
}

// Start begins probing in the background.
//
// Parameters:
//   - ctx: Parent context for probes; probing stops when it is canceled
//
// Returns:
//   - error: types.ErrAlreadyStarted if already running
func (p *Prober) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return types.ErrAlreadyStarted
	}

	p.started = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.ticker = time.NewTicker(p.interval)

	go p.probeLoop(ctx, p.ticker, p.stopCh, p.doneCh)

	return nil
}

// Stop stops probing and waits for the background goroutine to exit.
//
// Returns:
//   - error: types.ErrNotStarted if not running
func (p *Prober) Stop() error {
	p.mu.Lock()

	if !p.started {
		p.mu.Unlock()
		return types.ErrNotStarted
	}

	p.ticker.Stop()
	close(p.stopCh)
	p.started = false
	doneCh := p.doneCh

	p.mu.Unlock()

	<-doneCh

	return nil
}

// IsStarted reports whether the prober is running.
func (p *Prober) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.started
}

// ProbeOnce runs one probe tick.
//
// Does nothing in primary mode. In fallback mode it probes the primary store
// and recovers on success.
//
// Returns:
//   - bool: true if this tick switched the controller back to primary
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	if p.controller.Mode() != types.ModeFallback {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.primary.Probe(probeCtx)
	cancel()

	if err != nil {
		p.metrics.RecordProbe(false)
		p.logger.Debug("recovery probe failed, staying on fallback store", "error", err)

		return false
	}

	p.metrics.RecordProbe(true)

	return p.controller.Recover()
}

// probeLoop is the background goroutine that runs probe ticks.
func (p *Prober) probeLoop(ctx context.Context, ticker *time.Ticker, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}
