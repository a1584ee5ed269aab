package dispenser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/arloliu/dispenser/internal/failover"
	"github.com/arloliu/dispenser/internal/fallback"
	"github.com/arloliu/dispenser/internal/logger"
	"github.com/arloliu/dispenser/internal/metrics"
)

// Dispenser hands out unique tickets, failing over to an in-process store
// while the primary store is unavailable.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - The mode is read once per call; one store operation never spans a mode change
//
// Lifecycle:
//   - Create with New()
//   - Call Start() to run the startup connection check and the recovery prober
//   - Call Dispense() from any number of goroutines
//   - Call Stop() for graceful shutdown
//
// Dispense also works without Start, but then nothing ever switches back to
// the primary store after a failover.
type Dispenser struct {
	cfg     Config
	primary PrimaryStore
	logger  Logger

	fallback   *fallback.Store
	recorder   *metrics.Recorder
	controller *failover.Controller
	prober     *failover.Prober

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates a Dispenser on top of a primary store.
//
// Parameters:
//   - cfg: Configuration; missing values are filled with defaults
//   - primary: Primary inventory store (redisstore, kvstore or a custom one)
//   - opts: Optional dependencies (logger, metrics, hooks, fallback store)
//
// Returns:
//   - *Dispenser: Dispenser in primary mode
//   - error: ErrPrimaryStoreRequired or an error wrapping ErrInvalidConfig
//
// Example:
//
//	store := redisstore.New(client, redisstore.Config{})
//	d, err := dispenser.New(dispenser.DefaultConfig(), store)
func New(cfg Config, primary PrimaryStore, opts ...Option) (*Dispenser, error) {
	if primary == nil {
		return nil, ErrPrimaryStoreRequired
	}

	SetDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &dispenserOptions{}
	for _, opt := range opts {
		opt(options)
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logger.NewNop()
	}

	cfg.ValidateWithWarnings(loggerInstance)

	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	fallbackStore := options.fallback
	if fallbackStore == nil {
		fallbackStore = fallback.New()
	}

	recorder := metrics.NewRecorder(metricsCollector)
	controller := failover.NewController(primary, fallbackStore, recorder, loggerInstance, options.hooks, cfg.SnapshotTimeout)

	return &Dispenser{
		cfg:        cfg,
		primary:    primary,
		logger:     loggerInstance,
		fallback:   fallbackStore,
		recorder:   recorder,
		controller: controller,
		prober: failover.NewProber(controller, primary, cfg.ProbeInterval, cfg.OperationTimeout,
			loggerInstance, metricsCollector),
	}, nil
}

// Start runs the startup connection check and starts the recovery prober.
//
// An unreachable primary store is not an error: the dispenser fails over and
// starts serving from the fallback store.
//
// Parameters:
//   - ctx: Context bounding the startup check
//
// Returns:
//   - error: ErrAlreadyStarted if Start was called before
func (d *Dispenser) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx != nil {
		return ErrAlreadyStarted
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())

	startupCtx := ctx
	if d.cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startupCtx, cancel = context.WithTimeout(ctx, d.cfg.StartupTimeout)
		defer cancel()
	}

	mode := d.controller.Initialize(startupCtx)

	if err := d.prober.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start recovery prober: %w", err)
	}

	d.logger.Info("dispenser started",
		"service", d.cfg.ServiceName,
		"instance", d.cfg.InstanceID,
		"mode", mode,
		"probe_interval", d.cfg.ProbeInterval,
	)

	return nil
}

// Stop stops the recovery prober and waits for running hooks.
//
// A stopped dispenser cannot be started again. Subsequent calls return
// ErrNotStarted.
//
// Parameters:
//   - ctx: Context for shutdown timeout
//
// Returns:
//   - error: ErrNotStarted, or the context error if hooks did not finish in time
func (d *Dispenser) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.ctx == nil || d.ctx.Err() != nil {
		d.mu.Unlock()

		return ErrNotStarted
	}
	d.cancel()
	d.mu.Unlock()

	if d.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := d.prober.Stop(); err != nil && !errors.Is(err, ErrNotStarted) {
		d.logger.Warn("failed to stop recovery prober", "error", err)
	}

	done := make(chan struct{})
	go func() {
		d.controller.Close()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispenser stopped", "mode", d.controller.Mode())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out waiting for hooks: %w", ctx.Err())
	}
}

// Dispense removes one ticket from the event's inventory.
//
// In primary mode the ticket is popped from the primary store. If the
// primary store is unavailable the dispenser fails over (once, for all
// concurrent callers) and serves this same call from the fallback store.
// In fallback mode the ticket comes from the fallback store directly.
//
// Sold out is not an error: ok is false and err is nil. A pop that exceeds
// OperationTimeout counts as store unavailability. When ctx itself is
// canceled or past its deadline, its error is returned as is and nothing is
// counted or failed over. Store contention is returned wrapped in
// ErrUnclassifiedFault without a failover.
//
// Parameters:
//   - ctx: Context for cancellation and deadline
//   - eventID: Event identifier (must not be empty)
//
// Returns:
//   - Ticket: The dispensed ticket, with the mode that served it
//   - bool: false when the event has no inventory left
//   - error: ErrInvalidEventID, the context error, or an error wrapping ErrUnclassifiedFault
func (d *Dispenser) Dispense(ctx context.Context, eventID string) (Ticket, bool, error) {
	if eventID == "" {
		return Ticket{}, false, ErrInvalidEventID
	}

	if d.controller.Mode() == ModeFallback {
		ticket, ok := d.dispenseFallback(eventID)
		return ticket, ok, nil
	}

	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, d.cfg.OperationTimeout)
	token, remaining, ok, err := d.primary.Pop(opCtx, eventID)
	timedOut := errors.Is(opCtx.Err(), context.DeadlineExceeded)
	cancel()
	d.recorder.Collector().RecordPopDuration(ModePrimary, time.Since(start).Seconds())

	switch {
	case err == nil:
		if !ok {
			d.recorder.RecordRemaining(eventID, 0)
			return Ticket{}, false, nil
		}

		d.recorder.RecordSale(eventID)
		d.recorder.RecordRemaining(eventID, remaining)

		return Ticket{EventID: eventID, Token: token, Mode: ModePrimary}, true, nil

	case ctx.Err() != nil:
		// The caller gave up; the primary store may be perfectly healthy.
		return Ticket{}, false, ctx.Err()

	case errors.Is(err, ErrStoreUnavailable), timedOut:
		d.recorder.RecordError()
		d.logger.Warn("primary store unavailable", "event", eventID, "error", err)
		d.controller.ActivateFallback(ctx, failover.ReasonStoreUnavailable)

		ticket, ok := d.dispenseFallback(eventID)

		return ticket, ok, nil

	default:
		d.recorder.RecordError()
		d.logger.Error("dispense failed", "event", eventID, "error", err)

		return Ticket{}, false, fmt.Errorf("%w: event %s: %w", ErrUnclassifiedFault, eventID, err)
	}
}

// dispenseFallback pops from the fallback store and updates metrics.
func (d *Dispenser) dispenseFallback(eventID string) (Ticket, bool) {
	start := time.Now()
	token, remaining, ok := d.fallback.Pop(eventID)
	d.recorder.Collector().RecordPopDuration(ModeFallback, time.Since(start).Seconds())

	if !ok {
		d.recorder.RecordRemaining(eventID, 0)
		return Ticket{}, false
	}

	d.recorder.RecordSale(eventID)
	d.recorder.RecordRemaining(eventID, remaining)

	return Ticket{EventID: eventID, Token: token, Mode: ModeFallback}, true
}

// IsFallbackActive reports whether dispense calls are served by the fallback store.
func (d *Dispenser) IsFallbackActive() bool {
	return d.controller.IsFallbackActive()
}

// Mode returns the active backend mode.
func (d *Dispenser) Mode() Mode {
	return d.controller.Mode()
}

// Subscribe returns a channel receiving mode changes, starting with the
// current mode, and a function that unsubscribes and closes the channel.
//
// Slow subscribers may miss intermediate modes but never block dispensing.
func (d *Dispenser) Subscribe() (<-chan Mode, func()) {
	return d.controller.Subscribe()
}

// MetricsSnapshot returns a copy of all counters.
func (d *Dispenser) MetricsSnapshot() MetricsSnapshot {
	return d.recorder.Snapshot()
}

// WriteMetrics writes the counters in plaintext exposition format:
//
//	tickets_sold{eventId="1"} 3
//	tickets_remaining{eventId="1"} 997
//	fallback_activations 0
//	errors 0
//
// Parameters:
//   - w: Destination writer
//
// Returns:
//   - error: Write error
func (d *Dispenser) WriteMetrics(w io.Writer) error {
	return d.recorder.WriteText(w)
}
