package failover

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/dispenser/internal/fallback"
	"github.com/arloliu/dispenser/internal/metrics"
	"github.com/arloliu/dispenser/types"
)

// Failover reasons reported to metrics, logs and hooks.
const (
	ReasonStartup          = "startup"
	ReasonStoreUnavailable = "store_unavailable"
)

// Controller owns the active backend mode and performs transitions.
//
// The mode is stored atomically, so Mode() never observes a torn value and
// never blocks. Transitions are serialized by a mutex: a goroutine that asks
// for failover while another one is snapshotting waits for that transition to
// finish and then finds the controller already in fallback mode. This
// guarantees one activation (and one snapshot) per outage no matter how many
// concurrent dispense calls hit the failing primary.
type Controller struct {
	mode atomic.Int32 // types.Mode
	mu   sync.Mutex

	primary         types.PrimaryStore
	fallback        *fallback.Store
	recorder        *metrics.Recorder
	logger          types.Logger
	hooks           *types.Hooks
	snapshotTimeout time.Duration

	lastTransition time.Time

	subscribers      *xsync.Map[uint64, *modeSubscriber]
	nextSubscriberID atomic.Uint64

	// Lifecycle context handed to hooks; canceled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a controller starting in primary mode.
//
// Parameters:
//   - primary: Primary store used for snapshots and the startup probe
//   - fb: Fallback store receiving snapshots
//   - recorder: Metrics recorder (failover activations, remaining counts)
//   - logger: Logger for transitions
//   - hooks: Failover hooks (nil callbacks are skipped)
//   - snapshotTimeout: Upper bound for the snapshot taken during failover
//
// Returns:
//   - *Controller: Controller in types.ModePrimary
func NewController(
	primary types.PrimaryStore,
	fb *fallback.Store,
	recorder *metrics.Recorder,
	logger types.Logger,
	hooks *types.Hooks,
	snapshotTimeout time.Duration,
) *Controller {
	if hooks == nil {
		hooks = &types.Hooks{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		primary:         primary,
		fallback:        fb,
		recorder:        recorder,
		logger:          logger,
		hooks:           hooks,
		snapshotTimeout: snapshotTimeout,
		subscribers:     xsync.NewMap[uint64, *modeSubscriber](),
		ctx:             ctx,
		cancel:          cancel,
	}
	c.mode.Store(int32(types.ModePrimary))

	return c
}

// Mode returns the active backend mode.
//
// This method is lock-free and can be called concurrently with transitions.
func (c *Controller) Mode() types.Mode {
	return types.Mode(c.mode.Load())
}

// IsFallbackActive reports whether the fallback store is serving requests.
func (c *Controller) IsFallbackActive() bool {
	return c.Mode() == types.ModeFallback
}

// LastTransition returns when the mode last changed (zero if it never did).
func (c *Controller) LastTransition() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastTransition
}

// Initialize runs the startup connection check.
//
// If the primary store does not answer the probe the controller fails over
// immediately, which counts as a failover activation.
//
// Parameters:
//   - ctx: Context bounding the startup probe
//
// Returns:
//   - types.Mode: Mode after the check
func (c *Controller) Initialize(ctx context.Context) types.Mode {
	if err := c.primary.Probe(ctx); err != nil {
		c.logger.Error("primary store unreachable at startup, switching to fallback store", "error", err)
		c.ActivateFallback(ctx, ReasonStartup)

		return c.Mode()
	}

	c.logger.Info("primary store reachable at startup")
	c.recorder.Collector().SetFallbackActive(false)

	return c.Mode()
}

// ActivateFallback transitions from primary to fallback mode.
//
// The transition records a failover activation, copies a best-effort snapshot
// of the primary inventory into the fallback store, then flips the mode. A
// snapshot failure is logged and does not block the transition. The snapshot
// runs on a context detached from ctx's cancellation, bounded by the snapshot
// timeout, so one abandoned request cannot truncate it.
//
// Parameters:
//   - ctx: Context of the caller that detected the failure
//   - reason: ReasonStartup or ReasonStoreUnavailable
//
// Returns:
//   - bool: true if this call performed the transition, false if already in fallback
func (c *Controller) ActivateFallback(ctx context.Context, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Mode() == types.ModeFallback {
		return false
	}

	c.recorder.RecordFailover(reason)
	c.logger.Warn("activating fallback store", "reason", reason)

	snapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.snapshotTimeout)
	c.snapshot(snapCtx)
	cancel()

	c.switchMode(types.ModeFallback)
	c.recorder.Collector().SetFallbackActive(true)

	if c.hooks.OnFailover != nil {
		c.runHook("OnFailover", func(ctx context.Context) error {
			return c.hooks.OnFailover(ctx, reason)
		})
	}

	return true
}

// Recover transitions from fallback back to primary mode.
//
// No inventory is copied back to the primary store.
//
// Returns:
//   - bool: true if this call performed the transition, false if already in primary
func (c *Controller) Recover() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Mode() == types.ModePrimary {
		return false
	}

	c.switchMode(types.ModePrimary)
	c.recorder.Collector().RecordRecovery()
	c.recorder.Collector().SetFallbackActive(false)
	c.logger.Info("primary store recovered, leaving fallback store")

	if c.hooks.OnRecovery != nil {
		c.runHook("OnRecovery", c.hooks.OnRecovery)
	}

	return true
}

// Subscribe returns a channel that receives mode change notifications.
//
// The channel is buffered and receives the current mode immediately. Slow
// subscribers may miss intermediate modes but never block transitions.
//
// Returns:
//   - <-chan types.Mode: Channel that receives mode updates
//   - func(): Unsubscribe function that closes the channel
func (c *Controller) Subscribe() (<-chan types.Mode, func()) {
	id := c.nextSubscriberID.Add(1)

	sub := &modeSubscriber{ch: make(chan types.Mode, 4)}
	c.subscribers.Store(id, sub)
	sub.trySend(c.Mode())

	return sub.ch, func() {
		if s, ok := c.subscribers.LoadAndDelete(id); ok {
			s.close()
		}
	}
}

// Close cancels the hook context, waits for running hooks and closes all
// subscriber channels.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()

	c.subscribers.Range(func(id uint64, sub *modeSubscriber) bool {
		c.subscribers.Delete(id)
		sub.close()

		return true
	})
}

// snapshot copies the primary inventory into the fallback store. Must be called with c.mu held.
func (c *Controller) snapshot(ctx context.Context) {
	start := time.Now()

	inventory, err := c.primary.Snapshot(ctx)
	c.fallback.LoadAll(inventory)

	tokens := 0
	for eventID, eventTokens := range inventory {
		c.recorder.RecordRemaining(eventID, len(eventTokens))
		tokens += len(eventTokens)
		c.logger.Debug("loaded event into fallback store", "event", eventID, "tokens", len(eventTokens))
	}

	complete := err == nil
	c.recorder.Collector().RecordSnapshot(len(inventory), tokens, complete)

	if !complete {
		if !errors.Is(err, types.ErrSnapshotIncomplete) {
			err = errors.Join(types.ErrSnapshotIncomplete, err)
		}
		c.logger.Warn("could not copy primary inventory into fallback store",
			"error", err,
			"events_loaded", len(inventory),
			"tokens_loaded", tokens,
			"duration", time.Since(start),
		)

		return
	}

	c.logger.Info("copied primary inventory into fallback store",
		"events", len(inventory),
		"tokens", tokens,
		"duration", time.Since(start),
	)
}

// switchMode stores the new mode and notifies subscribers. Must be called with c.mu held.
func (c *Controller) switchMode(mode types.Mode) {
	old := c.Mode()
	c.mode.Store(int32(mode))
	c.lastTransition = time.Now()
	c.logger.Info("backend mode transition", "from", old, "to", mode)

	c.subscribers.Range(func(_ uint64, sub *modeSubscriber) bool {
		sub.trySend(mode)
		return true
	})
}

// runHook runs a hook in a tracked goroutine.
func (c *Controller) runHook(name string, fn func(ctx context.Context) error) {
	c.wg.Go(func() {
		if err := fn(c.ctx); err != nil {
			c.logger.Error("hook failed", "hook", name, "error", err)
		}
	})
}
