package dispenser

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dispensertest "github.com/arloliu/dispenser/testing"
)

func newTestDispenser(t *testing.T, store PrimaryStore, opts ...Option) *Dispenser {
	t.Helper()

	opts = append([]Option{WithLogger(dispensertest.NewTestLogger(t))}, opts...)
	d, err := New(TestConfig(), store, opts...)
	require.NoError(t, err)

	return d
}

func startDispenser(t *testing.T, d *Dispenser) {
	t.Helper()

	require.NoError(t, d.Start(t.Context()))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
}

// dispenseConcurrently runs n dispense calls in parallel and returns the tokens handed out.
func dispenseConcurrently(t *testing.T, d *Dispenser, eventID string, n int) []string {
	t.Helper()

	var (
		mu     sync.Mutex
		tokens []string
		wg     sync.WaitGroup
	)
	for range n {
		wg.Go(func() {
			ticket, ok, err := d.Dispense(context.Background(), eventID)
			if err != nil || !ok {
				return
			}
			mu.Lock()
			tokens = append(tokens, ticket.Token)
			mu.Unlock()
		})
	}
	wg.Wait()

	return tokens
}

func requireUnique(t *testing.T, tokens []string) {
	t.Helper()

	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		_, dup := seen[token]
		require.False(t, dup, "token %s dispensed more than once", token)
		seen[token] = struct{}{}
	}
}

func TestNew(t *testing.T) {
	t.Run("requires primary store", func(t *testing.T) {
		_, err := New(TestConfig(), nil)
		require.ErrorIs(t, err, ErrPrimaryStoreRequired)
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Backend = "memcached"

		_, err := New(cfg, dispensertest.NewFakeStore())
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("fills defaults", func(t *testing.T) {
		d, err := New(Config{}, dispensertest.NewFakeStore())
		require.NoError(t, err)
		require.Equal(t, 2*time.Second, d.cfg.ProbeInterval)
		require.NotEmpty(t, d.cfg.InstanceID)
		require.Equal(t, ModePrimary, d.Mode())
		require.False(t, d.IsFallbackActive())
	})
}

func TestDispenser_InvalidEventID(t *testing.T) {
	store := dispensertest.NewFakeStore()
	d := newTestDispenser(t, store)

	_, ok, err := d.Dispense(t.Context(), "")
	require.ErrorIs(t, err, ErrInvalidEventID)
	require.False(t, ok)
	require.Zero(t, store.PopCalls())
}

func TestDispenser_ThreeTokensThreeCallers(t *testing.T) {
	store := dispensertest.NewFakeStore()
	store.Seed("E1", []string{"t1", "t2", "t3"})
	d := newTestDispenser(t, store)

	tokens := dispenseConcurrently(t, d, "E1", 3)
	require.ElementsMatch(t, []string{"t1", "t2", "t3"}, tokens)

	_, ok, err := d.Dispense(t.Context(), "E1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDispenser_OversubscribedEvent(t *testing.T) {
	store := dispensertest.NewFakeStore()
	store.Seed("E2", dispensertest.SeedTokens("E2", 1000))
	d := newTestDispenser(t, store)

	var tokens []string
	for range 10 {
		tokens = append(tokens, dispenseConcurrently(t, d, "E2", 500)...)
	}

	require.Len(t, tokens, 1000)
	requireUnique(t, tokens)

	snap := d.MetricsSnapshot()
	require.Equal(t, int64(1000), snap.TicketsSold["E2"])
	require.Equal(t, int64(0), snap.TicketsRemaining["E2"])
	require.Zero(t, snap.Errors)
	require.Zero(t, snap.FallbackActivations)
}

func TestDispenser_Conservation(t *testing.T) {
	const seeded = 300

	store := dispensertest.NewFakeStore()
	store.Seed("1", dispensertest.SeedTokens("1", seeded))
	d := newTestDispenser(t, store)

	tokens := dispenseConcurrently(t, d, "1", 120)
	require.Len(t, tokens, 120)

	snap := d.MetricsSnapshot()
	require.Equal(t, int64(seeded), snap.TicketsSold["1"]+int64(store.Remaining("1")))

	// Once activity settles, the remaining gauge agrees with the sold counter
	_, ok, err := d.Dispense(t.Context(), "1")
	require.NoError(t, err)
	require.True(t, ok)

	snap = d.MetricsSnapshot()
	require.Equal(t, int64(seeded), snap.TicketsSold["1"]+snap.TicketsRemaining["1"])
}

func TestDispenser_ExhaustedEventStaysEmpty(t *testing.T) {
	store := dispensertest.NewFakeStore()
	store.Seed("1", []string{"only"})
	d := newTestDispenser(t, store)

	ticket, ok, err := d.Dispense(t.Context(), "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Ticket{EventID: "1", Token: "only", Mode: ModePrimary}, ticket)

	for range 20 {
		_, ok, err = d.Dispense(t.Context(), "1")
		require.NoError(t, err)
		require.False(t, ok)
	}

	// Never seeded behaves the same
	_, ok, err = d.Dispense(t.Context(), "unknown")
	require.NoError(t, err)
	require.False(t, ok)

	snap := d.MetricsSnapshot()
	require.Equal(t, int64(1), snap.TicketsSold["1"])
	require.Equal(t, int64(0), snap.TicketsRemaining["1"])
	require.Equal(t, int64(0), snap.TicketsRemaining["unknown"])
	require.Zero(t, snap.Errors)
}

func TestDispenser_FailoverServesSnapshot(t *testing.T) {
	store := dispensertest.NewFakeStore()
	store.Seed("E3", []string{"a", "b"})
	d := newTestDispenser(t, store)

	store.FailNextPops(1)

	first, ok, err := d.Dispense(t.Context(), "E3")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ModeFallback, first.Mode)
	require.True(t, first.FromFallback())
	require.Contains(t, []string{"a", "b"}, first.Token)
	require.True(t, d.IsFallbackActive())

	second, ok, err := d.Dispense(t.Context(), "E3")
	require.NoError(t, err)
	require.True(t, ok)
	require.ElementsMatch(t, []string{"a", "b"}, []string{first.Token, second.Token})

	_, ok, err = d.Dispense(t.Context(), "E3")
	require.NoError(t, err)
	require.False(t, ok)

	snap := d.MetricsSnapshot()
	require.Equal(t, int64(1), snap.FallbackActivations)
	require.Equal(t, int64(1), snap.Errors)
	require.Equal(t, int64(2), snap.TicketsSold["E3"])
	require.Equal(t, int64(0), snap.TicketsRemaining["E3"])

	// Fallback pops never touch the primary
	require.Equal(t, int64(1), store.PopCalls())
	require.Equal(t, 2, store.Remaining("E3"))
}

func TestDispenser_ConcurrentFailoverActivatesOnce(t *testing.T) {
	const seeded = 500

	store := dispensertest.NewFakeStore()
	store.Seed("1", dispensertest.SeedTokens("1", seeded))
	store.FailNextPops(10_000)
	d := newTestDispenser(t, store)

	tokens := dispenseConcurrently(t, d, "1", 1000)

	require.Len(t, tokens, seeded)
	requireUnique(t, tokens)

	snap := d.MetricsSnapshot()
	require.Equal(t, int64(1), snap.FallbackActivations)
	require.GreaterOrEqual(t, snap.Errors, int64(1))
	require.Equal(t, int64(seeded), snap.TicketsSold["1"])
	require.Equal(t, int64(1), store.SnapshotCalls())
}

func TestDispenser_FailoverWithUnreadablePrimary(t *testing.T) {
	store := dispensertest.NewFakeStore()
	store.Seed("1", []string{"a"})
	d := newTestDispenser(t, store)

	store.SetUnavailable(true)

	_, ok, err := d.Dispense(t.Context(), "1")
	require.NoError(t, err)
	require.False(t, ok, "fallback starts empty when the snapshot fails")
	require.True(t, d.IsFallbackActive())
	require.Equal(t, int64(1), d.MetricsSnapshot().FallbackActivations)
}

func TestDispenser_OperationTimeoutFailsOver(t *testing.T) {
	store := dispensertest.NewFakeStore()
	store.Seed("1", []string{"a", "b"})
	store.SetPopDelay(time.Second)
	d := newTestDispenser(t, store)

	ticket, ok, err := d.Dispense(t.Context(), "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ModeFallback, ticket.Mode)
	require.Equal(t, "a", ticket.Token)
	require.Equal(t, int64(1), d.MetricsSnapshot().Errors)
}

func TestDispenser_UnclassifiedFault(t *testing.T) {
	store := dispensertest.NewFakeStore()
	store.Seed("1", []string{"a"})
	store.MalformNextPops(1)
	d := newTestDispenser(t, store)

	_, ok, err := d.Dispense(t.Context(), "1")
	require.ErrorIs(t, err, ErrUnclassifiedFault)
	require.ErrorIs(t, err, ErrMalformedResponse)
	require.False(t, ok)
	require.False(t, d.IsFallbackActive())

	snap := d.MetricsSnapshot()
	require.Equal(t, int64(1), snap.Errors)
	require.Zero(t, snap.FallbackActivations)

	ticket, ok, err := d.Dispense(t.Context(), "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", ticket.Token)
}

func TestDispenser_CanceledCallerDoesNotFailOver(t *testing.T) {
	store := dispensertest.NewFakeStore()
	store.Seed("1", []string{"a"})
	d := newTestDispenser(t, store)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, ok, err := d.Dispense(ctx, "1")
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ok)
	require.False(t, d.IsFallbackActive())
	require.Zero(t, d.MetricsSnapshot().Errors)
	require.Equal(t, 1, store.Remaining("1"))
}

func TestDispenser_CallerDeadlineDoesNotFailOver(t *testing.T) {
	store := dispensertest.NewFakeStore()
	store.Seed("1", []string{"a", "b"})
	store.SetPopDelay(50 * time.Millisecond)
	d := newTestDispenser(t, store)

	// Shorter than both the pop and OperationTimeout
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Millisecond)
	defer cancel()

	_, ok, err := d.Dispense(ctx, "1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, ErrStoreUnavailable)
	require.False(t, ok)
	require.False(t, d.IsFallbackActive())

	snap := d.MetricsSnapshot()
	require.Zero(t, snap.Errors)
	require.Zero(t, snap.FallbackActivations)
	require.Zero(t, store.SnapshotCalls())

	store.SetPopDelay(0)
	ticket, ok, err := d.Dispense(t.Context(), "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ModePrimary, ticket.Mode)
	require.Equal(t, "a", ticket.Token)
}

func TestDispenser_ContentionDoesNotFailOver(t *testing.T) {
	store := dispensertest.NewFakeStore()
	store.Seed("1", []string{"a"})
	store.ContendNextPops(1)
	d := newTestDispenser(t, store)

	_, ok, err := d.Dispense(t.Context(), "1")
	require.ErrorIs(t, err, ErrUnclassifiedFault)
	require.ErrorIs(t, err, ErrStoreContention)
	require.False(t, ok)
	require.False(t, d.IsFallbackActive())
	require.Zero(t, d.MetricsSnapshot().FallbackActivations)

	ticket, ok, err := d.Dispense(t.Context(), "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", ticket.Token)
}

func TestDispenser_RecoversWithinOneProbeInterval(t *testing.T) {
	store := dispensertest.NewFakeStore()
	store.Seed("1", []string{"a", "b", "c"})
	d := newTestDispenser(t, store)
	startDispenser(t, d)

	modes, unsubscribe := d.Subscribe()
	defer unsubscribe()
	require.Equal(t, ModePrimary, <-modes)

	store.SetUnavailable(true)
	_, _, err := d.Dispense(t.Context(), "1")
	require.NoError(t, err)
	require.Equal(t, ModeFallback, <-modes)

	// Probes keep failing while the primary is down
	time.Sleep(3 * d.cfg.ProbeInterval)
	require.True(t, d.IsFallbackActive())

	healedAt := time.Now()
	store.SetUnavailable(false)

	select {
	case mode := <-modes:
		require.Equal(t, ModePrimary, mode)
		require.Less(t, time.Since(healedAt), d.cfg.ProbeInterval+200*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("dispenser did not switch back to the primary store")
	}

	ticket, ok, err := d.Dispense(t.Context(), "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ModePrimary, ticket.Mode)
	require.Equal(t, "a", ticket.Token)

	// A second outage is a second activation
	store.FailNextPops(1)
	_, _, err = d.Dispense(t.Context(), "1")
	require.NoError(t, err)
	require.Equal(t, int64(2), d.MetricsSnapshot().FallbackActivations)
}

func TestDispenser_StartupFailover(t *testing.T) {
	store := dispensertest.NewFakeStore()
	store.SetUnavailable(true)

	preloaded := NewFallbackStore()
	preloaded.Load("1", []string{"spare"})

	d := newTestDispenser(t, store, WithFallbackStore(preloaded))
	startDispenser(t, d)

	require.True(t, d.IsFallbackActive())
	require.Equal(t, int64(1), d.MetricsSnapshot().FallbackActivations)
	require.Zero(t, d.MetricsSnapshot().Errors)

	ticket, ok, err := d.Dispense(t.Context(), "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Ticket{EventID: "1", Token: "spare", Mode: ModeFallback}, ticket)
	require.Zero(t, store.PopCalls())
}

func TestDispenser_Lifecycle(t *testing.T) {
	d := newTestDispenser(t, dispensertest.NewFakeStore())

	require.ErrorIs(t, d.Stop(t.Context()), ErrNotStarted)

	require.NoError(t, d.Start(t.Context()))
	require.ErrorIs(t, d.Start(t.Context()), ErrAlreadyStarted)

	require.NoError(t, d.Stop(t.Context()))
	require.ErrorIs(t, d.Stop(t.Context()), ErrNotStarted)
	require.ErrorIs(t, d.Start(t.Context()), ErrAlreadyStarted)
}

func TestDispenser_Hooks(t *testing.T) {
	failovers := make(chan string, 1)
	recoveries := make(chan struct{}, 1)

	store := dispensertest.NewFakeStore()
	d := newTestDispenser(t, store, WithHooks(&Hooks{
		OnFailover: func(_ context.Context, reason string) error {
			failovers <- reason
			return nil
		},
		OnRecovery: func(_ context.Context) error {
			recoveries <- struct{}{}
			return nil
		},
	}))
	startDispenser(t, d)

	store.FailNextPops(1)
	_, _, err := d.Dispense(t.Context(), "1")
	require.NoError(t, err)

	select {
	case reason := <-failovers:
		require.Equal(t, "store_unavailable", reason)
	case <-time.After(time.Second):
		t.Fatal("OnFailover not called")
	}

	select {
	case <-recoveries:
	case <-time.After(2 * time.Second):
		t.Fatal("OnRecovery not called")
	}
}

func TestDispenser_WriteMetrics(t *testing.T) {
	store := dispensertest.NewFakeStore()
	store.Seed("2", []string{"x", "y"})
	store.Seed("1", []string{"a"})
	d := newTestDispenser(t, store)

	for _, eventID := range []string{"2", "1", "1"} {
		_, _, err := d.Dispense(t.Context(), eventID)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, d.WriteMetrics(&buf))

	want := fmt.Sprint(
		"tickets_sold{eventId=\"1\"} 1\n",
		"tickets_sold{eventId=\"2\"} 1\n",
		"tickets_remaining{eventId=\"1\"} 0\n",
		"tickets_remaining{eventId=\"2\"} 1\n",
		"fallback_activations 0\n",
		"errors 0\n",
	)
	require.Equal(t, want, buf.String())
}
