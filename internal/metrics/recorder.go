package metrics

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/dispenser/types"
)

// Recorder holds the authoritative dispensing counters.
//
// Per-event counters are created on first reference. Every update is mirrored
// to the configured MetricsCollector so that external exporters (Prometheus)
// see the same values. Recorder is pure bookkeeping: it performs no validation
// and has no side effects beyond counter mutation.
//
// All methods are safe for concurrent use.
type Recorder struct {
	sold      *xsync.Map[string, *atomic.Int64]
	remaining *xsync.Map[string, *atomic.Int64]

	failovers atomic.Int64
	errors    atomic.Int64

	collector types.MetricsCollector
}

// NewRecorder creates an empty recorder.
//
// Parameters:
//   - collector: Exporter receiving a copy of every update (nop when nil)
//
// Returns:
//   - *Recorder: Recorder with all counters at zero
func NewRecorder(collector types.MetricsCollector) *Recorder {
	if collector == nil {
		collector = NewNop()
	}

	return &Recorder{
		sold:      xsync.NewMap[string, *atomic.Int64](),
		remaining: xsync.NewMap[string, *atomic.Int64](),
		collector: collector,
	}
}

// Collector returns the exporter updates are mirrored to.
func (r *Recorder) Collector() types.MetricsCollector {
	return r.collector
}

// RecordSale increments the event's sold counter.
func (r *Recorder) RecordSale(eventID string) {
	counter(r.sold, eventID).Add(1)
	r.collector.RecordSale(eventID)
}

// RecordRemaining sets the event's remaining counter.
func (r *Recorder) RecordRemaining(eventID string, count int) {
	counter(r.remaining, eventID).Store(int64(count))
	r.collector.RecordRemaining(eventID, count)
}

// RecordFailover increments the global failover activation counter.
func (r *Recorder) RecordFailover(reason string) {
	r.failovers.Add(1)
	r.collector.RecordFailover(reason)
}

// RecordError increments the global error counter.
func (r *Recorder) RecordError() {
	r.errors.Add(1)
	r.collector.RecordError()
}

// Sold returns the event's sold count (0 for unknown events).
func (r *Recorder) Sold(eventID string) int64 {
	if c, ok := r.sold.Load(eventID); ok {
		return c.Load()
	}

	return 0
}

// Remaining returns the event's remaining count and whether it was ever recorded.
func (r *Recorder) Remaining(eventID string) (int64, bool) {
	if c, ok := r.remaining.Load(eventID); ok {
		return c.Load(), true
	}

	return 0, false
}

// FallbackActivations returns the global failover activation count.
func (r *Recorder) FallbackActivations() int64 {
	return r.failovers.Load()
}

// Errors returns the global error count.
func (r *Recorder) Errors() int64 {
	return r.errors.Load()
}

// Snapshot returns a copy of all counters.
//
// Counters are read one at a time, so a snapshot taken during dispense
// activity is not a consistent cut across events.
func (r *Recorder) Snapshot() types.MetricsSnapshot {
	snap := types.MetricsSnapshot{
		TicketsSold:         make(map[string]int64, r.sold.Size()),
		TicketsRemaining:    make(map[string]int64, r.remaining.Size()),
		FallbackActivations: r.failovers.Load(),
		Errors:              r.errors.Load(),
	}

	r.sold.Range(func(eventID string, c *atomic.Int64) bool {
		snap.TicketsSold[eventID] = c.Load()
		return true
	})
	r.remaining.Range(func(eventID string, c *atomic.Int64) bool {
		snap.TicketsRemaining[eventID] = c.Load()
		return true
	})

	return snap
}

// WriteText writes the counters in the plaintext exposition format:
//
//	tickets_sold{eventId="1"} 12
//	tickets_remaining{eventId="1"} 988
//	fallback_activations 0
//	errors 0
//
// Events are sorted by ID so the output is stable.
func (r *Recorder) WriteText(w io.Writer) error {
	return WriteText(w, r.Snapshot())
}

// WriteText renders a snapshot in the plaintext exposition format.
func WriteText(w io.Writer, snap types.MetricsSnapshot) error {
	bw := bufio.NewWriter(w)

	for _, eventID := range sortedKeys(snap.TicketsSold) {
		fmt.Fprintf(bw, "tickets_sold{eventId=%q} %d\n", eventID, snap.TicketsSold[eventID])
	}
	for _, eventID := range sortedKeys(snap.TicketsRemaining) {
		fmt.Fprintf(bw, "tickets_remaining{eventId=%q} %d\n", eventID, snap.TicketsRemaining[eventID])
	}
	fmt.Fprintf(bw, "fallback_activations %d\n", snap.FallbackActivations)
	fmt.Fprintf(bw, "errors %d\n", snap.Errors)

	return bw.Flush()
}

// counter returns the event's counter, creating it on first reference.
func counter(m *xsync.Map[string, *atomic.Int64], eventID string) *atomic.Int64 {
	if c, ok := m.Load(eventID); ok {
		return c
	}
	c, _ := m.LoadOrStore(eventID, new(atomic.Int64))

	return c
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys
}
