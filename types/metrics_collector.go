package types

// MetricsCollector defines methods for exporting dispensing metrics.
//
// The in-process metrics recorder keeps the authoritative counters and mirrors
// every update here. Implementations should be non-blocking and must be safe
// for concurrent use, since dispense calls run in parallel goroutines.
type MetricsCollector interface {
	DispenseMetrics
	FailoverMetrics
}

// DispenseMetrics defines metrics for individual dispense calls.
type DispenseMetrics interface {
	// RecordSale records one dispensed token for an event.
	RecordSale(eventID string)

	// RecordRemaining sets the remaining inventory gauge for an event.
	RecordRemaining(eventID string, count int)

	// RecordError records a dispense-path error (store unavailable or unclassified).
	RecordError()

	// RecordPopDuration records the latency of one pop.
	//
	// Parameters:
	//   - mode: Backend that served the pop
	//   - seconds: Time taken in seconds
	RecordPopDuration(mode Mode, seconds float64)
}

// FailoverMetrics defines metrics for the failover controller.
type FailoverMetrics interface {
	// RecordFailover records a primary-to-fallback transition.
	RecordFailover(reason string)

	// RecordRecovery records a fallback-to-primary transition.
	RecordRecovery()

	// RecordProbe records the outcome of a recovery probe.
	RecordProbe(success bool)

	// SetFallbackActive sets the fallback gauge (1 active, 0 inactive).
	SetFallbackActive(active bool)

	// RecordSnapshot records a failover snapshot.
	//
	// Parameters:
	//   - events: Number of events copied into the fallback store
	//   - tokens: Number of tokens copied
	//   - complete: false when the snapshot hit ErrSnapshotIncomplete
	RecordSnapshot(events, tokens int, complete bool)
}
