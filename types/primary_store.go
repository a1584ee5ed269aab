package types

import "context"

// PrimaryStore is the authoritative inventory backend.
//
// Every event owns an ordered collection of unclaimed tokens; the front of the
// collection is the next token to dispense. Implementations must make Pop a
// single indivisible operation at the backend so that no two concurrent callers,
// in this process or any other, can observe and remove the same front element.
//
// Failure reporting:
//   - Connection failure, timeout, backend-reported error: wrap ErrStoreUnavailable
//   - Reply that cannot be interpreted: wrap ErrMalformedResponse
//   - Backend healthy but the pop kept losing races: wrap ErrStoreContention
//   - Context done (canceled or deadline): return the context error unchanged
//
// The dispenser decides whether an expired deadline means the store is down:
// only its own operation timeout does, never the caller's deadline.
//
// Implementations must not retry failed calls internally. Retry and recovery
// policy belongs to the failover controller.
type PrimaryStore interface {
	// Pop removes and returns the front token of the event's inventory.
	//
	// Parameters:
	//   - ctx: Context for cancellation and deadline
	//   - eventID: Event identifier
	//
	// Returns:
	//   - token: The removed token (empty when ok is false)
	//   - remaining: Inventory length after the pop, as reported by the backend
	//   - ok: false when the event is empty or was never seeded
	//   - err: Non-nil on failure (see interface documentation)
	Pop(ctx context.Context, eventID string) (token string, remaining int, ok bool, err error)

	// Probe performs a cheap liveness check without mutating inventory.
	//
	// Returns:
	//   - error: nil when healthy, an error wrapping ErrStoreUnavailable otherwise
	Probe(ctx context.Context) error

	// Snapshot reads the remaining tokens of every known event, in dispense order.
	//
	// On partial failure the events read so far are returned together with an
	// error wrapping ErrSnapshotIncomplete.
	//
	// Returns:
	//   - map[string][]string: Event ID to remaining tokens
	//   - error: Non-nil if any event could not be read
	Snapshot(ctx context.Context) (map[string][]string, error)
}
