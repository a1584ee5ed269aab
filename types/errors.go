package types

import "errors"

// Sentinel errors for the dispenser library.
//
// Components wrap external errors with one of these sentinels using
// fmt.Errorf("%w: %w", sentinel, err) so callers can classify failures
// with errors.Is() regardless of which backend produced them.

// Dispenser errors - Public API errors returned by the Dispenser.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrPrimaryStoreRequired is returned when the primary store is nil.
	ErrPrimaryStoreRequired = errors.New("primary store is required")

	// ErrInvalidEventID is returned when an empty event ID is passed to Dispense.
	ErrInvalidEventID = errors.New("invalid event ID")

	// ErrAlreadyStarted is returned when Start is called on a running component.
	ErrAlreadyStarted = errors.New("already started")

	// ErrNotStarted is returned when Stop is called on a component that is not running.
	ErrNotStarted = errors.New("not started")

	// ErrUnclassifiedFault wraps failures on the dispense path that are neither
	// store unavailability nor empty inventory. These are surfaced to the caller.
	ErrUnclassifiedFault = errors.New("unclassified dispense fault")
)

// Store errors - returned by PrimaryStore implementations.
var (
	// ErrStoreUnavailable indicates a connection failure, timeout or backend-reported
	// error at the primary store. The dispenser recovers from it by failing over.
	ErrStoreUnavailable = errors.New("primary store unavailable")

	// ErrMalformedResponse indicates the backend answered with data the adapter
	// could not interpret. It is an unclassified fault, not unavailability.
	ErrMalformedResponse = errors.New("malformed store response")

	// ErrStoreContention indicates the store kept answering but the pop lost
	// every revision race before the operation deadline. The store is healthy,
	// so this is surfaced to the caller instead of triggering failover.
	ErrStoreContention = errors.New("primary store contention")

	// ErrSnapshotIncomplete indicates the primary inventory could not be fully
	// copied into the fallback store. Partial results may accompany it.
	ErrSnapshotIncomplete = errors.New("inventory snapshot incomplete")
)
