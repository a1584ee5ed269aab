// Package natsutil classifies NATS client errors for the store adapters.
package natsutil

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/dispenser/types"
)

// IsConnectivityError checks if an error is caused by connectivity issues.
//
// This includes NATS timeouts, connection refused, disconnections, etc.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionDraining) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// Unavailable wraps a NATS error as types.ErrStoreUnavailable.
//
// When ctx is done its error is returned unchanged. Whether an expired
// deadline means an outage depends on whose deadline it was, which only the
// caller knows.
//
// Parameters:
//   - ctx: Context of the failed operation
//   - op: Operation name used in the error message
//   - err: Error returned by the NATS client
//
// Returns:
//   - error: nil if err is nil, otherwise the classified error
func Unavailable(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if IsConnectivityError(err) {
		return fmt.Errorf("%w: %s: connectivity: %w", types.ErrStoreUnavailable, op, err)
	}

	return fmt.Errorf("%w: %s: %w", types.ErrStoreUnavailable, op, err)
}
