package natsutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/dispenser/types"
)

func TestIsConnectivityError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", nats.ErrTimeout, true},
		{"no servers", nats.ErrNoServers, true},
		{"closed", fmt.Errorf("get: %w", nats.ErrConnectionClosed), true},
		{"no stream response", jetstream.ErrNoStreamResponse, true},
		{"deadline", context.DeadlineExceeded, true},
		{"refused text", errors.New("dial tcp: connection refused"), true},
		{"key not found", jetstream.ErrKeyNotFound, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsConnectivityError(tt.err))
		})
	}
}

func TestUnavailable(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		require.NoError(t, Unavailable(t.Context(), "get", nil))
	})

	t.Run("connectivity error", func(t *testing.T) {
		err := Unavailable(t.Context(), "get", nats.ErrConnectionClosed)
		require.ErrorIs(t, err, types.ErrStoreUnavailable)
		require.ErrorIs(t, err, nats.ErrConnectionClosed)
		require.Contains(t, err.Error(), "connectivity")
	})

	t.Run("backend error", func(t *testing.T) {
		err := Unavailable(t.Context(), "update", errors.New("stream offline"))
		require.ErrorIs(t, err, types.ErrStoreUnavailable)
		require.NotContains(t, err.Error(), "connectivity")
	})

	t.Run("caller cancellation is not unavailability", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		err := Unavailable(ctx, "get", nats.ErrTimeout)
		require.ErrorIs(t, err, context.Canceled)
		require.NotErrorIs(t, err, types.ErrStoreUnavailable)
	})

	t.Run("expired deadline is returned unchanged", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), time.Nanosecond)
		defer cancel()
		<-ctx.Done()

		err := Unavailable(ctx, "get", nats.ErrTimeout)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.NotErrorIs(t, err, types.ErrStoreUnavailable)
	})
}
