package testing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/dispenser/types"
)

func TestFakeStore_Pop(t *testing.T) {
	ctx := t.Context()
	s := NewFakeStore()
	s.Seed("1", []string{"a", "b"})

	token, remaining, ok, err := s.Pop(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", token)
	require.Equal(t, 1, remaining)

	_, _, _, err = s.Pop(ctx, "1")
	require.NoError(t, err)

	_, remaining, ok, err = s.Pop(ctx, "1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, remaining)

	_, _, ok, err = s.Pop(ctx, "unknown")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(4), s.PopCalls())
}

func TestFakeStore_FaultInjection(t *testing.T) {
	ctx := t.Context()
	s := NewFakeStore()
	s.Seed("1", []string{"a", "b", "c"})

	s.FailNextPops(1)
	_, _, _, err := s.Pop(ctx, "1")
	require.ErrorIs(t, err, types.ErrStoreUnavailable)
	require.NoError(t, s.Probe(ctx))
	require.Equal(t, 3, s.Remaining("1"))

	s.MalformNextPops(1)
	_, _, _, err = s.Pop(ctx, "1")
	require.ErrorIs(t, err, types.ErrMalformedResponse)

	s.SetUnavailable(true)
	_, _, _, err = s.Pop(ctx, "1")
	require.ErrorIs(t, err, types.ErrStoreUnavailable)
	require.ErrorIs(t, s.Probe(ctx), types.ErrStoreUnavailable)
	_, err = s.Snapshot(ctx)
	require.ErrorIs(t, err, types.ErrSnapshotIncomplete)

	s.SetUnavailable(false)
	token, _, ok, err := s.Pop(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", token)
}

func TestFakeStore_Snapshot(t *testing.T) {
	ctx := t.Context()
	s := NewFakeStore()
	s.Seed("1", []string{"a"})
	s.Seed("2", []string{"b", "c"})

	inventory, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"1": {"a"}, "2": {"b", "c"}}, inventory)

	s.FailSnapshot(true)
	inventory, err = s.Snapshot(ctx)
	require.ErrorIs(t, err, types.ErrSnapshotIncomplete)
	require.Equal(t, map[string][]string{"1": {"a"}}, inventory)
}

func TestFakeStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	s := NewFakeStore()
	_, _, _, err := s.Pop(ctx, "1")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSeedTokens(t *testing.T) {
	require.Equal(t, []string{"ticket-3-1", "ticket-3-2"}, SeedTokens("3", 2))
	require.Empty(t, SeedTokens("3", 0))
}
