package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/dispenser"
	dispensertest "github.com/arloliu/dispenser/testing"
)

func TestOpenStore_NATSDownAtStartup(t *testing.T) {
	reserved := dispensertest.StartNATSServer(t, -1)
	url := reserved.ClientURL()
	reserved.Shutdown()
	reserved.WaitForShutdown()

	cfg := dispenser.TestConfig()
	cfg.Backend = dispenser.BackendNATS
	cfg.NATS.URL = url

	store, closeStore, err := openStore(cfg)
	require.NoError(t, err)
	t.Cleanup(closeStore)

	d, err := dispenser.New(cfg, store, dispenser.WithLogger(dispensertest.NewTestLogger(t)))
	require.NoError(t, err)
	require.NoError(t, d.Start(t.Context()))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	require.True(t, d.IsFallbackActive())

	_, ok, err := d.Dispense(t.Context(), "1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOpenStore_RedisDownAtStartup(t *testing.T) {
	mr, _ := dispensertest.StartMiniredis(t)
	addr := mr.Addr()
	mr.Close()

	cfg := dispenser.TestConfig()
	cfg.Backend = dispenser.BackendRedis
	cfg.Redis.URL = ""
	cfg.Redis.Addr = addr
	cfg.Redis.DialTimeout = 100 * time.Millisecond

	store, closeStore, err := openStore(cfg)
	require.NoError(t, err)
	t.Cleanup(closeStore)

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	require.Error(t, store.Probe(ctx))
}
