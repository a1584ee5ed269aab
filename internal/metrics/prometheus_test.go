package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/dispenser/types"
)

func TestPrometheusCollector_LazyRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheus(reg, "", nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Empty(t, families)
}

func TestPrometheusCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "test", prometheus.Labels{"instance": "i-1"})

	p.RecordSale("1")
	p.RecordSale("1")
	p.RecordRemaining("1", 998)
	p.RecordError()
	p.RecordPopDuration(types.ModePrimary, 0.002)
	p.RecordFailover("store_unavailable")
	p.RecordRecovery()
	p.RecordProbe(true)
	p.RecordProbe(false)
	p.RecordProbe(false)
	p.SetFallbackActive(true)
	p.RecordSnapshot(2, 42, false)

	require.InDelta(t, 2, testutil.ToFloat64(p.sold.WithLabelValues("1")), 0)
	require.InDelta(t, 998, testutil.ToFloat64(p.remaining.WithLabelValues("1")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.errors), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.failovers.WithLabelValues("store_unavailable")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.recoveries), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.probes.WithLabelValues("success")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(p.probes.WithLabelValues("failure")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.fallbackActive), 0)
	require.InDelta(t, 1, testutil.ToFloat64(p.snapshots.WithLabelValues("incomplete")), 0)
	require.InDelta(t, 42, testutil.ToFloat64(p.snapshotTokens), 0)

	p.SetFallbackActive(false)
	require.InDelta(t, 0, testutil.ToFloat64(p.fallbackActive), 0)

	count, err := testutil.GatherAndCount(reg, "test_tickets_sold_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
