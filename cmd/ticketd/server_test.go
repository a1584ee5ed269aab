package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/dispenser"
	dispensertest "github.com/arloliu/dispenser/testing"
)

func newTestServer(t *testing.T) (*httptest.Server, *dispensertest.FakeStore) {
	t.Helper()

	store := dispensertest.NewFakeStore()
	registry := prometheus.NewRegistry()
	logger := dispensertest.NewTestLogger(t)

	d, err := dispenser.New(dispenser.TestConfig(), store,
		dispenser.WithLogger(logger),
		dispenser.WithMetrics(dispenser.NewPrometheusMetrics(registry, "ticketing", nil)),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(newServer(d, registry, logger).routes())
	t.Cleanup(srv.Close)

	return srv, store
}

func decode(t *testing.T, resp *http.Response) response {
	t.Helper()
	defer resp.Body.Close()

	var body response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	return body
}

func TestBuy(t *testing.T) {
	srv, store := newTestServer(t)
	store.Seed("1", []string{"ticket-1-1"})

	resp, err := http.Post(srv.URL+"/buy/1", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	require.False(t, body.Error)
	require.Equal(t, map[string]any{"ticket": "ticket-1-1", "fallback": false}, body.Data)

	resp, err = http.Post(srv.URL+"/buy/1", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body = decode(t, resp)
	require.True(t, body.Error)
	require.Equal(t, "No tickets available", body.Message)
}

func TestBuy_FallbackFlag(t *testing.T) {
	srv, store := newTestServer(t)
	store.Seed("7", []string{"a"})
	store.FailNextPops(1)

	resp, err := http.Post(srv.URL+"/buy/7", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	require.Equal(t, map[string]any{"ticket": "a", "fallback": true}, body.Data)
}

func TestBuy_InvalidEventID(t *testing.T) {
	srv, store := newTestServer(t)

	for _, eventID := range []string{"abc", "1a", "-1"} {
		resp, err := http.Post(srv.URL+"/buy/"+eventID, "application/json", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, eventID)
		require.Equal(t, "Invalid eventId", decode(t, resp).Message)
	}

	require.Zero(t, store.PopCalls())
}

func TestBuy_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/buy/1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestBuy_UnclassifiedFault(t *testing.T) {
	srv, store := newTestServer(t)
	store.MalformNextPops(1)

	resp, err := http.Post(srv.URL+"/buy/1", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.True(t, decode(t, resp).Error)
}

func TestMetricsEndpoints(t *testing.T) {
	srv, store := newTestServer(t)
	store.Seed("1", []string{"a", "b"})

	resp, err := http.Post(srv.URL+"/buy/1", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	t.Run("plaintext", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		var sb strings.Builder
		_, err = io.Copy(&sb, resp.Body)
		require.NoError(t, err)
		require.Contains(t, sb.String(), `tickets_sold{eventId="1"} 1`)
		require.Contains(t, sb.String(), `tickets_remaining{eventId="1"} 1`)
		require.Contains(t, sb.String(), "fallback_activations 0")
	})

	t.Run("json", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics.json")
		require.NoError(t, err)
		defer resp.Body.Close()

		var snap dispenser.MetricsSnapshot
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
		require.Equal(t, int64(1), snap.TicketsSold["1"])
		require.Equal(t, int64(1), snap.TicketsRemaining["1"])
	})

	t.Run("prometheus", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics/prometheus")
		require.NoError(t, err)
		defer resp.Body.Close()

		var sb strings.Builder
		_, err = io.Copy(&sb, resp.Body)
		require.NoError(t, err)
		require.Contains(t, sb.String(), "ticketing_")
	})
}

func TestDemoTokens(t *testing.T) {
	tokens := demoTokens("2", 1500)

	require.Len(t, tokens, 1500)
	require.Equal(t, "ticket-2-1", tokens[0])
	require.Equal(t, "ticket-2-1500", tokens[1499])
}
