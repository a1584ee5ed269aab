package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/dispenser"
)

var eventIDPattern = regexp.MustCompile(`^[0-9]+$`)

// response is the JSON envelope of every API reply.
type response struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type purchase struct {
	Ticket   string `json:"ticket,omitempty"`
	Fallback bool   `json:"fallback"`
}

// server exposes the dispenser over HTTP.
type server struct {
	dispenser *dispenser.Dispenser
	gatherer  prometheus.Gatherer
	logger    dispenser.Logger
}

func newServer(d *dispenser.Dispenser, gatherer prometheus.Gatherer, logger dispenser.Logger) *server {
	return &server{dispenser: d, gatherer: gatherer, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /buy/{eventId}", s.handleBuy)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /metrics.json", s.handleMetricsJSON)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics/prometheus", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

func (s *server) handleBuy(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventId")
	if !eventIDPattern.MatchString(eventID) {
		s.writeJSON(w, http.StatusBadRequest, response{Error: true, Message: "Invalid eventId"})
		return
	}

	ticket, ok, err := s.dispenser.Dispense(r.Context(), eventID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, r.Context().Err()) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("purchase failed", "event", eventID, "error", err)
		s.writeJSON(w, status, response{Error: true, Message: "Internal server error"})

		return
	}

	if !ok {
		s.writeJSON(w, http.StatusNotFound, response{
			Error:   true,
			Message: "No tickets available",
			Data:    purchase{Fallback: s.dispenser.IsFallbackActive()},
		})

		return
	}

	s.writeJSON(w, http.StatusOK, response{
		Message: "Ticket purchased successfully!",
		Data:    purchase{Ticket: ticket.Token, Fallback: ticket.FromFallback()},
	})
}

func (s *server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.dispenser.WriteMetrics(w); err != nil {
		s.logger.Warn("failed to write metrics", "error", err)
	}
}

func (s *server) handleMetricsJSON(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dispenser.MetricsSnapshot())
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"mode": s.dispenser.Mode().String()})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}
