package types

// Ticket is a token handed out by Dispense.
type Ticket struct {
	// EventID is the event the token belongs to.
	EventID string `json:"eventId"`

	// Token is the opaque, event-scoped unique token string.
	Token string `json:"ticket"`

	// Mode is the backend that served the token.
	Mode Mode `json:"-"`
}

// FromFallback reports whether the ticket was served by the fallback store.
func (t Ticket) FromFallback() bool {
	return t.Mode == ModeFallback
}

// MetricsSnapshot is a point-in-time copy of the dispensing counters.
//
// The maps are owned by the caller and safe to modify.
type MetricsSnapshot struct {
	// TicketsSold is the monotonic per-event count of dispensed tokens.
	TicketsSold map[string]int64 `json:"ticketsSold"`

	// TicketsRemaining is the best-effort per-event inventory length,
	// refreshed after each pop and after each failover snapshot.
	TicketsRemaining map[string]int64 `json:"ticketsRemaining"`

	// FallbackActivations counts primary-to-fallback transitions.
	FallbackActivations int64 `json:"fallbackActivations"`

	// Errors counts store unavailability and unclassified faults on the dispense path.
	Errors int64 `json:"errors"`
}
