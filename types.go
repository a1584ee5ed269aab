package dispenser

import (
	"github.com/arloliu/dispenser/internal/fallback"
	"github.com/arloliu/dispenser/types"
)

// Re-export types from the types package.
//
// Internal packages depend on types/ only, so they never import the root
// package; users get dispenser.Ticket, dispenser.Logger and so on.
type (
	Mode            = types.Mode
	Ticket          = types.Ticket
	MetricsSnapshot = types.MetricsSnapshot
)

// Re-export interfaces from the types package.
type (
	PrimaryStore     = types.PrimaryStore
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// FallbackStore is the in-process inventory used while the primary store is unavailable.
type FallbackStore = fallback.Store

// NewFallbackStore creates an empty fallback store for WithFallbackStore.
func NewFallbackStore() *FallbackStore {
	return fallback.New()
}

// Re-export Mode constants.
const (
	ModePrimary  = types.ModePrimary
	ModeFallback = types.ModeFallback
)
