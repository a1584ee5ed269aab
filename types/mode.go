package types

// Mode identifies the backend currently serving dispense calls.
//
// Exactly one mode is active at any instant. The failover controller is the
// only writer; everything else reads an immutable copy of the value.
//
//	ModePrimary → ModeFallback (primary store unavailable, or startup probe failed)
//	ModeFallback → ModePrimary (recovery probe succeeded)
type Mode int32

const (
	// ModePrimary indicates dispense calls are served by the primary store.
	ModePrimary Mode = iota

	// ModeFallback indicates dispense calls are served by the in-process fallback store.
	ModeFallback
)

// String returns the string representation of the mode.
//
// Returns:
//   - string: "primary", "fallback" or "unknown"
func (m Mode) String() string {
	switch m {
	case ModePrimary:
		return "primary"
	case ModeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// IsValid reports whether m is one of the defined modes.
func (m Mode) IsValid() bool {
	return m == ModePrimary || m == ModeFallback
}
