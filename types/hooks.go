package types

import "context"

// Hooks defines callbacks for failover lifecycle events.
//
// All hooks are optional and run in background goroutines after the
// transition has completed, so they never delay a dispense call. Hook errors
// are logged and otherwise ignored.
//
// Example:
//
//	hooks := &dispenser.Hooks{
//	    OnFailover: func(ctx context.Context, reason string) error {
//	        return pager.Notify(ctx, "ticket inventory on fallback: "+reason)
//	    },
//	}
type Hooks struct {
	// OnFailover is called after the dispenser switched to the fallback store.
	// reason is "startup" or "store_unavailable".
	OnFailover func(ctx context.Context, reason string) error

	// OnRecovery is called after the dispenser switched back to the primary store.
	OnRecovery func(ctx context.Context) error
}
