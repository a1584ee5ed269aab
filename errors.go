package dispenser

import "github.com/arloliu/dispenser/types"

// Re-export sentinel errors from the types package.
//
// Check them with errors.Is; the dispenser and the store adapters wrap them
// with context about the failing operation.
var (
	ErrInvalidConfig        = types.ErrInvalidConfig
	ErrPrimaryStoreRequired = types.ErrPrimaryStoreRequired
	ErrInvalidEventID       = types.ErrInvalidEventID
	ErrAlreadyStarted       = types.ErrAlreadyStarted
	ErrNotStarted           = types.ErrNotStarted
	ErrUnclassifiedFault    = types.ErrUnclassifiedFault
	ErrStoreUnavailable     = types.ErrStoreUnavailable
	ErrMalformedResponse    = types.ErrMalformedResponse
	ErrStoreContention      = types.ErrStoreContention
	ErrSnapshotIncomplete   = types.ErrSnapshotIncomplete
)
