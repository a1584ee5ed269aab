package testing

import (
	"testing"

	"github.com/arloliu/dispenser/internal/logger"
	"github.com/arloliu/dispenser/types"
)

// NewTestLogger creates a logger that writes through t.Logf.
// This is useful for seeing failover transitions next to test failures.
func NewTestLogger(t testing.TB) types.Logger {
	return logger.NewTest(t)
}
