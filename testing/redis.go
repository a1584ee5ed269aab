package testing

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// StartMiniredis starts an in-process Redis server and a connected client.
//
// The client never retries and uses short timeouts, matching how the
// dispenser expects its primary store client to behave: a stopped server
// (mr.Close()) surfaces as an error on the next call, and mr.Restart() brings
// the same address and data back for recovery tests.
//
// Parameters:
//   - t: Testing context for cleanup
//
// Returns:
//   - *miniredis.Miniredis: The server (Close/Restart to simulate outages)
//   - *redis.Client: Client connected to the server
func StartMiniredis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr:         mr.Addr(),
		DialTimeout:  200 * time.Millisecond,
		ReadTimeout:  200 * time.Millisecond,
		WriteTimeout: 200 * time.Millisecond,
		MaxRetries:   -1,
	})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return mr, client
}
