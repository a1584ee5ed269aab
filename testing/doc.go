// Package testing provides test utilities for the dispenser library.
//
// It follows Go's convention of shipping test helpers in a dedicated package
// (like net/http/httptest) so that applications embedding the dispenser can
// reuse them.
//
// Key utilities:
//   - StartEmbeddedNATS: In-process NATS server with JetStream
//   - CreateJetStreamKV: Convenience wrapper for KV bucket creation
//   - StartMiniredis: In-process Redis server and a non-retrying client
//   - FakeStore: In-memory PrimaryStore with fault injection
//   - SeedTokens: Deterministic token generation ("ticket-<event>-<n>")
//
// Example usage:
//
//	import (
//	    "testing"
//	    dispensertest "github.com/arloliu/dispenser/testing"
//	)
//
//	func TestPurchase(t *testing.T) {
//	    store := dispensertest.NewFakeStore()
//	    store.Seed("1", dispensertest.SeedTokens("1", 10))
//	    // ...
//	}
package testing
