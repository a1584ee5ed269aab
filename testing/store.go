package testing

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/dispenser/types"
)

// FakeStore is an in-memory types.PrimaryStore with fault injection.
//
// Pop is atomic under a single mutex, so the fake has the same uniqueness
// guarantee a real backend's atomic pop provides. Faults are injected with:
//   - SetUnavailable: every call fails with ErrStoreUnavailable until cleared
//   - FailNextPops: the next n pops fail, while Probe and Snapshot keep working
//   - FailSnapshot: Snapshot returns the first event and ErrSnapshotIncomplete
//   - MalformNextPops: the next n pops fail with ErrMalformedResponse
//   - ContendNextPops: the next n pops fail with ErrStoreContention
//   - SetPopDelay: every pop sleeps before touching inventory (simulated I/O)
type FakeStore struct {
	mu          sync.Mutex
	events      map[string][]string
	unavailable bool
	failPops    int
	malformPops int
	contendPops int
	failSnap    bool
	popDelay    time.Duration

	popCalls      atomic.Int64
	probeCalls    atomic.Int64
	snapshotCalls atomic.Int64
}

// Compile-time assertion that FakeStore implements PrimaryStore.
var _ types.PrimaryStore = (*FakeStore)(nil)

// NewFakeStore creates an empty, healthy fake store.
func NewFakeStore() *FakeStore {
	return &FakeStore{events: make(map[string][]string)}
}

// Seed replaces the event's inventory.
func (s *FakeStore) Seed(eventID string, tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[eventID] = slices.Clone(tokens)
}

// SetUnavailable makes every call fail (true) or succeed (false).
func (s *FakeStore) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unavailable = unavailable
}

// FailNextPops makes the next n pops fail with ErrStoreUnavailable.
func (s *FakeStore) FailNextPops(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failPops = n
}

// MalformNextPops makes the next n pops fail with ErrMalformedResponse.
func (s *FakeStore) MalformNextPops(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.malformPops = n
}

// ContendNextPops makes the next n pops fail with ErrStoreContention.
func (s *FakeStore) ContendNextPops(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contendPops = n
}

// FailSnapshot makes Snapshot return a partial result.
func (s *FakeStore) FailSnapshot(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failSnap = fail
}

// SetPopDelay delays every pop by d before it touches inventory.
func (s *FakeStore) SetPopDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.popDelay = d
}

// Remaining returns the event's inventory length.
func (s *FakeStore) Remaining(eventID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.events[eventID])
}

// PopCalls returns how many times Pop was called.
func (s *FakeStore) PopCalls() int64 { return s.popCalls.Load() }

// ProbeCalls returns how many times Probe was called.
func (s *FakeStore) ProbeCalls() int64 { return s.probeCalls.Load() }

// SnapshotCalls returns how many times Snapshot was called.
func (s *FakeStore) SnapshotCalls() int64 { return s.snapshotCalls.Load() }

// Pop implements types.PrimaryStore.
func (s *FakeStore) Pop(ctx context.Context, eventID string) (string, int, bool, error) {
	s.popCalls.Add(1)

	s.mu.Lock()
	delay := s.popDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", 0, false, ctx.Err()
		case <-time.After(delay):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", 0, false, err
	}
	if s.unavailable {
		return "", 0, false, fmt.Errorf("%w: fake store is down", types.ErrStoreUnavailable)
	}
	if s.failPops > 0 {
		s.failPops--
		return "", 0, false, fmt.Errorf("%w: injected pop failure", types.ErrStoreUnavailable)
	}
	if s.malformPops > 0 {
		s.malformPops--
		return "", 0, false, fmt.Errorf("%w: injected malformed reply", types.ErrMalformedResponse)
	}
	if s.contendPops > 0 {
		s.contendPops--
		return "", 0, false, fmt.Errorf("%w: injected revision conflicts", types.ErrStoreContention)
	}

	tokens := s.events[eventID]
	if len(tokens) == 0 {
		return "", 0, false, nil
	}

	token := tokens[0]
	s.events[eventID] = tokens[1:]

	return token, len(tokens) - 1, true, nil
}

// Probe implements types.PrimaryStore.
func (s *FakeStore) Probe(ctx context.Context) error {
	s.probeCalls.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.unavailable {
		return fmt.Errorf("%w: fake store is down", types.ErrStoreUnavailable)
	}

	return nil
}

// Snapshot implements types.PrimaryStore.
func (s *FakeStore) Snapshot(ctx context.Context) (map[string][]string, error) {
	s.snapshotCalls.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.unavailable {
		return nil, fmt.Errorf("%w: %w: fake store is down", types.ErrSnapshotIncomplete, types.ErrStoreUnavailable)
	}

	inventory := make(map[string][]string, len(s.events))
	for _, eventID := range slices.Sorted(maps.Keys(s.events)) {
		inventory[eventID] = slices.Clone(s.events[eventID])
		if s.failSnap {
			return inventory, fmt.Errorf("%w: injected failure after event %s", types.ErrSnapshotIncomplete, eventID)
		}
	}

	return inventory, nil
}

// SeedTokens generates count tokens named "ticket-<eventID>-<n>" with n from 1,
// the layout produced by the seeding tool.
func SeedTokens(eventID string, count int) []string {
	tokens := make([]string, count)
	for i := range tokens {
		tokens[i] = "ticket-" + eventID + "-" + strconv.Itoa(i+1)
	}

	return tokens
}
