package failover

import (
	"sync"

	"github.com/arloliu/dispenser/types"
)

// modeSubscriber is a helper for managing mode change subscriptions.
type modeSubscriber struct {
	ch     chan types.Mode
	mu     sync.Mutex
	closed bool
}

// trySend delivers a mode without blocking; slow subscribers miss
// intermediate modes but always see a later one.
func (s *modeSubscriber) trySend(mode types.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- mode:
	default:
	}
}

// close safely closes the subscriber's channel.
func (s *modeSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
