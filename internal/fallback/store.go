// Package fallback implements the in-process inventory used while the primary
// store is unreachable.
package fallback

import (
	"slices"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// Store is an in-process, per-event FIFO queue of tokens.
//
// Queues are created on first reference: popping an event that was never
// loaded creates an empty queue for it and reports empty. Each queue has its
// own mutex; the empty check and the removal happen in one critical section,
// so two goroutines can never remove the same head token.
//
// Fallback state is local to one process and is not persisted.
type Store struct {
	queues *xsync.Map[string, *queue]
}

type queue struct {
	mu     sync.Mutex
	tokens []string
}

// New creates an empty fallback store.
func New() *Store {
	return &Store{queues: xsync.NewMap[string, *queue]()}
}

// Load replaces the event's queue with a copy of tokens (last write wins).
//
// Parameters:
//   - eventID: Event identifier
//   - tokens: Tokens in dispense order; the first element is dispensed next
func (s *Store) Load(eventID string, tokens []string) {
	q := s.queue(eventID)

	q.mu.Lock()
	q.tokens = slices.Clone(tokens)
	q.mu.Unlock()
}

// LoadAll replaces the queues of every event in inventory.
//
// Events not present in inventory keep their current queue.
func (s *Store) LoadAll(inventory map[string][]string) {
	for eventID, tokens := range inventory {
		s.Load(eventID, tokens)
	}
}

// Pop removes and returns the head of the event's queue.
//
// Returns:
//   - token: The removed token (empty when ok is false)
//   - remaining: Queue length after the pop
//   - ok: false when the event is unseeded or exhausted
func (s *Store) Pop(eventID string) (token string, remaining int, ok bool) {
	q := s.queue(eventID)

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tokens) == 0 {
		return "", 0, false
	}

	token = q.tokens[0]
	q.tokens[0] = ""
	q.tokens = q.tokens[1:]

	return token, len(q.tokens), true
}

// Len returns the number of tokens queued for the event.
func (s *Store) Len(eventID string) int {
	q, ok := s.queues.Load(eventID)
	if !ok {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tokens)
}

// Events returns the IDs of every event that has a queue, sorted.
func (s *Store) Events() []string {
	events := make([]string, 0, s.queues.Size())
	s.queues.Range(func(eventID string, _ *queue) bool {
		events = append(events, eventID)
		return true
	})
	slices.Sort(events)

	return events
}

// queue returns the event's queue, creating an empty one on first reference.
func (s *Store) queue(eventID string) *queue {
	if q, ok := s.queues.Load(eventID); ok {
		return q
	}
	q, _ := s.queues.LoadOrStore(eventID, &queue{})

	return q
}
