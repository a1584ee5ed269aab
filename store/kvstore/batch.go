package kvstore

import (
	"slices"
	"sync"
)

// popBatcher queues the concurrent pops of one event.
//
// At most one queued caller leads at a time. The leader takes everything
// queued so far as its batch; callers arriving meanwhile wait for the next
// batch, which the first of them leads.
type popBatcher struct {
	mu      sync.Mutex
	waiting []*popWaiter
	leader  *popWaiter // designated leader that has not taken its batch yet
	busy    bool
}

type popWaiter struct {
	done chan popResult // receives one result, or one lead signal
}

type popResult struct {
	token     string
	remaining int
	ok        bool
	err       error
	lead      bool
}

// join queues w and reports whether w leads right away.
func (b *popBatcher) join(w *popWaiter) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.waiting = append(b.waiting, w)
	if b.busy {
		return false
	}

	b.busy = true
	b.leader = w

	return true
}

// take returns the batch for the current leader.
func (b *popBatcher) take() []*popWaiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := b.waiting
	b.waiting = nil
	b.leader = nil

	return batch
}

// leave removes w if it has not been taken into a batch yet.
func (b *popBatcher) leave(w *popWaiter) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := slices.Index(b.waiting, w)
	if idx < 0 {
		return false
	}
	b.waiting = slices.Delete(b.waiting, idx, idx+1)

	if b.leader == w {
		b.handOffLocked()
	}

	return true
}

// requeue puts an unfinished batch, minus its leader, back at the front of the queue.
func (b *popBatcher) requeue(batch []*popWaiter, self *popWaiter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	waiting := make([]*popWaiter, 0, len(batch)+len(b.waiting))
	for _, w := range batch {
		if w != self {
			waiting = append(waiting, w)
		}
	}
	b.waiting = append(waiting, b.waiting...)

	b.handOffLocked()
}

// handOff passes leadership to the next queued caller, if any.
func (b *popBatcher) handOff() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handOffLocked()
}

func (b *popBatcher) handOffLocked() {
	if len(b.waiting) == 0 {
		b.busy = false
		b.leader = nil

		return
	}

	b.leader = b.waiting[0]
	b.leader.done <- popResult{lead: true}
}
