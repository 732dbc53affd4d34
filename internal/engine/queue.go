package engine

import (
	"sync"

	"github.com/roach88/harnessforge/internal/candidate"
)

// candidateQueue is a bounded, thread-safe FIFO of candidates awaiting
// validation.
//
// The Run loop enqueues; validation workers dequeue. The queue uses a
// channel for signaling so workers can wait without holding the lock,
// and closing the queue wakes every waiter.
type candidateQueue struct {
	mu       sync.Mutex
	items    []candidate.ID
	capacity int
	closed   bool
	signal   chan struct{} // Signals item availability (buffered, size 1)
}

// newCandidateQueue creates an empty queue holding at most capacity items.
func newCandidateQueue(capacity int) *candidateQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &candidateQueue{
		items:    make([]candidate.ID, 0, capacity),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds id to the back of the queue.
// Returns ErrQueueFull at capacity and ErrEngineStopped once closed.
func (q *candidateQueue) Enqueue(id candidate.ID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrEngineStopped
	}
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}

	q.items = append(q.items, id)
	q.notify()
	return nil
}

// TryDequeue removes the front item without blocking.
// Returns ("", false) if the queue is empty.
func (q *candidateQueue) TryDequeue() (candidate.ID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return "", false
	}

	id := q.items[0]
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	// The signal coalesces enqueues, so pass it on while work remains
	// for the other waiters.
	if len(q.items) > 0 && !q.closed {
		q.notify()
	}
	return id, true
}

// notify signals availability without blocking. Caller holds mu.
func (q *candidateQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Wait returns a channel that signals when items may be available.
// The channel is closed when the queue is closed.
func (q *candidateQueue) Wait() <-chan struct{} {
	return q.signal
}

// Drain removes and returns every queued item.
func (q *candidateQueue) Drain() []candidate.ID {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = make([]candidate.ID, 0, q.capacity)
	return out
}

// Len returns the current queue length.
func (q *candidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the maximum queue length.
func (q *candidateQueue) Capacity() int {
	return q.capacity
}

// Done reports whether the queue is closed and empty.
func (q *candidateQueue) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

// Close stops further enqueues and wakes all waiters.
func (q *candidateQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
