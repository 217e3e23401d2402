package harness

import "sync"

// queue is a thread-safe FIFO of test units.
//
// The harness keeps one for top-level tests and every unit keeps one for the
// subtests it spawns. Units may be enqueued from any goroutine (a test body
// that registers work asynchronously) while the scheduler goroutine dequeues.
//
// The queue uses a channel for signalling so the scheduler can wait on it in
// a select next to a unit's completion and cancellation channels.
type queue[E any] struct {
	mu     sync.Mutex
	items  []E
	signal chan struct{} // Signals item availability (buffered, size 1)
}

func newQueue[E any]() *queue[E] {
	return &queue[E]{
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
func (q *queue[E]) Enqueue(e E) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, e)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryDequeue removes and returns the front item without blocking.
func (q *queue[E]) TryDequeue() (E, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero E
	if len(q.items) == 0 {
		return zero, false
	}

	e := q.items[0]

	// Clear the slot so the backing array does not pin a finished unit.
	q.items[0] = zero
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return e, true
}

// Wait returns a channel that signals when items may be available.
func (q *queue[E]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *queue[E]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns the queued items in order without removing them.
func (q *queue[E]) Snapshot() []E {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]E, len(q.items))
	copy(out, q.items)
	return out
}
