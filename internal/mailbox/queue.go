// Package mailbox provides a multi-producer, single-consumer FIFO queue.
package mailbox

import "sync"

// Queue is a FIFO queue that producers can feed from any goroutine without
// blocking. A single consumer drains it with Dequeue.
//
// The queue is unbounded: Enqueue only fails once the queue is closed.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool
	items    []T
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueue appends item. It never blocks and returns false when the item was
// dropped.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, item)
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until an item is available or the queue is closed.
func (q *Queue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// Let the backing array go once drained.
		q.items = nil
	}
	return item, true
}

// Close wakes the consumer and discards anything still queued. Later
// Enqueue calls are dropped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
