// Package queue provides the FIFO used for pending connection backlogs.
package queue

// SliceQueue is a FIFO queue backed by a slice with an optional capacity limit.
//
// SliceQueue is not safe for concurrent use; callers guard it with their own lock.
type SliceQueue[T any] struct {
	items []T
	limit int
}

// NewSliceQueue creates a queue that accepts at most limit items. A limit <= 0 means unbounded.
func NewSliceQueue[T any](limit int) *SliceQueue[T] {
	prealloc := limit
	if prealloc <= 0 || prealloc > 64 {
		prealloc = 64
	}

	return &SliceQueue[T]{items: make([]T, 0, prealloc), limit: limit}
}

// Enqueue adds an item to the tail of the queue. It returns false when the queue is full.
func (q *SliceQueue[T]) Enqueue(item T) bool {
	if q.IsFull() {
		return false
	}
	q.items = append(q.items, item)

	return true
}

// Dequeue removes and returns the item at the head of the queue.
func (q *SliceQueue[T]) Dequeue() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]

	return item, true
}

// Drain removes and returns all queued items.
func (q *SliceQueue[T]) Drain() []T {
	items := q.items
	q.items = nil

	return items
}

// SetLimit changes the capacity limit. Items already queued are kept.
func (q *SliceQueue[T]) SetLimit(limit int) {
	q.limit = limit
}

// IsEmpty returns true if the queue is empty, false otherwise.
func (q *SliceQueue[T]) IsEmpty() bool {
	return len(q.items) == 0
}

// IsFull returns true if the queue reached its limit.
func (q *SliceQueue[T]) IsFull() bool {
	return q.limit > 0 && len(q.items) >= q.limit
}

// Length returns the number of items in the queue.
func (q *SliceQueue[T]) Length() int {
	return len(q.items)
}
