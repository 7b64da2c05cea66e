package delivery

import "sync"

// Queue is the thread-safe FIFO-with-requeue structure shared between the
// capture engine (producer) and the delivery processor (consumer). Insertion
// order is preserved for first attempts; requeued items go to the tail, so
// ordering across retries is not guaranteed, only eventual visitation.
//
// An optional capacity bounds memory under sustained outage: when full, Push
// evicts the oldest pending item rather than blocking the producer. Capacity
// zero keeps the queue unbounded.
type Queue struct {
	mu      sync.Mutex
	items   []*Item
	maxSize int

	// wake lets an idle consumer notice a fresh item before its next poll
	// tick. Buffered so producers never block on it.
	wake chan struct{}
}

// QueueStats reports queue depth and capacity for monitoring.
type QueueStats struct {
	Size     int `json:"size"`
	Capacity int `json:"capacity"` // 0 means unbounded
}

// NewQueue creates a delivery queue. maxSize 0 means unbounded.
func NewQueue(maxSize int) *Queue {
	return &Queue{
		maxSize: maxSize,
		wake:    make(chan struct{}, 1),
	}
}

// Push appends an item to the tail. If the queue is bounded and full, the
// oldest pending item is evicted and returned so the caller can account for
// the loss; otherwise the return value is nil.
func (q *Queue) Push(item *Item) *Item {
	q.mu.Lock()
	var evicted *Item
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		evicted = q.items[0]
		q.items = q.items[1:]
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
	return evicted
}

// Requeue reinserts a failed item at the tail for another attempt. Requeued
// items never evict: the retry and age bounds already limit their residency.
func (q *Queue) Requeue(item *Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
}

// Pop removes and returns the head item. It does not block; the second
// return value is false when the queue is empty.
func (q *Queue) Pop() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, true
}

// Len returns the current number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wake returns a channel that receives a signal when an item is pushed while
// the consumer may be idle.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// GetStats returns current queue statistics.
func (q *Queue) GetStats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Size: len(q.items), Capacity: q.maxSize}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
