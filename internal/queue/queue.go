// Package queue provides the bounded, in-memory FIFO holding area between
// the mail fetch loop and the pipeline worker. A full queue rejects new
// work instead of blocking, so backpressure is always visible to the
// fetch loop.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/nhle/mailbot/internal/model"
)

// DefaultCapacity is the queue depth used when no capacity is configured.
const DefaultCapacity = 100

var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity.
	// Callers must defer or drop rather than retry in a tight loop.
	ErrQueueFull = errors.New("queue: full")

	// ErrInvalidCapacity is returned by New and Resize for capacities
	// below 1.
	ErrInvalidCapacity = errors.New("queue: capacity must be at least 1")
)

// Item wraps a raw message with its enqueue time. Items exist only
// inside the queue and are discarded on dequeue.
type Item struct {
	Msg        model.RawMessage
	EnqueuedAt time.Time
}

// Queue is a bounded FIFO of unprocessed messages. All methods are safe
// for concurrent use; the fetch loop enqueues while the worker dequeues.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	capacity int

	// wake is signalled (non-blocking) on every enqueue so a waiting
	// Dequeue can re-check the queue.
	wake chan struct{}
}

// New creates a queue with the given maximum depth.
func New(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	return &Queue{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Enqueue appends a message to the queue. It never blocks: when the
// queue is at capacity it returns ErrQueueFull.
func (q *Queue) Enqueue(msg model.RawMessage) error {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, Item{Msg: msg, EnqueuedAt: time.Now()})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes and returns the oldest item. If the queue is empty it
// waits up to timeout for an item to arrive; ok is false on timeout.
func (q *Queue) Dequeue(timeout time.Duration) (Item, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-deadline.C:
			return Item{}, false
		}
	}
}

// Size returns the number of queued items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the current maximum depth.
func (q *Queue) Capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// Resize changes the queue's maximum depth, migrating existing items in
// FIFO order. Shrinking below the current size is allowed: queued items
// are retained, and enqueues are rejected until the queue drains under
// the new capacity.
func (q *Queue) Resize(capacity int) error {
	if capacity < 1 {
		return ErrInvalidCapacity
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	migrated := make([]Item, len(q.items), max(capacity, len(q.items)))
	copy(migrated, q.items)
	q.items = migrated
	q.capacity = capacity
	return nil
}
