package jobs

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Enqueue after the queue has been closed.
var ErrQueueClosed = errors.New("jobs: queue closed")

// Queue is the two-operation hand-off between producers and worker
// loops. Enqueue is non-blocking; Dequeue blocks until an item is
// available, the context is cancelled, or the queue is closed.
// A nil envelope with a nil error signals "queue closed" and is treated
// by the worker as a shutdown request.
//
// The reference implementation is the in-process MemoryQueue; a durable
// broker can implement the same contract for multi-process deployments.
type Queue interface {
	Enqueue(env *JobEnvelope) error
	Dequeue(ctx context.Context) (*JobEnvelope, error)
}

// MemoryQueue is an unbounded in-memory FIFO queue supporting many
// producers and multiple competing consumers. Ordering is FIFO per
// consumer; there is no cross-consumer ordering guarantee.
//
// Enqueue never blocks, so the queue grows without bound under
// sustained overload. Production deployments needing backpressure or
// durability should swap in a broker behind the Queue contract.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []*JobEnvelope
	closed bool

	// signal carries at most one pending wakeup for blocked consumers;
	// done is closed exactly once on Close.
	signal chan struct{}
	done   chan struct{}
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends an envelope to the queue. It returns ErrQueueClosed
// after Close.
func (q *MemoryQueue) Enqueue(env *JobEnvelope) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, env)
	q.mu.Unlock()

	q.pulse()
	return nil
}

// Dequeue removes and returns the oldest envelope. It blocks until an
// item is available, returns (nil, ctx.Err()) on cancellation, and
// (nil, nil) once the queue is closed and drained.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*JobEnvelope, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()

			// Hand the wakeup on so a second blocked consumer isn't
			// left waiting while items remain.
			if remaining > 0 {
				q.pulse()
			}
			return env, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
		case <-q.signal:
		}
	}
}

// Close marks the queue closed and wakes all blocked consumers.
// Items already enqueued are still drained before Dequeue reports
// closure. Close is idempotent.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
}

// Len returns the number of envelopes currently queued.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) pulse() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
