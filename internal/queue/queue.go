// Package queue provides the bounded delivery queue decoupling scrape
// cadence from sink insert latency.
package queue

import "context"

// Batch is one pending insert: a statement and the rows to bind to it.
type Batch struct {
	Statement string
	Rows      [][]any
}

// Queue is a bounded FIFO with one producer and one consumer. Enqueue
// blocks when the queue is full, Dequeue blocks when it is empty; both
// give up when their context is cancelled.
type Queue struct {
	items chan Batch
}

// New creates a queue holding at most capacity batches.
func New(capacity int) *Queue {
	return &Queue{items: make(chan Batch, capacity)}
}

// Enqueue appends a batch, blocking while the queue is at capacity.
func (q *Queue) Enqueue(ctx context.Context, b Batch) error {
	select {
	case q.items <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes the oldest batch, blocking while the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (Batch, error) {
	select {
	case b := <-q.items:
		return b, nil
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	}
}

// Len reports the number of batches currently buffered.
func (q *Queue) Len() int { return len(q.items) }

// Cap reports the fixed capacity.
func (q *Queue) Cap() int { return cap(q.items) }
