// Package dispatch provides the queue that funnels work from network
// goroutines onto the single goroutine allowed to touch the scene graph.
//
// Producers call Enqueue from any goroutine and never block. The owner
// goroutine calls Drain on its own schedule, typically once per tick, with a
// bound on how many callbacks run so a burst of traffic cannot starve the
// tick. A panicking callback is logged and skipped; it never aborts the
// drain or the owner goroutine.
package dispatch

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Queue is a FIFO of zero-argument callbacks shared between producer
// goroutines and one consumer.
type Queue struct {
	mu  sync.Mutex
	fns []func()

	logger *slog.Logger
}

// New creates an empty queue.
func New(logger *slog.Logger) *Queue {
	return &Queue{logger: logger}
}

// Enqueue appends fn. Safe from any goroutine; never blocks.
func (q *Queue) Enqueue(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

// Len returns the number of pending callbacks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}

// Drain runs up to max pending callbacks in enqueue order and returns how
// many ran. max <= 0 drains everything currently queued. Callbacks enqueued
// during the drain wait for the next one. Only the owner goroutine may call
// Drain.
func (q *Queue) Drain(max int) int {
	q.mu.Lock()
	n := len(q.fns)
	if max > 0 && n > max {
		n = max
	}
	batch := q.fns[:n:n]
	q.fns = q.fns[n:]
	if len(q.fns) == 0 {
		q.fns = nil
	}
	q.mu.Unlock()

	for _, fn := range batch {
		q.run(fn)
	}
	return n
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("dispatch callback panic",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}
