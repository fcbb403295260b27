package navigation

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// queue serializes navigations. A weighted semaphore of size one hands the
// slot to waiters in arrival order, and a waiter leaves the queue when its
// context is done.
type queue struct {
	sem     *semaphore.Weighted
	waiting atomic.Int64
}

func newQueue() *queue {
	return &queue{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the caller owns the navigation slot or ctx is done.
func (q *queue) Lock(ctx context.Context) error {
	if q.sem.TryAcquire(1) {
		return nil
	}
	q.waiting.Add(1)
	defer q.waiting.Add(-1)
	return q.sem.Acquire(ctx, 1)
}

// Unlock releases the slot to the next waiter.
func (q *queue) Unlock() {
	q.sem.Release(1)
}

// Waiting returns the number of navigations queued behind the current one.
func (q *queue) Waiting() int {
	return int(q.waiting.Load())
}
