// Package bqueue implements a bounded, blocking, double-ended FIFO used
// as the hand-off point between producer and consumer goroutines (the
// reactor's task queue, the logger's line queue).
package bqueue

import (
	"sync"
	"time"

	"github.com/ef-ds/deque"
)

// Queue is a bounded generic blocking queue. Capacity must be > 0.
// PushBack/PushFront block while the queue is full; Pop blocks while the
// queue is empty. Close is idempotent and wakes every blocked goroutine;
// after Close, Pop drains whatever remains before reporting failure.
type Queue[T any] struct {
	mu           sync.Mutex
	notEmpty     sync.Cond
	notFull      sync.Cond
	d            deque.Deque
	capacity     int
	closed       bool
}

// New returns a Queue with the given capacity.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		panic("bqueue: capacity must be > 0")
	}
	q := &Queue[T]{capacity: capacity}
	q.notEmpty.L = &q.mu
	q.notFull.L = &q.mu
	return q
}

// PushBack appends item, blocking while the queue is at capacity.
func (q *Queue[T]) PushBack(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.d.Len() >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return
	}
	q.d.PushBack(item)
	q.notEmpty.Signal()
}

// PushFront prepends item, blocking while the queue is at capacity.
func (q *Queue[T]) PushFront(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.d.Len() >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return
	}
	q.d.PushFront(item)
	q.notEmpty.Signal()
}

// Pop removes and returns the front item, blocking while the queue is
// empty. ok is false only once the queue is both closed and drained.
func (q *Queue[T]) Pop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.d.Len() == 0 {
		if q.closed {
			return item, false
		}
		q.notEmpty.Wait()
	}
	v, _ := q.d.PopFront()
	q.notFull.Signal()
	return v.(T), true
}

// PopWithTimeout behaves like Pop but gives up and returns ok=false if no
// item becomes available within d.
func (q *Queue[T]) PopWithTimeout(d time.Duration) (item T, ok bool) {
	deadline := time.Now().Add(d)
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.d.Len() == 0 {
		if q.closed {
			return item, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return item, false
		}
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		})
		q.notEmpty.Wait()
		timer.Stop()
	}
	v, _ := q.d.PopFront()
	q.notFull.Signal()
	return v.(T), true
}

// Flush wakes one blocked consumer without enqueueing anything — used to
// force a consumer loop to observe a closed queue or external signal
// without waiting for a real item.
func (q *Queue[T]) Flush() {
	q.mu.Lock()
	q.notEmpty.Signal()
	q.mu.Unlock()
}

// Close marks the queue closed and wakes every blocked goroutine.
// Already-queued items are not discarded: Pop keeps draining them and
// only reports failure once the queue is both closed and empty.
// Idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Len reports the current number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.d.Len()
}

// Empty reports whether the queue currently holds no items.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Full reports whether the queue is currently at capacity.
func (q *Queue[T]) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.d.Len() >= q.capacity
}
