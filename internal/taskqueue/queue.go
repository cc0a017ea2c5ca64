// Package taskqueue implements the thread-safe bounded MPMC queue used by
// the async log sink's record backlog. The FIFO storage itself is github.com/eapache/queue's growable
// ring buffer; this package adds the capacity bound, close semantics, and
// the not-full/not-empty condition variables.
package taskqueue

import (
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/pkg/errors"
)

// ErrClosed is returned by Push/Pop once Close has been called.
var ErrClosed = errors.New("taskqueue: closed")

// ErrTimeout is returned by PopFrontTimeout when no item arrives in time.
var ErrTimeout = errors.New("taskqueue: timeout")

// Queue is a blocking, bounded, FIFO queue of interface{} items.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	items    *queue.Queue
	cap      int
	closed   bool
}

// New creates a Queue bounded to cap items. cap<=0 means unbounded.
func New(cap int) *Queue {
	q := &Queue{items: queue.New(), cap: cap}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Size returns the current number of queued items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Capacity returns the configured bound (0 = unbounded).
func (q *Queue) Capacity() int { return q.cap }

// PushBack blocks while the queue is full, then appends item at the tail.
func (q *Queue) PushBack(item interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.cap > 0 && q.items.Length() >= q.cap {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrClosed
	}
	q.items.Add(item)
	q.notEmpty.Signal()
	return nil
}

// PushFront blocks while the queue is full, then prepends item at the
// head, ahead of fresh arrivals.
func (q *Queue) PushFront(item interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.cap > 0 && q.items.Length() >= q.cap {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrClosed
	}
	rebuilt := queue.New()
	rebuilt.Add(item)
	for q.items.Length() > 0 {
		rebuilt.Add(q.items.Remove())
	}
	q.items = rebuilt
	q.notEmpty.Signal()
	return nil
}

// PopFront blocks until an item is available or the queue is closed.
func (q *Queue) PopFront() (interface{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.items.Length() == 0 {
		q.notEmpty.Wait()
	}
	if q.items.Length() == 0 {
		return nil, ErrClosed
	}
	item := q.items.Remove()
	q.notFull.Signal()
	return item, nil
}

// PopFrontTimeout blocks until an item is available, the queue is closed,
// or d elapses, whichever happens first.
func (q *Queue) PopFrontTimeout(d time.Duration) (interface{}, error) {
	deadline := time.Now().Add(d)

	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && q.items.Length() == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		// sync.Cond has no timed wait; emulate it with a timer that
		// broadcasts once remaining elapses.
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		})
		q.notEmpty.Wait()
		timer.Stop()
	}
	if q.items.Length() == 0 {
		if q.closed {
			return nil, ErrClosed
		}
		return nil, ErrTimeout
	}
	item := q.items.Remove()
	q.notFull.Signal()
	return item, nil
}

// Close drains the queue, marks it closed, and wakes every blocked waiter.
// Subsequent Push/Pop calls return ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = queue.New()
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}

// Clear drops all queued items without closing the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = queue.New()
	q.notFull.Broadcast()
}

// FlushOneConsumer wakes exactly one blocked PopFront/PopFrontTimeout
// waiter without pushing an item, so a single drainer notices the closed
// flag promptly during shutdown.
func (q *Queue) FlushOneConsumer() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notEmpty.Signal()
}
