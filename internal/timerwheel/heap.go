// Package timerwheel implements the monotonic min-heap of connection idle
// deadlines the reactor consults on every poll iteration. The heap element
// is a bare (deadline, fd, generation) tuple, and cancellation is lazy:
// a fd->generation map tombstones stale entries instead of heap.Remove,
// since the reactor adjusts and cancels far more often than entries ever
// expire.
package timerwheel

import (
	"container/heap"
	"sync"
	"time"
)

// entry is one scheduled expiry.
type entry struct {
	deadline time.Time
	fd       int
	gen      uint64
	index    int // heap.Interface bookkeeping
}

type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// OnExpire is invoked by Tick for every entry whose deadline has elapsed
// and whose generation is still the live one for its fd.
type OnExpire func(fd int)

// Heap is a generation-tagged timer min-heap, safe for concurrent use.
type Heap struct {
	mu           sync.Mutex
	h            entryHeap
	gen          map[int]uint64
	sentinelWait time.Duration
}

// New returns an empty Heap. sentinelWait bounds the value NextWaitMS
// returns when nothing is scheduled, so a caller polling in a loop still
// wakes periodically.
func New(sentinelWait time.Duration) *Heap {
	if sentinelWait <= 0 {
		sentinelWait = time.Second
	}
	return &Heap{gen: make(map[int]uint64), sentinelWait: sentinelWait}
}

// Add schedules fd to expire after timeoutMS milliseconds, bumping fd's
// generation so any entry already in the heap for fd becomes a tombstone.
func (h *Heap) Add(fd int, timeoutMS int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gen[fd]++
	e := &entry{
		deadline: time.Now().Add(time.Duration(timeoutMS) * time.Millisecond),
		fd:       fd,
		gen:      h.gen[fd],
	}
	heap.Push(&h.h, e)
}

// Adjust is semantically identical to Add: re-arming a timer is always a
// generation bump plus a fresh push, never a decrease-key.
func (h *Heap) Adjust(fd int, timeoutMS int64) {
	h.Add(fd, timeoutMS)
}

// Del removes fd from the live-generation map; any entries already in the
// heap for fd become tombstones and are discarded lazily by Tick.
func (h *Heap) Del(fd int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.gen, fd)
}

// Tick pops every entry whose deadline has elapsed, invoking onExpire for
// each whose generation still matches the live map; stale (tombstoned)
// entries are discarded silently.
func (h *Heap) Tick(onExpire OnExpire) {
	now := time.Now()
	var expired []int

	h.mu.Lock()
	for h.h.Len() > 0 {
		top := h.h[0]
		if top.deadline.After(now) {
			break
		}
		heap.Pop(&h.h)
		if live, ok := h.gen[top.fd]; ok && live == top.gen {
			delete(h.gen, top.fd)
			expired = append(expired, top.fd)
		}
	}
	h.mu.Unlock()

	for _, fd := range expired {
		onExpire(fd)
	}
}

// NextWaitMS returns how long, in milliseconds, the reactor's poll call
// should block: the time until the earliest live deadline, 0 if one has
// already elapsed, or the sentinel wait if the heap is empty.
func (h *Heap) NextWaitMS() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	for h.h.Len() > 0 {
		top := h.h[0]
		if live, ok := h.gen[top.fd]; !ok || live != top.gen {
			heap.Pop(&h.h)
			continue
		}
		wait := time.Until(top.deadline)
		if wait < 0 {
			return 0
		}
		return wait.Milliseconds()
	}
	return h.sentinelWait.Milliseconds()
}

// Len reports the number of entries still on the heap, tombstones
// included. Used only by tests asserting heap hygiene.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.h.Len()
}
