// Package timerheap implements an indexed binary min-heap of per-fd
// deadlines, used by the reactor to expire idle connections.
package timerheap

import (
	"container/heap"
	"time"
)

// node is one entry in the heap: a callback due to fire at deadline
// unless adjusted or deleted first.
type node struct {
	fd       int
	deadline time.Time
	cb       func()
}

// Heap is an indexed min-heap of fd deadlines, implementing
// heap.Interface directly so every Swap keeps indexOf consistent without
// a separate rebuild pass. The zero value is not usable; construct with
// New.
type Heap struct {
	items   []*node
	indexOf map[int]int
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{indexOf: make(map[int]int)}
}

func (h *Heap) Len() int { return len(h.items) }

func (h *Heap) Less(i, j int) bool { return h.items[i].deadline.Before(h.items[j].deadline) }

func (h *Heap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.indexOf[h.items[i].fd] = i
	h.indexOf[h.items[j].fd] = j
}

func (h *Heap) Push(x any) {
	n := x.(*node)
	h.indexOf[n.fd] = len(h.items)
	h.items = append(h.items, n)
}

func (h *Heap) Pop() any {
	old := h.items
	n := len(old)
	last := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	delete(h.indexOf, last.fd)
	return last
}

// Add registers fd with the given timeout from now and callback. If fd
// is already present its deadline and callback are overwritten and the
// heap re-sifted, rather than creating a duplicate entry.
func (h *Heap) Add(fd int, timeout time.Duration, cb func()) {
	if idx, ok := h.indexOf[fd]; ok {
		h.items[idx].deadline = time.Now().Add(timeout)
		h.items[idx].cb = cb
		heap.Fix(h, idx)
		return
	}
	heap.Push(h, &node{fd: fd, deadline: time.Now().Add(timeout), cb: cb})
}

// Adjust resets fd's deadline to now+timeout. No-op if fd isn't present.
func (h *Heap) Adjust(fd int, timeout time.Duration) {
	idx, ok := h.indexOf[fd]
	if !ok {
		return
	}
	h.items[idx].deadline = time.Now().Add(timeout)
	heap.Fix(h, idx)
}

// Del removes fd's entry without invoking its callback. No-op if absent.
func (h *Heap) Del(fd int) {
	idx, ok := h.indexOf[fd]
	if !ok {
		return
	}
	heap.Remove(h, idx)
}

// DoWork invokes fd's callback immediately, if present, then removes it.
func (h *Heap) DoWork(fd int) {
	idx, ok := h.indexOf[fd]
	if !ok {
		return
	}
	cb := h.items[idx].cb
	heap.Remove(h, idx)
	if cb != nil {
		cb()
	}
}

// Tick invokes and pops every entry whose deadline has already passed.
func (h *Heap) Tick() {
	now := time.Now()
	for len(h.items) > 0 && !h.items[0].deadline.After(now) {
		top := heap.Pop(h).(*node)
		if top.cb != nil {
			top.cb()
		}
	}
}

// GetNextTick fires Tick, then returns the duration until the new
// soonest deadline, or -1 if the heap is empty.
func (h *Heap) GetNextTick() time.Duration {
	h.Tick()
	if len(h.items) == 0 {
		return -1
	}
	d := time.Until(h.items[0].deadline)
	if d < 0 {
		return 0
	}
	return d
}

// Clear removes every entry without invoking callbacks.
func (h *Heap) Clear() {
	h.items = h.items[:0]
	h.indexOf = make(map[int]int)
}
