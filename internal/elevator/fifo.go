package elevator

import "github.com/ehrlich-b/go-iosched/internal/request"

// FIFO is an arrival-ordered sequence of request handles. Removal keeps
// the relative order of the remaining entries.
type FIFO struct {
	items []request.Handle
	head  int
}

// PushBack appends h at the tail
func (f *FIFO) PushBack(h request.Handle) {
	f.items = append(f.items, h)
}

// Front returns the oldest handle without removing it
func (f *FIFO) Front() (request.Handle, bool) {
	if f.Len() == 0 {
		return request.NilHandle, false
	}
	return f.items[f.head], true
}

// PopFront removes and returns the oldest handle
func (f *FIFO) PopFront() (request.Handle, bool) {
	h, ok := f.Front()
	if !ok {
		return h, false
	}
	f.items[f.head] = request.NilHandle
	f.head++
	f.compact()
	return h, true
}

// Remove erases h. It reports false if h is not queued.
func (f *FIFO) Remove(h request.Handle) bool {
	for i := f.head; i < len(f.items); i++ {
		if f.items[i] != h {
			continue
		}
		if i == f.head {
			f.PopFront()
			return true
		}
		copy(f.items[i:], f.items[i+1:])
		f.items[len(f.items)-1] = request.NilHandle
		f.items = f.items[:len(f.items)-1]
		return true
	}
	return false
}

// Len returns the number of queued handles
func (f *FIFO) Len() int {
	return len(f.items) - f.head
}

// Empty reports whether nothing is queued
func (f *FIFO) Empty() bool {
	return f.Len() == 0
}

// Handles returns a copy of the queued handles, oldest first
func (f *FIFO) Handles() []request.Handle {
	out := make([]request.Handle, f.Len())
	copy(out, f.items[f.head:])
	return out
}

// compact drops the consumed prefix once it dominates the backing array
func (f *FIFO) compact() {
	switch {
	case f.head == len(f.items):
		f.items = f.items[:0]
		f.head = 0
	case f.head >= 32 && f.head*2 >= len(f.items):
		n := copy(f.items, f.items[f.head:])
		f.items = f.items[:n]
		f.head = 0
	}
}
