package request

import (
	"errors"
	"fmt"
)

// ErrTableFull is returned by Insert when every slot is occupied
var ErrTableFull = errors.New("request table full")

// Handle identifies a request in a Table. The low 32 bits are the slot
// index, the high 32 bits the slot generation, so a handle to a removed
// request never resolves to a later occupant of the same slot.
type Handle uint64

// NilHandle is never returned by Insert
const NilHandle Handle = 0

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

func (h Handle) index() uint32 { return uint32(h) }
func (h Handle) gen() uint32   { return uint32(h >> 32) }

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.index(), h.gen())
}

type slot struct {
	gen uint32
	rq  *Request
}

// Table is a fixed-capacity arena of queued requests. It is not safe for
// concurrent use; the owning queue serializes access.
type Table struct {
	slots []slot
	free  []uint32
	count int
}

// NewTable creates a table that holds at most capacity requests
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = 1
	}
	t := &Table{
		slots: make([]slot, capacity),
		free:  make([]uint32, capacity),
	}
	// Pop from the tail, so hand out low indexes first
	for i := range t.free {
		t.free[i] = uint32(capacity - 1 - i)
	}
	return t
}

// Insert stores rq and assigns its handle
func (t *Table) Insert(rq *Request) (Handle, error) {
	if len(t.free) == 0 {
		return NilHandle, ErrTableFull
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	s := &t.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.rq = rq
	t.count++

	rq.handle = makeHandle(idx, s.gen)
	return rq.handle, nil
}

// Get resolves a handle. Stale and foreign handles report false.
func (t *Table) Get(h Handle) (*Request, bool) {
	s := t.lookup(h)
	if s == nil {
		return nil, false
	}
	return s.rq, true
}

// Remove frees the slot held by h and returns its request
func (t *Table) Remove(h Handle) (*Request, bool) {
	s := t.lookup(h)
	if s == nil {
		return nil, false
	}
	rq := s.rq
	s.rq = nil
	t.free = append(t.free, h.index())
	t.count--
	rq.handle = NilHandle
	return rq, true
}

// Len returns the number of stored requests
func (t *Table) Len() int {
	return t.count
}

// Cap returns the table capacity
func (t *Table) Cap() int {
	return len(t.slots)
}

// Each calls fn for every stored request in slot order
func (t *Table) Each(fn func(*Request)) {
	for i := range t.slots {
		if t.slots[i].rq != nil {
			fn(t.slots[i].rq)
		}
	}
}

func (t *Table) lookup(h Handle) *slot {
	if h == NilHandle || int(h.index()) >= len(t.slots) {
		return nil
	}
	s := &t.slots[h.index()]
	if s.rq == nil || s.gen != h.gen() {
		return nil
	}
	return s
}
