// Package anxiety implements the anxiety I/O scheduling policy.
//
// Requests are kept in two FIFOs, one per direction. Reads are dispatched
// first, but every read dispatched while writes wait bumps a starvation
// counter; once the counter exceeds max_writes_starved the head write is
// dispatched and the counter resets. With the default threshold of 4, at
// most five reads pass a queued write.
package anxiety

import (
	"sync/atomic"

	"github.com/ehrlich-b/go-iosched/internal/elevator"
	"github.com/ehrlich-b/go-iosched/internal/request"
)

const (
	// Name is the registered elevator name
	Name = "anxiety"

	// DefaultMaxWritesStarved is the number of times reads may starve a write
	DefaultMaxWritesStarved uint8 = 4
)

func init() {
	elevator.MustRegister(Name, func() (elevator.Elevator, error) {
		return New()
	})
}

// Scheduler is the per-queue anxiety state. Calls must be serialized by
// the owner, except for the tunable which is a single atomic word.
type Scheduler struct {
	queue         [2]elevator.FIFO // indexed by request.Direction
	writesStarved uint32

	maxWritesStarved atomic.Uint32
}

// New returns an empty scheduler with default tunables
func New() (*Scheduler, error) {
	s := &Scheduler{}
	s.maxWritesStarved.Store(uint32(DefaultMaxWritesStarved))
	return s, nil
}

func (s *Scheduler) Name() string { return Name }

// AddRequest appends h to the tail of the FIFO for dir
func (s *Scheduler) AddRequest(h request.Handle, dir request.Direction) {
	s.queue[dir].PushBack(h)
}

// Dispatch removes and returns the next request. It reports false when
// both FIFOs are empty, and also once when writes are owed a turn but none
// is queued: that call only resets the counter, and the next one serves a
// read. Callers draining the scheduler should loop on Pending, not on the
// result of Dispatch.
func (s *Scheduler) Dispatch() (request.Handle, bool) {
	dir, ok := s.choose()
	if !ok {
		return request.NilHandle, false
	}
	return s.queue[dir].PopFront()
}

// choose applies the starvation rule and updates the counter
func (s *Scheduler) choose() (request.Direction, bool) {
	reads, writes := &s.queue[request.Read], &s.queue[request.Write]

	// Reads go first until the counter passes the limit
	starved := s.writesStarved > s.maxWritesStarved.Load()

	if !starved && !reads.Empty() {
		s.writesStarved++
		return request.Read, true
	}

	if !writes.Empty() {
		s.writesStarved = 0
		return request.Write, true
	}

	s.writesStarved = 0
	return 0, false
}

// MergedRequests drops next, which was absorbed into another request
func (s *Scheduler) MergedRequests(next request.Handle, dir request.Direction) {
	s.queue[dir].Remove(next)
}

// Pending returns the number of queued requests in both directions
func (s *Scheduler) Pending() int {
	return s.queue[request.Read].Len() + s.queue[request.Write].Len()
}

// Queued returns the queued handles for dir, oldest first
func (s *Scheduler) Queued(dir request.Direction) []request.Handle {
	return s.queue[dir].Handles()
}

// WritesStarved returns the current starvation counter
func (s *Scheduler) WritesStarved() uint32 {
	return s.writesStarved
}

// MaxWritesStarved returns the current threshold
func (s *Scheduler) MaxWritesStarved() uint8 {
	return uint8(s.maxWritesStarved.Load())
}

// SetMaxWritesStarved replaces the threshold; subsequent dispatches use it
func (s *Scheduler) SetMaxWritesStarved(v uint8) {
	s.maxWritesStarved.Store(uint32(v))
}

var _ elevator.Elevator = (*Scheduler)(nil)
