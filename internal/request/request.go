// Package request defines the block requests queued on a device and the
// arena that owns them while they wait for dispatch.
package request

import (
	"fmt"
	"time"
)

// Direction is the scheduling class of a request
type Direction uint8

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Op is the block operation carried by a request
type Op uint8

const (
	OpRead Op = iota
	OpWrite
	OpFlush
	OpDiscard
	OpWriteZeroes
)

// Direction classifies the op. Everything that modifies or orders device
// state is scheduled with writes.
func (op Op) Direction() Direction {
	if op == OpRead {
		return Read
	}
	return Write
}

func (op Op) String() string {
	switch op {
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpFlush:
		return "FLUSH"
	case OpDiscard:
		return "DISCARD"
	case OpWriteZeroes:
		return "WRITE_ZEROES"
	default:
		return fmt.Sprintf("OP_%d", uint8(op))
	}
}

// Request is a single block I/O request. The scheduler only ever sees its
// Handle and Direction; everything else belongs to the device layer.
type Request struct {
	Op        Op
	Sector    uint64 // start sector, 512-byte units
	NrSectors uint32
	Data      []byte // read destination or write source

	// EnqueueTime is stamped on admission
	EnqueueTime time.Time

	// Done is invoked exactly once when the request completes, is merged
	// away, or is dropped at teardown. May be nil.
	Done func(err error)

	handle Handle
}

// Handle returns the arena handle assigned on insertion, or NilHandle
func (r *Request) Handle() Handle {
	return r.handle
}

// Direction is shorthand for r.Op.Direction()
func (r *Request) Direction() Direction {
	return r.Op.Direction()
}

// EndSector returns the first sector after the request
func (r *Request) EndSector() uint64 {
	return r.Sector + uint64(r.NrSectors)
}

// Complete calls Done once and clears it
func (r *Request) Complete(err error) {
	if r.Done == nil {
		return
	}
	done := r.Done
	r.Done = nil
	done(err)
}
