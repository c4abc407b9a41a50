package iosched

import (
	"github.com/ehrlich-b/go-iosched/internal/interfaces"
	"github.com/ehrlich-b/go-iosched/internal/request"
)

// Backend is the storage a device executes dispatched requests against
type Backend = interfaces.Backend

// Optional backend capabilities, detected with type assertions
type (
	DiscardBackend     = interfaces.DiscardBackend
	WriteZeroesBackend = interfaces.WriteZeroesBackend
	SyncBackend        = interfaces.SyncBackend
	StatBackend        = interfaces.StatBackend
)

// Request types shared with the scheduler
type (
	Request   = request.Request
	Handle    = request.Handle
	Op        = request.Op
	Direction = request.Direction
)

const (
	OpRead        = request.OpRead
	OpWrite       = request.OpWrite
	OpFlush       = request.OpFlush
	OpDiscard     = request.OpDiscard
	OpWriteZeroes = request.OpWriteZeroes

	DirectionRead  = request.Read
	DirectionWrite = request.Write

	NilHandle = request.NilHandle
)

// Logger is the minimal printf-style logger accepted in Options.
// *logging.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}
