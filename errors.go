package iosched

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-iosched/internal/anxiety"
	"github.com/ehrlich-b/go-iosched/internal/elevator"
	"github.com/ehrlich-b/go-iosched/internal/request"
)

// Error is a structured scheduler error carrying the failed operation
// and a high-level code
type Error struct {
	Op    string    // Operation that failed (e.g., "SWITCH_ELEVATOR", "STORE_ATTR")
	DevID uint32    // Device ID (0 if not applicable)
	Code  ErrorCode // High-level error category
	Msg   string    // Human-readable message
	Inner error     // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	switch {
	case e.Op != "" && e.DevID != 0:
		return fmt.Sprintf("iosched: %s (op=%s, dev=%d)", msg, e.Op, e.DevID)
	case e.Op != "":
		return fmt.Sprintf("iosched: %s (op=%s)", msg, e.Op)
	default:
		return fmt.Sprintf("iosched: %s", msg)
	}
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches sentinel ErrorCodes and other *Error values by code
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case ErrorCode:
		return e.Code == t
	case *Error:
		return e.Code == t.Code
	}
	return false
}

// ErrorCode represents high-level error categories. Codes are errors
// themselves so they work as errors.Is targets.
type ErrorCode string

func (c ErrorCode) Error() string {
	return "iosched: " + string(c)
}

const (
	ErrOutOfMemory       ErrorCode = "out of memory"
	ErrInvalidInput      ErrorCode = "invalid input"
	ErrInvalidParameters ErrorCode = "invalid parameters"
	ErrQueueFull         ErrorCode = "queue full"
	ErrQueueClosed       ErrorCode = "queue closed"
	ErrUnknownElevator   ErrorCode = "unknown elevator"
	ErrNotMergeable      ErrorCode = "requests not mergeable"
	ErrIOError           ErrorCode = "I/O error"
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewDeviceError creates a new device-specific error
func NewDeviceError(op string, devID uint32, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		DevID: devID,
		Code:  code,
		Msg:   msg,
	}
}

// WrapError wraps err with an operation name, mapping known sentinel
// errors from the internal packages to codes
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var se *Error
	if errors.As(inner, &se) {
		return &Error{
			Op:    op,
			DevID: se.DevID,
			Code:  se.Code,
			Msg:   se.Msg,
			Inner: se.Inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  codeFor(inner),
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// codeFor maps an internal error to its category
func codeFor(err error) ErrorCode {
	var code ErrorCode
	switch {
	case errors.As(err, &code):
		return code
	case errors.Is(err, request.ErrTableFull):
		return ErrQueueFull
	case errors.Is(err, anxiety.ErrInvalidInput):
		return ErrInvalidInput
	case errors.Is(err, elevator.ErrUnknownElevator):
		return ErrUnknownElevator
	default:
		return ErrIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
