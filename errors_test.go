package iosched

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ehrlich-b/go-iosched/internal/anxiety"
	"github.com/ehrlich-b/go-iosched/internal/elevator"
	"github.com/ehrlich-b/go-iosched/internal/request"
)

func TestStructuredError(t *testing.T) {
	err := NewError("STORE_ATTR", ErrInvalidInput, "max_writes_starved out of range")

	if err.Op != "STORE_ATTR" {
		t.Errorf("Expected Op=STORE_ATTR, got %s", err.Op)
	}
	if err.Code != ErrInvalidInput {
		t.Errorf("Expected Code=ErrInvalidInput, got %s", err.Code)
	}

	expected := "iosched: max_writes_starved out of range (op=STORE_ATTR)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}

	devErr := NewDeviceError("ADD", 7, ErrQueueFull, "")
	expected = "iosched: queue full (op=ADD, dev=7)"
	if devErr.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, devErr.Error())
	}
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name  string
		inner error
		want  ErrorCode
	}{
		{"table full", request.ErrTableFull, ErrQueueFull},
		{"bad tunable", fmt.Errorf("store: %w", anxiety.ErrInvalidInput), ErrInvalidInput},
		{"unknown elevator", fmt.Errorf("%w: %q", elevator.ErrUnknownElevator, "cfq"), ErrUnknownElevator},
		{"bare code", ErrOutOfMemory, ErrOutOfMemory},
		{"wrapped code", fmt.Errorf("alloc: %w", ErrOutOfMemory), ErrOutOfMemory},
		{"anything else", errors.New("disk on fire"), ErrIOError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapError("TEST_OP", tt.inner)
			if err.Code != tt.want {
				t.Errorf("WrapError(%v).Code = %s, want %s", tt.inner, err.Code, tt.want)
			}
			if !errors.Is(err, tt.inner) {
				t.Errorf("wrapped error should satisfy errors.Is for %v", tt.inner)
			}
		})
	}

	if WrapError("NOOP", nil) != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestWrapErrorKeepsStructure(t *testing.T) {
	inner := NewDeviceError("ADD", 3, ErrQueueFull, "no free slot")
	err := WrapError("SUBMIT", inner)

	if err.Op != "SUBMIT" || err.DevID != 3 || err.Code != ErrQueueFull {
		t.Errorf("unexpected rewrap: %+v", err)
	}
}

func TestSentinelCodes(t *testing.T) {
	structuredErr := &Error{Code: ErrQueueClosed}

	if !errors.Is(structuredErr, ErrQueueClosed) {
		t.Error("Structured error should match code via errors.Is")
	}
	if errors.Is(structuredErr, ErrQueueFull) {
		t.Error("Structured error should not match a different code")
	}
	if !errors.Is(fmt.Errorf("ctx: %w", structuredErr), &Error{Code: ErrQueueClosed}) {
		t.Error("Wrapped structured error should match by code")
	}

	var sentinel error = ErrUnknownElevator
	if sentinel.Error() != "iosched: unknown elevator" {
		t.Errorf("Expected sentinel error message, got %q", sentinel.Error())
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("TEST", ErrNotMergeable, "gap between requests")

	if !IsCode(err, ErrNotMergeable) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, ErrIOError) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, ErrNotMergeable) {
		t.Error("IsCode should return false for nil error")
	}
}
