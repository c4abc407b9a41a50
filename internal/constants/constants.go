package constants

import "time"

// Default configuration constants
const (
	// DefaultElevator is the scheduling policy installed on new queues
	DefaultElevator = "anxiety"

	// DefaultQueueDepth is the number of requests a queue holds before
	// admission fails
	DefaultQueueDepth = 128

	// DefaultLogicalBlockSize is the default logical block size in bytes
	DefaultLogicalBlockSize = 512

	// SectorSize is the unit of Request.Sector and Request.NrSectors
	SectorSize = 512

	// AutoAssignDeviceID asks CreateDevice to pick the next free ID
	AutoAssignDeviceID = -1
)

// Timing constants for device lifecycle
const (
	// RunnerStopTimeout bounds how long Close waits for in-flight I/O
	RunnerStopTimeout = 5 * time.Second
)

// Memory allocation constants
const (
	// ZeroBufferSize is the chunk size used when emulating discard and
	// write-zeroes on backends without native support
	ZeroBufferSize = 128 * 1024
)
