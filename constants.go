package iosched

import "github.com/ehrlich-b/go-iosched/internal/constants"

// Re-export constants for public API
const (
	DefaultElevator         = constants.DefaultElevator
	DefaultQueueDepth       = constants.DefaultQueueDepth
	DefaultLogicalBlockSize = constants.DefaultLogicalBlockSize
	SectorSize              = constants.SectorSize
	AutoAssignDeviceID      = constants.AutoAssignDeviceID
)
