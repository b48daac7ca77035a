package store

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrRunFinalized indicates an attempt to modify a tool run that has
	// already reached a terminal status. Terminal runs are immutable.
	ErrRunFinalized = errors.New("tool run already finalized")

	// ErrApprovalConflict indicates a resolution attempt against an approval
	// that is no longer pending. Duplicate approve/deny commands surface this
	// instead of re-executing anything.
	ErrApprovalConflict = errors.New("approval already resolved")

	// ErrInvalidStatus indicates a status value outside the state machine
	ErrInvalidStatus = errors.New("invalid status value")
)
