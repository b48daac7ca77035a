package gateway

// Status represents a ToolRun lifecycle state
type Status string

const (
	StatusStarted          Status = "started"
	StatusApprovalRequired Status = "approval_required"
	StatusOK               Status = "ok"
	StatusError            Status = "error"
	StatusTimeout          Status = "timeout"
	StatusDenied           Status = "denied"
)

// transitions is the closed transition table for ToolRun states.
// Any transition not listed here is rejected before it reaches the store,
// so an invalid status value can never be persisted.
var transitions = map[Status][]Status{
	StatusStarted:          {StatusApprovalRequired, StatusOK, StatusError, StatusTimeout, StatusDenied},
	StatusApprovalRequired: {StatusOK, StatusError, StatusTimeout, StatusDenied},
}

// IsTerminal reports whether a status is final. Terminal runs are immutable.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusOK, StatusError, StatusTimeout, StatusDenied:
		return true
	}
	return false
}

// IsValid reports whether s is a known status value
func (s Status) IsValid() bool {
	switch s {
	case StatusStarted, StatusApprovalRequired, StatusOK, StatusError, StatusTimeout, StatusDenied:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits from -> to
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
