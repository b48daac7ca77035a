package gateway

import "time"

// Meta carries timing and provenance information for a result
type Meta struct {
	LatencyMS int       `json:"latency_ms"`
	TimeoutMS int       `json:"timeout_ms,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	Source    string    `json:"source"`
}

// Result is the standardized envelope returned by every gateway entry point
type Result struct {
	Status      Status                 `json:"status"`
	ToolName    string                 `json:"tool_name"`
	ToolVersion string                 `json:"tool_version"`
	RequestID   string                 `json:"request_id"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Err         *ToolError             `json:"error,omitempty"`
	Meta        Meta                   `json:"meta"`

	// storeErr records a store write that failed mid-command. Not part of
	// the envelope; boundary owners read it through InternalError.
	storeErr error
}

// InternalError reports a store write that failed inside this command. The
// boundary owner returns it from its transaction closure so all of the
// command's writes roll back together; a partial audit trail must never
// commit.
func (r Result) InternalError() error {
	return r.storeErr
}

// RunContext identifies who is invoking a tool and over which channel.
// Profiles and sessions are created out of band and only referenced here.
type RunContext struct {
	ProfileID string
	SessionID string
	Channel   string
}

// Audit event types, one per notable occurrence. Events are append-only.
const (
	EventToolCalled        = "tool_called"
	EventToolSucceeded     = "tool_succeeded"
	EventToolFailed        = "tool_failed"
	EventPolicyViolation   = "policy_violation"
	EventApprovalRequested = "approval_requested"
	EventApprovalGranted   = "approval_granted"
	EventApprovalDenied    = "approval_denied"
)
