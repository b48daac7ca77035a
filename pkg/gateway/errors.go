package gateway

import "fmt"

// ErrorCode classifies every non-ok outcome the gateway can produce
type ErrorCode string

const (
	CodeUnknownTool     ErrorCode = "unknown_tool"
	CodeSchemaError     ErrorCode = "schema_error"
	CodePolicyViolation ErrorCode = "policy_violation"
	CodeApprovalDenied  ErrorCode = "approval_denied"
	CodeHandlerError    ErrorCode = "handler_error"
	CodeTimeout         ErrorCode = "timeout"
	CodeConflict        ErrorCode = "conflict"
	CodeNotFound        ErrorCode = "not_found"
	CodeInternal        ErrorCode = "internal_error"
)

// ToolError is the structured error carried in every non-ok result envelope.
// Details holds enough context to reconstruct the decision (which rule,
// which bound, which schema field).
type ToolError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewToolError creates a structured tool error
func NewToolError(code ErrorCode, message string, details map[string]interface{}) *ToolError {
	if details == nil {
		details = map[string]interface{}{}
	}
	return &ToolError{Code: code, Message: message, Details: details}
}

// AsJSON returns the error as a plain map for persistence
func (e *ToolError) AsJSON() map[string]interface{} {
	if e == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"code":    string(e.Code),
		"message": e.Message,
		"details": e.Details,
	}
}
