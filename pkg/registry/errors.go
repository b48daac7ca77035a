package registry

import (
	"fmt"
	"strings"
)

// UnknownToolError indicates a lookup for a tool that was never registered
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool '%s'", e.Name)
}

// InvalidModeError indicates a mode outside the closed enumeration
type InvalidModeError struct {
	Mode string
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid tool mode '%s'", e.Mode)
}

// ValidationError carries the individual schema violations for a payload.
// Side is "input" or "output".
type ValidationError struct {
	Tool   string
	Side   string
	Issues []string
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed for '%s': %s", e.Side, e.Tool, strings.Join(e.Issues, "; "))
}
