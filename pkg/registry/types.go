package registry

import "context"

// Mode is the closed enumeration of execution modes
type Mode string

const (
	ModeReadOnly     Mode = "read_only"
	ModeDraft        Mode = "draft"
	ModeExecuteGated Mode = "execute_gated"
)

// IsValid reports whether m is a known execution mode
func (m Mode) IsValid() bool {
	switch m {
	case ModeReadOnly, ModeDraft, ModeExecuteGated:
		return true
	}
	return false
}

// ParseMode parses a mode string, failing on anything outside the enumeration
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.IsValid() {
		return "", &InvalidModeError{Mode: s}
	}
	return m, nil
}

// Handler is the capability interface every connector implements: a pure
// function of validated input to output. No policy or persistence logic.
type Handler func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)

// Spec is the static declaration of a tool: identity, execution mode,
// input/output contracts, and the handler capability.
type Spec struct {
	Name         string
	Version      string
	Mode         Mode
	Description  string
	InputSchema  map[string]interface{}
	OutputSchema map[string]interface{} // optional
	Handler      Handler
	TimeoutMS    int // per-tool deadline override, 0 means gateway default
}
