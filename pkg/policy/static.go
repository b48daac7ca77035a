package policy

// Static is an engine source that never changes, used by one-shot commands
// where the config is loaded once and the process exits.
type Static struct {
	engine *Engine
}

// NewStatic wraps cfg in a fixed engine source
func NewStatic(cfg *Config) *Static {
	return &Static{engine: NewEngine(cfg)}
}

// Current returns the fixed engine
func (s *Static) Current() *Engine {
	return s.engine
}
