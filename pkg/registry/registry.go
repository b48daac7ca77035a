// Package registry holds the static mapping from tool name to execution
// mode, input/output schema, and handler capability. The table is built once
// at process start; adding a tool is purely additive.
package registry

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Tool is a registered, executable tool with compiled schemas
type Tool struct {
	Spec         Spec
	inputSchema  *gojsonschema.Schema
	outputSchema *gojsonschema.Schema
}

// Registry maps tool names to resolved tools
type Registry struct {
	tools map[string]*Tool
	mu    sync.RWMutex
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Register validates and adds a tool spec. Duplicate names are rejected so
// no existing entry can ever change shape.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if spec.Handler == nil {
		return fmt.Errorf("tool '%s' has no handler", spec.Name)
	}
	if !spec.Mode.IsValid() {
		return &InvalidModeError{Mode: string(spec.Mode)}
	}
	if spec.InputSchema == nil {
		return fmt.Errorf("tool '%s' has no input schema", spec.Name)
	}
	if spec.Version == "" {
		spec.Version = "v0.1"
	}

	inputSchema, err := compileSchema(closedWorld(spec.InputSchema))
	if err != nil {
		return fmt.Errorf("tool '%s' input schema: %w", spec.Name, err)
	}

	var outputSchema *gojsonschema.Schema
	if spec.OutputSchema != nil {
		outputSchema, err = compileSchema(closedWorld(spec.OutputSchema))
		if err != nil {
			return fmt.Errorf("tool '%s' output schema: %w", spec.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("duplicate tool name '%s'", spec.Name)
	}

	r.tools[spec.Name] = &Tool{
		Spec:         spec,
		inputSchema:  inputSchema,
		outputSchema: outputSchema,
	}

	log.Info().Str("tool", spec.Name).Str("mode", string(spec.Mode)).Msg("Tool registered")
	return nil
}

// RegisterAll registers a batch of specs, failing on the first error
func (r *Registry) RegisterAll(specs []Spec) error {
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the tool for name or an UnknownToolError
func (r *Registry) Lookup(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return tool, nil
}

// List returns all registered specs
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, tool.Spec)
	}
	return specs
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ValidateInput checks a payload against the tool's input contract
func (t *Tool) ValidateInput(payload map[string]interface{}) error {
	return validate(t.inputSchema, payload, t.Spec.Name, "input")
}

// ValidateOutput checks a payload against the tool's output contract.
// Tools without a declared output schema pass trivially.
func (t *Tool) ValidateOutput(payload map[string]interface{}) error {
	if t.outputSchema == nil {
		return nil
	}
	return validate(t.outputSchema, payload, t.Spec.Name, "output")
}

func compileSchema(schema map[string]interface{}) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
}

func validate(schema *gojsonschema.Schema, payload map[string]interface{}, tool, side string) error {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("%s schema validation for '%s': %w", side, tool, err)
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Tool: tool, Side: side}
	for _, issue := range result.Errors() {
		verr.Issues = append(verr.Issues, issue.String())
		verr.Fields = append(verr.Fields, issue.Field())
	}
	return verr
}
