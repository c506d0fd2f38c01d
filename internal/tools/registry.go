package tools

import "context"

// Tool is a single dispatchable tool (spec §4.3's registry entry).
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// RiskLeveler is implemented by tools that are not exec (exec's risk comes
// from its own intent classification, not a flat level) but still need a
// coarse risk tag for the "high-risk, non-exec" capability rule.
type RiskLeveler interface {
	RiskLevel() string // "standard" | "high"
}

// Registry holds the set of tools available to a turn.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// ToolSpec is a provider-agnostic tool offer: name, description, JSON Schema
// parameters. Kept free of any provider-specific type so internal/tools has
// no upward dependency on internal/modeladapter.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ProviderDefs returns the specs for every registered tool, for a caller to
// translate into its provider wire format.
func (r *Registry) ProviderDefs() []ToolSpec {
	out := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	return out
}
