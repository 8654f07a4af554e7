package tools

import (
	"context"
	"fmt"

	"github.com/zapbi/zapbi/internal/providers"
)

// Tool is one callable exposed to the LLM.
type Tool interface {
	Name() string
	Definition() providers.ToolDefinition
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry dispatches tool calls by name. Tools register once at
// construction; execution looks the name up in the table instead of
// branching on tool identifiers.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ProviderDefs returns the tool declarations in registration order.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute dispatches one tool call. Unknown names become error results so
// the model can correct itself instead of failing the turn.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	t, ok := r.tools[name]
	if !ok {
		return ErrorResult(fmt.Sprintf("ferramenta desconhecida: %s", name))
	}
	return t.Execute(ctx, args)
}
