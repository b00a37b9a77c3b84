package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/murtaza-nasir/maestro-sub003/pkg/registry"
)

// ToolRegistry is the name → tool table with a uniform call path.
type ToolRegistry struct {
	*registry.BaseRegistry[Tool]
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{BaseRegistry: registry.NewBaseRegistry[Tool]()}
}

// RegisterTool adds a tool under its own name.
func (r *ToolRegistry) RegisterTool(tool Tool) error {
	return r.Register(tool.GetName(), tool)
}

// Invoke looks up and executes a tool. An unknown name is a tool error so
// the calling agent can recover.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	tool, ok := r.Get(name)
	if !ok {
		return errorResult(name, fmt.Sprintf("unknown tool: %s", name), time.Now()), nil
	}
	return tool.Execute(ctx, args)
}

// ListInfos returns the schema descriptions of all registered tools.
func (r *ToolRegistry) ListInfos() []ToolInfo {
	tools := r.List()
	infos := make([]ToolInfo, 0, len(tools))
	for _, tool := range tools {
		infos = append(infos, tool.GetInfo())
	}
	return infos
}
