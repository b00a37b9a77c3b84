// Package tools provides the tool registry and the built-in research tools:
// document search, web search, page fetching, arXiv fetching, a calculator,
// a restricted Python executor, and a sandboxed file reader. Every tool exposes a JSON schema for its
// parameters and returns a uniform result; input violations come back as
// tool errors rather than Go errors so agents can retry with repaired input.
package tools

import (
	"context"
	"time"

	"github.com/invopop/jsonschema"
)

// ToolInfo describes a tool to agents and to the LLM.
type ToolInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

// ToolResult is the uniform outcome of a tool invocation.
type ToolResult struct {
	Success       bool           `json:"success"`
	Content       string         `json:"content,omitempty"`
	Output        any            `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	ToolName      string         `json:"tool_name"`
	ExecutionTime time.Duration  `json:"execution_time,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Tool is one callable capability. Execute honors ctx cancellation; invalid
// input is reported through the result's Error field.
type Tool interface {
	GetInfo() ToolInfo
	GetName() string
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

func successResult(toolName, content string, output any, started time.Time) ToolResult {
	return ToolResult{
		Success:       true,
		Content:       content,
		Output:        output,
		ToolName:      toolName,
		ExecutionTime: time.Since(started),
	}
}

func errorResult(toolName, errorMsg string, started time.Time) ToolResult {
	if errorMsg == "" {
		errorMsg = "unknown error"
	}
	return ToolResult{
		Success:       false,
		Error:         errorMsg,
		ToolName:      toolName,
		ExecutionTime: time.Since(started),
	}
}
