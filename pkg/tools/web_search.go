package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/murtaza-nasir/maestro-sub003/pkg/events"
	"github.com/murtaza-nasir/maestro-sub003/pkg/websearch"
)

// WebSearchTool wraps the configured search provider and reports progress
// through the event bus.
type WebSearchTool struct {
	provider websearch.Provider
	emitter  Emitter
}

type webSearchArgs struct {
	Query      string `json:"query" jsonschema:"description=Search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum results to return"`
}

// NewWebSearchTool wraps a provider; emitter may be nil.
func NewWebSearchTool(provider websearch.Provider, emitter Emitter) *WebSearchTool {
	return &WebSearchTool{provider: provider, emitter: emitter}
}

func (t *WebSearchTool) GetName() string { return "web_search" }

func (t *WebSearchTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Search the web. Results carry title, snippet, and url.",
		Parameters:  schemaFor(&webSearchArgs{}),
	}
}

// Execute runs the search and emits completion or error events.
func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	started := time.Now()

	var params webSearchArgs
	if err := decodeArgs(args, &params); err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}
	if strings.TrimSpace(params.Query) == "" {
		return errorResult(t.GetName(), "query is required", started), nil
	}
	if params.MaxResults <= 0 {
		params.MaxResults = 5
	}

	results, err := t.provider.Search(ctx, params.Query, params.MaxResults)
	if err != nil {
		t.emit(events.KindWebSearchError, map[string]any{
			"query":    params.Query,
			"provider": t.provider.Name(),
			"error":    err.Error(),
		})
		return errorResult(t.GetName(), err.Error(), started), nil
	}

	t.emit(events.KindWebSearchComplete, map[string]any{
		"query":        params.Query,
		"provider":     t.provider.Name(),
		"result_count": len(results),
	})

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return successResult(t.GetName(), strings.TrimSpace(b.String()), results, started), nil
}

func (t *WebSearchTool) emit(kind string, fields map[string]any) {
	if t.emitter != nil {
		t.emitter.Emit(kind, fields)
	}
}
