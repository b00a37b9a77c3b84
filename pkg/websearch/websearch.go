// Package websearch wraps external web search providers behind one
// interface. All providers normalize results to {title, snippet, url}.
package websearch

import (
	"context"
	"fmt"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
)

// Result is one normalized search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Provider runs web searches.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// NewProviderFromConfig builds the configured provider.
func NewProviderFromConfig(cfg *config.WebSearchConfig) (Provider, error) {
	switch cfg.Provider {
	case "tavily":
		return NewTavilyProvider(cfg.TavilyKey)
	case "linkup":
		return NewLinkUpProvider(cfg.LinkUpKey)
	case "searxng":
		return NewSearXNGProvider(cfg.SearXNGBase)
	default:
		return nil, fmt.Errorf("unsupported web search provider: %s", cfg.Provider)
	}
}
