package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SearXNGProvider searches a self-hosted SearXNG instance.
type SearXNGProvider struct {
	client  *http.Client
	baseURL string
}

// NewSearXNGProvider requires the instance base URL.
func NewSearXNGProvider(baseURL string) (*SearXNGProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("searxng provider requires a base URL")
	}
	return &SearXNGProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (p *SearXNGProvider) Name() string { return "searxng" }

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs one SearXNG query via the JSON API.
func (p *SearXNGProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create searxng request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read searxng response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed searxngResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse searxng response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if maxResults > 0 && len(results) >= maxResults {
			break
		}
		results = append(results, Result{
			Title:   r.Title,
			Snippet: r.Content,
			URL:     r.URL,
		})
	}
	return results, nil
}
