package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const linkupEndpoint = "https://api.linkup.so/v1/search"

// LinkUpProvider searches via the LinkUp API.
type LinkUpProvider struct {
	client *http.Client
	apiKey string
}

// NewLinkUpProvider requires an API key.
func NewLinkUpProvider(apiKey string) (*LinkUpProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("linkup provider requires an API key")
	}
	return &LinkUpProvider{
		client: &http.Client{Timeout: 30 * time.Second},
		apiKey: apiKey,
	}, nil
}

func (p *LinkUpProvider) Name() string { return "linkup" }

type linkupRequest struct {
	Query      string `json:"q"`
	Depth      string `json:"depth"`
	OutputType string `json:"outputType"`
}

type linkupResponse struct {
	Results []struct {
		Name    string `json:"name"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs one LinkUp query.
func (p *LinkUpProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	body, err := json.Marshal(linkupRequest{
		Query:      query,
		Depth:      "standard",
		OutputType: "searchResults",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal linkup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, linkupEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create linkup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("linkup request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read linkup response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("linkup returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed linkupResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse linkup response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if maxResults > 0 && len(results) >= maxResults {
			break
		}
		results = append(results, Result{
			Title:   r.Name,
			Snippet: r.Content,
			URL:     r.URL,
		})
	}
	return results, nil
}
