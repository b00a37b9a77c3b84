package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
)

// OpenAIProvider implements Provider for any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	name   string
	config *config.ProviderConfig
	client *http.Client
}

// chatRequest is the OpenAI wire request payload.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Usage          *usageRequest   `json:"usage,omitempty"`
}

// usageRequest asks OpenRouter to include cost accounting in the usage block.
type usageRequest struct {
	Include bool `json:"include"`
}

// chatResponse is the OpenAI wire response payload.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int      `json:"prompt_tokens"`
		CompletionTokens int      `json:"completion_tokens"`
		TotalTokens      int      `json:"total_tokens"`
		Cost             *float64 `json:"cost,omitempty"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// NewOpenAIProvider creates a provider from configuration. name is the
// registry key (openrouter, local, custom).
func NewOpenAIProvider(name string, cfg *config.ProviderConfig) (*OpenAIProvider, error) {
	cfg.SetDefaults(name)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OpenAIProvider{
		name:   name,
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Generate performs a chat completion against the configured endpoint.
func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("%w: no model configured for provider %s", config.ErrConfigurationRequired, p.name)
	}

	payload := chatRequest{
		Model:          req.Model,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: req.ResponseFormat,
	}
	if p.config.Type == "openrouter" {
		payload.Usage = &usageRequest{Include: true}
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.config.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if isNetworkError(err, &netErr) {
			return nil, &TransientError{Provider: p.name, Message: "network error", Err: err}
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Provider: p.name, Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(p.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if parsed.Error != nil {
		return nil, fmt.Errorf("%s API error: %s", p.name, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	out := &Response{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if parsed.Usage.Cost != nil {
		out.Cost = *parsed.Usage.Cost
	}
	return out, nil
}

// Close closes the provider.
func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func isNetworkError(err error, target *net.Error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok {
		*target = ne
		return true
	}
	// url.Error wraps the transport error
	type unwrapper interface{ Unwrap() error }
	if uw, ok := err.(unwrapper); ok {
		return isNetworkError(uw.Unwrap(), target)
	}
	return false
}
