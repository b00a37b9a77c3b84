// Package llms contains the chat-completion provider implementations.
// All providers speak the OpenAI-compatible wire protocol; OpenRouter, local
// endpoints, and user-supplied custom endpoints differ only in base URL,
// credentials, and extra headers.
package llms

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat requests structured output from the endpoint.
type ResponseFormat struct {
	Type       string         `json:"type"` // "json_object" or "json_schema"
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

// Request is a chat completion request.
type Request struct {
	Messages       []Message       `json:"messages"`
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Usage is the token accounting block of a response. Absent fields stay 0
// and are still reported.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed chat response.
type Response struct {
	Content string
	Model   string
	Usage   Usage
	// Cost is reported by some providers (OpenRouter); 0 when absent.
	Cost float64
}

// Provider is a chat-completion endpoint.
type Provider interface {
	// Name returns the provider name (openrouter, local, custom).
	Name() string

	// Generate performs a chat completion. Implementations honor ctx
	// cancellation and classify failures as AuthError or TransientError.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Close releases any resources held by the provider.
	Close() error
}
