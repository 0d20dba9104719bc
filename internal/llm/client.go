// Package llm adapts chat-completion providers to a single request/response contract.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingAPIKey is returned when a provider is configured without a key.
	ErrMissingAPIKey = errors.New("llm api key is required")
	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown llm provider")
	// ErrNoContent is returned when the provider answers without any text.
	ErrNoContent = errors.New("llm returned no content")
)

// CompletionRequest is an ordered chat context plus sampling parameters.
// Zero Model or MaxTokens select the provider defaults.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage is one entry of the chat context, reduced to role and text.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse is a single generated reply.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	Latency    time.Duration
}

// Client is implemented by every provider adapter.
type Client interface {
	// Complete returns the reply to req.Messages. It honours ctx cancellation.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name, used as a metric label.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Config selects and authenticates a provider. BaseURL points the client at a
// compatible gateway instead of the public API.
type Config struct {
	Provider Provider
	APIKey   string
	BaseURL  string
}

// NewClient creates the adapter for cfg.Provider; OpenAI when empty.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg)
	case ProviderOpenAI, "":
		return NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// withDefaults fills the zero model and token limit of req.
func withDefaults(req *CompletionRequest, model string, maxTokens int) (string, int) {
	m, n := req.Model, req.MaxTokens
	if m == "" {
		m = model
	}
	if n <= 0 {
		n = maxTokens
	}
	return m, n
}
