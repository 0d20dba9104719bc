package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel     = openai.GPT3Dot5Turbo
	defaultOpenAIMaxTokens = 1000
)

// chatCompleter is the slice of the go-openai client this package uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient completes through the OpenAI chat completions API.
type OpenAIClient struct {
	client chatCompleter
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai", ErrMissingAPIKey)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
	}, nil
}

// Name implements Client.
func (c *OpenAIClient) Name() string {
	return string(ProviderOpenAI)
}

// Complete implements Client. Roles map one to one onto the chat API.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	model, maxTokens := withDefaults(req, defaultOpenAIModel, defaultOpenAIMaxTokens)

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoContent
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Content:    choice.Message.Content,
		Model:      resp.Model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: string(choice.FinishReason),
		Latency:    time.Since(start),
	}, nil
}
