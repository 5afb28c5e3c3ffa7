package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// GenerateClient calls the OpenAI chat completions API. Model and sampling
// options are fixed at construction and never varied per call.
type GenerateClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewGenerateClient creates a completion client against api.openai.com.
func NewGenerateClient(apiKey, model string, temperature float32, maxTokens int) *GenerateClient {
	return &GenerateClient{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// NewGenerateClientWithBase points the client at an OpenAI-compatible server.
func NewGenerateClientWithBase(apiKey, baseURL, model string, temperature float32, maxTokens int) *GenerateClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &GenerateClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Complete returns the model's completion for prompt.
func (c *GenerateClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
