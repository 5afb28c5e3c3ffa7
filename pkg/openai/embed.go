// Package openai adapts the OpenAI API (or any compatible server) to the
// docent embedding and generation capabilities.
package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// EmbedClient calls the OpenAI embeddings API. The endpoint is batch-native:
// one request embeds a whole sub-batch.
type EmbedClient struct {
	client *openai.Client
	model  string
}

// NewEmbedClient creates an embedding client against api.openai.com.
func NewEmbedClient(apiKey, model string) *EmbedClient {
	return &EmbedClient{client: openai.NewClient(apiKey), model: model}
}

// NewEmbedClientWithBase points the client at an OpenAI-compatible server.
func NewEmbedClientWithBase(apiKey, baseURL, model string) *EmbedClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &EmbedClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// EmbedBatch embeds texts in one API call, reassembling vectors by the
// response's index field so the output matches input order.
func (c *EmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
