package embeddings

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider produces embeddings with the OpenAI embeddings API. Models of
// the text-embedding-3 family honour the requested dimensions.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIProvider returns a provider using model (for example
// "text-embedding-3-large").
func NewOpenAIProvider(client *openai.Client, model string) *OpenAIProvider {
	if model == "" {
		model = string(openai.LargeEmbedding3)
	}
	return &OpenAIProvider{client: client, model: openai.EmbeddingModel(model)}
}

// CreateEmbedding implements Provider.
func (p *OpenAIProvider) CreateEmbedding(ctx context.Context, text string, dimensions int) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      p.model,
		Input:      []string{text},
		Dimensions: dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embedding creation failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("OpenAI returned no embedding data")
	}
	return resp.Data[0].Embedding, nil
}
