// Package embedding holds the narrow interfaces the retrieval engine consumes
// for vectors and text relevance, plus the OpenAI-backed provider.
package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Provider produces a fixed-dimension vector for a piece of text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// OpenAIProvider calls the OpenAI embeddings API.
type OpenAIProvider struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
}

// NewOpenAIProvider creates a provider for the given model and expected
// dimension. Responses with a different dimension are rejected.
func NewOpenAIProvider(apiKey, model string, dimension int) *OpenAIProvider {
	return &OpenAIProvider{
		client:    openai.NewClient(apiKey),
		model:     openai.EmbeddingModel(model),
		dimension: dimension,
	}
}

var _ Provider = (*OpenAIProvider)(nil)

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}

	vec := resp.Data[0].Embedding
	if len(vec) != p.dimension {
		return nil, fmt.Errorf("embedding model returned dimension %d, expected %d", len(vec), p.dimension)
	}

	return vec, nil
}

func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

// StaticProvider returns pre-registered vectors, keyed by exact text.
// Used by tests and by deployments that precompute embeddings externally.
type StaticProvider struct {
	vectors   map[string][]float32
	dimension int
}

// NewStaticProvider creates a StaticProvider with the given dimension.
func NewStaticProvider(dimension int) *StaticProvider {
	return &StaticProvider{
		vectors:   make(map[string][]float32),
		dimension: dimension,
	}
}

var _ Provider = (*StaticProvider)(nil)

// Register associates text with a vector.
func (p *StaticProvider) Register(text string, vec []float32) {
	p.vectors[text] = vec
}

func (p *StaticProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec, ok := p.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no embedding registered for text %q", text)
	}
	return vec, nil
}

func (p *StaticProvider) Dimension() int {
	return p.dimension
}
