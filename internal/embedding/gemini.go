package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/hyperjump/newsvault/pkg/utils"
)

// GeminiConfig configures the Gemini embedding provider.
type GeminiConfig struct {
	APIKey     string
	Model      string
	Dimensions int
	BatchSize  int
}

// GeminiEmbedder embeds text with the Gemini API. Output is truncated to
// Dimensions by the service and re-normalized locally.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dims      int
	batchSize int
}

// NewGeminiEmbedder creates a client for the Gemini API backend.
func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: cfg.Model, dims: cfg.Dimensions, batchSize: cfg.BatchSize}, nil
}

// Embed returns the embedding for a single text.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in groups of BatchSize.
func (g *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	dims := int32(g.dims)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		var contents []*genai.Content
		for _, t := range texts[start:end] {
			contents = append(contents, genai.Text(t)...)
		}
		resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
			OutputDimensionality: &dims,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: gemini: %w", ErrEncoding, err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d texts", ErrEncoding, len(resp.Embeddings), end-start)
		}
		for _, e := range resp.Embeddings {
			utils.NormalizeL2(e.Values)
			out = append(out, e.Values)
		}
	}
	return out, nil
}

// Dimensions returns the requested output dimensionality.
func (g *GeminiEmbedder) Dimensions() int {
	return g.dims
}

// Close is a no-op; the client holds no resources that need releasing.
func (g *GeminiEmbedder) Close() error {
	return nil
}
