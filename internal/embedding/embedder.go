// Package embedding turns text into fixed-dimension vectors. Providers are a
// local ONNX model, OpenAI-compatible HTTP endpoints, Gemini and a
// deterministic mock.
package embedding

import (
	"context"
	"errors"
)

// ErrEncoding marks failures of an embedding provider.
var ErrEncoding = errors.New("embedding failed")

// Embedder produces vector embeddings for text. Every call returns vectors of
// Dimensions() length. Implementations are safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
