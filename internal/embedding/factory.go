package embedding

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/newsvault/internal/config"
)

// New builds the embedder selected by cfg.Provider and wraps it with an LRU
// cache of cfg.CacheSize entries. API keys are read from the environment
// variable named by cfg.APIKeyEnv.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case "mock":
		return NewMockEmbedder(cfg.Dimensions), nil
	case "onnx", "":
		e, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case "http", "openai":
		e, err = NewHTTPEmbedder(HTTPConfig{
			BaseURL:           cfg.BaseURL,
			APIKey:            os.Getenv(cfg.APIKeyEnv),
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			Timeout:           time.Duration(cfg.TimeoutSecs) * time.Second,
			BatchSize:         cfg.BatchSize,
			Concurrency:       cfg.BatchConcurrency,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	case "gemini":
		e, err = NewGeminiEmbedder(ctx, GeminiConfig{
			APIKey:     os.Getenv(cfg.APIKeyEnv),
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s embedder: %w", cfg.Provider, err)
	}
	logger.Info("Embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.Int("dimensions", e.Dimensions()),
		zap.Int("cache_size", cfg.CacheSize))
	return WithCache(e, cfg.CacheSize), nil
}
