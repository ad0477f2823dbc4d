package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/newsvault/internal/config"
	"github.com/hyperjump/newsvault/internal/embedding"
	"github.com/hyperjump/newsvault/internal/indexer"
	"github.com/hyperjump/newsvault/internal/keyword"
	"github.com/hyperjump/newsvault/internal/search"
	"github.com/hyperjump/newsvault/internal/snapshot"
	"github.com/hyperjump/newsvault/internal/storage"
	"github.com/hyperjump/newsvault/internal/store"
)

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	Vectors      *store.Store
	KeywordIndex keyword.KeywordIndex
	Engine       *search.Engine
	Indexer      *indexer.Indexer
}

// Close releases every opened component.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	codec, err := snapshot.ParseCodec(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	snap, err := snapshot.Open(cfg.Storage.IndexDir, snapshot.WithCodec(codec))
	if err != nil {
		return nil, fmt.Errorf("failed to open vector snapshot directory: %w", err)
	}

	c.Embedder, err = embedding.New(ctx, cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}

	c.Vectors, err = store.New(c.Embedder, snap, cfg.Embedding.Dimensions,
		store.WithLogger(logger),
		store.WithStrictLoad(cfg.Storage.StrictLoad),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	if c.Vectors.State() == store.StateRecovered {
		logger.Warn("Vector snapshot was unreadable and has been set aside; run `newsvault reindex` to rebuild it")
	}

	c.KeywordIndex, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	c.Engine = search.NewEngine(c.Storage, c.Vectors, &cfg.Search,
		search.WithKeywordIndex(c.KeywordIndex),
		search.WithLogger(logger),
	)
	c.Indexer = indexer.NewIndexer(c.Storage, c.Vectors, &cfg.Search,
		indexer.WithKeywordIndex(c.KeywordIndex),
		indexer.WithInclude(cfg.Watch.Include),
		indexer.WithLogger(logger),
	)
	return c, nil
}
