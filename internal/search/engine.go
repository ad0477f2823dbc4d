// Package search runs semantic queries against the vector store, with an
// optional keyword list from the keyword index, and hydrates hits from the
// document database.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/newsvault/internal/config"
	"github.com/hyperjump/newsvault/internal/keyword"
	"github.com/hyperjump/newsvault/internal/models"
	"github.com/hyperjump/newsvault/internal/storage"
	"github.com/hyperjump/newsvault/internal/store"
)

// Search types recorded in the history.
const (
	TypeSemantic = "semantic"
	TypeHybrid   = "hybrid"
)

// SemanticIndex answers nearest-neighbor queries for text.
type SemanticIndex interface {
	Search(ctx context.Context, text string, k int) ([]store.Hit, error)
}

// Engine runs searches.
type Engine struct {
	storage  storage.Storage
	semantic SemanticIndex
	keywords keyword.KeywordIndex
	config   *config.SearchConfig
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithKeywordIndex enables the keyword result list.
func WithKeywordIndex(k keyword.KeywordIndex) EngineOption {
	return func(e *Engine) { e.keywords = k }
}

// NewEngine creates a search engine.
func NewEngine(db storage.Storage, semantic SemanticIndex, cfg *config.SearchConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		storage:  db,
		semantic: semantic,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search validates query, runs the semantic search and, when enabled, the
// keyword search concurrently, and records the query in the search history.
//
// Semantic candidates are over-fetched by the configured multiplier because
// one document owns one vector per chunk; only the best chunk per document is
// kept. Hits below the minimum score, outside the requested category or whose
// document no longer exists are dropped.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	if err := query.Validate(e.config.DefaultLimit, e.config.MaxLimit); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidArgument, err)
	}
	minScore := e.config.MinScore
	if query.MinScore != nil {
		minScore = *query.MinScore
	}
	useKeywords := e.keywords != nil && e.config.KeywordEnabledOrDefault()
	if query.KeywordEnabled != nil {
		useKeywords = e.keywords != nil && *query.KeywordEnabled
	}

	var (
		hits        []store.Hit
		keywordHits []*keyword.KeywordResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hits, err = e.semantic.Search(gctx, query.Query, query.Limit*max(e.config.CandidateMultiplier, 1))
		return err
	})
	if useKeywords {
		g.Go(func() error {
			var err error
			keywordHits, err = e.keywords.Search(gctx, query.Query, query.Limit, &keyword.SearchOptions{Category: query.Category})
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	semantic, err := e.hydrateSemantic(ctx, query, collapse(hits), minScore)
	if err != nil {
		return nil, err
	}
	resp := &models.SearchResponse{
		SemanticResults: semantic,
		TotalSemantic:   len(semantic),
		Query:           query.Query,
	}
	searchType := TypeSemantic
	if useKeywords {
		searchType = TypeHybrid
		resp.KeywordResults, err = e.hydrateKeyword(ctx, query, keywordHits)
		if err != nil {
			return nil, err
		}
		resp.TotalKeyword = len(resp.KeywordResults)
	}
	resp.QueryTime = time.Since(start).Milliseconds()

	entry := &models.SearchHistory{Query: query.Query, ResultCount: resp.TotalSemantic + resp.TotalKeyword, SearchType: searchType}
	if err := e.storage.RecordSearch(ctx, entry); err != nil {
		e.logger.Warn("Failed to record search history", zap.Error(err))
	}
	e.logger.Debug("Search completed",
		zap.String("query", query.Query),
		zap.Int("semantic", resp.TotalSemantic),
		zap.Int("keyword", resp.TotalKeyword),
		zap.Int64("ms", resp.QueryTime))
	return resp, nil
}

// collapse keeps the first, and therefore closest, hit of each document.
func collapse(hits []store.Hit) []store.Hit {
	seen := make(map[string]struct{}, len(hits))
	out := hits[:0:0]
	for _, h := range hits {
		if _, ok := seen[h.ID]; ok {
			continue
		}
		seen[h.ID] = struct{}{}
		out = append(out, h)
	}
	return out
}

func (e *Engine) hydrateSemantic(ctx context.Context, query *models.SearchQuery, hits []store.Hit, minScore float64) ([]*models.SearchResult, error) {
	results := []*models.SearchResult{}
	for _, h := range hits {
		if len(results) == query.Limit {
			break
		}
		if h.Score < minScore {
			// Hits are sorted by distance, so every later score is lower.
			break
		}
		doc, err := e.document(ctx, h.ID, query.Category)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		results = append(results, &models.SearchResult{
			Document: doc,
			Score:    h.Score,
			Distance: h.Distance,
			Rank:     len(results) + 1,
			Snippet:  Snippet(doc.Content, query.Query, DefaultSnippetLength),
		})
	}
	return results, nil
}

func (e *Engine) hydrateKeyword(ctx context.Context, query *models.SearchQuery, hits []*keyword.KeywordResult) ([]*models.SearchResult, error) {
	results := []*models.SearchResult{}
	for _, h := range hits {
		doc, err := e.document(ctx, h.ID, query.Category)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		results = append(results, &models.SearchResult{
			Document: doc,
			Score:    h.Score,
			Rank:     len(results) + 1,
			Snippet:  Snippet(doc.Content, query.Query, DefaultSnippetLength),
		})
	}
	return results, nil
}

// document loads id, returning nil when it is gone or outside category.
func (e *Engine) document(ctx context.Context, id, category string) (*models.Document, error) {
	doc, err := e.storage.GetDocument(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Debug("Search hit has no document", zap.String("id", id))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if category != "" && doc.Category != category {
		return nil, nil
	}
	return doc, nil
}

// History returns the most recent searches.
func (e *Engine) History(ctx context.Context, limit int) ([]*models.SearchHistory, error) {
	return e.storage.ListSearchHistory(ctx, limit)
}
