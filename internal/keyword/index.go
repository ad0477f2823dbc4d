// Package keyword provides BM25 keyword search over document titles and content.
package keyword

import (
	"context"

	"github.com/hyperjump/newsvault/internal/models"
)

// KeywordIndex defines keyword search operations.
type KeywordIndex interface {
	Index(ctx context.Context, doc *models.Document) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	DocCount() (uint64, error)
	Close() error
}

// SearchOptions narrows a keyword search. Nil means no filter and default boosts.
type SearchOptions struct {
	// Category restricts hits to documents with this exact category.
	Category string
	// TitleBoost multiplies title matches; values <= 0 use DefaultTitleBoost.
	TitleBoost float64
}

// DefaultTitleBoost ranks headline matches above body matches.
const DefaultTitleBoost = 2.0

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}
