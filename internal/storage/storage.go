// Package storage defines the persistence interface for documents and search history.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/newsvault/internal/models"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Storage defines document and search history persistence operations.
type Storage interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, opts models.ListOptions) ([]*models.Document, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CategoryCounts(ctx context.Context) (map[string]int64, error)
	SourceCounts(ctx context.Context) (map[string]int64, error)
	// DocumentsPerDay counts documents created in the last days days, keyed by UTC date (2006-01-02).
	DocumentsPerDay(ctx context.Context, days int) (map[string]int64, error)

	// Search history
	RecordSearch(ctx context.Context, entry *models.SearchHistory) error
	ListSearchHistory(ctx context.Context, limit int) ([]*models.SearchHistory, error)
	DeleteSearchHistory(ctx context.Context, id int64) error

	Close() error
}
