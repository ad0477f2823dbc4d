package models

import (
	"fmt"
	"strings"
	"time"
)

// SearchQuery represents a search request. A nil MinScore uses the configured default.
type SearchQuery struct {
	Query          string   `json:"query"`
	Limit          int      `json:"limit,omitempty"`
	MinScore       *float64 `json:"min_score,omitempty"`
	KeywordEnabled *bool    `json:"keyword_enabled,omitempty"`
	Category       string   `json:"category,omitempty"`
}

// Validate trims the query, rejects empty ones and clamps Limit into [1, maxLimit],
// using defaultLimit when unset.
func (q *SearchQuery) Validate(defaultLimit, maxLimit int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalid)
	}
	if q.MinScore != nil && (*q.MinScore < 0 || *q.MinScore > 1) {
		return fmt.Errorf("%w: min_score must be within [0, 1]", ErrInvalid)
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return nil
}

// SearchHistory records one executed search.
type SearchHistory struct {
	ID          int64     `json:"id" db:"id"`
	Query       string    `json:"query" db:"query"`
	ResultCount int       `json:"result_count" db:"result_count"`
	SearchType  string    `json:"search_type" db:"search_type"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
