// Package models defines core data structures for documents, queries, and search results.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid marks input rejected by a Validate method.
var ErrInvalid = errors.New("invalid input")

const (
	// DefaultCategory is assigned when a document has none.
	DefaultCategory = "uncategorized"
	// SummaryLength is the number of characters kept for a generated summary.
	SummaryLength = 200
)

// Document represents a stored article, note or uploaded file.
type Document struct {
	ID        string                 `json:"id" db:"id"`
	Title     string                 `json:"title" db:"title"`
	Content   string                 `json:"content" db:"content"`
	Summary   string                 `json:"summary" db:"summary"`
	Source    string                 `json:"source,omitempty" db:"source"`
	SourceURL string                 `json:"source_url,omitempty" db:"source_url"`
	Category  string                 `json:"category" db:"category"`
	Tags      []string               `json:"tags,omitempty" db:"tags"`
	Author    string                 `json:"author,omitempty" db:"author"`
	Notes     string                 `json:"notes,omitempty" db:"notes"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// EmbeddingText is the text indexed for semantic search: title followed by content.
func (d *Document) EmbeddingText() string {
	return strings.TrimSpace(d.Title + " " + d.Content)
}

// DocumentInput is the input for creating a document.
type DocumentInput struct {
	ID        string                 `json:"id,omitempty"`
	Title     string                 `json:"title"`
	Content   string                 `json:"content"`
	Summary   string                 `json:"summary,omitempty"`
	Source    string                 `json:"source,omitempty"`
	SourceURL string                 `json:"source_url,omitempty"`
	Category  string                 `json:"category,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	Author    string                 `json:"author,omitempty"`
	Notes     string                 `json:"notes,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks required fields.
func (in *DocumentInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if strings.TrimSpace(in.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalid)
	}
	return nil
}

// DocumentUpdate holds optional field changes; nil fields are left untouched.
type DocumentUpdate struct {
	Title     *string   `json:"title,omitempty"`
	Content   *string   `json:"content,omitempty"`
	Summary   *string   `json:"summary,omitempty"`
	Source    *string   `json:"source,omitempty"`
	SourceURL *string   `json:"source_url,omitempty"`
	Category  *string   `json:"category,omitempty"`
	Tags      *[]string `json:"tags,omitempty"`
	Author    *string   `json:"author,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
}

// Apply copies the set fields onto doc and reports whether the indexed text changed.
func (u *DocumentUpdate) Apply(doc *Document) (reindex bool) {
	if u.Title != nil && *u.Title != doc.Title {
		doc.Title = *u.Title
		reindex = true
	}
	if u.Content != nil && *u.Content != doc.Content {
		doc.Content = *u.Content
		reindex = true
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&doc.Summary, u.Summary)
	set(&doc.Source, u.Source)
	set(&doc.SourceURL, u.SourceURL)
	set(&doc.Category, u.Category)
	set(&doc.Author, u.Author)
	set(&doc.Notes, u.Notes)
	if u.Tags != nil {
		doc.Tags = *u.Tags
	}
	return reindex
}

// ListOptions filters and pages document listings.
type ListOptions struct {
	Offset   int
	Limit    int
	Category string
	Source   string
}

// Summarize returns the first SummaryLength characters of content, with "..." when cut.
func Summarize(content string) string {
	content = strings.TrimSpace(content)
	r := []rune(content)
	if len(r) <= SummaryLength {
		return content
	}
	return string(r[:SummaryLength]) + "..."
}
