package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/newsvault/internal/models"
)

// indexedDocument is the subset of a document stored in Bleve.
type indexedDocument struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Source   string   `json:"source"`
	Tags     []string `json:"tags"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

var _ KeywordIndex = (*BleveIndex)(nil)

func newMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = false

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keywordanalyzer.Name
	exact.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("tags", text)
	doc.AddFieldMappingsAt("category", exact)
	doc.AddFieldMappingsAt("source", exact)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	return im
}

// NewBleveIndex opens the index at path, creating it when it does not exist.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryIndex creates a throwaway in-memory index.
func NewMemoryIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index adds or replaces the document under its ID. Underscores in titles are
// indexed as spaces so file names like "q3_market_report" match word queries.
func (b *BleveIndex) Index(_ context.Context, doc *models.Document) error {
	return b.index.Index(doc.ID, indexedDocument{
		Title:    strings.ReplaceAll(doc.Title, "_", " "),
		Content:  doc.Content,
		Category: doc.Category,
		Source:   doc.Source,
		Tags:     doc.Tags,
	})
}

// Search runs a match query over title, content and tags, returning at most limit hits by score.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []*KeywordResult{}, nil
	}
	boost := DefaultTitleBoost
	if opts != nil && opts.TitleBoost > 0 {
		boost = opts.TitleBoost
	}

	title := bleve.NewMatchQuery(query)
	title.SetField("title")
	title.SetBoost(boost)
	content := bleve.NewMatchQuery(query)
	content.SetField("content")
	tags := bleve.NewMatchQuery(query)
	tags.SetField("tags")

	var q blevequery.Query = bleve.NewDisjunctionQuery(title, content, tags)
	if opts != nil && opts.Category != "" {
		cat := bleve.NewTermQuery(opts.Category)
		cat.SetField("category")
		q = bleve.NewConjunctionQuery(q, cat)
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(res.Hits))
	for i, hit := range res.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// Delete removes a document. Deleting an unknown ID is not an error.
func (b *BleveIndex) Delete(_ context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the number of indexed documents.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
