package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/newsvault/internal/config"
	"github.com/hyperjump/newsvault/internal/extract"
	"github.com/hyperjump/newsvault/internal/fileid"
	"github.com/hyperjump/newsvault/internal/keyword"
	"github.com/hyperjump/newsvault/internal/models"
	"github.com/hyperjump/newsvault/internal/storage"
)

// VectorStore is the semantic index the indexer writes chunks to.
// One document ID may own many vectors.
type VectorStore interface {
	AddDocuments(ctx context.Context, ids, texts []string) error
	RemoveDocument(ctx context.Context, id string) (bool, error)
	Clear(ctx context.Context) error
}

// SourceFile marks documents ingested from disk.
const SourceFile = "file"

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// reindexBatch is the number of documents embedded per vector store write during Reindex.
const reindexBatch = 32

// Indexer keeps the document database, vector store and keyword index in step.
type Indexer struct {
	storage   storage.Storage
	vectors   VectorStore
	keywords  keyword.KeywordIndex
	chunker   *Chunker
	extractor *extract.Extractor
	include   []string
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithKeywordIndex enables keyword indexing.
func WithKeywordIndex(k keyword.KeywordIndex) IndexerOption {
	return func(idx *Indexer) { idx.keywords = k }
}

// WithInclude sets the doublestar patterns IndexDirectory matches relative paths against.
func WithInclude(patterns []string) IndexerOption {
	return func(idx *Indexer) { idx.include = patterns }
}

// NewIndexer creates an indexer over the given database and vector store.
func NewIndexer(store storage.Storage, vectors VectorStore, cfg *config.SearchConfig, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		storage:   store,
		vectors:   vectors,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		extractor: extract.NewExtractor(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexDocument stores the document, embeds its chunks under the document ID
// and indexes its keywords. When the vector store rejects the chunks the
// stored row is removed again and the error is returned.
func (idx *Indexer) IndexDocument(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}
	doc := &models.Document{
		ID:        id,
		Title:     strings.TrimSpace(input.Title),
		Content:   Preprocess(input.Content),
		Summary:   input.Summary,
		Source:    input.Source,
		SourceURL: input.SourceURL,
		Category:  input.Category,
		Tags:      input.Tags,
		Author:    input.Author,
		Notes:     input.Notes,
		Metadata:  input.Metadata,
	}
	if err := idx.storage.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	if err := idx.embed(ctx, []*models.Document{doc}); err != nil {
		if delErr := idx.storage.DeleteDocument(ctx, doc.ID); delErr != nil {
			idx.logger.Error("Failed to roll back document row", zap.String("id", doc.ID), zap.Error(delErr))
		}
		return nil, err
	}
	idx.indexKeywords(ctx, doc)
	idx.logger.Debug("Indexed document", zap.String("id", doc.ID), zap.String("title", doc.Title))
	return doc, nil
}

// embed chunks every document and writes all chunks in a single vector store call.
func (idx *Indexer) embed(ctx context.Context, docs []*models.Document) error {
	var ids, texts []string
	for _, doc := range docs {
		chunks := idx.chunker.Chunk(doc.EmbeddingText())
		for _, c := range chunks {
			ids = append(ids, doc.ID)
			texts = append(texts, c)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := idx.vectors.AddDocuments(ctx, ids, texts); err != nil {
		return fmt.Errorf("failed to index vectors: %w", err)
	}
	return nil
}

func (idx *Indexer) indexKeywords(ctx context.Context, doc *models.Document) {
	if idx.keywords == nil {
		return
	}
	if err := idx.keywords.Index(ctx, doc); err != nil {
		idx.logger.Warn("Failed to index keywords", zap.String("id", doc.ID), zap.Error(err))
	}
}

// DeleteDocument removes a document from the vector store, the keyword index
// and the database. It reports whether the document existed anywhere.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) (bool, error) {
	removed, err := idx.vectors.RemoveDocument(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete from vector index: %w", err)
	}
	if idx.keywords != nil {
		if err := idx.keywords.Delete(ctx, id); err != nil {
			idx.logger.Warn("Failed to delete from keyword index", zap.String("id", id), zap.Error(err))
		}
	}
	existed := removed
	if _, err := idx.storage.GetDocument(ctx, id); err == nil {
		existed = true
	} else if !errors.Is(err, storage.ErrNotFound) {
		return removed, err
	}
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return existed, fmt.Errorf("failed to delete document: %w", err)
	}
	if existed {
		idx.logger.Debug("Deleted document", zap.String("id", id))
	}
	return existed, nil
}

// DeleteDocuments deletes each id and returns how many existed. It stops at the first error.
func (idx *Indexer) DeleteDocuments(ctx context.Context, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		existed, err := idx.DeleteDocument(ctx, id)
		if err != nil {
			return n, err
		}
		if existed {
			n++
		}
	}
	return n, nil
}

// UpdateDocument applies update to the stored document. When the title or
// content changes the document's vectors are replaced.
func (idx *Indexer) UpdateDocument(ctx context.Context, id string, update *models.DocumentUpdate) (*models.Document, error) {
	doc, err := idx.storage.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if !update.Apply(doc) {
		if err := idx.storage.UpdateDocument(ctx, doc); err != nil {
			return nil, err
		}
		idx.indexKeywords(ctx, doc)
		return doc, nil
	}

	doc.Content = Preprocess(doc.Content)
	if update.Summary == nil {
		doc.Summary = models.Summarize(doc.Content)
	}
	if _, err := idx.vectors.RemoveDocument(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to delete from vector index: %w", err)
	}
	if err := idx.embed(ctx, []*models.Document{doc}); err != nil {
		return nil, err
	}
	if err := idx.storage.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	idx.indexKeywords(ctx, doc)
	idx.logger.Debug("Re-embedded document", zap.String("id", id))
	return doc, nil
}

// Reindex clears the vector store and re-embeds every stored document.
// Keyword entries are refreshed as well. It returns the number of documents indexed.
func (idx *Indexer) Reindex(ctx context.Context) (int, error) {
	docs, err := idx.storage.ListDocuments(ctx, models.ListOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}
	if err := idx.vectors.Clear(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear vector index: %w", err)
	}
	for start := 0; start < len(docs); start += reindexBatch {
		batch := docs[start:min(start+reindexBatch, len(docs))]
		if err := idx.embed(ctx, batch); err != nil {
			return start, err
		}
		for _, doc := range batch {
			idx.indexKeywords(ctx, doc)
		}
	}
	idx.logger.Info("Reindexed documents", zap.Int("documents", len(docs)))
	return len(docs), nil
}

// IndexFile extracts the file at path and indexes it under an ID derived from
// its absolute path, replacing any earlier version. Files whose size and
// modification time match the stored document are skipped; indexed reports
// whether the file was (re)indexed.
func (idx *Indexer) IndexFile(ctx context.Context, path string) (indexed bool, err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("absolute path: %w", err)
	}
	if !extract.Supported(filepath.Ext(absPath)) {
		return false, fmt.Errorf("%w: %s", extract.ErrUnsupported, absPath)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return false, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("not a regular file: %s", absPath)
	}

	docID := fileid.FileDocID(absPath)
	if idx.unchanged(ctx, docID, absPath, info) {
		idx.logger.Debug("Skipping unchanged file", zap.String("path", absPath))
		return false, nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return false, fmt.Errorf("read file: %w", err)
	}
	parsed, err := idx.extractor.Parse(absPath, content)
	if err != nil {
		return false, fmt.Errorf("extract content: %w", err)
	}
	if strings.TrimSpace(parsed.Content) == "" {
		return false, fmt.Errorf("no text extracted from %s", absPath)
	}
	if _, err := idx.DeleteDocument(ctx, docID); err != nil {
		return false, err
	}
	_, err = idx.IndexDocument(ctx, &models.DocumentInput{
		ID:      docID,
		Title:   parsed.Title,
		Content: parsed.Content,
		Source:  SourceFile,
		Metadata: map[string]interface{}{
			metaKeySourcePath:  absPath,
			metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	})
	if err != nil {
		return false, err
	}
	idx.logger.Info("Indexed file", zap.String("path", absPath), zap.String("id", docID))
	return true, nil
}

// RemoveFile deletes the document derived from path.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("absolute path: %w", err)
	}
	return idx.DeleteDocument(ctx, fileid.FileDocID(absPath))
}

// unchanged reports whether the stored document for absPath was built from a
// file with the same size and modification time. Values are stored as strings
// since UnixNano does not survive a JSON float64.
func (idx *Indexer) unchanged(ctx context.Context, docID, absPath string, info os.FileInfo) bool {
	doc, err := idx.storage.GetDocument(ctx, docID)
	if err != nil || doc.Metadata == nil {
		return false
	}
	if doc.Metadata[metaKeySourcePath] != absPath {
		return false
	}
	return doc.Metadata[metaKeySourceMtime] == strconv.FormatInt(info.ModTime().UnixNano(), 10) &&
		doc.Metadata[metaKeySourceSize] == strconv.FormatInt(info.Size(), 10)
}

// DirectoryStats summarizes an IndexDirectory run.
type DirectoryStats struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// IndexDirectory walks dir and indexes every supported file matching the
// include patterns. Per-file failures are logged and counted, not returned.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string) (DirectoryStats, error) {
	var stats DirectoryStats
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return stats, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return stats, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(absDir, path)
		if err != nil || !idx.Matches(rel) {
			return nil
		}
		indexed, err := idx.IndexFile(ctx, path)
		switch {
		case err != nil:
			stats.Failed++
			idx.logger.Warn("Failed to index file", zap.String("path", path), zap.Error(err))
		case indexed:
			stats.Indexed++
		default:
			stats.Skipped++
		}
		return nil
	})
	return stats, err
}

// Matches reports whether relPath is a supported file selected by the include
// patterns. No patterns selects every supported file.
func (idx *Indexer) Matches(relPath string) bool {
	if !extract.Supported(filepath.Ext(relPath)) {
		return false
	}
	return MatchInclude(idx.include, relPath)
}

// MatchInclude reports whether relPath matches any doublestar pattern. An empty list matches everything.
func MatchInclude(patterns []string, relPath string) bool {
	if len(patterns) == 0 {
		return true
	}
	slashed := filepath.ToSlash(relPath)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, slashed); ok {
			return true
		}
	}
	return false
}
