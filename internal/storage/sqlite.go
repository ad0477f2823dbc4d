package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/newsvault/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		summary TEXT,
		source TEXT,
		source_url TEXT,
		category TEXT NOT NULL DEFAULT 'uncategorized',
		tags TEXT,
		author TEXT,
		notes TEXT,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);
	CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
	CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);

	CREATE TABLE IF NOT EXISTS search_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		result_count INTEGER NOT NULL,
		search_type TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_search_history_created_at ON search_history(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

const documentColumns = `id, title, content, summary, source, source_url, category, tags, author, notes, metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var summary, source, sourceURL, tagsJSON, author, notes, metadataJSON sql.NullString
	err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &summary, &source, &sourceURL,
		&doc.Category, &tagsJSON, &author, &notes, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Summary = summary.String
	doc.Source = source.String
	doc.SourceURL = sourceURL.String
	doc.Author = author.String
	doc.Notes = notes.String
	if tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &doc.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}

func encodeJSONFields(doc *models.Document) (tags, metadata string, err error) {
	if len(doc.Tags) > 0 {
		b, err := json.Marshal(doc.Tags)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal tags: %w", err)
		}
		tags = string(b)
	}
	if doc.Metadata != nil {
		b, err := json.Marshal(doc.Metadata)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(b)
	}
	return tags, metadata, nil
}

// CreateDocument inserts a document. Summary and category are filled in when empty.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.Category == "" {
		doc.Category = models.DefaultCategory
	}
	if doc.Summary == "" {
		doc.Summary = models.Summarize(doc.Content)
	}
	tags, metadata, err := encodeJSONFields(doc)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Content, doc.Summary, doc.Source, doc.SourceURL, doc.Category,
		tags, doc.Author, doc.Notes, metadata, doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, err
}

// UpdateDocument updates an existing document.
func (s *SQLiteStorage) UpdateDocument(ctx context.Context, doc *models.Document) error {
	if doc.Category == "" {
		doc.Category = models.DefaultCategory
	}
	tags, metadata, err := encodeJSONFields(doc)
	if err != nil {
		return err
	}

	doc.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET title = ?, content = ?, summary = ?, source = ?, source_url = ?,
		 category = ?, tags = ?, author = ?, notes = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		doc.Title, doc.Content, doc.Summary, doc.Source, doc.SourceURL, doc.Category,
		tags, doc.Author, doc.Notes, metadata, doc.UpdatedAt, doc.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, doc.ID)
	}
	return nil
}

// DeleteDocument removes a document by ID. Deleting a missing document is not an error.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}

// ListDocuments returns documents newest first, filtered by category and source when set.
// A non-positive limit returns every matching document.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, opts models.ListOptions) ([]*models.Document, error) {
	var where []string
	var args []any
	if opts.Category != "" {
		where = append(where, "category = ?")
		args = append(args, opts.Category)
	}
	if opts.Source != "" {
		where = append(where, "source = ?")
		args = append(args, opts.Source)
	}
	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(opts.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []*models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CategoryCounts returns the number of documents per category.
func (s *SQLiteStorage) CategoryCounts(ctx context.Context) (map[string]int64, error) {
	return s.groupCounts(ctx, `SELECT category, COUNT(*) FROM documents GROUP BY category`)
}

// SourceCounts returns the number of documents per non-empty source.
func (s *SQLiteStorage) SourceCounts(ctx context.Context) (map[string]int64, error) {
	return s.groupCounts(ctx, `SELECT source, COUNT(*) FROM documents WHERE source IS NOT NULL AND source != '' GROUP BY source`)
}

func (s *SQLiteStorage) groupCounts(ctx context.Context, query string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// DayFormat is the key layout used by DocumentsPerDay.
const DayFormat = "2006-01-02"

// DocumentsPerDay counts documents created within the last days days, keyed by UTC day.
// Days without documents are absent from the map.
func (s *SQLiteStorage) DocumentsPerDay(ctx context.Context, days int) (map[string]int64, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", models.ErrInvalid)
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `SELECT created_at FROM documents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var created time.Time
		if err := rows.Scan(&created); err != nil {
			return nil, err
		}
		if created.Before(since) {
			continue
		}
		counts[created.UTC().Format(DayFormat)]++
	}
	return counts, rows.Err()
}

// RecordSearch appends a search history entry.
func (s *SQLiteStorage) RecordSearch(ctx context.Context, entry *models.SearchHistory) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO search_history (query, result_count, search_type, created_at) VALUES (?, ?, ?, ?)`,
		entry.Query, entry.ResultCount, entry.SearchType, entry.CreatedAt,
	)
	if err != nil {
		return err
	}
	entry.ID, _ = result.LastInsertId()
	return nil
}

// ListSearchHistory returns the most recent searches first.
func (s *SQLiteStorage) ListSearchHistory(ctx context.Context, limit int) ([]*models.SearchHistory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, result_count, search_type, created_at
		 FROM search_history ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*models.SearchHistory{}
	for rows.Next() {
		var h models.SearchHistory
		if err := rows.Scan(&h.ID, &h.Query, &h.ResultCount, &h.SearchType, &h.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &h)
	}
	return entries, rows.Err()
}

// DeleteSearchHistory removes one history entry. Missing entries return ErrNotFound.
func (s *SQLiteStorage) DeleteSearchHistory(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM search_history WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: search history %d", ErrNotFound, id)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
