package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/newsvault/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_CRUD(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	doc := &models.Document{
		ID:       "doc1",
		Title:    "Title",
		Content:  strings.Repeat("a", 250),
		Source:   "wire",
		Tags:     []string{"go", "search"},
		Metadata: map[string]interface{}{"k": "v"},
	}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if doc.Category != models.DefaultCategory {
		t.Errorf("Category = %q, want %q", doc.Category, models.DefaultCategory)
	}
	if !strings.HasSuffix(doc.Summary, "...") {
		t.Errorf("Summary = %q, want truncated summary", doc.Summary)
	}

	got, err := store.GetDocument(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Title" || got.Source != "wire" {
		t.Errorf("got %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "search" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if got.Metadata["k"] != "v" {
		t.Errorf("Metadata = %v", got.Metadata)
	}

	doc.Title = "Updated"
	if err := store.UpdateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetDocument(ctx, "doc1")
	if got.Title != "Updated" {
		t.Errorf("expected Updated, got %s", got.Title)
	}

	if err := store.DeleteDocument(ctx, "doc1"); err != nil {
		t.Fatal(err)
	}
	_, err = store.GetDocument(ctx, "doc1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLiteStorage_UpdateMissing(t *testing.T) {
	store := newTestStorage(t)
	err := store.UpdateDocument(context.Background(), &models.Document{ID: "nope", Title: "t", Content: "c"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_ListAndCounts(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	docs := []*models.Document{
		{ID: "1", Title: "a", Content: "x", Category: "tech", Source: "rss"},
		{ID: "2", Title: "b", Content: "x", Category: "tech", Source: "manual"},
		{ID: "3", Title: "c", Content: "x", Category: "world", Source: "rss"},
		{ID: "4", Title: "d", Content: "x"},
	}
	for _, d := range docs {
		if err := store.CreateDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListDocuments(ctx, models.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 docs, got %d", len(all))
	}

	tech, err := store.ListDocuments(ctx, models.ListOptions{Category: "tech"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tech) != 2 {
		t.Errorf("expected 2 tech docs, got %d", len(tech))
	}

	rssTech, _ := store.ListDocuments(ctx, models.ListOptions{Category: "tech", Source: "rss"})
	if len(rssTech) != 1 || rssTech[0].ID != "1" {
		t.Errorf("unexpected filtered result %v", rssTech)
	}

	page, _ := store.ListDocuments(ctx, models.ListOptions{Offset: 1, Limit: 2})
	if len(page) != 2 {
		t.Errorf("expected page of 2, got %d", len(page))
	}

	n, err := store.CountDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("CountDocuments = %d, want 4", n)
	}

	cats, err := store.CategoryCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cats["tech"] != 2 || cats["world"] != 1 || cats[models.DefaultCategory] != 1 {
		t.Errorf("CategoryCounts = %v", cats)
	}

	sources, err := store.SourceCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sources["rss"] != 2 || sources["manual"] != 1 || len(sources) != 2 {
		t.Errorf("SourceCounts = %v", sources)
	}
}

func TestSQLiteStorage_SearchHistory(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for _, q := range []string{"first", "second", "third"} {
		entry := &models.SearchHistory{Query: q, ResultCount: 1, SearchType: "semantic"}
		if err := store.RecordSearch(ctx, entry); err != nil {
			t.Fatal(err)
		}
		if entry.ID == 0 {
			t.Error("ID should be assigned")
		}
	}

	history, err := store.ListSearchHistory(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].Query != "third" {
		t.Errorf("most recent first: got %q", history[0].Query)
	}
}

func TestSQLiteStorage_DeleteSearchHistory(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	keep := &models.SearchHistory{Query: "keep", SearchType: "semantic"}
	drop := &models.SearchHistory{Query: "drop", SearchType: "semantic"}
	for _, e := range []*models.SearchHistory{keep, drop} {
		if err := store.RecordSearch(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.DeleteSearchHistory(ctx, drop.ID); err != nil {
		t.Fatalf("DeleteSearchHistory: %v", err)
	}
	history, err := store.ListSearchHistory(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ID != keep.ID {
		t.Errorf("history after delete = %+v", history)
	}

	if err := store.DeleteSearchHistory(ctx, drop.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_DocumentsPerDay(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	now := time.Now().UTC()
	insert := func(id string, created time.Time) {
		t.Helper()
		_, err := store.db.ExecContext(ctx,
			`INSERT INTO documents (id, title, content, category, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, id, "body", models.DefaultCategory, created, created)
		if err != nil {
			t.Fatal(err)
		}
	}
	insert("today-1", now.Add(-time.Minute))
	insert("today-2", now.Add(-time.Minute))
	insert("two-days", now.AddDate(0, 0, -2))
	insert("old", now.AddDate(0, 0, -30))

	counts, err := store.DocumentsPerDay(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	today := now.Add(-time.Minute).Format(DayFormat)
	if counts[today] != 2 {
		t.Errorf("count for %s = %d, want 2 (%v)", today, counts[today], counts)
	}
	if counts[now.AddDate(0, 0, -2).Format(DayFormat)] != 1 {
		t.Errorf("two-days-ago bucket missing: %v", counts)
	}
	if _, ok := counts[now.AddDate(0, 0, -30).Format(DayFormat)]; ok {
		t.Errorf("document older than the window counted: %v", counts)
	}

	all, err := store.DocumentsPerDay(ctx, 60)
	if err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, n := range all {
		total += n
	}
	if total != 4 {
		t.Errorf("60-day total = %d, want 4", total)
	}

	if _, err := store.DocumentsPerDay(ctx, 0); !errors.Is(err, models.ErrInvalid) {
		t.Errorf("days=0 err = %v, want ErrInvalid", err)
	}
}
