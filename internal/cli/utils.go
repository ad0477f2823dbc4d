// Package cli formats command output for the newsvault command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/newsvault/internal/models"
	"github.com/hyperjump/newsvault/internal/storage"
	"github.com/hyperjump/newsvault/internal/store"
	"github.com/hyperjump/newsvault/pkg/utils"
)

// OutputFormat selects how command results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text", "json" or "" (text).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Status is the summary printed by the status command.
type Status struct {
	Documents  int64             `json:"documents"`
	Categories map[string]int64  `json:"categories"`
	Sources    map[string]int64  `json:"sources"`
	Vectors    store.Stats       `json:"vectors"`
	DiskUsage  storage.DiskUsage `json:"disk_usage"`
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
// Unknown formats are written as text.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d semantic and %d keyword results in %dms\n\n",
		response.TotalSemantic, response.TotalKeyword, response.QueryTime)
	if len(response.SemanticResults) > 0 {
		fmt.Fprintln(w, "--- Semantic results ---")
		for _, result := range response.SemanticResults {
			writeOneResult(w, result, "semantic")
		}
	}
	if len(response.KeywordResults) > 0 {
		fmt.Fprintln(w, "--- Keyword results ---")
		for _, result := range response.KeywordResults {
			writeOneResult(w, result, "keyword")
		}
	}
	return nil
}

func writeOneResult(w io.Writer, result *models.SearchResult, source string) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "[%s] Rank: %d | Score: %.4f\n", source, result.Rank, result.Score)
	fmt.Fprintf(w, "ID: %s\n", result.Document.ID)
	if result.Document.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", result.Document.Title)
	}
	if result.Document.Category != "" {
		fmt.Fprintf(w, "Category: %s\n", result.Document.Category)
	}
	text := result.Snippet
	if text == "" {
		text = utils.Truncate(result.Document.Content, 200)
	}
	fmt.Fprintf(w, "\n%s\n\n", text)
}

// WriteDocument writes a single document.
func WriteDocument(w io.Writer, doc *models.Document, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, doc)
	}
	fmt.Fprintf(w, "ID:       %s\n", doc.ID)
	fmt.Fprintf(w, "Title:    %s\n", doc.Title)
	fmt.Fprintf(w, "Category: %s\n", doc.Category)
	if doc.Source != "" {
		fmt.Fprintf(w, "Source:   %s\n", doc.Source)
	}
	if len(doc.Tags) > 0 {
		fmt.Fprintf(w, "Tags:     %s\n", strings.Join(doc.Tags, ", "))
	}
	fmt.Fprintf(w, "Summary:  %s\n", TruncateWords(doc.Summary, 40))
	return nil
}

// WriteStatus writes index and database statistics.
func WriteStatus(w io.Writer, st *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Documents:   %d\n", st.Documents)
	fmt.Fprintf(w, "Vectors:     %d (%d documents, dimension %d)\n",
		st.Vectors.Vectors, st.Vectors.Documents, st.Vectors.Dimension)
	fmt.Fprintf(w, "Generation:  %d\n", st.Vectors.Generation)
	fmt.Fprintf(w, "Index state: %s\n", st.Vectors.State)
	fmt.Fprintf(w, "Disk usage:  %s (db %s, keyword %s, vectors %s)\n",
		FormatBytes(st.DiskUsage.Total()), FormatBytes(st.DiskUsage.Database),
		FormatBytes(st.DiskUsage.Keyword), FormatBytes(st.DiskUsage.Vectors))
	writeCounts(w, "Categories", st.Categories)
	writeCounts(w, "Sources", st.Sources)
	return nil
}

func writeCounts(w io.Writer, label string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "%s:\n", label)
	for _, k := range keys {
		name := k
		if name == "" {
			name = "(none)"
		}
		fmt.Fprintf(w, "  %-20s %d\n", name, counts[k])
	}
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
