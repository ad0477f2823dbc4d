// Package extract turns uploaded and watched files into plain text documents.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupported is returned for file extensions with no registered parser.
var ErrUnsupported = errors.New("unsupported file type")

type parseFunc func(content []byte) (string, error)

var parsers = map[string]parseFunc{
	".txt":  extractPlain,
	".rst":  extractPlain,
	".md":   extractMarkdown,
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".xlsx": extractExcel,
}

// Parsed is the result of parsing a file: a title derived from the file name and its text.
type Parsed struct {
	Title   string
	Content string
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Supported reports whether ext (with or without the leading dot) has a parser.
func Supported(ext string) bool {
	_, ok := parsers[normalizeExt(ext)]
	return ok
}

// Extensions lists supported extensions, sorted, each with a leading dot.
func Extensions() []string {
	out := make([]string, 0, len(parsers))
	for ext := range parsers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	parse, ok := parsers[normalizeExt(ext)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return parse(content)
}

// Parse extracts content from an uploaded file. The title is the file name without its extension.
func (e *Extractor) Parse(filename string, content []byte) (*Parsed, error) {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	text, err := e.ExtractBytes(content, ext)
	if err != nil {
		return nil, err
	}
	return &Parsed{Title: strings.TrimSuffix(base, ext), Content: text}, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
