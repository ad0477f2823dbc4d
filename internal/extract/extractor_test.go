package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func docxBody(inner string) string {
	return `<w:document ` + wordNS + `><w:body>` + inner + `</w:body></w:document>`
}

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	tests := []struct {
		name    string
		content string
		ext     string
		want    string
	}{
		{"txt", "Hello world\nLine 2", ".txt", "Hello world\nLine 2"},
		{"utf8", "caf\xc3\xa9", ".rst", "café"},
		{"invalid utf8", "hello\x80world", "txt", "hello�world"},
		{"upper-case extension", "x", ".TXT", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ExtractBytes([]byte(tt.content), tt.ext)
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractBytes_markdown(t *testing.T) {
	md := "# Market update\n\nStocks **rallied** on [news](https://example.com).\n\n- first\n- second\n\n```go\n```\n<b>done</b>"
	got, err := NewExtractor().ExtractBytes([]byte(md), ".md")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "Market update\n\nStocks rallied on news.\n\nfirst\nsecond\n\n\n\ndone"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractBytes_unsupported(t *testing.T) {
	_, err := NewExtractor().ExtractBytes([]byte("raw"), ".xyz")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	if Supported(".xyz") || !Supported("PDF") || !Supported(".docx") {
		t.Error("Supported reported wrong result")
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "=== Sheet1 ===\nTitle\nValue 1 | Value 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docx(t *testing.T) {
	body := docxBody(`<w:p w:rsidR="00AB"><w:pPr><w:pStyle w:val="Title"/></w:pPr><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t xml:space="preserve"> report</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Revenue &amp; costs</w:t></w:r></w:p>` +
		`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>Q1</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>10</w:t></w:r></w:p></w:tc></w:tr></w:tbl>`)
	content := zipOf(t, map[string]string{"word/document.xml": body})

	got, err := NewExtractor().ExtractBytes(content, ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "Quarterly report\n\nRevenue & costs\n\nQ1 | 10"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractBytes_docxContentTypes(t *testing.T) {
	for name, override := range map[string]string{
		"part name first":    `<Override PartName="/word/document2.xml" ContentType="` + docxMainType + `"/>`,
		"content type first": `<Override ContentType="` + docxMainType + `" PartName="/word/document2.xml"/>`,
	} {
		t.Run(name, func(t *testing.T) {
			content := zipOf(t, map[string]string{
				docxContentTypes:     `<Types>` + override + `</Types>`,
				"word/document2.xml": docxBody(`<w:p><w:r><w:t>Relocated body</w:t></w:r></w:p>`),
			})
			got, err := NewExtractor().ExtractBytes(content, ".docx")
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != "Relocated body" {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestExtractBytes_docxErrors(t *testing.T) {
	e := NewExtractor()
	if _, err := e.ExtractBytes([]byte("not a zip"), ".docx"); err == nil {
		t.Error("expected error for invalid docx")
	}
	if _, err := e.ExtractBytes(zipOf(t, map[string]string{"other.xml": ""}), ".docx"); err == nil {
		t.Error("expected error when body is missing")
	}
}

func TestExtract_files(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(txt, []byte("File content"), 0600); err != nil {
		t.Fatal(err)
	}
	xlsx := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Searchable text")
	if err := f.SaveAs(xlsx); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	e := NewExtractor()
	got, err := e.Extract(txt)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "File content" {
		t.Errorf("got %q", got)
	}
	got, err = e.Extract(xlsx)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "=== Sheet1 ===\nSearchable text" {
		t.Errorf("got %q", got)
	}
	if _, err := e.Extract(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestParse(t *testing.T) {
	p, err := NewExtractor().Parse("reports/Weekly Brief.md", []byte("## Body"))
	if err != nil {
		t.Fatal(err)
	}
	if p.Title != "Weekly Brief" || p.Content != "Body" {
		t.Errorf("got %+v", p)
	}
	if _, err := NewExtractor().Parse("archive.zip", nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestExtensions(t *testing.T) {
	exts := Extensions()
	if len(exts) != 6 || exts[0] != ".docx" {
		t.Errorf("Extensions = %v", exts)
	}
}
