package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultBody  = "word/document.xml"
	docxContentTypes = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	docxOverride  = regexp.MustCompile(`<Override\s[^>]*>`)
	docxPartName  = regexp.MustCompile(`PartName="([^"]+)"`)
	docxParagraph = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	docxRow       = regexp.MustCompile(`(?s)<w:tr[ >].*?</w:tr>`)
	docxCell      = regexp.MustCompile(`(?s)<w:tc[ >].*?</w:tc>`)
	docxText      = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	docxTable     = regexp.MustCompile(`(?s)<w:tbl>.*?</w:tbl>`)
)

// extractDOCX returns the document's paragraphs separated by blank lines,
// followed by table rows with cells joined by " | ".
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}

	bodyPath := docxDefaultBody
	if ct, err := readZipEntry(zr, docxContentTypes); err == nil {
		if p := mainPartFromContentTypes(string(ct)); p != "" {
			bodyPath = p
		}
	}
	body, err := readZipEntry(zr, bodyPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}

	xml := string(body)
	tables := docxTable.FindAllString(xml, -1)
	prose := docxTable.ReplaceAllString(xml, "")

	var blocks []string
	for _, p := range docxParagraph.FindAllString(prose, -1) {
		if text := runText(p); text != "" {
			blocks = append(blocks, text)
		}
	}
	for _, tbl := range tables {
		for _, row := range docxRow.FindAllString(tbl, -1) {
			var cells []string
			for _, cell := range docxCell.FindAllString(row, -1) {
				if text := runText(cell); text != "" {
					cells = append(cells, text)
				}
			}
			if len(cells) > 0 {
				blocks = append(blocks, strings.Join(cells, " | "))
			}
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}

func runText(fragment string) string {
	var b strings.Builder
	for _, m := range docxText.FindAllStringSubmatch(fragment, -1) {
		b.WriteString(html.UnescapeString(m[1]))
	}
	return strings.TrimSpace(b.String())
}

func mainPartFromContentTypes(ct string) string {
	for _, o := range docxOverride.FindAllString(ct, -1) {
		if !strings.Contains(o, `ContentType="`+docxMainType+`"`) {
			continue
		}
		if m := docxPartName.FindStringSubmatch(o); m != nil {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return ""
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found", name)
}
