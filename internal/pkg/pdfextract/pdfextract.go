package pdfextract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// Extractor reads page ranges out of stored PDF files. It implements the
// planner's TextPageExtractor boundary.
type Extractor struct{}

func New() Extractor { return Extractor{} }

// PageCount returns the number of pages in the PDF at path.
func (Extractor) PageCount(path string) (int, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf failed: %w", err)
	}
	defer f.Close()
	return reader.NumPage(), nil
}

// ExtractRange extracts normalized plain text from the zero-based page
// window [pageStart, pageEnd), truncated to maxChars. Pages with no
// extractable text are skipped; an empty string means nothing was
// extractable in the whole window.
func (Extractor) ExtractRange(path string, pageStart, pageEnd, maxChars int) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf failed: %w", err)
	}
	defer f.Close()

	if pageEnd > reader.NumPage() {
		pageEnd = reader.NumPage()
	}

	var parts []string
	remaining := maxChars
	for i := pageStart; i < pageEnd && remaining > 0; i++ {
		page := reader.Page(i + 1) // pdf pages are one-based
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
		if text == "" {
			continue
		}
		if len(text) > remaining {
			parts = append(parts, text[:remaining])
			remaining = 0
			break
		}
		parts = append(parts, text)
		remaining -= len(text)
	}
	return strings.Join(parts, "\n"), nil
}
