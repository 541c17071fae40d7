package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	_ Extractor         = (*PDFExtractor)(nil)
	_ MetadataExtractor = (*PDFExtractor)(nil)
)

// PDFExtractor extracts text page by page from PDF documents.
type PDFExtractor struct{}

// NewPDFExtractor creates a PDF extractor.
func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

// Extract extracts plain text from a PDF document.
func (e *PDFExtractor) Extract(content []byte) (string, error) {
	result, err := e.ExtractWithMeta(content)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// ExtractWithMeta extracts text with one PageMeta per non-empty page. Pages
// are separated by a blank line.
func (e *PDFExtractor) ExtractWithMeta(content []byte) (ExtractResult, error) {
	if len(content) == 0 {
		return ExtractResult{}, errors.New("empty PDF content")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return ExtractResult{}, fmt.Errorf("open pdf: %w", err)
	}

	var out strings.Builder
	var meta []PageMeta
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		start := out.Len()
		out.WriteString(pageText)
		meta = append(meta, PageMeta{PageNumber: i, StartByte: start, EndByte: out.Len()})
	}
	return ExtractResult{Text: out.String(), Meta: meta}, nil
}
