// Package extract turns uploaded documents into plain text.
package extract

import (
	"context"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Kind is the document family detected from content type and file name.
type Kind int

const (
	KindText Kind = iota
	KindPDF
	KindDocx
)

// PDFExtractor extracts text from PDF bytes.
type PDFExtractor interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
}

// Extractor dispatches documents to the matching text extractor.
type Extractor struct {
	pdf PDFExtractor
}

// NewExtractor creates an Extractor that shells out to pdftotext at pdfToTextPath.
func NewExtractor(pdfToTextPath string) *Extractor {
	return &Extractor{pdf: NewPdfToText(pdfToTextPath)}
}

// NewExtractorWithPDF creates an Extractor with a custom PDF backend.
func NewExtractorWithPDF(pdf PDFExtractor) *Extractor {
	return &Extractor{pdf: pdf}
}

// DetectKind classifies a document by content type, falling back to the file extension.
func DetectKind(filename, contentType string) Kind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "application/pdf":
		return KindPDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/msword":
		return KindDocx
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return KindPDF
	case ".docx", ".doc":
		return KindDocx
	}
	return KindText
}

// Text returns the document's text. Plain documents that are not valid UTF-8 yield "".
func (x *Extractor) Text(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	switch DetectKind(filename, contentType) {
	case KindPDF:
		return x.pdf.ExtractText(ctx, data)
	case KindDocx:
		return DocxText(data)
	default:
		if !utf8.Valid(data) {
			return "", nil
		}
		return string(data), nil
	}
}
