package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePDF struct {
	text string
	err  error
	got  []byte
}

func (f *fakePDF) ExtractText(_ context.Context, data []byte) (string, error) {
	f.got = data
	return f.text, f.err
}

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const sampleDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Patient ID: P-001</w:t></w:r></w:p>
    <w:p><w:r><w:t>NPI</w:t><w:tab/><w:t>1234567890</w:t></w:r></w:p>
    <w:p><w:r><w:t xml:space="preserve">Diagnosis </w:t></w:r><w:r><w:t>S72.0</w:t></w:r></w:p>
  </w:body>
</w:document>`

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		want        Kind
	}{
		{"pdf content type", "upload", "application/pdf", KindPDF},
		{"content type with params", "x", "application/pdf; charset=binary", KindPDF},
		{"docx content type", "x", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", KindDocx},
		{"pdf extension", "claim.PDF", "application/octet-stream", KindPDF},
		{"docx extension", "claim.docx", "", KindDocx},
		{"plain text", "claim.txt", "text/plain", KindText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectKind(tt.filename, tt.contentType))
		})
	}
}

func TestDocxText(t *testing.T) {
	text, err := DocxText(buildDocx(t, sampleDocumentXML))
	require.NoError(t, err)

	assert.Contains(t, text, "Patient ID: P-001\n")
	assert.Contains(t, text, "NPI\t1234567890\n")
	assert.Contains(t, text, "Diagnosis S72.0\n")
}

func TestDocxText_Invalid(t *testing.T) {
	_, err := DocxText([]byte("not a zip"))
	assert.Error(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err = zw.Create("word/other.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = DocxText(buf.Bytes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no word/document.xml")
}

func TestExtractorText(t *testing.T) {
	pdf := &fakePDF{text: "pdf text"}
	x := NewExtractorWithPDF(pdf)
	ctx := context.Background()

	text, err := x.Text(ctx, "a.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "pdf text", text)
	assert.Equal(t, []byte("%PDF"), pdf.got)

	text, err = x.Text(ctx, "a.txt", "text/plain", []byte("Patient ID: P1"))
	require.NoError(t, err)
	assert.Equal(t, "Patient ID: P1", text)

	text, err = x.Text(ctx, "a.bin", "", []byte{0xff, 0xfe, 0x00})
	require.NoError(t, err)
	assert.Empty(t, text)

	text, err = x.Text(ctx, "a.docx", "", buildDocx(t, sampleDocumentXML))
	require.NoError(t, err)
	assert.Contains(t, text, "S72.0")
}

func TestExtractorText_PDFError(t *testing.T) {
	x := NewExtractorWithPDF(&fakePDF{err: errors.New("boom")})

	_, err := x.Text(context.Background(), "a.pdf", "", nil)
	assert.Error(t, err)
}

func TestPdfToText_BinPath(t *testing.T) {
	p := NewPdfToText("")
	assert.Equal(t, "pdftotext", p.binPath)

	p = NewPdfToText("/custom/pdftotext")
	assert.Equal(t, "/custom/pdftotext", p.binPath)
}

func TestPdfToText_MissingBinary(t *testing.T) {
	p := NewPdfToText("/nonexistent/pdftotext")

	_, err := p.ExtractText(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}
