package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/markdave123-py/contexta/internal/core"
	"github.com/markdave123-py/contexta/internal/models"
)

var _ core.TextExtractor = (*DocconvExtractor)(nil)

const PDFContentType = "application/pdf"

var pdfMagic = []byte("%PDF-")

// IsPDF sniffs the file header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfMagic)
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &DocconvExtractor{useReadability: useReadability, pdfConf: conf}
}

// Extract validates the PDF with pdfcpu, counts its pages and pulls the text
// of every page with docconv. Anything that no retry can fix is reported as
// ErrUnprocessableContent.
func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, contentType string) (*models.ExtractedText, error) {
	if contentType != "" && contentType != PDFContentType {
		return nil, fmt.Errorf("%w: unsupported content type %q", core.ErrUnprocessableContent, contentType)
	}
	if !IsPDF(data) {
		return nil, fmt.Errorf("%w: file is not a PDF", core.ErrUnprocessableContent)
	}

	pages, err := api.PageCount(bytes.NewReader(data), e.pdfConf)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid PDF: %v", core.ErrUnprocessableContent, err)
	}

	res, err := docconv.Convert(bytes.NewReader(data), PDFContentType, e.useReadability)
	if err != nil {
		return nil, fmt.Errorf("%w: text extraction failed: %v", core.ErrUnprocessableContent, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := NormalizeText(res.Body)
	if text == "" {
		return nil, fmt.Errorf("%w: no extractable text", core.ErrUnprocessableContent)
	}
	return &models.ExtractedText{Text: text, PageCount: pages}, nil
}

var (
	inlineSpace = regexp.MustCompile(`[ \t\f\v\r]+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
)

// NormalizeText collapses runs of spaces, trims every line and keeps at most
// one blank line between paragraphs so the chunker can still see them.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = inlineSpace.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
