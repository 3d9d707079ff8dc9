package ingest

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFParser extracts page-level text from uploaded PDFs using pdfcpu.
// Scanned (image-only) pages come back as empty strings; they still count
// toward the page total and still get a vector so citations can point at
// them by page number.
type PDFParser struct {
	conf *model.Configuration
}

// NewPDFParser returns a parser with relaxed validation, which accepts the
// slightly out-of-spec PDFs that office suites commonly produce.
func NewPDFParser() *PDFParser {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFParser{conf: conf}
}

// Pages validates the document and returns one text unit per page, in
// page order.
func (p *PDFParser) Pages(rs io.ReadSeeker) ([]string, error) {
	if err := api.Validate(rs, p.conf); err != nil {
		return nil, fmt.Errorf("ingest: invalid pdf: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ingest: rewind: %w", err)
	}

	count, err := api.PageCount(rs, p.conf)
	if err != nil {
		return nil, fmt.Errorf("ingest: page count: %w", err)
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ingest: rewind: %w", err)
	}
	ctx, err := api.ReadValidateAndOptimize(rs, p.conf)
	if err != nil {
		return nil, fmt.Errorf("ingest: read context: %w", err)
	}

	pages := make([]string, 0, count)
	for n := 1; n <= count; n++ {
		r, err := pdfcpu.ExtractPageContent(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("ingest: extract page %d: %w", n, err)
		}
		if r == nil {
			pages = append(pages, "")
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("ingest: read page %d: %w", n, err)
		}
		pages = append(pages, decodeText(content))
	}
	return pages, nil
}

// decodeText pulls the text-showing operators (Tj, TJ, ', ") out of a
// decoded page content stream. pdfcpu hands back the raw operator stream;
// it has no text extractor of its own, so the string operands are decoded
// here. Glyph encoding beyond the PDF string escapes is not resolved,
// which is good enough for the latin-script documents papyr targets.
func decodeText(content []byte) string {
	var sb strings.Builder
	i := 0
	for i < len(content) {
		switch content[i] {
		case '(':
			s, next := parseLiteralString(content, i)
			if isShowOp(content, next) {
				sb.WriteString(s)
				sb.WriteByte(' ')
			}
			i = next
		case '[':
			s, next := parseArrayString(content, i)
			if isShowOp(content, next) {
				sb.WriteString(s)
				sb.WriteByte(' ')
			}
			i = next
		default:
			i++
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// isShowOp reports whether the next operator token after pos is one of the
// text-showing operators.
func isShowOp(content []byte, pos int) bool {
	for pos < len(content) && (content[pos] == ' ' || content[pos] == '\n' || content[pos] == '\r' || content[pos] == '\t') {
		pos++
	}
	rest := content[pos:]
	for _, op := range [][]byte{[]byte("Tj"), []byte("TJ"), []byte("'"), []byte("\"")} {
		if bytes.HasPrefix(rest, op) {
			return true
		}
	}
	return false
}

// parseLiteralString decodes one parenthesized PDF string starting at
// content[start] == '(' and returns the decoded text plus the index just
// past the closing parenthesis.
func parseLiteralString(content []byte, start int) (string, int) {
	var sb strings.Builder
	depth := 0
	i := start
	for i < len(content) {
		c := content[i]
		switch c {
		case '\\':
			if i+1 < len(content) {
				switch content[i+1] {
				case 'n':
					sb.WriteByte('\n')
				case 'r', 't', 'b', 'f':
					sb.WriteByte(' ')
				case '(', ')', '\\':
					sb.WriteByte(content[i+1])
				}
				i += 2
				continue
			}
			i++
		case '(':
			depth++
			if depth > 1 {
				sb.WriteByte(c)
			}
			i++
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
			i++
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String(), i
}

// parseArrayString decodes the string elements of a TJ array starting at
// content[start] == '[', skipping the kerning numbers between them.
func parseArrayString(content []byte, start int) (string, int) {
	var sb strings.Builder
	i := start + 1
	for i < len(content) && content[i] != ']' {
		if content[i] == '(' {
			s, next := parseLiteralString(content, i)
			sb.WriteString(s)
			i = next
			continue
		}
		i++
	}
	if i < len(content) {
		i++ // past ']'
	}
	return sb.String(), i
}
