// Package citation renders ranked passages into the bracketed citation
// format used in generation prompts and, symmetrically, parses citation
// markers back out of generated answers for display.
//
// The wire format inside an answer is:
//
//	prose with inline [1] markers [2] ...
//	---CITATIONS---
//	[1]: (page: 3) leading excerpt of the passage
//	[2]: (page: 7) leading excerpt of the passage
//	---END CITATIONS---
package citation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/papyr-ai/papyr-go/internal/rag"
)

// Delimiters of the trailing citation block. These are part of the wire
// format: the generation prompt instructs the model to reproduce them
// verbatim and the parser splits on them.
const (
	BlockStart = "---CITATIONS---"
	BlockEnd   = "---END CITATIONS---"
)

// excerptLen bounds the leading excerpt embedded in a citation line.
const excerptLen = 160

// Citation is one parsed entry of the trailing block.
type Citation struct {
	// Index is the 1-based citation index.
	Index int
	// Page is the source page number (0 when the line carried none).
	Page int
	// Excerpt is the display text with the "[i]: (page: p)" prefix stripped.
	Excerpt string
	// Raw is the full citation line as generated.
	Raw string
}

// Segment is one run of an answer's prose: either plain text or a citation
// badge bound to a parsed Citation.
type Segment struct {
	// Text is the literal text of the run. For badge segments this is the
	// original bracket token (e.g. "[2]").
	Text string
	// Citation is non-nil for badge segments.
	Citation *Citation
}

// Message is a fully parsed answer: prose split into segments plus the
// citations of the trailing block.
type Message struct {
	// Segments is the prose in display order.
	Segments []Segment
	// Citations is the trailing block in index order (position i holds
	// index i+1 when the block is well formed).
	Citations []Citation
}

// ContextBlock renders the reranked passages into the newline-joined context
// injected into the generation prompt: one line "[i] text (page: p)" per
// passage, i following rerank order.
func ContextBlock(passages []rag.Passage) string {
	var sb strings.Builder
	for i, p := range passages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "[%d] %s (page: %d)", i+1, p.Text, p.Page)
	}
	return sb.String()
}

// ReferenceLines renders the expected trailing block lines for the reranked
// passages. The generation prompt embeds these so the model reproduces the
// exact excerpts instead of inventing its own.
func ReferenceLines(passages []rag.Passage) string {
	var sb strings.Builder
	for i, p := range passages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "[%d]: (page: %d) %s", i+1, p.Page, excerpt(p.Text))
	}
	return sb.String()
}

// excerpt returns the leading slice of text used in a citation line,
// cut at a rune boundary.
func excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= excerptLen {
		return text
	}
	return string(runes[:excerptLen]) + "…"
}

// markerRe matches an inline citation marker: a bracketed integer.
var markerRe = regexp.MustCompile(`\[(\d+)\]`)

// lineRe matches one trailing-block line: "[i]: (page: p) excerpt".
var lineRe = regexp.MustCompile(`^\[(\d+)\]:\s*\(page:\s*(\d+)\)\s*(.*)$`)

// Parse splits a generated answer into prose segments and citations.
//
// If the start delimiter is absent the whole text is returned as a single
// plain segment (plain-prose fallback). Inline markers referencing an index
// beyond the parsed block are left as literal text rather than failing, so
// a malformed or truncated block never breaks rendering.
func Parse(text string) Message {
	prose := text
	var citations []Citation

	if idx := strings.Index(text, BlockStart); idx >= 0 {
		prose = strings.TrimRight(text[:idx], "\n ")
		block := text[idx+len(BlockStart):]
		if end := strings.Index(block, BlockEnd); end >= 0 {
			block = block[:end]
		}
		citations = parseBlock(block)
	}

	return Message{
		Segments:  splitSegments(prose, citations),
		Citations: citations,
	}
}

// parseBlock parses the lines between the delimiters. Lines that do not
// match the citation shape are skipped.
func parseBlock(block string) []Citation {
	var citations []Citation
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		index, _ := strconv.Atoi(m[1])
		page, _ := strconv.Atoi(m[2])
		citations = append(citations, Citation{
			Index:   index,
			Page:    page,
			Excerpt: m[3],
			Raw:     line,
		})
	}
	return citations
}

// splitSegments scans prose for [i] markers and binds each to its citation.
// Out-of-range indices stay literal text.
func splitSegments(prose string, citations []Citation) []Segment {
	var segments []Segment
	last := 0
	for _, loc := range markerRe.FindAllStringSubmatchIndex(prose, -1) {
		start, end := loc[0], loc[1]
		index, _ := strconv.Atoi(prose[loc[2]:loc[3]])

		if index < 1 || index > len(citations) {
			continue // literal bracket text, keep in the surrounding run
		}

		if start > last {
			segments = append(segments, Segment{Text: prose[last:start]})
		}
		c := citations[index-1]
		segments = append(segments, Segment{Text: prose[start:end], Citation: &c})
		last = end
	}
	if last < len(prose) || len(segments) == 0 {
		segments = append(segments, Segment{Text: prose[last:]})
	}
	return segments
}

// Validate checks the contiguity invariant of a parsed message: citation
// indices form the exact sequence 1..N with no gaps or duplicates, and N
// does not exceed ranked, the number of passages passed to generation.
func Validate(m Message, ranked int) error {
	if len(m.Citations) > ranked {
		return fmt.Errorf("citation: %d citations but only %d ranked passages", len(m.Citations), ranked)
	}
	for i, c := range m.Citations {
		if c.Index != i+1 {
			return fmt.Errorf("citation: position %d holds index %d, want %d", i, c.Index, i+1)
		}
	}
	return nil
}
