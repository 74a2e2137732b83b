package diagnostics

import (
	"sort"
	"strings"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
)

// LineIndex maps byte offsets of a source buffer to 1-based line and column numbers.
// CR, LF and CRLF all end a line.
type LineIndex struct {
	path   string
	starts []int
}

// NewLineIndex indexes the line starts of src.
func NewLineIndex(path, src string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(src); i++ {
		switch src[i] {
		case '\r':
			if i+1 < len(src) && src[i+1] == '\n' {
				i++
			}
			starts = append(starts, i+1)
		case '\n':
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{path: path, starts: starts}
}

// Locate returns the location of offset.
func (x *LineIndex) Locate(offset int) Location {
	line := sort.Search(len(x.starts), func(i int) bool { return x.starts[i] > offset })
	if line == 0 {
		line = 1
	}
	return Location{Path: x.path, Line: line, Column: offset - x.starts[line-1] + 1, Offset: offset}
}

// Resolve fills in the file location of diagnostics anchored in msg, using the message
// offset within the indexed buffer.
func (x *LineIndex) Resolve(msg *model.Message, diags []Diagnostic) []Diagnostic {
	out := make([]Diagnostic, len(diags))
	for i, d := range diags {
		offset := msg.Offset
		switch {
		case d.HasSpan:
			offset += d.Span.Start
		case d.Path.Segment >= 0 && d.Path.Segment < len(msg.Segments):
			offset += msg.Segments[d.Path.Segment].Start
		}
		d.Location = x.Locate(offset)
		out[i] = d
	}
	return out
}

// SnippetExtractor renders a segment with a marker under the offending span.
type SnippetExtractor struct {
	maxLength int
}

// NewSnippetExtractor creates a new snippet extractor.
func NewSnippetExtractor() *SnippetExtractor {
	return &SnippetExtractor{maxLength: 80}
}

// WithMaxLength sets the maximum snippet length.
func (e *SnippetExtractor) WithMaxLength(maxLen int) *SnippetExtractor {
	e.maxLength = maxLen
	return e
}

// Extract returns the segment text around d's span followed by a marker line.
func (e *SnippetExtractor) Extract(msg *model.Message, d Diagnostic) string {
	if d.Path.Segment < 0 || d.Path.Segment >= len(msg.Segments) {
		return ""
	}
	seg := msg.Segments[d.Path.Segment]
	text := seg.Text
	start, end := 0, 0
	if d.HasSpan {
		start = d.Span.Start - seg.Start
		end = d.Span.End - seg.Start
	}
	start = max(0, min(start, len(text)))
	end = max(start, min(end, len(text)))

	from := 0
	if len(text) > e.maxLength && start > e.maxLength/2 {
		from = start - e.maxLength/2
	}
	to := min(len(text), from+e.maxLength)
	var b strings.Builder
	if from > 0 {
		b.WriteString("...")
	}
	b.WriteString(text[from:to])
	if to < len(text) {
		b.WriteString("...")
	}
	b.WriteByte('\n')
	pad := start - from
	if from > 0 {
		pad += 3
	}
	b.WriteString(strings.Repeat(" ", pad))
	width := max(1, min(end, to)-start)
	b.WriteString(strings.Repeat("^", width))
	return b.String()
}
