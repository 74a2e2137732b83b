// Package parser turns raw HL7 v2 text into a document tree. Messages are split at header
// segments, each message resolves its own delimiter set, and a failure in one message
// never affects its neighbours.
package parser

import (
	"errors"
	"fmt"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/delim"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/tokenizer"
)

// ErrNoHeader is returned for text that does not start with MSH, FHS or BHS.
var ErrNoHeader = errors.New("message does not start with a header segment")

// Chunk is the raw text of one message and its position in the source buffer.
type Chunk struct {
	Offset int
	Text   string
}

// Split cuts src into message chunks at every segment that starts with a header code.
// Terminator bytes before the first header are returned as leading.
func Split(src string) (leading string, chunks []Chunk) {
	start := -1
	pos := 0
	for pos < len(src) {
		lineEnd := pos
		for lineEnd < len(src) && src[lineEnd] != '\r' && src[lineEnd] != '\n' {
			lineEnd++
		}
		if isHeaderLine(src[pos:lineEnd]) {
			if start >= 0 {
				chunks = append(chunks, Chunk{Offset: start, Text: src[start:pos]})
			}
			start = pos
		} else if start < 0 && lineEnd > pos {
			start = pos
		}
		next := lineEnd
		for next < len(src) && (src[next] == '\r' || src[next] == '\n') {
			next++
		}
		if start < 0 {
			leading = src[:next]
		}
		pos = next
	}
	if start >= 0 {
		chunks = append(chunks, Chunk{Offset: start, Text: src[start:]})
	}
	return leading, chunks
}

func isHeaderLine(line string) bool {
	if len(line) < 4 || !delim.IsHeaderCode(line[:3]) {
		return false
	}
	c := line[3]
	return !((c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9'))
}

// Result is a parsed document with its findings grouped by message.
type Result struct {
	Document *model.Document
	// Messages holds the findings of each parsed message, indexed like Document.Messages.
	Messages [][]diagnostics.Diagnostic
	// Failures holds one error per failed message, indexed like Document.Failures.
	Failures []diagnostics.Diagnostic
}

// Parse parses every message in src, keeping findings per message. Failure diagnostics
// carry the offending position in src as Location.Offset.
func Parse(src string) *Result {
	leading, chunks := Split(src)
	res := &Result{Document: &model.Document{Leading: leading}}
	for _, chunk := range chunks {
		msg, msgDiags, err := ParseMessage(chunk.Text, chunk.Offset)
		if err != nil {
			res.Document.Failures = append(res.Document.Failures, &model.Failure{Offset: chunk.Offset, Text: chunk.Text, Err: err})
			d := failureDiagnostic(err)
			d.Location.Offset = chunk.Offset
			if d.HasSpan {
				d.Location.Offset += d.Span.Start
			}
			res.Failures = append(res.Failures, d)
			continue
		}
		res.Document.Messages = append(res.Document.Messages, msg)
		res.Messages = append(res.Messages, msgDiags)
	}
	return res
}

// ParseAll parses every message in src. Messages that cannot be parsed are recorded as
// failures on the document and reported as error diagnostics whose Location.Offset is the
// offending position in src. Diagnostics are in source order.
func ParseAll(src string) (*model.Document, []diagnostics.Diagnostic) {
	res := Parse(src)
	doc := res.Document
	var diags []diagnostics.Diagnostic
	mi, fi := 0, 0
	for mi < len(doc.Messages) || fi < len(doc.Failures) {
		if fi >= len(doc.Failures) || (mi < len(doc.Messages) && doc.Messages[mi].Offset < doc.Failures[fi].Offset) {
			diags = append(diags, res.Messages[mi]...)
			mi++
			continue
		}
		diags = append(diags, res.Failures[fi])
		fi++
	}
	return doc, diags
}

func failureDiagnostic(err error) diagnostics.Diagnostic {
	if errors.Is(err, ErrNoHeader) {
		return diagnostics.Error(diagnostics.ReasonUnknownSegmentHeader, "%v", err).
			At(model.MessagePath, "").
			WithSpan(model.Span{Start: 0, End: 0}).
			WithSource("parser").
			Build()
	}
	return diagnostics.FromParseError(err, diagnostics.ReasonMalformedHeader)
}

// ParseMessage parses the text of a single message. offset is recorded on the message as
// its position in the enclosing buffer. The returned diagnostics are non-fatal findings;
// a non-nil error means the message could not be parsed at all.
func ParseMessage(text string, offset int) (*model.Message, []diagnostics.Diagnostic, error) {
	if !isHeaderLine(text) {
		return nil, nil, fmt.Errorf("offset %d: %w", offset, ErrNoHeader)
	}
	set, err := delim.Resolve(text)
	if err != nil {
		return nil, nil, err
	}
	segments, err := scanSegments(text, set)
	if err != nil {
		return nil, nil, err
	}
	msg := model.NewMessage(set, segments, offset)
	var diags []diagnostics.Diagnostic
	for i, seg := range msg.Segments[1:] {
		if model.ValidCode(seg.Code) {
			continue
		}
		p := model.SegmentPath(i + 1)
		diags = append(diags, diagnostics.Warning(diagnostics.ReasonMalformedSegmentCode, "segment code %q is not three upper-case letters or digits", seg.Code).
			At(p, seg.Code).
			WithSpan(model.Span{Start: seg.Start, End: seg.Start + len(seg.Code)}).
			WithSource("parser").
			Build())
	}
	return msg, diags, nil
}

func scanSegments(text string, set delim.Set) ([]*model.Segment, error) {
	sc := tokenizer.NewScanner(text, set)
	var (
		segments []*model.Segment
		b        *model.SegmentBuilder
	)
	for {
		tok, err := sc.Next()
		if err != nil {
			return nil, err
		}
		switch tok.Kind {
		case tokenizer.KindCode:
			b = model.NewSegmentBuilder(text, tok.Start)
			b.Add(tok)
		case tokenizer.KindTerminator:
			if b == nil {
				continue
			}
			seg := b.Finish(tok.Start)
			seg.Terminator = tok.Text(text)
			segments = append(segments, seg)
			b = nil
		case tokenizer.KindEOF:
			if b != nil {
				segments = append(segments, b.Finish(tok.Start))
			}
			return segments, nil
		default:
			b.Add(tok)
		}
	}
}

// ParseSegment parses one segment text (without terminator) under set.
func ParseSegment(text string, set delim.Set) (*model.Segment, error) {
	return model.BuildSegment(text, set)
}
