// Package model defines the HL7 v2 document tree: messages, segments, fields,
// repetitions, components and subcomponents, each carrying the byte span it came from.
package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/delim"
)

// ErrNoSuchNode is returned when a path does not address a node present in the tree.
var ErrNoSuchNode = errors.New("no such node")

// Subcomponent is a leaf of the tree.
type Subcomponent struct {
	Span Span
}

// Component holds one or more subcomponents.
type Component struct {
	Span Span
	Subs []Subcomponent
}

// Repetition holds one or more components.
type Repetition struct {
	Span       Span
	Components []Component
}

// Field holds one or more repetitions.
type Field struct {
	Span Span
	Reps []Repetition
}

// Segment is one line of a message. Field spans are relative to the segment start.
// Segments are never mutated in place once built apart from Start and Terminator.
type Segment struct {
	// ID is stable for the lifetime of the segment inside its message.
	ID   uint64
	Code string
	// Text is the raw segment text without its terminator.
	Text string
	// Terminator is the exact run of CR/LF bytes that followed the segment; empty at end of input.
	Terminator string
	// Start is the offset of the segment inside its message.
	Start int
	// Header is set for the delimiter-declaring segment (MSH, FHS, BHS).
	Header bool
	// Fields is indexed by field number; slot 0 is unused.
	Fields []Field
}

// FieldCount returns the number of fields present.
func (s *Segment) FieldCount() int {
	if len(s.Fields) == 0 {
		return 0
	}
	return len(s.Fields) - 1
}

// Field returns field n when present.
func (s *Segment) Field(n int) (*Field, bool) {
	if n < 1 || n >= len(s.Fields) {
		return nil, false
	}
	return &s.Fields[n], true
}

// Span returns the message-relative span of the segment text.
func (s *Segment) Span() Span {
	return Span{Start: s.Start, End: s.Start + len(s.Text)}
}

// End returns the offset just past the segment text.
func (s *Segment) End() int { return s.Start + len(s.Text) }

// Next returns the offset where the following segment starts.
func (s *Segment) Next() int { return s.End() + len(s.Terminator) }

// Raw returns the segment-relative span text.
func (s *Segment) Raw(span Span) string {
	return s.Text[span.Start:span.End]
}

// Literal reports whether field n holds undecoded delimiter declarations (MSH-1, MSH-2).
func (s *Segment) Literal(n int) bool {
	return s.Header && (n == 1 || n == 2)
}

// Message is one HL7 message: a header segment followed by zero or more segments.
type Message struct {
	Delims   delim.Set
	Segments []*Segment
	// Offset is the position of the message in the buffer it was parsed from.
	Offset int
	nextID uint64
}

// NewMessage assembles a message from built segments laid out contiguously.
func NewMessage(set delim.Set, segments []*Segment, offset int) *Message {
	m := &Message{Delims: set, Segments: segments, Offset: offset}
	pos := 0
	for _, seg := range segments {
		m.nextID++
		seg.ID = m.nextID
		seg.Start = pos
		pos = seg.Next()
	}
	return m
}

// Header returns the first segment.
func (m *Message) Header() *Segment {
	if len(m.Segments) == 0 {
		return nil
	}
	return m.Segments[0]
}

// Len returns the length of the serialized message.
func (m *Message) Len() int {
	if len(m.Segments) == 0 {
		return 0
	}
	return m.Segments[len(m.Segments)-1].Next()
}

// String serializes the message.
func (m *Message) String() string {
	var b strings.Builder
	b.Grow(m.Len())
	for _, seg := range m.Segments {
		b.WriteString(seg.Text)
		b.WriteString(seg.Terminator)
	}
	return b.String()
}

// Clone returns a copy that later edits to m do not affect.
func (m *Message) Clone() *Message {
	out := &Message{Delims: m.Delims, Offset: m.Offset, nextID: m.nextID, Segments: make([]*Segment, len(m.Segments))}
	for i, seg := range m.Segments {
		cp := *seg
		out.Segments[i] = &cp
	}
	return out
}

// SegmentByID returns the index of the segment with the given id.
func (m *Message) SegmentByID(id uint64) (int, bool) {
	for i, seg := range m.Segments {
		if seg.ID == id {
			return i, true
		}
	}
	return -1, false
}

// node resolves a path to its segment and segment-relative span.
func (m *Message) node(p Path) (*Segment, Span, error) {
	if !p.Valid() || p.Segment < 0 {
		return nil, Span{}, fmt.Errorf("path %s: %w", p, ErrNoSuchNode)
	}
	if p.Segment >= len(m.Segments) {
		return nil, Span{}, fmt.Errorf("path %s: %w", p, ErrNoSuchNode)
	}
	seg := m.Segments[p.Segment]
	if p.Field == 0 {
		return seg, Span{Start: 0, End: len(seg.Text)}, nil
	}
	field, ok := seg.Field(p.Field)
	if !ok {
		return nil, Span{}, fmt.Errorf("path %s: %w", p, ErrNoSuchNode)
	}
	if p.Repetition == 0 {
		return seg, field.Span, nil
	}
	if p.Repetition > len(field.Reps) {
		return nil, Span{}, fmt.Errorf("path %s: %w", p, ErrNoSuchNode)
	}
	rep := field.Reps[p.Repetition-1]
	if p.Component == 0 {
		return seg, rep.Span, nil
	}
	if p.Component > len(rep.Components) {
		return nil, Span{}, fmt.Errorf("path %s: %w", p, ErrNoSuchNode)
	}
	comp := rep.Components[p.Component-1]
	if p.Subcomponent == 0 {
		return seg, comp.Span, nil
	}
	if p.Subcomponent > len(comp.Subs) {
		return nil, Span{}, fmt.Errorf("path %s: %w", p, ErrNoSuchNode)
	}
	return seg, comp.Subs[p.Subcomponent-1].Span, nil
}

// Span returns the message-relative span of the node at p.
func (m *Message) Span(p Path) (Span, error) {
	if p.Segment < 0 && p == MessagePath {
		return Span{Start: 0, End: m.Len()}, nil
	}
	seg, span, err := m.node(p)
	if err != nil {
		return Span{}, err
	}
	return span.Shift(seg.Start), nil
}

// Has reports whether p addresses a present node.
func (m *Message) Has(p Path) bool {
	_, _, err := m.node(p)
	return err == nil
}

// Raw returns the encoded text of the node at p.
func (m *Message) Raw(p Path) (string, error) {
	seg, span, err := m.node(p)
	if err != nil {
		return "", err
	}
	return seg.Raw(span), nil
}

// Value returns the decoded text of the node at p. Missing nodes read as empty.
func (m *Message) Value(p Path) string {
	seg, span, err := m.node(p)
	if err != nil {
		return ""
	}
	raw := seg.Raw(span)
	if p.Field > 0 && seg.Literal(p.Field) {
		return raw
	}
	return m.Delims.Unescape(raw)
}

// Describe renders p with the segment code, e.g. "PID-5[1].1".
func (m *Message) Describe(p Path) string {
	if p.Segment < 0 {
		return "message"
	}
	head := fmt.Sprintf("#%d", p.Segment)
	if p.Segment < len(m.Segments) {
		head = m.Segments[p.Segment].Code
	}
	return formatPath(head, p)
}

// Version returns the declared version (MSH-12.1). File and batch headers declare none.
func (m *Message) Version() string {
	if !m.declares() {
		return ""
	}
	return strings.TrimSpace(m.Value(Path{Segment: 0, Field: 12, Repetition: 1, Component: 1}))
}

// ControlID returns MSH-10.
func (m *Message) ControlID() string {
	if !m.declares() {
		return ""
	}
	return m.Value(Path{Segment: 0, Field: 10, Repetition: 1})
}

func (m *Message) declares() bool {
	h := m.Header()
	return h != nil && h.Code == "MSH"
}

// MessageType is the decoded MSH-9 value.
type MessageType struct {
	Code      string
	Trigger   string
	Structure string
}

// String renders the type as CODE^TRIGGER.
func (t MessageType) String() string {
	if t.Trigger == "" {
		return t.Code
	}
	return t.Code + "^" + t.Trigger
}

// Type returns the message type declared in MSH-9.
func (m *Message) Type() MessageType {
	if !m.declares() {
		return MessageType{}
	}
	comp := func(n int) string {
		return m.Value(Path{Segment: 0, Field: 9, Repetition: 1, Component: n})
	}
	return MessageType{Code: comp(1), Trigger: comp(2), Structure: comp(3)}
}

// Occurrences returns the indices of segments with the given code.
func (m *Message) Occurrences(code string) []int {
	var out []int
	for i, seg := range m.Segments {
		if seg.Code == code {
			out = append(out, i)
		}
	}
	return out
}

// Failure records a message that could not be parsed.
type Failure struct {
	// Offset is the position of the message in the source buffer.
	Offset int
	// Text is the raw message text, kept so the document still round-trips.
	Text string
	Err  error
}

// Document is the ordered forest of messages parsed from one buffer.
type Document struct {
	// Leading holds terminator bytes that preceded the first message.
	Leading  string
	Messages []*Message
	Failures []*Failure
}

// String serializes the document, interleaving failed messages at their original offsets.
func (d *Document) String() string {
	var b strings.Builder
	b.WriteString(d.Leading)
	mi, fi := 0, 0
	for mi < len(d.Messages) || fi < len(d.Failures) {
		if fi >= len(d.Failures) || (mi < len(d.Messages) && d.Messages[mi].Offset < d.Failures[fi].Offset) {
			b.WriteString(d.Messages[mi].String())
			mi++
			continue
		}
		b.WriteString(d.Failures[fi].Text)
		fi++
	}
	return b.String()
}
