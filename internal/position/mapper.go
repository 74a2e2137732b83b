package position

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
)

// ErrOutOfRange is returned for offsets outside the serialized message.
var ErrOutOfRange = errors.New("offset out of range")

// Mapper resolves offsets and paths against one message. It keeps a segment Index that
// callers update with Apply after every edit. A Mapper is not safe for concurrent use.
type Mapper struct {
	msg   *model.Message
	index *Index
}

// NewMapper indexes msg.
func NewMapper(msg *model.Message) *Mapper {
	return &Mapper{msg: msg, index: NewIndex(msg)}
}

// Message returns the mapped message.
func (m *Mapper) Message() *model.Message { return m.msg }

// Index returns the segment index.
func (m *Mapper) Index() *Index { return m.index }

// Apply records an edit already applied to the message.
func (m *Mapper) Apply(ch model.Change) {
	m.index.Apply(ch, m.msg)
}

// PathAt returns the most specific node whose span holds offset. Delimiter bytes belong
// to the node that encloses both of their neighbours: a field separator maps to the
// segment, a component separator to its repetition. Segment terminators and the segment
// code map to the segment.
func (m *Mapper) PathAt(offset int) (model.Path, error) {
	if offset < 0 || offset >= m.msg.Len() {
		return model.Path{}, fmt.Errorf("offset %d: %w", offset, ErrOutOfRange)
	}
	idx, ok := m.index.Find(offset)
	if !ok {
		return model.Path{}, fmt.Errorf("offset %d: %w", offset, ErrOutOfRange)
	}
	seg := m.msg.Segments[idx]
	p := model.SegmentPath(idx)
	rel := offset - seg.Start
	if rel >= len(seg.Text) {
		return p, nil
	}

	fields := seg.Fields
	if len(fields) < 2 {
		return p, nil
	}
	n, ok := locate(len(fields)-1, func(i int) model.Span { return fields[i+1].Span }, rel)
	if !ok {
		return p, nil
	}
	p.Field = n + 1
	field := fields[p.Field]

	r, ok := locate(len(field.Reps), func(i int) model.Span { return field.Reps[i].Span }, rel)
	if !ok {
		return p, nil
	}
	p.Repetition = r + 1
	rep := field.Reps[r]

	c, ok := locate(len(rep.Components), func(i int) model.Span { return rep.Components[i].Span }, rel)
	if !ok {
		return p, nil
	}
	p.Component = c + 1
	comp := rep.Components[c]

	s, ok := locate(len(comp.Subs), func(i int) model.Span { return comp.Subs[i].Span }, rel)
	if !ok {
		return p, nil
	}
	p.Subcomponent = s + 1
	return p, nil
}

// locate finds the last of n sorted sibling spans starting at or before rel and reports
// whether it holds rel.
func locate(n int, span func(int) model.Span, rel int) (int, bool) {
	i := sort.Search(n, func(i int) bool { return span(i).Start > rel }) - 1
	if i < 0 {
		return 0, false
	}
	return i, span(i).Contains(rel)
}

// Span returns the message-relative span of the node at p.
func (m *Mapper) Span(p model.Path) (model.Span, error) {
	return m.msg.Span(p)
}

// SegmentAt returns the segment index holding offset.
func (m *Mapper) SegmentAt(offset int) (int, bool) {
	if offset < 0 || offset >= m.msg.Len() {
		return 0, false
	}
	return m.index.Find(offset)
}

// MessageAt returns the message of doc that holds a document offset, along with the
// offset relative to that message.
func MessageAt(doc *model.Document, offset int) (int, int, bool) {
	msgs := doc.Messages
	i := sort.Search(len(msgs), func(i int) bool { return msgs[i].Offset > offset }) - 1
	if i < 0 {
		return 0, 0, false
	}
	rel := offset - msgs[i].Offset
	if rel >= msgs[i].Len() {
		return 0, 0, false
	}
	return i, rel, true
}
