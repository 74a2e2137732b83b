package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/delim"
)

// EditReason classifies rejected edits.
type EditReason string

const (
	ReasonStructureViolation EditReason = "StructureViolation"
	ReasonNoSuchNode         EditReason = "NoSuchNode"
	ReasonInvalidPath        EditReason = "InvalidPath"
	ReasonHeaderProtected    EditReason = "HeaderProtected"
	ReasonInvalidSegment     EditReason = "InvalidSegment"
)

// EditError reports an edit that was rejected without touching the tree.
type EditError struct {
	Reason  EditReason
	Path    Path
	Message string
	Err     error
}

func (e *EditError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %s: %v", e.Reason, e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("%s at %s: %s", e.Reason, e.Path, e.Message)
}

func (e *EditError) Unwrap() error { return e.Err }

// Change describes what an applied edit did to the tree.
type Change struct {
	// Touched is the minimal set of paths whose content changed.
	Touched []Path
	// Spans holds the message-relative span of each touched path after the edit. Removed
	// nodes report an empty span at the removal point.
	Spans []Span
	// ShiftFrom is the first segment index whose offsets moved by Delta.
	ShiftFrom int
	Delta     int
	// Retokenized is set when the delimiter set changed and every segment was rebuilt.
	Retokenized bool
}

// ValidCode reports whether code is a well-formed three character segment code.
func ValidCode(code string) bool {
	if len(code) != 3 || code[0] < 'A' || code[0] > 'Z' {
		return false
	}
	for i := 1; i < 3; i++ {
		c := code[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// CheckRaw verifies that raw encoded text can stand as a node at level l: it may carry
// only the delimiters of deeper levels and every escape sequence must be closed.
func CheckRaw(raw string, l Level, set delim.Set) error {
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '\r' || c == '\n':
			return fmt.Errorf("segment terminator at offset %d", i)
		case c == set.Escape:
			if i+1 < len(raw) && set.IsControl(raw[i+1]) {
				i++
				continue
			}
			j := i + 1
			for j < len(raw) && raw[j] != set.Escape {
				if raw[j] == '\r' || raw[j] == '\n' || set.IsDelimiter(raw[j]) {
					break
				}
				j++
			}
			if j >= len(raw) || raw[j] != set.Escape {
				return fmt.Errorf("unterminated escape sequence at offset %d", i)
			}
			i = j
		case c == set.Field:
			return fmt.Errorf("unescaped field separator at offset %d", i)
		case c == set.Repetition && l > LevelField:
			return fmt.Errorf("unescaped repetition separator at offset %d", i)
		case c == set.Component && l > LevelRepetition:
			return fmt.Errorf("unescaped component separator at offset %d", i)
		case c == set.Subcomponent && l > LevelComponent:
			return fmt.Errorf("unescaped subcomponent separator at offset %d", i)
		}
	}
	return nil
}

// Replace sets the encoded text of the node at p. Missing fields, repetitions, components
// and subcomponents on the way to p are created empty. Replacing MSH-1 or MSH-2 changes
// the delimiter set and re-tokenizes the whole message.
func (m *Message) Replace(p Path, raw string) (Change, error) {
	if err := m.checkTarget(p); err != nil {
		return Change{}, err
	}
	seg := m.Segments[p.Segment]
	if seg.Literal(p.Field) {
		return m.replaceDelimiters(p, raw)
	}
	if err := CheckRaw(raw, p.Level(), m.Delims); err != nil {
		return Change{}, &EditError{Reason: ReasonStructureViolation, Path: p, Message: "value does not fit the node", Err: err}
	}
	text := seg.rewrite(p, m.Delims, func(list []string, i int) ([]string, error) {
		return put(list, i, raw), nil
	})
	return m.rebuild(p.Segment, text, []Path{p})
}

// SetValue stores a logical value at p, escaping the delimiters it contains so that
// Value(p) reads it back unchanged. MSH-1 and MSH-2 take value as their literal text.
func (m *Message) SetValue(p Path, value string) (Change, error) {
	if err := m.checkTarget(p); err != nil {
		return Change{}, err
	}
	if m.Segments[p.Segment].Literal(p.Field) {
		return m.Replace(p, value)
	}
	return m.Replace(p, m.Delims.EscapeValue(value))
}

// InsertRepetition inserts a repetition before position p.Repetition of its field. A
// position one past the last repetition appends.
func (m *Message) InsertRepetition(p Path, raw string) (Change, error) {
	if p.Level() != LevelRepetition {
		return Change{}, &EditError{Reason: ReasonInvalidPath, Path: p, Message: "expected a repetition path"}
	}
	if err := m.checkTarget(p); err != nil {
		return Change{}, err
	}
	seg := m.Segments[p.Segment]
	if seg.Literal(p.Field) {
		return Change{}, &EditError{Reason: ReasonHeaderProtected, Path: p, Message: "delimiter fields do not repeat"}
	}
	if err := CheckRaw(raw, LevelRepetition, m.Delims); err != nil {
		return Change{}, &EditError{Reason: ReasonStructureViolation, Path: p, Message: "value does not fit a repetition", Err: err}
	}
	text, err := seg.rewriteErr(p, m.Delims, func(list []string, i int) ([]string, error) {
		// An empty field has no repetition worth keeping.
		if len(list) == 1 && list[0] == "" {
			return []string{raw}, nil
		}
		if i > len(list) {
			return nil, fmt.Errorf("repetition %d is past the end of the field", i+1)
		}
		return slices.Insert(list, i, raw), nil
	})
	if err != nil {
		return Change{}, &EditError{Reason: ReasonNoSuchNode, Path: p, Message: "cannot insert repetition", Err: err}
	}
	return m.rebuild(p.Segment, text, []Path{p.Truncate(LevelField)})
}

// RemoveRepetition deletes the repetition at p.
func (m *Message) RemoveRepetition(p Path) (Change, error) {
	if p.Level() != LevelRepetition {
		return Change{}, &EditError{Reason: ReasonInvalidPath, Path: p, Message: "expected a repetition path"}
	}
	if err := m.checkTarget(p); err != nil {
		return Change{}, err
	}
	seg := m.Segments[p.Segment]
	if seg.Literal(p.Field) {
		return Change{}, &EditError{Reason: ReasonHeaderProtected, Path: p, Message: "delimiter fields do not repeat"}
	}
	if !m.Has(p) {
		return Change{}, &EditError{Reason: ReasonNoSuchNode, Path: p, Message: "repetition not present", Err: ErrNoSuchNode}
	}
	text := seg.rewrite(p, m.Delims, func(list []string, i int) ([]string, error) {
		return slices.Delete(list, i, i+1), nil
	})
	return m.rebuild(p.Segment, text, []Path{p.Truncate(LevelField)})
}

// InsertSegment inserts a segment, given as its text without terminator, before index idx.
// idx equal to the segment count appends.
func (m *Message) InsertSegment(idx int, text string) (Change, error) {
	p := SegmentPath(idx)
	switch {
	case idx == 0:
		return Change{}, &EditError{Reason: ReasonHeaderProtected, Path: p, Message: "the header must stay first"}
	case idx < 0 || idx > len(m.Segments):
		return Change{}, &EditError{Reason: ReasonNoSuchNode, Path: p, Message: "segment index out of range", Err: ErrNoSuchNode}
	}
	if len(text) < 3 || !ValidCode(text[:3]) || (len(text) > 3 && text[3] != m.Delims.Field) {
		return Change{}, &EditError{Reason: ReasonInvalidSegment, Path: p, Message: "segment text must start with a three character code"}
	}
	if delim.IsHeaderCode(text[:3]) {
		return Change{}, &EditError{Reason: ReasonInvalidSegment, Path: p, Message: "header segments open a new message"}
	}
	seg, err := BuildSegment(text, m.Delims)
	if err != nil {
		return Change{}, &EditError{Reason: ReasonStructureViolation, Path: p, Message: "segment text does not tokenize", Err: err}
	}
	prev := m.Segments[idx-1]
	term := m.terminator()
	seg.Terminator = term
	if prev.Terminator == "" {
		prev.Terminator = term
		seg.Terminator = ""
	}
	m.nextID++
	seg.ID = m.nextID
	seg.Start = prev.Next()
	m.Segments = slices.Insert(m.Segments, idx, seg)
	m.shift(idx+1, len(seg.Text)+len(seg.Terminator))
	return Change{
		Touched:   []Path{p},
		Spans:     []Span{seg.Span()},
		ShiftFrom: idx + 1,
		Delta:     len(seg.Text) + len(seg.Terminator),
	}, nil
}

// RemoveSegment deletes the segment at idx. The header cannot be removed.
func (m *Message) RemoveSegment(idx int) (Change, error) {
	p := SegmentPath(idx)
	switch {
	case idx == 0:
		return Change{}, &EditError{Reason: ReasonHeaderProtected, Path: p, Message: "the header cannot be removed"}
	case idx < 0 || idx >= len(m.Segments):
		return Change{}, &EditError{Reason: ReasonNoSuchNode, Path: p, Message: "segment index out of range", Err: ErrNoSuchNode}
	}
	removed := m.Segments[idx]
	size := len(removed.Text) + len(removed.Terminator)
	m.Segments = slices.Delete(m.Segments, idx, idx+1)
	m.shift(idx, -size)
	return Change{
		Touched:   []Path{p},
		Spans:     []Span{{Start: removed.Start, End: removed.Start}},
		ShiftFrom: idx,
		Delta:     -size,
	}, nil
}

// Redelimit re-encodes every segment under set and rebuilds all spans.
func (m *Message) Redelimit(set delim.Set) (Change, error) {
	if err := set.Validate(); err != nil {
		return Change{}, &EditError{Reason: ReasonStructureViolation, Path: Path{Segment: 0, Field: 2}, Message: "invalid delimiter set", Err: err}
	}
	oldLen := m.Len()
	segs := make([]*Segment, len(m.Segments))
	pos := 0
	for i, seg := range m.Segments {
		built, err := BuildSegment(seg.transcode(m.Delims, set), set)
		if err != nil {
			return Change{}, &EditError{Reason: ReasonStructureViolation, Path: SegmentPath(i), Message: "segment does not re-tokenize", Err: err}
		}
		built.ID, built.Terminator, built.Start = seg.ID, seg.Terminator, pos
		pos = built.Next()
		segs[i] = built
	}
	m.Segments = segs
	m.Delims = set
	ch := Change{ShiftFrom: 0, Delta: m.Len() - oldLen, Retokenized: true}
	for i, seg := range segs {
		ch.Touched = append(ch.Touched, SegmentPath(i))
		ch.Spans = append(ch.Spans, seg.Span())
	}
	return ch, nil
}

func (m *Message) replaceDelimiters(p Path, raw string) (Change, error) {
	set := m.Delims
	switch p.Field {
	case 1:
		if len(raw) != 1 {
			return Change{}, &EditError{Reason: ReasonStructureViolation, Path: p, Message: "field separator must be a single character"}
		}
		set.Field = raw[0]
	case 2:
		if len(raw) < 4 || len(raw) > 5 {
			return Change{}, &EditError{Reason: ReasonStructureViolation, Path: p, Message: "encoding characters must be 4 or 5 characters"}
		}
		set.Component, set.Repetition, set.Escape, set.Subcomponent = raw[0], raw[1], raw[2], raw[3]
		set.Truncation = 0
		if len(raw) == 5 {
			set.Truncation = raw[4]
		}
	}
	ch, err := m.Redelimit(set)
	if err != nil {
		var ee *EditError
		if errors.As(err, &ee) {
			ee.Path = p
		}
	}
	return ch, err
}

func (m *Message) checkTarget(p Path) error {
	if !p.Valid() || p.Level() < LevelField {
		return &EditError{Reason: ReasonInvalidPath, Path: p, Message: "edits address a field or a deeper node"}
	}
	if p.Segment >= len(m.Segments) {
		return &EditError{Reason: ReasonNoSuchNode, Path: p, Message: "segment index out of range", Err: ErrNoSuchNode}
	}
	return nil
}

func (m *Message) rebuild(idx int, text string, touched []Path) (Change, error) {
	old := m.Segments[idx]
	seg, err := BuildSegment(text, m.Delims)
	if err != nil {
		return Change{}, &EditError{Reason: ReasonStructureViolation, Path: SegmentPath(idx), Message: "segment does not re-tokenize", Err: err}
	}
	if seg.Code != old.Code {
		return Change{}, &EditError{Reason: ReasonStructureViolation, Path: SegmentPath(idx), Message: "edit changed the segment code"}
	}
	seg.ID, seg.Start, seg.Terminator = old.ID, old.Start, old.Terminator
	m.Segments[idx] = seg
	delta := len(seg.Text) - len(old.Text)
	m.shift(idx+1, delta)
	ch := Change{Touched: touched, ShiftFrom: idx + 1, Delta: delta}
	for _, p := range touched {
		span, err := m.Span(p)
		if err != nil {
			span = Span{Start: seg.Start, End: seg.Start}
		}
		ch.Spans = append(ch.Spans, span)
	}
	return ch, nil
}

func (m *Message) shift(from, delta int) {
	if delta == 0 {
		return
	}
	for _, seg := range m.Segments[from:] {
		seg.Start += delta
	}
}

// terminator returns the terminator new segments use.
func (m *Message) terminator() string {
	for _, seg := range m.Segments {
		if seg.Terminator != "" {
			return trimTerminator(seg.Terminator)
		}
	}
	return string(delim.Terminator)
}

// trimTerminator reduces a run of blank lines to a single terminator.
func trimTerminator(run string) string {
	if strings.HasPrefix(run, "\r\n") {
		return "\r\n"
	}
	return run[:1]
}

func put(list []string, i int, v string) []string {
	for len(list) <= i {
		list = append(list, "")
	}
	list[i] = v
	return list
}

func (s *Segment) rewrite(p Path, set delim.Set, fn func([]string, int) ([]string, error)) string {
	text, _ := s.rewriteErr(p, set, fn)
	return text
}

// rewriteErr returns the segment text with the sibling list containing p edited by fn.
// fn receives the 0-based index of p within that list.
func (s *Segment) rewriteErr(p Path, set delim.Set, fn func([]string, int) ([]string, error)) (string, error) {
	fields := s.fieldTexts()
	var err error
	if p.Level() == LevelField {
		fields, err = fn(fields, p.Field-1)
		return s.join(fields, set), err
	}
	field, _ := s.Field(p.Field)
	var rep *Repetition
	if field != nil && p.Repetition <= len(field.Reps) {
		rep = &field.Reps[p.Repetition-1]
	}
	reps := s.repTexts(field)
	if p.Level() == LevelRepetition {
		reps, err = fn(reps, p.Repetition-1)
	} else {
		var comp *Component
		if rep != nil && p.Component <= len(rep.Components) {
			comp = &rep.Components[p.Component-1]
		}
		comps := s.compTexts(rep)
		if p.Level() == LevelComponent {
			comps, err = fn(comps, p.Component-1)
		} else {
			var subs []string
			subs, err = fn(s.subTexts(comp), p.Subcomponent-1)
			comps = put(comps, p.Component-1, strings.Join(subs, string(set.Subcomponent)))
		}
		reps = put(reps, p.Repetition-1, strings.Join(comps, string(set.Component)))
	}
	fields = put(fields, p.Field-1, strings.Join(reps, string(set.Repetition)))
	return s.join(fields, set), err
}

// fieldTexts returns the raw text of each field, 0-based.
func (s *Segment) fieldTexts() []string {
	out := make([]string, 0, s.FieldCount())
	for n := 1; n <= s.FieldCount(); n++ {
		out = append(out, s.Raw(s.Fields[n].Span))
	}
	return out
}

func (s *Segment) repTexts(f *Field) []string {
	if f == nil {
		return []string{""}
	}
	out := make([]string, len(f.Reps))
	for i, r := range f.Reps {
		out[i] = s.Raw(r.Span)
	}
	return out
}

func (s *Segment) compTexts(r *Repetition) []string {
	if r == nil {
		return []string{""}
	}
	out := make([]string, len(r.Components))
	for i, c := range r.Components {
		out[i] = s.Raw(c.Span)
	}
	return out
}

func (s *Segment) subTexts(c *Component) []string {
	if c == nil {
		return []string{""}
	}
	out := make([]string, len(c.Subs))
	for i, sub := range c.Subs {
		out[i] = s.Raw(sub.Span)
	}
	return out
}

// join reassembles segment text from 0-based field texts.
func (s *Segment) join(fields []string, set delim.Set) string {
	var b strings.Builder
	b.WriteString(s.Code)
	for i, f := range fields {
		if s.Header && i == 1 {
			b.WriteString(f)
			continue
		}
		if s.Header && i == 0 {
			b.WriteByte(set.Field)
			continue
		}
		b.WriteByte(set.Field)
		b.WriteString(f)
	}
	return b.String()
}

// transcode renders the segment under a different delimiter set.
func (s *Segment) transcode(from, to delim.Set) string {
	var b strings.Builder
	b.WriteString(s.Code)
	for n := 1; n <= s.FieldCount(); n++ {
		switch {
		case s.Header && n == 1:
			b.WriteByte(to.Field)
			continue
		case s.Header && n == 2:
			b.WriteString(to.Encoding())
			continue
		}
		b.WriteByte(to.Field)
		for ri, rep := range s.Fields[n].Reps {
			if ri > 0 {
				b.WriteByte(to.Repetition)
			}
			for ci, comp := range rep.Components {
				if ci > 0 {
					b.WriteByte(to.Component)
				}
				for si, sub := range comp.Subs {
					if si > 0 {
						b.WriteByte(to.Subcomponent)
					}
					b.WriteString(from.Transcode(s.Raw(sub.Span), to))
				}
			}
		}
	}
	return b.String()
}
