package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Span is a half-open byte range [Start, End).
type Span struct {
	Start int
	End   int
}

// Len returns the number of bytes covered.
func (s Span) Len() int { return s.End - s.Start }

// Shift returns the span moved by delta bytes.
func (s Span) Shift(delta int) Span { return Span{Start: s.Start + delta, End: s.End + delta} }

// Contains reports whether offset falls inside the span. An empty span contains its own
// start offset.
func (s Span) Contains(offset int) bool {
	if s.Start == s.End {
		return offset == s.Start
	}
	return offset >= s.Start && offset < s.End
}

// Within reports whether s lies inside outer.
func (s Span) Within(outer Span) bool {
	return s.Start >= outer.Start && s.End <= outer.End
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

// Level is the depth of a tree node.
type Level int

const (
	LevelMessage Level = iota
	LevelSegment
	LevelField
	LevelRepetition
	LevelComponent
	LevelSubcomponent
)

func (l Level) String() string {
	switch l {
	case LevelMessage:
		return "message"
	case LevelSegment:
		return "segment"
	case LevelField:
		return "field"
	case LevelRepetition:
		return "repetition"
	case LevelComponent:
		return "component"
	case LevelSubcomponent:
		return "subcomponent"
	default:
		return "unknown"
	}
}

// Path addresses a node inside one message. Segment is a 0-based index; the remaining
// coordinates are 1-based and a zero coordinate ends the path. Segment -1 addresses the
// message itself.
type Path struct {
	Segment      int
	Field        int
	Repetition   int
	Component    int
	Subcomponent int
}

// MessagePath addresses a whole message.
var MessagePath = Path{Segment: -1}

// SegmentPath addresses segment idx.
func SegmentPath(idx int) Path { return Path{Segment: idx} }

// FieldPath addresses field n of segment idx.
func FieldPath(idx, n int) Path { return Path{Segment: idx, Field: n} }

// Level reports the depth of the path.
func (p Path) Level() Level {
	switch {
	case p.Segment < 0:
		return LevelMessage
	case p.Field == 0:
		return LevelSegment
	case p.Repetition == 0:
		return LevelField
	case p.Component == 0:
		return LevelRepetition
	case p.Subcomponent == 0:
		return LevelComponent
	default:
		return LevelSubcomponent
	}
}

// Valid reports whether no coordinate follows a zero coordinate and none is negative.
func (p Path) Valid() bool {
	coords := []int{p.Field, p.Repetition, p.Component, p.Subcomponent}
	if p.Segment < 0 {
		return p == MessagePath
	}
	ended := false
	for _, c := range coords {
		switch {
		case c < 0:
			return false
		case c == 0:
			ended = true
		case ended:
			return false
		}
	}
	return true
}

// Parent returns the path one level up.
func (p Path) Parent() Path {
	switch p.Level() {
	case LevelSubcomponent:
		p.Subcomponent = 0
	case LevelComponent:
		p.Component = 0
	case LevelRepetition:
		p.Repetition = 0
	case LevelField:
		p.Field = 0
	case LevelSegment:
		return MessagePath
	}
	return p
}

// Truncate returns the path cut down to level l.
func (p Path) Truncate(l Level) Path {
	if l <= LevelMessage {
		return MessagePath
	}
	if l < LevelSubcomponent {
		p.Subcomponent = 0
	}
	if l < LevelComponent {
		p.Component = 0
	}
	if l < LevelRepetition {
		p.Repetition = 0
	}
	if l < LevelField {
		p.Field = 0
	}
	return p
}

// Contains reports whether q is p or a descendant of p.
func (p Path) Contains(q Path) bool {
	if p.Segment < 0 {
		return true
	}
	return q.Level() >= p.Level() && q.Truncate(p.Level()) == p
}

// Compare orders paths in document order, parents before children.
func (p Path) Compare(q Path) int {
	a := []int{p.Segment, p.Field, p.Repetition, p.Component, p.Subcomponent}
	b := []int{q.Segment, q.Field, q.Repetition, q.Component, q.Subcomponent}
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// String renders the path with the segment index, e.g. "3-5[1].1". Message.Describe
// renders it with the segment code instead.
func (p Path) String() string {
	if p.Segment < 0 {
		return "message"
	}
	return formatPath(strconv.Itoa(p.Segment), p)
}

func formatPath(head string, p Path) string {
	var b strings.Builder
	b.WriteString(head)
	if p.Field == 0 {
		return b.String()
	}
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(p.Field))
	if p.Repetition == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "[%d]", p.Repetition)
	if p.Component == 0 {
		return b.String()
	}
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(p.Component))
	if p.Subcomponent == 0 {
		return b.String()
	}
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(p.Subcomponent))
	return b.String()
}
