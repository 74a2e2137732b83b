package model

import (
	"iter"
	"strings"
)

// Leaves yields the path and message-relative span of every subcomponent, in document order.
func (m *Message) Leaves() iter.Seq2[Path, Span] {
	return func(yield func(Path, Span) bool) {
		for si, seg := range m.Segments {
			for fn := 1; fn <= seg.FieldCount(); fn++ {
				for ri, rep := range seg.Fields[fn].Reps {
					for ci, comp := range rep.Components {
						for sci, sub := range comp.Subs {
							p := Path{Segment: si, Field: fn, Repetition: ri + 1, Component: ci + 1, Subcomponent: sci + 1}
							if !yield(p, sub.Span.Shift(seg.Start)) {
								return
							}
						}
					}
				}
			}
		}
	}
}

// Match is one search hit.
type Match struct {
	Message int
	Path    Path
	Span    Span
	Value   string
}

// Find returns every leaf whose decoded value contains term.
func (m *Message) Find(term string, caseSensitive bool) []Match {
	if term == "" {
		return nil
	}
	needle := term
	if !caseSensitive {
		needle = strings.ToLower(term)
	}
	var out []Match
	for p, span := range m.Leaves() {
		value := m.Value(p)
		hay := value
		if !caseSensitive {
			hay = strings.ToLower(value)
		}
		if strings.Contains(hay, needle) {
			out = append(out, Match{Path: p, Span: span, Value: value})
		}
	}
	return out
}

// Find searches every message of the document.
func (d *Document) Find(term string, caseSensitive bool) []Match {
	var out []Match
	for i, msg := range d.Messages {
		for _, hit := range msg.Find(term, caseSensitive) {
			hit.Message = i
			out = append(out, hit)
		}
	}
	return out
}
