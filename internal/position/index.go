// Package position translates between the three coordinate spaces of an open message:
// byte offsets into its serialized text, structured tree paths, and the (row, column)
// cells of a segment grid.
package position

import (
	"sort"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
)

// Index keeps the start offset of every segment sorted so offset lookups are a binary
// search. It is updated from edit change sets instead of being rebuilt.
type Index struct {
	starts []int
}

// NewIndex indexes the segments of msg.
func NewIndex(msg *model.Message) *Index {
	x := &Index{}
	x.Rebuild(msg)
	return x
}

// Rebuild re-reads every segment start from msg.
func (x *Index) Rebuild(msg *model.Message) {
	x.starts = x.starts[:0]
	for _, seg := range msg.Segments {
		x.starts = append(x.starts, seg.Start)
	}
}

// Len returns the number of indexed segments.
func (x *Index) Len() int { return len(x.starts) }

// Start returns the start offset of segment i.
func (x *Index) Start(i int) int { return x.starts[i] }

// Find returns the index of the segment whose region (text plus terminator) holds offset.
func (x *Index) Find(offset int) (int, bool) {
	if offset < 0 || len(x.starts) == 0 {
		return 0, false
	}
	i := sort.Search(len(x.starts), func(i int) bool { return x.starts[i] > offset })
	return i - 1, i > 0
}

// Shift moves the starts of segments from..end by delta.
func (x *Index) Shift(from, delta int) {
	if delta == 0 {
		return
	}
	for i := from; i < len(x.starts); i++ {
		x.starts[i] += delta
	}
}

// Insert records a new segment at position i.
func (x *Index) Insert(i, start int) {
	x.starts = append(x.starts, 0)
	copy(x.starts[i+1:], x.starts[i:])
	x.starts[i] = start
}

// Remove drops the segment at position i.
func (x *Index) Remove(i int) {
	x.starts = append(x.starts[:i], x.starts[i+1:]...)
}

// Apply brings the index in line with an edit already applied to msg. Segment insertions
// and removals are recognized by the segment count changing; a re-tokenized message is
// re-read in full.
func (x *Index) Apply(ch model.Change, msg *model.Message) {
	n := len(msg.Segments)
	switch {
	case ch.Retokenized || len(ch.Touched) == 0 && n != len(x.starts):
		x.Rebuild(msg)
		return
	case n == len(x.starts)+1:
		x.Insert(ch.Touched[0].Segment, ch.Spans[0].Start)
	case n == len(x.starts)-1:
		x.Remove(ch.Touched[0].Segment)
	}
	x.Shift(ch.ShiftFrom, ch.Delta)
}

// Equal reports whether the index matches the segment starts of msg.
func (x *Index) Equal(msg *model.Message) bool {
	if len(x.starts) != len(msg.Segments) {
		return false
	}
	for i, seg := range msg.Segments {
		if x.starts[i] != seg.Start {
			return false
		}
	}
	return true
}
