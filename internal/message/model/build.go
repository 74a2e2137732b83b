package model

import (
	"fmt"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/delim"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/tokenizer"
)

// SegmentBuilder assembles a segment from the token stream of a scanner. Feed tokens with
// Add until the segment's terminator or EOF, then call Finish.
type SegmentBuilder struct {
	src  string
	base int
	seg  *Segment

	fieldOpen bool
	fieldAt   int
	repAt     int
	compAt    int
	subAt     int
	field     Field
	rep       Repetition
	comp      Component
}

// NewSegmentBuilder starts a segment at offset base of src.
func NewSegmentBuilder(src string, base int) *SegmentBuilder {
	return &SegmentBuilder{src: src, base: base, seg: &Segment{}}
}

// Add consumes one token belonging to the segment.
func (b *SegmentBuilder) Add(tok tokenizer.Token) {
	at := tok.Start - b.base
	switch tok.Kind {
	case tokenizer.KindCode:
		b.seg.Code = tok.Text(b.src)
		b.seg.Header = delim.IsHeaderCode(b.seg.Code)
	case tokenizer.KindField:
		if b.seg.Header && len(b.seg.Fields) == 0 {
			sep := Span{Start: at, End: at + 1}
			b.seg.Fields = append(b.seg.Fields, Field{}, Field{
				Span: sep,
				Reps: []Repetition{{Span: sep, Components: []Component{{Span: sep, Subs: []Subcomponent{{Span: sep}}}}}},
			})
			b.openField(at + 1)
			return
		}
		if b.fieldOpen {
			b.closeField(at)
		} else if len(b.seg.Fields) == 0 {
			b.seg.Fields = append(b.seg.Fields, Field{})
		}
		b.openField(at + 1)
	case tokenizer.KindRepetition:
		b.closeRep(at)
		b.openRep(at + 1)
	case tokenizer.KindComponent:
		b.closeComp(at)
		b.openComp(at + 1)
	case tokenizer.KindSubcomponent:
		b.closeSub(at)
		b.openSub(at + 1)
	}
}

// Finish closes the segment whose text ends at offset end of src.
func (b *SegmentBuilder) Finish(end int) *Segment {
	at := end - b.base
	if b.fieldOpen {
		b.closeField(at)
	}
	b.seg.Text = b.src[b.base:end]
	return b.seg
}

func (b *SegmentBuilder) openField(at int) {
	b.fieldOpen = true
	b.fieldAt = at
	b.field = Field{}
	b.openRep(at)
}

func (b *SegmentBuilder) openRep(at int) {
	b.repAt = at
	b.rep = Repetition{}
	b.openComp(at)
}

func (b *SegmentBuilder) openComp(at int) {
	b.compAt = at
	b.comp = Component{}
	b.openSub(at)
}

func (b *SegmentBuilder) openSub(at int) {
	b.subAt = at
}

func (b *SegmentBuilder) closeSub(at int) {
	b.comp.Subs = append(b.comp.Subs, Subcomponent{Span: Span{Start: b.subAt, End: at}})
}

func (b *SegmentBuilder) closeComp(at int) {
	b.closeSub(at)
	b.comp.Span = Span{Start: b.compAt, End: at}
	b.rep.Components = append(b.rep.Components, b.comp)
}

func (b *SegmentBuilder) closeRep(at int) {
	b.closeComp(at)
	b.rep.Span = Span{Start: b.repAt, End: at}
	b.field.Reps = append(b.field.Reps, b.rep)
}

func (b *SegmentBuilder) closeField(at int) {
	b.closeRep(at)
	b.field.Span = Span{Start: b.fieldAt, End: at}
	b.seg.Fields = append(b.seg.Fields, b.field)
	b.fieldOpen = false
}

// BuildSegment tokenizes a single segment text (without terminator).
func BuildSegment(text string, set delim.Set) (*Segment, error) {
	sc := tokenizer.NewScanner(text, set)
	b := NewSegmentBuilder(text, 0)
	for {
		tok, err := sc.Next()
		if err != nil {
			return nil, err
		}
		switch tok.Kind {
		case tokenizer.KindTerminator:
			return nil, fmt.Errorf("segment text contains a terminator at offset %d", tok.Start)
		case tokenizer.KindEOF:
			return b.Finish(len(text)), nil
		default:
			b.Add(tok)
		}
	}
}
