package position

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/parser"
)

// PID starts at offset 13; its text is 30 bytes long.
const sample = "MSH|^~\\&|APP\rPID|1||123^^^H~456||DOE^JOHN&X\r"

func mustParse(t *testing.T, src string) *model.Message {
	t.Helper()
	msg, _, err := parser.ParseMessage(src, 0)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	return msg
}

func TestPathAt(t *testing.T) {
	m := NewMapper(mustParse(t, sample))
	tests := []struct {
		name   string
		offset int
		want   model.Path
	}{
		{"segment code", 0, model.SegmentPath(0)},
		{"field separator value", 3, model.Path{Segment: 0, Field: 1, Repetition: 1, Component: 1, Subcomponent: 1}},
		{"encoding characters", 5, model.Path{Segment: 0, Field: 2, Repetition: 1, Component: 1, Subcomponent: 1}},
		{"header field", 9, model.Path{Segment: 0, Field: 3, Repetition: 1, Component: 1, Subcomponent: 1}},
		{"terminator", 12, model.SegmentPath(0)},
		{"field separator", 16, model.SegmentPath(1)},
		{"first field", 17, model.Path{Segment: 1, Field: 1, Repetition: 1, Component: 1, Subcomponent: 1}},
		{"empty field", 19, model.Path{Segment: 1, Field: 2, Repetition: 1, Component: 1, Subcomponent: 1}},
		{"component separator", 23, model.Path{Segment: 1, Field: 3, Repetition: 1}},
		{"repetition separator", 27, model.FieldPath(1, 3)},
		{"second repetition", 29, model.Path{Segment: 1, Field: 3, Repetition: 2, Component: 1, Subcomponent: 1}},
		{"subcomponent separator", 41, model.Path{Segment: 1, Field: 5, Repetition: 1, Component: 2}},
		{"subcomponent", 42, model.Path{Segment: 1, Field: 5, Repetition: 1, Component: 2, Subcomponent: 2}},
		{"last terminator", 43, model.SegmentPath(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.PathAt(tt.offset)
			if err != nil {
				t.Fatalf("PathAt(%d): %v", tt.offset, err)
			}
			if got != tt.want {
				t.Fatalf("PathAt(%d) = %s, want %s", tt.offset, got, tt.want)
			}
		})
	}

	for _, off := range []int{-1, 44} {
		if _, err := m.PathAt(off); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("PathAt(%d) err = %v", off, err)
		}
	}
}

func TestSegmentAt(t *testing.T) {
	m := NewMapper(mustParse(t, sample))
	tests := []struct {
		offset int
		want   int
		ok     bool
	}{
		{0, 0, true},
		{12, 0, true},
		{13, 1, true},
		{43, 1, true},
		{44, 0, false},
		{-1, 0, false},
	}
	for _, tt := range tests {
		if got, ok := m.SegmentAt(tt.offset); got != tt.want || ok != tt.ok {
			t.Fatalf("SegmentAt(%d) = %d, %v; want %d, %v", tt.offset, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPathAtSpanRoundTrip(t *testing.T) {
	msg := mustParse(t, sample)
	m := NewMapper(msg)
	for p, span := range msg.Leaves() {
		got, err := m.PathAt(span.Start)
		if err != nil {
			t.Fatalf("PathAt(%d): %v", span.Start, err)
		}
		if got != p {
			t.Fatalf("leaf %s starts at %d but PathAt returned %s", p, span.Start, got)
		}
		back, err := m.Span(got)
		if err != nil || back != span {
			t.Fatalf("Span(%s) = %s, %v; want %s", got, back, err, span)
		}
	}
}

func TestIndexFollowsEdits(t *testing.T) {
	msg := mustParse(t, sample+"PV1|1|I\r")
	m := NewMapper(msg)

	edits := []struct {
		name  string
		apply func() (model.Change, error)
	}{
		{"grow field", func() (model.Change, error) {
			return msg.Replace(model.Path{Segment: 1, Field: 5, Repetition: 1, Component: 1}, "DOE-SMITHSON")
		}},
		{"shrink field", func() (model.Change, error) { return msg.Replace(model.FieldPath(1, 3), "1") }},
		{"insert repetition", func() (model.Change, error) {
			return msg.InsertRepetition(model.Path{Segment: 1, Field: 3, Repetition: 1}, "9")
		}},
		{"insert segment", func() (model.Change, error) { return msg.InsertSegment(2, "NTE|1||note") }},
		{"append segment", func() (model.Change, error) { return msg.InsertSegment(4, "NTE|2") }},
		{"remove segment", func() (model.Change, error) { return msg.RemoveSegment(1) }},
		{"redelimit", func() (model.Change, error) { return msg.Replace(model.FieldPath(0, 2), "#~\\&") }},
	}
	for _, e := range edits {
		ch, err := e.apply()
		if err != nil {
			t.Fatalf("%s: %v", e.name, err)
		}
		m.Apply(ch)
		if !m.Index().Equal(msg) {
			t.Fatalf("%s: index drifted from the message", e.name)
		}
		fresh := NewMapper(msg)
		for off := 0; off < msg.Len(); off++ {
			got, _ := m.PathAt(off)
			want, _ := fresh.PathAt(off)
			if got != want {
				t.Fatalf("%s: PathAt(%d) = %s, fresh mapper says %s", e.name, off, got, want)
			}
		}
	}
}

func TestGrid(t *testing.T) {
	msg := mustParse(t, sample)
	g := Grid{Segment: 1}

	p, err := g.Path(5, 1)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if want := (model.Path{Segment: 1, Field: 5, Repetition: 1, Component: 1}); p != want {
		t.Fatalf("Path(5,1) = %s, want %s", p, want)
	}
	if v := g.Value(msg, 5, 1); v != "DOE" {
		t.Fatalf("Value(5,1) = %q", v)
	}
	row, col, err := g.Cell(model.Path{Segment: 1, Field: 5, Repetition: 1, Component: 2, Subcomponent: 2})
	if err != nil || row != 5 || col != 2 {
		t.Fatalf("Cell = (%d,%d), %v", row, col, err)
	}
	if p, _ := g.Path(3, 0); p != model.FieldPath(1, 3) {
		t.Fatalf("column 0 should address the field, got %s", p)
	}

	rows, cols := g.Size(msg)
	if diff := cmp.Diff([2]int{5, 4}, [2]int{rows, cols}); diff != "" {
		t.Fatalf("Size mismatch (-want +got):\n%s", diff)
	}

	second := Grid{Segment: 1, Repetition: 2}
	if v := second.Value(msg, 3, 1); v != "456" {
		t.Fatalf("second repetition Value(3,1) = %q", v)
	}
	if _, _, err := second.Cell(model.Path{Segment: 1, Field: 3, Repetition: 1, Component: 1}); err == nil {
		t.Fatalf("expected an error for a path in another repetition")
	}
	if _, _, err := g.Cell(model.SegmentPath(1)); err == nil {
		t.Fatalf("expected an error for a segment path")
	}
	if _, err := g.Path(0, 1); err == nil {
		t.Fatalf("expected an error for row 0")
	}
}

func TestMessageAt(t *testing.T) {
	doc, _ := parser.ParseAll(sample + "MSH|^~\\&|B\rPID|2\r")
	second := doc.Messages[1].Offset
	i, rel, ok := MessageAt(doc, second+4)
	if !ok || i != 1 || rel != 4 {
		t.Fatalf("MessageAt = %d, %d, %v", i, rel, ok)
	}
	if _, _, ok := MessageAt(doc, doc.Messages[1].Offset+doc.Messages[1].Len()); ok {
		t.Fatalf("offset past the end should not resolve")
	}
}
