package position

import (
	"fmt"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
)

// Grid presents one segment as a table: row n is field n and column c is component c of
// the chosen repetition. Column 0 is the field as a whole.
type Grid struct {
	Segment int
	// Repetition selects which repetition of each field the columns show; zero means the first.
	Repetition int
}

func (g Grid) rep() int {
	if g.Repetition < 1 {
		return 1
	}
	return g.Repetition
}

// Path returns the tree path of cell (row, col).
func (g Grid) Path(row, col int) (model.Path, error) {
	if row < 1 || col < 0 {
		return model.Path{}, fmt.Errorf("cell (%d,%d) is outside the grid", row, col)
	}
	if col == 0 {
		return model.FieldPath(g.Segment, row), nil
	}
	return model.Path{Segment: g.Segment, Field: row, Repetition: g.rep(), Component: col}, nil
}

// Cell returns the cell showing p. Subcomponent paths map to their component's cell and
// repetition paths to column 0.
func (g Grid) Cell(p model.Path) (row, col int, err error) {
	if p.Segment != g.Segment || p.Level() < model.LevelField {
		return 0, 0, fmt.Errorf("path %s is not in segment %d", p, g.Segment)
	}
	if p.Repetition != 0 && p.Repetition != g.rep() {
		return 0, 0, fmt.Errorf("path %s is not in repetition %d", p, g.rep())
	}
	return p.Field, p.Component, nil
}

// Size returns the number of rows (fields) and component columns of the grid over msg.
func (g Grid) Size(msg *model.Message) (rows, cols int) {
	if g.Segment < 0 || g.Segment >= len(msg.Segments) {
		return 0, 0
	}
	seg := msg.Segments[g.Segment]
	rows = seg.FieldCount()
	for n := 1; n <= rows; n++ {
		f := seg.Fields[n]
		if r := g.rep(); r <= len(f.Reps) {
			cols = max(cols, len(f.Reps[r-1].Components))
		}
	}
	return rows, cols
}

// Value returns the decoded text of cell (row, col); absent cells read as empty.
func (g Grid) Value(msg *model.Message, row, col int) string {
	p, err := g.Path(row, col)
	if err != nil {
		return ""
	}
	return msg.Value(p)
}
