package session

import (
	"fmt"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/position"
)

// EditKind selects the tree operation an Edit performs.
type EditKind int

const (
	EditReplace EditKind = iota + 1
	EditInsertRepetition
	EditRemoveRepetition
	EditInsertSegment
	EditRemoveSegment
)

func (k EditKind) String() string {
	switch k {
	case EditReplace:
		return "replace"
	case EditInsertRepetition:
		return "insert-repetition"
	case EditRemoveRepetition:
		return "remove-repetition"
	case EditInsertSegment:
		return "insert-segment"
	case EditRemoveSegment:
		return "remove-segment"
	default:
		return "unknown"
	}
}

// Address says how an Edit names its target.
type Address int

const (
	ByPath Address = iota
	ByOffset
	ByCell
)

// Edit is one mutation request. Build it with the constructors below.
type Edit struct {
	Kind EditKind
	By   Address
	Path model.Path
	// Offset is message-relative; used with ByOffset.
	Offset int
	// Grid, Row and Col address a grid cell; used with ByCell.
	Grid     position.Grid
	Row, Col int
	// Value is encoded text for replacements and repetitions, or the segment text for
	// segment insertion.
	Value string
	// Logical marks a replacement Value as plain text to be escaped with the message's
	// delimiters when the edit is applied.
	Logical bool
}

// Replace sets the encoded text of the node at p.
func Replace(p model.Path, value string) Edit {
	return Edit{Kind: EditReplace, By: ByPath, Path: p, Value: value}
}

// SetValue sets the node at p to a logical value. Delimiters in value are escaped with
// the delimiters in force when the edit runs, so "A^B" stays one leaf.
func SetValue(p model.Path, value string) Edit {
	return Edit{Kind: EditReplace, By: ByPath, Path: p, Value: value, Logical: true}
}

// ReplaceAt sets the encoded text of the most specific node holding offset.
func ReplaceAt(offset int, value string) Edit {
	return Edit{Kind: EditReplace, By: ByOffset, Offset: offset, Value: value}
}

// ReplaceCell sets the encoded text of grid cell (row, col).
func ReplaceCell(g position.Grid, row, col int, value string) Edit {
	return Edit{Kind: EditReplace, By: ByCell, Grid: g, Row: row, Col: col, Value: value}
}

// InsertRepetition inserts a repetition before p.Repetition.
func InsertRepetition(p model.Path, value string) Edit {
	return Edit{Kind: EditInsertRepetition, By: ByPath, Path: p, Value: value}
}

// RemoveRepetition deletes the repetition at p.
func RemoveRepetition(p model.Path) Edit {
	return Edit{Kind: EditRemoveRepetition, By: ByPath, Path: p}
}

// InsertSegment inserts segment text before index idx.
func InsertSegment(idx int, text string) Edit {
	return Edit{Kind: EditInsertSegment, By: ByPath, Path: model.SegmentPath(idx), Value: text}
}

// RemoveSegment deletes the segment at idx.
func RemoveSegment(idx int) Edit {
	return Edit{Kind: EditRemoveSegment, By: ByPath, Path: model.SegmentPath(idx)}
}

// target resolves the edit's address to a tree path.
func (e Edit) target(m *position.Mapper) (model.Path, error) {
	switch e.By {
	case ByOffset:
		p, err := m.PathAt(e.Offset)
		if err != nil {
			return model.Path{}, &model.EditError{Reason: model.ReasonNoSuchNode, Path: model.MessagePath, Message: fmt.Sprintf("offset %d", e.Offset), Err: err}
		}
		if p.Level() < model.LevelField {
			return model.Path{}, &model.EditError{Reason: model.ReasonInvalidPath, Path: p, Message: fmt.Sprintf("offset %d is on a segment code or delimiter", e.Offset)}
		}
		return p, nil
	case ByCell:
		if e.Grid.Segment < 0 || e.Grid.Segment >= len(m.Message().Segments) {
			return model.Path{}, &model.EditError{Reason: model.ReasonNoSuchNode, Path: model.SegmentPath(e.Grid.Segment), Message: "grid segment out of range", Err: model.ErrNoSuchNode}
		}
		p, err := e.Grid.Path(e.Row, e.Col)
		if err != nil {
			return model.Path{}, &model.EditError{Reason: model.ReasonInvalidPath, Path: model.SegmentPath(e.Grid.Segment), Message: err.Error()}
		}
		return p, nil
	default:
		return e.Path, nil
	}
}

// apply performs the edit on msg. The tree is unchanged when an error is returned.
func (e Edit) apply(msg *model.Message, p model.Path) (model.Change, error) {
	switch e.Kind {
	case EditReplace:
		if e.Logical {
			return msg.SetValue(p, e.Value)
		}
		return msg.Replace(p, e.Value)
	case EditInsertRepetition:
		return msg.InsertRepetition(p, e.Value)
	case EditRemoveRepetition:
		return msg.RemoveRepetition(p)
	case EditInsertSegment:
		return msg.InsertSegment(p.Segment, e.Value)
	case EditRemoveSegment:
		return msg.RemoveSegment(p.Segment)
	default:
		return model.Change{}, &model.EditError{Reason: model.ReasonInvalidPath, Path: p, Message: fmt.Sprintf("unknown edit kind %d", e.Kind)}
	}
}

// ChangeSet reports an applied edit: what it touched, where the touched nodes now sit,
// and how later content moved.
type ChangeSet struct {
	// Seq numbers edits in the order they were applied, starting at 1.
	Seq  uint64
	Kind EditKind
	// Paths is the minimal set of touched paths; Spans holds their spans after the edit.
	Paths []model.Path
	Spans []model.Span
	// Segments from ShiftFrom onward moved by Delta bytes.
	ShiftFrom int
	Delta     int
	// Retokenized is set when the delimiter set changed and every span was rebuilt.
	Retokenized bool
	// Pending is set when the edit scheduled a whole-message re-validation; Diagnostics
	// then holds the previous findings until the pass completes.
	Pending     bool
	Diagnostics []diagnostics.Diagnostic
}

// Touches reports whether the change touched p or a node inside or above it.
func (c ChangeSet) Touches(p model.Path) bool {
	if c.Retokenized {
		return true
	}
	for _, t := range c.Paths {
		if p.Contains(t) || t.Contains(p) {
			return true
		}
	}
	return false
}

// Moves reports whether the change shifted the offsets of segment idx.
func (c ChangeSet) Moves(idx int) bool {
	return c.Delta != 0 && idx >= c.ShiftFrom
}
