// Package pathexpr parses the textual field addresses used on the command line and in
// export mappings, such as "PID-5", "PID[2]-3[*].1" or "MSH.9.2", and resolves them
// against a message.
//
// Grammar:
//
//	expr      = code [ "[" index "]" ] [ ( "-" | "." ) field ]
//	field     = number [ ( "[" index "]" | "(" index ")" ) ] [ "." number [ "." number ] ]
//	index     = number | "*"
//
// Segment occurrences and repetitions are 1-based; "*" selects all of them. An omitted
// segment occurrence selects the first one. An omitted repetition addresses the whole
// field unless a component follows, in which case the first repetition is used.
package pathexpr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
)

type grammar struct {
	Code       string    `parser:"@Code"`
	Occurrence *index    `parser:"( \"[\" @@ \"]\" )?"`
	Field      *fieldRef `parser:"( ( \"-\" | \".\" ) @@ )?"`
}

type fieldRef struct {
	Number     int           `parser:"@Int"`
	Repetition *index        `parser:"( \"[\" @@ \"]\" | \"(\" @@ \")\" )?"`
	Component  *componentRef `parser:"@@?"`
}

type componentRef struct {
	Number       int  `parser:"\".\" @Int"`
	Subcomponent *int `parser:"( \".\" @Int )?"`
}

type index struct {
	All    bool `parser:"  @\"*\""`
	Number int  `parser:"| @Int"`
}

var pathLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Code", Pattern: `[A-Z][A-Z0-9]{2}`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Punct", Pattern: `[-.\[\]()*]`},
})

var exprParser = participle.MustBuild[grammar](
	participle.Lexer(pathLexer),
)

// ErrZeroIndex is wrapped by parse errors for 0 positions, which HL7 numbering never uses.
var ErrZeroIndex = errors.New("positions are 1-based")

// Error reports an expression that does not parse.
type Error struct {
	Expr   string
	Offset int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("path %q at offset %d: %v", e.Expr, e.Offset, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Expr is a parsed path expression.
type Expr struct {
	raw string

	Code string
	// Occurrence is the 1-based occurrence of Code; zero with AllOccurrences.
	Occurrence     int
	AllOccurrences bool

	Field          int
	Repetition     int
	AllRepetitions bool
	Component      int
	Subcomponent   int
}

// Parse parses s. Segment codes are matched case-insensitively.
func Parse(s string) (*Expr, error) {
	src := strings.ToUpper(strings.TrimSpace(s))
	g, err := exprParser.ParseString("", src)
	if err != nil {
		var perr participle.Error
		offset := 0
		if errors.As(err, &perr) {
			offset = perr.Position().Offset
		}
		return nil, &Error{Expr: s, Offset: offset, Err: err}
	}

	if err := checkZeros(g); err != nil {
		return nil, &Error{Expr: s, Err: err}
	}

	e := &Expr{raw: src, Code: g.Code, Occurrence: 1}
	if g.Occurrence != nil {
		e.Occurrence, e.AllOccurrences = g.Occurrence.Number, g.Occurrence.All
	}
	if f := g.Field; f != nil {
		e.Field = f.Number
		if f.Repetition != nil {
			e.Repetition, e.AllRepetitions = f.Repetition.Number, f.Repetition.All
		}
		if c := f.Component; c != nil {
			e.Component = c.Number
			if c.Subcomponent != nil {
				e.Subcomponent = *c.Subcomponent
			}
			if e.Repetition == 0 && !e.AllRepetitions {
				e.Repetition = 1
			}
		}
	}
	return e, nil
}

func checkZeros(g *grammar) error {
	zero := func(what string) error { return fmt.Errorf("%s 0: %w", what, ErrZeroIndex) }
	if o := g.Occurrence; o != nil && !o.All && o.Number == 0 {
		return zero("segment occurrence")
	}
	f := g.Field
	if f == nil {
		return nil
	}
	switch {
	case f.Number == 0:
		return zero("field")
	case f.Repetition != nil && !f.Repetition.All && f.Repetition.Number == 0:
		return zero("repetition")
	case f.Component != nil && f.Component.Number == 0:
		return zero("component")
	case f.Component != nil && f.Component.Subcomponent != nil && *f.Component.Subcomponent == 0:
		return zero("subcomponent")
	}
	return nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(s string) *Expr {
	e, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the normalized source text.
func (e *Expr) String() string { return e.raw }

// Level reports the depth the expression addresses.
func (e *Expr) Level() model.Level {
	switch {
	case e.Field == 0:
		return model.LevelSegment
	case e.Component > 0 && e.Subcomponent > 0:
		return model.LevelSubcomponent
	case e.Component > 0:
		return model.LevelComponent
	case e.Repetition > 0 || e.AllRepetitions:
		return model.LevelRepetition
	default:
		return model.LevelField
	}
}

// Paths returns every path the expression selects in msg, in document order. Only
// paths whose node is present are returned.
func (e *Expr) Paths(msg *model.Message) []model.Path {
	var out []model.Path
	seen := 0
	for idx, seg := range msg.Segments {
		if seg.Code != e.Code {
			continue
		}
		seen++
		if !e.AllOccurrences && seen != e.Occurrence {
			continue
		}
		for _, p := range e.within(msg, idx) {
			if msg.Has(p) {
				out = append(out, p)
			}
		}
		if !e.AllOccurrences {
			break
		}
	}
	return out
}

func (e *Expr) within(msg *model.Message, idx int) []model.Path {
	p := model.Path{Segment: idx, Field: e.Field, Repetition: e.Repetition, Component: e.Component, Subcomponent: e.Subcomponent}
	if e.Field == 0 || !e.AllRepetitions {
		return []model.Path{p}
	}
	f, ok := msg.Segments[idx].Field(e.Field)
	if !ok {
		return nil
	}
	out := make([]model.Path, 0, len(f.Reps))
	for r := range f.Reps {
		rp := p
		rp.Repetition = r + 1
		out = append(out, rp)
	}
	return out
}

// Path returns the first path the expression selects.
func (e *Expr) Path(msg *model.Message) (model.Path, bool) {
	paths := e.Paths(msg)
	if len(paths) == 0 {
		return model.Path{}, false
	}
	return paths[0], true
}

// Target returns the single path the expression addresses, present or not. Only the
// segment occurrence has to exist, so the path can name a field an edit will create.
func (e *Expr) Target(msg *model.Message) (model.Path, error) {
	if e.AllOccurrences || e.AllRepetitions {
		return model.Path{}, fmt.Errorf("%s selects more than one node", e.raw)
	}
	seen := 0
	for idx, seg := range msg.Segments {
		if seg.Code != e.Code {
			continue
		}
		if seen++; seen == e.Occurrence {
			return e.within(msg, idx)[0], nil
		}
	}
	return model.Path{}, fmt.Errorf("%s: segment %s[%d]: %w", e.raw, e.Code, e.Occurrence, model.ErrNoSuchNode)
}

// Value returns the decoded value of the first selected node, or "" when none is present.
func (e *Expr) Value(msg *model.Message) string {
	p, ok := e.Path(msg)
	if !ok {
		return ""
	}
	return msg.Value(p)
}

// Values returns the decoded value of every selected node.
func (e *Expr) Values(msg *model.Message) []string {
	paths := e.Paths(msg)
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = msg.Value(p)
	}
	return out
}
