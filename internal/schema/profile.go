// Package schema holds the structural rule sets messages are validated against: the
// built-in per-version standard profiles and custom profiles imported from files.
package schema

import (
	"maps"
	"slices"
	"strings"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/schema/datatype"
)

// FieldDef describes one field position of a segment.
type FieldDef struct {
	Position   int
	Name       string
	Type       datatype.Tag
	Required   bool
	Repeatable bool
	// MaxReps bounds the repetitions of a repeatable field; zero means unbounded.
	MaxReps int
	// MaxLength bounds the encoded length of each repetition; zero means unbounded.
	MaxLength int
	Table     string
	// VariesBy names the field whose value selects the datatype of a Varies field.
	VariesBy int
}

// SegmentDef describes the fields of one segment code.
type SegmentDef struct {
	Code        string
	Description string
	Fields      map[int]FieldDef
	// Extension marks a segment that only exists through a custom profile.
	Extension bool
}

// Field returns the definition for position n.
func (d *SegmentDef) Field(n int) (FieldDef, bool) {
	f, ok := d.Fields[n]
	return f, ok
}

// MaxField returns the highest defined position.
func (d *SegmentDef) MaxField() int {
	n := 0
	for pos := range d.Fields {
		n = max(n, pos)
	}
	return n
}

// Positions returns the defined positions in ascending order.
func (d *SegmentDef) Positions() []int {
	return slices.Sorted(maps.Keys(d.Fields))
}

func (d *SegmentDef) clone() *SegmentDef {
	c := *d
	c.Fields = maps.Clone(d.Fields)
	return &c
}

// MessageDef lists the segment-level structure rules of a message type.
type MessageDef struct {
	Structure     string
	Description   string
	Required      []string
	NonRepeatable []string
}

// Rule is a custom boolean expression evaluated against every segment with a matching code.
type Rule struct {
	Name     string
	Segment  string
	Expr     string
	Message  string
	Severity string
	// Field anchors the resulting diagnostic; zero anchors the segment.
	Field   int
	program *compiledRule
}

// Table maps a coded value to its description.
type Table map[string]string

// Profile is an immutable rule set. Profiles returned by the registry are shared between
// goroutines and must not be modified.
type Profile struct {
	Name    string
	Version string
	// Custom lists the custom profiles merged into this one, in merge order.
	Custom   []string
	Segments map[string]*SegmentDef
	Tables   map[string]Table
	Messages map[string]MessageDef
	Rules    []Rule
}

// Segment returns the definition for code.
func (p *Profile) Segment(code string) (*SegmentDef, bool) {
	d, ok := p.Segments[code]
	return d, ok
}

// Table returns the table with the given id.
func (p *Profile) Table(id string) (Table, bool) {
	t, ok := p.Tables[id]
	return t, ok
}

// Lookup returns the description of code in table id.
func (p *Profile) Lookup(id, code string) (string, bool) {
	t, ok := p.Tables[id]
	if !ok {
		return "", false
	}
	desc, ok := t[code]
	return desc, ok
}

// Message finds the structure rules for a message type: by message structure first, then
// CODE^TRIGGER, then CODE alone.
func (p *Profile) Message(t model.MessageType) (MessageDef, bool) {
	for _, key := range []string{t.Structure, t.Code + "^" + t.Trigger, t.Code} {
		if key == "" || key == "^" {
			continue
		}
		if def, ok := p.Messages[strings.ToUpper(key)]; ok {
			return def, true
		}
	}
	return MessageDef{}, false
}

// RulesFor returns the custom rules that apply to segment code.
func (p *Profile) RulesFor(code string) []Rule {
	var out []Rule
	for _, r := range p.Rules {
		if r.Segment == code || r.Segment == "*" {
			out = append(out, r)
		}
	}
	return out
}

// Merge returns a new profile with custom layered over p. Custom fields replace the base
// definition at the same position, segments unknown to p become extensions, table codes
// are added, message rules are replaced and custom rules are appended.
func (p *Profile) Merge(custom *Profile) *Profile {
	out := &Profile{
		Name:     p.Name,
		Version:  p.Version,
		Custom:   append(slices.Clone(p.Custom), custom.Name),
		Segments: maps.Clone(p.Segments),
		Tables:   maps.Clone(p.Tables),
		Messages: maps.Clone(p.Messages),
		Rules:    append(slices.Clone(p.Rules), custom.Rules...),
	}
	for code, def := range custom.Segments {
		base, ok := out.Segments[code]
		if !ok {
			ext := def.clone()
			ext.Extension = true
			out.Segments[code] = ext
			continue
		}
		merged := base.clone()
		if def.Description != "" {
			merged.Description = def.Description
		}
		maps.Copy(merged.Fields, def.Fields)
		out.Segments[code] = merged
	}
	for id, table := range custom.Tables {
		merged := maps.Clone(out.Tables[id])
		if merged == nil {
			merged = Table{}
		}
		maps.Copy(merged, table)
		out.Tables[id] = merged
	}
	maps.Copy(out.Messages, custom.Messages)
	return out
}
