// Package interpret produces human-readable explanations of messages, segments and
// fields: descriptions, field definitions and the meaning of coded values.
package interpret

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/schema"
)

// Lookup is the read-only reference data interpretation draws on.
type Lookup interface {
	SegmentDescription(code string) (string, bool)
	Field(code string, position int) (schema.FieldDef, bool)
	TableValue(table, code string) (string, bool)
}

// ProfileLookup answers lookups from a resolved schema profile.
type ProfileLookup struct {
	Profile *schema.Profile
}

var _ Lookup = ProfileLookup{}

func (l ProfileLookup) SegmentDescription(code string) (string, bool) {
	def, ok := l.Profile.Segment(code)
	if !ok || def.Description == "" {
		return "", false
	}
	return def.Description, true
}

func (l ProfileLookup) Field(code string, position int) (schema.FieldDef, bool) {
	def, ok := l.Profile.Segment(code)
	if !ok {
		return schema.FieldDef{}, false
	}
	return def.Field(position)
}

func (l ProfileLookup) TableValue(table, code string) (string, bool) {
	return l.Profile.Lookup(table, strings.ToUpper(code))
}

var messageCodes = map[string]string{
	"ACK": "General Acknowledgment",
	"ADT": "Admit, Discharge, Transfer",
	"BAR": "Add/Change Billing Account",
	"DFT": "Detailed Financial Transaction",
	"DSR": "Display Response",
	"MDM": "Medical Document Management",
	"MFN": "Master Files Notification",
	"ORM": "Order Message",
	"ORR": "Order Response",
	"ORU": "Observation Result",
	"QRY": "Query",
	"RDE": "Pharmacy/Treatment Encoded Order",
	"SIU": "Scheduling Information",
	"VXU": "Unsolicited Vaccination Record Update",
}

// MessageTypeDescription renders a message type with the meaning of its code, e.g.
// "Observation Result (ORU^R01)". Unknown codes are returned as is.
func MessageTypeDescription(t model.MessageType) string {
	if t.Code == "" {
		return "Unknown"
	}
	desc, ok := messageCodes[t.Code]
	if !ok {
		return t.String()
	}
	return fmt.Sprintf("%s (%s)", desc, t)
}

// SegmentCount is one line of a message's segment summary.
type SegmentCount struct {
	Code        string
	Description string
	Count       int
}

// Overview summarizes a message.
type Overview struct {
	Type        string
	ControlID   string
	Version     string
	Segments    int
	Counts      []SegmentCount
	Errors      int
	Warnings    int
	// Highlights holds the first few findings.
	Highlights []diagnostics.Diagnostic
}

const highlights = 3

// Message summarizes msg and its findings.
func Message(msg *model.Message, lookup Lookup, diags []diagnostics.Diagnostic) Overview {
	o := Overview{
		Type:      MessageTypeDescription(msg.Type()),
		ControlID: msg.ControlID(),
		Version:   msg.Version(),
		Segments:  len(msg.Segments),
	}
	if o.Version == "" {
		o.Version = "Unknown"
	}
	counts := map[string]int{}
	for _, seg := range msg.Segments {
		counts[seg.Code]++
	}
	for code, n := range counts {
		desc, ok := lookup.SegmentDescription(code)
		if !ok {
			desc = "Unknown segment"
		}
		o.Counts = append(o.Counts, SegmentCount{Code: code, Description: desc, Count: n})
	}
	slices.SortFunc(o.Counts, func(a, b SegmentCount) int { return strings.Compare(a.Code, b.Code) })

	for _, d := range diags {
		switch {
		case d.IsError():
			o.Errors++
		case d.IsWarning():
			o.Warnings++
		}
	}
	o.Highlights = diags[:min(highlights, len(diags))]
	return o
}

// FieldInfo explains one field.
type FieldInfo struct {
	Path       model.Path
	Anchor     string
	Name       string
	Type       string
	Required   bool
	Repeatable bool
	Table      string
	Value      string
	// Meaning is the table description of Value, when the field is coded and the code known.
	Meaning string
	// Components lists the non-empty components of the first repetition, 1-based.
	Components map[int]string
}

// SegmentInfo explains one segment.
type SegmentInfo struct {
	Code        string
	Description string
	Fields      []FieldInfo
}

// Segment explains every field of segment idx that has a definition.
func Segment(msg *model.Message, idx int, lookup Lookup) (SegmentInfo, error) {
	if idx < 0 || idx >= len(msg.Segments) {
		return SegmentInfo{}, fmt.Errorf("segment %d: %w", idx, model.ErrNoSuchNode)
	}
	seg := msg.Segments[idx]
	info := SegmentInfo{Code: seg.Code}
	desc, ok := lookup.SegmentDescription(seg.Code)
	if !ok {
		desc = "Unknown segment"
	}
	info.Description = desc
	for n := 1; n <= seg.FieldCount(); n++ {
		if _, ok := lookup.Field(seg.Code, n); !ok {
			continue
		}
		f, err := Field(msg, model.FieldPath(idx, n), lookup)
		if err != nil {
			return SegmentInfo{}, err
		}
		info.Fields = append(info.Fields, f)
	}
	return info, nil
}

// Field explains the field addressed by p; deeper paths are truncated to their field.
func Field(msg *model.Message, p model.Path, lookup Lookup) (FieldInfo, error) {
	if p.Level() < model.LevelField {
		return FieldInfo{}, fmt.Errorf("path %s does not address a field", p)
	}
	p = p.Truncate(model.LevelField)
	if !msg.Has(p) {
		return FieldInfo{}, fmt.Errorf("path %s: %w", msg.Describe(p), model.ErrNoSuchNode)
	}
	seg := msg.Segments[p.Segment]
	info := FieldInfo{Path: p, Anchor: msg.Describe(p), Value: msg.Value(p)}
	def, ok := lookup.Field(seg.Code, p.Field)
	if ok {
		info.Name = def.Name
		info.Type = string(def.Type)
		info.Required = def.Required
		info.Repeatable = def.Repeatable
		info.Table = def.Table
	}
	first := model.Path{Segment: p.Segment, Field: p.Field, Repetition: 1, Component: 1}
	if info.Table != "" {
		if meaning, ok := lookup.TableValue(info.Table, msg.Value(first)); ok {
			info.Meaning = meaning
		}
	}

	f, _ := seg.Field(p.Field)
	if comps := f.Reps[0].Components; len(comps) > 1 && !seg.Literal(p.Field) {
		info.Components = make(map[int]string)
		for c := range comps {
			cp := first
			cp.Component = c + 1
			if v := msg.Value(cp); v != "" {
				info.Components[c+1] = v
			}
		}
	}
	return info, nil
}
