// Package validate checks a parsed message against a resolved schema profile. Validation
// is a pure function of the message and the profile: it never touches the tree, and two
// runs over the same input return the same diagnostics in the same order.
package validate

import (
	"cmp"
	"context"
	"slices"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/schema"
	"github.com/nirzaf/Hl7OpenSoup/internal/schema/datatype"
)

const source = "validator"

// nullValue is the explicit HL7 null. It satisfies presence but is never type checked.
const nullValue = `""`

// Validator holds the check toggles. The zero value runs every check.
type Validator struct {
	// SkipLengths disables FieldTooLong warnings.
	SkipLengths bool
}

var defaultValidator Validator

// Run validates msg with every check enabled.
func Run(msg *model.Message, res schema.Resolution) []diagnostics.Diagnostic {
	return defaultValidator.Run(msg, res)
}

// RunContext is Run with cancellation between segments.
func RunContext(ctx context.Context, msg *model.Message, res schema.Resolution) ([]diagnostics.Diagnostic, error) {
	return defaultValidator.RunContext(ctx, msg, res)
}

// Segment validates segment idx with every check enabled.
func Segment(msg *model.Message, idx int, res schema.Resolution) []diagnostics.Diagnostic {
	return defaultValidator.Segment(msg, idx, res)
}

// MessageLevel runs the checks that depend on more than one segment.
func MessageLevel(msg *model.Message, res schema.Resolution) []diagnostics.Diagnostic {
	return defaultValidator.MessageLevel(msg, res)
}

// Run validates the whole message. The result is sorted with Sort.
func (v Validator) Run(msg *model.Message, res schema.Resolution) []diagnostics.Diagnostic {
	diags, _ := v.RunContext(context.Background(), msg, res)
	return diags
}

// RunContext validates the whole message, stopping with ctx.Err() when ctx is cancelled.
// Partial results are never returned.
func (v Validator) RunContext(ctx context.Context, msg *model.Message, res schema.Resolution) ([]diagnostics.Diagnostic, error) {
	diags := v.MessageLevel(msg, res)
	for i := range msg.Segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		diags = append(diags, v.Segment(msg, i, res)...)
	}
	Sort(diags)
	return diags, nil
}

// Sort orders diagnostics by path in document order, message-level first, then by reason
// and text so that any concatenation of the same findings sorts identically.
func Sort(diags []diagnostics.Diagnostic) {
	slices.SortStableFunc(diags, func(a, b diagnostics.Diagnostic) int {
		if c := a.Path.Compare(b.Path); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Reason, b.Reason); c != 0 {
			return c
		}
		return cmp.Compare(a.Message, b.Message)
	})
}

// MessageLevel checks the declared version and the segment structure of the message type.
func (v Validator) MessageLevel(msg *model.Message, res schema.Resolution) []diagnostics.Diagnostic {
	var diags []diagnostics.Diagnostic
	if res.Declared != "" && !res.Exact {
		diags = append(diags, diagnostics.Warning(diagnostics.ReasonUnsupportedVersion,
			"version %q is not supported; validated against %s", res.Declared, res.Profile.Version).
			In(msg, model.Path{Segment: 0, Field: 12}).
			WithSource(source).
			Build())
	}
	header := msg.Header()
	if header == nil || header.Code != "MSH" {
		return diags
	}
	typ := msg.Type()
	def, ok := res.Profile.Message(typ)
	if !ok {
		return diags
	}
	for _, code := range def.Required {
		if len(msg.Occurrences(code)) > 0 {
			continue
		}
		diags = append(diags, diagnostics.Error(diagnostics.ReasonMissingRequiredSegment,
			"%s requires segment %s", typ, code).
			At(model.MessagePath, code).
			WithSource(source).
			Build())
	}
	for _, code := range def.NonRepeatable {
		occ := msg.Occurrences(code)
		for _, idx := range occ[min(1, len(occ)):] {
			diags = append(diags, diagnostics.Error(diagnostics.ReasonSegmentNotRepeatable,
				"segment %s may appear only once in %s", code, typ).
				In(msg, model.SegmentPath(idx)).
				WithSource(source).
				Build())
		}
	}
	return diags
}

// Segment validates one segment against its definition and the profile's custom rules.
func (v Validator) Segment(msg *model.Message, idx int, res schema.Resolution) []diagnostics.Diagnostic {
	if idx < 0 || idx >= len(msg.Segments) {
		return nil
	}
	seg := msg.Segments[idx]
	def, ok := res.Profile.Segment(seg.Code)
	if !ok {
		d := diagnostics.Error(diagnostics.ReasonUnknownSegmentCode,
			"segment %s is not defined by %s", seg.Code, res.Profile.Name).
			At(model.SegmentPath(idx), seg.Code).
			WithSpan(model.Span{Start: seg.Start, End: seg.Start + len(seg.Code)}).
			WithSource(source).
			Build()
		return []diagnostics.Diagnostic{d}
	}
	c := &checker{v: v, msg: msg, idx: idx, seg: seg, profile: res.Profile}
	for _, pos := range def.Positions() {
		f, _ := def.Field(pos)
		c.field(f)
	}
	for n := def.MaxField() + 1; n <= seg.FieldCount(); n++ {
		if seg.Fields[n].Span.Len() == 0 {
			continue
		}
		c.add(diagnostics.Warning(diagnostics.ReasonUnexpectedField,
			"%s defines %d fields; field %d is not expected", seg.Code, def.MaxField(), n).
			In(msg, model.FieldPath(idx, n)))
	}
	c.rules()
	return c.diags
}

type checker struct {
	v       Validator
	msg     *model.Message
	idx     int
	seg     *model.Segment
	profile *schema.Profile
	diags   []diagnostics.Diagnostic
}

func (c *checker) add(b *diagnostics.Builder) {
	c.diags = append(c.diags, b.WithSource(source).Build())
}

func (c *checker) field(def schema.FieldDef) {
	p := model.FieldPath(c.idx, def.Position)
	f, ok := c.seg.Field(def.Position)
	if !ok || f.Span.Len() == 0 {
		if def.Required {
			c.add(diagnostics.Error(diagnostics.ReasonMissingRequiredField,
				"%s (%s) is required", c.msg.Describe(p), def.Name).
				In(c.msg, p))
		}
		return
	}
	if c.seg.Literal(def.Position) {
		c.length(def, p, f.Span.Len())
		return
	}

	reps := len(f.Reps)
	switch {
	case reps > 1 && !def.Repeatable:
		c.add(diagnostics.Error(diagnostics.ReasonRepetitionNotAllowed,
			"%s (%s) does not repeat but has %d repetitions", c.msg.Describe(p), def.Name, reps).
			In(c.msg, p))
	case def.Repeatable && def.MaxReps > 0 && reps > def.MaxReps:
		c.add(diagnostics.Error(diagnostics.ReasonTooManyRepetitions,
			"%s (%s) allows %d repetitions, found %d", c.msg.Describe(p), def.Name, def.MaxReps, reps).
			In(c.msg, p))
	}

	dtype := c.datatypeOf(def)
	for r, rep := range f.Reps {
		rp := p
		rp.Repetition = r + 1
		c.length(def, rp, rep.Span.Len())
		if c.seg.Raw(rep.Span) == nullValue {
			continue
		}
		if dtype.Composite() {
			c.composite(rp, rep, dtype, def.Table)
			continue
		}
		c.value(rp, c.msg.Value(rp), dtype, def.Table)
	}
}

// datatypeOf resolves Varies fields through the field that names their type. Unknown or
// missing type names fall back to ST.
func (c *checker) datatypeOf(def schema.FieldDef) datatype.Datatype {
	tag := def.Type
	if tag == datatype.Varies {
		tag = datatype.ST
		if def.VariesBy > 0 {
			named := c.msg.Value(model.Path{Segment: c.idx, Field: def.VariesBy, Repetition: 1, Component: 1})
			if datatype.Known(datatype.Tag(named)) {
				tag = datatype.Tag(named)
			}
		}
	}
	d, ok := datatype.Lookup(tag)
	if !ok {
		d, _ = datatype.Lookup(datatype.ST)
	}
	return d
}

func (c *checker) length(def schema.FieldDef, p model.Path, n int) {
	if c.v.SkipLengths || def.MaxLength == 0 || n <= def.MaxLength {
		return
	}
	c.add(diagnostics.Warning(diagnostics.ReasonFieldTooLong,
		"%s (%s) is %d characters long; maximum is %d", c.msg.Describe(p), def.Name, n, def.MaxLength).
		In(c.msg, p))
}

// composite checks each component of one repetition against the component rules of
// dtype. A coded element's field-level table applies to its identifier component.
func (c *checker) composite(p model.Path, rep model.Repetition, dtype datatype.Datatype, fieldTable string) {
	for ci, comp := range rep.Components {
		if ci >= len(dtype.Components) {
			break
		}
		rule := dtype.Components[ci]
		table := rule.Table
		if ci == 0 && fieldTable != "" && isCoded(dtype.Tag) {
			table = fieldTable
		}
		cp := p
		cp.Component = ci + 1
		sub, ok := datatype.Lookup(rule.Type)
		if !ok {
			continue
		}
		if sub.Composite() {
			for si := range comp.Subs {
				if si >= len(sub.Components) {
					break
				}
				sp := cp
				sp.Subcomponent = si + 1
				leaf, ok := datatype.Lookup(sub.Components[si].Type)
				if !ok || leaf.Composite() {
					continue
				}
				c.value(sp, c.msg.Value(sp), leaf, sub.Components[si].Table)
			}
			continue
		}
		c.value(cp, c.msg.Value(cp), sub, table)
	}
}

func isCoded(tag datatype.Tag) bool {
	return tag == datatype.CE || tag == datatype.CWE || tag == datatype.CNE
}

func (c *checker) value(p model.Path, value string, dtype datatype.Datatype, table string) {
	if value == "" || value == nullValue {
		return
	}
	if err := dtype.Check(value); err != nil {
		c.add(diagnostics.Error(diagnostics.ReasonDatatypeMismatch,
			"%s is not a valid %s: %v", c.msg.Describe(p), dtype.Tag, err).
			In(c.msg, p))
		return
	}
	if table == "" {
		return
	}
	t, ok := c.profile.Table(table)
	if !ok {
		return
	}
	if _, ok := t[value]; !ok {
		c.add(diagnostics.Warning(diagnostics.ReasonTableValueNotFound,
			"%s value %q is not in table %s", c.msg.Describe(p), value, table).
			In(c.msg, p))
	}
}

func (c *checker) rules() {
	for _, rule := range c.profile.RulesFor(c.seg.Code) {
		p := model.SegmentPath(c.idx)
		if rule.Field > 0 {
			p = model.FieldPath(c.idx, rule.Field)
		}
		ok, err := rule.Eval(c.msg, c.idx)
		if err != nil {
			c.add(diagnostics.Error(diagnostics.ReasonRuleViolation, "%v", err).In(c.msg, p))
			continue
		}
		if ok {
			continue
		}
		text := rule.Message
		if text == "" {
			text = "rule " + rule.Name + " failed"
		}
		b := diagnostics.NewBuilder(diagnostics.SeverityFromString(rule.Severity), diagnostics.ReasonRuleViolation, text).
			In(c.msg, p).
			WithNote("rule: " + rule.Name)
		c.add(b)
	}
}
