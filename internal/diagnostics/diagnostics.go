// Package diagnostics describes problems found while parsing and validating HL7 messages.
// Every diagnostic carries a machine-readable reason code, the structured path of the
// node it is anchored to and, when the node is present, its byte span.
package diagnostics

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
)

// Severity indicates the seriousness of a diagnostic.
type Severity int

const (
	// SeverityInfo indicates an informational message.
	SeverityInfo Severity = iota
	// SeverityWarning indicates a problem that does not make the message unusable.
	SeverityWarning
	// SeverityError indicates a conformance failure.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// SeverityFromString parses a severity level from a string.
func SeverityFromString(s string) Severity {
	switch strings.ToLower(s) {
	case "info":
		return SeverityInfo
	case "warning", "warn":
		return SeverityWarning
	case "error", "err":
		return SeverityError
	default:
		return SeverityWarning
	}
}

// Reason is a machine-readable diagnostic code.
type Reason string

// Parse-level reasons.
const (
	ReasonMalformedHeader      Reason = "MalformedHeader"
	ReasonUnterminatedEscape   Reason = "UnterminatedEscape"
	ReasonUnknownSegmentHeader Reason = "UnknownSegmentHeader"
	ReasonMalformedSegmentCode Reason = "MalformedSegmentCode"
)

// Validation reasons.
const (
	ReasonUnsupportedVersion     Reason = "UnsupportedVersion"
	ReasonUnknownSegmentCode     Reason = "UnknownSegmentCode"
	ReasonMissingRequiredField   Reason = "MissingRequiredField"
	ReasonRepetitionNotAllowed   Reason = "RepetitionNotAllowed"
	ReasonTooManyRepetitions     Reason = "TooManyRepetitions"
	ReasonDatatypeMismatch       Reason = "DatatypeMismatch"
	ReasonTableValueNotFound     Reason = "TableValueNotFound"
	ReasonFieldTooLong           Reason = "FieldTooLong"
	ReasonUnexpectedField        Reason = "UnexpectedField"
	ReasonMissingRequiredSegment Reason = "MissingRequiredSegment"
	ReasonSegmentNotRepeatable   Reason = "SegmentNotRepeatable"
	ReasonRuleViolation          Reason = "RuleViolation"
)

// Category groups reasons for summaries.
type Category string

const (
	CategoryParse     Category = "parse"
	CategoryStructure Category = "structure"
	CategoryContent   Category = "content"
	CategoryRule      Category = "rule"
)

// Category returns the group a reason belongs to.
func (r Reason) Category() Category {
	switch r {
	case ReasonMalformedHeader, ReasonUnterminatedEscape, ReasonUnknownSegmentHeader, ReasonMalformedSegmentCode:
		return CategoryParse
	case ReasonDatatypeMismatch, ReasonTableValueNotFound, ReasonFieldTooLong:
		return CategoryContent
	case ReasonRuleViolation:
		return CategoryRule
	default:
		return CategoryStructure
	}
}

// Description returns a human-readable description of a reason code.
func (r Reason) Description() string {
	descriptions := map[Reason]string{
		ReasonMalformedHeader:        "Header segment does not declare a usable delimiter set",
		ReasonUnterminatedEscape:     "Escape sequence is not closed",
		ReasonUnknownSegmentHeader:   "Message does not start with a header segment",
		ReasonMalformedSegmentCode:   "Segment code is not three upper-case letters or digits",
		ReasonUnsupportedVersion:     "Declared version is not known; closest version used",
		ReasonUnknownSegmentCode:     "Segment is not defined by the active profile",
		ReasonMissingRequiredField:   "Required field is empty or absent",
		ReasonRepetitionNotAllowed:   "Field repeats but is not repeatable",
		ReasonTooManyRepetitions:     "Field repeats more often than allowed",
		ReasonDatatypeMismatch:       "Value does not match the field datatype",
		ReasonTableValueNotFound:     "Coded value is not in the referenced table",
		ReasonFieldTooLong:           "Value exceeds the maximum length",
		ReasonUnexpectedField:        "Field is beyond the segment definition",
		ReasonMissingRequiredSegment: "Message structure requires a segment that is absent",
		ReasonSegmentNotRepeatable:   "Segment appears more than once",
		ReasonRuleViolation:          "Custom profile rule failed",
	}
	if desc, ok := descriptions[r]; ok {
		return desc
	}
	return "Unknown reason code"
}

// Location is a line/column position in a source file, filled in by callers that know
// which file a message came from.
type Location struct {
	Path   string
	Line   int
	Column int
	Offset int
}

// Diagnostic is one finding about a message.
type Diagnostic struct {
	Severity Severity
	Reason   Reason
	Message  string

	// Path anchors the diagnostic in the tree.
	Path model.Path
	// Segment is the code of the anchored segment, for display.
	Segment string
	// Span is the message-relative span of the anchored node; HasSpan is false when the
	// node is absent (a missing required field, for example).
	Span    model.Span
	HasSpan bool

	// Location is the file position, when known.
	Location Location
	// Context is a snippet of the offending segment.
	Context string

	Notes  []string
	Source string // component that produced the diagnostic ("parser", "validator", ...)
}

// HasLocation returns true if the diagnostic has a file location.
func (d Diagnostic) HasLocation() bool {
	return d.Location.Path != "" && d.Location.Line > 0
}

// IsError returns true if the diagnostic is an error.
func (d Diagnostic) IsError() bool {
	return d.Severity == SeverityError
}

// IsWarning returns true if the diagnostic is a warning.
func (d Diagnostic) IsWarning() bool {
	return d.Severity == SeverityWarning
}

// IsInfo returns true if the diagnostic is informational.
func (d Diagnostic) IsInfo() bool {
	return d.Severity == SeverityInfo
}

// Anchor renders the path with its segment code, e.g. "PID-5[1].1".
func (d Diagnostic) Anchor() string {
	if d.Path.Segment < 0 {
		return "message"
	}
	if d.Segment == "" {
		return d.Path.String()
	}
	p := d.Path.String()
	if i := strings.IndexByte(p, '-'); i >= 0 {
		return d.Segment + p[i:]
	}
	return d.Segment
}

// Error implements the error interface.
func (d Diagnostic) Error() string {
	if d.HasLocation() {
		return fmt.Sprintf("%s:%d:%d: [%s] %s: %s", d.Location.Path, d.Location.Line, d.Location.Column, d.Reason, d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: [%s] %s: %s", d.Anchor(), d.Reason, d.Severity, d.Message)
}

// String returns a human-readable representation of the diagnostic.
func (d Diagnostic) String() string {
	var b strings.Builder
	if d.HasLocation() {
		fmt.Fprintf(&b, "%s:%d:%d: ", d.Location.Path, d.Location.Line, d.Location.Column)
	}
	fmt.Fprintf(&b, "%s: %s: %s [%s]", d.Anchor(), d.Severity, d.Message, d.Reason)
	if d.Source != "" {
		fmt.Fprintf(&b, " (%s)", d.Source)
	}
	if d.Context != "" {
		fmt.Fprintf(&b, "\n  --> %s", d.Context)
	}
	for _, note := range d.Notes {
		fmt.Fprintf(&b, "\n  note: %s", note)
	}
	return b.String()
}

// Builder provides a fluent API for constructing diagnostics.
type Builder struct {
	diag Diagnostic
}

// NewBuilder creates a new diagnostic builder.
func NewBuilder(severity Severity, reason Reason, message string) *Builder {
	return &Builder{diag: Diagnostic{Severity: severity, Reason: reason, Message: message}}
}

// Error creates a builder for an error-level diagnostic.
func Error(reason Reason, format string, args ...any) *Builder {
	return NewBuilder(SeverityError, reason, fmt.Sprintf(format, args...))
}

// Warning creates a builder for a warning-level diagnostic.
func Warning(reason Reason, format string, args ...any) *Builder {
	return NewBuilder(SeverityWarning, reason, fmt.Sprintf(format, args...))
}

// Info creates a builder for an info-level diagnostic.
func Info(reason Reason, format string, args ...any) *Builder {
	return NewBuilder(SeverityInfo, reason, fmt.Sprintf(format, args...))
}

// At anchors the diagnostic at a path.
func (b *Builder) At(p model.Path, segment string) *Builder {
	b.diag.Path = p
	b.diag.Segment = segment
	return b
}

// WithSpan records the span of the anchored node.
func (b *Builder) WithSpan(span model.Span) *Builder {
	b.diag.Span = span
	b.diag.HasSpan = true
	return b
}

// In anchors the diagnostic at p and looks up its span in msg when the node is present.
func (b *Builder) In(msg *model.Message, p model.Path) *Builder {
	code := ""
	if p.Segment >= 0 && p.Segment < len(msg.Segments) {
		code = msg.Segments[p.Segment].Code
	}
	b.At(p, code)
	if span, err := msg.Span(p); err == nil {
		b.WithSpan(span)
	}
	return b
}

// AtLocation sets the file location.
func (b *Builder) AtLocation(loc Location) *Builder {
	b.diag.Location = loc
	return b
}

// WithContext sets the context snippet.
func (b *Builder) WithContext(context string) *Builder {
	b.diag.Context = context
	return b
}

// WithSource sets the source component.
func (b *Builder) WithSource(source string) *Builder {
	b.diag.Source = source
	return b
}

// WithNote adds a note.
func (b *Builder) WithNote(note string) *Builder {
	b.diag.Notes = append(b.diag.Notes, note)
	return b
}

// Build returns the constructed diagnostic.
func (b *Builder) Build() Diagnostic {
	return b.diag
}

// Collection holds a set of diagnostics.
type Collection struct {
	diagnostics []Diagnostic
}

// NewCollection creates a new collection holding diags.
func NewCollection(diags ...Diagnostic) *Collection {
	return &Collection{diagnostics: append(make([]Diagnostic, 0, len(diags)), diags...)}
}

// Add adds a diagnostic to the collection.
func (c *Collection) Add(d Diagnostic) {
	c.diagnostics = append(c.diagnostics, d)
}

// AddAll adds all diagnostics from another collection.
func (c *Collection) AddAll(other *Collection) {
	c.diagnostics = append(c.diagnostics, other.diagnostics...)
}

// HasErrors returns true if the collection contains any errors.
func (c *Collection) HasErrors() bool {
	return slices.ContainsFunc(c.diagnostics, Diagnostic.IsError)
}

// Errors returns all error-level diagnostics.
func (c *Collection) Errors() []Diagnostic {
	return c.Filter(Diagnostic.IsError)
}

// Warnings returns all warning-level diagnostics.
func (c *Collection) Warnings() []Diagnostic {
	return c.Filter(Diagnostic.IsWarning)
}

// All returns all diagnostics.
func (c *Collection) All() []Diagnostic {
	return append([]Diagnostic(nil), c.diagnostics...)
}

// Len returns the number of diagnostics.
func (c *Collection) Len() int {
	return len(c.diagnostics)
}

// Filter returns diagnostics matching the given predicate.
func (c *Collection) Filter(predicate func(Diagnostic) bool) []Diagnostic {
	var result []Diagnostic
	for _, d := range c.diagnostics {
		if predicate(d) {
			result = append(result, d)
		}
	}
	return result
}

// BySeverity returns diagnostics of a specific severity.
func (c *Collection) BySeverity(severity Severity) []Diagnostic {
	return c.Filter(func(d Diagnostic) bool { return d.Severity == severity })
}

// ByReason returns diagnostics with a specific reason code.
func (c *Collection) ByReason(reason Reason) []Diagnostic {
	return c.Filter(func(d Diagnostic) bool { return d.Reason == reason })
}

// Within returns diagnostics anchored at or below p.
func (c *Collection) Within(p model.Path) []Diagnostic {
	return c.Filter(func(d Diagnostic) bool { return p.Contains(d.Path) })
}

// SortByPath orders diagnostics by anchor path, keeping the relative order of diagnostics
// on the same path.
func (c *Collection) SortByPath() {
	slices.SortStableFunc(c.diagnostics, func(a, b Diagnostic) int {
		return a.Path.Compare(b.Path)
	})
}

// SortByLocation orders diagnostics by file, line and column.
func (c *Collection) SortByLocation() {
	slices.SortStableFunc(c.diagnostics, func(a, b Diagnostic) int {
		return cmp.Or(
			cmp.Compare(a.Location.Path, b.Location.Path),
			cmp.Compare(a.Location.Line, b.Location.Line),
			cmp.Compare(a.Location.Column, b.Location.Column),
		)
	})
}

// Summary provides a quick overview of diagnostics.
type Summary struct {
	Total    int
	Errors   int
	Warnings int
	Infos    int
}

// Summary returns a summary of the diagnostics collection.
func (c *Collection) Summary() Summary {
	s := Summary{Total: len(c.diagnostics)}
	for _, d := range c.diagnostics {
		switch d.Severity {
		case SeverityError:
			s.Errors++
		case SeverityWarning:
			s.Warnings++
		case SeverityInfo:
			s.Infos++
		}
	}
	return s
}

// Categorize groups diagnostics by the category of their reason code.
func (c *Collection) Categorize() map[Category][]Diagnostic {
	out := make(map[Category][]Diagnostic)
	for _, d := range c.diagnostics {
		cat := d.Reason.Category()
		out[cat] = append(out[cat], d)
	}
	return out
}
