package diagnostics

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/delim"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
)

const (
	headerLine = "MSH|^~\\&|APP|FAC|||20240101||ADT^A01|1|P|2.5"
	pidLine    = "PID|1||123||DOE^JANE"
)

// testMessage builds a CR-terminated MSH/PID message without going through the parser.
func testMessage(t *testing.T, offset int) *model.Message {
	t.Helper()
	var segs []*model.Segment
	for _, line := range []string{headerLine, pidLine} {
		seg, err := model.BuildSegment(line, delim.Default())
		if err != nil {
			t.Fatalf("BuildSegment(%q): %v", line, err)
		}
		seg.Terminator = "\r"
		segs = append(segs, seg)
	}
	return model.NewMessage(delim.Default(), segs, offset)
}

func TestSeverityString(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSeverityFromString(t *testing.T) {
	tests := []struct {
		input string
		want  Severity
	}{
		{"info", SeverityInfo},
		{"WARN", SeverityWarning},
		{"error", SeverityError},
		{"err", SeverityError},
		{"", SeverityWarning},
		{"fatal", SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := SeverityFromString(tt.input); got != tt.want {
				t.Errorf("SeverityFromString(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestReasonCategory(t *testing.T) {
	tests := []struct {
		reason Reason
		want   Category
	}{
		{ReasonMalformedHeader, CategoryParse},
		{ReasonMalformedSegmentCode, CategoryParse},
		{ReasonFieldTooLong, CategoryContent},
		{ReasonTableValueNotFound, CategoryContent},
		{ReasonRuleViolation, CategoryRule},
		{ReasonMissingRequiredSegment, CategoryStructure},
		{Reason("Whatever"), CategoryStructure},
	}
	for _, tt := range tests {
		if got := tt.reason.Category(); got != tt.want {
			t.Errorf("%s.Category() = %s, want %s", tt.reason, got, tt.want)
		}
	}
	if got := Reason("Whatever").Description(); got != "Unknown reason code" {
		t.Errorf("Description() of unknown reason = %q", got)
	}
}

func TestDiagnosticAnchor(t *testing.T) {
	leaf := model.Path{Segment: 1, Field: 5, Repetition: 1, Component: 1}
	tests := []struct {
		name string
		diag Diagnostic
		want string
	}{
		{"with code", Diagnostic{Path: leaf, Segment: "PID"}, "PID-5[1].1"},
		{"without code", Diagnostic{Path: leaf}, "1-5[1].1"},
		{"segment", Diagnostic{Path: model.SegmentPath(1), Segment: "PID"}, "PID"},
		{"message", Diagnostic{Path: model.MessagePath, Segment: "MSH"}, "message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.diag.Anchor(); got != tt.want {
				t.Errorf("Anchor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDiagnosticErrorAndString(t *testing.T) {
	d := Error(ReasonMissingRequiredField, "%s is required", "PID-3").
		At(model.FieldPath(1, 3), "PID").
		WithSource("validator").
		WithContext("PID|1").
		WithNote("profile 2.5").
		Build()

	if got, want := d.Error(), "PID-3: [MissingRequiredField] error: PID-3 is required"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	want := "PID-3: error: PID-3 is required [MissingRequiredField] (validator)\n  --> PID|1\n  note: profile 2.5"
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	d.Location = Location{Path: "adt.hl7", Line: 2, Column: 5}
	if got, want := d.Error(), "adt.hl7:2:5: [MissingRequiredField] error: PID-3 is required"; got != want {
		t.Errorf("Error() with location = %q, want %q", got, want)
	}
	if !d.HasLocation() || (Diagnostic{Location: Location{Path: "x"}}).HasLocation() {
		t.Error("HasLocation needs both a path and a line")
	}
}

func TestBuilderIn(t *testing.T) {
	msg := testMessage(t, 0)
	p := model.Path{Segment: 1, Field: 5, Repetition: 1, Component: 2}

	d := Warning(ReasonDatatypeMismatch, "bad").In(msg, p).Build()
	want := Diagnostic{
		Severity: SeverityWarning,
		Reason:   ReasonDatatypeMismatch,
		Message:  "bad",
		Path:     p,
		Segment:  "PID",
		Span:     model.Span{Start: len(headerLine) + 1 + len("PID|1||123||DOE^"), End: len(headerLine) + 1 + len(pidLine)},
		HasSpan:  true,
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Fatalf("In() mismatch (-want +got):\n%s", diff)
	}

	empty := Error(ReasonMissingRequiredField, "empty").In(msg, model.FieldPath(1, 4)).Build()
	at := len(headerLine) + 1 + len("PID|1||123|")
	if !empty.HasSpan || empty.Span != (model.Span{Start: at, End: at}) {
		t.Fatalf("empty field span = %s (%v), want %d:%d", empty.Span, empty.HasSpan, at, at)
	}
	x := NewLineIndex("one.hl7", msg.String())
	if got := x.Resolve(msg, []Diagnostic{empty})[0].Location; got.Line != 2 || got.Column != len("PID|1||123|")+1 {
		t.Fatalf("empty field location = %+v", got)
	}

	missing := Error(ReasonMissingRequiredField, "absent").In(msg, model.FieldPath(1, 9)).Build()
	if missing.HasSpan || missing.Segment != "PID" {
		t.Fatalf("absent node: %+v", missing)
	}
	if info := Info(ReasonUnsupportedVersion, "v").Build(); !info.IsInfo() || info.IsError() || info.IsWarning() {
		t.Fatalf("Info builder produced %+v", info)
	}
}

func TestCollection(t *testing.T) {
	pid3 := Error(ReasonMissingRequiredField, "a").At(model.FieldPath(1, 3), "PID").Build()
	pid5 := Warning(ReasonFieldTooLong, "b").At(model.Path{Segment: 1, Field: 5, Repetition: 1}, "PID").Build()
	msh := Error(ReasonMalformedHeader, "c").At(model.FieldPath(0, 2), "MSH").Build()
	rule := Info(ReasonRuleViolation, "d").At(model.MessagePath, "").Build()

	c := NewCollection(pid5, pid3)
	c.AddAll(NewCollection(msh))
	c.Add(rule)

	if c.Len() != 4 || !c.HasErrors() {
		t.Fatalf("Len = %d, HasErrors = %v", c.Len(), c.HasErrors())
	}
	if got := c.Summary(); got != (Summary{Total: 4, Errors: 2, Warnings: 1, Infos: 1}) {
		t.Fatalf("Summary = %+v", got)
	}
	if diff := cmp.Diff([]Diagnostic{pid3, msh}, c.Errors()); diff != "" {
		t.Fatalf("Errors mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Diagnostic{pid5}, c.Warnings()); diff != "" {
		t.Fatalf("Warnings mismatch (-want +got):\n%s", diff)
	}
	if got := c.ByReason(ReasonRuleViolation); len(got) != 1 || got[0].Message != "d" {
		t.Fatalf("ByReason = %v", got)
	}
	if got := c.BySeverity(SeverityInfo); len(got) != 1 {
		t.Fatalf("BySeverity(info) = %v", got)
	}
	if diff := cmp.Diff([]Diagnostic{pid5, pid3}, c.Within(model.SegmentPath(1))); diff != "" {
		t.Fatalf("Within mismatch (-want +got):\n%s", diff)
	}

	c.SortByPath()
	if diff := cmp.Diff([]Diagnostic{rule, msh, pid3, pid5}, c.All()); diff != "" {
		t.Fatalf("SortByPath mismatch (-want +got):\n%s", diff)
	}

	cats := c.Categorize()
	if len(cats[CategoryParse]) != 1 || len(cats[CategoryStructure]) != 1 || len(cats[CategoryContent]) != 1 || len(cats[CategoryRule]) != 1 {
		t.Fatalf("Categorize = %v", cats)
	}

	all := c.All()
	all[0].Message = "mutated"
	if c.All()[0].Message == "mutated" {
		t.Fatal("All must return a copy")
	}
}

func TestCollectionSortByLocation(t *testing.T) {
	at := func(path string, line, col int) Diagnostic {
		return Diagnostic{Message: path, Location: Location{Path: path, Line: line, Column: col}}
	}
	c := NewCollection(at("b.hl7", 1, 1), at("a.hl7", 3, 2), at("a.hl7", 3, 1), at("a.hl7", 1, 9))
	c.SortByLocation()

	var got []Location
	for _, d := range c.All() {
		got = append(got, d.Location)
	}
	want := []Location{
		{Path: "a.hl7", Line: 1, Column: 9},
		{Path: "a.hl7", Line: 3, Column: 1},
		{Path: "a.hl7", Line: 3, Column: 2},
		{Path: "b.hl7", Line: 1, Column: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("SortByLocation mismatch (-want +got):\n%s", diff)
	}
}
