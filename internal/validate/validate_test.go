package validate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/txtar"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/parser"
	"github.com/nirzaf/Hl7OpenSoup/internal/schema"
)

const header = "MSH|^~\\&|APP|FAC|||20240101120000||ADT^A01|CTRL1|P|2.5\r"

const extensionProfile = `
name: site
segments:
  ZPI:
    description: Site patient extras
    fields:
      - {position: 1, name: Set ID, type: SI, required: true}
      - {position: 2, name: Pet Name, type: ST, max_length: 10}
rules:
  - name: pet-name-upper
    segment: ZPI
    field: 2
    expr: field(2) == upper(field(2))
    message: pet names are upper case
    severity: warning
`

func mustParse(t *testing.T, src string) *model.Message {
	t.Helper()
	msg, _, err := parser.ParseMessage(src, 0)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	return msg
}

func reasons(diags []diagnostics.Diagnostic) []diagnostics.Reason {
	var out []diagnostics.Reason
	for _, d := range diags {
		out = append(out, d.Reason)
	}
	return out
}

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r := schema.NewRegistry(schema.Options{})
	if _, err := r.LoadProfile("site", []byte(extensionProfile), schema.FormatYAML); err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	return r
}

func TestMissingRequiredFieldIsIsolated(t *testing.T) {
	msg := mustParse(t, header+
		"EVN|A01|20240101120000\r"+
		"PID|1||||DOE^JOHN||19800101|M\r"+
		"PV1|1|I\r")
	res := newRegistry(t).Resolve(msg.Version())

	diags := Run(msg, res)
	if len(diags) != 1 {
		t.Fatalf("expected exactly one diagnostic, got %v", diags)
	}
	d := diags[0]
	if d.Reason != diagnostics.ReasonMissingRequiredField || !d.IsError() {
		t.Fatalf("unexpected diagnostic %v", d)
	}
	if want := model.FieldPath(2, 3); d.Path != want {
		t.Fatalf("anchored at %v, want %v", d.Path, want)
	}
	if d.Anchor() != "PID-3" {
		t.Fatalf("Anchor = %q", d.Anchor())
	}
}

func TestExtensionSegment(t *testing.T) {
	msg := mustParse(t, header+
		"EVN|A01|20240101120000\r"+
		"PID|1||123^^^HOSP^MR||DOE^JOHN\r"+
		"PV1|1|I\r"+
		"ZPI|1|REX\r")
	r := newRegistry(t)

	if diags := Run(msg, r.Resolve(msg.Version(), "site")); len(diags) != 0 {
		t.Fatalf("expected no diagnostics with the custom profile, got %v", diags)
	}

	diags := Run(msg, r.Resolve(msg.Version()))
	if diff := cmp.Diff([]diagnostics.Reason{diagnostics.ReasonUnknownSegmentCode}, reasons(diags)); diff != "" {
		t.Fatalf("reasons mismatch (-want +got):\n%s", diff)
	}
	if diags[0].Path != model.SegmentPath(4) {
		t.Fatalf("anchored at %v", diags[0].Path)
	}
}

func TestRuleViolation(t *testing.T) {
	msg := mustParse(t, header+"EVN|A01|20240101120000\rPID|1||1||X\rPV1|1|I\rZPI|1|rex\r")
	diags := Run(msg, newRegistry(t).Resolve("2.5", "site"))
	if len(diags) != 1 || diags[0].Reason != diagnostics.ReasonRuleViolation || !diags[0].IsWarning() {
		t.Fatalf("diagnostics = %v", diags)
	}
	if diags[0].Path != model.FieldPath(4, 2) || diags[0].Message != "pet names are upper case" {
		t.Fatalf("unexpected rule diagnostic %v", diags[0])
	}
}

func TestFieldChecks(t *testing.T) {
	tests := []struct {
		name    string
		segment string
		want    []diagnostics.Reason
		path    model.Path
	}{
		{
			name:    "repetition not allowed",
			segment: "PV1|1|I~O",
			want:    []diagnostics.Reason{diagnostics.ReasonRepetitionNotAllowed},
			path:    model.FieldPath(3, 2),
		},
		{
			name:    "datatype mismatch",
			segment: "PV1|X|I",
			want:    []diagnostics.Reason{diagnostics.ReasonDatatypeMismatch},
			path:    model.Path{Segment: 3, Field: 1, Repetition: 1},
		},
		{
			name:    "table value",
			segment: "PV1|1|Q",
			want:    []diagnostics.Reason{diagnostics.ReasonTableValueNotFound},
			path:    model.Path{Segment: 3, Field: 2, Repetition: 1},
		},
		{
			name:    "too long",
			segment: "PV1|1|I|" + strings.Repeat("W", 81),
			want:    []diagnostics.Reason{diagnostics.ReasonFieldTooLong},
			path:    model.Path{Segment: 3, Field: 3, Repetition: 1},
		},
		{
			name:    "composite component",
			segment: "PV1|1|I" + strings.Repeat("|", 42) + "2024130112",
			want:    []diagnostics.Reason{diagnostics.ReasonDatatypeMismatch},
			path:    model.Path{Segment: 3, Field: 44, Repetition: 1, Component: 1},
		},
		{
			name:    "unexpected field",
			segment: "PV1|1|I" + strings.Repeat("|", 44) + "extra",
			want:    []diagnostics.Reason{diagnostics.ReasonUnexpectedField},
			path:    model.FieldPath(3, 46),
		},
		{
			name:    "explicit null",
			segment: "PV1|\"\"|I",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := mustParse(t, header+"EVN|A01|20240101120000\rPID|1||1||X\r"+tt.segment)
			diags := Run(msg, schema.NewRegistry(schema.Options{}).Resolve("2.5"))
			if diff := cmp.Diff(tt.want, reasons(diags)); diff != "" {
				t.Fatalf("reasons mismatch (-want +got):\n%s\n%v", diff, diags)
			}
			if len(diags) > 0 && diags[0].Path != tt.path {
				t.Fatalf("anchored at %s, want %s", diags[0].Path, tt.path)
			}
		})
	}
}

func TestVariesUsesNamedType(t *testing.T) {
	r := schema.NewRegistry(schema.Options{})
	ok := mustParse(t, "MSH|^~\\&|LAB|H|||20240101||ORU^R01|1|P|2.5\rOBR|1||O1|CBC\rOBX|1|NM|WBC||7.2||||||F\r")
	if diags := Run(ok, r.Resolve("2.5")); len(diags) != 0 {
		t.Fatalf("unexpected diagnostics %v", diags)
	}
	bad := mustParse(t, "MSH|^~\\&|LAB|H|||20240101||ORU^R01|1|P|2.5\rOBR|1||O1|CBC\rOBX|1|NM|WBC||high||||||F\r")
	diags := Run(bad, r.Resolve("2.5"))
	if len(diags) != 1 || diags[0].Reason != diagnostics.ReasonDatatypeMismatch {
		t.Fatalf("diagnostics = %v", diags)
	}
	if want := (model.Path{Segment: 2, Field: 5, Repetition: 1}); diags[0].Path != want {
		t.Fatalf("anchored at %s", diags[0].Path)
	}
}

func TestMessageLevel(t *testing.T) {
	r := schema.NewRegistry(schema.Options{})
	msg := mustParse(t, "MSH|^~\\&|A|B|||20240101||ADT^A01|1|P|2.5.9\rPID|1||1||X\rPID|2||2||Y\r")
	diags := MessageLevel(msg, r.Resolve(msg.Version()))
	want := []diagnostics.Reason{
		diagnostics.ReasonUnsupportedVersion,
		diagnostics.ReasonMissingRequiredSegment,
		diagnostics.ReasonMissingRequiredSegment,
		diagnostics.ReasonSegmentNotRepeatable,
	}
	if diff := cmp.Diff(want, reasons(diags)); diff != "" {
		t.Fatalf("reasons mismatch (-want +got):\n%s", diff)
	}
	if !diags[0].IsWarning() || diags[0].Path != model.FieldPath(0, 12) {
		t.Fatalf("UnsupportedVersion = %v", diags[0])
	}
	if diags[3].Path != model.SegmentPath(2) {
		t.Fatalf("SegmentNotRepeatable anchored at %s", diags[3].Path)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	archive, err := txtar.ParseFile("testdata/messages.txtar")
	if err != nil {
		t.Fatalf("read fixtures: %v", err)
	}
	r := newRegistry(t)
	for _, file := range archive.Files {
		doc, _ := parser.ParseAll(string(file.Data))
		for _, msg := range doc.Messages {
			res := r.Resolve(msg.Version(), "site")
			first := Run(msg, res)
			second := Run(msg, res)
			if diff := cmp.Diff(first, second); diff != "" {
				t.Fatalf("%s: second run differs (-first +second):\n%s", file.Name, diff)
			}
		}
	}
}

func TestSegmentUnionEqualsRun(t *testing.T) {
	archive, err := txtar.ParseFile("testdata/messages.txtar")
	if err != nil {
		t.Fatalf("read fixtures: %v", err)
	}
	r := newRegistry(t)
	for _, file := range archive.Files {
		doc, _ := parser.ParseAll(string(file.Data))
		for _, msg := range doc.Messages {
			res := r.Resolve(msg.Version())
			var parts []diagnostics.Diagnostic
			for i := len(msg.Segments) - 1; i >= 0; i-- {
				parts = append(parts, Segment(msg, i, res)...)
			}
			parts = append(parts, MessageLevel(msg, res)...)
			Sort(parts)
			if diff := cmp.Diff(Run(msg, res), parts); diff != "" {
				t.Fatalf("%s: scoped union differs (-run +union):\n%s", file.Name, diff)
			}
		}
	}
}

func TestRunContextCancelled(t *testing.T) {
	msg := mustParse(t, header+strings.Repeat("PID|1||1||X\r", 10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	diags, err := RunContext(ctx, msg, schema.NewRegistry(schema.Options{}).Resolve("2.5"))
	if !errors.Is(err, context.Canceled) || diags != nil {
		t.Fatalf("RunContext = %v, %v", diags, err)
	}
}

func TestSkipLengths(t *testing.T) {
	msg := mustParse(t, header+"EVN|A01|20240101120000\rPID|1||1||X\rPV1|1|I|"+strings.Repeat("W", 81)+"\r")
	res := schema.NewRegistry(schema.Options{}).Resolve("2.5")
	if diags := (Validator{SkipLengths: true}).Run(msg, res); len(diags) != 0 {
		t.Fatalf("expected length checks to be skipped, got %v", diags)
	}
}
