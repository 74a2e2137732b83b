package diagnostics

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
)

// Formatter formats diagnostics for display.
type Formatter struct {
	// ShowContext controls whether to display segment snippets.
	ShowContext bool
	// ShowNotes controls whether to display notes.
	ShowNotes bool
	// ShowSource controls whether to display the source component.
	ShowSource bool
	// ShowReason controls whether to display reason codes.
	ShowReason bool
	// ShowReasonDescription controls whether to display reason descriptions.
	ShowReasonDescription bool
	// Colorize controls whether to use terminal colors.
	Colorize bool
}

// NewFormatter creates a new formatter with default settings.
func NewFormatter() *Formatter {
	return &Formatter{
		ShowContext: true,
		ShowNotes:   true,
		ShowReason:  true,
	}
}

// NewVerboseFormatter creates a formatter with all options enabled.
func NewVerboseFormatter() *Formatter {
	return &Formatter{
		ShowContext:           true,
		ShowNotes:             true,
		ShowSource:            true,
		ShowReason:            true,
		ShowReasonDescription: true,
		Colorize:              true,
	}
}

// NewSimpleFormatter creates a formatter with minimal output.
func NewSimpleFormatter() *Formatter {
	return &Formatter{}
}

// Format formats a single diagnostic as a string.
func (f *Formatter) Format(d Diagnostic) string {
	var b strings.Builder
	f.formatDiagnostic(&b, d)
	return b.String()
}

// FormatAll formats all diagnostics in a collection.
func (f *Formatter) FormatAll(c *Collection) string {
	var b strings.Builder
	for _, d := range c.All() {
		f.formatDiagnostic(&b, d)
	}
	return b.String()
}

// Write writes a single diagnostic to the writer.
func (f *Formatter) Write(w io.Writer, d Diagnostic) error {
	_, err := io.WriteString(w, f.Format(d))
	return err
}

// WriteAll writes all diagnostics in a collection to the writer.
func (f *Formatter) WriteAll(w io.Writer, c *Collection) error {
	_, err := io.WriteString(w, f.FormatAll(c))
	return err
}

// PrintSummary prints a one-line summary of diagnostics.
func (f *Formatter) PrintSummary(w io.Writer, c *Collection) {
	summary := c.Summary()
	if summary.Total == 0 {
		return
	}
	parts := make([]string, 0, 3)
	if summary.Errors > 0 {
		parts = append(parts, f.paint(fmt.Sprintf("%d error(s)", summary.Errors), color.FgRed))
	}
	if summary.Warnings > 0 {
		parts = append(parts, f.paint(fmt.Sprintf("%d warning(s)", summary.Warnings), color.FgYellow))
	}
	if summary.Infos > 0 {
		parts = append(parts, f.paint(fmt.Sprintf("%d info(s)", summary.Infos), color.FgBlue))
	}
	_, _ = fmt.Fprintf(w, "\n%s\n", strings.Join(parts, ", "))
}

// PrintCategorizedSummary prints diagnostic counts per category.
func (f *Formatter) PrintCategorizedSummary(w io.Writer, c *Collection) {
	cats := c.Categorize()
	if len(cats) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, f.paint("Diagnostic Summary:", color.Bold))
	names := make([]string, 0, len(cats))
	for cat := range cats {
		names = append(names, string(cat))
	}
	sort.Strings(names)
	for _, name := range names {
		diags := cats[Category(name)]
		_, _ = fmt.Fprintf(w, "  %s: %d\n", f.paint(name, color.FgCyan), len(diags))
	}
}

func (f *Formatter) formatDiagnostic(b *strings.Builder, d Diagnostic) {
	if d.HasLocation() {
		location := f.paint(fmt.Sprintf("%s:%d:%d", d.Location.Path, d.Location.Line, d.Location.Column), color.FgCyan)
		fmt.Fprintf(b, "%s: ", location)
	}
	fmt.Fprintf(b, "%s: ", f.paint(d.Anchor(), color.Bold))
	severity := f.paint(d.Severity.String(), f.severityColor(d.Severity))
	fmt.Fprintf(b, "%s: %s", severity, d.Message)

	if f.ShowReason && d.Reason != "" {
		fmt.Fprintf(b, " %s", f.paint(fmt.Sprintf("[%s]", d.Reason), color.FgMagenta))
		if f.ShowReasonDescription {
			fmt.Fprintf(b, " (%s)", d.Reason.Description())
		}
	}
	if f.ShowSource && d.Source != "" {
		fmt.Fprintf(b, " (%s)", d.Source)
	}
	b.WriteString("\n")

	if f.ShowContext && d.Context != "" {
		for _, line := range strings.Split(d.Context, "\n") {
			fmt.Fprintf(b, "  %s %s\n", f.paint("-->", color.FgBlue), line)
		}
	}
	if f.ShowNotes {
		for _, note := range d.Notes {
			fmt.Fprintf(b, "  %s %s\n", f.paint("note:", color.FgBlue), note)
		}
	}
}

func (f *Formatter) severityColor(s Severity) color.Attribute {
	switch s {
	case SeverityError:
		return color.FgRed
	case SeverityWarning:
		return color.FgYellow
	case SeverityInfo:
		return color.FgBlue
	default:
		return color.Reset
	}
}

func (f *Formatter) paint(s string, attr color.Attribute) string {
	if !f.Colorize {
		return s
	}
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}

// SimpleFormatter provides a one-line format for diagnostics.
type SimpleFormatter struct{}

// Format formats a diagnostic in simple format.
func (f *SimpleFormatter) Format(d Diagnostic) string {
	var b strings.Builder
	if d.HasLocation() {
		fmt.Fprintf(&b, "%s:%d:%d: ", d.Location.Path, d.Location.Line, d.Location.Column)
	}
	fmt.Fprintf(&b, "%s: %s: %s", d.Anchor(), d.Severity, d.Message)
	if d.Reason != "" {
		fmt.Fprintf(&b, " [%s]", d.Reason)
	}
	return b.String()
}

// JSONFormatter formats diagnostics as JSON.
type JSONFormatter struct {
	Indent bool
}

type jsonSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type jsonLocation struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

type jsonDiagnostic struct {
	Severity string        `json:"severity"`
	Reason   string        `json:"reason"`
	Message  string        `json:"message"`
	Path     string        `json:"path"`
	Span     *jsonSpan     `json:"span,omitempty"`
	Location *jsonLocation `json:"location,omitempty"`
	Source   string        `json:"source,omitempty"`
	Context  string        `json:"context,omitempty"`
	Notes    []string      `json:"notes,omitempty"`
}

func toJSON(d Diagnostic) jsonDiagnostic {
	out := jsonDiagnostic{
		Severity: d.Severity.String(),
		Reason:   string(d.Reason),
		Message:  d.Message,
		Path:     d.Anchor(),
		Source:   d.Source,
		Context:  d.Context,
		Notes:    d.Notes,
	}
	if d.HasSpan {
		out.Span = &jsonSpan{Start: d.Span.Start, End: d.Span.End}
	}
	if d.HasLocation() {
		out.Location = &jsonLocation{Path: d.Location.Path, Line: d.Location.Line, Column: d.Location.Column}
	}
	return out
}

// Format formats a diagnostic as a JSON object.
func (f *JSONFormatter) Format(d Diagnostic) string {
	data, err := json.Marshal(toJSON(d))
	if err != nil {
		return "{}"
	}
	return string(data)
}

// FormatCollection formats an entire collection as a JSON array.
func (f *JSONFormatter) FormatCollection(c *Collection) string {
	all := c.All()
	items := make([]jsonDiagnostic, len(all))
	for i, d := range all {
		items[i] = toJSON(d)
	}
	var (
		data []byte
		err  error
	)
	if f.Indent {
		data, err = json.MarshalIndent(items, "", "  ")
	} else {
		data, err = json.Marshal(items)
	}
	if err != nil {
		return "[]"
	}
	return string(data)
}
