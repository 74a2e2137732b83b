// Package export writes parsed messages and their diagnostics to files and databases.
//
// A Snapshot is a read-only copy of the messages to export. File encoders cover JSON,
// XML, CSV (field detail or one summary row per message), MessagePack and plain text;
// the SQL sinks load the same data into SQLite or PostgreSQL.
package export

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/interpret"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
)

// Format selects an encoder.
type Format string

const (
	FormatJSON       Format = "json"
	FormatXML        Format = "xml"
	FormatCSV        Format = "csv"
	FormatCSVSummary Format = "csv-summary"
	FormatMsgpack    Format = "msgpack"
	FormatText       Format = "text"
	FormatPipe       Format = "pipe"
)

var formats = []Format{FormatJSON, FormatXML, FormatCSV, FormatCSVSummary, FormatMsgpack, FormatText, FormatPipe}

// Formats lists the supported formats.
func Formats() []Format { return slices.Clone(formats) }

// ParseFormat parses a format name, case-insensitively. "hl7" is accepted for pipe.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "hl7" {
		return FormatPipe, nil
	}
	if slices.Contains(formats, f) {
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// Extension returns the conventional file extension for the format.
func (f Format) Extension() string {
	switch f {
	case FormatCSV, FormatCSVSummary:
		return ".csv"
	case FormatMsgpack:
		return ".msgpack"
	case FormatText:
		return ".txt"
	case FormatPipe:
		return ".hl7"
	default:
		return "." + string(f)
	}
}

// ErrBlocked is returned when BlockOnErrors is set and a message has error diagnostics.
var ErrBlocked = errors.New("export blocked by validation errors")

// Entry is one message of a snapshot.
type Entry struct {
	ID      uuid.UUID
	Source  string
	Message *model.Message
	// Lookup names fields in detail exports; nil leaves names empty.
	Lookup      interpret.Lookup
	Diagnostics []diagnostics.Diagnostic
}

// Status returns "Error", "Warning" or "Valid" from the entry's worst diagnostic.
func (e Entry) Status() string {
	status := "Valid"
	for _, d := range e.Diagnostics {
		switch {
		case d.IsError():
			return "Error"
		case d.IsWarning():
			status = "Warning"
		}
	}
	return status
}

// Snapshot is a read-only copy of messages prepared for export.
type Snapshot struct {
	Generated time.Time
	Entries   []Entry
}

// NewSnapshot clones msgs so later edits do not leak into the export. diags, when
// non-nil, is indexed like msgs.
func NewSnapshot(source string, msgs []*model.Message, diags [][]diagnostics.Diagnostic) *Snapshot {
	s := &Snapshot{Generated: time.Now().UTC()}
	for i, m := range msgs {
		e := Entry{ID: uuid.New(), Source: source, Message: m.Clone()}
		if i < len(diags) {
			e.Diagnostics = slices.Clone(diags[i])
		}
		s.Entries = append(s.Entries, e)
	}
	return s
}

// Add appends a message to the snapshot.
func (s *Snapshot) Add(e Entry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	s.Entries = append(s.Entries, e)
}

// Blocked reports whether any entry carries an error diagnostic.
func (s *Snapshot) Blocked() bool {
	for _, e := range s.Entries {
		if e.Status() == "Error" {
			return true
		}
	}
	return false
}

// Options configures an export.
type Options struct {
	Format Format
	Pretty bool
	// IncludeRaw adds the raw message text to structured formats.
	IncludeRaw    bool
	BlockOnErrors bool
	// Mapping replaces the CSV detail layout with one row per message of mapped columns,
	// and selects the columns of the mapped SQL table.
	Mapping *Mapping
	// Table names the mapped SQL table.
	Table string
}

// Write encodes snap to w in opts.Format.
func Write(w io.Writer, snap *Snapshot, opts Options) error {
	if opts.BlockOnErrors && snap.Blocked() {
		return ErrBlocked
	}
	switch opts.Format {
	case FormatJSON, "":
		return writeJSON(w, snap, opts)
	case FormatXML:
		return writeXML(w, snap, opts)
	case FormatCSV:
		if opts.Mapping != nil {
			return writeMappedCSV(w, snap, opts.Mapping)
		}
		return writeDetailCSV(w, snap)
	case FormatCSVSummary:
		return writeSummaryCSV(w, snap)
	case FormatMsgpack:
		return writeMsgpack(w, snap, opts)
	case FormatText:
		return writeText(w, snap)
	case FormatPipe:
		return writePipe(w, snap)
	default:
		return fmt.Errorf("unknown export format %q", opts.Format)
	}
}

func writeText(w io.Writer, snap *Snapshot) error {
	var b strings.Builder
	b.WriteString("HL7 Messages Export\n")
	fmt.Fprintf(&b, "Generated: %s\n", snap.Generated.Format(time.DateTime))
	fmt.Fprintf(&b, "Message Count: %d\n\n", len(snap.Entries))
	sep := strings.Repeat("=", 80)
	for i, e := range snap.Entries {
		msg := e.Message
		fmt.Fprintf(&b, "Message %d\n", i+1)
		fmt.Fprintf(&b, "Type: %s\n", interpret.MessageTypeDescription(msg.Type()))
		fmt.Fprintf(&b, "Control ID: %s\n", msg.ControlID())
		fmt.Fprintf(&b, "Version: %s\n", msg.Version())
		fmt.Fprintf(&b, "Status: %s\n", e.Status())
		b.WriteString(strings.Repeat("-", 40))
		b.WriteByte('\n')
		for _, seg := range msg.Segments {
			b.WriteString(seg.Text)
			b.WriteByte('\n')
		}
		b.WriteString(sep)
		b.WriteString("\n\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// writePipe writes messages back in their delimited form, separated by a blank line.
func writePipe(w io.Writer, snap *Snapshot) error {
	parts := make([]string, len(snap.Entries))
	for i, e := range snap.Entries {
		parts[i] = strings.TrimRight(e.Message.String(), "\r\n")
	}
	out := strings.Join(parts, "\n\n")
	if out != "" {
		out += "\n"
	}
	_, err := io.WriteString(w, out)
	return err
}
