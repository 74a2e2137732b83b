package export

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
)

type documentRecord struct {
	Info     infoRecord      `json:"export_info" msgpack:"export_info"`
	Messages []messageRecord `json:"messages" msgpack:"messages"`
}

type infoRecord struct {
	Timestamp    string `json:"timestamp" msgpack:"timestamp"`
	MessageCount int    `json:"message_count" msgpack:"message_count"`
	Format       string `json:"format" msgpack:"format"`
}

type messageRecord struct {
	Index       int                `json:"index" msgpack:"index"`
	ID          string             `json:"id" msgpack:"id"`
	Source      string             `json:"source,omitempty" msgpack:"source,omitempty"`
	MessageType string             `json:"message_type" msgpack:"message_type"`
	ControlID   string             `json:"control_id" msgpack:"control_id"`
	Version     string             `json:"version" msgpack:"version"`
	Status      string             `json:"status" msgpack:"status"`
	Raw         string             `json:"raw_content,omitempty" msgpack:"raw_content,omitempty"`
	Validation  []diagnosticRecord `json:"validation" msgpack:"validation"`
	Segments    []segmentRecord    `json:"segments" msgpack:"segments"`
}

type diagnosticRecord struct {
	Severity string `json:"severity" msgpack:"severity"`
	Reason   string `json:"reason" msgpack:"reason"`
	Location string `json:"location" msgpack:"location"`
	Message  string `json:"message" msgpack:"message"`
	Start    *int   `json:"start,omitempty" msgpack:"start,omitempty"`
	End      *int   `json:"end,omitempty" msgpack:"end,omitempty"`
}

type segmentRecord struct {
	Index  int           `json:"index" msgpack:"index"`
	Name   string        `json:"name" msgpack:"name"`
	Fields []fieldRecord `json:"fields" msgpack:"fields"`
}

type fieldRecord struct {
	Index int    `json:"index" msgpack:"index"`
	Value string `json:"value" msgpack:"value"`
	// Repetitions is set only for structured fields.
	Repetitions []repetitionRecord `json:"repetitions,omitempty" msgpack:"repetitions,omitempty"`
}

type repetitionRecord struct {
	Index      int               `json:"index" msgpack:"index"`
	Components []componentRecord `json:"components" msgpack:"components"`
}

type componentRecord struct {
	Index         int      `json:"index" msgpack:"index"`
	Value         string   `json:"value" msgpack:"value"`
	Subcomponents []string `json:"subcomponents,omitempty" msgpack:"subcomponents,omitempty"`
}

func buildDocument(snap *Snapshot, opts Options) documentRecord {
	doc := documentRecord{
		Info: infoRecord{
			Timestamp:    snap.Generated.Format(time.RFC3339),
			MessageCount: len(snap.Entries),
			Format:       string(opts.Format),
		},
		Messages: make([]messageRecord, 0, len(snap.Entries)),
	}
	if doc.Info.Format == "" {
		doc.Info.Format = string(FormatJSON)
	}
	for i, e := range snap.Entries {
		doc.Messages = append(doc.Messages, buildMessage(i+1, e, opts.IncludeRaw))
	}
	return doc
}

func buildMessage(index int, e Entry, raw bool) messageRecord {
	msg := e.Message
	rec := messageRecord{
		Index:       index,
		ID:          e.ID.String(),
		Source:      e.Source,
		MessageType: msg.Type().String(),
		ControlID:   msg.ControlID(),
		Version:     msg.Version(),
		Status:      e.Status(),
		Validation:  make([]diagnosticRecord, 0, len(e.Diagnostics)),
		Segments:    make([]segmentRecord, 0, len(msg.Segments)),
	}
	if raw {
		rec.Raw = msg.String()
	}
	for _, d := range e.Diagnostics {
		rec.Validation = append(rec.Validation, buildDiagnostic(d))
	}
	for idx, seg := range msg.Segments {
		s := segmentRecord{Index: idx + 1, Name: seg.Code, Fields: []fieldRecord{}}
		for n := 1; n <= seg.FieldCount(); n++ {
			s.Fields = append(s.Fields, buildField(msg, idx, n))
		}
		rec.Segments = append(rec.Segments, s)
	}
	return rec
}

func buildDiagnostic(d diagnostics.Diagnostic) diagnosticRecord {
	rec := diagnosticRecord{
		Severity: d.Severity.String(),
		Reason:   string(d.Reason),
		Location: d.Anchor(),
		Message:  d.Message,
	}
	if d.HasSpan {
		start, end := d.Span.Start, d.Span.End
		rec.Start, rec.End = &start, &end
	}
	return rec
}

func buildField(msg *model.Message, idx, n int) fieldRecord {
	p := model.FieldPath(idx, n)
	raw, _ := msg.Raw(p)
	rec := fieldRecord{Index: n, Value: raw}
	seg := msg.Segments[idx]
	f, _ := seg.Field(n)
	if seg.Literal(n) || (len(f.Reps) == 1 && len(f.Reps[0].Components) == 1) {
		return rec
	}
	for r, rep := range f.Reps {
		rr := repetitionRecord{Index: r + 1, Components: make([]componentRecord, 0, len(rep.Components))}
		for c, comp := range rep.Components {
			cp := model.Path{Segment: idx, Field: n, Repetition: r + 1, Component: c + 1}
			cr := componentRecord{Index: c + 1, Value: msg.Value(cp)}
			if len(comp.Subs) > 1 {
				for s := range comp.Subs {
					sp := cp
					sp.Subcomponent = s + 1
					cr.Subcomponents = append(cr.Subcomponents, msg.Value(sp))
				}
			}
			rr.Components = append(rr.Components, cr)
		}
		rec.Repetitions = append(rec.Repetitions, rr)
	}
	return rec
}

func writeJSON(w io.Writer, snap *Snapshot, opts Options) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if opts.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(buildDocument(snap, opts))
}

func writeMsgpack(w io.Writer, snap *Snapshot, opts Options) error {
	enc := msgpack.NewEncoder(w)
	enc.UseCompactInts(true)
	return enc.Encode(buildDocument(snap, opts))
}

type xmlDocument struct {
	XMLName         xml.Name     `xml:"HL7Messages"`
	ExportTimestamp string       `xml:"exportTimestamp,attr"`
	MessageCount    int          `xml:"messageCount,attr"`
	Messages        []xmlMessage `xml:"Message"`
}

type xmlMessage struct {
	Index      int             `xml:"index,attr"`
	ID         string          `xml:"id,attr"`
	Type       string          `xml:"type,attr"`
	ControlID  string          `xml:"controlId,attr"`
	Version    string          `xml:"version,attr"`
	Status     string          `xml:"status,attr"`
	Raw        string          `xml:"RawContent,omitempty"`
	Validation []xmlDiagnostic `xml:"Validation>Issue,omitempty"`
	Segments   []xmlSegment    `xml:"Segment"`
}

type xmlDiagnostic struct {
	Severity string `xml:"severity,attr"`
	Reason   string `xml:"reason,attr"`
	Location string `xml:"location,attr"`
	Text     string `xml:",chardata"`
}

type xmlSegment struct {
	Index  int        `xml:"index,attr"`
	Name   string     `xml:"name,attr"`
	Fields []xmlField `xml:"Field"`
}

type xmlField struct {
	Index int    `xml:"index,attr"`
	Text  string `xml:",chardata"`
}

func writeXML(w io.Writer, snap *Snapshot, opts Options) error {
	doc := buildDocument(snap, opts)
	out := xmlDocument{ExportTimestamp: doc.Info.Timestamp, MessageCount: doc.Info.MessageCount}
	for _, m := range doc.Messages {
		xm := xmlMessage{
			Index:     m.Index,
			ID:        m.ID,
			Type:      m.MessageType,
			ControlID: m.ControlID,
			Version:   m.Version,
			Status:    m.Status,
			Raw:       m.Raw,
		}
		for _, d := range m.Validation {
			xm.Validation = append(xm.Validation, xmlDiagnostic{Severity: d.Severity, Reason: d.Reason, Location: d.Location, Text: d.Message})
		}
		for _, s := range m.Segments {
			xs := xmlSegment{Index: s.Index, Name: s.Name}
			for _, f := range s.Fields {
				xs.Fields = append(xs.Fields, xmlField{Index: f.Index, Text: f.Value})
			}
			xm.Segments = append(xm.Segments, xs)
		}
		out.Messages = append(out.Messages, xm)
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	if opts.Pretty {
		enc.Indent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

var detailHeader = []string{
	"Message_Index", "Message_Type", "Control_ID", "Version",
	"Segment_Index", "Segment_Name", "Field_Index", "Field_Name", "Field_Value",
}

// writeDetailCSV writes one row per field.
func writeDetailCSV(w io.Writer, snap *Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(detailHeader); err != nil {
		return err
	}
	for i, e := range snap.Entries {
		msg := e.Message
		head := []string{strconv.Itoa(i + 1), msg.Type().String(), msg.ControlID(), msg.Version()}
		for idx, seg := range msg.Segments {
			for n := 1; n <= seg.FieldCount(); n++ {
				raw, _ := msg.Raw(model.FieldPath(idx, n))
				name := ""
				if e.Lookup != nil {
					if def, ok := e.Lookup.Field(seg.Code, n); ok {
						name = def.Name
					}
				}
				row := append(head[:4:4], strconv.Itoa(idx+1), seg.Code, strconv.Itoa(n), name, raw)
				if err := cw.Write(row); err != nil {
					return err
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

var summaryHeader = []string{
	"Message_Index", "Message_Type", "Control_ID", "Version", "Segment_Count", "Validation_Status", "Content",
}

// writeSummaryCSV writes one row per message with its content on a single line.
func writeSummaryCSV(w io.Writer, snap *Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return err
	}
	escape := strings.NewReplacer("\r", `\r`, "\n", `\n`)
	for i, e := range snap.Entries {
		msg := e.Message
		row := []string{
			strconv.Itoa(i + 1),
			msg.Type().String(),
			msg.ControlID(),
			msg.Version(),
			strconv.Itoa(len(msg.Segments)),
			e.Status(),
			escape.Replace(msg.String()),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeMappedCSV(w io.Writer, snap *Snapshot, m *Mapping) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(m.Header()); err != nil {
		return err
	}
	for _, e := range snap.Entries {
		if err := cw.Write(m.Row(e.Message)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
