package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/schema/datatype"
)

// Format identifies the encoding of a custom profile source.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%s: unsupported profile extension", path)
	}
}

// LoadError reports a custom profile that could not be decoded or is inconsistent.
type LoadError struct {
	Name   string
	Format Format
	// Line is the 1-based source line when the decoder reports one.
	Line int
	Err  error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("profile %s (%s) line %d: %v", e.Name, e.Format, e.Line, e.Err)
	}
	return fmt.Sprintf("profile %s (%s): %v", e.Name, e.Format, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type profileDoc struct {
	Name     string                       `yaml:"name" toml:"name" json:"name"`
	Version  string                       `yaml:"version" toml:"version" json:"version"`
	Segments map[string]segmentDoc        `yaml:"segments" toml:"segments" json:"segments"`
	Tables   map[string]map[string]string `yaml:"tables" toml:"tables" json:"tables"`
	Messages map[string]messageDoc        `yaml:"messages" toml:"messages" json:"messages"`
	Rules    []ruleDoc                    `yaml:"rules" toml:"rules" json:"rules"`
}

type segmentDoc struct {
	Description string     `yaml:"description" toml:"description" json:"description"`
	Fields      []fieldDoc `yaml:"fields" toml:"fields" json:"fields"`
}

type fieldDoc struct {
	Position   int    `yaml:"position" toml:"position" json:"position"`
	Name       string `yaml:"name" toml:"name" json:"name"`
	Type       string `yaml:"type" toml:"type" json:"type"`
	Required   bool   `yaml:"required" toml:"required" json:"required"`
	Repeatable bool   `yaml:"repeatable" toml:"repeatable" json:"repeatable"`
	MaxReps    int    `yaml:"max_reps" toml:"max_reps" json:"max_reps"`
	MaxLength  int    `yaml:"max_length" toml:"max_length" json:"max_length"`
	Table      string `yaml:"table" toml:"table" json:"table"`
	VariesBy   int    `yaml:"varies_by" toml:"varies_by" json:"varies_by"`
}

type messageDoc struct {
	Structure     string   `yaml:"structure" toml:"structure" json:"structure"`
	Description   string   `yaml:"description" toml:"description" json:"description"`
	Required      []string `yaml:"required" toml:"required" json:"required"`
	NonRepeatable []string `yaml:"non_repeatable" toml:"non_repeatable" json:"non_repeatable"`
}

type ruleDoc struct {
	Name     string `yaml:"name" toml:"name" json:"name"`
	Segment  string `yaml:"segment" toml:"segment" json:"segment"`
	Field    int    `yaml:"field" toml:"field" json:"field"`
	Expr     string `yaml:"expr" toml:"expr" json:"expr"`
	Message  string `yaml:"message" toml:"message" json:"message"`
	Severity string `yaml:"severity" toml:"severity" json:"severity"`
}

// DecodeProfile decodes and checks a custom profile without registering it. Unknown keys
// are rejected in every format.
func DecodeProfile(name string, source []byte, format Format) (*Profile, error) {
	var doc profileDoc
	if err := decode(source, format, &doc); err != nil {
		le := &LoadError{Name: name, Format: format, Err: err}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			le.Line, _ = de.Position()
		}
		return nil, le
	}
	if name == "" {
		name = doc.Name
	}
	if name == "" {
		return nil, &LoadError{Format: format, Err: errors.New("profile has no name")}
	}
	p, err := doc.profile(name)
	if err != nil {
		return nil, &LoadError{Name: name, Format: format, Err: err}
	}
	return p, nil
}

func decode(source []byte, format Format, doc *profileDoc) error {
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(source))
		dec.DisallowUnknownFields()
		return dec.Decode(doc)
	case FormatYAML, FormatJSON:
		// JSON is decoded as the YAML subset it is.
		dec := yaml.NewDecoder(bytes.NewReader(source))
		dec.KnownFields(true)
		if err := dec.Decode(doc); err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("empty profile source")
			}
			return err
		}
		return nil
	default:
		return fmt.Errorf("unsupported profile format %q", format)
	}
}

func (doc profileDoc) profile(name string) (*Profile, error) {
	p := &Profile{
		Name:     name,
		Version:  doc.Version,
		Segments: make(map[string]*SegmentDef, len(doc.Segments)),
		Tables:   make(map[string]Table, len(doc.Tables)),
		Messages: make(map[string]MessageDef, len(doc.Messages)),
	}
	for rawCode, sd := range doc.Segments {
		code := strings.ToUpper(rawCode)
		if !model.ValidCode(code) {
			return nil, fmt.Errorf("segment %q: invalid segment code", rawCode)
		}
		def := &SegmentDef{Code: code, Description: sd.Description, Fields: make(map[int]FieldDef, len(sd.Fields))}
		for _, fd := range sd.Fields {
			f, err := fd.field()
			if err != nil {
				return nil, fmt.Errorf("segment %s: %w", code, err)
			}
			if _, dup := def.Fields[f.Position]; dup {
				return nil, fmt.Errorf("segment %s: field %d defined twice", code, f.Position)
			}
			def.Fields[f.Position] = f
		}
		p.Segments[code] = def
	}
	for id, codes := range doc.Tables {
		if id == "" {
			return nil, errors.New("table with empty id")
		}
		p.Tables[id] = Table(codes)
	}
	for key, md := range doc.Messages {
		def := MessageDef{Structure: md.Structure, Description: md.Description}
		for _, list := range []struct {
			src []string
			dst *[]string
		}{{md.Required, &def.Required}, {md.NonRepeatable, &def.NonRepeatable}} {
			for _, code := range list.src {
				code = strings.ToUpper(code)
				if !model.ValidCode(code) {
					return nil, fmt.Errorf("message %s: invalid segment code %q", key, code)
				}
				*list.dst = append(*list.dst, code)
			}
		}
		p.Messages[strings.ToUpper(key)] = def
	}
	for i, rd := range doc.Rules {
		rule := Rule{
			Name:     rd.Name,
			Segment:  strings.ToUpper(rd.Segment),
			Field:    rd.Field,
			Expr:     rd.Expr,
			Message:  rd.Message,
			Severity: strings.ToLower(rd.Severity),
		}
		if rule.Name == "" {
			rule.Name = fmt.Sprintf("rule-%d", i+1)
		}
		if rule.Segment != "*" && !model.ValidCode(rule.Segment) {
			return nil, fmt.Errorf("rule %q: invalid segment code %q", rule.Name, rd.Segment)
		}
		switch rule.Severity {
		case "":
			rule.Severity = diagnostics.SeverityError.String()
		case diagnostics.SeverityError.String(), diagnostics.SeverityWarning.String(), diagnostics.SeverityInfo.String():
		default:
			return nil, fmt.Errorf("rule %q: unknown severity %q", rule.Name, rd.Severity)
		}
		if err := compileRule(&rule); err != nil {
			return nil, err
		}
		p.Rules = append(p.Rules, rule)
	}
	return p, nil
}

func (fd fieldDoc) field() (FieldDef, error) {
	if fd.Position < 1 {
		return FieldDef{}, fmt.Errorf("field position %d must be positive", fd.Position)
	}
	tag := datatype.ST
	if fd.Type != "" {
		d, ok := datatype.Lookup(datatype.Tag(fd.Type))
		if !ok {
			return FieldDef{}, fmt.Errorf("field %d: unknown datatype %q", fd.Position, fd.Type)
		}
		tag = d.Tag
	}
	if fd.MaxReps < 0 || fd.MaxLength < 0 {
		return FieldDef{}, fmt.Errorf("field %d: limits must not be negative", fd.Position)
	}
	if fd.VariesBy != 0 && tag != datatype.Varies {
		return FieldDef{}, fmt.Errorf("field %d: varies_by requires type varies", fd.Position)
	}
	return FieldDef{
		Position:   fd.Position,
		Name:       fd.Name,
		Type:       tag,
		Required:   fd.Required,
		Repeatable: fd.Repeatable || fd.MaxReps > 1,
		MaxReps:    fd.MaxReps,
		MaxLength:  fd.MaxLength,
		Table:      fd.Table,
		VariesBy:   fd.VariesBy,
	}, nil
}
