// Package delim resolves and applies the per-message delimiter set of HL7 v2 messages.
package delim

import (
	"fmt"
	"strings"
)

// Terminator is the canonical segment terminator.
const Terminator = '\r'

// HeaderCodes lists the segment codes that may open a message and declare delimiters.
var HeaderCodes = []string{"MSH", "FHS", "BHS"}

// Set is the collection of control characters used by one message.
type Set struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	Subcomponent byte
	// Truncation is the optional fifth encoding character (v2.7+). Zero when absent.
	Truncation byte
}

// Default returns the conventional |^~\& set.
func Default() Set {
	return Set{Field: '|', Component: '^', Repetition: '~', Escape: '\\', Subcomponent: '&'}
}

// Encoding returns the encoding characters as they appear in MSH-2.
func (s Set) Encoding() string {
	b := []byte{s.Component, s.Repetition, s.Escape, s.Subcomponent}
	if s.Truncation != 0 {
		b = append(b, s.Truncation)
	}
	return string(b)
}

// IsDelimiter reports whether c splits structure (field, repetition, component or subcomponent).
func (s Set) IsDelimiter(c byte) bool {
	return c == s.Field || c == s.Component || c == s.Repetition || c == s.Subcomponent
}

// IsControl reports whether c is a delimiter or the escape character.
func (s Set) IsControl(c byte) bool {
	return s.IsDelimiter(c) || c == s.Escape
}

// Validate checks that the set is usable for tokenizing.
func (s Set) Validate() error {
	chars := []byte{s.Field, s.Component, s.Repetition, s.Escape, s.Subcomponent}
	if s.Truncation != 0 {
		chars = append(chars, s.Truncation)
	}
	for i, c := range chars {
		if c == '\r' || c == '\n' || isAlnum(c) || c == 0 {
			return fmt.Errorf("invalid control character %q", c)
		}
		for _, other := range chars[i+1:] {
			if c == other {
				return fmt.Errorf("control character %q used twice", c)
			}
		}
	}
	return nil
}

// HeaderError reports a header segment whose delimiter declaration cannot be read.
type HeaderError struct {
	Offset int
	Reason string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("malformed header at offset %d: %s", e.Offset, e.Reason)
}

// IsHeaderCode reports whether code opens a message.
func IsHeaderCode(code string) bool {
	for _, h := range HeaderCodes {
		if code == h {
			return true
		}
	}
	return false
}

// Resolve reads the delimiter set declared by the header segment at the start of text.
func Resolve(text string) (Set, error) {
	if len(text) < 4 {
		return Set{}, &HeaderError{Offset: 0, Reason: "header segment too short"}
	}
	if !IsHeaderCode(text[:3]) {
		return Set{}, &HeaderError{Offset: 0, Reason: fmt.Sprintf("segment %q does not declare delimiters", text[:3])}
	}
	set := Set{Field: text[3]}
	end := 4
	for end < len(text) && text[end] != set.Field && text[end] != '\r' && text[end] != '\n' {
		end++
	}
	enc := text[4:end]
	switch {
	case len(enc) < 4:
		return Set{}, &HeaderError{Offset: 4, Reason: fmt.Sprintf("expected 4 encoding characters, found %d", len(enc))}
	case len(enc) > 5:
		return Set{}, &HeaderError{Offset: 4, Reason: fmt.Sprintf("expected at most 5 encoding characters, found %d", len(enc))}
	}
	set.Component, set.Repetition, set.Escape, set.Subcomponent = enc[0], enc[1], enc[2], enc[3]
	if len(enc) == 5 {
		set.Truncation = enc[4]
	}
	if err := set.Validate(); err != nil {
		return Set{}, &HeaderError{Offset: 3, Reason: err.Error()}
	}
	return set, nil
}

// sequence letters for the standard delimiter escapes.
func (s Set) sequenceFor(c byte) (byte, bool) {
	switch c {
	case s.Field:
		return 'F', true
	case s.Component:
		return 'S', true
	case s.Subcomponent:
		return 'T', true
	case s.Repetition:
		return 'R', true
	case s.Escape:
		return 'E', true
	}
	return 0, false
}

func (s Set) charFor(letter byte) (byte, bool) {
	switch letter {
	case 'F':
		return s.Field, true
	case 'S':
		return s.Component, true
	case 'T':
		return s.Subcomponent, true
	case 'R':
		return s.Repetition, true
	case 'E':
		return s.Escape, true
	}
	return 0, false
}

// EscapeValue converts a logical value into its raw encoded form.
func (s Set) EscapeValue(value string) string {
	if !strings.ContainsFunc(value, func(r rune) bool { return r < 0x80 && s.IsControl(byte(r)) }) {
		return value
	}
	var b strings.Builder
	b.Grow(len(value) + 8)
	for i := 0; i < len(value); i++ {
		c := value[i]
		if letter, ok := s.sequenceFor(c); ok {
			b.WriteByte(s.Escape)
			b.WriteByte(letter)
			b.WriteByte(s.Escape)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Unescape converts raw leaf text into its logical value. Delimiter escapes and escaped
// delimiter bytes are decoded; other escape sequences (formatting, hex, charset) are kept
// verbatim.
func (s Set) Unescape(raw string) string {
	if strings.IndexByte(raw, s.Escape) < 0 {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != s.Escape {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(raw) {
			b.WriteByte(c)
			continue
		}
		next := raw[i+1]
		if s.IsControl(next) {
			b.WriteByte(next)
			i++
			continue
		}
		end := strings.IndexByte(raw[i+1:], s.Escape)
		if end < 0 {
			b.WriteString(raw[i:])
			break
		}
		body := raw[i+1 : i+1+end]
		if len(body) == 1 {
			if lit, ok := s.charFor(body[0]); ok {
				b.WriteByte(lit)
				i += end + 1
				continue
			}
		}
		b.WriteString(raw[i : i+end+2])
		i += end + 1
	}
	return b.String()
}

// Transcode rewrites raw text encoded under s so that it carries the same logical content
// under to. Unknown escape sequences keep their body with the new escape character.
func (s Set) Transcode(raw string, to Set) string {
	if s == to {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw) + 8)
	emit := func(c byte) {
		if letter, ok := to.sequenceFor(c); ok {
			b.WriteByte(to.Escape)
			b.WriteByte(letter)
			b.WriteByte(to.Escape)
			return
		}
		b.WriteByte(c)
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != s.Escape || i+1 >= len(raw) {
			emit(c)
			continue
		}
		next := raw[i+1]
		if s.IsControl(next) {
			emit(next)
			i++
			continue
		}
		end := strings.IndexByte(raw[i+1:], s.Escape)
		if end < 0 {
			emit(c)
			continue
		}
		body := raw[i+1 : i+1+end]
		if len(body) == 1 {
			if lit, ok := s.charFor(body[0]); ok {
				emit(lit)
				i += end + 1
				continue
			}
		}
		b.WriteByte(to.Escape)
		b.WriteString(body)
		b.WriteByte(to.Escape)
		i += end + 1
	}
	return b.String()
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
