package loader

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// Charset names reported by Decode.
const (
	CharsetUTF8        = "UTF-8"
	CharsetUTF16LE     = "UTF-16LE"
	CharsetUTF16BE     = "UTF-16BE"
	CharsetWindows1252 = "windows-1252"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// hl7Charsets maps MSH-18 values to IANA names.
var hl7Charsets = map[string]string{
	"ASCII":          "US-ASCII",
	"ISO IR6":        "US-ASCII",
	"8859/1":         "ISO-8859-1",
	"8859/2":         "ISO-8859-2",
	"8859/3":         "ISO-8859-3",
	"8859/4":         "ISO-8859-4",
	"8859/5":         "ISO-8859-5",
	"8859/6":         "ISO-8859-6",
	"8859/7":         "ISO-8859-7",
	"8859/8":         "ISO-8859-8",
	"8859/9":         "ISO-8859-9",
	"8859/15":        "ISO-8859-15",
	"ISO IR100":      "ISO-8859-1",
	"UNICODE":        "UTF-8",
	"UNICODE UTF-8":  "UTF-8",
	"UNICODE UTF-16": "UTF-16BE",
	"CP1252":         "windows-1252",
}

// UnknownCharsetError reports a charset name that could not be resolved.
type UnknownCharsetError struct {
	Name string
}

func (e *UnknownCharsetError) Error() string {
	return fmt.Sprintf("unknown character set %q", e.Name)
}

// Decode converts data to a UTF-8 string. A byte order mark wins over everything else;
// then the declared charset, then the charset named by the first MSH-18. Undeclared input
// that is not valid UTF-8 is read as Windows-1252. The charset used is returned.
func Decode(data []byte, declared string) (string, string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return string(data[len(bomUTF8):]), CharsetUTF8, nil
	case bytes.HasPrefix(data, bomUTF16LE):
		return decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), data, CharsetUTF16LE)
	case bytes.HasPrefix(data, bomUTF16BE):
		return decodeWith(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), data, CharsetUTF16BE)
	}

	name := declared
	if name == "" {
		name = Sniff(data)
	}
	if name != "" {
		enc, canonical, err := lookup(name)
		if err != nil {
			return "", "", err
		}
		if enc == nil {
			return string(data), canonical, nil
		}
		return decodeWith(enc, data, canonical)
	}
	if utf8.Valid(data) {
		return string(data), CharsetUTF8, nil
	}
	return decodeWith(charmap.Windows1252, data, CharsetWindows1252)
}

func decodeWith(enc encoding.Encoding, data []byte, name string) (string, string, error) {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", fmt.Errorf("decode %s: %w", name, err)
	}
	return string(out), name, nil
}

// lookup resolves an MSH-18 value or IANA name. A nil encoding means the bytes are
// already UTF-8 compatible.
func lookup(name string) (encoding.Encoding, string, error) {
	key := strings.TrimSpace(name)
	if iana, ok := hl7Charsets[strings.ToUpper(key)]; ok {
		key = iana
	}
	switch strings.ToUpper(key) {
	case "UTF-8", "UTF8":
		return nil, CharsetUTF8, nil
	case "US-ASCII", "ASCII":
		return nil, "US-ASCII", nil
	case "UTF-16BE":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), CharsetUTF16BE, nil
	case "UTF-16LE":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), CharsetUTF16LE, nil
	}
	enc, err := ianaindex.IANA.Encoding(key)
	if err != nil || enc == nil {
		return nil, "", &UnknownCharsetError{Name: name}
	}
	return enc, charsetName(enc, key), nil
}

// charsetName prefers the MIME name ("ISO-8859-1") over the registry's primary name
// ("ISO_8859-1:1987"), which few consumers recognise.
func charsetName(enc encoding.Encoding, fallback string) string {
	for _, index := range []*ianaindex.Index{ianaindex.MIME, ianaindex.IANA} {
		if name, err := index.Name(enc); err == nil && name != "" {
			return name
		}
	}
	return fallback
}

// Sniff returns the first repetition of MSH-18 from the first header line in data, or
// "" when there is none. Only ASCII-compatible input can be sniffed.
func Sniff(data []byte) string {
	i := bytes.Index(data, []byte("MSH"))
	if i < 0 {
		return ""
	}
	line := data[i:]
	if end := bytes.IndexAny(line, "\r\n"); end >= 0 {
		line = line[:end]
	}
	if len(line) < 8 {
		return ""
	}
	sep := line[3]
	fields := bytes.Split(line, []byte{sep})
	// fields[0] is the code, so MSH-n is fields[n-1].
	if len(fields) < 18 {
		return ""
	}
	value := fields[17]
	if enc := fields[1]; len(enc) >= 2 {
		if r := bytes.IndexByte(value, enc[1]); r >= 0 {
			value = value[:r]
		}
	}
	return strings.TrimSpace(string(value))
}

// Encode converts text back to charset, as reported by Decode. UTF-16 output carries a
// byte order mark.
func Encode(text, charset string) ([]byte, error) {
	var enc encoding.Encoding
	switch charset {
	case "", CharsetUTF8, "US-ASCII":
		return []byte(text), nil
	case CharsetUTF16LE:
		enc = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case CharsetUTF16BE:
		enc = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	default:
		var err error
		if enc, _, err = lookup(charset); err != nil {
			return nil, err
		}
		if enc == nil {
			return []byte(text), nil
		}
	}
	out, err := enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", charset, err)
	}
	return out, nil
}
