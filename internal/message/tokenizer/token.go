package tokenizer

import "fmt"

// Kind represents the classification of a scanned token.
type Kind int

const (
	// KindInvalid represents a placeholder token.
	KindInvalid Kind = iota
	// KindCode is the segment code at the start of a segment.
	KindCode
	// KindText is a run of leaf text, possibly containing escape sequences.
	KindText
	// KindField is a field separator.
	KindField
	// KindRepetition is a repetition separator.
	KindRepetition
	// KindComponent is a component separator.
	KindComponent
	// KindSubcomponent is a subcomponent separator.
	KindSubcomponent
	// KindTerminator is a run of segment terminator bytes (CR, LF or both).
	KindTerminator
	// KindEOF marks the end of the input.
	KindEOF
)

func (k Kind) String() string {
	switch k {
	case KindCode:
		return "Code"
	case KindText:
		return "Text"
	case KindField:
		return "Field"
	case KindRepetition:
		return "Repetition"
	case KindComponent:
		return "Component"
	case KindSubcomponent:
		return "Subcomponent"
	case KindTerminator:
		return "Terminator"
	case KindEOF:
		return "EOF"
	default:
		return "Invalid"
	}
}

// Token is a unit emitted by the scanner. Start and End are byte offsets into the
// scanned text, End exclusive.
type Token struct {
	Kind  Kind
	Start int
	End   int
	// Escaped is set on text runs that contain the escape character.
	Escaped bool
	// Literal is set on the encoding-characters run of a header segment.
	Literal bool
}

// Text returns the token text from src.
func (t Token) Text(src string) string {
	return src[t.Start:t.End]
}

// Reason classifies scanner failures.
type Reason string

// ReasonUnterminatedEscape marks an escape sequence that never closes.
const ReasonUnterminatedEscape Reason = "UnterminatedEscape"

// Error describes a scanning failure at a byte offset.
type Error struct {
	Reason  Reason
	Offset  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("offset %d: %s", e.Offset, e.Message)
}
