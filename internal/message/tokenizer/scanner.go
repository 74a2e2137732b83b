// Package tokenizer scans HL7 v2 message text into delimiter and text tokens.
package tokenizer

import (
	"iter"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/delim"
)

type headerState int

const (
	headerNone headerState = iota
	headerSeparator
	headerEncoding
)

// Scanner tokenizes one message in a single forward pass.
type Scanner struct {
	src      string
	set      delim.Set
	pos      int
	segStart bool
	header   headerState
}

// NewScanner returns a scanner over src using the delimiter set.
func NewScanner(src string, set delim.Set) *Scanner {
	return &Scanner{src: src, set: set, segStart: true}
}

// Scan tokenizes src and returns every token up to and including EOF.
func Scan(src string, set delim.Set) ([]Token, error) {
	s := NewScanner(src, set)
	tokens := make([]Token, 0, len(src)/4+1)
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == KindEOF {
			return tokens, nil
		}
	}
}

// Tokens returns an iterator over the tokens of src. Iteration stops after EOF or the
// first error.
//
//	for tok, err := range tokenizer.Tokens(src, set) {
//	    if err != nil {
//	        return err
//	    }
//	    process(tok)
//	}
func Tokens(src string, set delim.Set) iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		s := NewScanner(src, set)
		for {
			tok, err := s.Next()
			if err != nil {
				yield(Token{}, err)
				return
			}
			if !yield(tok, nil) || tok.Kind == KindEOF {
				return
			}
		}
	}
}

// Offset returns the position of the next unread byte.
func (s *Scanner) Offset() int {
	return s.pos
}

// Next returns the next token.
func (s *Scanner) Next() (Token, error) {
	if s.pos >= len(s.src) {
		return Token{Kind: KindEOF, Start: len(s.src), End: len(s.src)}, nil
	}
	c := s.src[s.pos]
	if c == '\r' || c == '\n' {
		start := s.pos
		for s.pos < len(s.src) && (s.src[s.pos] == '\r' || s.src[s.pos] == '\n') {
			s.pos++
		}
		s.segStart = true
		s.header = headerNone
		return Token{Kind: KindTerminator, Start: start, End: s.pos}, nil
	}
	if s.segStart {
		return s.scanCode(), nil
	}
	if s.header == headerEncoding && c != s.set.Field {
		return s.scanLiteral(), nil
	}
	if kind, ok := s.delimiterKind(c); ok {
		start := s.pos
		s.pos++
		if s.header == headerSeparator {
			s.header = headerEncoding
		} else if s.header == headerEncoding {
			s.header = headerNone
		}
		return Token{Kind: kind, Start: start, End: s.pos}, nil
	}
	return s.scanText()
}

func (s *Scanner) delimiterKind(c byte) (Kind, bool) {
	switch c {
	case s.set.Field:
		return KindField, true
	case s.set.Repetition:
		return KindRepetition, true
	case s.set.Component:
		return KindComponent, true
	case s.set.Subcomponent:
		return KindSubcomponent, true
	}
	return KindInvalid, false
}

func (s *Scanner) scanCode() Token {
	s.segStart = false
	start := s.pos
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == s.set.Field || c == '\r' || c == '\n' {
			break
		}
		s.pos++
	}
	code := s.src[start:s.pos]
	if delim.IsHeaderCode(code) && s.pos < len(s.src) && s.src[s.pos] == s.set.Field {
		s.header = headerSeparator
	}
	return Token{Kind: KindCode, Start: start, End: s.pos}
}

// scanLiteral consumes the encoding characters of a header segment.
func (s *Scanner) scanLiteral() Token {
	start := s.pos
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == s.set.Field || c == '\r' || c == '\n' {
			break
		}
		s.pos++
	}
	return Token{Kind: KindText, Start: start, End: s.pos, Literal: true}
}

func (s *Scanner) scanText() (Token, error) {
	start := s.pos
	escaped := false
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == '\r' || c == '\n' || s.set.IsDelimiter(c) {
			break
		}
		if c != s.set.Escape {
			s.pos++
			continue
		}
		escaped = true
		if s.pos+1 < len(s.src) && s.set.IsControl(s.src[s.pos+1]) {
			s.pos += 2
			continue
		}
		end, err := s.closeEscape(s.pos)
		if err != nil {
			return Token{}, err
		}
		s.pos = end
	}
	return Token{Kind: KindText, Start: start, End: s.pos, Escaped: escaped}, nil
}

// closeEscape returns the offset just past the escape sequence opened at open.
func (s *Scanner) closeEscape(open int) (int, error) {
	for i := open + 1; i < len(s.src); i++ {
		c := s.src[i]
		switch {
		case c == s.set.Escape:
			return i + 1, nil
		case c == '\r' || c == '\n' || s.set.IsDelimiter(c):
			return 0, &Error{Reason: ReasonUnterminatedEscape, Offset: open, Message: "escape sequence is not terminated before the next delimiter"}
		}
	}
	return 0, &Error{Reason: ReasonUnterminatedEscape, Offset: open, Message: "escape sequence is not terminated before the end of the message"}
}
