package tokenizer

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/delim"
)

type tokenView struct {
	Kind string
	Text string
}

func viewTokens(src string, tokens []Token) []tokenView {
	out := make([]tokenView, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, tokenView{Kind: tok.Kind.String(), Text: tok.Text(src)})
	}
	return out
}

func TestScanHeaderAndFields(t *testing.T) {
	src := "MSH|^~\\&|APP\rPID|1||DOE^JOHN~ROE&X\n"
	tokens, err := Scan(src, delim.Default())
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	want := []tokenView{
		{"Code", "MSH"},
		{"Field", "|"},
		{"Text", "^~\\&"},
		{"Field", "|"},
		{"Text", "APP"},
		{"Terminator", "\r"},
		{"Code", "PID"},
		{"Field", "|"},
		{"Text", "1"},
		{"Field", "|"},
		{"Field", "|"},
		{"Text", "DOE"},
		{"Component", "^"},
		{"Text", "JOHN"},
		{"Repetition", "~"},
		{"Text", "ROE"},
		{"Subcomponent", "&"},
		{"Text", "X"},
		{"Terminator", "\n"},
		{"EOF", ""},
	}
	if diff := cmp.Diff(want, viewTokens(src, tokens)); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
	if !tokens[2].Literal {
		t.Fatalf("encoding characters should be literal")
	}
}

func TestScanEscapes(t *testing.T) {
	src := "ZZZ|A\\F\\B|C\\^D|E\\.br\\F"
	tokens, err := Scan(src, delim.Default())
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	var texts []string
	for _, tok := range tokens {
		if tok.Kind == KindText {
			if !tok.Escaped {
				t.Fatalf("text %q should be marked escaped", tok.Text(src))
			}
			texts = append(texts, tok.Text(src))
		}
	}
	want := []string{"A\\F\\B", "C\\^D", "E\\.br\\F"}
	if diff := cmp.Diff(want, texts); diff != "" {
		t.Fatalf("texts mismatch (-want +got):\n%s", diff)
	}
}

func TestScanUnterminatedEscape(t *testing.T) {
	tests := []string{
		"ZZZ|A\\FOO|B",
		"ZZZ|A\\FOO\rPID",
		"ZZZ|A\\FOO",
	}
	for _, src := range tests {
		_, err := Scan(src, delim.Default())
		var scanErr *Error
		if !errors.As(err, &scanErr) {
			t.Fatalf("Scan(%q) error = %v, want *Error", src, err)
		}
		if scanErr.Reason != ReasonUnterminatedEscape || scanErr.Offset != 5 {
			t.Fatalf("Scan(%q) = %+v", src, scanErr)
		}
	}
}

func TestTokensStopsEarly(t *testing.T) {
	count := 0
	for tok, err := range Tokens("PID|1|2|3", delim.Default()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		count++
		if tok.Kind == KindField {
			break
		}
	}
	if count != 2 {
		t.Fatalf("expected iteration to stop after 2 tokens, got %d", count)
	}
}
