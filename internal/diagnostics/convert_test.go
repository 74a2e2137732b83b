package diagnostics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/delim"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/tokenizer"
)

func TestFromParseError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		reason  Reason
		want    Reason
		span    model.Span
		hasSpan bool
	}{
		{
			name:    "header error",
			err:     fmt.Errorf("message 2: %w", &delim.HeaderError{Offset: 4, Reason: "encoding characters too short"}),
			reason:  ReasonUnknownSegmentHeader,
			want:    ReasonMalformedHeader,
			span:    model.Span{Start: 4, End: 4},
			hasSpan: true,
		},
		{
			name:    "escape error",
			err:     &tokenizer.Error{Offset: 17, Message: "unterminated escape sequence"},
			reason:  ReasonMalformedHeader,
			want:    ReasonUnterminatedEscape,
			span:    model.Span{Start: 17, End: 18},
			hasSpan: true,
		},
		{
			name:   "other errors keep the caller's reason",
			err:    errors.New("no header segment"),
			reason: ReasonUnknownSegmentHeader,
			want:   ReasonUnknownSegmentHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := FromParseError(tt.err, tt.reason)
			if d.Reason != tt.want {
				t.Errorf("Reason = %s, want %s", d.Reason, tt.want)
			}
			if !d.IsError() || d.Source != "parser" || d.Path != model.MessagePath {
				t.Errorf("unexpected diagnostic %+v", d)
			}
			if d.HasSpan != tt.hasSpan || d.Span != tt.span {
				t.Errorf("span = %s (%v), want %s (%v)", d.Span, d.HasSpan, tt.span, tt.hasSpan)
			}
			if d.Message != tt.err.Error() {
				t.Errorf("Message = %q, want %q", d.Message, tt.err.Error())
			}
		})
	}
}
