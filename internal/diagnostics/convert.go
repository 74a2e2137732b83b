package diagnostics

import (
	"errors"

	"github.com/nirzaf/Hl7OpenSoup/internal/message/delim"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/tokenizer"
)

// FromParseError converts a message-level parse failure into an error diagnostic. Header
// and escape failures override reason with their own code; the span is relative to the
// failed message.
func FromParseError(err error, reason Reason) Diagnostic {
	b := Error(reason, "%v", err).At(model.MessagePath, "").WithSource("parser")
	var he *delim.HeaderError
	var te *tokenizer.Error
	switch {
	case errors.As(err, &he):
		b.diag.Reason = ReasonMalformedHeader
		b.WithSpan(model.Span{Start: he.Offset, End: he.Offset})
	case errors.As(err, &te):
		b.diag.Reason = ReasonUnterminatedEscape
		b.WithSpan(model.Span{Start: te.Offset, End: te.Offset + 1})
	}
	return b.Build()
}
