package session

import (
	"slices"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
)

// EventKind distinguishes notifications.
type EventKind int

const (
	// EventChange carries the change set of an applied edit.
	EventChange EventKind = iota + 1
	// EventDiagnostics carries the diagnostics under the subscriber's prefix after they
	// changed.
	EventDiagnostics
)

func (k EventKind) String() string {
	switch k {
	case EventChange:
		return "change"
	case EventDiagnostics:
		return "diagnostics"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers.
type Event struct {
	Kind EventKind
	// Seq is the sequence number of the latest edit at delivery time.
	Seq         uint64
	Change      ChangeSet
	Diagnostics []diagnostics.Diagnostic
}

// Handler receives events. Handlers run on the goroutine that applied the edit, one at a
// time, and must not call Apply.
type Handler func(Event)

type subscriber struct {
	id      int
	prefix  model.Path
	handler Handler
	seen    []diagnostics.Diagnostic
	primed  bool
}

// Subscribe registers handler for events under prefix. model.MessagePath receives every
// event. A change event is delivered when the edit touched a path inside or above the
// prefix or moved the prefix's segment. The returned func removes the subscription.
func (s *Session) Subscribe(prefix model.Path, handler Handler) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs = append(s.subs, &subscriber{id: id, prefix: prefix, handler: handler})
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub *subscriber) bool { return sub.id == id })
	}
}

func (s *Session) subscribers() []*subscriber {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return slices.Clone(s.subs)
}

func (sub *subscriber) wants(c ChangeSet) bool {
	if sub.prefix.Segment < 0 {
		return true
	}
	return c.Touches(sub.prefix) || c.Moves(sub.prefix.Segment)
}

// notify delivers a change event and, when fresh is set, the diagnostics that changed
// under each subscriber's prefix. An empty diags clears what subscribers saw before.
// Callers hold editMu so deliveries never interleave.
func (s *Session) notify(c *ChangeSet, seq uint64, diags []diagnostics.Diagnostic, fresh bool) {
	for _, sub := range s.subscribers() {
		if c != nil && sub.wants(*c) {
			sub.handler(Event{Kind: EventChange, Seq: seq, Change: *c})
		}
		if !fresh {
			continue
		}
		scoped := within(diags, sub.prefix)
		if sub.primed && sameDiagnostics(sub.seen, scoped) {
			continue
		}
		sub.seen, sub.primed = scoped, true
		sub.handler(Event{Kind: EventDiagnostics, Seq: seq, Diagnostics: scoped})
	}
}

func within(diags []diagnostics.Diagnostic, prefix model.Path) []diagnostics.Diagnostic {
	out := []diagnostics.Diagnostic{}
	for _, d := range diags {
		if prefix.Contains(d.Path) {
			out = append(out, d)
		}
	}
	return out
}

func sameDiagnostics(a, b []diagnostics.Diagnostic) bool {
	return slices.EqualFunc(a, b, func(x, y diagnostics.Diagnostic) bool {
		return x.Severity == y.Severity &&
			x.Reason == y.Reason &&
			x.Message == y.Message &&
			x.Path == y.Path &&
			x.Span == y.Span &&
			x.HasSpan == y.HasSpan &&
			x.Source == y.Source &&
			slices.Equal(x.Notes, y.Notes)
	})
}
