// Package session is the per-message edit handle. It owns one message tree, serializes
// every mutation through Apply, keeps the position index and diagnostics in step with the
// tree, and notifies subscribers of each change.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/logging"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/position"
	"github.com/nirzaf/Hl7OpenSoup/internal/schema"
	"github.com/nirzaf/Hl7OpenSoup/internal/validate"
)

// ErrClosed is returned by Apply after Close.
var ErrClosed = errors.New("session: closed")

// Options configures Open.
type Options struct {
	// Registry resolves the message's profile; a fresh registry is used when nil.
	Registry *schema.Registry
	// Profiles names the custom profiles merged over the standard one, in order.
	Profiles  []string
	Validator validate.Validator
	Logger    logging.Logger
}

// Session is an open message. Reads may run concurrently with each other and with
// background validation; Apply is exclusive.
type Session struct {
	id        uuid.UUID
	registry  *schema.Registry
	profiles  []string
	validator validate.Validator
	logger    logging.Logger

	// editMu serializes Apply, Close and the installation of background results.
	editMu sync.Mutex
	closed bool

	// mu guards everything below it.
	mu       sync.RWMutex
	msg      *model.Message
	mapper   *position.Mapper
	res      schema.Resolution
	seq      uint64
	segDiags map[uint64]segmentDiags
	diags    []diagnostics.Diagnostic
	pass     *pass
	passGen  uint64

	subMu   sync.Mutex
	subs    []*subscriber
	nextSub int
}

// Open takes ownership of msg and starts its initial validation in the background. The
// caller must not touch msg afterwards.
func Open(msg *model.Message, opts Options) *Session {
	reg := opts.Registry
	if reg == nil {
		reg = schema.NewRegistry(schema.Options{Logger: opts.Logger})
	}
	s := &Session{
		id:        uuid.New(),
		registry:  reg,
		profiles:  opts.Profiles,
		validator: opts.Validator,
		msg:       msg,
		mapper:    position.NewMapper(msg),
		segDiags:  make(map[uint64]segmentDiags),
	}
	s.logger = logging.Component(opts.Logger, "session").With("session", s.id.String())
	s.res = s.resolve()

	s.mu.Lock()
	s.scheduleFull()
	s.mu.Unlock()
	s.logger.Debug("session opened", "segments", len(msg.Segments), "version", s.res.Profile.Version)
	return s
}

// ID identifies the session.
func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) resolve() schema.Resolution {
	return s.registry.Resolve(s.msg.Version(), s.profiles...)
}

// Resolution returns the profile the message currently validates against.
func (s *Session) Resolution() schema.Resolution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.res
}

// Seq returns the number of edits applied so far.
func (s *Session) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Text serializes the message.
func (s *Session) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.msg.String()
}

// Value returns the decoded text at p.
func (s *Session) Value(p model.Path) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.msg.Value(p)
}

// PathAt maps a message-relative offset to the most specific node holding it.
func (s *Session) PathAt(offset int) (model.Path, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mapper.PathAt(offset)
}

// Span returns the message-relative span of p.
func (s *Session) Span(p model.Path) (model.Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mapper.Span(p)
}

// Snapshot returns a copy of the tree that later edits do not affect.
func (s *Session) Snapshot() *model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.msg.Clone()
}

// View runs fn with read access to the tree and the mapper. fn must not retain either.
func (s *Session) View(fn func(msg *model.Message, m *position.Mapper)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.msg, s.mapper)
}

// Diagnostics returns the current findings, sorted. pending is true while a whole-message
// pass is running; the findings then predate the latest header edit.
func (s *Session) Diagnostics() (diags []diagnostics.Diagnostic, pending bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]diagnostics.Diagnostic{}, s.diags...), s.pass != nil
}

// Apply performs one edit. The tree update, span bookkeeping, re-validation and
// notification all complete before Apply returns and before the next edit starts. A
// rejected edit leaves the session unchanged.
func (s *Session) Apply(ctx context.Context, e Edit) (ChangeSet, error) {
	if err := ctx.Err(); err != nil {
		return ChangeSet{}, err
	}
	s.editMu.Lock()
	defer s.editMu.Unlock()
	if s.closed {
		return ChangeSet{}, ErrClosed
	}

	s.mu.Lock()
	p, err := e.target(s.mapper)
	if err != nil {
		s.mu.Unlock()
		return ChangeSet{}, err
	}
	ch, err := e.apply(s.msg, p)
	if err != nil {
		s.mu.Unlock()
		s.logger.Debug("edit rejected", "edit", e.Kind, "path", s.msg.Describe(p), "err", err)
		return ChangeSet{}, err
	}
	s.mapper.Apply(ch)
	s.seq++

	cs := ChangeSet{
		Seq:         s.seq,
		Kind:        e.Kind,
		Paths:       ch.Touched,
		Spans:       ch.Spans,
		ShiftFrom:   ch.ShiftFrom,
		Delta:       ch.Delta,
		Retokenized: ch.Retokenized,
	}
	full := ch.Retokenized || s.pass != nil
	if touchesHeader(ch) {
		res := s.resolve()
		full = full || res.Profile != s.res.Profile
		s.res = res
	}
	if full {
		s.scheduleFull()
		cs.Pending = true
	} else {
		s.invalidate(ch)
		s.assemble()
	}
	cs.Diagnostics = append([]diagnostics.Diagnostic{}, s.diags...)
	seq := s.seq
	s.mu.Unlock()

	s.logger.Debug("edit applied", "edit", e.Kind, "seq", seq, "touched", len(cs.Paths), "delta", cs.Delta, "full", full)
	s.notify(&cs, seq, cs.Diagnostics, !full)
	return cs, nil
}

func touchesHeader(ch model.Change) bool {
	for _, p := range ch.Touched {
		if p.Segment == 0 {
			return true
		}
	}
	return false
}

// Wait blocks until no whole-message validation is pending.
func (s *Session) Wait(ctx context.Context) error {
	for {
		s.mu.RLock()
		p := s.pass
		s.mu.RUnlock()
		if p == nil {
			return nil
		}
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close abandons background work. Reads keep working on the final tree.
func (s *Session) Close() {
	s.editMu.Lock()
	if s.closed {
		s.editMu.Unlock()
		return
	}
	s.closed = true
	s.mu.Lock()
	p := s.pass
	s.pass = nil
	s.mu.Unlock()
	s.editMu.Unlock()

	if p != nil {
		p.cancel()
		<-p.done
	}
	s.logger.Debug("session closed", "edits", s.Seq())
}
