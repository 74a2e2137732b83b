package session

import (
	"context"

	"github.com/nirzaf/Hl7OpenSoup/internal/diagnostics"
	"github.com/nirzaf/Hl7OpenSoup/internal/message/model"
	"github.com/nirzaf/Hl7OpenSoup/internal/schema"
	"github.com/nirzaf/Hl7OpenSoup/internal/validate"
)

// segmentDiags caches the findings of one segment together with where the segment sat
// when they were computed.
type segmentDiags struct {
	index int
	start int
	diags []diagnostics.Diagnostic
}

// rebase moves cached findings to the segment's current position.
func (c segmentDiags) rebase(index, start int) segmentDiags {
	if c.index == index && c.start == start {
		return c
	}
	out := segmentDiags{index: index, start: start, diags: make([]diagnostics.Diagnostic, len(c.diags))}
	delta := start - c.start
	for i, d := range c.diags {
		d.Path.Segment = index
		if d.HasSpan {
			d.Span = d.Span.Shift(delta)
		}
		out.diags[i] = d
	}
	return out
}

// invalidate drops the cached findings of every segment the change touched.
func (s *Session) invalidate(ch model.Change) {
	for _, p := range ch.Touched {
		if p.Segment >= 0 && p.Segment < len(s.msg.Segments) {
			delete(s.segDiags, s.msg.Segments[p.Segment].ID)
		}
	}
}

// assemble rebuilds s.diags from the per-segment cache, validating segments with no cached
// entry. Callers hold mu for writing.
func (s *Session) assemble() {
	next := make(map[uint64]segmentDiags, len(s.msg.Segments))
	var diags []diagnostics.Diagnostic
	for i, seg := range s.msg.Segments {
		entry, ok := s.segDiags[seg.ID]
		if ok {
			entry = entry.rebase(i, seg.Start)
		} else {
			entry = segmentDiags{index: i, start: seg.Start, diags: s.validator.Segment(s.msg, i, s.res)}
		}
		next[seg.ID] = entry
		diags = append(diags, entry.diags...)
	}
	diags = append(diags, s.validator.MessageLevel(s.msg, s.res)...)
	validate.Sort(diags)
	s.segDiags = next
	s.diags = diags
}

// pass is one background whole-message validation.
type pass struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// scheduleFull abandons any running pass and starts a new one over a snapshot of the
// tree. Callers hold mu for writing.
func (s *Session) scheduleFull() {
	if s.pass != nil {
		s.pass.cancel()
	}
	s.passGen++
	ctx, cancel := context.WithCancel(context.Background())
	p := &pass{gen: s.passGen, cancel: cancel, done: make(chan struct{})}
	s.pass = p
	go s.runFull(ctx, p, s.msg.Clone(), s.res)
}

func (s *Session) runFull(ctx context.Context, p *pass, snap *model.Message, res schema.Resolution) {
	defer close(p.done)
	defer p.cancel()

	cache := make(map[uint64]segmentDiags, len(snap.Segments))
	for i, seg := range snap.Segments {
		if ctx.Err() != nil {
			s.logger.Debug("validation pass abandoned", "gen", p.gen)
			return
		}
		cache[seg.ID] = segmentDiags{index: i, start: seg.Start, diags: s.validator.Segment(snap, i, res)}
	}

	s.editMu.Lock()
	defer s.editMu.Unlock()
	s.mu.Lock()
	if s.pass != p || ctx.Err() != nil {
		s.mu.Unlock()
		s.logger.Debug("validation pass discarded", "gen", p.gen)
		return
	}
	// no edit ran since the snapshot, so the cache matches the live tree
	s.segDiags = cache
	s.pass = nil
	s.assemble()
	diags := append([]diagnostics.Diagnostic{}, s.diags...)
	seq := s.seq
	s.mu.Unlock()

	s.logger.Debug("validation pass complete", "gen", p.gen, "diagnostics", len(diags))
	s.notify(nil, seq, diags, true)
}
