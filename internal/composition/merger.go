// Package composition applies engine output to a host text surface.
//
// The Merger keeps the host's composition range in step with the engine:
// committed text is pushed out of the front of the composition by moving
// its start, the preedit replaces whatever remains, and an empty preedit
// dissolves the composition. Moving the start instead of deleting and
// re-inserting matters for hosts that derive change notifications from
// range boundaries.
package composition

import (
	"log/slog"
	"unicode/utf8"

	"imesync/internal/engine"
	"imesync/internal/metrics"
	"imesync/internal/textsurface"
)

// Merger applies engine outputs to one host context.
type Merger struct {
	logger  *slog.Logger
	metrics *metrics.IMEMetrics

	// lastCommit is the last output whose result was written.
	lastCommit *engine.Output
}

// Option configures a Merger.
type Option func(*Merger)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Merger) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(im *metrics.IMEMetrics) Option {
	return func(m *Merger) {
		if im != nil {
			m.metrics = im
		}
	}
}

// NewMerger creates a Merger.
func NewMerger(opts ...Option) *Merger {
	m := &Merger{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewIMEMetrics(nil)
	}
	return m
}

// Reset forgets the last commit.
func (m *Merger) Reset() {
	m.lastCommit = nil
}

// Apply updates s to reflect out. It must run inside a write session.
//
// On failure the remaining steps are skipped and a *MergeError is returned.
// Earlier steps are not rolled back; applying a later output re-converges
// the surface. Applying the same output twice in a row never commits its
// result twice.
func (m *Merger) Apply(s textsurface.Surface, out *engine.Output) error {
	if out == nil {
		return nil
	}
	err := m.apply(textsurface.NewAccessor(s), out)
	if err != nil {
		m.metrics.MergeFailures.Inc()
		m.logger.Warn("merge failed", "output_id", out.ID, "error", err)
	}
	return err
}

func (m *Merger) apply(acc *textsurface.Accessor, out *engine.Output) error {
	comp, err := acc.Composition()
	if err != nil {
		return surfaceError("get composition", err)
	}
	if comp == nil && !out.HasPreedit() && !out.HasResult() {
		m.lastCommit = nil
		return nil
	}

	if out.HasResult() {
		if m.lastCommit == out {
			m.logger.Debug("skipping repeated commit", "output_id", out.ID)
		} else {
			if comp, err = m.ensureComposition(acc, comp); err != nil {
				return err
			}
			if err := m.commit(acc, comp, out.Result); err != nil {
				return err
			}
			m.lastCommit = out
		}
	} else {
		m.lastCommit = nil
	}

	if out.HasPreedit() {
		if comp, err = m.ensureComposition(acc, comp); err != nil {
			return err
		}
		return m.updatePreedit(acc, comp, out.Preedit)
	}
	if comp != nil {
		return m.dissolve(acc, comp)
	}
	return nil
}

func (m *Merger) ensureComposition(acc *textsurface.Accessor, comp textsurface.Composition) (textsurface.Composition, error) {
	if comp != nil {
		return comp, nil
	}
	sel, err := acc.SelectionRange()
	if err != nil {
		return nil, surfaceError("get selection", err)
	}
	comp, err = acc.StartComposition(sel)
	if err != nil {
		return nil, surfaceError("start composition", err)
	}
	m.metrics.CompositionsStarted.Inc()
	return comp, nil
}

// commit writes result at the front of the composition and moves the
// composition start past it.
func (m *Merger) commit(acc *textsurface.Accessor, comp textsurface.Composition, res *engine.Result) error {
	r, err := comp.Range()
	if err != nil {
		return surfaceError("get composition range", err)
	}
	text, err := acc.Text(r)
	if err != nil {
		return surfaceError("read composition", err)
	}

	units := textsurface.Encode(res.Value)
	head, err := acc.SubRange(r, 0, min(len(units), len(text)))
	if err != nil {
		return surfaceError("locate commit range", err)
	}
	if !textsurface.HasPrefix(text, units) {
		if err := head.SetText(units); err != nil {
			return surfaceError("write result", err)
		}
	}
	if err := acc.ClearProperty(head, textsurface.PropertyDisplayAttribute); err != nil {
		return surfaceError("clear result attribute", err)
	}
	if res.Key != "" {
		if err := acc.SetProperty(head, textsurface.PropertyReading, res.Key); err != nil {
			return surfaceError("set result reading", err)
		}
	}

	// head now covers the committed text; its end is the new start.
	start := head.Clone()
	start.Collapse(textsurface.AnchorEnd)
	if err := comp.ShiftStart(start); err != nil {
		return surfaceError("shrink composition", err)
	}
	if err := acc.SetCaret(start, textsurface.AnchorStart); err != nil {
		return surfaceError("place caret", err)
	}
	m.metrics.Commits.Inc()
	m.logger.Debug("committed", "units", len(units))
	return nil
}

func (m *Merger) updatePreedit(acc *textsurface.Accessor, comp textsurface.Composition, p *engine.Preedit) error {
	r, err := comp.Range()
	if err != nil {
		return surfaceError("get composition range", err)
	}
	text := p.Text()
	if err := r.SetText(textsurface.Encode(text)); err != nil {
		return surfaceError("write preedit", err)
	}
	if err := acc.ClearProperty(r, textsurface.PropertyDisplayAttribute); err != nil {
		return surfaceError("clear attributes", err)
	}
	if err := acc.ClearProperty(r, textsurface.PropertyReading); err != nil {
		return surfaceError("clear reading", err)
	}

	offset := 0
	for _, seg := range p.Segments {
		n := textsurface.Len(seg.Value)
		sub, err := acc.SubRange(r, offset, offset+n)
		if err != nil {
			return surfaceError("locate segment", err)
		}
		offset += n

		if attr := attributeFor(seg.Annotation); attr != textsurface.AttributeNone {
			if err := acc.SetProperty(sub, textsurface.PropertyDisplayAttribute, attr); err != nil {
				return surfaceError("set segment attribute", err)
			}
		}
		if seg.Key != "" {
			if err := acc.SetProperty(sub, textsurface.PropertyReading, seg.Key); err != nil {
				return surfaceError("set segment reading", err)
			}
		}
	}

	cursor := min(max(p.Cursor, 0), utf8.RuneCountInString(text))
	if err := acc.SetCaretAt(r, textsurface.UnitsForRunes(text, cursor)); err != nil {
		return surfaceError("place caret", err)
	}
	return nil
}

// dissolve clears what is left of the composition and ends it, leaving the
// caret where it started.
func (m *Merger) dissolve(acc *textsurface.Accessor, comp textsurface.Composition) error {
	r, err := comp.Range()
	if err != nil {
		return surfaceError("get composition range", err)
	}
	empty, err := r.IsEmpty()
	if err != nil {
		return surfaceError("inspect composition", err)
	}
	if !empty {
		if err := acc.ClearProperty(r, textsurface.PropertyDisplayAttribute); err != nil {
			return surfaceError("clear attributes", err)
		}
		if err := acc.ClearProperty(r, textsurface.PropertyReading); err != nil {
			return surfaceError("clear reading", err)
		}
		if err := r.SetText(nil); err != nil {
			return surfaceError("clear composition", err)
		}
	}
	if err := comp.End(); err != nil {
		return surfaceError("end composition", err)
	}
	m.metrics.CompositionsEnded.Inc()
	if err := acc.SetCaret(r, textsurface.AnchorStart); err != nil {
		return surfaceError("place caret", err)
	}
	return nil
}

func attributeFor(a engine.Annotation) textsurface.DisplayAttribute {
	switch a {
	case engine.AnnotationUnderline:
		return textsurface.AttributeInput
	case engine.AnnotationHighlight:
		return textsurface.AttributeConverted
	default:
		return textsurface.AttributeNone
	}
}
