// Package surrounding reads and edits the text around the host selection.
//
// Hosts only shift ranges by native (UTF-16) units while the engine counts
// codepoints. Every conversion between the two when walking backward goes
// through MeasureBackward.
package surrounding

import (
	"errors"
	"log/slog"

	"imesync/internal/composition"
	"imesync/internal/engine"
	"imesync/internal/textsurface"
)

// DefaultRadius is the number of units read on each side of the selection.
const DefaultRadius = 20

// ErrInsufficientText is matched by errors.Is when fewer codepoints precede
// the caret than a deletion asked for.
var ErrInsufficientText = composition.ErrInsufficientText

// Window is the text around the selection. Each side is optional; a side
// the host could not provide is absent rather than an error, which is
// common near document edges and embedded objects.
type Window struct {
	Preceding []uint16
	Selected  []uint16
	Following []uint16

	HasPreceding bool
	HasSelected  bool
	HasFollowing bool
}

// Empty reports whether no side was available.
func (w Window) Empty() bool {
	return !w.HasPreceding && !w.HasSelected && !w.HasFollowing
}

// ForEngine converts w to the form attached to engine requests. It returns
// nil when no side was available.
func (w Window) ForEngine() *engine.SurroundingText {
	if w.Empty() {
		return nil
	}
	return &engine.SurroundingText{
		Preceding: textsurface.Decode(w.Preceding),
		Selected:  textsurface.Decode(w.Selected),
		Following: textsurface.Decode(w.Following),
	}
}

// Service reads and edits surrounding text inside sessions.
type Service struct {
	radius int
	logger *slog.Logger
}

// NewService creates a Service reading radius units on each side of the
// selection. A non-positive radius selects DefaultRadius.
func NewService(radius int, logger *slog.Logger) *Service {
	if radius <= 0 {
		radius = DefaultRadius
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{radius: radius, logger: logger.With("component", "surrounding")}
}

// Radius returns the window radius in units.
func (s *Service) Radius() int { return s.radius }

// GetWindow reads the text around the selection. It fails only when the
// selection itself cannot be read.
func (s *Service) GetWindow(surf textsurface.Surface) (Window, error) {
	acc := textsurface.NewAccessor(surf)
	sel, err := acc.SelectionRange()
	if err != nil {
		return Window{}, surfaceError("get selection", err)
	}

	var w Window
	if _, text, err := acc.Window(sel, textsurface.AnchorStart, -s.radius); err == nil {
		w.Preceding, w.HasPreceding = text, true
	} else {
		s.logger.Debug("preceding text unavailable", "error", err)
	}
	if text, err := sel.Text(-1); err == nil {
		w.Selected, w.HasSelected = text, true
	} else {
		s.logger.Debug("selected text unavailable", "error", err)
	}
	if _, text, err := acc.Window(sel, textsurface.AnchorEnd, s.radius); err == nil {
		w.Following, w.HasFollowing = text, true
	} else {
		s.logger.Debug("following text unavailable", "error", err)
	}
	return w, nil
}

// PrepareForReconversion reads the window and moves the active end of the
// selection to its start, so the host treats the selection as the target
// of a reconversion. Callers need a synchronous write session.
func (s *Service) PrepareForReconversion(surf textsurface.Surface) (Window, error) {
	w, err := s.GetWindow(surf)
	if err != nil {
		return Window{}, err
	}
	sel, err := surf.Selection()
	if err != nil {
		return Window{}, surfaceError("get selection", err)
	}
	sel.ActiveEnd = textsurface.ActiveEndStart
	if err := surf.SetSelection(sel); err != nil {
		return Window{}, surfaceError("set selection", err)
	}
	return w, nil
}

// DeletePreceding removes count codepoints before the selection start.
//
// The host can only shift by native units, so it first reads the worst
// case of 2*count units, measures count codepoints backward from the end of
// that text, and then deletes exactly that many units.
func (s *Service) DeletePreceding(surf textsurface.Surface, count int) error {
	if count <= 0 {
		return nil
	}
	acc := textsurface.NewAccessor(surf)
	sel, err := acc.SelectionRange()
	if err != nil {
		return surfaceError("get selection", err)
	}
	w, text, err := acc.Window(sel, textsurface.AnchorStart, -2*count)
	if err != nil {
		return surfaceError("read preceding text", err)
	}

	n, ok := MeasureBackward(text, count)
	if !ok {
		return &composition.MergeError{Kind: composition.InsufficientText, Op: "delete preceding"}
	}
	if _, err := w.ShiftStart(len(text)-n, textsurface.HaltNone); err != nil {
		return surfaceError("trim deletion range", err)
	}
	if err := w.SetText(nil); err != nil {
		return surfaceError("delete preceding", err)
	}
	s.logger.Debug("deleted preceding text", "codepoints", count, "units", n)
	return nil
}

// MeasureBackward returns how many native units the last count codepoints
// of text occupy. A low surrogate directly preceded by a high surrogate is
// one codepoint; any other surrogate half counts alone. ok is false when
// text holds fewer than count codepoints.
func MeasureBackward(text []uint16, count int) (units int, ok bool) {
	i := len(text)
	for counted := 0; counted < count; counted++ {
		if i == 0 {
			return 0, false
		}
		if i >= 2 && textsurface.IsLowSurrogate(text[i-1]) && textsurface.IsHighSurrogate(text[i-2]) {
			i -= 2
		} else {
			i--
		}
	}
	return len(text) - i, true
}

// IsInsufficientText reports whether err is an insufficient-text failure.
func IsInsufficientText(err error) bool {
	return errors.Is(err, ErrInsufficientText)
}

func surfaceError(op string, err error) error {
	return &composition.MergeError{Kind: composition.SurfaceOpFailed, Op: op, Err: err}
}
