package textsurface

import (
	"fmt"
)

// Accessor wraps a Surface with the range recipes the input method uses.
// It holds no state of its own and is only valid for the session that
// produced the Surface.
type Accessor struct {
	Surface
}

// NewAccessor returns an Accessor over s.
func NewAccessor(s Surface) *Accessor {
	return &Accessor{Surface: s}
}

// SelectionRange returns a clone of the current selection range.
func (a *Accessor) SelectionRange() (Range, error) {
	sel, err := a.Selection()
	if err != nil {
		return nil, fmt.Errorf("get selection: %w", err)
	}
	if sel.Range == nil {
		return nil, fmt.Errorf("get selection: %w", ErrNoLock)
	}
	return sel.Range.Clone(), nil
}

// Text reads all text covered by r.
func (a *Accessor) Text(r Range) ([]uint16, error) {
	text, err := r.Text(-1)
	if err != nil {
		return nil, fmt.Errorf("get text: %w", err)
	}
	return text, nil
}

// Replace sets the text of r to s.
func (a *Accessor) Replace(r Range, s string) error {
	if err := r.SetText(Encode(s)); err != nil {
		return fmt.Errorf("set text: %w", err)
	}
	return nil
}

// SubRange returns a new range covering [start, end) units relative to the
// start of r. The result is clamped by the document, not by r.
func (a *Accessor) SubRange(r Range, start, end int) (Range, error) {
	sub := r.Clone()
	sub.Collapse(AnchorStart)
	if end > 0 {
		if _, err := sub.ShiftEnd(end, HaltNone); err != nil {
			return nil, fmt.Errorf("shift end: %w", err)
		}
	}
	if start > 0 {
		if _, err := sub.ShiftStart(start, HaltNone); err != nil {
			return nil, fmt.Errorf("shift start: %w", err)
		}
	}
	return sub, nil
}

// Window returns a range of up to n units on one side of r's anchor a,
// together with its text. A negative n reaches left of the anchor. Shifts
// halt at embedded objects, so the window may be shorter than requested.
func (a *Accessor) Window(r Range, at Anchor, n int) (Range, []uint16, error) {
	w := r.Clone()
	w.Collapse(at)
	var err error
	if n < 0 {
		_, err = w.ShiftStart(n, HaltObject)
	} else {
		_, err = w.ShiftEnd(n, HaltObject)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("shift window: %w", err)
	}
	text, err := w.Text(-1)
	if err != nil {
		return nil, nil, fmt.Errorf("get window text: %w", err)
	}
	return w, text, nil
}

// SetCaret collapses the selection to anchor at of r.
func (a *Accessor) SetCaret(r Range, at Anchor) error {
	caret := r.Clone()
	caret.Collapse(at)
	if err := a.SetSelection(Selection{Range: caret, ActiveEnd: ActiveEndEnd}); err != nil {
		return fmt.Errorf("set selection: %w", err)
	}
	return nil
}

// SetCaretAt collapses the selection to offset units past the start of r.
func (a *Accessor) SetCaretAt(r Range, offset int) error {
	caret, err := a.SubRange(r, offset, offset)
	if err != nil {
		return err
	}
	return a.SetCaret(caret, AnchorStart)
}

// Contains reports whether inner lies within outer, boundaries included.
func (a *Accessor) Contains(outer, inner Range) (bool, error) {
	c, err := inner.CompareStart(outer, AnchorStart)
	if err != nil {
		return false, err
	}
	if c < 0 {
		return false, nil
	}
	c, err = inner.CompareEnd(outer, AnchorEnd)
	if err != nil {
		return false, err
	}
	return c <= 0, nil
}
