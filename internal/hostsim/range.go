package hostsim

import (
	"slices"

	"imesync/internal/textsurface"
)

type docRange struct {
	doc        *Document
	start, end int
	// internal ranges (selection, composition) survive session ends.
	internal bool
}

func (r *docRange) Clone() textsurface.Range {
	return r.doc.newRange(r.start, r.end, false)
}

func (r *docRange) Collapse(a textsurface.Anchor) {
	if a == textsurface.AnchorStart {
		r.end = r.start
	} else {
		r.start = r.end
	}
}

func (r *docRange) ShiftStart(n int, halt textsurface.HaltCondition) (int, error) {
	if err := r.doc.canRead(); err != nil {
		return 0, err
	}
	p := r.doc.walk(r.start, n, halt)
	moved := p - r.start
	r.start = p
	if r.end < r.start {
		r.end = r.start
	}
	return moved, nil
}

func (r *docRange) ShiftEnd(n int, halt textsurface.HaltCondition) (int, error) {
	if err := r.doc.canRead(); err != nil {
		return 0, err
	}
	p := r.doc.walk(r.end, n, halt)
	moved := p - r.end
	r.end = p
	if r.start > r.end {
		r.start = r.end
	}
	return moved, nil
}

// walk moves from p by n units, clamped to the document and, for
// HaltObject, to embedded objects.
func (d *Document) walk(p, n int, halt textsurface.HaltCondition) int {
	target := min(max(p+n, 0), len(d.text))
	if halt != textsurface.HaltObject {
		return target
	}
	for p > target {
		if d.text[p-1] == ObjectReplacement {
			return p
		}
		p--
	}
	for p < target {
		if d.text[p] == ObjectReplacement {
			return p
		}
		p++
	}
	return p
}

func (r *docRange) anchor(a textsurface.Anchor) int {
	if a == textsurface.AnchorStart {
		return r.start
	}
	return r.end
}

func (r *docRange) ShiftStartToRange(other textsurface.Range, a textsurface.Anchor) error {
	o, err := r.doc.own(other)
	if err != nil {
		return err
	}
	r.start = o.anchor(a)
	if r.end < r.start {
		r.end = r.start
	}
	return nil
}

func (r *docRange) ShiftEndToRange(other textsurface.Range, a textsurface.Anchor) error {
	o, err := r.doc.own(other)
	if err != nil {
		return err
	}
	r.end = o.anchor(a)
	if r.start > r.end {
		r.start = r.end
	}
	return nil
}

func (r *docRange) CompareStart(other textsurface.Range, a textsurface.Anchor) (int, error) {
	o, err := r.doc.own(other)
	if err != nil {
		return 0, err
	}
	return compare(r.start, o.anchor(a)), nil
}

func (r *docRange) CompareEnd(other textsurface.Range, a textsurface.Anchor) (int, error) {
	o, err := r.doc.own(other)
	if err != nil {
		return 0, err
	}
	return compare(r.end, o.anchor(a)), nil
}

func compare(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (r *docRange) Text(limit int) ([]uint16, error) {
	if err := r.doc.canRead(); err != nil {
		return nil, err
	}
	end := r.end
	if limit >= 0 && r.start+limit < end {
		end = r.start + limit
	}
	return slices.Clone(r.doc.text[r.start:end]), nil
}

func (r *docRange) SetText(units []uint16) error {
	if err := r.doc.canWrite(); err != nil {
		return err
	}
	return r.doc.replace(r, r.start, r.end, units)
}

func (r *docRange) IsEmpty() (bool, error) {
	if err := r.doc.canRead(); err != nil {
		return false, err
	}
	return r.start == r.end, nil
}
