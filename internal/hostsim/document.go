// Package hostsim is an in-memory host for the synchronization layer.
//
// It models what a text-services host provides to an input method: a text
// buffer addressed in UTF-16 units, ranges that follow edits, a default
// selection, a single composition, per-unit properties, declared input
// scopes, session grants (sync, async, async-dont-care) and edit sinks.
// Tests drive it directly; the replay command uses it to run scripted
// typing sessions without a real host.
//
// A Document is not safe for concurrent use. Like the host thread it models,
// it expects every call to come from one goroutine.
package hostsim

import (
	"slices"

	"imesync/internal/session"
	"imesync/internal/textsurface"
)

// ObjectReplacement is the unit the document uses for embedded objects.
// Shifts with textsurface.HaltObject stop in front of it.
const ObjectReplacement = 0xFFFC

type lockState int

const (
	lockNone lockState = iota
	lockRead
	lockWrite
)

// Document is the text buffer of one host context. It implements
// textsurface.Surface for the duration of a session.
type Document struct {
	text   []uint16
	props  map[textsurface.Property][]any
	scopes []string

	lock     lockState
	readOnly bool

	ranges    map[*docRange]struct{}
	sel       *docRange
	selActive textsurface.ActiveEnd
	comp      *composition

	edit textsurface.EditRecord
}

// NewDocument creates a document holding text with the caret at its end.
func NewDocument(text string) *Document {
	d := &Document{
		text:   textsurface.Encode(text),
		props:  make(map[textsurface.Property][]any),
		ranges: make(map[*docRange]struct{}),
	}
	d.sel = d.newRange(len(d.text), len(d.text), true)
	d.selActive = textsurface.ActiveEndEnd
	return d
}

func (d *Document) newRange(start, end int, internal bool) *docRange {
	r := &docRange{doc: d, start: start, end: end, internal: internal}
	d.ranges[r] = struct{}{}
	return r
}

// prune forgets ranges handed out during a session. They must not be used
// after the session that produced them.
func (d *Document) prune() {
	for r := range d.ranges {
		if !r.internal {
			delete(d.ranges, r)
		}
	}
}

func (d *Document) canRead() error {
	if d.lock == lockNone {
		return textsurface.ErrNoLock
	}
	return nil
}

func (d *Document) canWrite() error {
	if d.lock != lockWrite {
		return textsurface.ErrNoLock
	}
	return nil
}

func (d *Document) own(r textsurface.Range) (*docRange, error) {
	dr, ok := r.(*docRange)
	if !ok || dr.doc != d {
		return nil, textsurface.ErrForeignRange
	}
	return dr, nil
}

// replace swaps text[s:e] for units. self is the range performing the edit;
// it ends up spanning exactly the new text. Every other range follows the
// edit: starts keep left of inserted text, ends grow over it.
func (d *Document) replace(self *docRange, s, e int, units []uint16) error {
	if d.readOnly {
		return textsurface.ErrReadOnly
	}
	n := len(units)
	delta := n - (e - s)

	d.text = slices.Concat(d.text[:s:s], units, d.text[e:])
	for p, values := range d.props {
		if len(values) == 0 {
			continue
		}
		d.props[p] = slices.Concat(values[:s:s], make([]any, n), values[e:])
	}

	for r := range d.ranges {
		if r == self {
			continue
		}
		r.start = adjustStart(r.start, s, e, delta)
		r.end = adjustEnd(r.end, s, e, n, delta)
		if r.end < r.start {
			r.end = r.start
		}
	}
	if self != nil {
		self.start = s
		self.end = s + n
	}
	d.edit.TextChanged = true
	return nil
}

func adjustStart(p, s, e, delta int) int {
	switch {
	case p <= s:
		return p
	case p >= e:
		return p + delta
	default:
		return s
	}
}

func adjustEnd(p, s, e, n, delta int) int {
	switch {
	case p < s:
		return p
	case p == s && s < e:
		return p
	case p >= e:
		return p + delta
	default:
		return s + n
	}
}

// Selection implements textsurface.Surface.
func (d *Document) Selection() (textsurface.Selection, error) {
	if err := d.canRead(); err != nil {
		return textsurface.Selection{}, err
	}
	return textsurface.Selection{Range: d.sel.Clone(), ActiveEnd: d.selActive}, nil
}

// SetSelection implements textsurface.Surface.
func (d *Document) SetSelection(sel textsurface.Selection) error {
	if err := d.canWrite(); err != nil {
		return err
	}
	r, err := d.own(sel.Range)
	if err != nil {
		return err
	}
	d.sel.start, d.sel.end = r.start, r.end
	d.selActive = sel.ActiveEnd
	d.edit.SelectionChanged = true
	return nil
}

// Composition implements textsurface.Surface.
func (d *Document) Composition() (textsurface.Composition, error) {
	if err := d.canRead(); err != nil {
		return nil, err
	}
	if d.comp == nil {
		return nil, nil
	}
	return d.comp, nil
}

// StartComposition implements textsurface.Surface. A composition that is
// still active is ended first; a document has at most one.
func (d *Document) StartComposition(r textsurface.Range) (textsurface.Composition, error) {
	if err := d.canWrite(); err != nil {
		return nil, err
	}
	dr, err := d.own(r)
	if err != nil {
		return nil, err
	}
	if d.comp != nil {
		d.comp.end()
	}
	d.comp = &composition{doc: d, r: d.newRange(dr.start, dr.end, true)}
	return d.comp, nil
}

// Property implements textsurface.Surface.
func (d *Document) Property(r textsurface.Range, p textsurface.Property) (any, error) {
	if err := d.canRead(); err != nil {
		return nil, err
	}
	dr, err := d.own(r)
	if err != nil {
		return nil, err
	}
	values := d.props[p]
	if len(values) == 0 || dr.start == dr.end {
		return nil, nil
	}
	v := values[dr.start]
	for _, other := range values[dr.start+1 : dr.end] {
		if other != v {
			return nil, nil
		}
	}
	return v, nil
}

// SetProperty implements textsurface.Surface.
func (d *Document) SetProperty(r textsurface.Range, p textsurface.Property, v any) error {
	if err := d.canWrite(); err != nil {
		return err
	}
	dr, err := d.own(r)
	if err != nil {
		return err
	}
	values := d.props[p]
	if len(values) != len(d.text) {
		values = make([]any, len(d.text))
		d.props[p] = values
	}
	for i := dr.start; i < dr.end; i++ {
		values[i] = v
	}
	return nil
}

// ClearProperty implements textsurface.Surface.
func (d *Document) ClearProperty(r textsurface.Range, p textsurface.Property) error {
	return d.SetProperty(r, p, nil)
}

// InputScopes implements textsurface.Surface.
func (d *Document) InputScopes(textsurface.Range) ([]string, error) {
	if err := d.canRead(); err != nil {
		return nil, err
	}
	return slices.Clone(d.scopes), nil
}

type composition struct {
	doc   *Document
	r     *docRange
	ended bool
}

func (c *composition) Range() (textsurface.Range, error) {
	if c.ended {
		return nil, textsurface.ErrCompositionEnded
	}
	if err := c.doc.canRead(); err != nil {
		return nil, err
	}
	return c.r.Clone(), nil
}

func (c *composition) ShiftStart(r textsurface.Range) error {
	if c.ended {
		return textsurface.ErrCompositionEnded
	}
	if err := c.doc.canWrite(); err != nil {
		return err
	}
	dr, err := c.doc.own(r)
	if err != nil {
		return err
	}
	c.r.start = dr.start
	if c.r.end < c.r.start {
		c.r.end = c.r.start
	}
	return nil
}

func (c *composition) End() error {
	if c.ended {
		return textsurface.ErrCompositionEnded
	}
	if err := c.doc.canWrite(); err != nil {
		return err
	}
	c.end()
	return nil
}

func (c *composition) end() {
	c.ended = true
	delete(c.doc.ranges, c.r)
	if c.doc.comp == c {
		c.doc.comp = nil
	}
}

// lockFor maps a session access mode to a document lock.
func lockFor(a session.Access) lockState {
	if a == session.ReadWrite {
		return lockWrite
	}
	return lockRead
}
