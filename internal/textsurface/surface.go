package textsurface

import "errors"

// Anchor selects one end of a range.
type Anchor int

const (
	AnchorStart Anchor = iota
	AnchorEnd
)

// HaltCondition limits how far a shift may travel.
type HaltCondition int

const (
	// HaltNone shifts up to the document edges.
	HaltNone HaltCondition = iota
	// HaltObject additionally stops in front of embedded objects.
	HaltObject
)

// ActiveEnd is the end of a selection that moves when the user extends it.
type ActiveEnd int

const (
	ActiveEndNone ActiveEnd = iota
	ActiveEndStart
	ActiveEndEnd
)

// Property identifies a per-range property maintained by the host.
type Property int

const (
	// PropertyDisplayAttribute holds a DisplayAttribute value.
	PropertyDisplayAttribute Property = iota + 1
	// PropertyReading holds the reading (string) of composed text.
	PropertyReading
)

func (p Property) String() string {
	switch p {
	case PropertyDisplayAttribute:
		return "display_attribute"
	case PropertyReading:
		return "reading"
	default:
		return "unknown"
	}
}

// DisplayAttribute is the id of a registered display attribute.
type DisplayAttribute uint32

const (
	AttributeNone DisplayAttribute = iota
	// AttributeInput marks unconverted input (underlined).
	AttributeInput
	// AttributeConverted marks the focused, converted segment (highlighted).
	AttributeConverted
)

func (a DisplayAttribute) String() string {
	switch a {
	case AttributeInput:
		return "input"
	case AttributeConverted:
		return "converted"
	default:
		return "none"
	}
}

// Errors reported by host surfaces.
var (
	// ErrNoLock is returned when the surface is used outside a session or
	// written through a read-only session.
	ErrNoLock = errors.New("textsurface: no lock held for this operation")
	// ErrForeignRange is returned when a range from another surface is passed.
	ErrForeignRange = errors.New("textsurface: range does not belong to this surface")
	// ErrCompositionEnded is returned when an ended composition is used.
	ErrCompositionEnded = errors.New("textsurface: composition already ended")
	// ErrReadOnly is returned when the host refuses to change its text.
	ErrReadOnly = errors.New("textsurface: text is read-only")
)

// Range is a span of host text.
type Range interface {
	// Clone returns an independent copy of the range.
	Clone() Range

	// Collapse moves both anchors to the given anchor.
	Collapse(a Anchor)

	// ShiftStart moves the start anchor by n units (negative moves left)
	// and returns the signed number of units actually moved. Moving the
	// start past the end drags the end along.
	ShiftStart(n int, halt HaltCondition) (int, error)

	// ShiftEnd moves the end anchor by n units and returns the signed
	// number of units actually moved. Moving the end before the start
	// drags the start along.
	ShiftEnd(n int, halt HaltCondition) (int, error)

	// ShiftStartToRange moves the start anchor onto an anchor of other.
	ShiftStartToRange(other Range, a Anchor) error

	// ShiftEndToRange moves the end anchor onto an anchor of other.
	ShiftEndToRange(other Range, a Anchor) error

	// CompareStart compares this range's start with an anchor of other
	// and returns -1, 0 or +1.
	CompareStart(other Range, a Anchor) (int, error)

	// CompareEnd compares this range's end with an anchor of other.
	CompareEnd(other Range, a Anchor) (int, error)

	// Text returns up to max units of text; max < 0 reads everything.
	Text(max int) ([]uint16, error)

	// SetText replaces the covered text. The range then spans exactly the
	// new text.
	SetText(text []uint16) error

	// IsEmpty reports whether the range covers no text.
	IsEmpty() (bool, error)
}

// Selection is the host's current selection.
type Selection struct {
	Range     Range
	ActiveEnd ActiveEnd
}

// Composition is the span currently owned by the input method.
type Composition interface {
	// Range returns a clone of the composition span.
	Range() (Range, error)

	// ShiftStart moves the start of the composition to the start of r.
	// Text that leaves the composition is committed to the host.
	ShiftStart(r Range) error

	// End terminates the composition, leaving its text in place.
	End() error
}

// Surface is what a session mutator sees of a host context.
type Surface interface {
	// Selection returns the default selection.
	Selection() (Selection, error)

	// SetSelection replaces the default selection.
	SetSelection(sel Selection) error

	// Composition returns the active composition or nil when none exists.
	Composition() (Composition, error)

	// StartComposition makes r the active composition.
	StartComposition(r Range) (Composition, error)

	// Property returns the value of p if it is uniform over r, else nil.
	Property(r Range, p Property) (any, error)

	// SetProperty sets p to v over r.
	SetProperty(r Range, p Property, v any) error

	// ClearProperty removes p over r.
	ClearProperty(r Range, p Property) error

	// InputScopes returns the scope tags the host declares for r.
	InputScopes(r Range) ([]string, error)
}

// EditRecord summarizes what changed during a write session.
type EditRecord struct {
	TextChanged      bool
	SelectionChanged bool
}

// EditSink is notified by the host after every write session, including
// those of other parties. The Surface passed in is read-only.
type EditSink interface {
	OnEndEdit(s Surface, rec EditRecord)
}
