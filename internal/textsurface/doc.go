// Package textsurface is the read/write facade over a host-owned text surface.
//
// The host owns the text. The input method only ever touches it from inside a
// host-granted session, through the Surface handed to the session's mutator.
// All offsets and lengths are in native units (UTF-16 code units), which is
// what hosts index text by; a single character may occupy two units when it is
// encoded as a surrogate pair.
//
// # Ranges
//
// A Range is an opaque span with a start and an end anchor. Ranges are never
// addressed by absolute offsets. Instead they are cloned, collapsed to one of
// their anchors and shifted by a number of units, exactly like the host API
// exposes them:
//
//	sub := r.Clone()
//	sub.Collapse(AnchorStart)
//	sub.ShiftEnd(4, HaltNone)   // [start, start+4)
//
// Shifts are clamped by the document edges and, when HaltObject is given, by
// embedded objects. The returned count tells how far the anchor really moved.
//
// # Properties
//
// Two per-range properties are used: the display attribute of a preedit
// segment (PropertyDisplayAttribute) and the reading of composed text
// (PropertyReading).
package textsurface
