// Package engine defines the data exchanged with the conversion engine.
//
// The engine itself is a black box reached through Client. Each request
// yields an Output describing what the text service should show: the
// in-progress preedit, text to commit, candidates, the engine's mode status,
// and optional follow-up actions (deleting preceding text, a callback
// command). An Output is immutable once received.
package engine

import (
	"context"
	"fmt"
	"strings"

	"imesync/internal/inputmode"
)

// Annotation is the display style of a preedit segment.
type Annotation int

const (
	AnnotationNone Annotation = iota
	AnnotationUnderline
	AnnotationHighlight
)

func (a Annotation) String() string {
	switch a {
	case AnnotationNone:
		return "none"
	case AnnotationUnderline:
		return "underline"
	case AnnotationHighlight:
		return "highlight"
	default:
		return fmt.Sprintf("annotation(%d)", int(a))
	}
}

// Segment is one run of the preedit.
type Segment struct {
	Value      string     `json:"value" cbor:"1,keyasint" yaml:"value"`
	Annotation Annotation `json:"annotation" cbor:"2,keyasint" yaml:"annotation"`
	// Key is the reading of Value, if known.
	Key string `json:"key,omitempty" cbor:"3,keyasint,omitempty" yaml:"key,omitempty"`
}

// Preedit is the text being composed.
type Preedit struct {
	Segments []Segment `json:"segments" cbor:"1,keyasint" yaml:"segments"`
	// Cursor is the caret position in codepoints from the preedit start.
	Cursor int `json:"cursor" cbor:"2,keyasint" yaml:"cursor"`
	// HighlightedPosition is the codepoint offset of the focused segment.
	HighlightedPosition int `json:"highlighted_position,omitempty" cbor:"3,keyasint,omitempty" yaml:"highlighted_position,omitempty"`
}

// Text returns the concatenated segment values.
func (p *Preedit) Text() string {
	var b strings.Builder
	for _, s := range p.Segments {
		b.WriteString(s.Value)
	}
	return b.String()
}

// Result is text the engine wants committed.
type Result struct {
	Value string `json:"value" cbor:"1,keyasint" yaml:"value"`
	Key   string `json:"key,omitempty" cbor:"2,keyasint,omitempty" yaml:"key,omitempty"`
}

// Candidate is one conversion candidate.
type Candidate struct {
	Value      string `json:"value" cbor:"1,keyasint" yaml:"value"`
	Annotation string `json:"annotation,omitempty" cbor:"2,keyasint,omitempty" yaml:"annotation,omitempty"`
	Shortcut   string `json:"shortcut,omitempty" cbor:"3,keyasint,omitempty" yaml:"shortcut,omitempty"`
}

// Candidates is the candidate window content.
type Candidates struct {
	Focused    int         `json:"focused" cbor:"1,keyasint" yaml:"focused"`
	Candidates []Candidate `json:"candidates" cbor:"2,keyasint" yaml:"candidates"`
}

// Status is the engine's mode status.
type Status struct {
	Activated bool                     `json:"activated" cbor:"1,keyasint" yaml:"activated"`
	Mode      inputmode.ConversionMode `json:"mode" cbor:"2,keyasint" yaml:"mode"`
	// ComebackMode is the mode restored when the engine is reopened.
	ComebackMode inputmode.ConversionMode `json:"comeback_mode" cbor:"3,keyasint" yaml:"comeback_mode"`
}

// DeletionRange asks for text around the caret to be removed. Offset and
// Length are in codepoints; Offset is relative to the caret.
type DeletionRange struct {
	Offset int `json:"offset" cbor:"1,keyasint" yaml:"offset"`
	Length int `json:"length" cbor:"2,keyasint" yaml:"length"`
}

// IsDeletePreceding reports whether d removes exactly the Length
// codepoints before the caret.
func (d *DeletionRange) IsDeletePreceding() bool {
	return d.Length > 0 && d.Offset == -d.Length
}

// Callback is a command the engine wants sent back to it.
type Callback struct {
	Command Command `json:"command" cbor:"1,keyasint" yaml:"command"`
}

// Output is the response to one engine request.
type Output struct {
	ID            uint64         `json:"id" cbor:"1,keyasint" yaml:"id"`
	Consumed      bool           `json:"consumed" cbor:"2,keyasint" yaml:"consumed"`
	Preedit       *Preedit       `json:"preedit,omitempty" cbor:"3,keyasint,omitempty" yaml:"preedit,omitempty"`
	Result        *Result        `json:"result,omitempty" cbor:"4,keyasint,omitempty" yaml:"result,omitempty"`
	Candidates    *Candidates    `json:"candidates,omitempty" cbor:"5,keyasint,omitempty" yaml:"candidates,omitempty"`
	Status        *Status        `json:"status,omitempty" cbor:"6,keyasint,omitempty" yaml:"status,omitempty"`
	DeletionRange *DeletionRange `json:"deletion_range,omitempty" cbor:"7,keyasint,omitempty" yaml:"deletion_range,omitempty"`
	Callback      *Callback      `json:"callback,omitempty" cbor:"8,keyasint,omitempty" yaml:"callback,omitempty"`
}

// HasPreedit reports whether o carries a non-empty preedit.
func (o *Output) HasPreedit() bool {
	return o != nil && o.Preedit != nil && len(o.Preedit.Segments) > 0
}

// HasResult reports whether o carries text to commit.
func (o *Output) HasResult() bool {
	return o != nil && o.Result != nil && o.Result.Value != ""
}

// Client sends requests to the conversion engine.
type Client interface {
	SendKey(ctx context.Context, key KeyEvent) (*Output, error)
	SendCommand(ctx context.Context, cmd Command) (*Output, error)
}
