package textservice

import (
	"io"

	"imesync/internal/composition"
	"imesync/internal/engine"
	"imesync/internal/inputmode"
	"imesync/internal/session"
	"imesync/internal/surrounding"
	"imesync/internal/textsurface"
)

// HostContext is one host input context as the service sees it. Contexts
// are compared by identity and used as map keys.
type HostContext interface {
	session.Host
	AdviseEditSink(sink textsurface.EditSink) (io.Closer, error)
}

// Options are the behaviour flags of a Service.
type Options struct {
	// KanaInput selects kana rather than romaji input for the host bits.
	KanaInput bool
	// UseIndicator shows the mode indicator after mode changes.
	UseIndicator bool
	// SendContext attaches the surrounding text to key events.
	SendContext bool
	// RespectHostModeChanges lets mode changes made by the host apply to
	// the engine.
	RespectHostModeChanges bool
	// SurroundingRadius is the number of units read on each side of the
	// selection.
	SurroundingRadius int
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		UseIndicator:      true,
		SurroundingRadius: surrounding.DefaultRadius,
	}
}

// UIState is what the UI layer needs to draw candidates and the indicator.
type UIState struct {
	Output           *engine.Output
	Open             bool
	Mode             inputmode.ConversionMode
	IndicatorVisible bool
}

// UI receives state changes. Drawing is up to the implementation.
type UI interface {
	Update(UIState)
}

// UIFunc adapts a function to UI.
type UIFunc func(UIState)

// Update implements UI.
func (f UIFunc) Update(s UIState) { f(s) }

// PrivateState is kept per host context from its first observation until
// it is released.
type PrivateState struct {
	LastOutput *engine.Output
	LastKey    engine.KeyEvent

	KanaInput    bool
	UseIndicator bool

	merger *composition.Merger
	sink   io.Closer
}

// Composing reports whether the last output left a preedit in the context.
func (ps *PrivateState) Composing() bool {
	return ps.LastOutput.HasPreedit()
}

type editSink struct {
	svc *Service
	hc  HostContext
}

func (k *editSink) OnEndEdit(s textsurface.Surface, rec textsurface.EditRecord) {
	k.svc.onEndEdit(k.hc, s, rec)
}
