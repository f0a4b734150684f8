package hostsim

import (
	"io"
	"slices"

	"imesync/internal/session"
	"imesync/internal/textsurface"
)

// SyncPolicy decides how the host treats synchronous session requests.
type SyncPolicy int

const (
	// SyncAllowed grants synchronous sessions unless one is running.
	SyncAllowed SyncPolicy = iota
	// SyncDenied refuses every synchronous request with
	// session.CodeSyncLockDenied, like hosts that only grant async locks.
	SyncDenied
)

type pendingSession struct {
	access session.Access
	fn     func(textsurface.Surface) error
}

// Context is one host input context: a document plus the session and
// notification machinery around it. It implements session.Host.
type Context struct {
	name string
	doc  *Document

	policy    SyncPolicy
	rejectAll bool
	released  bool
	inSession bool

	queue []pendingSession

	sinks    map[int]textsurface.EditSink
	nextSink int

	// Requests counts session requests by timing, for assertions.
	Requests map[session.Timing]int
}

// NewContext creates a context named name over a document holding text.
func NewContext(name, text string) *Context {
	return &Context{
		name:     name,
		doc:      NewDocument(text),
		sinks:    make(map[int]textsurface.EditSink),
		Requests: make(map[session.Timing]int),
	}
}

// Name returns the context name.
func (c *Context) Name() string { return c.name }

// SetSyncPolicy changes how synchronous requests are treated.
func (c *Context) SetSyncPolicy(p SyncPolicy) { c.policy = p }

// SetRejectAll makes the host refuse every session with session.CodeLocked.
func (c *Context) SetRejectAll(reject bool) { c.rejectAll = reject }

// SetReadOnly makes every text change fail.
func (c *Context) SetReadOnly(ro bool) { c.doc.readOnly = ro }

// SetInputScopes declares the input scopes of the focused field.
func (c *Context) SetInputScopes(scopes ...string) { c.doc.scopes = slices.Clone(scopes) }

// RequestSession implements session.Host.
func (c *Context) RequestSession(mode session.Mode, fn func(textsurface.Surface) error) error {
	c.Requests[mode.Timing]++
	switch {
	case c.released:
		return &session.HostError{Code: session.CodeContextGone}
	case c.rejectAll:
		return &session.HostError{Code: session.CodeLocked}
	}

	switch mode.Timing {
	case session.Sync:
		if c.policy == SyncDenied || c.inSession {
			return &session.HostError{Code: session.CodeSyncLockDenied}
		}
		return c.run(mode.Access, fn)
	case session.AsyncDontCare:
		if c.policy != SyncDenied && !c.inSession {
			return c.run(mode.Access, fn)
		}
	}
	c.queue = append(c.queue, pendingSession{access: mode.Access, fn: fn})
	return nil
}

// Pending returns the number of queued asynchronous sessions.
func (c *Context) Pending() int { return len(c.queue) }

// Pump runs queued asynchronous sessions, including any queued while
// pumping, and returns how many ran. Their errors are dropped, as a host
// has nobody to return them to.
func (c *Context) Pump() int {
	ran := 0
	for len(c.queue) > 0 && !c.released {
		next := c.queue[0]
		c.queue = c.queue[1:]
		_ = c.run(next.access, next.fn)
		ran++
	}
	return ran
}

// Release tears the context down. Queued sessions are dropped.
func (c *Context) Release() {
	c.released = true
	c.queue = nil
	clear(c.sinks)
}

// Released reports whether Release was called.
func (c *Context) Released() bool { return c.released }

func (c *Context) run(access session.Access, fn func(textsurface.Surface) error) error {
	c.inSession = true
	c.doc.lock = lockFor(access)
	c.doc.edit = textsurface.EditRecord{}

	err := fn(c.doc)

	rec := c.doc.edit
	c.doc.lock = lockNone
	c.doc.prune()
	c.inSession = false

	if access == session.ReadWrite {
		c.notify(rec)
	}
	return err
}

func (c *Context) notify(rec textsurface.EditRecord) {
	if !rec.TextChanged && !rec.SelectionChanged {
		return
	}
	keys := make([]int, 0, len(c.sinks))
	for k := range c.sinks {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	c.inSession = true
	c.doc.lock = lockRead
	for _, k := range keys {
		if sink, ok := c.sinks[k]; ok {
			sink.OnEndEdit(c.doc, rec)
		}
	}
	c.doc.lock = lockNone
	c.doc.prune()
	c.inSession = false
}

// AdviseEditSink registers sink for end-of-edit notifications. Closing the
// returned handle unregisters it.
func (c *Context) AdviseEditSink(sink textsurface.EditSink) (io.Closer, error) {
	if c.released {
		return nil, &session.HostError{Code: session.CodeContextGone}
	}
	id := c.nextSink
	c.nextSink++
	c.sinks[id] = sink
	return &sinkHandle{ctx: c, id: id}, nil
}

// Sinks returns the number of registered edit sinks.
func (c *Context) Sinks() int { return len(c.sinks) }

type sinkHandle struct {
	ctx    *Context
	id     int
	closed bool
}

func (h *sinkHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	delete(h.ctx.sinks, h.id)
	return nil
}

// UserSelect moves the selection the way a user click would, then notifies
// edit sinks.
func (c *Context) UserSelect(start, end int) {
	c.userEdit(func() {
		c.doc.sel.start, c.doc.sel.end = clampSpan(start, end, len(c.doc.text))
		c.doc.selActive = textsurface.ActiveEndEnd
		c.doc.edit.SelectionChanged = true
	})
}

// UserInsert types text at the selection the way an application would,
// bypassing the input method, then notifies edit sinks.
func (c *Context) UserInsert(text string) {
	c.userEdit(func() {
		_ = c.doc.replace(c.doc.sel, c.doc.sel.start, c.doc.sel.end, textsurface.Encode(text))
		c.doc.sel.start = c.doc.sel.end
		c.doc.edit.SelectionChanged = true
	})
}

func (c *Context) userEdit(edit func()) {
	c.doc.edit = textsurface.EditRecord{}
	edit()
	c.notify(c.doc.edit)
}

// SetUnits replaces the whole document with raw units and puts the caret at
// the end. Meant for test setup; no notifications are sent.
func (c *Context) SetUnits(units []uint16) {
	c.doc.text = slices.Clone(units)
	clear(c.doc.props)
	if c.doc.comp != nil {
		c.doc.comp.end()
	}
	c.doc.sel.start, c.doc.sel.end = len(units), len(units)
}

// Select sets the selection without notifications. Meant for test setup.
func (c *Context) Select(start, end int) {
	c.doc.sel.start, c.doc.sel.end = clampSpan(start, end, len(c.doc.text))
}

func clampSpan(start, end, n int) (int, int) {
	start = min(max(start, 0), n)
	end = min(max(end, start), n)
	return start, end
}

// Text returns the document text.
func (c *Context) Text() string { return textsurface.Decode(c.doc.text) }

// Units returns the raw document units.
func (c *Context) Units() []uint16 { return slices.Clone(c.doc.text) }

// SelectionSpan returns the selection offsets and active end.
func (c *Context) SelectionSpan() (start, end int, active textsurface.ActiveEnd) {
	return c.doc.sel.start, c.doc.sel.end, c.doc.selActive
}

// CompositionSpan returns the composition offsets, if one is active.
func (c *Context) CompositionSpan() (start, end int, ok bool) {
	if c.doc.comp == nil {
		return 0, 0, false
	}
	return c.doc.comp.r.start, c.doc.comp.r.end, true
}

// CompositionText returns the composed text, or "" when none is active.
func (c *Context) CompositionText() string {
	start, end, ok := c.CompositionSpan()
	if !ok {
		return ""
	}
	return textsurface.Decode(c.doc.text[start:end])
}

// PropertyAt returns the value of p at unit offset i.
func (c *Context) PropertyAt(p textsurface.Property, i int) any {
	values := c.doc.props[p]
	if i < 0 || i >= len(values) {
		return nil
	}
	return values[i]
}
