package hostsim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imesync/internal/session"
	"imesync/internal/textsurface"
)

func hostCode(t *testing.T, err error) session.Code {
	t.Helper()
	var he *session.HostError
	require.True(t, errors.As(err, &he), "want *session.HostError, got %v", err)
	return he.Code
}

func noop(textsurface.Surface) error { return nil }

func TestSyncSessionRunsImmediately(t *testing.T) {
	c := NewContext("doc", "abc")
	ran := false
	err := c.RequestSession(session.SyncRead, func(s textsurface.Surface) error {
		ran = true
		sel, err := s.Selection()
		require.NoError(t, err)
		text, err := sel.Range.Text(-1)
		require.NoError(t, err)
		assert.Empty(t, text, "caret starts at the end")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, c.Requests[session.Sync])
}

func TestSyncDeniedPolicy(t *testing.T) {
	c := NewContext("doc", "")
	c.SetSyncPolicy(SyncDenied)

	err := c.RequestSession(session.SyncReadWrite, noop)
	assert.Equal(t, session.CodeSyncLockDenied, hostCode(t, err))
	assert.Zero(t, c.Pending())

	ran := false
	require.NoError(t, c.RequestSession(session.Mode{Access: session.ReadOnly, Timing: session.AsyncDontCare},
		func(textsurface.Surface) error { ran = true; return nil }))
	assert.False(t, ran, "async-dont-care queues when sync is denied")
	assert.Equal(t, 1, c.Pending())

	assert.Equal(t, 1, c.Pump())
	assert.True(t, ran)
}

func TestNestedSyncIsDenied(t *testing.T) {
	c := NewContext("doc", "")
	var inner error
	require.NoError(t, c.RequestSession(session.SyncRead, func(textsurface.Surface) error {
		inner = c.RequestSession(session.SyncRead, noop)
		return c.RequestSession(session.Mode{Access: session.ReadOnly, Timing: session.AsyncDontCare}, noop)
	}))
	assert.Equal(t, session.CodeSyncLockDenied, hostCode(t, inner))
	assert.Equal(t, 1, c.Pending(), "async-dont-care inside a session is queued")
}

func TestAsyncSessionsRunInOrder(t *testing.T) {
	c := NewContext("doc", "")
	var order []int
	for i := range 3 {
		require.NoError(t, c.RequestSession(session.AsyncReadWrite, func(textsurface.Surface) error {
			order = append(order, i)
			if i == 0 {
				// Queued while pumping; runs in the same pump.
				return c.RequestSession(session.AsyncRead, func(textsurface.Surface) error {
					order = append(order, 9)
					return nil
				})
			}
			return nil
		}))
	}
	assert.Empty(t, order)
	assert.Equal(t, 4, c.Pump())
	assert.Equal(t, []int{0, 1, 2, 9}, order)
	assert.Equal(t, 0, c.Pump())
}

func TestRejectAllAndRelease(t *testing.T) {
	c := NewContext("doc", "")
	c.SetRejectAll(true)
	assert.Equal(t, session.CodeLocked, hostCode(t, c.RequestSession(session.AsyncRead, noop)))

	c.SetRejectAll(false)
	require.NoError(t, c.RequestSession(session.AsyncRead, noop))
	c.Release()
	assert.True(t, c.Released())
	assert.Zero(t, c.Pending(), "release drops the queue")
	assert.Equal(t, session.CodeContextGone, hostCode(t, c.RequestSession(session.SyncRead, noop)))

	_, err := c.AdviseEditSink(nil)
	assert.Equal(t, session.CodeContextGone, hostCode(t, err))
}

func TestLocksOutsideSessions(t *testing.T) {
	c := NewContext("doc", "abc")
	var kept textsurface.Range
	require.NoError(t, c.RequestSession(session.SyncRead, func(s textsurface.Surface) error {
		sel, err := s.Selection()
		kept = sel.Range
		if err != nil {
			return err
		}
		err = kept.SetText(textsurface.Encode("x"))
		assert.ErrorIs(t, err, textsurface.ErrNoLock, "read sessions cannot write")
		return nil
	}))

	_, err := kept.Text(-1)
	assert.ErrorIs(t, err, textsurface.ErrNoLock)
	_, err = c.doc.Selection()
	assert.ErrorIs(t, err, textsurface.ErrNoLock)
}

type recordingSink struct {
	records []textsurface.EditRecord
	texts   []string
}

func (s *recordingSink) OnEndEdit(surf textsurface.Surface, rec textsurface.EditRecord) {
	s.records = append(s.records, rec)
	sel, err := surf.Selection()
	if err != nil {
		return
	}
	r := sel.Range.Clone()
	if _, err := r.ShiftStart(-100, textsurface.HaltNone); err != nil {
		return
	}
	text, _ := r.Text(-1)
	s.texts = append(s.texts, textsurface.Decode(text))
}

func TestEditSinks(t *testing.T) {
	c := NewContext("doc", "")
	sink := &recordingSink{}
	handle, err := c.AdviseEditSink(sink)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Sinks())

	require.NoError(t, c.RequestSession(session.SyncRead, noop))
	assert.Empty(t, sink.records, "read sessions do not notify")

	require.NoError(t, c.RequestSession(session.SyncReadWrite, noop))
	assert.Empty(t, sink.records, "write sessions without changes do not notify")

	require.NoError(t, c.RequestSession(session.SyncReadWrite, func(s textsurface.Surface) error {
		sel, err := s.Selection()
		if err != nil {
			return err
		}
		return sel.Range.SetText(textsurface.Encode("かな"))
	}))
	require.Len(t, sink.records, 1)
	assert.True(t, sink.records[0].TextChanged)
	assert.Equal(t, []string{"かな"}, sink.texts, "sinks read the document")
	start, end, _ := c.SelectionSpan()
	assert.Equal(t, [2]int{0, 2}, [2]int{start, end}, "selection grows over inserted text")

	c.Select(2, 2)
	c.UserInsert("!")
	require.Len(t, sink.records, 2)
	assert.Equal(t, "かな!", c.Text())

	c.UserSelect(0, 1)
	require.Len(t, sink.records, 3)
	assert.Equal(t, textsurface.EditRecord{SelectionChanged: true}, sink.records[2])

	require.NoError(t, handle.Close())
	require.NoError(t, handle.Close())
	assert.Zero(t, c.Sinks())
	c.UserInsert("?")
	assert.Len(t, sink.records, 3)
}

func TestCompositionLifecycle(t *testing.T) {
	c := NewContext("doc", "ab")
	c.Select(1, 1)

	var comp textsurface.Composition
	require.NoError(t, c.RequestSession(session.SyncReadWrite, func(s textsurface.Surface) error {
		sel, err := s.Selection()
		if err != nil {
			return err
		}
		comp, err = s.StartComposition(sel.Range)
		if err != nil {
			return err
		}
		r, err := comp.Range()
		if err != nil {
			return err
		}
		if err := r.SetText(textsurface.Encode("かん")); err != nil {
			return err
		}
		if err := s.SetProperty(r, textsurface.PropertyDisplayAttribute, textsurface.AttributeInput); err != nil {
			return err
		}
		v, err := s.Property(r, textsurface.PropertyDisplayAttribute)
		assert.Equal(t, textsurface.AttributeInput, v)
		return err
	}))

	assert.Equal(t, "aかんb", c.Text())
	assert.Equal(t, "かん", c.CompositionText())
	start, end, ok := c.CompositionSpan()
	assert.True(t, ok)
	assert.Equal(t, [2]int{1, 3}, [2]int{start, end})
	assert.Equal(t, textsurface.AttributeInput, c.PropertyAt(textsurface.PropertyDisplayAttribute, 2))
	assert.Nil(t, c.PropertyAt(textsurface.PropertyDisplayAttribute, 0))

	// Committing the first unit shifts the composition start past it.
	require.NoError(t, c.RequestSession(session.SyncReadWrite, func(s textsurface.Surface) error {
		r, err := comp.Range()
		if err != nil {
			return err
		}
		if _, err := r.ShiftStart(1, textsurface.HaltNone); err != nil {
			return err
		}
		return comp.ShiftStart(r)
	}))
	assert.Equal(t, "ん", c.CompositionText())

	require.NoError(t, c.RequestSession(session.SyncReadWrite, func(textsurface.Surface) error {
		return comp.End()
	}))
	_, _, ok = c.CompositionSpan()
	assert.False(t, ok)
	assert.Equal(t, "aかんb", c.Text())

	require.NoError(t, c.RequestSession(session.SyncReadWrite, func(textsurface.Surface) error {
		_, err := comp.Range()
		assert.ErrorIs(t, err, textsurface.ErrCompositionEnded)
		assert.ErrorIs(t, comp.End(), textsurface.ErrCompositionEnded)
		return nil
	}))
}

func TestRangesFollowEdits(t *testing.T) {
	c := NewContext("doc", "hello world")
	c.Select(6, 11)

	require.NoError(t, c.RequestSession(session.SyncReadWrite, func(s textsurface.Surface) error {
		sel, err := s.Selection()
		if err != nil {
			return err
		}
		head := sel.Range.Clone()
		head.Collapse(textsurface.AnchorStart)
		if _, err := head.ShiftStart(-6, textsurface.HaltNone); err != nil {
			return err
		}
		// head spans "hello "; replacing it moves the selection left.
		return head.SetText(textsurface.Encode("hi "))
	}))

	assert.Equal(t, "hi world", c.Text())
	start, end, _ := c.SelectionSpan()
	assert.Equal(t, [2]int{3, 8}, [2]int{start, end})
}

func TestHaltObject(t *testing.T) {
	c := NewContext("doc", "")
	c.SetUnits([]uint16{'a', ObjectReplacement, 'b', 'c'})

	require.NoError(t, c.RequestSession(session.SyncRead, func(s textsurface.Surface) error {
		sel, err := s.Selection()
		if err != nil {
			return err
		}
		r := sel.Range.Clone()
		moved, err := r.ShiftStart(-4, textsurface.HaltObject)
		require.NoError(t, err)
		assert.Equal(t, -2, moved, "stops after the object")

		r = sel.Range.Clone()
		moved, err = r.ShiftStart(-10, textsurface.HaltNone)
		require.NoError(t, err)
		assert.Equal(t, -4, moved, "clamped to the document start")
		return nil
	}))
}

func TestReadOnlyDocument(t *testing.T) {
	c := NewContext("doc", "abc")
	c.SetReadOnly(true)

	err := c.RequestSession(session.SyncReadWrite, func(s textsurface.Surface) error {
		sel, err := s.Selection()
		if err != nil {
			return err
		}
		return sel.Range.SetText(textsurface.Encode("x"))
	})
	assert.ErrorIs(t, err, textsurface.ErrReadOnly)
	assert.Equal(t, "abc", c.Text())
}

func TestInputScopes(t *testing.T) {
	c := NewContext("doc", "")
	c.SetInputScopes("password", "digits")

	require.NoError(t, c.RequestSession(session.SyncRead, func(s textsurface.Surface) error {
		sel, err := s.Selection()
		if err != nil {
			return err
		}
		scopes, err := s.InputScopes(sel.Range)
		assert.Equal(t, []string{"password", "digits"}, scopes)
		return err
	}))
}

func TestForeignRange(t *testing.T) {
	a := NewContext("a", "x")
	b := NewContext("b", "y")

	var foreign textsurface.Range
	require.NoError(t, a.RequestSession(session.SyncRead, func(s textsurface.Surface) error {
		sel, err := s.Selection()
		foreign = sel.Range
		return err
	}))
	require.NoError(t, b.RequestSession(session.SyncReadWrite, func(s textsurface.Surface) error {
		err := s.SetSelection(textsurface.Selection{Range: foreign})
		assert.ErrorIs(t, err, textsurface.ErrForeignRange)
		return nil
	}))
}
