package surrounding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imesync/internal/composition"
	"imesync/internal/hostsim"
	"imesync/internal/metrics"
	"imesync/internal/session"
	"imesync/internal/textsurface"
)

func run(t *testing.T, host *hostsim.Context, mode session.Mode, fn func(textsurface.Surface) error) error {
	t.Helper()
	sched := session.NewScheduler(session.WithMetrics(metrics.NewIMEMetrics(metrics.NewRegistry("test", "surrounding"))))
	var inner error
	err := sched.Request(context.Background(), host, mode, "test", func(s textsurface.Surface) error {
		inner = fn(s)
		return nil
	})
	require.NoError(t, err)
	return inner
}

func TestMeasureBackward(t *testing.T) {
	const (
		hi = 0xD842
		lo = 0xDFB7
	)
	tests := []struct {
		name  string
		text  []uint16
		count int
		units int
		ok    bool
	}{
		{"ascii", textsurface.Encode("abcde"), 5, 5, true},
		{"ascii short", textsurface.Encode("abcde"), 6, 0, false},
		{"partial", textsurface.Encode("abcde"), 2, 2, true},
		{"two pairs", []uint16{hi, lo, hi, lo}, 2, 4, true},
		{"one of two pairs", []uint16{hi, lo, hi, lo}, 1, 2, true},
		{"isolated low", []uint16{'a', lo}, 1, 1, true},
		{"isolated low then char", []uint16{'a', lo}, 2, 2, true},
		{"low after unrelated text", []uint16{hi, 'b', lo}, 1, 1, true},
		{"lone high", []uint16{'a', hi}, 1, 1, true},
		{"low low", []uint16{lo, lo}, 1, 1, true},
		{"empty", nil, 1, 0, false},
		{"zero count", textsurface.Encode("ab"), 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units, ok := MeasureBackward(tt.text, tt.count)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.units, units)
		})
	}
}

func TestDeletePreceding(t *testing.T) {
	svc := NewService(0, nil)

	t.Run("all of it", func(t *testing.T) {
		host := hostsim.NewContext("doc", "abcde")
		require.NoError(t, run(t, host, session.SyncReadWrite, func(s textsurface.Surface) error {
			return svc.DeletePreceding(s, 5)
		}))
		assert.Equal(t, "", host.Text())
	})

	t.Run("more than available", func(t *testing.T) {
		host := hostsim.NewContext("doc", "abcde")
		err := run(t, host, session.SyncReadWrite, func(s textsurface.Surface) error {
			return svc.DeletePreceding(s, 6)
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInsufficientText))
		assert.True(t, IsInsufficientText(err))
		var me *composition.MergeError
		require.True(t, errors.As(err, &me))
		assert.Equal(t, composition.InsufficientText, me.Kind)
		assert.Equal(t, "abcde", host.Text())
	})

	t.Run("before caret only", func(t *testing.T) {
		host := hostsim.NewContext("doc", "abcde")
		host.Select(3, 4)
		require.NoError(t, run(t, host, session.SyncReadWrite, func(s textsurface.Surface) error {
			return svc.DeletePreceding(s, 2)
		}))
		assert.Equal(t, "ade", host.Text())
		start, end, _ := host.SelectionSpan()
		assert.Equal(t, 1, start)
		assert.Equal(t, 2, end)
	})

	t.Run("surrogate pairs", func(t *testing.T) {
		host := hostsim.NewContext("doc", "x𠮷𠮷")
		require.NoError(t, run(t, host, session.SyncReadWrite, func(s textsurface.Surface) error {
			return svc.DeletePreceding(s, 2)
		}))
		assert.Equal(t, "x", host.Text())
	})

	t.Run("isolated low surrogate", func(t *testing.T) {
		host := hostsim.NewContext("doc", "")
		host.SetUnits([]uint16{0xD842, 'b', 0xDFB7})
		require.NoError(t, run(t, host, session.SyncReadWrite, func(s textsurface.Surface) error {
			return svc.DeletePreceding(s, 1)
		}))
		assert.Equal(t, []uint16{0xD842, 'b'}, host.Units())
	})

	t.Run("stops at embedded object", func(t *testing.T) {
		host := hostsim.NewContext("doc", "ab\ufffccd")
		err := run(t, host, session.SyncReadWrite, func(s textsurface.Surface) error {
			return svc.DeletePreceding(s, 3)
		})
		assert.ErrorIs(t, err, ErrInsufficientText)
		assert.Equal(t, "ab\ufffccd", host.Text())
	})

	t.Run("zero count", func(t *testing.T) {
		host := hostsim.NewContext("doc", "ab")
		require.NoError(t, run(t, host, session.SyncReadWrite, func(s textsurface.Surface) error {
			return svc.DeletePreceding(s, 0)
		}))
		assert.Equal(t, "ab", host.Text())
	})

	t.Run("read-only session", func(t *testing.T) {
		host := hostsim.NewContext("doc", "ab")
		err := run(t, host, session.SyncRead, func(s textsurface.Surface) error {
			return svc.DeletePreceding(s, 1)
		})
		assert.ErrorIs(t, err, composition.ErrSurfaceOpFailed)
		assert.Equal(t, "ab", host.Text())
	})
}

func TestGetWindow(t *testing.T) {
	svc := NewService(3, nil)
	assert.Equal(t, 3, svc.Radius())

	host := hostsim.NewContext("doc", "hello world")
	host.Select(5, 6)

	var w Window
	require.NoError(t, run(t, host, session.SyncRead, func(s textsurface.Surface) error {
		var err error
		w, err = svc.GetWindow(s)
		return err
	}))
	assert.Equal(t, "llo", textsurface.Decode(w.Preceding))
	assert.Equal(t, " ", textsurface.Decode(w.Selected))
	assert.Equal(t, "wor", textsurface.Decode(w.Following))
	assert.False(t, w.Empty())

	st := w.ForEngine()
	require.NotNil(t, st)
	assert.Equal(t, "llo", st.Preceding)
	assert.Equal(t, "wor", st.Following)
}

func TestGetWindowNearEdgesAndObjects(t *testing.T) {
	svc := NewService(10, nil)
	host := hostsim.NewContext("doc", "ab\ufffccd")
	host.Select(4, 4)

	var w Window
	require.NoError(t, run(t, host, session.SyncRead, func(s textsurface.Surface) error {
		var err error
		w, err = svc.GetWindow(s)
		return err
	}))
	assert.True(t, w.HasPreceding)
	assert.Equal(t, "c", textsurface.Decode(w.Preceding))
	assert.True(t, w.HasFollowing)
	assert.Equal(t, "d", textsurface.Decode(w.Following))
	assert.True(t, w.HasSelected)
	assert.Empty(t, w.Selected)
}

func TestGetWindowOutsideSession(t *testing.T) {
	svc := NewService(0, nil)
	host := hostsim.NewContext("doc", "abc")
	host.Release()

	assert.Nil(t, Window{}.ForEngine())

	// A released context refuses the session, so nothing is read.
	sched := session.NewScheduler(session.WithMetrics(metrics.NewIMEMetrics(metrics.NewRegistry("test", "released"))))
	err := sched.Request(context.Background(), host, session.SyncRead, "window", func(s textsurface.Surface) error {
		_, err := svc.GetWindow(s)
		return err
	})
	assert.ErrorIs(t, err, session.ErrRejected)
}

func TestPrepareForReconversion(t *testing.T) {
	svc := NewService(5, nil)
	host := hostsim.NewContext("doc", "今日は晴れ")
	host.Select(2, 3)

	var w Window
	require.NoError(t, run(t, host, session.SyncReadWrite, func(s textsurface.Surface) error {
		var err error
		w, err = svc.PrepareForReconversion(s)
		return err
	}))
	assert.Equal(t, "今日", textsurface.Decode(w.Preceding))
	assert.Equal(t, "は", textsurface.Decode(w.Selected))
	assert.Equal(t, "晴れ", textsurface.Decode(w.Following))

	start, end, active := host.SelectionSpan()
	assert.Equal(t, 2, start)
	assert.Equal(t, 3, end)
	assert.Equal(t, textsurface.ActiveEndStart, active)
}

func TestPrepareForReconversionNeedsWriteSession(t *testing.T) {
	svc := NewService(5, nil)
	host := hostsim.NewContext("doc", "abc")
	err := run(t, host, session.SyncRead, func(s textsurface.Surface) error {
		_, err := svc.PrepareForReconversion(s)
		return err
	})
	assert.ErrorIs(t, err, textsurface.ErrNoLock)
}
