package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imesync/internal/hostsim"
	"imesync/internal/metrics"
	"imesync/internal/session"
	"imesync/internal/textsurface"
)

func newScheduler(t *testing.T) (*session.Scheduler, *metrics.IMEMetrics) {
	t.Helper()
	m := metrics.NewIMEMetrics(metrics.NewRegistry("test", t.Name()))
	return session.NewScheduler(session.WithMetrics(m)), m
}

func TestSyncRequestRunsBeforeReturn(t *testing.T) {
	s, _ := newScheduler(t)
	host := hostsim.NewContext("doc", "abc")

	ran := false
	err := s.Request(context.Background(), host, session.SyncReadWrite, "key", func(surf textsurface.Surface) error {
		ran = true
		_, err := surf.Selection()
		return err
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 0, host.Pending())
}

func TestAsyncRequestRunsOnLaterTurn(t *testing.T) {
	s, _ := newScheduler(t)
	host := hostsim.NewContext("doc", "")

	ran := false
	err := s.Request(context.Background(), host, session.AsyncReadWrite, "output", func(textsurface.Surface) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran, "async mutator must not run inside Request")
	assert.Equal(t, 1, host.Pump())
	assert.True(t, ran)
}

func TestAsyncDontCareRunsSyncWhenPossible(t *testing.T) {
	s, _ := newScheduler(t)
	host := hostsim.NewContext("doc", "")

	ran := false
	mode := session.Mode{Access: session.ReadOnly, Timing: session.AsyncDontCare}
	require.NoError(t, s.Request(context.Background(), host, mode, "window", func(textsurface.Surface) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	host.SetSyncPolicy(hostsim.SyncDenied)
	ran = false
	require.NoError(t, s.Request(context.Background(), host, mode, "window", func(textsurface.Surface) error {
		ran = true
		return nil
	}))
	assert.False(t, ran)
	host.Pump()
	assert.True(t, ran)
}

func TestAsyncDontCareFailureRunningSyncIsReportedOnce(t *testing.T) {
	var handled int
	m := metrics.NewIMEMetrics(metrics.NewRegistry("test", t.Name()))
	s := session.NewScheduler(
		session.WithMetrics(m),
		session.WithAsyncErrorHandler(func(string, error) { handled++ }),
	)
	host := hostsim.NewContext("doc", "")
	boom := errors.New("boom")

	mode := session.Mode{Access: session.ReadWrite, Timing: session.AsyncDontCare}
	err := s.Request(context.Background(), host, mode, "window", func(textsurface.Surface) error {
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrMutatorFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), m.MutatorFailures.Value())
	assert.Equal(t, uint64(0), m.AsyncFailures.Value())
	assert.Zero(t, handled)

	host.SetSyncPolicy(hostsim.SyncDenied)
	require.NoError(t, s.Request(context.Background(), host, mode, "window", func(textsurface.Surface) error {
		return boom
	}))
	host.Pump()
	assert.Equal(t, uint64(1), m.MutatorFailures.Value())
	assert.Equal(t, uint64(1), m.AsyncFailures.Value())
	assert.Equal(t, 1, handled)
}

func TestRejectedRequest(t *testing.T) {
	s, m := newScheduler(t)
	host := hostsim.NewContext("doc", "")
	host.SetRejectAll(true)

	err := s.Request(context.Background(), host, session.AsyncReadWrite, "output", func(textsurface.Surface) error {
		t.Fatal("mutator must not run")
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrRejected))
	assert.False(t, errors.Is(err, session.ErrMutatorFailed))

	var se *session.SchedulingError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, session.CodeLocked, se.Code)
	assert.Equal(t, uint64(1), m.SessionsRejected.Value())
}

func TestMutatorFailure(t *testing.T) {
	s, m := newScheduler(t)
	host := hostsim.NewContext("doc", "")
	boom := errors.New("boom")

	err := s.Request(context.Background(), host, session.SyncReadWrite, "key", func(textsurface.Surface) error {
		return boom
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrMutatorFailed))
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, uint64(1), m.MutatorFailures.Value())
	assert.Equal(t, uint64(0), m.SessionsRejected.Value())
}

func TestAsyncFailureReported(t *testing.T) {
	var gotSite string
	var gotErr error
	m := metrics.NewIMEMetrics(metrics.NewRegistry("test", t.Name()))
	s := session.NewScheduler(
		session.WithMetrics(m),
		session.WithAsyncErrorHandler(func(site string, err error) {
			gotSite, gotErr = site, err
		}),
	)
	host := hostsim.NewContext("doc", "")
	boom := errors.New("late failure")

	require.NoError(t, s.Request(context.Background(), host, session.AsyncReadWrite, "output", func(textsurface.Surface) error {
		return boom
	}))
	host.Pump()
	assert.Equal(t, "output", gotSite)
	assert.ErrorIs(t, gotErr, boom)
	assert.Equal(t, uint64(1), m.AsyncFailures.Value())
}

func TestSyncDeniedLatchesCallSite(t *testing.T) {
	s, m := newScheduler(t)
	host := hostsim.NewContext("doc", "")
	host.SetSyncPolicy(hostsim.SyncDenied)

	runs := 0
	mutator := func(textsurface.Surface) error {
		runs++
		return nil
	}

	// The first request is refused synchronously and re-issued as async.
	require.NoError(t, s.Request(context.Background(), host, session.SyncReadWrite, "key", mutator))
	assert.True(t, s.IsLatched("key"))
	assert.Equal(t, 0, runs)
	assert.Equal(t, 1, host.Pump())
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, host.Requests[session.Sync])
	assert.Equal(t, 1, host.Requests[session.Async])

	// Even once the host would allow sync again, the site stays async.
	host.SetSyncPolicy(hostsim.SyncAllowed)
	require.NoError(t, s.Request(context.Background(), host, session.SyncReadWrite, "key", mutator))
	assert.Equal(t, 1, runs, "latched site must not run synchronously")
	assert.Equal(t, 1, host.Requests[session.Sync], "latched site must not try sync again")
	assert.Equal(t, 2, host.Requests[session.Async])
	host.Pump()
	assert.Equal(t, 2, runs)

	// Other call sites are unaffected.
	require.NoError(t, s.Request(context.Background(), host, session.SyncReadWrite, "focus", mutator))
	assert.Equal(t, 3, runs)
	assert.False(t, s.IsLatched("focus"))
	assert.Equal(t, 1, s.LatchedSites())
	assert.Equal(t, int64(1), m.LatchedSites.Value())
}

func TestOtherRejectionsDoNotLatch(t *testing.T) {
	s, _ := newScheduler(t)
	host := hostsim.NewContext("doc", "")
	host.Release()

	err := s.Request(context.Background(), host, session.SyncReadWrite, "key", func(textsurface.Surface) error { return nil })
	require.ErrorIs(t, err, session.ErrRejected)
	assert.False(t, s.IsLatched("key"))
}

func TestCancelledContext(t *testing.T) {
	s, _ := newScheduler(t)
	host := hostsim.NewContext("doc", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Request(ctx, host, session.SyncReadWrite, "key", func(textsurface.Surface) error { return nil })
	require.ErrorIs(t, err, session.ErrRejected)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, host.Requests[session.Sync])
}

func TestReentrantSyncRequestIsDenied(t *testing.T) {
	s, _ := newScheduler(t)
	host := hostsim.NewContext("doc", "")

	var inner error
	require.NoError(t, s.Request(context.Background(), host, session.SyncReadWrite, "outer", func(textsurface.Surface) error {
		inner = s.Request(context.Background(), host, session.SyncReadWrite, "inner", func(textsurface.Surface) error {
			return nil
		})
		return nil
	}))
	// The nested sync request is downgraded and queued, not run re-entrantly.
	require.NoError(t, inner)
	assert.True(t, s.IsLatched("inner"))
	assert.Equal(t, 1, host.Pending())
}
