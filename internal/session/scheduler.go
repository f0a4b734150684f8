package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"imesync/internal/metrics"
	"imesync/internal/textsurface"
)

// Scheduler issues session requests and owns the per-site latch.
//
// One Scheduler lives as long as one activation of the input method; the
// latch is never reset within it.
type Scheduler struct {
	mu      sync.Mutex
	latched map[string]bool

	logger  *slog.Logger
	metrics *metrics.IMEMetrics
	onAsync func(site string, err error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.IMEMetrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithAsyncErrorHandler registers a callback for mutators that fail after
// Request already returned.
func WithAsyncErrorHandler(fn func(site string, err error)) Option {
	return func(s *Scheduler) { s.onAsync = fn }
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		latched: make(map[string]bool),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewIMEMetrics(nil)
	}
	return s
}

// Request asks host for a session of the given mode and runs fn inside it.
// site names the logical call site for the sync latch.
//
// For synchronous requests fn has run when Request returns. For asynchronous
// requests a nil error only means the host accepted the request.
func (s *Scheduler) Request(ctx context.Context, host Host, mode Mode, site string, fn Mutator) error {
	if err := ctx.Err(); err != nil {
		return &SchedulingError{Kind: Rejected, Site: site, Mode: mode, Err: err}
	}

	if mode.Timing == Sync && s.IsLatched(site) {
		s.metrics.SessionsLatched.Inc()
		mode.Timing = Async
	}

	err := s.issue(host, mode, site, fn)
	if err == nil {
		return nil
	}

	var rejected *SchedulingError
	if mode.Timing == Sync && errors.As(err, &rejected) &&
		rejected.Kind == Rejected && rejected.Code == CodeSyncLockDenied {
		s.latch(site)
		s.logger.Debug("sync session denied, retrying async",
			"site", site,
			"access", mode.Access.String(),
		)
		mode.Timing = Async
		s.metrics.SessionsLatched.Inc()
		return s.issue(host, mode, site, fn)
	}
	return err
}

// IsLatched reports whether site has been downgraded to async.
func (s *Scheduler) IsLatched(site string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latched[site]
}

// LatchedSites returns the number of downgraded call sites.
func (s *Scheduler) LatchedSites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.latched)
}

func (s *Scheduler) latch(site string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.latched[site] {
		s.latched[site] = true
		s.metrics.LatchedSites.Inc()
	}
}

// issue sends a single request to the host and classifies its outcome.
func (s *Scheduler) issue(host Host, mode Mode, site string, fn Mutator) error {
	s.metrics.SessionsRequested.Inc()

	// Set once RequestSession has returned. A mutator running after that
	// is asynchronous whatever timing was asked for.
	var returned bool

	wrapped := func(surface textsurface.Surface) error {
		timer := s.metrics.SessionDuration.Timer()
		err := fn(surface)
		timer.Stop()
		if err == nil {
			return nil
		}
		if returned {
			s.metrics.AsyncFailures.Inc()
			s.logger.Warn("async session mutator failed", "site", site, "error", err)
			if s.onAsync != nil {
				s.onAsync(site, err)
			}
		}
		return &mutatorError{err: err}
	}

	err := host.RequestSession(mode, wrapped)
	returned = true
	if err == nil {
		return nil
	}

	var me *mutatorError
	if errors.As(err, &me) {
		s.metrics.MutatorFailures.Inc()
		return &SchedulingError{Kind: MutatorFailed, Site: site, Mode: mode, Err: me.err}
	}

	s.metrics.SessionsRejected.Inc()
	var he *HostError
	if errors.As(err, &he) {
		return &SchedulingError{Kind: Rejected, Site: site, Mode: mode, Code: he.Code}
	}
	return &SchedulingError{Kind: Rejected, Site: site, Mode: mode, Code: CodeUnknown, Err: err}
}
