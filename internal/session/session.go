// Package session schedules mutations of a host text surface.
//
// The host owns the text buffer and hands out sessions: short, exclusive
// grants during which a mutator may read (and, for read-write sessions,
// write) the surface. A synchronous request runs the mutator before Request
// returns; it is only legal from host entry points documented as re-entrant,
// such as key handlers. Asynchronous requests return as soon as the host
// accepted them and the mutator runs on a later host turn.
//
// Some hosts structurally refuse synchronous sessions. When a synchronous
// request is refused with CodeSyncLockDenied the scheduler re-issues it
// asynchronously and latches the call site: every later synchronous request
// from the same site goes straight to asynchronous mode for the lifetime of
// the Scheduler. The latch is one-way.
package session

import (
	"errors"
	"fmt"

	"imesync/internal/textsurface"
)

// Access is the kind of lock a session holds.
type Access int

const (
	ReadOnly Access = iota
	ReadWrite
)

func (a Access) String() string {
	if a == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// Timing controls when the mutator runs relative to Request.
type Timing int

const (
	// Sync runs the mutator before Request returns.
	Sync Timing = iota
	// Async runs the mutator on a later host turn.
	Async
	// AsyncDontCare lets the host pick; it runs synchronously when it can.
	AsyncDontCare
)

func (t Timing) String() string {
	switch t {
	case Sync:
		return "sync"
	case Async:
		return "async"
	case AsyncDontCare:
		return "async_dont_care"
	default:
		return "unknown"
	}
}

// Mode is the full description of a session request.
type Mode struct {
	Access Access
	Timing Timing
}

// Common modes.
var (
	SyncReadWrite  = Mode{Access: ReadWrite, Timing: Sync}
	SyncRead       = Mode{Access: ReadOnly, Timing: Sync}
	AsyncReadWrite = Mode{Access: ReadWrite, Timing: Async}
	AsyncRead      = Mode{Access: ReadOnly, Timing: Async}
)

func (m Mode) String() string {
	return m.Access.String() + "/" + m.Timing.String()
}

// Mutator is the work done inside a granted session.
type Mutator func(s textsurface.Surface) error

// Host grants sessions. RequestSession must either refuse with a *HostError,
// run fn synchronously and return its error, or accept fn for later
// execution and return nil.
type Host interface {
	RequestSession(mode Mode, fn func(textsurface.Surface) error) error
}

// Code is a host refusal reason.
type Code int

const (
	CodeUnknown Code = iota
	// CodeSyncLockDenied means the host cannot grant a synchronous lock
	// from the current call site.
	CodeSyncLockDenied
	// CodeLocked means another session currently holds the lock.
	CodeLocked
	// CodeContextGone means the context was torn down.
	CodeContextGone
	// CodeReadOnly means the host refuses write access.
	CodeReadOnly
)

func (c Code) String() string {
	switch c {
	case CodeSyncLockDenied:
		return "sync_lock_denied"
	case CodeLocked:
		return "locked"
	case CodeContextGone:
		return "context_gone"
	case CodeReadOnly:
		return "read_only"
	default:
		return "unknown"
	}
}

// HostError is returned by a Host that refuses a session.
type HostError struct {
	Code Code
}

func (e *HostError) Error() string {
	return "host refused session: " + e.Code.String()
}

// Kind classifies a SchedulingError.
type Kind int

const (
	// Rejected means the host refused the session.
	Rejected Kind = iota + 1
	// MutatorFailed means the session ran and the mutator returned an error.
	MutatorFailed
)

// Sentinels for errors.Is.
var (
	ErrRejected      = errors.New("session rejected")
	ErrMutatorFailed = errors.New("session mutator failed")
)

// SchedulingError describes a failed Request.
type SchedulingError struct {
	Kind Kind
	Site string
	Mode Mode
	// Code is the host refusal code for Rejected errors.
	Code Code
	Err  error
}

func (e *SchedulingError) Error() string {
	switch e.Kind {
	case Rejected:
		if e.Err != nil {
			return fmt.Sprintf("session %s (%s) rejected: %v", e.Site, e.Mode, e.Err)
		}
		return fmt.Sprintf("session %s (%s) rejected: %s", e.Site, e.Mode, e.Code)
	case MutatorFailed:
		return fmt.Sprintf("session %s (%s) failed: %v", e.Site, e.Mode, e.Err)
	default:
		return fmt.Sprintf("session %s: %v", e.Site, e.Err)
	}
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// Is matches the package sentinels.
func (e *SchedulingError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return e.Kind == Rejected
	case ErrMutatorFailed:
		return e.Kind == MutatorFailed
	}
	return false
}

// mutatorError marks errors that came out of the mutator, so they can be told
// apart from host refusals after travelling through the host.
type mutatorError struct {
	err error
}

func (e *mutatorError) Error() string { return e.err.Error() }
func (e *mutatorError) Unwrap() error { return e.err }
