package composition

import (
	"errors"
	"fmt"
)

// Kind classifies a MergeError.
type Kind int

const (
	// SurfaceOpFailed means a host text primitive failed. Steps already
	// applied stay applied.
	SurfaceOpFailed Kind = iota + 1
	// InsufficientText means fewer codepoints precede the caret than
	// requested.
	InsufficientText
)

func (k Kind) String() string {
	switch k {
	case SurfaceOpFailed:
		return "surface operation failed"
	case InsufficientText:
		return "insufficient text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is.
var (
	ErrSurfaceOpFailed  = errors.New("surface operation failed")
	ErrInsufficientText = errors.New("insufficient text")
)

// MergeError reports a failed text update.
type MergeError struct {
	Kind Kind
	// Op names the step that failed.
	Op  string
	Err error
}

func (e *MergeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

func (e *MergeError) Is(target error) bool {
	switch target {
	case ErrSurfaceOpFailed:
		return e.Kind == SurfaceOpFailed
	case ErrInsufficientText:
		return e.Kind == InsufficientText
	}
	return false
}

func surfaceError(op string, err error) error {
	return &MergeError{Kind: SurfaceOpFailed, Op: op, Err: err}
}
