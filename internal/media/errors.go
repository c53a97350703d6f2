package media

import (
	"errors"
	"fmt"
)

// Media-level errors. All are surfaced to the caller and are non-fatal to
// the room: a denied camera never tears down established connections.
var (
	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceUnavailable = errors.New("media device unavailable")
	ErrUserCancelled     = errors.New("screen picker dismissed")
	ErrReleased          = errors.New("media controller released")
)

// Error wraps a media failure with the operation that caused it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}
