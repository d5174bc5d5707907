package quotebot

import "github.com/containerd/errdefs"

// Error is a failure whose message is safe to show to the user. Its class
// is one of the errdefs sentinels.
type Error struct {
	Message string
	Class   error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Class }

func invalid(msg string) error {
	return &Error{Message: msg, Class: errdefs.ErrInvalidArgument}
}

func conflict(msg string) error {
	return &Error{Message: msg, Class: errdefs.ErrFailedPrecondition}
}
