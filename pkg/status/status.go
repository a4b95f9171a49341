// Package status defines the error taxonomy shared by tracks, filter chains and
// bindings, and maps it onto the integer status codes used by the application
// facing API (0 on success, negative on failure).
package status

import (
	"errors"
)

var (
	// ErrInvalidState means the operation is not legal in the current state,
	// e.g. attaching a track that is already attached.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotFound means the referenced filter, observer or id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID means an (id, position) pair is already registered.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrStaleReference means a weakly referenced external endpoint is gone.
	ErrStaleReference = errors.New("stale reference")
	// ErrNotSupported means the operation is not implemented by this build
	// or by the concrete object it was called on.
	ErrNotSupported = errors.New("not supported")
	// ErrPropertyRejected means a filter was found but refused the key/value.
	ErrPropertyRejected = errors.New("property rejected")
	// ErrInvalidArgument means an argument failed validation.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Integer status codes. They follow the convention of the surrounding engine:
// success is zero and every failure is negative.
const (
	OK               = 0
	CodeFailed       = -1
	CodeInvalidArg   = -2
	CodeNotSupported = -4
	CodeNotFound     = -6
	CodeInvalidState = -8
	CodeDuplicateID  = -17
	CodeStaleRef     = -18
	CodeRejected     = -19
)

var codes = []struct {
	err  error
	code int
}{
	{ErrInvalidState, CodeInvalidState},
	{ErrNotFound, CodeNotFound},
	{ErrDuplicateID, CodeDuplicateID},
	{ErrStaleReference, CodeStaleRef},
	{ErrNotSupported, CodeNotSupported},
	{ErrPropertyRejected, CodeRejected},
	{ErrInvalidArgument, CodeInvalidArg},
}

// Code converts err into an integer status code. Wrapped errors are unwrapped,
// so fmt.Errorf("attach: %w", ErrInvalidState) still yields CodeInvalidState.
// Unknown errors map to CodeFailed.
func Code(err error) int {
	if err == nil {
		return OK
	}

	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	return CodeFailed
}

// Bool converts err into the boolean convention some engine calls use.
func Bool(err error) bool {
	return err == nil
}
