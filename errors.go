package vulcanodb

import (
	"errors"

	"github.com/vulcanodb/vulcanodb/internal/verrors"
)

// Sentinel errors a caller can test for with errors.Is. NotFound is
// deliberately not returned by Get/GetAsync — an absent document is
// reported via a bool, matching the public API's "optional" return.
var (
	ErrClosed     = verrors.ErrClosed
	ErrCorrupt    = verrors.ErrCorrupt
	ErrValidation = verrors.ErrValidation
	ErrTimeout    = verrors.ErrTimeout
	ErrDimension  = verrors.ErrDimension
)

// Is reports whether err matches target, unwrapping through any engine
// error wrapper.
func Is(err, target error) bool { return errors.Is(err, target) }

// FieldError reports one field's write failure inside a failed Add.
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string { return e.Field + ": " + e.Err.Error() }
func (e FieldError) Unwrap() error { return e.Err }

// WriteError aggregates every failed field of an Add call that did not
// fully commit: a per-field failure withholds the whole write rather
// than partially applying it.
type WriteError struct {
	Fields []FieldError
}

func (e *WriteError) Error() string {
	if len(e.Fields) == 0 {
		return "vulcanodb: write failed"
	}
	msg := "vulcanodb: write failed: "
	for i, f := range e.Fields {
		if i > 0 {
			msg += "; "
		}
		msg += f.Error()
	}
	return msg
}
