package streamlite

import (
	"fmt"

	"github.com/jordanwade90/streamlite/internal/errkind"
)

// Errors reported by the package. Match them with errors.Is.
var (
	ErrInvalidPageSize  = errkind.ErrInvalidPageSize
	ErrTooLong          = errkind.ErrTooLong
	ErrWrite            = errkind.ErrWrite
	ErrFlush            = errkind.ErrFlush
	ErrSeek             = errkind.ErrSeek
	ErrRead             = errkind.ErrRead
	ErrInvalidSignature = errkind.ErrInvalidSignature
	ErrMalformed        = errkind.ErrMalformed
	ErrNotFound         = errkind.ErrNotFound
	ErrNotFinalized     = errkind.ErrNotFinalized
	ErrTypeMismatch     = errkind.ErrTypeMismatch
	ErrChecksum         = errkind.ErrChecksum
)

// IOError reports a failed storage operation.
// It matches both its Kind (ErrRead, ErrWrite or ErrFlush) and the storage error.
type IOError struct {
	Kind error
	Page uint32
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%v: page %d: %v", e.Kind, e.Page, e.Err)
}

func (e *IOError) Unwrap() []error { return []error{e.Kind, e.Err} }
