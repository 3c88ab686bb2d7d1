// Package errkind holds the flat set of error kinds every layer of the writer reports.
// The root package re-exports them; callers match with errors.Is.
package errkind

import "errors"

var (
	ErrInvalidPageSize  = errors.New("streamlite: invalid page size")
	ErrTooLong          = errors.New("streamlite: value too long for page")
	ErrWrite            = errors.New("streamlite: write failed")
	ErrFlush            = errors.New("streamlite: flush failed")
	ErrSeek             = errors.New("streamlite: offset out of range")
	ErrRead             = errors.New("streamlite: read failed")
	ErrInvalidSignature = errors.New("streamlite: invalid signature")
	ErrMalformed        = errors.New("streamlite: malformed page")
	ErrNotFound         = errors.New("streamlite: column not found")
	ErrNotFinalized     = errors.New("streamlite: not finalized")
	ErrTypeMismatch     = errors.New("streamlite: type mismatch")
	ErrChecksum         = errors.New("streamlite: checksum mismatch")
)
