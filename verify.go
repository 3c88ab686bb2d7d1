package streamlite

import (
	"go.uber.org/zap"

	"github.com/jordanwade90/streamlite/internal/checksum"
	"github.com/jordanwade90/streamlite/internal/pagebuf"
)

// Report describes the leaf pages of a file as seen by Verify.
type Report struct {
	PageSize int
	Final    bool
	Leaves   int // leaf pages examined, including empty ones
	Empty    int
	Failures []Failure
}

// OK reports whether every checksum matched.
func (r *Report) OK() bool { return len(r.Failures) == 0 }

// Failure is a page whose checksum did not match.
type Failure struct {
	Page  uint32
	Check string // "header", "record" or "page"
	Err   error
}

// Verify checks the checksums of every leaf page of file.
// Page 1 is checked as well while the file is in progress;
// SQLite does not maintain its checksum once the file is finalized.
//
// Checksum mismatches are collected in the Report; the error is only set if
// the file could not be read or is not one this package wrote.
func Verify(file Storage, opts ...Option) (*Report, error) {
	h, err := readHeader(file)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	p := newPager(file, o.log, h.PageSize(), h.Reserved())
	r := &Report{PageSize: p.pageSize, Final: h.Final()}

	if err := p.readPage(1); err != nil {
		return nil, err
	}
	if !r.Final {
		if err := checksum.Apply(p.buf, checksum.CheckPage); err != nil {
			r.Failures = append(r.Failures, Failure{Page: 1, Check: checksum.CheckPage.String(), Err: err})
		}
	}

	for n := pagebuf.PageNumber(2); ; n = p.next(n) {
		kind, err := p.pageKind(n)
		if err != nil {
			return nil, err
		}
		if kind != pagebuf.Leaf && kind != pagebuf.Empty {
			break
		}
		r.Leaves++
		if kind == pagebuf.Empty {
			r.Empty++
			continue
		}
		if err := p.readPage(n); err != nil {
			return nil, err
		}
		for _, m := range []checksum.Mode{checksum.CheckHeader, checksum.CheckRecord, checksum.CheckPage} {
			if err := checksum.Apply(p.buf, m); err != nil {
				r.Failures = append(r.Failures, Failure{Page: uint32(n), Check: m.String(), Err: err})
				o.log.Warn("checksum mismatch", zap.Uint32("page", uint32(n)), zap.Stringer("check", m), zap.Error(err))
				break
			}
		}
	}
	return r, nil
}
