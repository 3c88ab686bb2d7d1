package streamlite

import (
	"encoding/binary"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/jordanwade90/streamlite/internal/checksum"
	"github.com/jordanwade90/streamlite/internal/pagebuf"
	"github.com/jordanwade90/streamlite/internal/svarint"
)

// Storage is the file a database is written to. *os.File satisfies it.
//
// If the Storage also has a Truncate(size int64) error method,
// Finalize uses it to drop pages past the end of the finished database.
type Storage interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
}

type truncater interface {
	Truncate(size int64) error
}

// errEmptyLeaf is returned by lastRowID for leaves without rows.
var errEmptyLeaf = errors.New("streamlite: empty leaf")

// pager moves pages between the one page buffer and the file.
type pager struct {
	file     Storage
	log      *zap.Logger
	buf      []byte
	pageSize int
	usable   int
}

func newPager(file Storage, log *zap.Logger, pageSize, reserved int) *pager {
	return &pager{
		file:     file,
		log:      log,
		buf:      make([]byte, pageSize),
		pageSize: pageSize,
		usable:   pageSize - reserved,
	}
}

// view returns the B-tree page in the buffer, assuming it holds page n.
func (p *pager) view(n pagebuf.PageNumber) pagebuf.Page {
	if n == 1 {
		return pagebuf.View(p.buf, pagebuf.DatabaseHeaderSize, p.usable)
	}
	return pagebuf.View(p.buf, 0, p.usable)
}

// next returns the page after n. SQLite never uses the page holding the
// lock bytes at 1 GiB, so it is skipped.
func (p *pager) next(n pagebuf.PageNumber) pagebuf.PageNumber {
	n++
	if isLockBytePage(n, p.pageSize) {
		n++
	}
	return n
}

func isLockBytePage(n pagebuf.PageNumber, pageSize int) bool {
	return n.Offset(pageSize) == 1073741824
}

// writePage stamps the checksums of the buffer and writes it as page n.
func (p *pager) writePage(n pagebuf.PageNumber) error {
	if n == 0 {
		return ErrSeek
	}
	if err := checksum.Apply(p.buf, checksum.Stamp); err != nil {
		return err
	}
	if _, err := p.file.WriteAt(p.buf, n.Offset(p.pageSize)); err != nil {
		return &IOError{Kind: ErrWrite, Page: uint32(n), Err: err}
	}
	p.log.Debug("wrote page", zap.Uint32("page", uint32(n)), zap.Stringer("kind", p.view(n).Kind()))
	return nil
}

// readPage reads page n into the buffer.
func (p *pager) readPage(n pagebuf.PageNumber) error {
	return p.readAt(p.buf, n, n.Offset(p.pageSize))
}

// readAt fills b from off, which lies in page n.
// A short read wraps io.EOF if the file ends early.
func (p *pager) readAt(b []byte, n pagebuf.PageNumber, off int64) error {
	if n == 0 || off < 0 {
		return ErrSeek
	}
	got, err := p.file.ReadAt(b, off)
	if got == len(b) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return &IOError{Kind: ErrRead, Page: uint32(n), Err: err}
}

func (p *pager) sync(n pagebuf.PageNumber) error {
	if err := p.file.Sync(); err != nil {
		return &IOError{Kind: ErrFlush, Page: uint32(n), Err: err}
	}
	return nil
}

// pageKind reads the type byte of page n without disturbing the buffer.
// Pages past the end of the file are reported as Invalid with a nil error.
func (p *pager) pageKind(n pagebuf.PageNumber) (pagebuf.Kind, error) {
	var hdr [pagebuf.TableLeafHeaderSize]byte
	if err := p.readAt(hdr[:], n, n.Offset(p.pageSize)); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return pagebuf.Invalid, nil
		}
		return pagebuf.Invalid, err
	}
	return pagebuf.View(hdr[:], 0, p.usable).Kind(), nil
}

// probe returns the last leaf of the run of leaf pages that starts at from,
// or from-1 if page from is not a leaf.
func (p *pager) probe(from pagebuf.PageNumber) (pagebuf.PageNumber, error) {
	last := from - 1
	for n := from; ; n = p.next(n) {
		kind, err := p.pageKind(n)
		if err != nil {
			return 0, err
		}
		if kind != pagebuf.Leaf && kind != pagebuf.Empty {
			return last, nil
		}
		last = n
	}
}

// lastRowID returns the largest rowid stored under page n using two small reads.
// Leaves are only trusted if their header checksum matches; interior pages
// are read back from the rowid stashed after their pointer array.
func (p *pager) lastRowID(n pagebuf.PageNumber) (uint32, error) {
	var hdr [pagebuf.TableInteriorHeaderSize]byte
	base := n.Offset(p.pageSize)
	if err := p.readAt(hdr[:], n, base); err != nil {
		return 0, err
	}
	count := int(binary.BigEndian.Uint16(hdr[3:]))

	switch hdr[0] {
	case pagebuf.TypeTableLeaf:
		if count == 0 {
			return 0, errEmptyLeaf
		}
		start := pagebuf.ContentStart(hdr[:])
		if start-pagebuf.ChecksumLen < pagebuf.TableLeafHeaderSize+2*count || start >= p.usable {
			return 0, ErrMalformed
		}
		var tail [12]byte
		m := min(len(tail), p.pageSize-start+1)
		if err := p.readAt(tail[:m], n, base+int64(start-1)); err != nil {
			return 0, err
		}
		return checksum.LastRowID(hdr[:pagebuf.TableLeafHeaderSize], tail[:m])

	case pagebuf.TypeTableInterior:
		at := pagebuf.TableInteriorHeaderSize + 2*count
		if at >= p.usable {
			return 0, ErrMalformed
		}
		var stash [svarint.MaxLen]byte
		m := min(len(stash), p.pageSize-at)
		if err := p.readAt(stash[:m], n, base+int64(at)); err != nil {
			return 0, err
		}
		x, k := svarint.Read(stash[:m])
		if k == 0 {
			return 0, ErrMalformed
		}
		return uint32(x), nil
	}
	return 0, ErrMalformed
}

// readHeader reads and validates the database header.
func readHeader(file Storage) (pagebuf.Header, error) {
	h := make(pagebuf.Header, pagebuf.DatabaseHeaderSize)
	if got, err := file.ReadAt(h, 0); got != len(h) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, &IOError{Kind: ErrRead, Page: 1, Err: err}
	}
	if err := h.Check(); err != nil {
		return nil, err
	}
	return h, nil
}
