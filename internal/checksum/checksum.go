// Package checksum stamps and verifies the 8-bit sums that protect streamed pages.
//
// A leaf page carries three running sums in the three bytes just below its
// cell content area, that is, below the most recently written cell:
//
//	start-1  header: the 8-byte page header and the last cell's record length and row id
//	start-2  record: the above plus the rest of the last cell
//	start-3  page:   the above plus everything after the last cell and the pointer array
//
// Page 1 instead carries one sum of the whole page at byte 69.
// Interior pages are synthesized by Finalize and carry no checksum.
package checksum

import (
	"github.com/jordanwade90/streamlite/internal/errkind"
	"github.com/jordanwade90/streamlite/internal/pagebuf"
	"github.com/jordanwade90/streamlite/internal/svarint"
)

// Mode selects what Apply does.
type Mode int

const (
	Stamp Mode = iota
	CheckHeader
	CheckRecord
	CheckPage
)

func (m Mode) String() string {
	switch m {
	case Stamp:
		return "stamp"
	case CheckHeader:
		return "header"
	case CheckRecord:
		return "record"
	case CheckPage:
		return "page"
	}
	return "unknown"
}

// Apply stamps or verifies the checksums of page, a whole page-sized buffer.
// Checks report errkind.ErrChecksum on a mismatch and errkind.ErrMalformed if the
// page geometry does not allow the checksums to be located. Empty leaves and
// interior pages have no checksums and always pass.
//
// On page 1 every check mode verifies the single whole-page sum.
func Apply(page []byte, mode Mode) error {
	switch page[0] {
	case pagebuf.TypeTableInterior:
		return nil
	case pagebuf.TypeTableLeaf:
		return leaf(page, mode)
	}
	sum := Page1(page)
	if mode == Stamp {
		page[pagebuf.Page1Checksum] = sum
	} else if page[pagebuf.Page1Checksum] != sum {
		return errkind.ErrChecksum
	}
	return nil
}

// Page1 returns the whole-page sum of page 1, which excludes its own byte.
func Page1(page []byte) byte {
	return sum(0, page) - page[pagebuf.Page1Checksum]
}

func leaf(page []byte, mode Mode) error {
	n := int(page[3])<<8 | int(page[4])
	if n == 0 {
		return nil
	}
	start := pagebuf.ContentStart(page)
	if start < pagebuf.TableLeafHeaderSize+2*n+pagebuf.ChecksumLen || start >= len(page) {
		return errkind.ErrMalformed
	}
	recLen, k := svarint.Read(page[start:])
	if k != 3 {
		return errkind.ErrMalformed
	}
	_, m := svarint.Read(page[start+k:])
	if m == 0 {
		return errkind.ErrMalformed
	}
	prefixEnd := start + k + m
	if recLen > uint64(len(page)-prefixEnd) {
		return errkind.ErrMalformed
	}
	recEnd := prefixEnd + int(recLen)

	s := HeaderSum(page[:pagebuf.TableLeafHeaderSize], page[start:prefixEnd])
	if done, err := stampOrCheck(page, start-1, s, mode, CheckHeader); done {
		return err
	}
	s = sum(s, page[prefixEnd:recEnd])
	if done, err := stampOrCheck(page, start-2, s, mode, CheckRecord); done {
		return err
	}
	s = sum(s, page[recEnd:])
	s = sum(s, page[pagebuf.TableLeafHeaderSize:pagebuf.TableLeafHeaderSize+2*n])
	_, err := stampOrCheck(page, start-3, s, mode, CheckPage)
	return err
}

func stampOrCheck(page []byte, at int, s byte, mode, step Mode) (done bool, err error) {
	switch mode {
	case Stamp:
		page[at] = s
		return false, nil
	case step:
		if page[at] != s {
			return true, errkind.ErrChecksum
		}
		return true, nil
	}
	return false, nil
}

// HeaderSum returns the header checksum of a leaf given its 8-byte page header
// and the record length and row id prefix of its last cell.
func HeaderSum(hdr, prefix []byte) byte {
	return sum(sum(0, hdr), prefix)
}

// LastRowID decodes the row id of the last cell of a leaf page without reading
// the whole page. hdr is the 8-byte page header and tail holds the bytes that
// start one byte below the content area: the header checksum, then the cell.
// The row id is only returned if the header checksum matches.
func LastRowID(hdr, tail []byte) (uint32, error) {
	if len(tail) < 1+3+1 {
		return 0, errkind.ErrMalformed
	}
	_, k := svarint.Read(tail[1:])
	if k != 3 {
		return 0, errkind.ErrMalformed
	}
	rowid, m := svarint.Read(tail[1+k:])
	if m == 0 || rowid > 1<<32-1 {
		return 0, errkind.ErrMalformed
	}
	if HeaderSum(hdr, tail[1:1+k+m]) != tail[0] {
		return 0, errkind.ErrChecksum
	}
	return uint32(rowid), nil
}

// Saved holds the bytes a stamp would overwrite below a content area.
type Saved struct {
	at int
	b  [pagebuf.ChecksumLen]byte
}

// Save remembers the checksum bytes below start. Stamping a page whose last
// cell was dropped from the header overwrites the tail of that cell; Restore
// puts it back.
func Save(page []byte, start int) Saved {
	s := Saved{at: start - pagebuf.ChecksumLen}
	copy(s.b[:], page[s.at:start])
	return s
}

func (s Saved) Restore(page []byte) {
	copy(page[s.at:], s.b[:])
}

func sum(s byte, b []byte) byte {
	for _, c := range b {
		s += c
	}
	return s
}
