package pagebuf

import (
	"bytes"
	"encoding/binary"

	"github.com/jordanwade90/streamlite/internal/errkind"
)

const (
	DatabaseHeaderSize = 100

	// SignatureInProgress marks a file that is still being appended to.
	// SQLite refuses to open it until Finalize swaps in SignatureFinal.
	SignatureInProgress = "SQLite3 uLogger\000"
	SignatureFinal      = "SQLite format 3\000"

	// AppIDMarker is the top byte of the application ID of every file we write.
	AppIDMarker = 0xA5

	// Page1Checksum is where page 1 keeps its whole-page checksum.
	// It is the second byte of the application ID.
	Page1Checksum = 69

	MinPageSize = 512
	MaxPageSize = 65536
)

const (
	offPageSize  = 16
	offReserved  = 20
	offPageCount = 28
	offLastLeaf  = 60
	offAppID     = 68
)

// ValidPageSize reports whether n is a power of two between 512 and 65536.
func ValidPageSize(n int) bool {
	return n >= MinPageSize && n <= MaxPageSize && n&(n-1) == 0
}

// Header is a view of the 100-byte database header at the front of page 1.
type Header []byte

// InitHeader formats the database header of an in-progress file
// at the front of page, which must be zeroed.
func InitHeader(page []byte, pageSize, reserved int) Header {
	h := Header(page[:DatabaseHeaderSize])
	copy(h, SignatureInProgress)
	if pageSize == 65536 {
		binary.BigEndian.PutUint16(h[offPageSize:], 1)
	} else {
		binary.BigEndian.PutUint16(h[offPageSize:], uint16(pageSize))
	}
	h[18] = 1
	h[19] = 1
	h[offReserved] = byte(reserved)
	h[21] = 64
	h[22] = 32
	h[23] = 32
	binary.BigEndian.PutUint32(h[offPageCount:], 2)
	binary.BigEndian.PutUint32(h[44:], 4)
	binary.BigEndian.PutUint32(h[56:], 1)
	binary.BigEndian.PutUint32(h[offAppID:], AppIDMarker<<24)
	binary.BigEndian.PutUint32(h[92:], 105)
	binary.BigEndian.PutUint32(h[96:], 3016000)
	return h
}

// Check validates the signature, the application ID marker and the page geometry.
func (h Header) Check() error {
	if len(h) < DatabaseHeaderSize {
		return errkind.ErrInvalidSignature
	}
	if !h.InProgress() && !h.Final() || h[offAppID] != AppIDMarker {
		return errkind.ErrInvalidSignature
	}
	if !ValidPageSize(h.PageSize()) || h.Usable() < MinPageSize-32 {
		return errkind.ErrInvalidPageSize
	}
	return nil
}

func (h Header) InProgress() bool { return bytes.Equal(h[:16], []byte(SignatureInProgress)) }

func (h Header) Final() bool { return bytes.Equal(h[:16], []byte(SignatureFinal)) }

func (h Header) SetInProgress() { copy(h, SignatureInProgress) }

func (h Header) SetFinal() { copy(h, SignatureFinal) }

func (h Header) PageSize() int {
	n := int(binary.BigEndian.Uint16(h[offPageSize:]))
	if n == 1 {
		return 65536
	}
	return n
}

func (h Header) Reserved() int { return int(h[offReserved]) }

// Usable returns the page size less the reserved bytes.
func (h Header) Usable() int { return h.PageSize() - h.Reserved() }

func (h Header) PageCount() uint32 { return binary.BigEndian.Uint32(h[offPageCount:]) }

func (h Header) SetPageCount(n uint32) { binary.BigEndian.PutUint32(h[offPageCount:], n) }

// LastLeaf returns the last leaf page recorded by a partial finalize, or 0.
func (h Header) LastLeaf() PageNumber {
	return PageNumber(binary.BigEndian.Uint32(h[offLastLeaf:]))
}

func (h Header) SetLastLeaf(n PageNumber) {
	binary.BigEndian.PutUint32(h[offLastLeaf:], uint32(n))
}
