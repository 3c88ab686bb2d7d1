package pagebuf

import (
	"encoding/binary"

	"github.com/jordanwade90/streamlite/internal/errkind"
	"github.com/jordanwade90/streamlite/internal/svarint"
)

const (
	TableLeafHeaderSize     = 8
	TableInteriorHeaderSize = 12

	TypeTableInterior = 5
	TypeTableLeaf     = 13

	// ChecksumLen bytes are kept free directly below the cell content area
	// of leaf pages to hold the page checksums.
	ChecksumLen = 3
)

// PageNumber annotates uint32s that are actually page numbers.
type PageNumber uint32

// Offset returns the file offset of the page.
func (n PageNumber) Offset(pageSize int) int64 {
	return int64(n-1) * int64(pageSize)
}

// Kind tells apart the pages the writer produces.
type Kind int

const (
	Invalid Kind = iota
	// Empty is a leaf page without cells.
	Empty
	Leaf
	Interior
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Leaf:
		return "leaf"
	case Interior:
		return "interior"
	}
	return "invalid"
}

// Page is a view of a table B-tree page held in a page-sized buffer.
// On page 1 the B-tree header follows the 100-byte database header.
type Page struct {
	buf    []byte
	hdr    int
	usable int
}

// View returns a Page over buf whose B-tree header starts at hdr.
// usable is the page size less the reserved bytes.
func View(buf []byte, hdr, usable int) Page {
	return Page{buf: buf, hdr: hdr, usable: usable}
}

func (p Page) Bytes() []byte { return p.buf }

func (p Page) Usable() int { return p.usable }

func (p Page) Kind() Kind {
	switch p.buf[p.hdr] {
	case TypeTableLeaf:
		if p.NumCells() == 0 {
			return Empty
		}
		return Leaf
	case TypeTableInterior:
		return Interior
	}
	return Invalid
}

func (p Page) headerSize() int {
	if p.buf[p.hdr] == TypeTableInterior {
		return TableInteriorHeaderSize
	}
	return TableLeafHeaderSize
}

func (p Page) NumCells() int {
	return int(binary.BigEndian.Uint16(p.buf[p.hdr+3:]))
}

func (p Page) setNumCells(n int) {
	binary.BigEndian.PutUint16(p.buf[p.hdr+3:], uint16(n))
}

// ContentStart returns the offset of the cell content area.
func (p Page) ContentStart() int {
	return ContentStart(p.buf[p.hdr:])
}

// ContentStart decodes the cell content offset of a B-tree page header.
func ContentStart(hdr []byte) int {
	if off := int(binary.BigEndian.Uint16(hdr[5:])); off != 0 {
		return off
	}
	return 65536
}

func (p Page) setContentStart(off int) {
	// 65536 wraps to 0, which is how SQLite spells it.
	binary.BigEndian.PutUint16(p.buf[p.hdr+5:], uint16(off))
}

// PointerEnd returns the end of the cell pointer array for n cells.
func (p Page) PointerEnd(n int) int {
	return p.hdr + p.headerSize() + 2*n
}

// Cell returns the offset of cell i.
func (p Page) Cell(i int) int {
	return int(binary.BigEndian.Uint16(p.buf[p.PointerEnd(i):]))
}

func (p Page) setCell(i, off int) {
	binary.BigEndian.PutUint16(p.buf[p.PointerEnd(i):], uint16(off))
}

func (p Page) init(typ byte) {
	p.buf[p.hdr] = typ
	p.buf[p.hdr+1] = 0
	p.buf[p.hdr+2] = 0
	p.setNumCells(0)
	p.setContentStart(p.usable)
	p.buf[p.hdr+7] = 0
	if typ == TypeTableInterior {
		binary.BigEndian.PutUint32(p.buf[p.hdr+8:], 0)
	}
}

// InitLeaf makes the page an empty table leaf. Only the header is touched.
func (p Page) InitLeaf() { p.init(TypeTableLeaf) }

// InitInterior makes the page an interior table page with no children.
func (p Page) InitInterior() { p.init(TypeTableInterior) }

// Check validates the page geometry: the pointer array and the checksum
// bytes must sit below the cell content area, which must end inside the usable area.
func (p Page) Check() error {
	if p.Kind() == Invalid {
		return errkind.ErrMalformed
	}
	n := p.NumCells()
	top := p.ContentStart()
	if top > p.usable || top < p.PointerEnd(n) {
		return errkind.ErrMalformed
	}
	if n > 0 && p.buf[p.hdr] == TypeTableLeaf && top < p.PointerEnd(n)+ChecksumLen {
		return errkind.ErrMalformed
	}
	return nil
}

// Reserve returns the offset for a new cell of n bytes below the content area.
// ok is false if the cell, its pointer and the checksum bytes do not fit.
func (p Page) Reserve(n int) (off int, ok bool, err error) {
	if err = p.Check(); err != nil {
		return 0, false, err
	}
	off = p.ContentStart() - n
	if off-ChecksumLen < p.PointerEnd(p.NumCells()+1) {
		return 0, false, nil
	}
	return off, true, nil
}

// Append registers the cell written at off as the last cell of the page.
func (p Page) Append(off int) {
	n := p.NumCells()
	p.setCell(n, off)
	p.setNumCells(n + 1)
	p.setContentStart(off)
}

// LastCell returns the offset of the most recently appended cell.
// Cells are appended downward, so it is also the start of the content area.
func (p Page) LastCell() int {
	return p.Cell(p.NumCells() - 1)
}

// CanGrowLast reports whether the last cell may grow by delta bytes.
func (p Page) CanGrowLast(delta int) bool {
	return p.ContentStart()-delta-ChecksumLen >= p.PointerEnd(p.NumCells())
}

// MoveLast records that the last cell now starts at off.
func (p Page) MoveLast(off int) {
	p.setCell(p.NumCells()-1, off)
	p.setContentStart(off)
}

// DropLast removes the last cell from the header; its bytes stay where they are.
func (p Page) DropLast() {
	n := p.NumCells() - 1
	if n == 0 {
		p.setContentStart(p.usable)
	} else {
		p.setContentStart(p.Cell(n - 1))
	}
	p.setNumCells(n)
}

// RightChild returns the right-most child of an interior page.
func (p Page) RightChild() PageNumber {
	return PageNumber(binary.BigEndian.Uint32(p.buf[p.hdr+8:]))
}

// StashedRowid returns the largest rowid under the right-most child,
// kept in the free space after the pointer array.
func (p Page) StashedRowid() uint32 {
	x, _ := svarint.Read(p.buf[p.PointerEnd(p.NumCells()):])
	return uint32(x)
}

// SetRight makes child the right-most child of an interior page.
// rowid, the largest rowid under it, is stashed after the pointer array so
// the next level up can learn it without reading the whole page.
func (p Page) SetRight(child PageNumber, rowid uint32) {
	binary.BigEndian.PutUint32(p.buf[p.hdr+8:], uint32(child))
	svarint.Put(p.buf[p.PointerEnd(p.NumCells()):], rowid)
}

// AddChild adds a child whose largest rowid is rowid to an interior page.
// If there is no room for another cell the child becomes the right-most
// pointer instead, the page is complete and AddChild returns true.
func (p Page) AddChild(child PageNumber, rowid uint32) (full bool) {
	n := p.NumCells()
	off := p.ContentStart() - 4 - svarint.Length(rowid)
	if off < p.PointerEnd(n+1)+svarint.MaxLen {
		p.SetRight(child, rowid)
		return true
	}
	binary.BigEndian.PutUint32(p.buf[off:], uint32(child))
	svarint.Put(p.buf[off+4:], rowid)
	p.Append(off)
	return false
}

// Seal turns the last cell of an interior page into its right-most pointer.
func (p Page) Seal() {
	off := p.LastCell()
	child := PageNumber(binary.BigEndian.Uint32(p.buf[off:]))
	rowid, _ := svarint.Read(p.buf[off+4:])
	p.DropLast()
	p.SetRight(child, uint32(rowid))
}

// MaxLocal returns the largest record a table leaf keeps without overflow pages.
// See the payload overflow calculation at https://sqlite.org/fileformat2.html
func MaxLocal(usable int) int {
	return usable - 35
}
