package record

import (
	"encoding/binary"
	"math"

	"github.com/jordanwade90/streamlite/internal/errkind"
	"github.com/jordanwade90/streamlite/internal/svarint"
)

// A leaf cell is
//
//	record length (3 bytes) | row id | header length (2 bytes) | serial types | payloads
//
// The two lengths are forced-width varints so the last row can be edited
// without moving the row id.
const (
	RecordLenWidth = 3
	HeaderLenWidth = 2
)

// Sizes returns the header length and record length of a row.
// Both include the header length field itself but not the cell prefix.
func Sizes(values []Value) (hdrLen, recLen int) {
	hdrLen = HeaderLenWidth
	for _, v := range values {
		s := v.SerialType()
		hdrLen += svarint.Length(s)
		recLen += DataLen(s)
	}
	return hdrLen, hdrLen + recLen
}

// PrefixLen returns the bytes taken by the record length and row id.
func PrefixLen(rowid uint32) int {
	return RecordLenWidth + svarint.Length(rowid)
}

// CellLen returns the size of the cell PutCell writes.
func CellLen(rowid uint32, values []Value) int {
	_, recLen := Sizes(values)
	return PrefixLen(rowid) + recLen
}

// EmptyCellLen returns the size of the cell PutEmptyCell writes.
func EmptyCellLen(rowid uint32, columns int) int {
	return PrefixLen(rowid) + HeaderLenWidth + columns
}

// CheckSizes reports errkind.ErrTooLong if a record cannot be described by
// the forced-width length fields or stored without overflow pages.
func CheckSizes(hdrLen, recLen, maxLocal int) error {
	if recLen > maxLocal || !svarint.Fits(hdrLen, HeaderLenWidth) || !svarint.Fits(recLen, RecordLenWidth) {
		return errkind.ErrTooLong
	}
	return nil
}

// PutPrefix writes the record length, row id and header length at the front of
// cell and returns the offset of the first serial type.
func PutPrefix(cell []byte, recLen int, rowid uint32, hdrLen int) int {
	svarint.PutForced(cell, recLen, RecordLenWidth)
	n := RecordLenWidth + svarint.Put(cell[RecordLenWidth:], rowid)
	svarint.PutForced(cell[n:], hdrLen, HeaderLenWidth)
	return n + HeaderLenWidth
}

// PutCell writes a leaf cell for values and returns its length.
func PutCell(cell []byte, rowid uint32, values []Value) int {
	hdrLen, recLen := Sizes(values)
	h := PutPrefix(cell, recLen, rowid, hdrLen)
	d := h - HeaderLenWidth + hdrLen
	for _, v := range values {
		s := v.SerialType()
		h += svarint.Put(cell[h:], s)
		v.put(cell[d:])
		d += DataLen(s)
	}
	return d
}

// PutEmptyCell writes a leaf cell whose columns are all NULL and returns its length.
func PutEmptyCell(cell []byte, rowid uint32, columns int) int {
	hdrLen := HeaderLenWidth + columns
	n := PutPrefix(cell, hdrLen, rowid, hdrLen)
	clear(cell[n : n+columns])
	return n + columns
}

// Location describes one column of a cell. Offsets are relative to the cell start.
type Location struct {
	Prefix    int // record length and row id
	RecordLen int
	HeaderLen int
	RowID     uint32

	Header    int // serial type of the column
	SerialLen int
	Serial    uint32
	Data      int // payload of the column
}

// End returns the offset just past the cell.
func (l Location) End() int { return l.Prefix + l.RecordLen }

// Locate finds column col of the cell at the front of cell by walking the
// record header. limit bounds how far into cell the record may extend.
//
// Locate returns errkind.ErrNotFound if the record has no column col and
// errkind.ErrMalformed if any length runs past the record or limit.
func Locate(cell []byte, col int, limit int) (Location, error) {
	var loc Location
	if limit > len(cell) {
		limit = len(cell)
	}
	if col < 0 {
		return loc, errkind.ErrNotFound
	}
	cell = cell[:limit]

	recLen, n := svarint.Read(cell)
	if n == 0 {
		return loc, errkind.ErrMalformed
	}
	rowid, m := svarint.Read(cell[n:])
	if m == 0 || rowid > math.MaxUint32 {
		return loc, errkind.ErrMalformed
	}
	loc.Prefix = n + m
	if recLen > uint64(limit-loc.Prefix) {
		return loc, errkind.ErrMalformed
	}
	hdrLen, k := svarint.Read(cell[loc.Prefix:])
	if k == 0 || hdrLen < uint64(k) || hdrLen > recLen {
		return loc, errkind.ErrMalformed
	}
	loc.RecordLen, loc.HeaderLen, loc.RowID = int(recLen), int(hdrLen), uint32(rowid)

	hdrEnd := loc.Prefix + loc.HeaderLen
	h, d := loc.Prefix+k, hdrEnd
	for i := 0; ; i++ {
		if h >= hdrEnd {
			return loc, errkind.ErrNotFound
		}
		s, sn := svarint.Read(cell[h:hdrEnd])
		if sn == 0 || s > math.MaxUint32 {
			return loc, errkind.ErrMalformed
		}
		if d+DataLen(uint32(s)) > loc.End() {
			return loc, errkind.ErrMalformed
		}
		if i == col {
			loc.Header, loc.SerialLen, loc.Serial, loc.Data = h, sn, uint32(s), d
			return loc, nil
		}
		h += sn
		d += DataLen(uint32(s))
	}
}

// Columns counts the serial types in the header of the cell at the front of cell.
func Columns(cell []byte, limit int) (int, error) {
	for i := 0; ; i++ {
		if _, err := Locate(cell, i, limit); err == errkind.ErrNotFound {
			return i, nil
		} else if err != nil {
			return 0, err
		}
	}
}

// Decode reads a column payload. Blob and text values reference data.
func Decode(serialType uint32, data []byte) (Value, error) {
	n := DataLen(serialType)
	if len(data) < n || serialType == 10 || serialType == 11 {
		return Value{}, errkind.ErrMalformed
	}
	switch serialType {
	case 0:
		return Null(), nil
	case 1:
		return Int8(int8(data[0])), nil
	case 2:
		return Int16(int16(binary.BigEndian.Uint16(data))), nil
	case 3:
		i := int32(uint32(data[0])<<24|uint32(data[1])<<16|uint32(data[2])<<8) >> 8
		return Value{Type: TypeInteger, Width: 3, Int: int64(i)}, nil
	case 4:
		return Int32(int32(binary.BigEndian.Uint32(data))), nil
	case 5:
		u := uint64(binary.BigEndian.Uint16(data))<<32 | uint64(binary.BigEndian.Uint32(data[2:]))
		return Value{Type: TypeInteger, Width: 6, Int: int64(u<<16) >> 16}, nil
	case 6:
		return Int64(int64(binary.BigEndian.Uint64(data))), nil
	case 7:
		return Float64(math.Float64frombits(binary.BigEndian.Uint64(data))), nil
	case 8:
		return Value{Type: TypeInteger}, nil
	case 9:
		return Value{Type: TypeInteger, Int: 1}, nil
	}
	if serialType%2 == 0 {
		return Blob(data[:n:n]), nil
	}
	return TextBytes(data[:n:n]), nil
}

// Splice resizes the span [at, at+oldLen) of a region that begins at start and
// grows toward lower offsets. Bytes [start, at) shift by oldLen-newLen so that
// everything from at+oldLen onward stays in place; the resized span becomes
// [at+oldLen-newLen, at+oldLen). Splice returns the new start of the region.
func Splice(buf []byte, start, at, oldLen, newLen int) int {
	shift := oldLen - newLen
	copy(buf[start+shift:], buf[start:at])
	return start + shift
}

// Growth returns how many bytes a cell grows when the column at loc is replaced by v.
func Growth(loc Location, v Value) int {
	s := v.SerialType()
	return DataLen(s) - DataLen(loc.Serial) + svarint.Length(s) - loc.SerialLen
}

// Replace overwrites the column at loc of the cell starting at buf[start:] with v.
// The end of the cell stays fixed and its start moves down by Growth(loc, v);
// the caller must have checked that the space is free.
// Replace returns the new start of the cell.
func Replace(buf []byte, start int, loc Location, v Value) int {
	s := v.SerialType()
	oldData, newData := DataLen(loc.Serial), DataLen(s)
	oldSerial, newSerial := loc.SerialLen, svarint.Length(s)
	hdr, data := start+loc.Header, start+loc.Data

	// The block being moved must never pass below its final position.
	if newSerial > oldSerial {
		start = Splice(buf, start, data, oldData, newData)
		hdr += oldData - newData
		start = Splice(buf, start, hdr, oldSerial, newSerial)
	} else {
		start = Splice(buf, start, hdr, oldSerial, newSerial)
		start = Splice(buf, start, data, oldData, newData)
	}
	hdr = start + loc.Header
	data += oldData - newData

	PutPrefix(buf[start:], loc.RecordLen+newData-oldData+newSerial-oldSerial, loc.RowID, loc.HeaderLen+newSerial-oldSerial)
	svarint.Put(buf[hdr:], s)
	v.put(buf[data:])
	return start
}
