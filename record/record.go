// Package record encodes rows in the SQLite record format
// (https://sqlite.org/fileformat2.html#record_format)
// and edits the most recent one in place.
package record

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// Type is the logical type of a column value.
type Type uint8

const (
	TypeNull Type = iota
	TypeInteger
	TypeReal
	TypeBlob
	TypeText
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeInteger:
		return "integer"
	case TypeReal:
		return "real"
	case TypeBlob:
		return "blob"
	case TypeText:
		return "text"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Value is one column of a row.
//
// Width is the storage width of integers (1, 2, 4 or 8 bytes) and the width the
// caller supplied for reals (4 or 8); reals are always stored as 8-byte doubles.
// Bytes holds blob and text payloads. Values returned by a Writer may reference its
// page buffer and are only valid until the next mutation.
type Value struct {
	Type  Type
	Width int
	Int   int64
	Float float64
	Bytes []byte
}

func Null() Value { return Value{} }

func Int8(i int8) Value   { return Value{Type: TypeInteger, Width: 1, Int: int64(i)} }
func Int16(i int16) Value { return Value{Type: TypeInteger, Width: 2, Int: int64(i)} }
func Int32(i int32) Value { return Value{Type: TypeInteger, Width: 4, Int: int64(i)} }
func Int64(i int64) Value { return Value{Type: TypeInteger, Width: 8, Int: i} }

// Float32 returns a REAL value; it is widened to a double when stored.
func Float32(f float32) Value { return Value{Type: TypeReal, Width: 4, Float: float64(f)} }
func Float64(f float64) Value { return Value{Type: TypeReal, Width: 8, Float: f} }

func Text(s string) Value      { return Value{Type: TypeText, Bytes: []byte(s)} }
func TextBytes(b []byte) Value { return Value{Type: TypeText, Bytes: b} }
func Blob(b []byte) Value      { return Value{Type: TypeBlob, Bytes: b} }

// JSON returns a TEXT value holding the JSON encoding of v.
func JSON(v any) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Value{}, err
	}
	return TextBytes(b), nil
}

// SerialType returns the serial type v is stored with.
// Integers never use the 0/1 constant types so they can be patched in place.
func (v Value) SerialType() uint32 {
	switch v.Type {
	case TypeInteger:
		switch v.Width {
		case 1:
			return 1
		case 2:
			return 2
		case 4:
			return 4
		}
		return 6
	case TypeReal:
		return 7
	case TypeBlob:
		return uint32(len(v.Bytes))*2 + 12
	case TypeText:
		return uint32(len(v.Bytes))*2 + 13
	}
	return 0
}

// Len returns the number of payload bytes v occupies in a record.
func (v Value) Len() int { return DataLen(v.SerialType()) }

// String returns the text of a TEXT value, or a debugging representation.
func (v Value) String() string {
	switch v.Type {
	case TypeNull:
		return "NULL"
	case TypeInteger:
		return fmt.Sprint(v.Int)
	case TypeReal:
		return fmt.Sprint(v.Float)
	case TypeText:
		return string(v.Bytes)
	}
	return fmt.Sprintf("x'%x'", v.Bytes)
}

// put writes the payload of v to buf, which must hold at least v.Len() bytes.
func (v Value) put(buf []byte) {
	switch v.Type {
	case TypeInteger:
		switch v.Width {
		case 1:
			buf[0] = byte(v.Int)
		case 2:
			binary.BigEndian.PutUint16(buf, uint16(v.Int))
		case 4:
			binary.BigEndian.PutUint32(buf, uint32(v.Int))
		default:
			binary.BigEndian.PutUint64(buf, uint64(v.Int))
		}
	case TypeReal:
		binary.BigEndian.PutUint64(buf, math.Float64bits(v.Float))
	case TypeBlob, TypeText:
		copy(buf, v.Bytes)
	}
}

// DataLen returns the payload length of a serial type.
func DataLen(serialType uint32) int {
	switch {
	case serialType >= 12:
		return int(serialType-12) / 2
	case serialType <= 4:
		return int(serialType)
	case serialType == 5:
		return 6
	case serialType == 6, serialType == 7:
		return 8
	}
	return 0
}

// Row helps build the values of one row.
type Row []Value

func (row *Row) AppendNull() { *row = append(*row, Null()) }

// AppendInt appends i using the narrowest of the 1, 2, 4 and 8 byte widths.
func (row *Row) AppendInt(i int64) {
	switch {
	case i >= math.MinInt8 && i <= math.MaxInt8:
		*row = append(*row, Int8(int8(i)))
	case i >= math.MinInt16 && i <= math.MaxInt16:
		*row = append(*row, Int16(int16(i)))
	case i >= math.MinInt32 && i <= math.MaxInt32:
		*row = append(*row, Int32(int32(i)))
	default:
		*row = append(*row, Int64(i))
	}
}

// AppendFloat appends f as an integer if it has no fractional part, else as a REAL.
func (row *Row) AppendFloat(f float64) {
	if i := int64(f); f == float64(i) {
		row.AppendInt(i)
	} else {
		*row = append(*row, Float64(f))
	}
}

func (row *Row) AppendString(s string) { *row = append(*row, Text(s)) }

func (row *Row) AppendBlob(b []byte) { *row = append(*row, Blob(b)) }

func (row *Row) AppendJSON(v any) error {
	val, err := JSON(v)
	if err != nil {
		return err
	}
	*row = append(*row, val)
	return nil
}

func (row *Row) Reset() { *row = (*row)[:0] }
