package record

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanwade90/streamlite/internal/errkind"
)

func TestSerialType(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		typ  uint32
		len  int
	}{
		{"null", Null(), 0, 0},
		{"int8", Int8(-5), 1, 1},
		{"int16", Int16(1000), 2, 2},
		{"int32", Int32(-70000), 4, 4},
		{"int64", Int64(1 << 40), 6, 8},
		{"zero stays typed", Int8(0), 1, 1},
		{"one stays typed", Int8(1), 1, 1},
		{"float32 widens", Float32(1.5), 7, 8},
		{"float64", Float64(math.Pi), 7, 8},
		{"empty blob", Blob(nil), 12, 0},
		{"blob", Blob([]byte{1, 2, 3}), 18, 3},
		{"empty text", Text(""), 13, 0},
		{"text", Text("hello"), 23, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.v.SerialType())
			assert.Equal(t, tt.len, tt.v.Len())
		})
	}
}

func TestDataLen(t *testing.T) {
	want := map[uint32]int{0: 0, 1: 1, 2: 2, 3: 3, 4: 4, 5: 6, 6: 8, 7: 8, 8: 0, 9: 0, 12: 0, 13: 0, 14: 1, 15: 1, 413: 200}
	for s, n := range want {
		assert.Equal(t, n, DataLen(s), "serial type %d", s)
	}
}

func allTypes() []Value {
	return []Value{
		Int8(-128),
		Int16(-32768),
		Int32(math.MaxInt32),
		Int64(math.MinInt64),
		Float64(-2.25),
		Float32(0.5),
		Text("hello, world"),
		Blob([]byte{0, 0xff, 0x80}),
		Null(),
	}
}

func TestCellRoundTrip(t *testing.T) {
	values := allTypes()
	const rowid = 300

	cell := make([]byte, CellLen(rowid, values))
	require.Equal(t, len(cell), PutCell(cell, rowid, values))

	for i, v := range values {
		loc, err := Locate(cell, i, len(cell))
		require.NoError(t, err, "column %d", i)
		assert.Equal(t, uint32(rowid), loc.RowID)
		assert.Equal(t, v.SerialType(), loc.Serial)

		got, err := Decode(loc.Serial, cell[loc.Data:])
		require.NoError(t, err)
		assert.Equal(t, v.Type, got.Type)
		switch v.Type {
		case TypeInteger:
			assert.Equal(t, v.Int, got.Int)
			assert.Equal(t, v.Width, got.Width)
		case TypeReal:
			assert.Equal(t, v.Float, got.Float)
		case TypeText, TypeBlob:
			assert.Equal(t, v.Bytes, got.Bytes)
		}
	}

	_, err := Locate(cell, len(values), len(cell))
	assert.ErrorIs(t, err, errkind.ErrNotFound)
	_, err = Locate(cell, -1, len(cell))
	assert.ErrorIs(t, err, errkind.ErrNotFound)

	n, err := Columns(cell, len(cell))
	require.NoError(t, err)
	assert.Equal(t, len(values), n)
}

func TestForcedPrefixWidths(t *testing.T) {
	for _, values := range [][]Value{
		{Null()},
		{Text(string(make([]byte, 200)))},
		{Blob(make([]byte, 4000)), Int8(1)},
	} {
		cell := make([]byte, CellLen(1, values))
		PutCell(cell, 1, values)
		loc, err := Locate(cell, 0, len(cell))
		require.NoError(t, err)
		assert.Equal(t, RecordLenWidth+1, loc.Prefix)
		assert.Equal(t, loc.Prefix+HeaderLenWidth, loc.Header)
	}
}

func TestEmptyCell(t *testing.T) {
	cell := make([]byte, EmptyCellLen(7, 4))
	require.Equal(t, len(cell), PutEmptyCell(cell, 7, 4))

	expect := make([]byte, CellLen(7, []Value{Null(), Null(), Null(), Null()}))
	PutCell(expect, 7, []Value{Null(), Null(), Null(), Null()})
	assert.Equal(t, expect, cell)
}

func TestLocateCorruption(t *testing.T) {
	values := []Value{Int32(5), Text("abc")}
	cell := make([]byte, CellLen(1, values))
	PutCell(cell, 1, values)

	_, err := Locate(cell, 0, len(cell)-1)
	assert.ErrorIs(t, err, errkind.ErrMalformed, "record longer than limit")

	loc, err := Locate(cell, 1, len(cell))
	require.NoError(t, err)
	bad := bytes.Clone(cell)
	bad[loc.Header] = 0x7f // text of 57 bytes in a 3 byte payload
	_, err = Locate(bad, 1, len(bad))
	assert.ErrorIs(t, err, errkind.ErrMalformed, "payload past end of record")

	_, err = Locate([]byte{0x80, 0x80, 0x80, 0x80, 0x80}, 0, 5)
	assert.ErrorIs(t, err, errkind.ErrMalformed)
}

func TestDecodeConstants(t *testing.T) {
	v, err := Decode(8, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Int)
	v, err = Decode(9, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int)
	v, err = Decode(3, []byte{0xff, 0xff, 0xfe})
	require.NoError(t, err)
	assert.Equal(t, int64(-2), v.Int)
	v, err = Decode(5, []byte{0x80, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, int64(-1)<<47, v.Int)

	_, err = Decode(10, nil)
	assert.ErrorIs(t, err, errkind.ErrMalformed)
	_, err = Decode(6, []byte{1, 2})
	assert.ErrorIs(t, err, errkind.ErrMalformed)
}

func TestSplice(t *testing.T) {
	buf := []byte("....abcdXYefgh")
	start := Splice(buf, 4, 8, 2, 4)
	assert.Equal(t, 2, start)
	assert.Equal(t, "abcd", string(buf[2:6]))
	assert.Equal(t, "efgh", string(buf[10:]))

	buf = []byte("..abcdXYZWefgh")
	start = Splice(buf, 2, 6, 4, 1)
	assert.Equal(t, 5, start)
	assert.Equal(t, "abcd", string(buf[5:9]))
	assert.Equal(t, "efgh", string(buf[10:]))
}

// TestReplaceMatchesFreshCell edits one column at a time and checks that the
// result is byte-for-byte the cell PutCell would have written.
func TestReplaceMatchesFreshCell(t *testing.T) {
	const size = 1024
	const rowid = 200

	replacements := []Value{
		Text(string(bytes.Repeat([]byte("x"), 70))), // serial type grows to two bytes
		Text("y"),
		Null(),
		Int64(-1),
		Int8(3),
		Float32(2.5),
		Blob(bytes.Repeat([]byte{7}, 300)),
		Text(""),
	}

	for col := 0; col < 4; col++ {
		values := []Value{Int32(1), Text("abc"), Null(), Float64(1.25)}
		buf := make([]byte, size)
		start := size - CellLen(rowid, values)
		PutCell(buf[start:], rowid, values)

		for _, v := range replacements {
			loc, err := Locate(buf[start:], col, size-start)
			require.NoError(t, err)
			growth := Growth(loc, v)
			start = Replace(buf, start, loc, v)
			values[col] = v

			expect := make([]byte, CellLen(rowid, values))
			PutCell(expect, rowid, values)
			require.Equal(t, size-len(expect), start, "col %d <- %v: growth %d", col, v.Type, growth)
			require.Equal(t, expect, buf[start:], "col %d <- %v", col, v.Type)
		}
	}
}

func TestRowBuilder(t *testing.T) {
	var row Row
	row.AppendInt(5)
	row.AppendInt(300)
	row.AppendInt(70000)
	row.AppendInt(1 << 40)
	row.AppendFloat(2)
	row.AppendFloat(2.5)
	row.AppendString("s")
	row.AppendBlob([]byte{1})
	row.AppendNull()
	require.NoError(t, row.AppendJSON(map[string]int{"a": 1}))

	widths := []int{1, 2, 4, 8, 1}
	for i, w := range widths {
		assert.Equal(t, w, row[i].Width)
	}
	assert.Equal(t, TypeReal, row[5].Type)
	assert.Equal(t, `{"a":1}`, row[9].String())

	row.Reset()
	assert.Empty(t, row)
}
