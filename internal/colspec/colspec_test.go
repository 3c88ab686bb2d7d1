package colspec

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanwade90/streamlite/internal/errkind"
	"github.com/jordanwade90/streamlite/record"
)

func TestParse(t *testing.T) {
	spec, err := Parse("ts:int, temp : REAL,msg:text, raw:blob, extra:json, note")
	require.NoError(t, err)
	assert.Equal(t, Spec{
		{Name: "ts", Type: Integer},
		{Name: "temp", Type: Real},
		{Name: "msg", Type: Text},
		{Name: "raw", Type: Blob},
		{Name: "extra", Type: JSON},
		{Name: "note", Type: Any},
	}, spec)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		spec string
		want string
	}{
		{"", ""},
		{"a:int,", ""},
		{"a:int b:int", ""},
		{"1a", ""},
		{"a:decimal", `unknown type "decimal"`},
		{"a, b, A", `duplicate column "A"`},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			_, err := Parse(tt.spec)
			require.Error(t, err)
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestCreateScript(t *testing.T) {
	spec, err := Parse("ts:int, temp:real, msg:text, raw:blob, extra:json, note")
	require.NoError(t, err)
	assert.Equal(t,
		`CREATE TABLE readings ("ts" INTEGER, "temp" REAL, "msg" TEXT, "raw" BLOB, "extra" TEXT, "note")`,
		spec.CreateScript("readings"))

	assert.Equal(t, `CREATE TABLE t1 ("c001", "c002")`, Anonymous(2).CreateScript("t1"))
}

func decode(t *testing.T, s string) []any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var values []any
	require.NoError(t, dec.Decode(&values))
	return values
}

func TestAppendRow(t *testing.T) {
	spec, err := Parse("ts:int, temp:real, msg:text, raw:blob, extra:json, note")
	require.NoError(t, err)

	var row record.Row
	values := decode(t, `[1700000000, 21, "ok", "AAEC", {"a":1}, 2.5]`)
	require.NoError(t, spec.AppendRow(&row, values))
	require.Len(t, row, 6)

	assert.Equal(t, record.Int32(1700000000), row[0])
	assert.Equal(t, record.Float64(21), row[1], "real columns keep integral values as REAL")
	assert.Equal(t, record.Text("ok"), row[2])
	assert.Equal(t, record.Blob([]byte{0, 1, 2}), row[3])
	assert.Equal(t, record.TypeText, row[4].Type)
	assert.JSONEq(t, `{"a":1}`, string(row[4].Bytes))
	assert.Equal(t, record.Float64(2.5), row[5])
}

func TestAppendNulls(t *testing.T) {
	spec, err := Parse("a:int, b:real, c:text, d:blob, e:json, f")
	require.NoError(t, err)
	var row record.Row
	require.NoError(t, spec.AppendRow(&row, make([]any, 6)))
	for _, v := range row {
		assert.Equal(t, record.Null(), v)
	}
}

func TestAppendAny(t *testing.T) {
	var row record.Row
	for _, v := range decode(t, `[7, -300, 1e3, 0.5, "s", true, [1,2]]`) {
		require.NoError(t, Any.Append(&row, v))
	}
	assert.Equal(t, record.Int8(7), row[0])
	assert.Equal(t, record.Int16(-300), row[1])
	assert.Equal(t, record.Int16(1000), row[2])
	assert.Equal(t, record.Float64(0.5), row[3])
	assert.Equal(t, record.Text("s"), row[4])
	assert.Equal(t, record.Int8(1), row[5])
	assert.Equal(t, record.TypeText, row[6].Type)
	assert.Equal(t, "[1,2]", string(row[6].Bytes))
}

func TestConversions(t *testing.T) {
	var row record.Row
	require.NoError(t, Integer.Append(&row, "42"))
	require.NoError(t, Integer.Append(&row, json.Number("3.0")))
	require.NoError(t, Integer.Append(&row, false))
	require.NoError(t, Real.Append(&row, "1.25"))
	require.NoError(t, Text.Append(&row, json.Number("12")))
	require.NoError(t, Text.Append(&row, true))
	assert.Equal(t, record.Row{
		record.Int8(42),
		record.Int8(3),
		record.Int8(0),
		record.Float64(1.25),
		record.Text("12"),
		record.Text("true"),
	}, row)
}

func TestMismatch(t *testing.T) {
	tests := []struct {
		typ Type
		v   any
	}{
		{Integer, json.Number("1.5")},
		{Integer, "x"},
		{Integer, []any{}},
		{Real, "x"},
		{Real, true},
		{Blob, json.Number("1")},
		{Blob, "not base64!"},
	}
	for _, tt := range tests {
		var row record.Row
		err := tt.typ.Append(&row, tt.v)
		assert.ErrorIs(t, err, errkind.ErrTypeMismatch, "%s %v", tt.typ, tt.v)
		assert.Empty(t, row)
	}

	spec := Anonymous(2)
	var row record.Row
	err := spec.AppendRow(&row, []any{json.Number("1")})
	assert.ErrorIs(t, err, errkind.ErrTypeMismatch)
}
