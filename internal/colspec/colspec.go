// Package colspec parses the column lists given to the streamlite command,
// such as "ts:int, temp:real, msg:text", and converts decoded JSON values
// to record values of the declared types.
package colspec

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/goccy/go-json"

	"github.com/jordanwade90/streamlite/internal/errkind"
	"github.com/jordanwade90/streamlite/record"
)

// Type is the declared type of a column.
type Type int

const (
	// Any stores each value as the type it has in the input.
	Any Type = iota
	Integer
	Real
	Text
	Blob
	// JSON stores the JSON encoding of the value as text.
	JSON
)

var typeNames = map[string]Type{
	"any":     Any,
	"int":     Integer,
	"integer": Integer,
	"real":    Real,
	"float":   Real,
	"double":  Real,
	"text":    Text,
	"string":  Text,
	"blob":    Blob,
	"bytes":   Blob,
	"json":    JSON,
}

func (t Type) String() string {
	switch t {
	case Any:
		return "any"
	case Integer:
		return "integer"
	case Real:
		return "real"
	case Text:
		return "text"
	case Blob:
		return "blob"
	case JSON:
		return "json"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// affinity is the type name used in the generated create script.
func (t Type) affinity() string {
	switch t {
	case Integer:
		return "INTEGER"
	case Real:
		return "REAL"
	case Text, JSON:
		return "TEXT"
	case Blob:
		return "BLOB"
	}
	return ""
}

type Column struct {
	Name string
	Type Type
}

// Spec is an ordered list of columns.
type Spec []Column

type specGrammar struct {
	Columns []*columnGrammar `parser:"@@ ( \",\" @@ )*"`
}

type columnGrammar struct {
	Pos  lexer.Position
	Name string `parser:"@Ident"`
	Type string `parser:"( \":\" @Ident )?"`
}

var specLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Punct", Pattern: `[,:]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var specParser = participle.MustBuild[specGrammar](
	participle.Lexer(specLexer),
	participle.Elide("Whitespace"),
)

// Parse parses a comma separated list of name[:type] pairs.
// A column without a type is Any.
func Parse(s string) (Spec, error) {
	g, err := specParser.ParseString("", s)
	if err != nil {
		return nil, err
	}
	if len(g.Columns) == 0 {
		return nil, fmt.Errorf("colspec: no columns")
	}
	spec := make(Spec, 0, len(g.Columns))
	seen := make(map[string]bool, len(g.Columns))
	for _, c := range g.Columns {
		key := strings.ToLower(c.Name)
		if seen[key] {
			return nil, fmt.Errorf("%s: duplicate column %q", c.Pos, c.Name)
		}
		seen[key] = true

		t := Any
		if c.Type != "" {
			var ok bool
			if t, ok = typeNames[strings.ToLower(c.Type)]; !ok {
				return nil, fmt.Errorf("%s: unknown type %q for column %q", c.Pos, c.Type, c.Name)
			}
		}
		spec = append(spec, Column{Name: c.Name, Type: t})
	}
	return spec, nil
}

// Anonymous returns a spec of n untyped columns named like the default create script.
func Anonymous(n int) Spec {
	spec := make(Spec, n)
	for i := range spec {
		spec[i] = Column{Name: fmt.Sprintf("c%03d", i+1), Type: Any}
	}
	return spec
}

// CreateScript returns the CREATE TABLE statement for the columns.
func (s Spec) CreateScript(table string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE %s (", table)
	for i, c := range s {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Quote(c.Name))
		if a := c.Type.affinity(); a != "" {
			sb.WriteByte(' ')
			sb.WriteString(a)
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

// AppendRow converts the values of one input row and appends them to row.
func (s Spec) AppendRow(row *record.Row, values []any) error {
	if len(values) != len(s) {
		return fmt.Errorf("%w: %d values for %d columns", errkind.ErrTypeMismatch, len(values), len(s))
	}
	for i, v := range values {
		if err := s[i].Type.Append(row, v); err != nil {
			return fmt.Errorf("column %s: %w", s[i].Name, err)
		}
	}
	return nil
}

// Append converts v, a value decoded from JSON with numbers kept as
// json.Number, and appends it to row. A JSON null is NULL in every column.
func (t Type) Append(row *record.Row, v any) error {
	if v == nil {
		row.AppendNull()
		return nil
	}
	switch t {
	case Any:
		return appendAny(row, v)
	case Integer:
		i, err := toInt(v)
		if err != nil {
			return err
		}
		row.AppendInt(i)
		return nil
	case Real:
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		*row = append(*row, record.Float64(f))
		return nil
	case Text:
		switch v := v.(type) {
		case string:
			row.AppendString(v)
		case json.Number:
			row.AppendString(v.String())
		case bool:
			row.AppendString(strconv.FormatBool(v))
		default:
			return row.AppendJSON(v)
		}
		return nil
	case Blob:
		s, ok := v.(string)
		if !ok {
			return mismatch(v, t)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("%w: %v", errkind.ErrTypeMismatch, err)
		}
		row.AppendBlob(b)
		return nil
	case JSON:
		return row.AppendJSON(v)
	}
	panic(fmt.Sprintf("colspec: unknown type %d", int(t)))
}

func appendAny(row *record.Row, v any) error {
	switch v := v.(type) {
	case string:
		row.AppendString(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			row.AppendInt(i)
			return nil
		}
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("%w: %v", errkind.ErrTypeMismatch, err)
		}
		row.AppendFloat(f)
	case float64:
		row.AppendFloat(v)
	case bool:
		row.AppendInt(boolInt(v))
	default:
		return row.AppendJSON(v)
	}
	return nil
}

func toInt(v any) (int64, error) {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil || f != float64(int64(f)) {
			return 0, mismatch(v, Integer)
		}
		return int64(f), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, mismatch(v, Integer)
		}
		return int64(v), nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, mismatch(v, Integer)
		}
		return i, nil
	case bool:
		return boolInt(v), nil
	}
	return 0, mismatch(v, Integer)
}

func toFloat(v any) (float64, error) {
	switch v := v.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, mismatch(v, Real)
		}
		return f, nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, mismatch(v, Real)
		}
		return f, nil
	}
	return 0, mismatch(v, Real)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func mismatch(v any, t Type) error {
	return fmt.Errorf("%w: cannot store %T as %s", errkind.ErrTypeMismatch, v, t)
}
