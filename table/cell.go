package table

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/meigma/pack/schema"
)

// Cell is one typed value. The zero Cell is a false Boolean.
type Cell struct {
	typ     schema.FieldType
	num     int64
	flt     float64
	str     string
	present bool
	rows    []Row
}

// Row is one table row, aligned with the definition's fields.
type Row []Cell

// Bool returns a Boolean cell.
func Bool(v bool) Cell {
	c := Cell{typ: schema.Boolean}
	if v {
		c.num = 1
	}
	return c
}

// Int returns an integer cell of type t. Optional types are marked present.
// Values outside the width of t are truncated on encode.
func Int(t schema.FieldType, v int64) Cell {
	return Cell{typ: t, num: v, present: t.IsOptional()}
}

// Float returns an F32 or F64 cell.
func Float(t schema.FieldType, v float64) Cell {
	return Cell{typ: t, flt: v}
}

// String returns a text cell of type t. Optional strings are present when
// non-empty.
func String(t schema.FieldType, v string) Cell {
	return Cell{typ: t, str: v, present: t.IsOptional() && v != ""}
}

// Colour returns a ColourRGB cell from its packed value.
func Colour(v uint32) Cell {
	return Cell{typ: schema.ColourRGB, num: int64(v)}
}

// Sequence returns a nested-rows cell of type t.
func Sequence(t schema.FieldType, rows []Row) Cell {
	return Cell{typ: t, rows: rows}
}

// Type returns the cell's field type.
func (c Cell) Type() schema.FieldType { return c.typ }

// BoolValue returns the value of a Boolean cell.
func (c Cell) BoolValue() bool { return c.num != 0 }

// IntValue returns the value of an integer or colour cell.
func (c Cell) IntValue() int64 { return c.num }

// FloatValue returns the value of a float cell.
func (c Cell) FloatValue() float64 { return c.flt }

// StringValue returns the value of a text cell.
func (c Cell) StringValue() string { return c.str }

// Present reports whether an optional cell carries a value.
func (c Cell) Present() bool { return c.present }

// Rows returns the nested rows of a sequence cell.
func (c Cell) Rows() []Row { return c.rows }

// Text renders the value for display, key concatenation and reference lookups.
func (c Cell) Text() string {
	switch c.typ {
	case schema.Boolean:
		return strconv.FormatBool(c.num != 0)
	case schema.F32:
		return strconv.FormatFloat(c.flt, 'f', -1, 32)
	case schema.F64:
		return strconv.FormatFloat(c.flt, 'f', -1, 64)
	case schema.I16, schema.I32, schema.I64, schema.OptionalI16, schema.OptionalI32, schema.OptionalI64:
		return strconv.FormatInt(c.num, 10)
	case schema.ColourRGB:
		return fmt.Sprintf("%06X", c.num)
	case schema.SequenceU16, schema.SequenceU32:
		return strconv.Itoa(len(c.rows))
	default:
		return c.str
	}
}

// IsZero reports whether the cell holds its type's zero value: false, 0,
// the empty string or no nested rows.
func (c Cell) IsZero() bool {
	switch {
	case c.typ.IsSequence():
		return len(c.rows) == 0
	case c.typ == schema.F32 || c.typ == schema.F64:
		return c.flt == 0
	case c.typ.IsString() && c.typ != schema.ColourRGB:
		return c.str == ""
	default:
		return c.num == 0
	}
}

// ParseCell builds a cell of field f's type from its textual form.
func ParseCell(f *schema.Field, text string) (Cell, error) {
	switch f.Type {
	case schema.Boolean:
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "", "0", "false", "no":
			return Bool(false), nil
		case "1", "true", "yes":
			return Bool(true), nil
		}
		return Cell{}, fmt.Errorf("%w: %q is not a boolean", ErrCellType, text)
	case schema.F32, schema.F64:
		if text == "" {
			return Float(f.Type, 0), nil
		}
		bits := 64
		if f.Type == schema.F32 {
			bits = 32
		}
		v, err := strconv.ParseFloat(text, bits)
		if err != nil {
			return Cell{}, fmt.Errorf("%w: %w", ErrCellType, err)
		}
		return Float(f.Type, v), nil
	case schema.I16, schema.I32, schema.I64, schema.OptionalI16, schema.OptionalI32, schema.OptionalI64:
		if text == "" {
			return Int(f.Type, 0), nil
		}
		v, err := strconv.ParseInt(text, 10, intBits(f.Type))
		if err != nil {
			return Cell{}, fmt.Errorf("%w: %w", ErrCellType, err)
		}
		return Int(f.Type, v), nil
	case schema.ColourRGB:
		if text == "" {
			return Colour(0), nil
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(text, "#"), 16, 32)
		if err != nil {
			return Cell{}, fmt.Errorf("%w: %w", ErrCellType, err)
		}
		return Colour(uint32(v)), nil
	case schema.SequenceU16, schema.SequenceU32:
		return Sequence(f.Type, nil), nil
	default:
		return String(f.Type, text), nil
	}
}

// DefaultCell returns the default value of f, falling back to the type's
// zero value when the default does not parse.
func DefaultCell(f *schema.Field) Cell {
	c, err := ParseCell(f, f.Default)
	if err != nil {
		c, _ = ParseCell(f, "")
	}
	return c
}

// NewRow returns a row of default cells for def.
func NewRow(def *schema.Definition) Row {
	row := make(Row, len(def.Fields))
	for i := range def.Fields {
		row[i] = DefaultCell(&def.Fields[i])
	}
	return row
}

func intBits(t schema.FieldType) int {
	switch t {
	case schema.I16, schema.OptionalI16:
		return 16
	case schema.I32, schema.OptionalI32:
		return 32
	default:
		return 64
	}
}
