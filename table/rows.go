package table

import (
	"fmt"
	"math"

	"github.com/meigma/pack/internal/cursor"
	"github.com/meigma/pack/schema"
)

// readRows decodes count rows of fields. row and column of a failure are
// reported relative to the top-level table.
func readRows(r *cursor.Reader, fields []schema.Field, count uint64) ([]Row, error) {
	if count == 0 {
		return nil, nil
	}
	// A row without fields takes no bytes, so nothing bounds its count.
	if len(fields) == 0 {
		return nil, &DecodeError{Row: -1, Column: -1, Err: fmt.Errorf("%w: %d rows declared with no fields", ErrTruncatedRow, count)}
	}
	// Every cell takes at least one byte, which bounds what a bogus count can allocate.
	capHint := min(count, uint64(r.Remaining()/len(fields))+1) //nolint:gosec // Remaining is non-negative
	rows := make([]Row, 0, capHint)
	for i := range count {
		row := make(Row, len(fields))
		for j := range fields {
			c, err := readCell(r, &fields[j])
			if err != nil {
				return nil, &DecodeError{Row: int(i), Column: j, Field: fields[j].Name, Err: err} //nolint:gosec // bounded by payload size
			}
			row[j] = c
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readCell(r *cursor.Reader, f *schema.Field) (Cell, error) {
	c := Cell{typ: f.Type}
	var err error
	switch f.Type {
	case schema.Boolean:
		var v bool
		v, err = r.Bool()
		c = Bool(v)
	case schema.F32:
		var v float32
		v, err = r.F32()
		c.flt = float64(v)
	case schema.F64:
		c.flt, err = r.F64()
	case schema.I16:
		var v int16
		v, err = r.I16()
		c.num = int64(v)
	case schema.I32:
		var v int32
		v, err = r.I32()
		c.num = int64(v)
	case schema.I64:
		c.num, err = r.I64()
	case schema.ColourRGB:
		var v uint32
		v, err = r.U32()
		c.num = int64(v)
	case schema.StringU8:
		c.str, err = r.StringU8()
	case schema.StringU16:
		c.str, err = r.StringU16()
	case schema.OptionalI16, schema.OptionalI32, schema.OptionalI64:
		if c.present, err = r.Bool(); err != nil {
			break
		}
		c.num, err = readInt(r, f.Type)
	case schema.OptionalStringU8, schema.OptionalStringU16:
		if c.present, err = r.Bool(); err != nil || !c.present {
			break
		}
		if f.Type == schema.OptionalStringU8 {
			c.str, err = r.StringU8()
		} else {
			c.str, err = r.StringU16()
		}
	case schema.SequenceU16, schema.SequenceU32:
		var n uint64
		if f.Type == schema.SequenceU16 {
			var v uint16
			v, err = r.U16()
			n = uint64(v)
		} else {
			var v uint32
			v, err = r.U32()
			n = uint64(v)
		}
		if err != nil {
			break
		}
		c.rows, err = readRows(r, f.Fields, n)
	default:
		return Cell{}, fmt.Errorf("%w: field %q has unknown type %s", ErrCellType, f.Name, f.Type)
	}
	if err != nil {
		return Cell{}, truncated(err)
	}
	return c, nil
}

func readInt(r *cursor.Reader, t schema.FieldType) (int64, error) {
	switch intBits(t) {
	case 16:
		v, err := r.I16()
		return int64(v), err
	case 32:
		v, err := r.I32()
		return int64(v), err
	default:
		return r.I64()
	}
}

// truncated maps short reads to ErrTruncatedRow and keeps nested decode errors.
func truncated(err error) error {
	if _, ok := err.(*DecodeError); ok { //nolint:errorlint // only direct nesting is kept
		return err
	}
	return fmt.Errorf("%w: %w", ErrTruncatedRow, err)
}

func writeRows(w *cursor.Writer, fields []schema.Field, rows []Row) error {
	for i, row := range rows {
		if len(row) != len(fields) {
			return &DecodeError{Row: i, Column: -1, Err: fmt.Errorf("%w: row has %d cells, definition has %d fields", ErrCellType, len(row), len(fields))}
		}
		for j := range fields {
			if err := writeCell(w, &fields[j], row[j]); err != nil {
				return &DecodeError{Row: i, Column: j, Field: fields[j].Name, Err: err}
			}
		}
	}
	return nil
}

func writeCell(w *cursor.Writer, f *schema.Field, c Cell) error {
	if c.typ != f.Type {
		return fmt.Errorf("%w: cell is %s, field is %s", ErrCellType, c.typ, f.Type)
	}
	switch f.Type {
	case schema.Boolean:
		w.Bool(c.num != 0)
	case schema.F32:
		w.F32(float32(c.flt))
	case schema.F64:
		w.F64(c.flt)
	case schema.I16:
		w.I16(int16(c.num)) //nolint:gosec // width is the field's
	case schema.I32:
		w.I32(int32(c.num)) //nolint:gosec // width is the field's
	case schema.I64:
		w.I64(c.num)
	case schema.ColourRGB:
		w.U32(uint32(c.num)) //nolint:gosec // packed colour
	case schema.StringU8:
		return w.StringU8(c.str)
	case schema.StringU16:
		return w.StringU16(c.str)
	case schema.OptionalI16, schema.OptionalI32, schema.OptionalI64:
		w.Bool(c.present)
		switch intBits(f.Type) {
		case 16:
			w.I16(int16(c.num)) //nolint:gosec // width is the field's
		case 32:
			w.I32(int32(c.num)) //nolint:gosec // width is the field's
		default:
			w.I64(c.num)
		}
	case schema.OptionalStringU8, schema.OptionalStringU16:
		present := c.present || c.str != ""
		w.Bool(present)
		if !present {
			return nil
		}
		if f.Type == schema.OptionalStringU8 {
			return w.StringU8(c.str)
		}
		return w.StringU16(c.str)
	case schema.SequenceU16:
		if len(c.rows) > math.MaxUint16 {
			return fmt.Errorf("%w: %d nested rows", cursor.ErrTooLong, len(c.rows))
		}
		w.U16(uint16(len(c.rows))) //nolint:gosec // checked above
		return writeRows(w, f.Fields, c.rows)
	case schema.SequenceU32:
		if uint64(len(c.rows)) > math.MaxUint32 {
			return fmt.Errorf("%w: %d nested rows", cursor.ErrTooLong, len(c.rows))
		}
		w.U32(uint32(len(c.rows))) //nolint:gosec // checked above
		return writeRows(w, f.Fields, c.rows)
	}
	return nil
}
