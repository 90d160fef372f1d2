package table

import (
	"bytes"
	"fmt"

	"github.com/meigma/pack/internal/cursor"
	"github.com/meigma/pack/schema"
)

var locSignature = []byte{0xFF, 0xFE, 'L', 'O', 'C', 0}

const (
	locVersion    = 1
	locHeaderSize = 14
)

// LocDefinition returns the fixed layout of localisation tables.
func LocDefinition() *schema.Definition {
	return &schema.Definition{
		Version: locVersion,
		Fields: []schema.Field{
			{Name: "key", Type: schema.StringU16, Key: true},
			{Name: "text", Type: schema.StringU16},
			{Name: "tooltip", Type: schema.Boolean, Default: "true"},
		},
	}
}

func decodeLoc(r *cursor.Reader, name string, _ *schema.Store) (*Table, error) {
	if r.Len() < locHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrNotATable, r.Len())
	}
	// The byte after the type tag is not checked.
	sig, _ := r.Bytes(len(locSignature))
	if !bytes.Equal(sig[:5], locSignature[:5]) {
		return nil, fmt.Errorf("%w: bad localisation signature", ErrNotATable)
	}
	_, _ = r.I32()
	count, _ := r.U32()

	def := LocDefinition()
	rows, err := readRows(r, def.Fields, uint64(count))
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d bytes left after %d rows", ErrSizeMismatch, r.Remaining(), count)
	}
	return &Table{Name: name, Kind: KindLoc, Definition: def, Rows: rows}, nil
}

func encodeLoc(w *cursor.Writer, t *Table, _ *encodeConfig) error {
	w.Raw(locSignature)
	w.I32(t.Definition.Version)
	count, err := rowCount(len(t.Rows))
	if err != nil {
		return err
	}
	w.U32(count)
	return writeRows(w, t.Definition.Fields, t.Rows)
}
