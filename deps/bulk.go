package deps

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/meigma/pack/schema"
	"github.com/meigma/pack/table"
)

// ErrInvalidBulk is returned for a bulk reference document that does not
// decode or is internally inconsistent.
var ErrInvalidBulk = errors.New("deps: invalid bulk reference data")

// bulkSource is the Source of every table file in the bulk tier.
const bulkSource = "bulk"

// Bulk is externally supplied reference data, typically exported from the
// game's own tooling. Every cell is text.
type Bulk struct {
	// ID changes whenever the data is regenerated.
	ID     string      `json:"id"`
	Game   string      `json:"game"`
	Tables []BulkTable `json:"tables"`
}

// BulkTable is one table of a bulk document.
type BulkTable struct {
	Name    string     `json:"name"`
	Version int32      `json:"version"`
	Columns []string   `json:"columns"`
	Keys    []string   `json:"keys,omitempty"`
	Rows    [][]string `json:"rows"`
}

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("deps: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 24,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic("deps: CBOR decoder initialization failed: " + err.Error())
	}
}

// ParseBulk decodes a CBOR bulk document.
func ParseBulk(data []byte) (*Bulk, error) {
	var b Bulk
	if err := cborDecMode.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBulk, err)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Marshal encodes b as deterministic CBOR.
func (b *Bulk) Marshal() ([]byte, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(b)
}

func (b *Bulk) validate() error {
	seen := make(map[string]struct{}, len(b.Tables))
	for _, t := range b.Tables {
		if t.Name == "" {
			return fmt.Errorf("%w: table without a name", ErrInvalidBulk)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: table %s appears twice", ErrInvalidBulk, t.Name)
		}
		seen[t.Name] = struct{}{}
		for i, row := range t.Rows {
			if len(row) != len(t.Columns) {
				return fmt.Errorf("%w: %s row %d has %d cells for %d columns", ErrInvalidBulk, t.Name, i, len(row), len(t.Columns))
			}
		}
	}
	return nil
}

// snapshot converts b into the bulk tier. Columns become StringU16 fields.
func (b *Bulk) snapshot() *Snapshot {
	s := newSnapshot(TierBulk)
	for _, bt := range b.Tables {
		keys := make(map[string]bool, len(bt.Keys))
		for _, k := range bt.Keys {
			keys[k] = true
		}
		def := &schema.Definition{Version: bt.Version, Fields: make([]schema.Field, len(bt.Columns))}
		for i, c := range bt.Columns {
			def.Fields[i] = schema.Field{Name: c, Type: schema.StringU16, Key: keys[c]}
		}
		t := &table.Table{Name: TableName(bt.Name), Kind: table.KindDB, Definition: def, Rows: make([]table.Row, len(bt.Rows))}
		for r, row := range bt.Rows {
			cells := make(table.Row, len(row))
			for i, v := range row {
				cells[i] = table.String(schema.StringU16, v)
			}
			t.Rows[r] = cells
		}
		path := "db/" + t.Name + "/" + bulkSource
		s.claim(path)
		s.add(&TableFile{Tier: TierBulk, Source: bulkSource, Path: path, Table: t})
	}
	return s
}
