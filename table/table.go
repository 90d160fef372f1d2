// Package table decodes and encodes the structured binary tables stored in
// Pack entries.
//
// Two table kinds exist: DB tables under db/<table_name>/, described by a
// schema definition selected from the version in their header, and
// localisation tables (*.loc) with a fixed key/text/tooltip layout.
package table

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/meigma/pack/internal/cursor"
	"github.com/meigma/pack/schema"
)

// Kind is the table family of a payload.
type Kind uint8

const (
	KindDB Kind = iota
	KindLoc
)

func (k Kind) String() string {
	switch k {
	case KindDB:
		return "db"
	case KindLoc:
		return "loc"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// LocTableName is the table name shared by every localisation table.
const LocTableName = "loc"

// KindOf classifies an entry path and returns its table name.
// DB tables live at db/<table_name>/<file>.
func KindOf(entryPath string) (Kind, string, bool) {
	p := strings.ToLower(entryPath)
	if strings.HasSuffix(p, ".loc") {
		return KindLoc, LocTableName, true
	}
	parts := strings.Split(entryPath, "/")
	if len(parts) == 3 && strings.EqualFold(parts[0], "db") && parts[1] != "" && parts[2] != "" {
		return KindDB, parts[1], true
	}
	return 0, "", false
}

type codec struct {
	decode func(r *cursor.Reader, name string, store *schema.Store) (*Table, error)
	encode func(w *cursor.Writer, t *Table, cfg *encodeConfig) error
}

var codecs = [...]codec{
	KindDB:  {decode: decodeDB, encode: encodeDB},
	KindLoc: {decode: decodeLoc, encode: encodeLoc},
}

// Table is a decoded table.
type Table struct {
	Name       string
	Kind       Kind
	Definition *schema.Definition

	// Approximate is set when the definition was chosen for a version the
	// schema does not know exactly.
	Approximate bool

	// GUID is the optional identifier of DB tables, empty when absent.
	GUID string

	// Flag is the byte that precedes the row count of DB tables.
	Flag bool

	Rows []Row
}

// New returns an empty DB table with a fresh GUID.
func New(name string, def *schema.Definition) *Table {
	return &Table{Name: name, Kind: KindDB, Definition: def, GUID: uuid.NewString(), Flag: true}
}

// NewLoc returns an empty localisation table.
func NewLoc() *Table {
	return &Table{Name: LocTableName, Kind: KindLoc, Definition: LocDefinition()}
}

// Version returns the version of the table's definition.
func (t *Table) Version() int32 { return t.Definition.Version }

// Column returns the index of the field called name, or -1.
func (t *Table) Column(name string) int { return t.Definition.Column(name) }

// KeySeparator joins key cells in KeyString.
const KeySeparator = "| |"

// KeyString concatenates the key cells of row in declaration order.
func (t *Table) KeyString(row Row) string {
	keys := t.Definition.Keys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if k < len(row) {
			parts = append(parts, row[k].Text())
		}
	}
	return strings.Join(parts, KeySeparator)
}

// Decode decodes the table payload stored at entryPath. DB tables need
// store to select their definition; localisation tables ignore it.
//
// Failures are *DecodeError values wrapping ErrNotATable, ErrNoDefinition,
// ErrTruncatedRow or ErrSizeMismatch.
func Decode(entryPath string, data []byte, store *schema.Store) (*Table, error) {
	kind, name, ok := KindOf(entryPath)
	if !ok {
		return nil, &DecodeError{Path: entryPath, Row: -1, Column: -1, Err: fmt.Errorf("%w: %s is not a table path", ErrNotATable, path.Base(entryPath))}
	}
	t, err := codecs[kind].decode(cursor.NewReader(data), name, store)
	if err != nil {
		return nil, withPath(entryPath, err)
	}
	return t, nil
}

// DecodeWithDefinition decodes like Decode but reads DB tables with def
// instead of resolving a definition from a schema.
func DecodeWithDefinition(entryPath string, data []byte, def *schema.Definition) (*Table, error) {
	kind, name, ok := KindOf(entryPath)
	if !ok {
		return nil, &DecodeError{Path: entryPath, Row: -1, Column: -1, Err: fmt.Errorf("%w: %s is not a table path", ErrNotATable, path.Base(entryPath))}
	}
	var (
		t   *Table
		err error
	)
	r := cursor.NewReader(data)
	switch {
	case kind == KindLoc:
		t, err = decodeLoc(r, name, nil)
	case def == nil:
		err = fmt.Errorf("%w: %s", ErrNoDefinition, name)
	default:
		t, err = decodeDBWith(r, name, def)
	}
	if err != nil {
		return nil, withPath(entryPath, err)
	}
	return t, nil
}

func withPath(p string, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		de.Path = p
		return de
	}
	return &DecodeError{Path: p, Row: -1, Column: -1, Err: err}
}

// Undecoded keeps a table payload that failed to decode.
type Undecoded struct {
	Path string
	Name string
	Kind Kind
	Data []byte
	Err  error
}

// Decoded is the outcome of decoding one entry. Exactly one field is set.
type Decoded struct {
	Table     *Table
	Undecoded *Undecoded
}

// DecodeEntry decodes like Decode but never fails: a payload that does not
// decode is returned as an Undecoded marker holding its bytes and the cause.
func DecodeEntry(entryPath string, data []byte, store *schema.Store) Decoded {
	t, err := Decode(entryPath, data, store)
	if err == nil {
		return Decoded{Table: t}
	}
	kind, name, _ := KindOf(entryPath)
	return Decoded{Undecoded: &Undecoded{Path: entryPath, Name: name, Kind: kind, Data: data, Err: err}}
}

// EncodeOption configures Encode.
type EncodeOption func(*encodeConfig)

type encodeConfig struct {
	regenerateGUID bool
	omitGUID       bool
}

// WithRegeneratedGUID writes a fresh GUID instead of the table's own.
func WithRegeneratedGUID() EncodeOption {
	return func(c *encodeConfig) {
		c.regenerateGUID = true
	}
}

// WithoutGUID never writes a GUID. Older games reject tables that carry one.
func WithoutGUID() EncodeOption {
	return func(c *encodeConfig) {
		c.omitGUID = true
	}
}

// Encode serializes t. Row count and byte layout are derived from t.Rows and
// t.Definition; every row must match the definition.
func Encode(t *Table, opts ...EncodeOption) ([]byte, error) {
	var cfg encodeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if int(t.Kind) >= len(codecs) {
		return nil, fmt.Errorf("%w: unknown kind %s", ErrNotATable, t.Kind)
	}
	if t.Definition == nil {
		return nil, fmt.Errorf("%w: %s has no definition", ErrNoDefinition, t.Name)
	}
	w := cursor.NewWriter(64 + len(t.Rows)*len(t.Definition.Fields)*4)
	if err := codecs[t.Kind].encode(w, t, &cfg); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func rowCount(n int) (uint32, error) {
	if uint64(n) > uint64(^uint32(0)) {
		return 0, fmt.Errorf("%w: %d rows", cursor.ErrTooLong, n)
	}
	return uint32(n), nil //nolint:gosec // checked above
}
