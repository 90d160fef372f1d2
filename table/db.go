package table

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/meigma/pack/internal/cursor"
	"github.com/meigma/pack/schema"
)

var (
	guidMarker    = []byte{0xFD, 0xFE, 0xFC, 0xFF}
	versionMarker = []byte{0xFC, 0xFD, 0xFE, 0xFF}
)

// minDBSize is the flag byte plus the row count.
const minDBSize = 5

type dbHeader struct {
	guid    string
	version int32
	flag    bool
	count   uint32
}

func readDBHeader(r *cursor.Reader) (dbHeader, error) {
	var h dbHeader
	if r.Len() < minDBSize {
		return h, fmt.Errorf("%w: %d bytes", ErrNotATable, r.Len())
	}
	var err error
	if m, ok := r.Peek(4); ok && bytes.Equal(m, guidMarker) {
		_, _ = r.Bytes(4)
		if h.guid, err = r.StringU16(); err != nil {
			return h, fmt.Errorf("%w: guid: %w", ErrNotATable, err)
		}
	}
	if m, ok := r.Peek(4); ok && bytes.Equal(m, versionMarker) {
		_, _ = r.Bytes(4)
		if h.version, err = r.I32(); err != nil {
			return h, fmt.Errorf("%w: version: %w", ErrNotATable, err)
		}
	}
	if h.flag, err = r.Bool(); err != nil {
		return h, fmt.Errorf("%w: %w", ErrNotATable, err)
	}
	if h.count, err = r.U32(); err != nil {
		return h, fmt.Errorf("%w: row count: %w", ErrNotATable, err)
	}
	return h, nil
}

func decodeDB(r *cursor.Reader, name string, store *schema.Store) (*Table, error) {
	h, err := readDBHeader(r)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: no schema loaded", ErrNoDefinition)
	}

	t := &Table{Name: name, Kind: KindDB, GUID: h.guid, Flag: h.flag}
	if h.version == 0 {
		def, rows, err := fitCandidate(r, name, store, h.count)
		if err != nil {
			return nil, err
		}
		t.Definition, t.Rows = def, rows
		return t, nil
	}

	def, approx, err := store.Resolve(name, h.version)
	if err != nil {
		return nil, err
	}
	rows, err := readRows(r, def.Fields, uint64(h.count))
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d bytes left after %d rows", ErrSizeMismatch, r.Remaining(), h.count)
	}
	t.Definition, t.Approximate, t.Rows = def, approx, rows
	return t, nil
}

func decodeDBWith(r *cursor.Reader, name string, def *schema.Definition) (*Table, error) {
	h, err := readDBHeader(r)
	if err != nil {
		return nil, err
	}
	rows, err := readRows(r, def.Fields, uint64(h.count))
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d bytes left after %d rows", ErrSizeMismatch, r.Remaining(), h.count)
	}
	return &Table{Name: name, Kind: KindDB, Definition: def, GUID: h.guid, Flag: h.flag, Rows: rows}, nil
}

// fitCandidate tries every unversioned definition and keeps the first that
// consumes the payload exactly.
func fitCandidate(r *cursor.Reader, name string, store *schema.Store, count uint32) (*schema.Definition, []Row, error) {
	candidates := store.Candidates(name)
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("%w: %s version 0", ErrNoDefinition, name)
	}
	start := r.Offset()
	var errs []error
	for _, def := range candidates {
		_ = r.Seek(start)
		rows, err := readRows(r, def.Fields, uint64(count))
		if err == nil && r.Remaining() == 0 {
			return def, rows, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: %d bytes left", ErrSizeMismatch, r.Remaining())
		}
		errs = append(errs, fmt.Errorf("version %d: %w", def.Version, err))
	}
	return nil, nil, fmt.Errorf("%w: no unversioned definition of %s fits: %w", ErrNoDefinition, name, errors.Join(errs...))
}

func encodeDB(w *cursor.Writer, t *Table, cfg *encodeConfig) error {
	if !cfg.omitGUID && (t.GUID != "" || cfg.regenerateGUID) {
		guid := t.GUID
		if cfg.regenerateGUID {
			guid = uuid.NewString()
		}
		w.Raw(guidMarker)
		if err := w.StringU16(guid); err != nil {
			return err
		}
	}
	if t.Definition.Version > 0 {
		w.Raw(versionMarker)
		w.I32(t.Definition.Version)
	}
	w.Bool(t.Flag)
	count, err := rowCount(len(t.Rows))
	if err != nil {
		return err
	}
	w.U32(count)
	return writeRows(w, t.Definition.Fields, t.Rows)
}
