// Package schema holds the versioned column layouts of game tables and
// resolves the definition a table payload should be decoded with.
//
// A schema file is a TOML document:
//
//	version = 5
//
//	[[tables.units_tables]]
//	version = 3
//
//	[[tables.units_tables.fields]]
//	name = "key"
//	type = "StringU8"
//	is_key = true
//
// Local patches overlay individual column attributes without touching the
// stock schema; see Patches.
package schema

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// FormatVersion is the schema document version this package reads.
const FormatVersion = 5

var (
	// ErrNoDefinition is returned when a table has no usable definition.
	ErrNoDefinition = errors.New("schema: no definition")

	// ErrDefinitionIsApproximate marks a definition selected for a version
	// that the schema does not know exactly. It is advisory.
	ErrDefinitionIsApproximate = errors.New("schema: definition is approximate")

	// ErrInvalidSchema is returned for schema or patch documents that cannot be used.
	ErrInvalidSchema = errors.New("schema: invalid document")
)

// Definition is the column layout of one table at one version.
type Definition struct {
	Version int32   `toml:"version"`
	Fields  []Field `toml:"fields"`
}

// Keys returns the indexes of the key fields in declaration order.
func (d *Definition) Keys() []int {
	var keys []int
	for i := range d.Fields {
		if d.Fields[i].Key {
			keys = append(keys, i)
		}
	}
	return keys
}

// Column returns the index of the field called name, or -1.
func (d *Definition) Column(name string) int {
	return slices.IndexFunc(d.Fields, func(f Field) bool { return f.Name == name })
}

// Clone returns a deep copy of d.
func (d *Definition) Clone() *Definition {
	c := &Definition{Version: d.Version, Fields: make([]Field, len(d.Fields))}
	for i := range d.Fields {
		c.Fields[i] = d.Fields[i].clone()
	}
	return c
}

// Schema is the full set of definitions for one game.
type Schema struct {
	Version int                     `toml:"version"`
	Tables  map[string][]Definition `toml:"tables"`
}

// Parse decodes a TOML schema document. Definitions of each table are
// ordered from newest to oldest.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("%w: document version %d, want %d", ErrInvalidSchema, s.Version, FormatVersion)
	}
	if s.Tables == nil {
		s.Tables = make(map[string][]Definition)
	}
	for name, defs := range s.Tables {
		if err := validate(name, defs); err != nil {
			return nil, err
		}
		slices.SortStableFunc(defs, func(a, b Definition) int { return cmp.Compare(b.Version, a.Version) })
	}
	return &s, nil
}

func validate(table string, defs []Definition) error {
	seen := make(map[int32]struct{}, len(defs))
	for _, d := range defs {
		if _, dup := seen[d.Version]; dup {
			return fmt.Errorf("%w: %s has two definitions at version %d", ErrInvalidSchema, table, d.Version)
		}
		seen[d.Version] = struct{}{}
		if err := validateFields(table, d.Fields); err != nil {
			return err
		}
	}
	return nil
}

func validateFields(table string, fields []Field) error {
	names := make(map[string]struct{}, len(fields))
	for i := range fields {
		f := &fields[i]
		if f.Name == "" {
			return fmt.Errorf("%w: %s: field %d has no name", ErrInvalidSchema, table, i)
		}
		if _, dup := names[f.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate field %q", ErrInvalidSchema, table, f.Name)
		}
		names[f.Name] = struct{}{}
		if f.Type.IsSequence() {
			if len(f.Fields) == 0 {
				return fmt.Errorf("%w: %s: sequence field %q has no sub-fields", ErrInvalidSchema, table, f.Name)
			}
			if err := validateFields(table+"."+f.Name, f.Fields); err != nil {
				return err
			}
		} else if len(f.Fields) > 0 {
			return fmt.Errorf("%w: %s: field %q of type %s has sub-fields", ErrInvalidSchema, table, f.Name, f.Type)
		}
	}
	return nil
}

// Marshal encodes s as a TOML schema document.
func (s *Schema) Marshal() ([]byte, error) {
	return toml.Marshal(s)
}

// TableNames returns every table with at least one definition, sorted.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name, defs := range s.Tables {
		if len(defs) > 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
