package schema

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Patches overrides column attributes: table name → column name →
// attribute → value. An empty value leaves the attribute as it is.
//
//	[units_tables.key]
//	default_value = "unit_key"
//	not_empty = "true"
type Patches map[string]map[string]map[string]string

// patchers apply one attribute. Unknown attributes are rejected at parse.
var patchers = map[string]func(f *Field, v string) error{
	"default_value": func(f *Field, v string) error { f.Default = v; return nil },
	"description":   func(f *Field, v string) error { f.Description = v; return nil },
	"explanation":   func(f *Field, v string) error { f.Explanation = v; return nil },
	"filename_relative_path": func(f *Field, v string) error {
		f.FilenameRelativePath = v
		return nil
	},
	"is_key":      boolPatch(func(f *Field, b bool) { f.Key = b }),
	"not_empty":   boolPatch(func(f *Field, b bool) { f.CannotBeEmpty = b }),
	"is_filename": boolPatch(func(f *Field, b bool) { f.Filename = b }),
	"max_length": func(f *Field, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		f.MaxLength = n
		return nil
	},
	"lookup": func(f *Field, v string) error {
		f.Lookup = strings.Split(v, ";")
		return nil
	},
	"is_reference": func(f *Field, v string) error {
		table, column, ok := strings.Cut(v, ";")
		if !ok || table == "" || column == "" {
			return fmt.Errorf("want \"table;column\", got %q", v)
		}
		f.Reference = &Reference{Table: table, Column: column}
		return nil
	},
}

func boolPatch(set func(*Field, bool)) func(*Field, string) error {
	return func(f *Field, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		set(f, b)
		return nil
	}
}

// ParsePatches decodes a TOML patch document and checks every attribute.
func ParsePatches(data []byte) (Patches, error) {
	var p Patches
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: patches: %w", ErrInvalidSchema, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate reports the first unknown attribute or unparsable value.
func (p Patches) Validate() error {
	var scratch Field
	for table, columns := range p {
		for column, attrs := range columns {
			for attr, v := range attrs {
				apply, ok := patchers[attr]
				if !ok {
					return fmt.Errorf("%w: patch %s.%s: unknown attribute %q", ErrInvalidSchema, table, column, attr)
				}
				if v == "" {
					continue
				}
				if err := apply(&scratch, v); err != nil {
					return fmt.Errorf("%w: patch %s.%s.%s: %w", ErrInvalidSchema, table, column, attr, err)
				}
			}
		}
	}
	return nil
}

// Merge returns a new Patches with other laid over p. Neither input is modified.
func (p Patches) Merge(other Patches) Patches {
	out := make(Patches, len(p)+len(other))
	for _, src := range []Patches{p, other} {
		for table, columns := range src {
			dst, ok := out[table]
			if !ok {
				dst = make(map[string]map[string]string, len(columns))
				out[table] = dst
			}
			for column, attrs := range columns {
				if dst[column] == nil {
					dst[column] = make(map[string]string, len(attrs))
				}
				maps.Copy(dst[column], attrs)
			}
		}
	}
	return out
}

// Apply returns a copy of def with the table's patches applied.
func (p Patches) Apply(table string, def *Definition) *Definition {
	out := def.Clone()
	columns := p[table]
	if len(columns) == 0 {
		return out
	}
	for i := range out.Fields {
		f := &out.Fields[i]
		for attr, v := range columns[f.Name] {
			if v == "" {
				continue
			}
			if apply, ok := patchers[attr]; ok {
				// Values were checked by Validate.
				_ = apply(f, v)
			}
		}
	}
	return out
}
