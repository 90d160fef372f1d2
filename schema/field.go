package schema

import (
	"fmt"
	"strings"
)

// FieldType is the primitive encoding of one table column.
type FieldType uint8

const (
	Boolean FieldType = iota
	F32
	F64
	I16
	I32
	I64
	ColourRGB
	StringU8
	StringU16
	OptionalI16
	OptionalI32
	OptionalI64
	OptionalStringU8
	OptionalStringU16
	SequenceU16
	SequenceU32
)

var fieldTypeNames = [...]string{
	Boolean:           "Boolean",
	F32:               "F32",
	F64:               "F64",
	I16:               "I16",
	I32:               "I32",
	I64:               "I64",
	ColourRGB:         "ColourRGB",
	StringU8:          "StringU8",
	StringU16:         "StringU16",
	OptionalI16:       "OptionalI16",
	OptionalI32:       "OptionalI32",
	OptionalI64:       "OptionalI64",
	OptionalStringU8:  "OptionalStringU8",
	OptionalStringU16: "OptionalStringU16",
	SequenceU16:       "SequenceU16",
	SequenceU32:       "SequenceU32",
}

func (t FieldType) String() string {
	if int(t) < len(fieldTypeNames) {
		return fieldTypeNames[t]
	}
	return fmt.Sprintf("FieldType(%d)", uint8(t))
}

// ParseFieldType maps a type name, case-insensitively, to its FieldType.
func ParseFieldType(name string) (FieldType, error) {
	for i, n := range fieldTypeNames {
		if strings.EqualFold(n, name) {
			return FieldType(i), nil //nolint:gosec // i < len(fieldTypeNames)
		}
	}
	return 0, fmt.Errorf("%w: unknown field type %q", ErrInvalidSchema, name)
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	if int(t) >= len(fieldTypeNames) {
		return nil, fmt.Errorf("%w: unknown field type %d", ErrInvalidSchema, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(text []byte) error {
	v, err := ParseFieldType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// IsSequence reports whether cells of this type hold nested rows.
func (t FieldType) IsSequence() bool { return t == SequenceU16 || t == SequenceU32 }

// IsOptional reports whether cells of this type carry a presence byte.
func (t FieldType) IsOptional() bool {
	switch t {
	case OptionalI16, OptionalI32, OptionalI64, OptionalStringU8, OptionalStringU16:
		return true
	}
	return false
}

// IsNumeric reports whether cells of this type hold a number.
func (t FieldType) IsNumeric() bool {
	switch t {
	case F32, F64, I16, I32, I64, OptionalI16, OptionalI32, OptionalI64:
		return true
	}
	return false
}

// IsString reports whether cells of this type hold text.
func (t FieldType) IsString() bool {
	switch t {
	case ColourRGB, StringU8, StringU16, OptionalStringU8, OptionalStringU16:
		return true
	}
	return false
}

// Reference names the column another table's cell points at.
type Reference struct {
	Table  string `toml:"table"`
	Column string `toml:"column"`
}

// Field describes one column.
type Field struct {
	Name string    `toml:"name"`
	Type FieldType `toml:"type"`
	Key  bool      `toml:"is_key,omitempty"`

	// Default is the textual default used when a row is created or a table
	// is upgraded to a definition that adds this field.
	Default string `toml:"default_value,omitempty"`

	MaxLength int        `toml:"max_length,omitempty"`
	Reference *Reference `toml:"reference,omitempty"`

	// Lookup lists columns of the referenced table shown next to a value.
	Lookup []string `toml:"lookup,omitempty"`

	CannotBeEmpty bool `toml:"not_empty,omitempty"`

	// Filename marks cells holding a path to another packed file.
	Filename bool `toml:"is_filename,omitempty"`

	// FilenameRelativePath is a ';'-separated list of path templates in
	// which '%' stands for the cell value.
	FilenameRelativePath string `toml:"filename_relative_path,omitempty"`

	Description string `toml:"description,omitempty"`
	Explanation string `toml:"explanation,omitempty"`
	CAOrder     int16  `toml:"ca_order,omitempty"`

	// Fields are the columns of the nested rows of a sequence field.
	Fields []Field `toml:"fields,omitempty"`
}

// RelativePaths expands FilenameRelativePath for value. Without templates
// the value itself is the only candidate.
func (f *Field) RelativePaths(value string) []string {
	if f.FilenameRelativePath == "" {
		return []string{value}
	}
	var out []string
	for tmpl := range strings.SplitSeq(f.FilenameRelativePath, ";") {
		if tmpl = strings.TrimSpace(tmpl); tmpl != "" {
			out = append(out, strings.ReplaceAll(tmpl, "%", value))
		}
	}
	return out
}

func (f *Field) clone() Field {
	c := *f
	if f.Reference != nil {
		ref := *f.Reference
		c.Reference = &ref
	}
	c.Lookup = append([]string(nil), f.Lookup...)
	if f.Fields != nil {
		c.Fields = make([]Field, len(f.Fields))
		for i := range f.Fields {
			c.Fields[i] = f.Fields[i].clone()
		}
	}
	return c
}
