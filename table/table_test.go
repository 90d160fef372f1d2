package table

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pack/schema"
)

const testSchema = `
version = 5

[[tables.units_tables]]
version = 1
fields = [
  { name = "key", type = "StringU8", is_key = true },
]

[[tables.units_tables]]
version = 3
fields = [
  { name = "key", type = "StringU8", is_key = true },
  { name = "cost", type = "I32", default_value = "100" },
  { name = "abilities", type = "SequenceU32", fields = [{ name = "ability", type = "StringU8" }] },
]

[[tables.everything_tables]]
version = 2
fields = [
  { name = "b", type = "Boolean", is_key = true },
  { name = "f32", type = "F32" },
  { name = "f64", type = "F64" },
  { name = "i16", type = "I16", is_key = true },
  { name = "i32", type = "I32" },
  { name = "i64", type = "I64" },
  { name = "colour", type = "ColourRGB" },
  { name = "s8", type = "StringU8" },
  { name = "s16", type = "StringU16" },
  { name = "oi16", type = "OptionalI16" },
  { name = "oi32", type = "OptionalI32" },
  { name = "oi64", type = "OptionalI64" },
  { name = "os8", type = "OptionalStringU8" },
  { name = "os16", type = "OptionalStringU16" },
  { name = "seq16", type = "SequenceU16", fields = [{ name = "inner", type = "I32" }] },
]

[[tables.old_tables]]
version = 0
fields = [
  { name = "flag", type = "Boolean" },
]

[[tables.old_tables]]
version = -1
fields = [
  { name = "value", type = "I16" },
]
`

func testStore(t *testing.T) *schema.Store {
	t.Helper()
	s, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)
	return schema.NewStore(s)
}

func everythingRow() Row {
	return Row{
		Bool(true),
		Float(schema.F32, 1.5),
		Float(schema.F64, -2.25),
		Int(schema.I16, -7),
		Int(schema.I32, 70000),
		Int(schema.I64, 1<<40),
		Colour(0x00FF8800),
		String(schema.StringU8, "plain"),
		String(schema.StringU16, "wide ünïcode"),
		Int(schema.OptionalI16, 3),
		{typ: schema.OptionalI32, num: 0, present: false},
		Int(schema.OptionalI64, -9),
		String(schema.OptionalStringU8, ""),
		String(schema.OptionalStringU16, "present"),
		Sequence(schema.SequenceU16, []Row{{Int(schema.I32, 1)}, {Int(schema.I32, 2)}}),
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		kind Kind
		name string
		ok   bool
	}{
		{"db/units_tables/data__", KindDB, "units_tables", true},
		{"DB/units_tables/mod", KindDB, "units_tables", true},
		{"text/db/units.loc", KindLoc, LocTableName, true},
		{"text/UI.LOC", KindLoc, LocTableName, true},
		{"db/units_tables", 0, "", false},
		{"db/units_tables/sub/x", 0, "", false},
		{"script/a.lua", 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			kind, name, ok := KindOf(tt.path)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.kind, kind)
				assert.Equal(t, tt.name, name)
			}
		})
	}
}

func TestDBRoundTripAllTypes(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	def, _, err := store.Resolve("everything_tables", 2)
	require.NoError(t, err)

	tbl := New("everything_tables", def)
	tbl.Rows = []Row{everythingRow(), NewRow(def)}

	data, err := Encode(tbl)
	require.NoError(t, err)

	got, err := Decode("db/everything_tables/data__", data, store)
	require.NoError(t, err)
	assert.Equal(t, tbl.GUID, got.GUID)
	assert.True(t, got.Flag)
	assert.False(t, got.Approximate)
	assert.Equal(t, int32(2), got.Version())
	assert.Equal(t, tbl.Rows, got.Rows)

	again, err := Encode(got)
	require.NoError(t, err)
	assert.Equal(t, data, again, "decode then encode is byte-exact")
}

func TestDBHeaderMarkers(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	def, _, err := store.Resolve("units_tables", 1)
	require.NoError(t, err)

	tbl := &Table{Name: "units_tables", Kind: KindDB, Definition: def, Flag: true, Rows: []Row{{String(schema.StringU8, "a")}}}
	data, err := Encode(tbl)
	require.NoError(t, err)
	want := []byte{0xFC, 0xFD, 0xFE, 0xFF, 1, 0, 0, 0, 1, 1, 0, 0, 0, 1, 0, 'a'}
	assert.Equal(t, want, data, "no GUID marker without a GUID")

	withGUID, err := Encode(tbl, WithRegeneratedGUID())
	require.NoError(t, err)
	assert.Equal(t, guidMarker, withGUID[:4])
	got, err := Decode("db/units_tables/x", withGUID, store)
	require.NoError(t, err)
	assert.Len(t, got.GUID, 36)

	got.GUID = "keep"
	stripped, err := Encode(got, WithoutGUID())
	require.NoError(t, err)
	assert.Equal(t, want, stripped)
}

func TestBooleanAcceptsNonZero(t *testing.T) {
	t.Parallel()

	data := []byte{0, 1, 0, 0, 0, 2}
	got, err := Decode("db/old_tables/x", data, testStore(t))
	require.NoError(t, err)
	require.Len(t, got.Rows, 1)
	assert.True(t, got.Rows[0][0].BoolValue())

	out, err := Encode(got)
	require.NoError(t, err)
	assert.Equal(t, byte(1), out[len(out)-1], "booleans encode canonically")
}

func TestVersionZeroProbing(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	candidates := store.Candidates("old_tables")
	require.Len(t, candidates, 2)

	tbl := &Table{Name: "old_tables", Kind: KindDB, Definition: candidates[1], Rows: []Row{{Int(schema.I16, 300)}, {Int(schema.I16, -1)}}}
	data, err := Encode(tbl)
	require.NoError(t, err)

	got, err := Decode("db/old_tables/x", data, store)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), got.Version(), "the boolean layout leaves bytes over and is skipped")
	assert.Equal(t, tbl.Rows, got.Rows)

	_, err = Decode("db/old_tables/x", append(data, 0, 0, 0), store)
	assert.ErrorIs(t, err, ErrNoDefinition)
}

func TestApproximateDefinition(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	v3, _, err := store.Resolve("units_tables", 3)
	require.NoError(t, err)
	v4 := v3.Clone()
	v4.Version = 4

	tbl := &Table{Name: "units_tables", Kind: KindDB, Definition: v4, Rows: []Row{NewRow(v4)}}
	data, err := Encode(tbl)
	require.NoError(t, err)

	got, err := Decode("db/units_tables/x", data, store)
	require.NoError(t, err)
	assert.True(t, got.Approximate)
	assert.Equal(t, int32(3), got.Version())
}

func TestDecodeFailures(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	def, _, err := store.Resolve("units_tables", 3)
	require.NoError(t, err)
	tbl := &Table{Name: "units_tables", Kind: KindDB, Definition: def, Rows: []Row{NewRow(def), NewRow(def)}}
	data, err := Encode(tbl)
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		t.Parallel()
		bad := append([]byte(nil), data...)
		// Declare three rows; only two are present.
		binary.LittleEndian.PutUint32(bad[9:], 3)
		_, err := Decode("db/units_tables/x", bad, store)
		require.ErrorIs(t, err, ErrTruncatedRow)
		var de *DecodeError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "db/units_tables/x", de.Path)
		assert.Equal(t, 2, de.Row)
		assert.Equal(t, 0, de.Column)

		d := DecodeEntry("db/units_tables/x", bad, store)
		assert.Nil(t, d.Table)
		require.NotNil(t, d.Undecoded)
		assert.Equal(t, bad, d.Undecoded.Data)
		assert.Equal(t, "units_tables", d.Undecoded.Name)
		assert.ErrorIs(t, d.Undecoded.Err, ErrTruncatedRow)
	})

	t.Run("trailing bytes", func(t *testing.T) {
		t.Parallel()
		_, err := Decode("db/units_tables/x", append(append([]byte(nil), data...), 0), store)
		assert.ErrorIs(t, err, ErrSizeMismatch)
	})

	t.Run("unknown table", func(t *testing.T) {
		t.Parallel()
		_, err := Decode("db/missing_tables/x", data, store)
		assert.ErrorIs(t, err, ErrNoDefinition)
	})

	t.Run("no schema", func(t *testing.T) {
		t.Parallel()
		_, err := Decode("db/units_tables/x", data, nil)
		assert.ErrorIs(t, err, ErrNoDefinition)
	})

	t.Run("too short", func(t *testing.T) {
		t.Parallel()
		_, err := Decode("db/units_tables/x", []byte{1, 2}, store)
		assert.ErrorIs(t, err, ErrNotATable)
	})

	t.Run("not a table path", func(t *testing.T) {
		t.Parallel()
		d := DecodeEntry("script/a.lua", data, store)
		require.NotNil(t, d.Undecoded)
		assert.ErrorIs(t, d.Undecoded.Err, ErrNotATable)
	})

	t.Run("nested sequence truncated", func(t *testing.T) {
		t.Parallel()
		row := NewRow(def)
		row[2] = Sequence(schema.SequenceU32, []Row{{String(schema.StringU8, "ability")}})
		one := &Table{Name: "units_tables", Kind: KindDB, Definition: def, Rows: []Row{row}}
		raw, err := Encode(one)
		require.NoError(t, err)
		_, err = Decode("db/units_tables/x", raw[:len(raw)-2], store)
		require.ErrorIs(t, err, ErrTruncatedRow)
		var de *DecodeError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, 0, de.Row)
		assert.Equal(t, 2, de.Column)
	})
}

func TestDecodeZeroWidthRowCount(t *testing.T) {
	t.Parallel()

	header := []byte{0xFC, 0xFD, 0xFE, 0xFF, 1, 0, 0, 0, 1}

	t.Run("empty sequence", func(t *testing.T) {
		t.Parallel()
		def := &schema.Definition{Version: 1, Fields: []schema.Field{{Name: "seq", Type: schema.SequenceU32}}}
		data := append(append([]byte(nil), header...), 1, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0x7F)
		_, err := DecodeWithDefinition("db/x_tables/a", data, def)
		require.ErrorIs(t, err, ErrTruncatedRow)
		var de *DecodeError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, 0, de.Row)
		assert.Equal(t, 0, de.Column)
	})

	t.Run("no fields", func(t *testing.T) {
		t.Parallel()
		def := &schema.Definition{Version: 1}
		data := append(append([]byte(nil), header...), 0xFF, 0xFF, 0xFF, 0xFF)
		_, err := DecodeWithDefinition("db/x_tables/a", data, def)
		require.ErrorIs(t, err, ErrTruncatedRow)

		empty := append(append([]byte(nil), header...), 0, 0, 0, 0)
		tbl, err := DecodeWithDefinition("db/x_tables/a", empty, def)
		require.NoError(t, err)
		assert.Empty(t, tbl.Rows)
	})
}

func TestEncodeRejectsMismatchedRows(t *testing.T) {
	t.Parallel()

	def, _, err := testStore(t).Resolve("units_tables", 3)
	require.NoError(t, err)

	short := &Table{Name: "units_tables", Kind: KindDB, Definition: def, Rows: []Row{{String(schema.StringU8, "k")}}}
	_, err = Encode(short)
	assert.ErrorIs(t, err, ErrCellType)

	wrong := NewRow(def)
	wrong[1] = Float(schema.F32, 1)
	_, err = Encode(&Table{Name: "units_tables", Kind: KindDB, Definition: def, Rows: []Row{wrong}})
	assert.ErrorIs(t, err, ErrCellType)
}

func TestLocRoundTrip(t *testing.T) {
	t.Parallel()

	loc := NewLoc()
	loc.Rows = []Row{
		{String(schema.StringU16, "units_name_a"), String(schema.StringU16, "Spearmen"), Bool(true)},
		{String(schema.StringU16, "units_name_b"), String(schema.StringU16, ""), Bool(false)},
	}
	data, err := Encode(loc)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFE, 'L', 'O', 'C', 0, 1, 0, 0, 0, 2, 0, 0, 0}, data[:14])

	got, err := Decode("text/db/units.loc", data, nil)
	require.NoError(t, err)
	assert.Equal(t, KindLoc, got.Kind)
	assert.Equal(t, loc.Rows, got.Rows)
	assert.Equal(t, "units_name_a", got.KeyString(got.Rows[0]))

	_, err = Decode("text/db/units.loc", []byte("not a loc file!!"), nil)
	assert.ErrorIs(t, err, ErrNotATable)
}

func TestKeyString(t *testing.T) {
	t.Parallel()

	def, _, err := testStore(t).Resolve("everything_tables", 2)
	require.NoError(t, err)
	tbl := New("everything_tables", def)
	assert.Equal(t, "true| |-7", tbl.KeyString(everythingRow()))
}

func TestUpgradeToLatest(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	v1, _, err := store.Resolve("units_tables", 1)
	require.NoError(t, err)
	tbl := &Table{Name: "units_tables", Kind: KindDB, Definition: v1, Rows: []Row{{String(schema.StringU8, "spear")}}}

	require.True(t, tbl.UpgradeToLatest(store))
	assert.Equal(t, int32(3), tbl.Version())
	require.Len(t, tbl.Rows[0], 3)
	assert.Equal(t, "spear", tbl.Rows[0][0].StringValue())
	assert.Equal(t, int64(100), tbl.Rows[0][1].IntValue(), "new fields get their default")
	assert.Empty(t, tbl.Rows[0][2].Rows())

	assert.False(t, tbl.UpgradeToLatest(store), "already at the latest version")

	data, err := Encode(tbl)
	require.NoError(t, err)
	got, err := Decode("db/units_tables/x", data, store)
	require.NoError(t, err)
	assert.Equal(t, tbl.Rows, got.Rows)
}

func TestUpgradeConvertsTypes(t *testing.T) {
	t.Parallel()

	from := &schema.Definition{Version: 1, Fields: []schema.Field{
		{Name: "n", Type: schema.I32},
		{Name: "s", Type: schema.StringU8},
		{Name: "gone", Type: schema.Boolean},
	}}
	to := &schema.Definition{Version: 2, Fields: []schema.Field{
		{Name: "s", Type: schema.I64, Default: "5"},
		{Name: "n", Type: schema.StringU16},
	}}
	tbl := &Table{Name: "x_tables", Kind: KindDB, Definition: from, Rows: []Row{
		{Int(schema.I32, 42), String(schema.StringU8, "not a number"), Bool(true)},
	}}
	tbl.Upgrade(to)
	assert.Equal(t, Row{Int(schema.I64, 5), String(schema.StringU16, "42")}, tbl.Rows[0])
}

func TestCellText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cell Cell
		text string
		zero bool
	}{
		{Bool(false), "false", true},
		{Bool(true), "true", false},
		{Float(schema.F32, 0.1), "0.1", false},
		{Int(schema.I32, 0), "0", true},
		{Int(schema.OptionalI64, -3), "-3", false},
		{Colour(0xFF00), "00FF00", false},
		{Colour(0), "000000", true},
		{String(schema.StringU8, ""), "", true},
		{String(schema.OptionalStringU16, "x"), "x", false},
		{Sequence(schema.SequenceU32, nil), "0", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.text, tt.cell.Text())
		assert.Equal(t, tt.zero, tt.cell.IsZero(), tt.text)
	}
}

func TestParseCell(t *testing.T) {
	t.Parallel()

	c, err := ParseCell(&schema.Field{Type: schema.ColourRGB}, "#00FF00")
	require.NoError(t, err)
	assert.Equal(t, int64(0xFF00), c.IntValue())

	c, err = ParseCell(&schema.Field{Type: schema.Boolean}, "Yes")
	require.NoError(t, err)
	assert.True(t, c.BoolValue())

	_, err = ParseCell(&schema.Field{Type: schema.I16}, "70000")
	assert.ErrorIs(t, err, ErrCellType)

	c = DefaultCell(&schema.Field{Type: schema.I32, Default: "bogus"})
	assert.Equal(t, Int(schema.I32, 0), c)
}
