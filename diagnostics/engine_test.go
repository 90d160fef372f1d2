package diagnostics

import (
	"context"
	"errors"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	packcore "github.com/meigma/pack/core"
	"github.com/meigma/pack/deps"
	"github.com/meigma/pack/schema"
	"github.com/meigma/pack/table"
)

const testSchema = `
version = 5

[[tables.units_tables]]
version = 2
fields = [
  { name = "key", type = "StringU8", is_key = true },
  { name = "faction", type = "StringU8", reference = { table = "factions", column = "key" } },
  { name = "upkeep", type = "I32", reference = { table = "upkeeps", column = "key" } },
  { name = "colour", type = "StringU8", reference = { table = "factions", column = "colour" } },
  { name = "mount", type = "StringU8", reference = { table = "mounts", column = "key" } },
  { name = "icon", type = "StringU8", is_filename = true, filename_relative_path = "ui/units/%.png" },
  { name = "label", type = "StringU16", not_empty = true },
]

[[tables.units_tables]]
version = 1
fields = [
  { name = "key", type = "StringU8", is_key = true },
  { name = "faction", type = "StringU8" },
]

[[tables.factions_tables]]
version = 1
fields = [
  { name = "key", type = "StringU8", is_key = true },
  { name = "name", type = "StringU16" },
]

[[tables.upkeeps_tables]]
version = 1
fields = [
  { name = "key", type = "I32", is_key = true },
]
`

func testStore(t *testing.T) *schema.Store {
	t.Helper()
	s, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)
	return schema.NewStore(s)
}

func newTable(t *testing.T, store *schema.Store, name string, version int32, rows ...table.Row) *table.Table {
	t.Helper()
	def, _, err := store.Resolve(name, version)
	require.NoError(t, err)
	tbl := table.New(name, def)
	tbl.Rows = rows
	return tbl
}

type unit struct {
	key, faction string
	upkeep       int64
	icon, label  string
}

func unitRow(u unit) table.Row {
	return table.Row{
		table.String(schema.StringU8, u.key),
		table.String(schema.StringU8, u.faction),
		table.Int(schema.I32, u.upkeep),
		table.String(schema.StringU8, ""),
		table.String(schema.StringU8, ""),
		table.String(schema.StringU8, u.icon),
		table.String(schema.StringU16, u.label),
	}
}

func unitsTable(t *testing.T, store *schema.Store, units ...unit) *table.Table {
	t.Helper()
	rows := make([]table.Row, len(units))
	for i, u := range units {
		rows[i] = unitRow(u)
	}
	return newTable(t, store, "units_tables", 2, rows...)
}

func oldUnitsTable(t *testing.T, store *schema.Store, rows ...[2]string) *table.Table {
	t.Helper()
	out := make([]table.Row, len(rows))
	for i, r := range rows {
		out[i] = table.Row{table.String(schema.StringU8, r[0]), table.String(schema.StringU8, r[1])}
	}
	return newTable(t, store, "units_tables", 1, out...)
}

// testCache builds a cache whose vanilla tier holds two factions and a unit
// icon.
func testCache(t *testing.T, store *schema.Store) *deps.Cache {
	t.Helper()
	factions := newTable(t, store, "factions_tables", 1,
		table.Row{table.String(schema.StringU8, "rome"), table.String(schema.StringU16, "Rome")},
		table.Row{table.String(schema.StringU8, "carthage"), table.String(schema.StringU16, "Carthage")},
	)
	data, err := table.Encode(factions)
	require.NoError(t, err)
	a := packcore.New(packcore.PFH5, packcore.FileTypeMod)
	require.NoError(t, a.SetAll([]packcore.File{
		{Path: "db/factions_tables/data__", Data: data},
		{Path: "ui/units/spear.png", Data: []byte{0x89, 'P', 'N', 'G'}},
	}))
	c, err := deps.Build(context.Background(), store, deps.Input{
		Game:    "warhammer_3",
		Vanilla: []deps.ArchiveSource{{Name: "data.pack", Archive: a}},
	})
	require.NoError(t, err)
	return c
}

func byRule(findings []Finding, rule Rule) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Rule == rule {
			out = append(out, f)
		}
	}
	return out
}

func rowsOf(findings []Finding) []int {
	var out []int
	for _, f := range findings {
		out = append(out, f.Cells[0].Row)
	}
	return out
}

type fakeArchive struct {
	paths, deps []string
}

func (a fakeArchive) Paths() []string        { return a.paths }
func (a fakeArchive) Dependencies() []string { return a.deps }

func TestDuplicatedKeysReportsEveryMember(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	tbl := unitsTable(t, store,
		unit{key: "k1", faction: "rome", label: "A"},
		unit{key: "k2", faction: "rome", label: "B"},
		unit{key: "k1", faction: "carthage", label: "C"},
		unit{key: "k1", faction: "rome", label: "D"},
	)
	findings, err := New(WithCache(testCache(t, store))).Run(context.Background(), Input{
		Tables: []Target{{Path: "db/units_tables/mymod", Table: tbl}},
	})
	require.NoError(t, err)

	dups := byRule(findings, DuplicatedCombinedKeys)
	require.Len(t, dups, 3)
	assert.Equal(t, []int{0, 2, 3}, rowsOf(dups))
	for _, f := range dups {
		assert.Equal(t, Error, f.Severity)
		assert.Equal(t, "db/units_tables/mymod", f.Path)
		assert.Equal(t, "Duplicated combined keys: k1.", f.Message)
		assert.Equal(t, []Cell{{Row: f.Cells[0].Row, Column: 0}}, f.Cells)
	}
	assert.Empty(t, byRule(findings, DuplicatedRow))
}

func TestDuplicatedRow(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	tbl := oldUnitsTable(t, store, [2]string{"a", "rome"}, [2]string{"b", "rome"}, [2]string{"a", "rome"})
	findings, err := New().Run(context.Background(), Input{
		Tables: []Target{{Path: "db/units_tables/mymod", Table: tbl}},
	})
	require.NoError(t, err)

	rows := byRule(findings, DuplicatedRow)
	require.Len(t, rows, 2)
	assert.Equal(t, []int{0, 2}, rowsOf(rows))
	assert.Equal(t, Warning, rows[0].Severity)
	assert.Equal(t, "Duplicated row: a| |rome.", rows[0].Message)
	assert.Len(t, byRule(findings, DuplicatedCombinedKeys), 2)
}

func TestReferences(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	units := unitsTable(t, store,
		unit{key: "spear", faction: "rome", upkeep: 5, icon: "spear", label: "Spear"},
		unit{key: "sword", faction: "gaul", icon: "ghost", label: "Sword"},
		unit{key: "axe", upkeep: 7, label: "Axe"},
		unit{key: "bow", faction: "carthage", label: "Bow"},
		unit{key: "sling", faction: "numidia", label: "Sling"},
	)
	upkeeps := newTable(t, store, "upkeeps_tables", 1, table.Row{table.Int(schema.I32, 5)})
	localFactions := newTable(t, store, "factions_tables", 1,
		table.Row{table.String(schema.StringU8, "numidia"), table.String(schema.StringU16, "Numidia")})

	findings, err := New(WithCache(testCache(t, store))).Run(context.Background(), Input{
		Tables: []Target{
			{Path: "db/units_tables/mymod", Table: units},
			{Path: "db/upkeeps_tables/mymod", Table: upkeeps},
			{Path: "db/factions_tables/mymod", Table: localFactions},
		},
	})
	require.NoError(t, err)

	invalid := byRule(findings, InvalidReference)
	require.Len(t, invalid, 2, "zero values, vanilla values and local values are valid")
	assert.Equal(t, Error, invalid[0].Severity)
	assert.Equal(t, []Cell{{Row: 1, Column: 1}}, invalid[0].Cells)
	assert.Equal(t, `Invalid reference "gaul" in column "faction".`, invalid[0].Message)
	assert.Equal(t, []Cell{{Row: 2, Column: 2}}, invalid[1].Cells)

	noTable := byRule(findings, NoReferenceTableFound)
	require.Len(t, noTable, 1)
	assert.Equal(t, Info, noTable[0].Severity)
	assert.Equal(t, []Cell{{Row: -1, Column: 4}}, noTable[0].Cells)

	noColumn := byRule(findings, NoReferenceColumnFound)
	require.Len(t, noColumn, 1)
	assert.Equal(t, Warning, noColumn[0].Severity)
	assert.Equal(t, []Cell{{Row: -1, Column: 3}}, noColumn[0].Cells)

	paths := byRule(findings, FieldWithPathNotFound)
	require.Len(t, paths, 1)
	assert.Equal(t, []Cell{{Row: 1, Column: 5}}, paths[0].Cells)
	assert.Equal(t, "Path not found: ui/units/ghost.png.", paths[0].Message)
}

func TestInvalidReferenceAgainstEveryTier(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	units := unitsTable(t, store, unit{key: "spear", faction: "nowhere", label: "Spear"})
	findings, err := New(WithCache(testCache(t, store))).Run(context.Background(), Input{
		Tables: []Target{{Path: "db/units_tables/mymod", Table: units}},
	})
	require.NoError(t, err)

	invalid := byRule(findings, InvalidReference)
	require.Len(t, invalid, 1)
	assert.Equal(t, Error, invalid[0].Severity)
	assert.Equal(t, []Cell{{Row: 0, Column: 1}}, invalid[0].Cells)
}

func TestLocalArchivePathsSatisfyPathChecks(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	units := unitsTable(t, store,
		unit{key: "sword", icon: "ghost", label: "Sword"},
		unit{key: "axe", icon: `Axe\Big`, label: "Axe"},
		unit{key: "bow", icon: "*", label: "Bow"},
	)
	findings, err := New(WithCache(testCache(t, store))).Run(context.Background(), Input{
		Tables:  []Target{{Path: "db/units_tables/mymod", Table: units}},
		Archive: fakeArchive{paths: []string{"UI/Units/Ghost.png", "ui/units/axe/big.png"}},
	})
	require.NoError(t, err)
	assert.Empty(t, byRule(findings, FieldWithPathNotFound))
}

func TestOutdatedTable(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	old := oldUnitsTable(t, store, [2]string{"spear", "rome"})
	current := unitsTable(t, store, unit{key: "spear", label: "Spear"})
	in := Input{Tables: []Target{
		{Path: "db/units_tables/old", Table: old},
		{Path: "db/units_tables/new", Table: current},
	}}

	findings, err := New(WithSchemas(store)).Run(context.Background(), in)
	require.NoError(t, err)
	outdated := byRule(findings, OutdatedTable)
	require.Len(t, outdated, 1)
	assert.Equal(t, Warning, outdated[0].Severity)
	assert.Equal(t, "db/units_tables/old", outdated[0].Path)
	assert.Empty(t, outdated[0].Cells)

	findings, err = New().Run(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, byRule(findings, OutdatedTable), "without schemas or vanilla data no version is known")
}

func TestTableNameRules(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	tbl := oldUnitsTable(t, store, [2]string{"spear", "rome"})
	run := func(e *Engine, p string) []Finding {
		t.Helper()
		findings, err := e.Run(context.Background(), Input{Tables: []Target{{Path: p, Table: tbl}}})
		require.NoError(t, err)
		return findings
	}

	findings := run(New(), "db/units_tables/my mod 2")
	assert.Len(t, byRule(findings, TableNameEndsInNumber), 1)
	assert.Len(t, byRule(findings, TableNameHasSpace), 1)
	assert.Empty(t, byRule(findings, TableIsDataCoring))

	findings = run(New(), "db/units_tables/units")
	require.Len(t, byRule(findings, TableIsDataCoring), 1)
	assert.Equal(t, Warning, byRule(findings, TableIsDataCoring)[0].Severity)

	findings = run(New(WithVanillaTableName("data__")), "db/units_tables/data__")
	assert.Len(t, byRule(findings, TableIsDataCoring), 1)
	assert.Empty(t, byRule(run(New(WithVanillaTableName("data__")), "db/units_tables/units"), TableIsDataCoring))

	findings = run(New(WithBannedTables("units")), "DB/Units_Tables/mymod")
	require.Len(t, byRule(findings, BannedTable), 1)
	assert.Equal(t, Error, byRule(findings, BannedTable)[0].Severity)
	assert.Empty(t, byRule(run(New(WithBannedTables("factions_tables")), "db/units_tables/mymod"), BannedTable))
}

func TestEmptyRules(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	old := oldUnitsTable(t, store, [2]string{"", ""}, [2]string{"", "rome"}, [2]string{"spear", "rome"})
	current := unitsTable(t, store, unit{key: "spear"})
	findings, err := New().Run(context.Background(), Input{Tables: []Target{
		{Path: "db/units_tables/old", Table: old},
		{Path: "db/units_tables/new", Table: current},
	}})
	require.NoError(t, err)

	empty := byRule(findings, EmptyRow)
	require.Len(t, empty, 1)
	assert.Equal(t, []Cell{{Row: 0, Column: -1}}, empty[0].Cells)
	assert.Equal(t, Error, empty[0].Severity)

	keyField := byRule(findings, EmptyKeyField)
	assert.Equal(t, []int{0, 1}, rowsOf(keyField))
	assert.Equal(t, `Empty key for column "key".`, keyField[0].Message)
	assert.Equal(t, []int{0, 1}, rowsOf(byRule(findings, EmptyKeyFields)))

	cannot := byRule(findings, ValueCannotBeEmpty)
	require.Len(t, cannot, 1)
	assert.Equal(t, "db/units_tables/new", cannot[0].Path)
	assert.Equal(t, []Cell{{Row: 0, Column: 6}}, cannot[0].Cells)
}

func TestLocRules(t *testing.T) {
	t.Parallel()

	loc := table.NewLoc()
	for _, r := range [][2]string{
		{"a\tb", "x"},
		{"", ""},
		{"", "orphan"},
		{"k", "line\nbreak"},
		{"dup", "same"},
		{"dup", "same"},
	} {
		loc.Rows = append(loc.Rows, table.Row{
			table.String(schema.StringU16, r[0]),
			table.String(schema.StringU16, r[1]),
			table.Bool(true),
		})
	}
	findings, err := New().Run(context.Background(), Input{Tables: []Target{{Path: "text/db/units.loc", Table: loc}}})
	require.NoError(t, err)

	assert.Equal(t, []int{0}, rowsOf(byRule(findings, InvalidLocKey)))
	assert.Equal(t, []int{1}, rowsOf(byRule(findings, EmptyRow)))
	assert.Equal(t, []int{2}, rowsOf(byRule(findings, EmptyKeyField)))
	escapes := byRule(findings, InvalidEscape)
	require.Len(t, escapes, 1)
	assert.Equal(t, []Cell{{Row: 3, Column: 1}}, escapes[0].Cells)
	assert.Equal(t, []int{4, 5}, rowsOf(byRule(findings, DuplicatedRow)))
	assert.Equal(t, []int{1, 2, 4, 5}, rowsOf(byRule(findings, DuplicatedCombinedKeys)))

	var rules []Rule
	for _, f := range findings {
		if f.Path != "" && (len(rules) == 0 || rules[len(rules)-1] != f.Rule) {
			rules = append(rules, f.Rule)
		}
	}
	assert.Equal(t, []Rule{InvalidLocKey, EmptyRow, EmptyKeyField, InvalidEscape, DuplicatedRow, DuplicatedCombinedKeys}, rules)
}

func TestFindingsFollowInputAndCatalogueOrder(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	first := oldUnitsTable(t, store, [2]string{"a", "x"}, [2]string{"a", "y"})
	second := oldUnitsTable(t, store, [2]string{"", "x"})
	findings, err := New(WithSchemas(store), WithWorkers(4)).Run(context.Background(), Input{Tables: []Target{
		{Path: "db/units_tables/z", Table: first},
		{Path: "db/units_tables/a", Table: second},
	}})
	require.NoError(t, err)

	var got []Rule
	var paths []string
	for _, f := range findings {
		if f.Path != "" {
			got = append(got, f.Rule)
			paths = append(paths, f.Path)
		}
	}
	assert.Equal(t, []Rule{
		OutdatedTable, DuplicatedCombinedKeys, DuplicatedCombinedKeys,
		OutdatedTable, EmptyKeyField, EmptyKeyFields,
	}, got)
	assert.Equal(t, []string{
		"db/units_tables/z", "db/units_tables/z", "db/units_tables/z",
		"db/units_tables/a", "db/units_tables/a", "db/units_tables/a",
	}, paths)
}

func TestRuleFailureIsContained(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	tbl := oldUnitsTable(t, store, [2]string{"a", "x"}, [2]string{"a", "y"})
	e := New(
		WithRule("Panics", Warning, table.KindDB, func(c *Check) error {
			c.Report(nil, "partial")
			panic("boom")
		}),
		WithRule("Errors", Warning, table.KindDB, func(*Check) error {
			return errors.New("no data")
		}),
		WithRule("Works", Info, table.KindDB, func(c *Check) error {
			c.Report([]Cell{{Row: -1, Column: -1}}, "rows: %d", len(c.Table.Rows))
			return nil
		}),
	)
	findings, err := e.Run(context.Background(), Input{Tables: []Target{{Path: "db/units_tables/mymod", Table: tbl}}})
	require.NoError(t, err)

	failed := byRule(findings, RuleExecutionFailed)
	require.Len(t, failed, 2)
	assert.Equal(t, Error, failed[0].Severity)
	assert.Contains(t, failed[0].Message, ErrRuleExecutionFailed.Error())
	assert.Contains(t, failed[0].Message, "Panics")
	assert.Contains(t, failed[0].Message, "boom")
	assert.Contains(t, failed[1].Message, "no data")
	assert.Empty(t, byRule(findings, "Panics"), "partial findings of a failed rule are dropped")

	works := byRule(findings, "Works")
	require.Len(t, works, 1)
	assert.Equal(t, "rows: 2", works[0].Message)
	assert.Len(t, byRule(findings, DuplicatedCombinedKeys), 2, "built-in rules still run")
}

func TestIgnoreListApplies(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	units := unitsTable(t, store,
		unit{key: "sword", faction: "gaul", label: "Sword"},
		unit{key: "axe", upkeep: 7, label: "Axe"},
	)
	ignore, err := ParseIgnoreList([]byte(`
# silence one column
db/units_tables/mymod;faction;InvalidReference
db/units_tables/skipped
`))
	require.NoError(t, err)
	ignore.Disable(NoReferenceTableFound)

	upkeeps := newTable(t, store, "upkeeps_tables", 1, table.Row{table.Int(schema.I32, 5)})

	findings, err := New(WithCache(testCache(t, store)), WithIgnoreList(ignore)).Run(context.Background(), Input{Tables: []Target{
		{Path: "db/units_tables/mymod", Table: units},
		{Path: "db/units_tables/skipped_too", Table: units},
		{Path: "db/upkeeps_tables/mymod", Table: upkeeps},
	}})
	require.NoError(t, err)

	invalid := byRule(findings, InvalidReference)
	require.Len(t, invalid, 1)
	assert.Equal(t, []Cell{{Row: 1, Column: 2}}, invalid[0].Cells)
	assert.Empty(t, byRule(findings, NoReferenceTableFound))
	for _, f := range findings {
		assert.NotEqual(t, "db/units_tables/skipped_too", f.Path)
	}
}

func TestArchiveRules(t *testing.T) {
	t.Parallel()

	findings, err := New().Run(context.Background(), Input{
		Name:    "my mod.pack",
		Archive: fakeArchive{deps: []string{"data.pack", "bad name.pack", "", "mod.zip"}},
	})
	require.NoError(t, err)

	name := byRule(findings, InvalidPackName)
	require.Len(t, name, 1)
	assert.Equal(t, "my mod.pack", name[0].Path)
	assert.Equal(t, Error, name[0].Severity)
	assert.Equal(t, []int{1, 2, 3}, rowsOf(byRule(findings, InvalidDependencyPackName)))

	findings, err = New().Run(context.Background(), Input{Name: "good.pack", Archive: fakeArchive{deps: []string{"data.pack"}}})
	require.NoError(t, err)
	assert.Empty(t, byRule(findings, InvalidPackName))
	assert.Empty(t, byRule(findings, InvalidDependencyPackName))
}

func TestCacheRules(t *testing.T) {
	t.Parallel()

	findings, err := New().Run(context.Background(), Input{})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, DependenciesCacheNotGenerated, findings[0].Rule)
	assert.Equal(t, Error, findings[0].Severity)
	assert.Empty(t, findings[0].Path)

	store := testStore(t)
	c := testCache(t, store)
	findings, err = New(WithCache(c)).Run(context.Background(), Input{Fingerprint: c.Generation().Fingerprint})
	require.NoError(t, err)
	assert.Empty(t, findings)

	findings, err = New(WithCache(c)).Run(context.Background(), Input{Fingerprint: digest.FromString("other inputs")})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, DependenciesCacheOutdated, findings[0].Rule)

	findings, err = New(WithIgnoreList(new(IgnoreList).Disable(DependenciesCacheNotGenerated))).Run(context.Background(), Input{})
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	findings, err := New().Run(ctx, Input{Tables: []Target{
		{Path: "db/units_tables/a", Table: oldUnitsTable(t, store, [2]string{"a", "x"}, [2]string{"a", "x"})},
	}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, findings)
}

func TestRulesCatalogue(t *testing.T) {
	t.Parallel()

	rules := Rules()
	assert.Equal(t, OutdatedTable, rules[0])
	assert.Contains(t, rules, InvalidLocKey)
	assert.Contains(t, rules, DependenciesCacheOutdated)
	seen := make(map[Rule]bool)
	for _, r := range rules {
		assert.False(t, seen[r], "%s listed twice", r)
		seen[r] = true
	}
}

func TestSeverityText(t *testing.T) {
	t.Parallel()

	text, err := Warning.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "warning", string(text))

	var s Severity
	require.NoError(t, s.UnmarshalText([]byte("ERROR")))
	assert.Equal(t, Error, s)
	require.Error(t, s.UnmarshalText([]byte("fatal")))
	assert.Equal(t, "Severity(7)", Severity(7).String())

	f := Finding{Severity: Error, Rule: EmptyRow, Path: "db/x_tables/a", Cells: []Cell{{Row: 2, Column: -1}}, Message: "Empty row."}
	assert.Equal(t, "error EmptyRow db/x_tables/a (2,-1): Empty row.", f.String())
}
