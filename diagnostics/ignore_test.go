package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIgnoreList(t *testing.T) {
	t.Parallel()

	l, err := ParseIgnoreList([]byte(`
# whole tables
db/units_tables/skip

db/units_tables/mymod;faction;InvalidReference, FieldWithPathNotFound
db/units_tables/other;;EmptyRow
db/units_tables/fields;key,name
`))
	require.NoError(t, err)

	tests := []struct {
		name  string
		path  string
		rule  Rule
		field string
		want  bool
	}{
		{"prefix skips table", "db/units_tables/skip_me", DuplicatedRow, "", true},
		{"rule for field", "db/units_tables/mymod", InvalidReference, "faction", true},
		{"second rule for field", "db/units_tables/mymod", FieldWithPathNotFound, "faction", true},
		{"rule for other field", "db/units_tables/mymod", InvalidReference, "upkeep", false},
		{"other rule for field", "db/units_tables/mymod", EmptyKeyField, "faction", false},
		{"table-wide rule", "db/units_tables/other", EmptyRow, "", true},
		{"table-wide rule covers fields", "db/units_tables/other", EmptyRow, "key", true},
		{"table-wide rule only", "db/units_tables/other", DuplicatedRow, "", false},
		{"field covers every rule", "db/units_tables/fields", EmptyKeyField, "name", true},
		{"field list leaves table rules", "db/units_tables/fields", EmptyRow, "", false},
		{"unmatched path", "db/factions_tables/mymod", InvalidReference, "faction", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, l.Ignored(tc.path, tc.rule, tc.field))
		})
	}
}

func TestIgnoreListDisable(t *testing.T) {
	t.Parallel()

	var none *IgnoreList
	assert.False(t, none.Ignored("db/units_tables/a", EmptyRow, ""))
	assert.False(t, none.Disabled(EmptyRow))

	l := none.Disable(EmptyRow, DuplicatedRow)
	require.NotNil(t, l)
	assert.True(t, l.Disabled(EmptyRow))
	assert.True(t, l.Ignored("anything", DuplicatedRow, "key"))
	assert.False(t, l.Ignored("anything", InvalidReference, "key"))
}

func TestParseIgnoreListRejects(t *testing.T) {
	t.Parallel()

	for _, input := range []string{
		"db/a;b;c;d",
		";key;EmptyRow",
	} {
		_, err := ParseIgnoreList([]byte(input))
		require.ErrorIs(t, err, ErrInvalidIgnoreList, input)
	}
}
