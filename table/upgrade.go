package table

import (
	"github.com/meigma/pack/schema"
)

// Upgrade re-maps every row onto def by field name. Fields new in def get
// their default value; a cell whose field changed type is converted through
// its text form and falls back to the default when that fails. Fields def
// drops are discarded.
func (t *Table) Upgrade(def *schema.Definition) {
	t.Rows = remapRows(t.Definition.Fields, def.Fields, t.Rows)
	t.Definition = def
	t.Approximate = false
}

// UpgradeToLatest upgrades t to the newest definition in store. It reports
// whether the definition changed.
func (t *Table) UpgradeToLatest(store *schema.Store) bool {
	if t.Kind != KindDB {
		return false
	}
	latest, ok := store.Latest(t.Name)
	if !ok || latest == t.Definition || latest.Version < t.Version() || (latest.Version == t.Version() && !t.Approximate) {
		return false
	}
	t.Upgrade(latest)
	return true
}

func remapRows(from, to []schema.Field, rows []Row) []Row {
	src := make(map[string]int, len(from))
	for i, f := range from {
		src[f.Name] = i
	}
	out := make([]Row, len(rows))
	for r, row := range rows {
		next := make(Row, len(to))
		for j := range to {
			f := &to[j]
			i, ok := src[f.Name]
			if !ok || i >= len(row) {
				next[j] = DefaultCell(f)
				continue
			}
			next[j] = convert(&from[i], f, row[i])
		}
		out[r] = next
	}
	return out
}

func convert(from, to *schema.Field, c Cell) Cell {
	switch {
	case from.Type == to.Type && to.Type.IsSequence():
		return Sequence(to.Type, remapRows(from.Fields, to.Fields, c.rows))
	case from.Type == to.Type:
		return c
	case from.Type.IsSequence() && to.Type.IsSequence():
		return Sequence(to.Type, remapRows(from.Fields, to.Fields, c.rows))
	}
	if v, err := ParseCell(to, c.Text()); err == nil && !to.Type.IsSequence() {
		return v
	}
	return DefaultCell(to)
}
