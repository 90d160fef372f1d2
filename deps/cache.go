// Package deps builds and serves the dependency cache: the merged,
// read-only table data that cross-table references are validated against.
//
// A Cache is an ordered list of tier snapshots (current archive, parent
// archives, vanilla game data, bulk reference data). Resolve returns the
// first match in tier order; ResolveAll returns every match so callers can
// compare what each tier says. A built Cache is never mutated and may be
// shared by any number of readers; Manager replaces it atomically when it
// is rebuilt.
package deps

import (
	"slices"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/pack/table"
)

// Match is one row found by a lookup.
type Match struct {
	Tier   Tier
	Source string
	Path   string

	// Row is the index of the row within Table.
	Row   int
	Table *table.Table
}

// Cells returns the matched row.
func (m Match) Cells() table.Row { return m.Table.Rows[m.Row] }

// Cache is an immutable, tiered knowledge base of decoded tables.
type Cache struct {
	game       string
	generation Generation
	built      time.Time
	tiers      []*Snapshot // priority order, at most one per tier
	problems   []*table.Undecoded
	failures   []*SourceError
}

// TableName normalises a reference target to its table name. References
// may omit the "_tables" suffix.
func TableName(ref string) string {
	if strings.HasSuffix(ref, "_tables") {
		return ref
	}
	return ref + "_tables"
}

// Game returns the game the cache was built for.
func (c *Cache) Game() string { return c.game }

// Generation returns the build generation of the cache.
func (c *Cache) Generation() Generation { return c.generation }

// BuiltAt returns when the cache was built.
func (c *Cache) BuiltAt() time.Time { return c.built }

// Stale reports whether the cache was built from inputs other than the
// ones fp describes. A stale cache stays usable.
func (c *Cache) Stale(fp digest.Digest) bool { return c.generation.Stale(fp) }

// Tiers returns the tiers present, in priority order.
func (c *Cache) Tiers() []Tier {
	out := make([]Tier, len(c.tiers))
	for i, s := range c.tiers {
		out[i] = s.tier
	}
	return out
}

// Snapshot returns the snapshot of tier.
func (c *Cache) Snapshot(tier Tier) (*Snapshot, bool) {
	if c == nil {
		return nil, false
	}
	for _, s := range c.tiers {
		if s.tier == tier {
			return s, true
		}
	}
	return nil, false
}

// HasBulk reports whether bulk reference data was loaded.
func (c *Cache) HasBulk() bool {
	_, ok := c.Snapshot(TierBulk)
	return ok
}

// Problems returns the table files that failed to decode during the build.
func (c *Cache) Problems() []*table.Undecoded { return slices.Clone(c.problems) }

// Failures returns the archives the build could not read.
func (c *Cache) Failures() []*SourceError { return slices.Clone(c.failures) }

// Resolve returns the first row, in tier order, whose column holds value.
// Absence is reported by the boolean, never as an error.
func (c *Cache) Resolve(tableName, column, value string) (Match, bool) {
	if c == nil {
		return Match{}, false
	}
	name := TableName(tableName)
	for _, s := range c.tiers {
		refs := s.index(name, column).values[value]
		if len(refs) > 0 {
			return matchOf(s, refs[0]), true
		}
	}
	return Match{}, false
}

// ResolveAll returns every row whose column holds value, in tier order.
func (c *Cache) ResolveAll(tableName, column, value string) []Match {
	if c == nil {
		return nil
	}
	name := TableName(tableName)
	var out []Match
	for _, s := range c.tiers {
		for _, ref := range s.index(name, column).values[value] {
			out = append(out, matchOf(s, ref))
		}
	}
	return out
}

func matchOf(s *Snapshot, ref rowRef) Match {
	return Match{Tier: s.tier, Source: ref.file.Source, Path: ref.file.Path, Row: ref.row, Table: ref.file.Table}
}

// HasTable reports whether any tier holds a table called name.
func (c *Cache) HasTable(name string) bool {
	if c == nil {
		return false
	}
	name = TableName(name)
	for _, s := range c.tiers {
		if len(s.tables[name]) > 0 {
			return true
		}
	}
	return false
}

// HasColumn reports whether any tier's definition of table has column.
func (c *Cache) HasColumn(tableName, column string) bool {
	if c == nil {
		return false
	}
	name := TableName(tableName)
	for _, s := range c.tiers {
		if s.hasColumn(name, column) {
			return true
		}
	}
	return false
}

// Tables returns every file of table name across tiers, in priority order.
func (c *Cache) Tables(name string) []*TableFile {
	if c == nil {
		return nil
	}
	name = TableName(name)
	var out []*TableFile
	for _, s := range c.tiers {
		out = append(out, s.tables[name]...)
	}
	return out
}

// LatestVersion returns the highest definition version among the files of
// table name held by the vanilla tier, falling back to any tier.
func (c *Cache) LatestVersion(name string) (int32, bool) {
	name = TableName(name)
	if s, ok := c.Snapshot(TierVanilla); ok {
		if v, ok := latestIn(s.tables[name]); ok {
			return v, true
		}
	}
	return latestIn(c.Tables(name))
}

func latestIn(files []*TableFile) (int32, bool) {
	var (
		best  int32
		found bool
	)
	for _, f := range files {
		if v := f.Table.Version(); !found || v > best {
			best, found = v, true
		}
	}
	return best, found
}

// FileExists reports whether any tier holds an entry at path. Paths
// compare case-insensitively.
func (c *Cache) FileExists(path string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.tiers {
		if s.hasFile(path) {
			return true
		}
	}
	return false
}

// ReferenceValues returns every value of column in table mapped to the
// text of its lookup columns joined by ':'. The highest-priority tier wins
// for values several tiers hold.
func (c *Cache) ReferenceValues(tableName, column string, lookup []string) map[string]string {
	out := make(map[string]string)
	if c == nil {
		return out
	}
	name := TableName(tableName)
	for _, s := range c.tiers {
		for _, f := range s.tables[name] {
			col := f.Table.Column(column)
			if col < 0 {
				continue
			}
			lookupCols := make([]int, 0, len(lookup))
			for _, l := range lookup {
				if i := f.Table.Column(l); i >= 0 {
					lookupCols = append(lookupCols, i)
				}
			}
			for _, row := range f.Table.Rows {
				v := row[col].Text()
				if _, seen := out[v]; seen {
					continue
				}
				parts := make([]string, len(lookupCols))
				for i, lc := range lookupCols {
					parts[i] = row[lc].Text()
				}
				out[v] = strings.Join(parts, ":")
			}
		}
	}
	return out
}
