package deps

import (
	"strings"
	"sync"

	"github.com/meigma/pack/table"
)

// TableFile is one decoded table file held by a tier.
type TableFile struct {
	Tier Tier

	// Source names the archive (or bulk document) the file came from.
	Source string

	Path  string
	Table *table.Table
}

// Snapshot is the immutable content of one tier.
type Snapshot struct {
	tier   Tier
	order  []string                // table names in first-seen order
	tables map[string][]*TableFile // table name → files in load order
	files  map[string]struct{}     // lowercased entry paths

	mu      sync.Mutex
	indexes map[columnKey]*columnIndex
}

type columnKey struct {
	table  string
	column string
}

type rowRef struct {
	file *TableFile
	row  int
}

// columnIndex maps the text of every cell of one column to the rows that
// hold it. It is built on first use.
type columnIndex struct {
	once   sync.Once
	values map[string][]rowRef
}

func newSnapshot(tier Tier) *Snapshot {
	return &Snapshot{
		tier:    tier,
		tables:  make(map[string][]*TableFile),
		files:   make(map[string]struct{}),
		indexes: make(map[columnKey]*columnIndex),
	}
}

// Tier returns the tier the snapshot belongs to.
func (s *Snapshot) Tier() Tier { return s.tier }

// TableNames returns the names of the tables held, in load order.
func (s *Snapshot) TableNames() []string { return append([]string(nil), s.order...) }

// Files returns the table files of name.
func (s *Snapshot) Files(name string) []*TableFile { return s.tables[name] }

// claim records an entry path and reports whether it was new to the tier.
func (s *Snapshot) claim(path string) bool {
	key := strings.ToLower(path)
	if _, ok := s.files[key]; ok {
		return false
	}
	s.files[key] = struct{}{}
	return true
}

func (s *Snapshot) add(f *TableFile) {
	name := f.Table.Name
	if _, ok := s.tables[name]; !ok {
		s.order = append(s.order, name)
	}
	s.tables[name] = append(s.tables[name], f)
}

func (s *Snapshot) hasFile(path string) bool {
	_, ok := s.files[strings.ToLower(path)]
	return ok
}

func (s *Snapshot) index(name, column string) *columnIndex {
	key := columnKey{table: name, column: column}
	s.mu.Lock()
	idx, ok := s.indexes[key]
	if !ok {
		idx = &columnIndex{}
		s.indexes[key] = idx
	}
	s.mu.Unlock()

	idx.once.Do(func() {
		idx.values = make(map[string][]rowRef)
		for _, f := range s.tables[name] {
			col := f.Table.Column(column)
			if col < 0 {
				continue
			}
			for r, row := range f.Table.Rows {
				if col >= len(row) {
					continue
				}
				v := row[col].Text()
				idx.values[v] = append(idx.values[v], rowRef{file: f, row: r})
			}
		}
	})
	return idx
}

func (s *Snapshot) hasColumn(name, column string) bool {
	for _, f := range s.tables[name] {
		if f.Table.Column(column) >= 0 {
			return true
		}
	}
	return false
}
