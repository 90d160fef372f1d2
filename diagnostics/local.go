package diagnostics

import (
	"strings"
	"sync"

	"github.com/meigma/pack/table"
)

// localIndex answers reference lookups against the tables being checked,
// which take precedence over the dependency cache. Column indexes are built
// on first use.
type localIndex struct {
	tables map[string][]*table.Table

	mu   sync.Mutex
	cols map[localKey]*localColumn
}

type localKey struct {
	table, column string
}

type localColumn struct {
	once   sync.Once
	known  bool
	values map[string]struct{}
}

func newLocalIndex(targets []Target) *localIndex {
	l := &localIndex{
		tables: make(map[string][]*table.Table),
		cols:   make(map[localKey]*localColumn),
	}
	for _, t := range targets {
		if t.Table != nil && t.Table.Kind == table.KindDB {
			l.tables[t.Table.Name] = append(l.tables[t.Table.Name], t.Table)
		}
	}
	return l
}

func (l *localIndex) hasTable(name string) bool {
	return len(l.tables[name]) > 0
}

func (l *localIndex) column(name, column string) *localColumn {
	key := localKey{table: name, column: column}
	l.mu.Lock()
	c, ok := l.cols[key]
	if !ok {
		c = &localColumn{}
		l.cols[key] = c
	}
	l.mu.Unlock()

	c.once.Do(func() {
		c.values = make(map[string]struct{})
		for _, t := range l.tables[name] {
			col := t.Column(column)
			if col < 0 {
				continue
			}
			c.known = true
			for _, row := range t.Rows {
				if col < len(row) {
					c.values[row[col].Text()] = struct{}{}
				}
			}
		}
	})
	return c
}

func (c *localColumn) has(value string) bool {
	_, ok := c.values[value]
	return ok
}

// pathSet holds the lowercased entry paths of the checked archive and every
// folder above them.
type pathSet map[string]struct{}

func newPathSet(a Archive) pathSet {
	s := make(pathSet)
	if a == nil {
		return s
	}
	for _, p := range a.Paths() {
		p = strings.ToLower(p)
		s[p] = struct{}{}
		for i := strings.LastIndexByte(p, '/'); i > 0; i = strings.LastIndexByte(p[:i], '/') {
			s[p[:i]] = struct{}{}
		}
	}
	return s
}

func (s pathSet) has(p string) bool {
	_, ok := s[strings.ToLower(p)]
	return ok
}
