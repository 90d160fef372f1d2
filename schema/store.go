package schema

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Store resolves definitions with patches applied. Effective definitions are
// computed once per (table, version) and shared; callers must not modify
// them. A Store is safe for concurrent use.
type Store struct {
	schema  *Schema
	patches Patches
	logger  *slog.Logger

	group    singleflight.Group
	mu       sync.RWMutex
	resolved map[string]*Definition
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for resolution advisories.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithInitialPatches installs patches at construction.
func WithInitialPatches(p Patches) Option {
	return func(s *Store) {
		s.patches = p
	}
}

// NewStore wraps a parsed schema.
func NewStore(s *Schema, opts ...Option) *Store {
	st := &Store{schema: s, resolved: make(map[string]*Definition)}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Schema returns the stock schema.
func (s *Store) Schema() *Schema { return s.schema }

// WithPatches derives a Store with p laid over the current patches. The
// receiver and its memoised definitions are unaffected.
func (s *Store) WithPatches(p Patches) *Store {
	return NewStore(s.schema, WithLogger(s.logger), WithInitialPatches(s.patches.Merge(p)))
}

// HasTable reports whether the schema knows table.
func (s *Store) HasTable(table string) bool {
	return len(s.schema.Tables[table]) > 0
}

// Resolve returns the definition for table at version. An exact match wins;
// otherwise the newest definition below version is returned with
// approximate set. ErrNoDefinition is returned when neither exists.
func (s *Store) Resolve(table string, version int32) (def *Definition, approximate bool, err error) {
	defs := s.schema.Tables[table]
	for i := range defs {
		if defs[i].Version > version {
			continue
		}
		approximate = defs[i].Version != version
		def = s.effective(table, &defs[i])
		if approximate {
			s.log().Debug("approximate definition",
				"table", table,
				"requested", version,
				"selected", defs[i].Version)
		}
		return def, approximate, nil
	}
	return nil, false, fmt.Errorf("%w: %s version %d", ErrNoDefinition, table, version)
}

// Candidates returns the definitions below version 1, newest first. Tables
// without a version marker are tried against each of them.
func (s *Store) Candidates(table string) []*Definition {
	var out []*Definition
	defs := s.schema.Tables[table]
	for i := range defs {
		if defs[i].Version < 1 {
			out = append(out, s.effective(table, &defs[i]))
		}
	}
	return out
}

// Latest returns the newest definition of table.
func (s *Store) Latest(table string) (*Definition, bool) {
	defs := s.schema.Tables[table]
	if len(defs) == 0 {
		return nil, false
	}
	return s.effective(table, &defs[0]), true
}

// LatestVersion returns the newest known version of table.
func (s *Store) LatestVersion(table string) (int32, bool) {
	defs := s.schema.Tables[table]
	if len(defs) == 0 {
		return 0, false
	}
	return defs[0].Version, true
}

func (s *Store) effective(table string, base *Definition) *Definition {
	key := table + "\x00" + strconv.Itoa(int(base.Version))

	s.mu.RLock()
	def, ok := s.resolved[key]
	s.mu.RUnlock()
	if ok {
		return def
	}

	v, _, _ := s.group.Do(key, func() (any, error) {
		s.mu.RLock()
		def, ok := s.resolved[key]
		s.mu.RUnlock()
		if ok {
			return def, nil
		}
		def = s.patches.Apply(table, base)
		s.mu.Lock()
		s.resolved[key] = def
		s.mu.Unlock()
		return def, nil
	})
	return v.(*Definition) //nolint:forcetypeassert // only *Definition is stored
}
