package pack

import (
	"context"
	"fmt"

	packcore "github.com/meigma/pack/core"
	"github.com/meigma/pack/deps"
	"github.com/meigma/pack/diagnostics"
	"github.com/meigma/pack/schema"
	"github.com/meigma/pack/table"
)

// Re-export the types callers handle most.
type (
	// Archive is an open Pack archive.
	Archive = packcore.Archive

	// Option configures opening an archive.
	Option = packcore.Option

	// SaveOption configures saving an archive.
	SaveOption = packcore.SaveOption

	// Table is a decoded DB or Loc table.
	Table = table.Table

	// Decoded is the result of DecodeTable: a table, or the undecoded marker
	// that keeps the entry's bytes.
	Decoded = table.Decoded

	// Cache is an immutable dependency cache.
	Cache = deps.Cache

	// Finding is one diagnostic result.
	Finding = diagnostics.Finding

	// Target is a decoded table to check, with the entry path it came from.
	Target = diagnostics.Target
)

// NewArchive creates an empty, editable archive.
func NewArchive(version packcore.Version, fileType packcore.FileType, opts ...Option) *Archive {
	return packcore.New(version, fileType, opts...)
}

// Open decodes an archive held in memory.
func Open(data []byte, opts ...Option) (*Archive, error) {
	return packcore.OpenBytes(data, opts...)
}

// OpenFile opens the archive at path. With core.WithLazyLoad the file stays
// open until the archive is closed.
func OpenFile(path string, opts ...Option) (*Archive, error) {
	return packcore.OpenFile(path, opts...)
}

// Save encodes a and atomically writes the result to target.
func Save(a *Archive, target string, opts ...SaveOption) error {
	return a.SaveFile(target, opts...)
}

// ListEntries returns the entry paths of a in index order.
func ListEntries(a *Archive) []string {
	return a.Paths()
}

// GetEntry returns a copy of the decoded bytes of the entry at path.
func GetEntry(a *Archive, path string) ([]byte, error) {
	return a.Get(path)
}

// SetEntry replaces the entry at path, or appends a new one.
func SetEntry(a *Archive, path string, data []byte) error {
	return a.Set(path, data)
}

// DecodeTable decodes the entry at path. A payload that does not decode is
// returned as an undecoded marker rather than an error.
func DecodeTable(path string, data []byte, store *schema.Store) Decoded {
	return table.DecodeEntry(path, data, store)
}

// EncodeTable encodes t in its kind's binary layout.
func EncodeTable(t *Table, opts ...table.EncodeOption) ([]byte, error) {
	return table.Encode(t, opts...)
}

// ArchiveSet names the archives a dependency cache is built from.
type ArchiveSet struct {
	// Current is the archive being edited, if any. It is read as it is.
	Current *Archive

	// CurrentName labels Current in failures. Defaults to "current".
	CurrentName string

	// Parents are paths of the archives Current depends on.
	Parents []string

	// Vanilla are paths of the base game archives in load order.
	Vanilla []string

	// Bulk is the optional reference data of tables absent from the vanilla
	// archives.
	Bulk *deps.Bulk
}

// Input converts s to a build input for game.
func (s ArchiveSet) Input(game string) deps.Input {
	in := deps.Input{Game: game, Bulk: s.Bulk}
	if s.Current != nil {
		name := s.CurrentName
		if name == "" {
			name = "current"
		}
		in.Current = &deps.ArchiveSource{Name: name, Archive: s.Current}
	}
	for _, p := range s.Parents {
		in.Parents = append(in.Parents, deps.ArchiveSource{Path: p})
	}
	for _, p := range s.Vanilla {
		in.Vanilla = append(in.Vanilla, deps.ArchiveSource{Path: p})
	}
	return in
}

// BuildDependencyCache builds a dependency cache for game from set. Archives
// that cannot be read are recorded in the cache's failures; only
// cancellation fails the build.
func BuildDependencyCache(ctx context.Context, schemas *schema.Store, game string, set ArchiveSet, opts ...deps.BuildOption) (*Cache, error) {
	return deps.Build(ctx, schemas, set.Input(game), opts...)
}

// RunDiagnostics checks tables against cache, which may be nil, skipping
// what ignore excludes. Options are applied after the cache and ignore list.
func RunDiagnostics(ctx context.Context, tables []Target, cache *Cache, ignore *diagnostics.IgnoreList, opts ...diagnostics.Option) ([]Finding, error) {
	all := append([]diagnostics.Option{
		diagnostics.WithCache(cache),
		diagnostics.WithIgnoreList(ignore),
	}, opts...)
	return diagnostics.New(all...).Run(ctx, diagnostics.Input{Tables: tables})
}

// LoadSchema parses a schema document and the optional patch document
// applied over it.
func LoadSchema(data, patches []byte, opts ...schema.Option) (*schema.Store, error) {
	s, err := schema.Parse(data)
	if err != nil {
		return nil, err
	}
	if len(patches) > 0 {
		p, err := schema.ParsePatches(patches)
		if err != nil {
			return nil, fmt.Errorf("load patches: %w", err)
		}
		opts = append(opts, schema.WithInitialPatches(p))
	}
	return schema.NewStore(s, opts...), nil
}
