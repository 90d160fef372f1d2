package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meigma/pack"
	packcore "github.com/meigma/pack/core"
	"github.com/meigma/pack/deps"
	"github.com/meigma/pack/deps/store"
	"github.com/meigma/pack/internal/workpool"
	"github.com/meigma/pack/schema"
	"github.com/meigma/pack/table"
)

var errNoSchema = errors.New("schema_file is not configured")

func openOptions() []packcore.Option {
	return []packcore.Option{
		packcore.WithLazyLoad(state.cfg.LazyLoad),
		packcore.WithWorkers(state.cfg.Workers),
		packcore.WithLogger(state.logger),
	}
}

func loadSchemas() (*schema.Store, error) {
	cfg := state.cfg
	if cfg.SchemaFile == "" {
		return nil, errNoSchema
	}
	data, err := os.ReadFile(cfg.SchemaFile)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var patches []byte
	if cfg.PatchesFile != "" {
		if patches, err = os.ReadFile(cfg.PatchesFile); err != nil {
			return nil, fmt.Errorf("read patches: %w", err)
		}
	}
	return pack.LoadSchema(data, patches, schema.WithLogger(state.logger))
}

func loadBulk() (*deps.Bulk, error) {
	if state.cfg.BulkFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(state.cfg.BulkFile)
	if err != nil {
		return nil, fmt.Errorf("read bulk data: %w", err)
	}
	return deps.ParseBulk(data)
}

type decodeResult struct {
	targets   []pack.Target
	undecoded []*table.Undecoded
	bytes     int64
}

// decodeTables decodes every table entry of a, in index order.
func decodeTables(ctx context.Context, a *pack.Archive, schemas *schema.Store) (decodeResult, error) {
	var paths []string
	for _, p := range pack.ListEntries(a) {
		if _, _, ok := table.KindOf(p); ok {
			paths = append(paths, p)
		}
	}

	type decoded struct {
		d    pack.Decoded
		size int
	}
	pool := workpool.New(workpool.WithWorkers(state.cfg.Workers), workpool.WithLogger(state.logger))
	out, err := workpool.Map(ctx, pool, paths, func(_ context.Context, _ int, p string) (decoded, error) {
		data, err := pack.GetEntry(a, p)
		if err != nil {
			kind, name, _ := table.KindOf(p)
			return decoded{d: pack.Decoded{Undecoded: &table.Undecoded{Path: p, Name: name, Kind: kind, Err: err}}}, nil
		}
		return decoded{d: pack.DecodeTable(p, data, schemas), size: len(data)}, nil
	})
	if err != nil {
		return decodeResult{}, err
	}

	var res decodeResult
	for i, o := range out {
		res.bytes += int64(o.size)
		if o.d.Undecoded != nil {
			res.undecoded = append(res.undecoded, o.d.Undecoded)
			continue
		}
		res.targets = append(res.targets, pack.Target{Path: paths[i], Table: o.d.Table})
	}
	return res, nil
}

// archiveSet names the archives a dependency cache for current is built
// from. Parents resolve against the game data folder, or the folder of
// current when no game path is configured.
func archiveSet(current *pack.Archive, currentPath string, bulk *deps.Bulk) pack.ArchiveSet {
	set := pack.ArchiveSet{
		Vanilla: state.cfg.VanillaPaths(),
		Bulk:    bulk,
	}
	if current == nil {
		return set
	}
	set.Current = current
	set.CurrentName = filepath.Base(currentPath)
	dir := state.cfg.DataDir()
	if dir == "" {
		dir = filepath.Dir(currentPath)
	}
	for _, name := range current.Dependencies() {
		set.Parents = append(set.Parents, filepath.Join(dir, name))
	}
	return set
}

func newManager(persist bool) (*deps.Manager, error) {
	opts := []deps.ManagerOption{
		deps.WithBuildOptions(
			deps.WithWorkers(state.cfg.Workers),
			deps.WithLogger(state.logger),
			deps.WithOpenOptions(openOptions()...),
			deps.WithProgress(logProgress),
		),
	}
	if persist && state.cfg.Cache.Dir != "" {
		s, err := store.New(state.cfg.Cache.Dir, store.WithMaxBytes(state.cfg.Cache.MaxBytes))
		if err != nil {
			return nil, fmt.Errorf("open cache store: %w", err)
		}
		opts = append(opts, deps.WithStore(s))
	}
	return deps.NewManager(opts...), nil
}

func logProgress(ev deps.ProgressEvent) {
	state.logger.Debug("dependency cache",
		"stage", ev.Stage,
		"source", ev.Source,
		"done", ev.ArchivesDone,
		"total", ev.ArchivesTotal,
		"tables", ev.Tables)
}

func logCache(c *deps.Cache) {
	for _, tier := range c.Tiers() {
		snap, _ := c.Snapshot(tier)
		state.logger.Info("cache tier", "tier", tier, "tables", len(snap.TableNames()))
	}
	for _, f := range c.Failures() {
		state.logger.Warn("archive not read", "err", f)
	}
	for _, u := range c.Problems() {
		state.logger.Warn("table not decoded", "path", u.Path, "err", u.Err)
	}
	state.logger.Info("dependency cache",
		"game", c.Game(),
		"generation", c.Generation().Counter,
		"fingerprint", c.Generation().Fingerprint)
}

func fileSizes(paths ...string) int64 {
	var n int64
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			n += info.Size()
		}
	}
	return n
}
