package deps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"

	packcore "github.com/meigma/pack/core"
	"github.com/meigma/pack/internal/workpool"
	"github.com/meigma/pack/schema"
	"github.com/meigma/pack/table"
)

// DefaultByteBudget bounds the summed size of archives decoded at once.
const DefaultByteBudget = 512 << 20

// ArchiveSource is one archive a build reads. Exactly one of Path and
// Archive is set: archives given by path are opened, decoded and closed by
// the build; open archives are read as they are and left open.
type ArchiveSource struct {
	Name    string
	Path    string
	Archive *packcore.Archive
}

func (s ArchiveSource) name() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Path != "":
		return filepath.Base(s.Path)
	default:
		return "archive"
	}
}

// Input lists everything a build reads.
type Input struct {
	Game string

	// Current is the archive being edited, if any.
	Current *ArchiveSource

	// Parents are the archives Current depends on, in declaration order.
	Parents []ArchiveSource

	// Vanilla are the base game archives in load order.
	Vanilla []ArchiveSource

	Bulk *Bulk
}

// Fingerprint digests the persisted-tier inputs of in. Vanilla archives
// given by path contribute their size and modification time.
func (in Input) Fingerprint() digest.Digest {
	paths := make([]string, 0, len(in.Vanilla))
	var stamps []FileStamp
	for _, v := range in.Vanilla {
		if v.Path != "" {
			paths = append(paths, v.Path)
			continue
		}
		stamps = append(stamps, FileStamp{Name: v.name()})
	}
	fileStamps := StampFiles(paths)
	var bulkID string
	if in.Bulk != nil {
		bulkID = in.Bulk.ID
	}
	return Fingerprint(in.Game, append(fileStamps, stamps...), bulkID)
}

// SourceError records an archive the build could not read. The rest of the
// build is unaffected.
type SourceError struct {
	Tier   Tier
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s archive %s: %v", e.Tier, e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	workers    int
	budget     int64
	logger     *slog.Logger
	progress   ProgressFunc
	openOpts   []packcore.Option
	base       *Cache
	generation uint64
}

// WithWorkers sets the number of archives decoded concurrently.
// Values < 0 force serial processing. Zero uses automatic heuristics.
func WithWorkers(n int) BuildOption {
	return func(c *buildConfig) {
		c.workers = n
	}
}

// WithByteBudget bounds the summed file size of archives decoded at once
// (default: DefaultByteBudget). Zero disables the bound.
func WithByteBudget(n int64) BuildOption {
	return func(c *buildConfig) {
		c.budget = n
	}
}

// WithLogger sets the logger for build progress.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(c *buildConfig) {
		c.logger = logger
	}
}

// WithProgress sets a callback for progress events.
func WithProgress(fn ProgressFunc) BuildOption {
	return func(c *buildConfig) {
		c.progress = fn
	}
}

// WithOpenOptions sets the options archives given by path are opened with.
func WithOpenOptions(opts ...packcore.Option) BuildOption {
	return func(c *buildConfig) {
		c.openOpts = opts
	}
}

// WithBase reuses the vanilla and bulk tiers of base instead of decoding
// them again. The caller is responsible for base matching the inputs.
func WithBase(base *Cache) BuildOption {
	return func(c *buildConfig) {
		c.base = base
	}
}

func withCounter(n uint64) BuildOption {
	return func(c *buildConfig) {
		c.generation = n
	}
}

func (c *buildConfig) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

func (c *buildConfig) emit(ev ProgressEvent) {
	if c.progress != nil {
		c.progress(ev)
	}
}

type unit struct {
	tier   Tier
	src    ArchiveSource
	weight int64
}

type archiveResult struct {
	unit     unit
	paths    []string
	files    []*TableFile
	problems []*table.Undecoded
	err      error
}

// Build decodes every table of the input archives and returns the merged
// cache. One worker-pool unit reads one archive; archives given by path are
// closed as soon as they are decoded, so at most the byte budget of raw
// archive data is held at once.
//
// Cancellation is checked between archives. A cancelled build returns the
// context error and no cache.
func Build(ctx context.Context, schemas *schema.Store, in Input, opts ...BuildOption) (*Cache, error) {
	cfg := &buildConfig{budget: DefaultByteBudget}
	for _, opt := range opts {
		opt(cfg)
	}
	fp := in.Fingerprint()

	reused := make(map[Tier]*Snapshot)
	if cfg.base != nil {
		cfg.emit(ProgressEvent{Stage: StageLoadingPersisted})
		for _, s := range cfg.base.tiers {
			if s.tier.persisted() {
				reused[s.tier] = s
			}
		}
	}

	units := collectUnits(in, reused)
	pool := workpool.New(
		workpool.WithWorkers(cfg.workers),
		workpool.WithBudget(cfg.budget),
		workpool.WithLogger(cfg.logger),
	)

	start := time.Now()
	var done atomic.Int64
	results, err := workpool.MapWeighted(ctx, pool, units,
		func(u unit) int64 { return u.weight },
		func(_ context.Context, _ int, u unit) (*archiveResult, error) {
			r := decodeArchive(u, schemas, cfg.openOpts)
			n := done.Add(1)
			cfg.emit(ProgressEvent{
				Stage:         StageDecoding,
				Tier:          u.tier,
				Source:        u.src.name(),
				ArchivesDone:  int(n),
				ArchivesTotal: len(units),
				Tables:        len(r.files),
			})
			return r, nil
		})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg.emit(ProgressEvent{Stage: StageMerging, ArchivesDone: len(units), ArchivesTotal: len(units)})
	c := &Cache{
		game:       in.Game,
		generation: Generation{Counter: cfg.generation, Fingerprint: fp},
		built:      time.Now(),
	}
	if cfg.base != nil {
		c.problems = append(c.problems, cfg.base.problems...)
	}
	snapshots := make([]*Snapshot, tierCount)
	for tier, s := range reused {
		snapshots[tier] = s
	}
	if in.Bulk != nil && snapshots[TierBulk] == nil {
		snapshots[TierBulk] = in.Bulk.snapshot()
	}
	for _, r := range results {
		if r.err != nil {
			cfg.log().Warn("skipping unreadable archive", "tier", r.unit.tier, "archive", r.unit.src.name(), "error", r.err)
			c.failures = append(c.failures, &SourceError{Tier: r.unit.tier, Source: r.unit.src.name(), Err: r.err})
			continue
		}
		s := snapshots[r.unit.tier]
		if s == nil {
			s = newSnapshot(r.unit.tier)
			snapshots[r.unit.tier] = s
		}
		merge(s, r)
		c.problems = append(c.problems, r.problems...)
	}
	for _, s := range snapshots {
		if s != nil {
			c.tiers = append(c.tiers, s)
		}
	}

	cfg.log().Debug("dependency cache built",
		"game", in.Game,
		"archives", len(units),
		"tiers", len(c.tiers),
		"problems", len(c.problems),
		"elapsed", time.Since(start))
	return c, nil
}

func collectUnits(in Input, reused map[Tier]*Snapshot) []unit {
	var units []unit
	addUnit := func(tier Tier, src ArchiveSource) {
		w := int64(1)
		if src.Archive == nil {
			if info, err := os.Stat(src.Path); err == nil {
				w = info.Size()
			}
		}
		units = append(units, unit{tier: tier, src: src, weight: w})
	}
	if in.Current != nil {
		addUnit(TierCurrent, *in.Current)
	}
	for _, p := range in.Parents {
		addUnit(TierParent, p)
	}
	if reused[TierVanilla] == nil {
		for _, v := range in.Vanilla {
			addUnit(TierVanilla, v)
		}
	}
	return units
}

// merge adds the tables of r to s. Entry paths an earlier archive of the
// tier already provided are skipped.
func merge(s *Snapshot, r *archiveResult) {
	fresh := make(map[string]bool, len(r.paths))
	for _, p := range r.paths {
		if s.claim(p) {
			fresh[p] = true
		}
	}
	for _, f := range r.files {
		if fresh[f.Path] {
			s.add(f)
		}
	}
}

func decodeArchive(u unit, schemas *schema.Store, opts []packcore.Option) *archiveResult {
	r := &archiveResult{unit: u}
	a := u.src.Archive
	if a == nil {
		var err error
		if a, err = packcore.OpenFile(u.src.Path, opts...); err != nil {
			r.err = err
			return r
		}
		defer a.Close()
	}

	source := u.src.name()
	for _, p := range a.Paths() {
		r.paths = append(r.paths, p)
		kind, name, ok := table.KindOf(p)
		if !ok {
			continue
		}
		data, err := a.Get(p)
		if err != nil {
			if errors.Is(err, packcore.ErrBackingSourceLost) {
				r.err = err
				return r
			}
			r.problems = append(r.problems, &table.Undecoded{Path: p, Name: name, Kind: kind, Err: err})
			continue
		}
		d := table.DecodeEntry(p, data, schemas)
		if d.Undecoded != nil {
			// The raw bytes are not kept once decoding is over.
			d.Undecoded.Data = nil
			r.problems = append(r.problems, d.Undecoded)
			continue
		}
		r.files = append(r.files, &TableFile{Tier: u.tier, Source: source, Path: p, Table: d.Table})
	}
	return r
}
