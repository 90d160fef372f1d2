package deps

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/pack/deps/store"
	"github.com/meigma/pack/schema"
)

// Manager owns the current cache of a session. Readers take the current
// snapshot with Current and keep using it for as long as they like; Rebuild
// swaps in a new cache for later readers without disturbing them.
type Manager struct {
	current atomic.Pointer[Cache]
	counter atomic.Uint64
	mu      sync.Mutex // serializes rebuilds

	disk  *store.Store
	build []BuildOption
	cfg   buildConfig
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore persists the vanilla and bulk tiers of every build in s and
// reuses them while their inputs are unchanged.
func WithStore(s *store.Store) ManagerOption {
	return func(m *Manager) {
		m.disk = s
	}
}

// WithBuildOptions sets the options every rebuild is run with.
func WithBuildOptions(opts ...BuildOption) ManagerOption {
	return func(m *Manager) {
		m.build = append(m.build, opts...)
	}
}

// NewManager creates a Manager with no cache.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	for _, opt := range m.build {
		opt(&m.cfg)
	}
	return m
}

// Current returns the current cache, or nil before the first rebuild.
func (m *Manager) Current() *Cache {
	return m.current.Load()
}

// Stale reports whether the current cache was built from inputs other than
// in. A missing cache is stale.
func (m *Manager) Stale(in Input) bool {
	c := m.current.Load()
	if c == nil {
		return true
	}
	return c.Stale(in.Fingerprint())
}

// Rebuild builds a new cache from in and makes it current. On failure or
// cancellation the current cache is left as it was.
func (m *Manager) Rebuild(ctx context.Context, schemas *schema.Store, in Input) (*Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp := in.Fingerprint()

	opts := append(slices.Clone(m.build), withCounter(m.counter.Load()+1))
	base := m.loadPersisted(ctx, fp)
	if base != nil {
		opts = append(opts, WithBase(base))
	}

	c, err := Build(ctx, schemas, in, opts...)
	if err != nil {
		return nil, err
	}
	if base == nil {
		m.savePersisted(ctx, fp, c)
	}

	m.counter.Add(1)
	m.current.Store(c)
	m.cfg.log().Info("dependency cache rebuilt",
		"game", in.Game,
		"generation", c.generation.Counter,
		"reused", base != nil)
	return c, nil
}

func (m *Manager) loadPersisted(ctx context.Context, fp digest.Digest) *Cache {
	if m.disk == nil {
		return nil
	}
	rc, ok := m.disk.Get(fp)
	if !ok {
		return nil
	}
	defer rc.Close()
	m.cfg.emit(ProgressEvent{Stage: StageLoadingPersisted})
	c, err := Load(ctx, rc)
	if err != nil {
		m.cfg.log().Warn("discarding persisted dependency cache", "key", fp, "error", err)
		_ = m.disk.Delete(fp)
		return nil
	}
	if c.generation.Fingerprint != fp {
		m.cfg.log().Warn("persisted dependency cache has a foreign fingerprint", "key", fp, "fingerprint", c.generation.Fingerprint)
		return nil
	}
	return c
}

func (m *Manager) savePersisted(ctx context.Context, fp digest.Digest, c *Cache) {
	if m.disk == nil {
		return
	}
	if _, ok := c.Snapshot(TierVanilla); !ok && !c.HasBulk() {
		return
	}
	// A persisted tier that missed an archive would hide the failure from
	// every later build with the same fingerprint.
	for _, f := range c.failures {
		if f.Tier.persisted() {
			m.cfg.log().Debug("not persisting incomplete dependency cache", "archive", f.Source)
			return
		}
	}
	m.cfg.emit(ProgressEvent{Stage: StageSaving})
	var buf bytes.Buffer
	if err := Save(ctx, &buf, c); err != nil {
		m.cfg.log().Warn("persisting dependency cache failed", "error", err)
		return
	}
	if err := m.disk.Put(fp, &buf); err != nil {
		m.cfg.log().Warn("persisting dependency cache failed", "error", err)
	}
}
