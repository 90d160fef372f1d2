// Package workpool runs independent units of work on a bounded set of
// goroutines and returns their results in input order.
//
// Units share no mutable state: each returns an owned result that the caller
// merges after the pool finishes. Cancellation is checked between units; a
// cancelled run returns the context error and discards every result.
package workpool

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// parallelMinUnits is the smallest batch worth spreading across goroutines
// when the worker count is chosen automatically.
const parallelMinUnits = 4

// Pool configures how units are scheduled.
type Pool struct {
	workers int   // 0 = auto, <0 = serial, >0 = fixed count
	budget  int64 // 0 = unbounded
	logger  *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the number of workers for parallel processing.
// Values < 0 force serial processing. Zero uses automatic heuristics.
// Values > 0 force a specific worker count.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		p.workers = n
	}
}

// WithBudget caps the summed weight of units in flight. Weights come from
// the function passed to MapWeighted; a unit heavier than the budget runs
// alone. A value of 0 disables the budget.
func WithBudget(limit int64) Option {
	return func(p *Pool) {
		if limit < 0 {
			limit = 0
		}
		p.budget = limit
	}
}

// WithLogger sets the logger for pool operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// New creates a Pool.
func New(opts ...Option) *Pool {
	p := &Pool{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) log() *slog.Logger {
	if p == nil || p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Workers returns the worker count used for n units.
func (p *Pool) Workers(n int) int {
	if n < 2 || p == nil || p.workers < 0 {
		return 1
	}
	workers := p.workers
	if workers == 0 {
		if n < parallelMinUnits {
			return 1
		}
		workers = runtime.GOMAXPROCS(0)
	}
	return max(1, min(workers, n))
}

// Map runs fn for every item and returns the results in input order.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(ctx context.Context, i int, item T) (R, error)) ([]R, error) {
	return MapWeighted(ctx, p, items, nil, fn)
}

// MapWeighted is Map with a per-unit weight charged against the pool budget.
// A nil weight function charges every unit 1.
func MapWeighted[T, R any](ctx context.Context, p *Pool, items []T, weight func(T) int64, fn func(ctx context.Context, i int, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	workers := p.Workers(len(items))

	if workers == 1 {
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r, err := fn(ctx, i, item)
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
		return results, nil
	}

	p.log().Debug("running units in parallel", "units", len(items), "workers", workers, "budget", p.budget)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var sem *semaphore.Weighted
	if p.budget > 0 {
		sem = semaphore.NewWeighted(p.budget)
	}

	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		w := int64(1)
		if weight != nil {
			w = min(max(weight(item), 1), max(p.budget, 1))
		}
		if sem != nil {
			if err := sem.Acquire(gctx, w); err != nil {
				break
			}
		}
		g.Go(func() error {
			if sem != nil {
				defer sem.Release(w)
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, i, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
