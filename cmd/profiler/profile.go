package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/felixge/fgprof"
)

type profileFlags struct {
	cpu       string
	mem       string
	trace     string
	fg        string
	pprofAddr string
}

// startProfiles starts every profile p asks for. The returned function
// stops them in reverse order and writes the heap profile last.
//
//nolint:gocognit // one branch per profile kind
func startProfiles(p profileFlags, logger *slog.Logger) (func() error, error) {
	var stops []func() error
	stopAll := func() error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			errs = append(errs, stops[i]())
		}
		return errors.Join(errs...)
	}

	if p.fg != "" {
		f, err := os.Create(p.fg)
		if err != nil {
			return nil, err
		}
		stopFG := fgprof.Start(f, fgprof.FormatPprof)
		stops = append(stops, func() error {
			err := stopFG()
			return errors.Join(err, f.Close())
		})
	}

	if p.cpu != "" {
		f, err := os.Create(p.cpu)
		if err != nil {
			return nil, errors.Join(err, stopAll())
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, errors.Join(err, stopAll())
		}
		stops = append(stops, func() error {
			pprof.StopCPUProfile()
			return f.Close()
		})
	}

	if p.trace != "" {
		f, err := os.Create(p.trace)
		if err != nil {
			return nil, errors.Join(err, stopAll())
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			return nil, errors.Join(err, stopAll())
		}
		stops = append(stops, func() error {
			trace.Stop()
			return f.Close()
		})
	}

	return func() error {
		err := stopAll()
		if p.mem != "" {
			err = errors.Join(err, writeHeapProfile(p.mem))
		}
		if err != nil {
			logger.Error("stopping profiles", "err", err)
		}
		return err
	}, nil
}

func writeHeapProfile(path string) error {
	runtime.GC()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pprof.WriteHeapProfile(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

// opFunc runs one operation of a workload and returns the bytes it handled.
type opFunc func(ctx context.Context) (int64, error)

// measure runs op under the requested profiles until the iteration count or
// duration is reached and prints the throughput line.
func measure(ctx context.Context, mode string, op opFunc) error {
	stop, err := startProfiles(profiles, state.logger)
	if err != nil {
		return err
	}
	stats, runErr := runLoop(ctx, op)
	if err := stop(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	throughput := 0.0
	if s := stats.elapsed.Seconds(); s > 0 {
		throughput = float64(stats.bytes) / (1024 * 1024) / s
	}
	fmt.Printf("mode=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
		mode,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		throughput,
	)
	return nil
}

func runLoop(ctx context.Context, op opFunc) (profileStats, error) {
	var stats profileStats
	start := time.Now()
	shouldContinue := func() bool {
		if stats.ops == 0 {
			return true
		}
		if iterations > 0 {
			return stats.ops < iterations
		}
		return time.Since(start) < duration
	}

	for shouldContinue() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := op(ctx)
		if err != nil {
			return stats, err
		}
		stats.bytes += n
		stats.ops++
	}
	stats.elapsed = time.Since(start)
	return stats, nil
}
