package pack

import (
	"log/slog"
	"time"

	"github.com/meigma/pack/core/internal/compress"
)

// Option configures an Archive at open.
type Option func(*Archive)

// WithLazyLoad defers payload reads until first access (default: false).
// The byte source must stay valid and unmodified while the archive is open.
func WithLazyLoad(enabled bool) Option {
	return func(a *Archive) {
		a.lazy = enabled
	}
}

// WithMaxEntrySize limits the decoded size of a single payload.
// Set to 0 to disable the limit.
func WithMaxEntrySize(limit uint64) Option {
	return func(a *Archive) {
		a.maxEntrySize = limit
	}
}

// WithMaxDecoderMemory sets the maximum zstd decoder memory limit.
// Set to 0 to disable the limit.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(a *Archive) {
		a.maxDecoderMemory = limit
	}
}

// WithDecoderConcurrency sets the zstd decoder concurrency (default: 1).
// Values < 0 are treated as 0 (use GOMAXPROCS).
func WithDecoderConcurrency(n int) Option {
	return func(a *Archive) {
		if n < 0 {
			n = 0
		}
		a.decoderConcurrency = n
	}
}

// WithDecoderLowmem sets whether the zstd decoder should use low-memory mode (default: false).
func WithDecoderLowmem(enabled bool) Option {
	return func(a *Archive) {
		a.decoderLowmem = enabled
	}
}

// WithWorkers sets the number of workers used to decode payloads at open and
// to encode them at save. Values < 0 force serial processing. Zero uses
// automatic heuristics. Values > 0 force a specific worker count.
func WithWorkers(n int) Option {
	return func(a *Archive) {
		a.workers = n
	}
}

// WithLogger sets the logger for archive operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// Params selects the encoding of a saved archive.
type Params struct {
	// Flags replaces the metadata flags. FlagCompressedData enables compression.
	Flags Flags

	// Compression is the codec used for compressed entries.
	Compression Compression
}

// SaveOption configures Encode, Bytes and SaveFile.
type SaveOption func(*saveConfig)

type saveConfig struct {
	reencode  *Params
	sort      bool
	timestamp *time.Time
	skip      []compress.SkipFunc
}

// SaveWithReencode re-encodes every payload with fresh parameters. It is
// required to save an archive that was opened encrypted or compressed.
func SaveWithReencode(p Params) SaveOption {
	return func(c *saveConfig) {
		c.reencode = &p
	}
}

// SaveWithSort writes entries in case-insensitive path order instead of
// index order. Engines resolve same-path shadowing by load order, so the
// default keeps the order the archive was read in.
func SaveWithSort() SaveOption {
	return func(c *saveConfig) {
		c.sort = true
	}
}

// SaveWithTimestamp sets the header build timestamp.
func SaveWithTimestamp(t time.Time) SaveOption {
	return func(c *saveConfig) {
		c.timestamp = &t
	}
}

// SaveWithSkipCompression adds predicates that keep matching entries
// uncompressed when compression is enabled.
func SaveWithSkipCompression(fns ...func(path string, size int) bool) SaveOption {
	return func(c *saveConfig) {
		for _, fn := range fns {
			c.skip = append(c.skip, compress.SkipFunc(fn))
		}
	}
}
