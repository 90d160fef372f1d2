package pack

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/meigma/pack/core/internal/compress"
	"github.com/meigma/pack/core/internal/crypt"
	"github.com/meigma/pack/core/internal/header"
	"github.com/meigma/pack/internal/sizing"
	"github.com/meigma/pack/internal/workpool"
)

// target is the resolved encoding of a save.
type target struct {
	meta      Metadata
	encrypt   bool
	compress  bool
	format    Compression
	aligned   bool
	predicate []compress.SkipFunc
}

func (t *target) compressEntry(path string, size int) bool {
	return t.compress && !compress.ShouldSkip(path, size, t.predicate)
}

// stored is one payload ready to be written.
type stored struct {
	data       []byte
	compressed bool
}

// Bytes encodes the archive into memory.
func (a *Archive) Bytes(opts ...SaveOption) ([]byte, error) {
	var buf bytes.Buffer
	if err := a.Encode(&buf, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveFile encodes the archive and atomically replaces path with the result.
// Parent directories are created as needed.
//
// Saving over the file a lazy archive was opened from invalidates the
// entries that were never read.
func (a *Archive) SaveFile(path string, opts ...SaveOption) error {
	data, err := a.Bytes(opts...)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	a.log().Debug("saved archive", "path", path, "bytes", len(data))
	return nil
}

// Encode writes the archive to w.
//
// Index counts and lengths are recomputed from the current entries. Entries
// keep their order unless SaveWithSort is given. An archive that was opened
// encrypted or compressed fails with ErrUnsupportedForSave unless
// SaveWithReencode supplies the parameters to write it with.
func (a *Archive) Encode(w io.Writer, opts ...SaveOption) error {
	var cfg saveConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	t, err := a.resolveTarget(&cfg)
	if err != nil {
		return err
	}

	entries := slices.Clone(a.entries)
	if cfg.sort {
		slices.SortStableFunc(entries, compareEntries)
	}

	if slices.ContainsFunc(entries, func(e *entry) bool { return e.state == StateUnloaded }) {
		if err := a.checkSource(); err != nil {
			return err
		}
	}

	payloads, err := workpool.Map(context.Background(), a.pool, entries, func(_ context.Context, _ int, e *entry) (stored, error) {
		return a.encodeEntry(e, t)
	})
	if err != nil {
		return err
	}

	index := make([]header.IndexEntry, len(entries))
	for i, e := range entries {
		size, err := sizing.ToUint32(len(payloads[i].data), ErrTooLarge)
		if err != nil {
			return &EntryError{Path: e.path, Err: err}
		}
		index[i] = header.IndexEntry{
			Path:       e.path,
			Size:       size,
			Timestamp:  e.timestamp,
			Compressed: payloads[i].compressed,
		}
	}

	h := &header.Header{
		Version:      t.meta.Version,
		FileType:     t.meta.FileType,
		Flags:        t.meta.Flags.Disk(),
		Preamble:     t.meta.Preamble,
		Timestamp:    t.meta.Timestamp,
		Reserved:     t.meta.Reserved,
		Subheader:    t.meta.Subheader,
		Dependencies: a.dependencies,
	}
	hdr, err := header.Encode(h, index)
	if err != nil {
		return err
	}

	bw := &countingWriter{w: w}
	bw.write(hdr)
	start := header.DataStart(h.Version, h.Flags, len(hdr))
	bw.pad(start)
	for _, p := range payloads {
		bw.write(p.data)
		if t.aligned {
			bw.pad(sizing.AlignUp(bw.n, 8))
		}
	}
	bw.write(a.trailerFor(h))
	if bw.err != nil {
		return bw.err
	}

	a.log().Debug("encoded archive",
		"version", h.Version,
		"entries", len(entries),
		"bytes", bw.n,
		"compression", t.format)
	return nil
}

func (a *Archive) resolveTarget(cfg *saveConfig) (*target, error) {
	meta := a.meta
	if cfg.reencode != nil {
		meta.Flags = cfg.reencode.Flags
		meta.Compression = cfg.reencode.Compression
	} else if a.readOnly {
		return nil, fmt.Errorf("%w: archive was opened encrypted or compressed", ErrUnsupportedForSave)
	}
	if cfg.timestamp != nil {
		meta.SetBuildTime(*cfg.timestamp)
	}

	t := &target{
		meta:    meta,
		encrypt: meta.Flags.Has(FlagEncryptedData),
		aligned: header.Aligned(meta.Version, meta.Flags.Disk()),
	}
	if meta.Flags.Has(FlagCompressedData) {
		if !meta.Version.SupportsCompression(meta.Flags) {
			return nil, fmt.Errorf("%w: %s cannot store compressed entries", ErrUnsupportedForSave, meta.Version)
		}
		t.compress = true
		t.format = meta.Compression
		if t.format == CompressionNone {
			t.format = CompressionLzma1
		}
		t.predicate = append(t.predicate, compress.DefaultSkip(0))
		if meta.Version == PFH5 {
			t.predicate = append(t.predicate, compress.SkipTables())
		}
		t.predicate = append(t.predicate, cfg.skip...)
	}
	return t, nil
}

// encodeEntry produces the stored bytes of one entry. Stored bytes that
// already match the target encoding are copied unchanged.
func (a *Archive) encodeEntry(e *entry, t *target) (stored, error) {
	switch e.state {
	case StateLoaded, StateLoadedDirty:
		return a.encodePlain(e.path, e.data, t)
	case StateCorrupt:
		if a.sameEncoding(e, e.data, t) {
			return stored{data: e.data, compressed: e.compressed}, nil
		}
		return stored{}, &EntryError{Path: e.path, Err: fmt.Errorf("%w: cannot re-encode: %w", ErrPayloadCorrupt, e.err)}
	}

	raw, err := a.readAt(e)
	if err != nil {
		return stored{}, &EntryError{Path: e.path, Err: err}
	}
	if a.sameEncoding(e, raw, t) {
		return stored{data: raw, compressed: e.compressed}, nil
	}
	plain, _, err := a.decodeStored(e, raw)
	if err != nil {
		return stored{}, &EntryError{Path: e.path, Err: err}
	}
	return a.encodePlain(e.path, plain, t)
}

// sameEncoding reports whether raw stored bytes of e can be written as is.
func (a *Archive) sameEncoding(e *entry, raw []byte, t *target) bool {
	if e.encrypted != t.encrypt || e.compressed != t.compressEntry(e.path, len(raw)) {
		return false
	}
	if !e.compressed {
		return true
	}
	peek := raw[:min(len(raw), 16)]
	if e.encrypted {
		peek = crypt.Prefix(peek, len(raw))
	}
	format, ok := compress.Detect(peek)
	return ok && format == t.format
}

func (a *Archive) encodePlain(path string, plain []byte, t *target) (stored, error) {
	out := stored{data: plain}
	if t.compressEntry(path, len(plain)) {
		data, err := a.codec.Compress(plain, t.format)
		if err != nil {
			return stored{}, &EntryError{Path: path, Err: err}
		}
		out = stored{data: data, compressed: true}
	}
	if t.encrypt {
		out.data = crypt.Data(out.data)
	}
	return out, nil
}

// readAt reads the stored bytes of an unloaded entry without verifying the source.
func (a *Archive) readAt(e *entry) ([]byte, error) {
	if lost := a.lost.Load(); lost != nil {
		return nil, *lost
	}
	if a.source == nil {
		return nil, a.poison(errSourceReleased)
	}
	buf := make([]byte, e.storedSize)
	n, err := a.source.ReadAt(buf, int64(e.offset)) //nolint:gosec // offsets validated at open
	if n == len(buf) {
		return buf, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return nil, a.poison(err)
}

// trailerFor returns the bytes written after the data region. Extended PFH5
// archives always end with a fixed-size block.
func (a *Archive) trailerFor(h *header.Header) []byte {
	if !header.HasArenaTrailer(h.Version, h.Flags) {
		return a.trailer
	}
	if len(a.trailer) == header.ArenaTrailerSize {
		return a.trailer
	}
	out := make([]byte, header.ArenaTrailerSize)
	copy(out, a.trailer)
	return out
}

type countingWriter struct {
	w   io.Writer
	n   uint64
	err error
}

func (c *countingWriter) write(p []byte) {
	if c.err != nil || len(p) == 0 {
		return
	}
	n, err := c.w.Write(p)
	c.n += uint64(n) //nolint:gosec // n is non-negative
	c.err = err
}

func (c *countingWriter) pad(to uint64) {
	if to > c.n {
		c.write(make([]byte, to-c.n))
	}
}

// writeFileAtomic writes data to a temp file then renames to target,
// ensuring atomic replacement of the target file.
func writeFileAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".pack-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
