package pack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meigma/pack/core/internal/compress"
	"github.com/meigma/pack/core/internal/crypt"
	"github.com/meigma/pack/core/internal/header"
	"github.com/meigma/pack/core/internal/platform"
	"github.com/meigma/pack/internal/workpool"
)

// DefaultMaxEntrySize is the default maximum decoded payload size (1GB).
const DefaultMaxEntrySize = compress.DefaultMaxSize

// Archive is an ordered collection of entries plus header metadata.
//
// Entry paths are unique. Iteration order is index order at open and is kept
// on save unless SaveWithSort is given. An Archive is safe for concurrent use;
// every mutation either applies completely or leaves the archive unchanged.
type Archive struct {
	mu           sync.RWMutex
	meta         Metadata
	dependencies []string
	entries      []*entry
	index        map[string]int
	trailer      []byte
	problems     []EntryError
	readOnly     bool

	source ByteSource
	closer io.Closer
	lost   atomic.Pointer[error]

	codec *compress.Codec
	pool  *workpool.Pool

	lazy               bool
	maxEntrySize       uint64
	maxDecoderMemory   uint64
	decoderConcurrency int
	decoderLowmem      bool
	workers            int
	logger             *slog.Logger
}

var errSourceReleased = errors.New("source released")

// File is a path and payload pair used for batch inserts.
type File struct {
	Path string
	Data []byte
}

func newArchive(opts []Option) *Archive {
	a := &Archive{
		index:              make(map[string]int),
		maxEntrySize:       DefaultMaxEntrySize,
		decoderConcurrency: 1,
	}
	for _, opt := range opts {
		opt(a)
	}
	pool := compress.NewDecoderPool(a.maxDecoderMemory, a.decoderConcurrency, a.decoderLowmem)
	a.codec = compress.New(compress.WithMaxSize(a.maxEntrySize), compress.WithDecoderPool(pool))
	a.pool = workpool.New(workpool.WithWorkers(a.workers), workpool.WithLogger(a.logger))
	return a
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// New creates an empty archive of the given revision and role.
func New(version Version, fileType FileType, opts ...Option) *Archive {
	a := newArchive(opts)
	a.meta = Metadata{Version: version, FileType: fileType}
	if version == PFH6 {
		a.meta.Subheader = &Subheader{AuthoringTool: "RPFM", Extra: make([]byte, 256)}
	}
	return a
}

// OpenBytes opens an archive held in memory.
func OpenBytes(data []byte, opts ...Option) (*Archive, error) {
	return Open(NewBytesSource(data), opts...)
}

// OpenFile opens the archive at path. With lazy loading the file stays open
// until Close; otherwise it is closed once every payload is read.
func OpenFile(path string, opts ...Option) (*Archive, error) {
	src, err := OpenFileSource(path)
	if err != nil {
		return nil, err
	}
	return openOwned(src, opts)
}

// OpenInRoot opens the archive name inside a game data directory without
// following symbolic links.
func OpenInRoot(root *os.Root, name string, opts ...Option) (*Archive, error) {
	f, err := platform.OpenInRoot(root, name)
	if err != nil {
		return nil, err
	}
	src, err := NewFileSource(f)
	if err != nil {
		return nil, err
	}
	return openOwned(src, opts)
}

func openOwned(src *FileSource, opts []Option) (*Archive, error) {
	a, err := Open(src, opts...)
	if err != nil {
		src.Close()
		return nil, err
	}
	if a.lazy {
		a.closer = src
		return a, nil
	}
	a.source = nil
	if err := src.Close(); err != nil {
		return nil, err
	}
	return a, nil
}

// Open parses the archive in src.
//
// The header and index are always read eagerly; a structural problem fails
// with ErrMalformedContainer. Unless WithLazyLoad is set every payload is then
// read and decoded. A payload that fails to decode does not fail the open: the
// entry keeps its stored bytes in StateCorrupt and the failure is listed by
// Problems.
func Open(src ByteSource, opts ...Option) (*Archive, error) {
	a := newArchive(opts)

	layout, err := header.Read(src, src.Size())
	if err != nil {
		return nil, err
	}
	h := layout.Header
	a.source = src
	a.meta = Metadata{
		Version:   h.Version,
		FileType:  h.FileType,
		Flags:     h.Flags,
		Timestamp: h.Timestamp,
		Preamble:  h.Preamble,
		Reserved:  h.Reserved,
		Subheader: h.Subheader,
	}
	a.dependencies = h.Dependencies

	encrypted := h.Flags.Has(FlagEncryptedData)
	a.entries = make([]*entry, 0, len(layout.Entries))
	for _, ie := range layout.Entries {
		if _, dup := a.index[ie.Path]; dup {
			return nil, fmt.Errorf("%w: duplicate entry path %q", ErrMalformedContainer, ie.Path)
		}
		a.index[ie.Path] = len(a.entries)
		a.entries = append(a.entries, &entry{
			path:       ie.Path,
			state:      StateUnloaded,
			offset:     ie.Offset,
			storedSize: ie.Size,
			timestamp:  ie.Timestamp,
			compressed: ie.Compressed,
			encrypted:  encrypted,
		})
		if ie.Compressed {
			a.meta.Flags |= FlagCompressedData
		}
	}
	a.readOnly = h.Flags.Has(FlagEncryptedIndex) || encrypted || a.meta.Flags.Has(FlagCompressedData)

	if tail := uint64(src.Size()) - layout.DataEnd; tail > 0 { //nolint:gosec // size checked by header.Read
		a.trailer = make([]byte, tail)
		if _, err := src.ReadAt(a.trailer, int64(layout.DataEnd)); err != nil && !errors.Is(err, io.EOF) { //nolint:gosec // bounded by size
			return nil, err
		}
	}

	for _, e := range a.entries {
		if e.compressed {
			if f, ok := a.peekFormat(e); ok {
				a.meta.Compression = f
			}
			break
		}
	}

	a.log().Debug("opened archive",
		"version", h.Version,
		"type", h.FileType,
		"entries", len(a.entries),
		"dependencies", len(a.dependencies),
		"lazy", a.lazy)

	if !a.lazy {
		if err := a.loadAll(layout.DataStart, layout.DataEnd); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// loadAll reads the data region in one pass and decodes payloads in parallel.
func (a *Archive) loadAll(start, end uint64) error {
	region := make([]byte, end-start)
	if n, err := a.source.ReadAt(region, int64(start)); err != nil && n != len(region) { //nolint:gosec // bounded by source size
		return fmt.Errorf("read data region: %w", err)
	}

	type loaded struct {
		data   []byte
		format Compression
		err    error
	}
	results, err := workpool.Map(context.Background(), a.pool, a.entries, func(_ context.Context, _ int, e *entry) (loaded, error) {
		rel := e.offset - start
		stored := region[rel : rel+uint64(e.storedSize)]
		data, format, err := a.decodeStored(e, stored)
		if err != nil {
			return loaded{data: stored, err: err}, nil
		}
		return loaded{data: data, format: format}, nil
	})
	if err != nil {
		return err
	}

	for i, r := range results {
		e := a.entries[i]
		if r.err != nil {
			a.markCorrupt(e, r.data, r.err)
			continue
		}
		e.data = r.data
		e.format = r.format
		e.state = StateLoaded
	}
	return nil
}

func (a *Archive) markCorrupt(e *entry, stored []byte, err error) {
	e.data = stored
	e.err = err
	e.state = StateCorrupt
	a.problems = append(a.problems, EntryError{Path: e.path, Err: err})
	a.log().Warn("payload corrupt", "path", e.path, "error", err)
}

// decodeStored decrypts and decompresses a stored payload.
func (a *Archive) decodeStored(e *entry, stored []byte) ([]byte, Compression, error) {
	data := stored
	if e.encrypted {
		data = crypt.Data(stored)
	}
	if !e.compressed {
		if a.maxEntrySize != 0 && uint64(len(data)) > a.maxEntrySize {
			return nil, CompressionNone, fmt.Errorf("%w: %d bytes exceeds limit", ErrPayloadCorrupt, len(data))
		}
		return data, CompressionNone, nil
	}
	out, format, err := a.codec.Decompress(data)
	if err != nil {
		return nil, format, fmt.Errorf("%w: %w", ErrPayloadCorrupt, err)
	}
	return out, format, nil
}

// readStored reads an entry's stored bytes from the source. Deferred reads
// verify the source first; any failure poisons the archive.
func (a *Archive) readStored(e *entry) ([]byte, error) {
	if lost := a.lost.Load(); lost != nil {
		return nil, *lost
	}
	if err := a.checkSource(); err != nil {
		return nil, err
	}
	return a.readAt(e)
}

func (a *Archive) checkSource() error {
	if lost := a.lost.Load(); lost != nil {
		return *lost
	}
	if a.source == nil {
		return a.poison(errSourceReleased)
	}
	if v, ok := a.source.(verifier); ok {
		if err := v.Verify(); err != nil {
			return a.poison(err)
		}
	}
	return nil
}

func (a *Archive) poison(cause error) error {
	err := cause
	if !errors.Is(err, ErrBackingSourceLost) {
		err = fmt.Errorf("%w: %w", ErrBackingSourceLost, cause)
	}
	a.lost.CompareAndSwap(nil, &err)
	a.log().Error("backing source lost", "error", err)
	return *a.lost.Load()
}

// peekFormat reads just enough of a compressed payload to identify its codec.
func (a *Archive) peekFormat(e *entry) (Compression, bool) {
	if a.source == nil {
		return CompressionNone, false
	}
	n := min(int(e.storedSize), 16)
	buf := make([]byte, n)
	if got, _ := a.source.ReadAt(buf, int64(e.offset)); got != n { //nolint:gosec // offsets validated at open
		return CompressionNone, false
	}
	if e.encrypted {
		buf = crypt.Prefix(buf, int(e.storedSize))
	}
	return compress.Detect(buf)
}

// Metadata returns a copy of the header metadata.
func (a *Archive) Metadata() Metadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m := a.meta
	m.Preamble = bytes.Clone(m.Preamble)
	m.Reserved = bytes.Clone(m.Reserved)
	if m.Subheader != nil {
		sub := *m.Subheader
		sub.Extra = bytes.Clone(sub.Extra)
		m.Subheader = &sub
	}
	return m
}

// SetMetadata replaces the header metadata used by the next save.
func (a *Archive) SetMetadata(m Metadata) error {
	if m.Flags.Has(FlagCompressedData) && !m.Version.SupportsCompression(m.Flags) {
		return fmt.Errorf("%w: %s cannot store compressed entries", ErrUnsupportedForSave, m.Version)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.meta = m
	return nil
}

// ReadOnly reports whether the archive was opened encrypted or compressed and
// therefore needs SaveWithReencode to be saved.
func (a *Archive) ReadOnly() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.readOnly
}

// Dependencies returns the parent pack names in declaration order.
func (a *Archive) Dependencies() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.dependencies)
}

// SetDependencies replaces the parent pack names.
func (a *Archive) SetDependencies(names []string) error {
	for _, n := range names {
		if n == "" || strings.IndexByte(n, 0) >= 0 {
			return fmt.Errorf("%w: parent pack name %q", ErrInvalidPath, n)
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dependencies = slices.Clone(names)
	return nil
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Paths returns every entry path in archive order.
func (a *Archive) Paths() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	paths := make([]string, len(a.entries))
	for i, e := range a.entries {
		paths[i] = e.path
	}
	return paths
}

// Entries returns a snapshot of every entry in archive order.
func (a *Archive) Entries() []EntryInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	infos := make([]EntryInfo, len(a.entries))
	for i, e := range a.entries {
		infos[i] = e.info(a.meta.Version)
	}
	return infos
}

// Entry returns a snapshot of the entry at path.
func (a *Archive) Entry(path string) (EntryInfo, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i, ok := a.index[path]
	if !ok {
		return EntryInfo{}, false
	}
	return a.entries[i].info(a.meta.Version), true
}

// Has reports whether an entry exists at path.
func (a *Archive) Has(path string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.index[path]
	return ok
}

// Problems lists the entries whose payloads failed to decode so far.
func (a *Archive) Problems() []EntryError {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.problems)
}

// Get returns a copy of the decoded payload at path, reading it from the
// source first if it is still unloaded.
func (a *Archive) Get(path string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.index[path]
	if !ok {
		return nil, &EntryError{Path: path, Err: ErrEntryNotFound}
	}
	e := a.entries[i]

	switch e.state {
	case StateLoaded, StateLoadedDirty:
		return bytes.Clone(e.data), nil
	case StateCorrupt:
		return nil, &EntryError{Path: path, Err: e.err}
	}

	stored, err := a.readStored(e)
	if err != nil {
		return nil, &EntryError{Path: path, Err: err}
	}
	data, format, err := a.decodeStored(e, stored)
	if err != nil {
		a.markCorrupt(e, stored, err)
		return nil, &EntryError{Path: path, Err: err}
	}
	e.data = data
	e.format = format
	e.state = StateLoaded
	return bytes.Clone(data), nil
}

// Set stores data at path. An existing entry keeps its position and
// timestamp; a new entry is appended.
func (a *Archive) Set(path string, data []byte) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set(path, bytes.Clone(data))
	return nil
}

func (a *Archive) set(path string, data []byte) {
	if i, ok := a.index[path]; ok {
		a.entries[i].replace(data)
		return
	}
	e := &entry{path: path}
	e.replace(data)
	a.index[path] = len(a.entries)
	a.entries = append(a.entries, e)
}

// SetAll stores every file in order. If any path is invalid or repeated
// within files, nothing is stored.
func (a *Archive) SetAll(files []File) error {
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if err := ValidatePath(f.Path); err != nil {
			return err
		}
		if _, dup := seen[f.Path]; dup {
			return &EntryError{Path: f.Path, Err: ErrEntryExists}
		}
		seen[f.Path] = struct{}{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range files {
		a.set(f.Path, bytes.Clone(f.Data))
	}
	return nil
}

// SetModTime sets the index timestamp of the entry at path.
func (a *Archive) SetModTime(path string, t time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, ok := a.index[path]
	if !ok {
		return &EntryError{Path: path, Err: ErrEntryNotFound}
	}
	a.entries[i].timestamp = header.FromTime(a.meta.Version, t)
	return nil
}

// Remove deletes the entry at path. The order of the remaining entries is kept.
func (a *Archive) Remove(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, ok := a.index[path]
	if !ok {
		return &EntryError{Path: path, Err: ErrEntryNotFound}
	}
	a.entries = slices.Delete(a.entries, i, i+1)
	a.reindex()
	return nil
}

// Rename moves the entry at from to to, keeping its position.
func (a *Archive) Rename(from, to string) error {
	if err := ValidatePath(to); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	i, ok := a.index[from]
	if !ok {
		return &EntryError{Path: from, Err: ErrEntryNotFound}
	}
	if from == to {
		return nil
	}
	if _, exists := a.index[to]; exists {
		return &EntryError{Path: to, Err: ErrEntryExists}
	}
	delete(a.index, from)
	a.entries[i].path = to
	a.index[to] = i
	return nil
}

// SortEntries reorders entries by case-insensitive path.
func (a *Archive) SortEntries() {
	a.mu.Lock()
	defer a.mu.Unlock()
	slices.SortStableFunc(a.entries, compareEntries)
	a.reindex()
}

func compareEntries(x, y *entry) int {
	return strings.Compare(strings.ToLower(x.path), strings.ToLower(y.path))
}

func (a *Archive) reindex() {
	clear(a.index)
	for i, e := range a.entries {
		a.index[e.path] = i
	}
}

// Close releases the byte source of a lazily opened file. Entries that were
// never read become unreadable; loaded entries stay available.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}
