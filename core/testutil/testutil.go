// Package testutil builds raw Pack containers and byte sources for tests.
// The builders write bytes by hand so decoders can be tested independently
// of the package's own encoder.
package testutil

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"sync/atomic"
	"testing"
)

// ErrSourceGone is returned by a MockByteSource after Fail is called.
var ErrSourceGone = errors.New("mock source gone")

// MockByteSource implements a simple in-memory byte source for tests.
type MockByteSource struct {
	data     []byte
	sourceID string
	failed   atomic.Bool
	reads    atomic.Int64
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	sum := sha256.Sum256(data)
	return &MockByteSource{
		data:     data,
		sourceID: "mock:" + hex.EncodeToString(sum[:]),
	}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	if m.failed.Load() {
		return 0, ErrSourceGone
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if off+int64(n) >= int64(len(m.data)) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns a stable identifier for the source data.
func (m *MockByteSource) SourceID() string {
	return m.sourceID
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}

// Fail makes every later read return ErrSourceGone.
func (m *MockByteSource) Fail() {
	m.failed.Store(true)
}

// Reads returns the number of ReadAt calls so far.
func (m *MockByteSource) Reads() int64 {
	return m.reads.Load()
}

// TestFile is one entry of a hand-built container.
type TestFile struct {
	Path      string
	Data      []byte
	Timestamp uint32

	// Compressed sets the per-entry compressed byte on revisions that have one.
	// Data must already be in stored form.
	Compressed bool
}

// TestPack describes a hand-built container. Only revisions without a
// subheader or reserved block are supported: PFH0, PFH4 and plain PFH5.
type TestPack struct {
	Tag          string
	FileType     uint32
	Timestamped  bool
	Timestamp    uint32
	Dependencies []string
	Files        []TestFile
}

const timestampedIndex = 0x40

// BuildPack serializes p into container bytes.
func BuildPack(t testing.TB, p TestPack) []byte {
	t.Helper()

	hasTime := p.Tag != "PFH0"
	hasCompressed := p.Tag == "PFH5"

	var packs []byte
	for _, d := range p.Dependencies {
		packs = append(packs, d...)
		packs = append(packs, 0)
	}
	var files []byte
	for _, f := range p.Files {
		files = binary.LittleEndian.AppendUint32(files, uint32(len(f.Data))) //nolint:gosec // test sizes are small
		if p.Timestamped && hasTime {
			files = binary.LittleEndian.AppendUint32(files, f.Timestamp)
		}
		if hasCompressed {
			var c byte
			if f.Compressed {
				c = 1
			}
			files = append(files, c)
		}
		for i := 0; i < len(f.Path); i++ {
			b := f.Path[i]
			if b == '/' {
				b = '\\'
			}
			files = append(files, b)
		}
		files = append(files, 0)
	}

	word := p.FileType
	if p.Timestamped {
		word |= timestampedIndex
	}

	out := []byte(p.Tag)
	out = binary.LittleEndian.AppendUint32(out, word)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(p.Dependencies))) //nolint:gosec // test sizes are small
	out = binary.LittleEndian.AppendUint32(out, uint32(len(packs)))          //nolint:gosec // test sizes are small
	out = binary.LittleEndian.AppendUint32(out, uint32(len(p.Files)))        //nolint:gosec // test sizes are small
	out = binary.LittleEndian.AppendUint32(out, uint32(len(files)))          //nolint:gosec // test sizes are small
	if hasTime {
		out = binary.LittleEndian.AppendUint32(out, p.Timestamp)
	}
	out = append(out, packs...)
	out = append(out, files...)
	for _, f := range p.Files {
		out = append(out, f.Data...)
	}
	return out
}
