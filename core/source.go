package pack

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ByteSource provides random access to container bytes.
// SourceID must return a stable identifier for the underlying content.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// verifier is implemented by sources that can detect they changed since open.
type verifier interface {
	Verify() error
}

// BytesSource is an in-memory ByteSource.
type BytesSource struct {
	r  *bytes.Reader
	id string
}

// NewBytesSource wraps data. The slice must not be modified afterwards.
func NewBytesSource(data []byte) *BytesSource {
	sum := sha256.Sum256(data)
	return &BytesSource{r: bytes.NewReader(data), id: "mem:" + hex.EncodeToString(sum[:8])}
}

// ReadAt implements io.ReaderAt.
func (s *BytesSource) ReadAt(p []byte, off int64) (int, error) { return s.r.ReadAt(p, off) }

// Size returns the data length.
func (s *BytesSource) Size() int64 { return s.r.Size() }

// SourceID returns a content-derived identifier.
func (s *BytesSource) SourceID() string { return s.id }

// FileSource is a ByteSource backed by an open file. It records the file's
// size and modification time at open and reports ErrBackingSourceLost once
// either changes, the file disappears or the source is closed.
type FileSource struct {
	mu      sync.RWMutex
	f       *os.File
	path    string
	size    int64
	modTime time.Time
	closed  bool
}

// OpenFileSource opens path for reading.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewFileSource(f)
}

// NewFileSource wraps an already open file. The source takes ownership of f.
func NewFileSource(f *os.File) (*FileSource, error) {
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileSource{
		f:       f,
		path:    f.Name(),
		size:    info.Size(),
		modTime: info.ModTime(),
	}, nil
}

// ReadAt implements io.ReaderAt.
func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrBackingSourceLost
	}
	return s.f.ReadAt(p, off)
}

// Size returns the file size recorded at open.
func (s *FileSource) Size() int64 { return s.size }

// SourceID identifies the file by path, size and modification time.
func (s *FileSource) SourceID() string {
	return fmt.Sprintf("file:%s:%d:%d", s.path, s.size, s.modTime.UnixNano())
}

// ModTime returns the modification time recorded at open.
func (s *FileSource) ModTime() time.Time { return s.modTime }

// Verify checks that the file on disk is still the one that was opened.
func (s *FileSource) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: source closed", ErrBackingSourceLost)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackingSourceLost, err)
	}
	if info.Size() != s.size || !info.ModTime().Equal(s.modTime) {
		return fmt.Errorf("%w: %s changed since open", ErrBackingSourceLost, s.path)
	}
	return nil
}

// Close releases the file. Later reads fail with ErrBackingSourceLost.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
