package pack

import (
	"time"

	"github.com/meigma/pack/core/internal/header"
)

// EntryState is the materialization state of an entry payload.
// Transitions only move forward: Unloaded to Loaded or Corrupt, and Loaded
// to LoadedDirty.
type EntryState uint8

const (
	// StateUnloaded means only the offset and length into the source are known.
	StateUnloaded EntryState = iota

	// StateLoaded means the decoded payload is held in memory and unchanged.
	StateLoaded

	// StateLoadedDirty means the payload was replaced since open.
	StateLoadedDirty

	// StateCorrupt means the stored bytes could not be decoded. They are
	// kept opaque and written back unchanged when the encoding is unchanged.
	StateCorrupt
)

// String implements fmt.Stringer.
func (s EntryState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateLoadedDirty:
		return "dirty"
	case StateCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

type entry struct {
	path  string
	state EntryState

	// Source location, valid in StateUnloaded.
	offset     uint64
	storedSize uint32

	// data is the decoded payload, or the stored bytes in StateCorrupt.
	data []byte
	err  error

	timestamp  uint64
	compressed bool
	encrypted  bool
	format     Compression
}

// EntryInfo is a read-only snapshot of one entry.
type EntryInfo struct {
	Path  string
	State EntryState

	// Size is the decoded payload length once loaded, the stored length otherwise.
	Size int64

	// Compressed reports whether the payload is stored compressed.
	Compressed bool

	// Compression is the codec observed for a compressed payload.
	Compression Compression

	// Encrypted reports whether the payload is stored encrypted.
	Encrypted bool

	// ModTime is the index timestamp, zero when the index carries none.
	ModTime time.Time
}

func (e *entry) info(v Version) EntryInfo {
	size := int64(e.storedSize)
	if e.state != StateUnloaded {
		size = int64(len(e.data))
	}
	return EntryInfo{
		Path:        e.path,
		State:       e.state,
		Size:        size,
		Compressed:  e.compressed,
		Compression: e.format,
		Encrypted:   e.encrypted,
		ModTime:     header.ToTime(v, e.timestamp),
	}
}

// replace installs a new payload and marks the entry dirty.
func (e *entry) replace(data []byte) {
	e.data = data
	e.state = StateLoadedDirty
	e.err = nil
}
