// Package header parses and serializes the Pack header, the parent pack
// index and the file index for every supported format revision.
package header

import (
	"time"

	"github.com/meigma/pack/core/internal/packtype"
)

const (
	// baseSize is the tag, type word and the four index count/size words.
	baseSize = 24

	preambleTag  = "MFH"
	preambleSize = 8

	reservedSize      = 20
	subheaderSize     = 280
	subheaderToolSize = 8
	subheaderExtra    = 256

	// ArenaTrailerSize is the opaque tail that follows the data region of
	// extended PFH5 containers.
	ArenaTrailerSize = 256

	windowsTick    = 10_000_000
	secToUnixEpoch = 11_644_473_600
)

// Header is the decoded fixed part of a container.
type Header struct {
	Version  packtype.Version
	FileType packtype.FileType
	Flags    packtype.Flags

	// Preamble holds the 8 leading bytes of MFH-wrapped containers, nil otherwise.
	Preamble []byte

	// Timestamp is the raw build timestamp: uint32 seconds on PFH4 and
	// later, a Windows FILETIME on PFH2/PFH3, unused on PFH0.
	Timestamp uint64

	// Reserved is the 20-byte block of extended PFH4/PFH5 headers.
	Reserved []byte

	// Subheader is present on PFH6 only.
	Subheader *Subheader

	// Dependencies are the parent pack names in declaration order.
	Dependencies []string
}

// Subheader is the PFH6 extension block.
type Subheader struct {
	Marker        uint32
	Version       uint32
	GameVersion   uint32
	BuildNumber   uint32
	AuthoringTool string
	Extra         []byte
}

// IndexEntry is one record of the file index.
type IndexEntry struct {
	Path string

	// Size is the stored payload length in bytes.
	Size uint32

	// Timestamp is the raw per-entry timestamp, zero when absent.
	Timestamp uint64

	Compressed bool

	// Offset is the absolute position of the payload in the source.
	Offset uint64
}

// Layout is a fully parsed header and index.
type Layout struct {
	Header  Header
	Entries []IndexEntry

	// DataStart is the absolute offset of the first payload.
	DataStart uint64

	// DataEnd is the absolute offset just past the last payload.
	DataEnd uint64
}

// Aligned reports whether payloads are stored on 8-byte boundaries. Only
// extended PFH5 containers with encrypted data do this.
func Aligned(v packtype.Version, f packtype.Flags) bool {
	return v == packtype.PFH5 && f.Has(packtype.FlagExtendedHeader) && f.Has(packtype.FlagEncryptedData)
}

// HasArenaTrailer reports whether a trailing opaque block follows the data.
func HasArenaTrailer(v packtype.Version, f packtype.Flags) bool {
	return v == packtype.PFH5 && f.Has(packtype.FlagExtendedHeader)
}

// ToTime converts a raw timestamp of revision v to a time.Time.
// The zero raw value maps to the zero time.
func ToTime(v packtype.Version, raw uint64) time.Time {
	if raw == 0 || v == packtype.PFH0 {
		return time.Time{}
	}
	if v.HasFileTime() {
		return time.Unix(int64(raw/windowsTick)-secToUnixEpoch, 0).UTC() //nolint:gosec // FILETIME fits int64
	}
	return time.Unix(int64(raw), 0).UTC() //nolint:gosec // raw is a uint32 here
}

// FromTime converts t to the raw timestamp representation of revision v.
func FromTime(v packtype.Version, t time.Time) uint64 {
	if t.IsZero() || v == packtype.PFH0 {
		return 0
	}
	secs := t.Unix()
	if v.HasFileTime() {
		return uint64(secs+secToUnixEpoch) * windowsTick //nolint:gosec // post-1601 times are positive
	}
	if secs < 0 {
		return 0
	}
	return uint64(uint32(secs)) //nolint:gosec // the field is 32 bits wide
}

// extraSize returns the size of the header block that follows the base header.
func extraSize(v packtype.Version, f packtype.Flags) int {
	switch v {
	case packtype.PFH6:
		return 4 + subheaderSize
	case packtype.PFH5, packtype.PFH4:
		if f.Has(packtype.FlagExtendedHeader) {
			return 4 + reservedSize
		}
		return 4
	case packtype.PFH3, packtype.PFH2:
		return 8
	default:
		return 0
	}
}
