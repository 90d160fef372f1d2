// Package packtype defines the value types shared by the Pack container codec:
// format revisions, file types, header flags and compression formats.
package packtype

import "fmt"

// Version identifies a container format revision by its 4-byte tag.
type Version uint8

const (
	PFH0 Version = iota
	PFH2
	PFH3
	PFH4
	PFH5
	PFH6
)

var versionTags = [...]string{
	PFH0: "PFH0",
	PFH2: "PFH2",
	PFH3: "PFH3",
	PFH4: "PFH4",
	PFH5: "PFH5",
	PFH6: "PFH6",
}

// ParseVersion maps a 4-byte tag to its Version.
func ParseVersion(tag []byte) (Version, bool) {
	for v, t := range versionTags {
		if string(tag) == t {
			return Version(v), true //nolint:gosec // index of a short array
		}
	}
	return 0, false
}

// Tag returns the 4-byte on-disk tag.
func (v Version) Tag() string {
	if int(v) < len(versionTags) {
		return versionTags[v]
	}
	return "PFH?"
}

// String implements fmt.Stringer.
func (v Version) String() string { return v.Tag() }

// HasFileTime reports whether timestamps are stored as Windows FILETIME values.
func (v Version) HasFileTime() bool { return v == PFH2 || v == PFH3 }

// SupportsCompression reports whether index entries of this revision can carry
// the per-entry compressed byte. Extended PFH5 headers use the PFH4 index.
func (v Version) SupportsCompression(flags Flags) bool {
	switch v {
	case PFH6:
		return true
	case PFH5:
		return !flags.Has(FlagExtendedHeader)
	default:
		return false
	}
}

// FileType is the role of a container, stored in the low nibble of the type word.
type FileType uint32

const (
	FileTypeBoot FileType = iota
	FileTypeRelease
	FileTypePatch
	FileTypeMod
	FileTypeMovie
)

// String implements fmt.Stringer.
func (t FileType) String() string {
	switch t {
	case FileTypeBoot:
		return "boot"
	case FileTypeRelease:
		return "release"
	case FileTypePatch:
		return "patch"
	case FileTypeMod:
		return "mod"
	case FileTypeMovie:
		return "movie"
	default:
		return fmt.Sprintf("other(%d)", uint32(t))
	}
}

// Flags is the header bitmask stored above the file type nibble.
type Flags uint32

const (
	FlagEncryptedData    Flags = 0x0010
	FlagTimestampedIndex Flags = 0x0040
	FlagEncryptedIndex   Flags = 0x0080
	FlagExtendedHeader   Flags = 0x0100

	// FlagCompressedData has no bit of its own on disk. It is derived from
	// the per-entry compressed bytes and stripped before the header is written.
	FlagCompressedData Flags = 1 << 31

	fileTypeMask = 0xF
)

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Disk returns the flags as stored in the type word.
func (f Flags) Disk() Flags { return f &^ FlagCompressedData }

// SplitTypeWord separates the on-disk type word into file type and flags.
func SplitTypeWord(word uint32) (FileType, Flags) {
	return FileType(word & fileTypeMask), Flags(word &^ fileTypeMask)
}

// TypeWord combines a file type and flags into the on-disk type word.
func TypeWord(t FileType, f Flags) uint32 {
	return uint32(t)&fileTypeMask | uint32(f.Disk())&^fileTypeMask
}
