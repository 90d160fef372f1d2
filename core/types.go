package pack

import (
	"time"

	"github.com/meigma/pack/core/internal/header"
	"github.com/meigma/pack/core/internal/packtype"
)

// Re-export types from internal/packtype for public API.
type (
	// Version identifies a container format revision.
	Version = packtype.Version

	// FileType is the role of a container.
	FileType = packtype.FileType

	// Flags is the header bitmask.
	Flags = packtype.Flags

	// Compression identifies the codec used for a compressed payload.
	Compression = packtype.Compression

	// Subheader is the PFH6 extension block.
	Subheader = header.Subheader
)

// Re-export revision, file type, flag and compression constants.
const (
	PFH0 = packtype.PFH0
	PFH2 = packtype.PFH2
	PFH3 = packtype.PFH3
	PFH4 = packtype.PFH4
	PFH5 = packtype.PFH5
	PFH6 = packtype.PFH6

	FileTypeBoot    = packtype.FileTypeBoot
	FileTypeRelease = packtype.FileTypeRelease
	FileTypePatch   = packtype.FileTypePatch
	FileTypeMod     = packtype.FileTypeMod
	FileTypeMovie   = packtype.FileTypeMovie

	FlagEncryptedData    = packtype.FlagEncryptedData
	FlagTimestampedIndex = packtype.FlagTimestampedIndex
	FlagEncryptedIndex   = packtype.FlagEncryptedIndex
	FlagExtendedHeader   = packtype.FlagExtendedHeader
	FlagCompressedData   = packtype.FlagCompressedData

	CompressionNone  = packtype.CompressionNone
	CompressionLzma1 = packtype.CompressionLzma1
	CompressionLz4   = packtype.CompressionLz4
	CompressionZstd  = packtype.CompressionZstd
)

// ParseVersion maps a 4-byte tag such as "PFH5" to its Version.
func ParseVersion(tag string) (Version, bool) { return packtype.ParseVersion([]byte(tag)) }

// ParseCompression maps a codec name such as "zstd" to its Compression.
var ParseCompression = packtype.ParseCompression

// Metadata describes an archive header.
type Metadata struct {
	Version  Version
	FileType FileType
	Flags    Flags

	// Timestamp is the raw build timestamp in the revision's representation.
	Timestamp uint64

	// Preamble holds the 8 leading bytes of MFH-wrapped archives.
	Preamble []byte

	// Reserved is the 20-byte block of extended PFH4/PFH5 headers.
	Reserved []byte

	// Subheader is set on PFH6 archives.
	Subheader *Subheader

	// Compression is the codec for entries compressed at save. It is
	// filled in at open from the first compressed payload.
	Compression Compression
}

// BuildTime returns the build timestamp as a time.Time.
func (m Metadata) BuildTime() time.Time { return header.ToTime(m.Version, m.Timestamp) }

// SetBuildTime stores t in the revision's timestamp representation.
func (m *Metadata) SetBuildTime(t time.Time) { m.Timestamp = header.FromTime(m.Version, t) }
