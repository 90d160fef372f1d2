package packtype

// Compression identifies the codec used for a compressed entry payload.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLzma1
	CompressionLz4
	CompressionZstd
)

// String returns the human-readable name of the compression algorithm.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLzma1:
		return "lzma1"
	case CompressionLz4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression maps a name produced by String back to its value.
func ParseCompression(name string) (Compression, bool) {
	for _, c := range []Compression{CompressionNone, CompressionLzma1, CompressionLz4, CompressionZstd} {
		if c.String() == name {
			return c, true
		}
	}
	return CompressionNone, false
}
