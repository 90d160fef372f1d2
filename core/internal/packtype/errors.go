package packtype

import "errors"

// Sentinel errors shared by the container codec packages.
var (
	// ErrMalformedContainer indicates the header or index is structurally invalid.
	ErrMalformedContainer = errors.New("pack: malformed container")

	// ErrPayloadCorrupt indicates one entry's stored bytes cannot be decoded.
	ErrPayloadCorrupt = errors.New("pack: payload corrupt")

	// ErrBackingSourceLost indicates the source backing a lazily loaded
	// archive changed or became unavailable.
	ErrBackingSourceLost = errors.New("pack: backing source lost")

	// ErrUnsupportedForSave indicates an encrypted or compressed container
	// was saved without requesting re-encoding.
	ErrUnsupportedForSave = errors.New("pack: unsupported for save")

	// ErrTooLarge indicates a value does not fit its 32-bit index field.
	ErrTooLarge = errors.New("pack: too large for container")
)
