package pack

import (
	"errors"
	"fmt"

	"github.com/meigma/pack/core/internal/packtype"
	"github.com/meigma/pack/core/internal/platform"
)

var (
	// ErrMalformedContainer is returned when the header or an index is
	// structurally invalid. It is fatal for the open call.
	ErrMalformedContainer = packtype.ErrMalformedContainer

	// ErrPayloadCorrupt is returned when one entry's payload cannot be
	// decrypted or decompressed. Other entries are unaffected.
	ErrPayloadCorrupt = packtype.ErrPayloadCorrupt

	// ErrBackingSourceLost is returned by deferred reads once the source of a
	// lazily loaded archive changed or went away. The archive must be reopened.
	ErrBackingSourceLost = packtype.ErrBackingSourceLost

	// ErrUnsupportedForSave is returned when an encrypted or compressed
	// archive is saved without SaveWithReencode.
	ErrUnsupportedForSave = packtype.ErrUnsupportedForSave

	// ErrTooLarge is returned when a payload or index field exceeds 32 bits.
	ErrTooLarge = packtype.ErrTooLarge

	// ErrInvalidPath is returned for empty, absolute or otherwise unusable entry paths.
	ErrInvalidPath = errors.New("pack: invalid entry path")

	// ErrEntryExists is returned when a rename or batch insert would
	// duplicate an existing path.
	ErrEntryExists = errors.New("pack: entry already exists")

	// ErrEntryNotFound is returned when no entry has the requested path.
	ErrEntryNotFound = errors.New("pack: entry not found")

	// ErrSymlink is returned by OpenInRoot when the archive is a symbolic link.
	ErrSymlink = platform.ErrSymlink
)

// EntryError reports a failure scoped to one entry.
type EntryError struct {
	Path string
	Err  error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }
