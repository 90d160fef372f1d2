package header

import (
	"fmt"
	"strings"

	"github.com/meigma/pack/core/internal/crypt"
	"github.com/meigma/pack/core/internal/packtype"
	"github.com/meigma/pack/internal/cursor"
	"github.com/meigma/pack/internal/sizing"
)

// Encode serializes the header and both indexes. Index sizes and counts are
// derived from h.Dependencies and entries; entry offsets are ignored.
func Encode(h *Header, entries []IndexEntry) ([]byte, error) {
	packs := cursor.NewWriter(64)
	for _, dep := range h.Dependencies {
		if strings.IndexByte(dep, 0) >= 0 {
			return nil, fmt.Errorf("%w: parent pack name %q contains NUL", packtype.ErrMalformedContainer, dep)
		}
		packs.StringU8Zero(dep)
	}

	files, err := encodeFilesIndex(h, entries)
	if err != nil {
		return nil, err
	}

	packsCount, err := sizing.ToUint32(len(h.Dependencies), packtype.ErrTooLarge)
	if err != nil {
		return nil, err
	}
	packsSize, err := sizing.ToUint32(packs.Len(), packtype.ErrTooLarge)
	if err != nil {
		return nil, err
	}
	filesCount, err := sizing.ToUint32(len(entries), packtype.ErrTooLarge)
	if err != nil {
		return nil, err
	}
	filesSize, err := sizing.ToUint32(len(files), packtype.ErrTooLarge)
	if err != nil {
		return nil, err
	}

	w := cursor.NewWriter(preambleSize + baseSize + extraSize(h.Version, h.Flags) + packs.Len() + len(files))
	if len(h.Preamble) > 0 {
		if len(h.Preamble) != preambleSize || !strings.HasPrefix(string(h.Preamble), preambleTag) {
			return nil, fmt.Errorf("%w: invalid preamble", packtype.ErrMalformedContainer)
		}
		w.Raw(h.Preamble)
	}
	w.Raw([]byte(h.Version.Tag()))
	w.U32(packtype.TypeWord(h.FileType, h.Flags))
	w.U32(packsCount)
	w.U32(packsSize)
	w.U32(filesCount)
	w.U32(filesSize)

	if err := writeExtra(w, h); err != nil {
		return nil, err
	}
	w.Raw(packs.Bytes())
	w.Raw(files)
	return w.Bytes(), nil
}

func writeExtra(w *cursor.Writer, h *Header) error {
	switch h.Version {
	case packtype.PFH6:
		w.U32(uint32(h.Timestamp)) //nolint:gosec // PFH6 timestamps are 32 bits
		sub := h.Subheader
		if sub == nil {
			sub = &Subheader{}
		}
		w.U32(sub.Marker)
		w.U32(sub.Version)
		w.U32(sub.GameVersion)
		w.U32(sub.BuildNumber)
		if err := w.StringU8Padded(sub.AuthoringTool, subheaderToolSize); err != nil {
			return fmt.Errorf("authoring tool: %w", err)
		}
		extra := make([]byte, subheaderExtra)
		copy(extra, sub.Extra)
		w.Raw(extra)
	case packtype.PFH5, packtype.PFH4:
		w.U32(uint32(h.Timestamp)) //nolint:gosec // PFH4/PFH5 timestamps are 32 bits
		if h.Flags.Has(packtype.FlagExtendedHeader) {
			reserved := make([]byte, reservedSize)
			copy(reserved, h.Reserved)
			w.Raw(reserved)
		}
	case packtype.PFH3, packtype.PFH2:
		w.U64(h.Timestamp)
	}
	return nil
}

func encodeFilesIndex(h *Header, entries []IndexEntry) ([]byte, error) {
	encrypted := h.Flags.Has(packtype.FlagEncryptedIndex)
	timestamped := h.Flags.Has(packtype.FlagTimestampedIndex)
	compressible := h.Version.SupportsCompression(h.Flags)

	w := cursor.NewWriter(len(entries) * 48)
	count := uint32(len(entries)) //nolint:gosec // checked by the caller
	for i, e := range entries {
		remaining := count - 1 - uint32(i) //nolint:gosec // i < count
		if strings.IndexByte(e.Path, 0) >= 0 {
			return nil, fmt.Errorf("%w: path %q contains NUL", packtype.ErrMalformedContainer, e.Path)
		}
		if e.Compressed && !compressible {
			return nil, fmt.Errorf("%w: %s cannot store compressed entry %q", packtype.ErrUnsupportedForSave, h.Version, e.Path)
		}

		size := e.Size
		if encrypted {
			size = crypt.IndexU32(size, remaining)
		}
		w.U32(size)

		if timestamped {
			switch {
			case h.Version.HasFileTime():
				w.U64(e.Timestamp)
			case h.Version != packtype.PFH0:
				ts := uint32(e.Timestamp) //nolint:gosec // 32-bit field
				if encrypted {
					ts = crypt.IndexU32(ts, remaining)
				}
				w.U32(ts)
			}
		}

		if compressible {
			w.Bool(e.Compressed)
		}

		path := append([]byte(strings.ReplaceAll(e.Path, "/", `\`)), 0)
		if encrypted {
			path = crypt.IndexPath(path, e.Size)
		}
		w.Raw(path)
	}
	return w.Bytes(), nil
}

// DataStart returns where the first payload goes when the encoded header
// occupies headerLen bytes.
func DataStart(v packtype.Version, f packtype.Flags, headerLen int) uint64 {
	start := uint64(headerLen) //nolint:gosec // lengths are non-negative
	if Aligned(v, f) {
		start = sizing.AlignUp(start, 8)
	}
	return start
}
