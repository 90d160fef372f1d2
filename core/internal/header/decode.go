package header

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/meigma/pack/core/internal/crypt"
	"github.com/meigma/pack/core/internal/packtype"
	"github.com/meigma/pack/internal/cursor"
	"github.com/meigma/pack/internal/sizing"
)

// minIndexEntrySize is a size word plus an empty NUL-terminated path.
const minIndexEntrySize = 5

type counts struct {
	packs, packsSize, files, filesSize uint32
}

// Read parses the header, the parent pack index and the file index of the
// container in src, and computes the absolute offset of every payload.
// size is the total length of src.
func Read(src io.ReaderAt, size int64) (*Layout, error) {
	if size < 0 {
		return nil, malformed("negative source size")
	}
	total := uint64(size)

	var h Header
	pos := uint64(0)

	lead := make([]byte, preambleSize+baseSize)
	n, err := src.ReadAt(lead, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	lead = lead[:n]
	if bytes.HasPrefix(lead, []byte(preambleTag)) {
		if len(lead) < preambleSize+baseSize {
			return nil, malformed("truncated header")
		}
		h.Preamble = bytes.Clone(lead[:preambleSize])
		pos = preambleSize
	}
	if uint64(len(lead)) < pos+baseSize {
		return nil, malformed("truncated header")
	}

	base := cursor.NewReader(lead[pos : pos+baseSize])
	tag, _ := base.Bytes(4)
	version, ok := packtype.ParseVersion(tag)
	if !ok {
		return nil, malformed(fmt.Sprintf("unknown format tag %q", tag))
	}
	h.Version = version
	word, _ := base.U32()
	h.FileType, h.Flags = packtype.SplitTypeWord(word)

	var c counts
	c.packs, _ = base.U32()
	c.packsSize, _ = base.U32()
	c.files, _ = base.U32()
	c.filesSize, _ = base.U32()
	pos += baseSize

	extra := uint64(extraSize(version, h.Flags))
	blockLen := extra + uint64(c.packsSize) + uint64(c.filesSize)
	dataStart, ok := sizing.AddUint64(pos, blockLen)
	if !ok || dataStart > total {
		return nil, malformed(fmt.Sprintf("index of %d bytes extends past source of %d bytes", blockLen, total))
	}
	block := make([]byte, blockLen)
	if _, err := src.ReadAt(block, int64(pos)); err != nil { //nolint:gosec // bounded by size
		if errors.Is(err, io.EOF) {
			return nil, malformed("truncated index")
		}
		return nil, err
	}

	if err := readExtra(&h, block[:extra]); err != nil {
		return nil, err
	}

	packsEnd := extra + uint64(c.packsSize)
	deps, err := readPacksIndex(block[extra:packsEnd], c.packs)
	if err != nil {
		return nil, err
	}
	h.Dependencies = deps

	entries, err := readFilesIndex(&h, block[packsEnd:], c.files)
	if err != nil {
		return nil, err
	}

	layout := &Layout{Header: h, Entries: entries}
	if err := layout.place(dataStart, total); err != nil {
		return nil, err
	}
	return layout, nil
}

func readExtra(h *Header, block []byte) error {
	r := cursor.NewReader(block)
	var err error
	switch h.Version {
	case packtype.PFH6:
		var ts uint32
		if ts, err = r.U32(); err != nil {
			break
		}
		h.Timestamp = uint64(ts)
		sub := &Subheader{}
		sub.Marker, _ = r.U32()
		sub.Version, _ = r.U32()
		sub.GameVersion, _ = r.U32()
		sub.BuildNumber, _ = r.U32()
		sub.AuthoringTool, _ = r.StringU8Padded(subheaderToolSize)
		var extra []byte
		extra, err = r.Bytes(subheaderExtra)
		sub.Extra = bytes.Clone(extra)
		h.Subheader = sub
	case packtype.PFH5, packtype.PFH4:
		var ts uint32
		if ts, err = r.U32(); err != nil {
			break
		}
		h.Timestamp = uint64(ts)
		if h.Flags.Has(packtype.FlagExtendedHeader) {
			var reserved []byte
			reserved, err = r.Bytes(reservedSize)
			h.Reserved = bytes.Clone(reserved)
		}
	case packtype.PFH3, packtype.PFH2:
		h.Timestamp, err = r.U64()
	}
	if err != nil {
		return malformed("truncated extended header: " + err.Error())
	}
	return nil
}

func readPacksIndex(block []byte, count uint32) ([]string, error) {
	r := cursor.NewReader(block)
	deps := make([]string, 0, min(int(count), len(block)))
	for range count {
		name, err := r.StringU8Zero()
		if err != nil {
			return nil, malformed("truncated parent pack index")
		}
		deps = append(deps, name)
	}
	if r.Remaining() != 0 {
		return nil, malformed(fmt.Sprintf("parent pack index declared %d bytes, consumed %d", len(block), r.Offset()))
	}
	return deps, nil
}

func readFilesIndex(h *Header, block []byte, count uint32) ([]IndexEntry, error) {
	r := cursor.NewReader(block)
	encrypted := h.Flags.Has(packtype.FlagEncryptedIndex)
	timestamped := h.Flags.Has(packtype.FlagTimestampedIndex)
	compressible := h.Version.SupportsCompression(h.Flags)

	entries := make([]IndexEntry, 0, min(int(count), len(block)/minIndexEntrySize))
	for i := range count {
		remaining := count - 1 - i
		var e IndexEntry

		size, err := r.U32()
		if err != nil {
			return nil, truncatedIndex(i, err)
		}
		if encrypted {
			size = crypt.IndexU32(size, remaining)
		}
		e.Size = size

		if timestamped {
			switch {
			case h.Version.HasFileTime():
				e.Timestamp, err = r.U64()
			case h.Version != packtype.PFH0:
				var ts uint32
				ts, err = r.U32()
				if encrypted {
					ts = crypt.IndexU32(ts, remaining)
				}
				e.Timestamp = uint64(ts)
			}
			if err != nil {
				return nil, truncatedIndex(i, err)
			}
		}

		if compressible {
			if e.Compressed, err = r.Bool(); err != nil {
				return nil, truncatedIndex(i, err)
			}
		}

		var path string
		if encrypted {
			path, err = readEncryptedPath(r, size)
		} else {
			path, err = r.StringU8Zero()
		}
		if err != nil {
			return nil, truncatedIndex(i, err)
		}
		e.Path = strings.ReplaceAll(path, `\`, "/")
		entries = append(entries, e)
	}
	if r.Remaining() != 0 {
		return nil, malformed(fmt.Sprintf("file index declared %d bytes, consumed %d", len(block), r.Offset()))
	}
	return entries, nil
}

func readEncryptedPath(r *cursor.Reader, size uint32) (string, error) {
	var sb strings.Builder
	for i := 0; ; i++ {
		b, err := r.U8()
		if err != nil {
			return "", err
		}
		c := crypt.IndexPathByte(b, i, size)
		if c == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(c)
	}
}

// place assigns payload offsets and validates them against the source length.
func (l *Layout) place(dataStart, total uint64) error {
	aligned := Aligned(l.Header.Version, l.Header.Flags)
	if aligned {
		dataStart = sizing.AlignUp(dataStart, 8)
	}
	pos := dataStart
	for i := range l.Entries {
		e := &l.Entries[i]
		e.Offset = pos
		span := uint64(e.Size)
		if aligned {
			span = sizing.AlignUp(span, 8)
		}
		end, ok := sizing.AddUint64(pos, uint64(e.Size))
		if !ok || end > total {
			return malformed(fmt.Sprintf("payload of %q extends past source (%d > %d)", e.Path, end, total))
		}
		pos += span
	}
	l.DataStart = dataStart
	l.DataEnd = min(pos, total)
	return nil
}

func truncatedIndex(i uint32, err error) error {
	return fmt.Errorf("%w: truncated file index entry %d: %w", packtype.ErrMalformedContainer, i, err)
}

func malformed(msg string) error {
	return fmt.Errorf("%w: %s", packtype.ErrMalformedContainer, msg)
}
