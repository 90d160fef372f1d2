package header

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pack/core/internal/packtype"
)

func sampleEntries() []IndexEntry {
	return []IndexEntry{
		{Path: "db/units_tables/data__", Size: 3, Timestamp: 1700000000},
		{Path: "text/db/units.loc", Size: 5, Timestamp: 1700000001, Compressed: true},
		{Path: "script/empty.lua", Size: 0},
	}
}

// withPayloads appends the data region so offsets validate.
func withPayloads(t *testing.T, hdr []byte, h *Header, entries []IndexEntry) []byte {
	t.Helper()
	out := bytes.Clone(hdr)
	start := DataStart(h.Version, h.Flags, len(out))
	out = append(out, make([]byte, int(start)-len(out))...)
	for _, e := range entries {
		out = append(out, bytes.Repeat([]byte{0xAB}, int(e.Size))...)
		if Aligned(h.Version, h.Flags) {
			for len(out)%8 != 0 {
				out = append(out, 0)
			}
		}
	}
	return out
}

func TestEncodeReadRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		hdr   Header
		check func(t *testing.T, got Header)
	}{
		{
			name: "pfh6 subheader",
			hdr: Header{
				Version:   packtype.PFH6,
				FileType:  packtype.FileTypeMod,
				Flags:     packtype.FlagTimestampedIndex,
				Timestamp: 1710000000,
				Subheader: &Subheader{Marker: 0x12345678, Version: 1, GameVersion: 42, BuildNumber: 7, AuthoringTool: "RPFM", Extra: make([]byte, 256)},
			},
			check: func(t *testing.T, got Header) {
				require.NotNil(t, got.Subheader)
				assert.Equal(t, uint32(42), got.Subheader.GameVersion)
				assert.Equal(t, "RPFM", got.Subheader.AuthoringTool)
			},
		},
		{
			name: "pfh5 plain",
			hdr:  Header{Version: packtype.PFH5, FileType: packtype.FileTypeMod, Flags: packtype.FlagTimestampedIndex, Timestamp: 99},
		},
		{
			name: "pfh4 extended",
			hdr:  Header{Version: packtype.PFH4, FileType: packtype.FileTypeRelease, Flags: packtype.FlagExtendedHeader, Reserved: bytes.Repeat([]byte{1}, 20)},
			check: func(t *testing.T, got Header) {
				assert.Equal(t, bytes.Repeat([]byte{1}, 20), got.Reserved)
			},
		},
		{
			name: "pfh3 filetime",
			hdr:  Header{Version: packtype.PFH3, FileType: packtype.FileTypePatch, Timestamp: FromTime(packtype.PFH3, time.Unix(1600000000, 0))},
			check: func(t *testing.T, got Header) {
				assert.Equal(t, int64(1600000000), ToTime(packtype.PFH3, got.Timestamp).Unix())
			},
		},
		{
			name: "pfh0",
			hdr:  Header{Version: packtype.PFH0, FileType: packtype.FileTypeBoot},
		},
		{
			name: "mfh preamble",
			hdr:  Header{Version: packtype.PFH4, FileType: packtype.FileTypeMod, Preamble: []byte("MFH\x00\x01\x02\x03\x04")},
		},
		{
			name: "encrypted index",
			hdr:  Header{Version: packtype.PFH4, FileType: packtype.FileTypeRelease, Flags: packtype.FlagEncryptedIndex | packtype.FlagTimestampedIndex},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := tt.hdr
			h.Dependencies = []string{"data.pack", "parent_mod.pack"}
			entries := sampleEntries()
			if !h.Version.SupportsCompression(h.Flags) {
				for i := range entries {
					entries[i].Compressed = false
				}
			}

			hdr, err := Encode(&h, entries)
			require.NoError(t, err)
			src := withPayloads(t, hdr, &h, entries)

			layout, err := Read(bytes.NewReader(src), int64(len(src)))
			require.NoError(t, err)

			got := layout.Header
			assert.Equal(t, h.Version, got.Version)
			assert.Equal(t, h.FileType, got.FileType)
			assert.Equal(t, h.Flags, got.Flags)
			assert.Equal(t, h.Timestamp, got.Timestamp)
			assert.Equal(t, h.Preamble, got.Preamble)
			assert.Equal(t, h.Dependencies, got.Dependencies)
			if tt.check != nil {
				tt.check(t, got)
			}

			require.Len(t, layout.Entries, len(entries))
			offset := layout.DataStart
			for i, e := range layout.Entries {
				assert.Equal(t, entries[i].Path, e.Path)
				assert.Equal(t, entries[i].Size, e.Size)
				assert.Equal(t, entries[i].Compressed, e.Compressed)
				assert.Equal(t, offset, e.Offset)
				if h.Flags.Has(packtype.FlagTimestampedIndex) && h.Version != packtype.PFH0 {
					assert.Equal(t, entries[i].Timestamp, e.Timestamp)
				}
				offset += uint64(e.Size)
			}
			assert.Equal(t, uint64(len(src)), layout.DataEnd)
		})
	}
}

func TestEncryptedIndexIsObfuscated(t *testing.T) {
	t.Parallel()

	h := Header{Version: packtype.PFH4, Flags: packtype.FlagEncryptedIndex}
	hdr, err := Encode(&h, sampleEntries())
	require.NoError(t, err)
	assert.NotContains(t, string(hdr), `db\units_tables`)

	h.Flags = 0
	plain, err := Encode(&h, sampleEntries())
	require.NoError(t, err)
	assert.Contains(t, string(plain), `db\units_tables\data__`)
}

func TestAlignedPayloads(t *testing.T) {
	t.Parallel()

	h := Header{Version: packtype.PFH5, Flags: packtype.FlagExtendedHeader | packtype.FlagEncryptedData}
	entries := sampleEntries()
	for i := range entries {
		entries[i].Compressed = false
	}
	hdr, err := Encode(&h, entries)
	require.NoError(t, err)
	src := withPayloads(t, hdr, &h, entries)

	layout, err := Read(bytes.NewReader(src), int64(len(src)))
	require.NoError(t, err)
	for _, e := range layout.Entries {
		assert.Zero(t, e.Offset%8, e.Path)
	}
}

func TestReadMalformed(t *testing.T) {
	t.Parallel()

	h := Header{Version: packtype.PFH5, FileType: packtype.FileTypeMod}
	entries := sampleEntries()
	hdr, err := Encode(&h, entries)
	require.NoError(t, err)
	good := withPayloads(t, hdr, &h, entries)

	t.Run("unknown tag", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(good)
		copy(bad, "PFH9")
		_, err := Read(bytes.NewReader(bad), int64(len(bad)))
		require.ErrorIs(t, err, packtype.ErrMalformedContainer)
	})

	t.Run("index length mismatch", func(t *testing.T) {
		t.Parallel()
		bad := bytes.Clone(good)
		// files_index_size lives at offset 20.
		size := binary.LittleEndian.Uint32(bad[20:])
		binary.LittleEndian.PutUint32(bad[20:], size+1)
		_, err := Read(bytes.NewReader(bad), int64(len(bad)))
		require.ErrorIs(t, err, packtype.ErrMalformedContainer)
	})

	t.Run("payload past source", func(t *testing.T) {
		t.Parallel()
		bad := good[:len(good)-1]
		_, err := Read(bytes.NewReader(bad), int64(len(bad)))
		require.ErrorIs(t, err, packtype.ErrMalformedContainer)
	})

	t.Run("truncated header", func(t *testing.T) {
		t.Parallel()
		_, err := Read(bytes.NewReader(good[:10]), 10)
		require.ErrorIs(t, err, packtype.ErrMalformedContainer)
	})
}

func TestEncodeRejectsCompressedOnOldRevision(t *testing.T) {
	t.Parallel()

	h := Header{Version: packtype.PFH4}
	_, err := Encode(&h, []IndexEntry{{Path: "a", Size: 1, Compressed: true}})
	require.ErrorIs(t, err, packtype.ErrUnsupportedForSave)
}

func TestTimeConversions(t *testing.T) {
	t.Parallel()

	ts := time.Unix(1700000000, 0)
	assert.True(t, ToTime(packtype.PFH6, FromTime(packtype.PFH6, ts)).Equal(ts))
	assert.True(t, ToTime(packtype.PFH2, FromTime(packtype.PFH2, ts)).Equal(ts))
	assert.Zero(t, FromTime(packtype.PFH0, ts))
	assert.True(t, ToTime(packtype.PFH5, 0).IsZero())
}
