package compress

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pack/core/internal/packtype"
)

func TestCompressRoundTrip(t *testing.T) {
	t.Parallel()

	plain := bytes.Repeat([]byte("land_units_tables|wh_main_emp_inf_swordsmen;"), 200)
	c := New()

	for _, format := range []packtype.Compression{
		packtype.CompressionLzma1,
		packtype.CompressionLz4,
		packtype.CompressionZstd,
	} {
		t.Run(format.String(), func(t *testing.T) {
			t.Parallel()

			stored, err := c.Compress(plain, format)
			require.NoError(t, err)
			assert.Equal(t, uint32(len(plain)), binary.LittleEndian.Uint32(stored))
			assert.Less(t, len(stored), len(plain))

			detected, ok := Detect(stored)
			require.True(t, ok)
			assert.Equal(t, format, detected)

			out, got, err := c.Decompress(stored)
			require.NoError(t, err)
			assert.Equal(t, format, got)
			assert.Equal(t, plain, out)
		})
	}
}

func TestLzmaPropsLayout(t *testing.T) {
	t.Parallel()

	stored, err := New().Compress([]byte("hello hello hello hello"), packtype.CompressionLzma1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x5D, 0x00, 0x00, 0x40, 0x00}, stored[4:9])
}

func TestDecompressCorrupt(t *testing.T) {
	t.Parallel()

	c := New()
	stored, err := c.Compress(bytes.Repeat([]byte("abcdef"), 100), packtype.CompressionZstd)
	require.NoError(t, err)

	truncated := stored[:len(stored)/2]
	_, _, err = c.Decompress(truncated)
	require.ErrorIs(t, err, ErrCorrupt)

	lying := bytes.Clone(stored)
	binary.LittleEndian.PutUint32(lying, 5)
	_, _, err = c.Decompress(lying)
	require.ErrorIs(t, err, ErrCorrupt)

	_, _, err = c.Decompress([]byte{1, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF})
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDecompressMaxSize(t *testing.T) {
	t.Parallel()

	c := New(WithMaxSize(16))
	stored, err := New().Compress(bytes.Repeat([]byte{'x'}, 64), packtype.CompressionLz4)
	require.NoError(t, err)

	_, _, err = c.Decompress(stored)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestCompressUnsupported(t *testing.T) {
	t.Parallel()

	_, err := New().Compress([]byte("x"), packtype.CompressionNone)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestDefaultSkip(t *testing.T) {
	t.Parallel()

	skip := []SkipFunc{DefaultSkip(0), SkipTables()}
	assert.True(t, ShouldSkip("ui/skins/logo.PNG", 100, skip))
	assert.True(t, ShouldSkip("db/units_tables/data__", 100, skip))
	assert.True(t, ShouldSkip("text/empty.loc", 0, skip))
	assert.False(t, ShouldSkip("script/campaign/main.lua", 100, skip))
}
