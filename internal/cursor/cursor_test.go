package cursor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderPrimitives(t *testing.T) {
	t.Parallel()

	w := NewWriter(64)
	w.U8(7)
	w.Bool(true)
	w.I16(-2)
	w.I32(-300000)
	w.I64(-1 << 40)
	w.F32(1.5)
	w.F64(-2.25)
	require.NoError(t, w.StringU8("units"))
	require.NoError(t, w.StringU16("Ünïcode"))
	w.StringU8Zero(`db\x`)
	require.NoError(t, w.StringU8Padded("RPFM", 8))

	r := NewReader(w.Bytes())
	u8, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), u8)

	b, err := r.Bool()
	require.NoError(t, err)
	assert.True(t, b)

	i16, err := r.I16()
	require.NoError(t, err)
	assert.Equal(t, int16(-2), i16)

	i32, err := r.I32()
	require.NoError(t, err)
	assert.Equal(t, int32(-300000), i32)

	i64, err := r.I64()
	require.NoError(t, err)
	assert.Equal(t, int64(-1<<40), i64)

	f32, err := r.F32()
	require.NoError(t, err)
	assert.InDelta(t, 1.5, f32, 0)

	f64, err := r.F64()
	require.NoError(t, err)
	assert.InDelta(t, -2.25, f64, 0)

	s, err := r.StringU8()
	require.NoError(t, err)
	assert.Equal(t, "units", s)

	s, err = r.StringU16()
	require.NoError(t, err)
	assert.Equal(t, "Ünïcode", s)

	s, err = r.StringU8Zero()
	require.NoError(t, err)
	assert.Equal(t, `db\x`, s)

	s, err = r.StringU8Padded(8)
	require.NoError(t, err)
	assert.Equal(t, "RPFM", s)

	assert.Zero(t, r.Remaining())
}

func TestBoolAcceptsAnyNonZero(t *testing.T) {
	t.Parallel()

	r := NewReader([]byte{0, 1, 0x7f})
	for _, want := range []bool{false, true, true} {
		got, err := r.Bool()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestShortRead(t *testing.T) {
	t.Parallel()

	r := NewReader([]byte{1, 2, 3})
	_, err := r.U32()
	require.ErrorIs(t, err, ErrShortRead)

	var sre *ShortReadError
	require.ErrorAs(t, err, &sre)
	assert.Equal(t, 0, sre.Offset)
	assert.Equal(t, 4, sre.Want)
	assert.Equal(t, 3, sre.Have)
	assert.Equal(t, 0, r.Offset(), "failed read must not advance")

	_, err = NewReader([]byte("no terminator")).StringU8Zero()
	require.ErrorIs(t, err, ErrShortRead)

	_, err = NewReader([]byte{5, 0, 'a'}).StringU8()
	require.ErrorIs(t, err, ErrShortRead)
}

func TestStringU8TooLong(t *testing.T) {
	t.Parallel()

	w := NewWriter(0)
	err := w.StringU8(string(make([]byte, 70000)))
	require.ErrorIs(t, err, ErrTooLong)
	assert.Zero(t, w.Len())

	require.ErrorIs(t, w.StringU8Padded("CA_TOOL_LONG", 8), ErrTooLong)
}
