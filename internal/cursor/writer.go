package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf16"
)

// ErrTooLong is returned when a length-prefixed value does not fit its prefix.
var ErrTooLong = errors.New("cursor: value too long for length prefix")

// Writer appends little-endian values to a growing buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with capacity for at least n bytes.
func NewWriter(n int) *Writer {
	return &Writer{buf: make([]byte, 0, n)}
}

// Bytes returns the written bytes. The slice aliases the Writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Write appends p. It never fails.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Raw appends p.
func (w *Writer) Raw(p []byte) { w.buf = append(w.buf, p...) }

// U8 appends one byte.
func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

// Bool appends 1 for true and 0 for false.
func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

// U16 appends a little-endian uint16.
func (w *Writer) U16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

// U32 appends a little-endian uint32.
func (w *Writer) U32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

// U64 appends a little-endian uint64.
func (w *Writer) U64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// I16 appends a little-endian int16.
func (w *Writer) I16(v int16) { w.U16(uint16(v)) } //nolint:gosec // two's complement reinterpretation

// I32 appends a little-endian int32.
func (w *Writer) I32(v int32) { w.U32(uint32(v)) } //nolint:gosec // two's complement reinterpretation

// I64 appends a little-endian int64.
func (w *Writer) I64(v int64) { w.U64(uint64(v)) } //nolint:gosec // two's complement reinterpretation

// F32 appends an IEEE-754 single precision float.
func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

// F64 appends an IEEE-754 double precision float.
func (w *Writer) F64(v float64) { w.U64(math.Float64bits(v)) }

// StringU8 appends s prefixed by its uint16 byte length.
func (w *Writer) StringU8(s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("%w: %d bytes", ErrTooLong, len(s))
	}
	w.U16(uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// StringU16 appends s as UTF-16LE prefixed by its uint16 code unit count.
func (w *Writer) StringU16(s string) error {
	units := utf16.Encode([]rune(s))
	if len(units) > math.MaxUint16 {
		return fmt.Errorf("%w: %d code units", ErrTooLong, len(units))
	}
	w.U16(uint16(len(units)))
	for _, u := range units {
		w.U16(u)
	}
	return nil
}

// StringU8Zero appends s followed by a NUL terminator.
func (w *Writer) StringU8Zero(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// StringU8Padded appends s into a fixed-width field of n bytes, NUL padded.
func (w *Writer) StringU8Padded(s string, n int) error {
	if len(s) > n {
		return fmt.Errorf("%w: %d bytes into %d", ErrTooLong, len(s), n)
	}
	w.buf = append(w.buf, s...)
	for range n - len(s) {
		w.buf = append(w.buf, 0)
	}
	return nil
}
