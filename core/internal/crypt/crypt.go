// Package crypt implements the reversible XOR keystreams used by encrypted
// Pack indexes and payloads. Every transform here is its own inverse.
package crypt

import "encoding/binary"

var indexStringKey = [64]byte([]byte("#:AhppdV-!PEfz&}[]Nv?6w4guU%dF5.fq:n*-qGuhBJJBm&?2tPy!geW/+k#pG?"))

const (
	indexU32Key uint32 = 0xE10B73F4
	dataKey     uint64 = 0x8FEB2A6740A6920E
)

// IndexU32 transforms an index length or timestamp field.
// remaining is the number of index entries that follow the current one.
func IndexU32(v, remaining uint32) uint32 {
	return v ^ indexU32Key ^ ^remaining
}

// IndexPathByte transforms the i-th byte of an index path, NUL terminator
// included. size is the plaintext payload length of the entry.
func IndexPathByte(b byte, i int, size uint32) byte {
	return b ^ indexStringKey[i%len(indexStringKey)] ^ ^uint8(size) //nolint:gosec // low byte is the key
}

// IndexPath transforms a whole index path including its terminator.
// The result aliases nothing; p is left untouched.
func IndexPath(p []byte, size uint32) []byte {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = IndexPathByte(b, i, size)
	}
	return out
}

// Data transforms an entry payload. The payload is processed in 8-byte
// chunks keyed by their offset; the final chunk, padded or not, is left as is.
func Data(src []byte) []byte {
	return Prefix(src, len(src))
}

// Prefix transforms the leading bytes of a payload whose full length is
// total. It lets callers inspect a stored payload without reading all of it.
func Prefix(src []byte, total int) []byte {
	size := len(src)
	buf := make([]byte, (size+7)&^7)
	copy(buf, src)

	lastChunk := (total+7)/8 - 1
	for i := 0; i*8 < size && i < lastChunk; i++ {
		off := i * 8
		key := dataKey * ^uint64(off) //nolint:gosec // offset is non-negative
		v := binary.LittleEndian.Uint64(buf[off:])
		binary.LittleEndian.PutUint64(buf[off:], v^key)
	}
	return buf[:size]
}
