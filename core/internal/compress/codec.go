// Package compress implements the compressed entry payload framing: a
// little-endian uint32 uncompressed size followed by an Lzma1, Lz4 or Zstd
// stream.
package compress

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"

	"github.com/meigma/pack/core/internal/packtype"
	"github.com/meigma/pack/internal/sizing"
)

var (
	// ErrCorrupt is returned when a compressed payload cannot be decoded.
	ErrCorrupt = errors.New("compress: corrupt payload")

	// ErrTooLarge is returned when a payload declares more bytes than allowed.
	ErrTooLarge = errors.New("compress: payload too large")

	// ErrUnsupported is returned for a target format that cannot be encoded.
	ErrUnsupported = errors.New("compress: unsupported format")
)

const (
	sizePrefixLen = 4

	// lzmaPropsLen is the props byte plus the uint32 dictionary size.
	lzmaPropsLen = 5

	// lzmaHeaderLen is the classic .lzma header: props, dictionary, uint64 size.
	lzmaHeaderLen = 13

	lzmaDictCap = 1 << 22

	// DefaultMaxSize bounds the declared uncompressed size (1GB).
	DefaultMaxSize = 1 << 30
)

var (
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	lz4Magic  = []byte{0x04, 0x22, 0x4D, 0x18}
)

// Codec compresses and decompresses entry payloads.
// It is safe for concurrent use.
type Codec struct {
	decoders *DecoderPool
	maxSize  uint64

	encOnce sync.Once
	enc     *zstd.Encoder
	encErr  error
	level   zstd.EncoderLevel
}

// Option configures a Codec.
type Option func(*Codec)

// WithMaxSize limits the declared uncompressed size of a payload.
// Set to 0 to disable the limit.
func WithMaxSize(limit uint64) Option {
	return func(c *Codec) {
		c.maxSize = limit
	}
}

// WithDecoderPool sets the zstd decoder pool.
func WithDecoderPool(p *DecoderPool) Option {
	return func(c *Codec) {
		c.decoders = p
	}
}

// WithZstdLevel sets the zstd encoder level (default: zstd.SpeedDefault).
func WithZstdLevel(level zstd.EncoderLevel) Option {
	return func(c *Codec) {
		c.level = level
	}
}

// New creates a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{
		maxSize: DefaultMaxSize,
		level:   zstd.SpeedDefault,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.decoders == nil {
		c.decoders = NewDecoderPool(0, 1, false)
	}
	return c
}

// Detect reports the codec of a stored compressed payload.
func Detect(stored []byte) (packtype.Compression, bool) {
	if len(stored) < sizePrefixLen+4 {
		return packtype.CompressionNone, false
	}
	magic := stored[sizePrefixLen : sizePrefixLen+4]
	switch {
	case bytes.Equal(magic, zstdMagic):
		return packtype.CompressionZstd, true
	case bytes.Equal(magic, lz4Magic):
		return packtype.CompressionLz4, true
	case len(stored) >= sizePrefixLen+lzmaPropsLen && magic[0] < 9*5*5:
		return packtype.CompressionLzma1, true
	default:
		return packtype.CompressionNone, false
	}
}

// Decompress decodes a stored payload and reports which codec it used.
// Every failure wraps ErrCorrupt or ErrTooLarge.
func (c *Codec) Decompress(stored []byte) ([]byte, packtype.Compression, error) {
	if len(stored) == 0 {
		return nil, packtype.CompressionNone, nil
	}
	format, ok := Detect(stored)
	if !ok {
		return nil, packtype.CompressionNone, fmt.Errorf("%w: unrecognized stream", ErrCorrupt)
	}
	size := uint64(binary.LittleEndian.Uint32(stored))
	if c.maxSize != 0 && size > c.maxSize {
		return nil, format, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	var (
		out []byte
		err error
	)
	switch format {
	case packtype.CompressionLzma1:
		out, err = c.decodeLzma(stored, size)
	case packtype.CompressionLz4:
		out, err = readExact(lz4.NewReader(bytes.NewReader(stored[sizePrefixLen:])), size)
	case packtype.CompressionZstd:
		out, err = c.decodeZstd(stored[sizePrefixLen:], size)
	}
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			return nil, format, err
		}
		return nil, format, fmt.Errorf("%w: %s: %w", ErrCorrupt, format, err)
	}
	return out, format, nil
}

func (c *Codec) decodeLzma(stored []byte, size uint64) ([]byte, error) {
	props := stored[sizePrefixLen : sizePrefixLen+lzmaPropsLen]
	header := make([]byte, 0, lzmaHeaderLen)
	header = append(header, props...)
	header = binary.LittleEndian.AppendUint64(header, size)

	stream := io.MultiReader(bytes.NewReader(header), bytes.NewReader(stored[sizePrefixLen+lzmaPropsLen:]))
	r, err := lzma.NewReader(stream)
	if err != nil {
		return nil, err
	}
	return readExact(r, size)
}

func (c *Codec) decodeZstd(stream []byte, size uint64) ([]byte, error) {
	return c.decoders.decode(stream, size)
}

func readExact(r io.Reader, size uint64) ([]byte, error) {
	out, err := sizing.ReadAllWithLimit(r, size, ErrCorrupt)
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) != size {
		return nil, fmt.Errorf("%w: decoded %d bytes, declared %d", ErrCorrupt, len(out), size)
	}
	return out, nil
}

// Compress encodes plain with the target format and prepends the size prefix.
func (c *Codec) Compress(plain []byte, format packtype.Compression) ([]byte, error) {
	size, err := sizing.ToUint32(len(plain), ErrTooLarge)
	if err != nil {
		return nil, err
	}
	out := binary.LittleEndian.AppendUint32(make([]byte, 0, len(plain)/2+16), size)

	switch format {
	case packtype.CompressionLzma1:
		return c.encodeLzma(out, plain)
	case packtype.CompressionLz4:
		return encodeLz4(out, plain)
	case packtype.CompressionZstd:
		enc, err := c.encoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(plain, out), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, format)
	}
}

func (c *Codec) encodeLzma(out, plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{
		DictCap:      lzmaDictCap,
		SizeInHeader: true,
		Size:         int64(len(plain)),
	}
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	encoded := buf.Bytes()
	if len(encoded) < lzmaHeaderLen {
		return nil, fmt.Errorf("%w: short lzma header", ErrCorrupt)
	}
	out = append(out, encoded[:lzmaPropsLen]...)
	return append(out, encoded[lzmaHeaderLen:]...), nil
}

func encodeLz4(out, plain []byte) ([]byte, error) {
	buf := bytes.NewBuffer(out)
	w := lz4.NewWriter(buf)
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Codec) encoder() (*zstd.Encoder, error) {
	c.encOnce.Do(func() {
		c.enc, c.encErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
	})
	return c.enc, c.encErr
}
