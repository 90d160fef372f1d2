package compress

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// DecoderPool recycles zstd decoders across payloads. A Pack archive holds
// thousands of small compressed entries, and a decoder is costly to build.
// The zero value and a nil pool are usable and build a decoder per call.
type DecoderPool struct {
	opts []zstd.DOption
	free sync.Pool
}

// NewDecoderPool creates a pool whose decoders use at most maxMemory bytes
// (0 for no limit) and concurrency goroutines each.
func NewDecoderPool(maxMemory uint64, concurrency int, lowmem bool) *DecoderPool {
	opts := []zstd.DOption{
		zstd.WithDecoderConcurrency(max(concurrency, 0)),
		zstd.WithDecoderLowmem(lowmem),
	}
	if maxMemory != 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(maxMemory))
	}
	return &DecoderPool{opts: opts}
}

// decode inflates stream, which must decode to exactly size bytes.
func (p *DecoderPool) decode(stream []byte, size uint64) ([]byte, error) {
	dec, err := p.acquire(stream)
	if err != nil {
		return nil, err
	}
	out, err := readExact(dec, size)
	p.release(dec)
	return out, err
}

func (p *DecoderPool) acquire(stream []byte) (*zstd.Decoder, error) {
	r := bytes.NewReader(stream)
	if p != nil {
		if dec, ok := p.free.Get().(*zstd.Decoder); ok {
			if err := dec.Reset(r); err == nil {
				return dec, nil
			}
			dec.Close()
		}
	}
	var opts []zstd.DOption
	if p != nil {
		opts = p.opts
	}
	return zstd.NewReader(r, opts...)
}

func (p *DecoderPool) release(dec *zstd.Decoder) {
	if p == nil {
		dec.Close()
		return
	}
	_ = dec.Reset(nil) //nolint:errcheck // drops the reference to the payload
	p.free.Put(dec)
}
