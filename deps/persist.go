package deps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/pack/deps/internal/fb"
	"github.com/meigma/pack/internal/sizing"
	"github.com/meigma/pack/internal/workpool"
	"github.com/meigma/pack/schema"
	"github.com/meigma/pack/table"
)

const (
	persistIdentifier = "PKDC"
	persistVersion    = 1

	// MaxPersistedSize bounds the size of a persisted cache that Load reads.
	MaxPersistedSize = 4 << 30

	maxRecordSize = 1 << 30
)

var (
	// ErrInvalidCache is returned when persisted cache data has the wrong
	// identifier or format version, or does not decode.
	ErrInvalidCache = errors.New("deps: invalid persisted cache")

	errCacheTooLarge = fmt.Errorf("%w: too large", ErrInvalidCache)
)

// tableRecord is the CBOR payload of one persisted table file. Data is the
// table's own binary encoding.
type tableRecord struct {
	Definition  *schema.Definition `json:"definition,omitempty"`
	Approximate bool               `json:"approximate,omitempty"`
	Data        []byte             `json:"data"`
}

var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(maxRecordSize))
	})
)

// Save writes the vanilla and bulk tiers of c to w. The current and parent
// tiers change with every edit and are never persisted.
func Save(ctx context.Context, w io.Writer, c *Cache) error {
	var files []*TableFile
	for _, s := range c.tiers {
		if !s.tier.persisted() {
			continue
		}
		for _, name := range s.order {
			files = append(files, s.tables[name]...)
		}
	}

	enc, err := zstdEncoder()
	if err != nil {
		return err
	}
	payloads, err := workpool.Map(ctx, workpool.New(), files, func(_ context.Context, _ int, f *TableFile) ([]byte, error) {
		data, err := table.Encode(f.Table)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
		rec := tableRecord{Approximate: f.Table.Approximate, Data: data}
		if f.Table.Kind == table.KindDB {
			rec.Definition = f.Table.Definition
		}
		raw, err := cborEncMode.Marshal(&rec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
		return enc.EncodeAll(raw, nil), nil
	})
	if err != nil {
		return err
	}

	b := flatbuffers.NewBuilder(1 << 16)
	offsets := make([]flatbuffers.UOffsetT, len(files))
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		name := b.CreateString(f.Table.Name)
		path := b.CreateString(f.Path)
		source := b.CreateString(f.Source)
		payload := b.CreateByteVector(payloads[i])

		fb.RecordStart(b)
		fb.RecordAddTier(b, byte(f.Tier))
		fb.RecordAddKind(b, byte(f.Table.Kind))
		fb.RecordAddName(b, name)
		fb.RecordAddPath(b, path)
		fb.RecordAddSource(b, source)
		fb.RecordAddPayload(b, payload)
		offsets[i] = fb.RecordEnd(b)
	}

	fb.EnvelopeStartRecordsVector(b, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offsets[i])
	}
	records := b.EndVector(len(offsets))
	game := b.CreateString(c.game)
	fingerprint := b.CreateString(c.generation.Fingerprint.String())

	fb.EnvelopeStart(b)
	fb.EnvelopeAddVersion(b, persistVersion)
	fb.EnvelopeAddGame(b, game)
	fb.EnvelopeAddFingerprint(b, fingerprint)
	fb.EnvelopeAddCounter(b, c.generation.Counter)
	fb.EnvelopeAddCreatedNs(b, c.built.UnixNano())
	fb.EnvelopeAddRecords(b, records)
	b.FinishWithFileIdentifier(fb.EnvelopeEnd(b), []byte(persistIdentifier))

	_, err = w.Write(b.FinishedBytes())
	return err
}

type persistedFile struct {
	tier    Tier
	name    string
	path    string
	source  string
	payload []byte
}

// Load reads a cache written by Save. The result holds only the persisted
// tiers.
func Load(ctx context.Context, r io.Reader) (*Cache, error) {
	data, err := sizing.ReadAllWithLimit(r, MaxPersistedSize, errCacheTooLarge)
	if err != nil {
		return nil, err
	}
	c, files, err := readEnvelope(data)
	if err != nil {
		return nil, err
	}

	dec, err := zstdDecoder()
	if err != nil {
		return nil, err
	}
	tables, err := workpool.Map(ctx, workpool.New(), files, func(_ context.Context, _ int, f persistedFile) (*table.Table, error) {
		raw, err := dec.DecodeAll(f.payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCache, f.path, err)
		}
		var rec tableRecord
		if err := cborDecMode.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCache, f.path, err)
		}
		t, err := table.DecodeWithDefinition(f.path, rec.Data, rec.Definition)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCache, err)
		}
		t.Name = f.name
		t.Approximate = rec.Approximate
		return t, nil
	})
	if err != nil {
		return nil, err
	}

	snapshots := make([]*Snapshot, tierCount)
	for i, f := range files {
		s := snapshots[f.tier]
		if s == nil {
			s = newSnapshot(f.tier)
			snapshots[f.tier] = s
		}
		s.claim(f.path)
		s.add(&TableFile{Tier: f.tier, Source: f.source, Path: f.path, Table: tables[i]})
	}
	for _, s := range snapshots {
		if s != nil {
			c.tiers = append(c.tiers, s)
		}
	}
	return c, nil
}

// readEnvelope validates the envelope and copies out its records. Offsets
// in a damaged buffer make the generated accessors panic, which is reported
// as ErrInvalidCache.
func readEnvelope(data []byte) (c *Cache, files []persistedFile, err error) {
	if len(data) < 8 || !bytes.Equal(data[4:8], []byte(persistIdentifier)) {
		return nil, nil, fmt.Errorf("%w: missing %s identifier", ErrInvalidCache, persistIdentifier)
	}
	defer func() {
		if r := recover(); r != nil {
			c, files, err = nil, nil, fmt.Errorf("%w: damaged envelope: %v", ErrInvalidCache, r)
		}
	}()

	env := fb.GetRootAsEnvelope(data, 0)
	if v := env.Version(); v != persistVersion {
		return nil, nil, fmt.Errorf("%w: format version %d, want %d", ErrInvalidCache, v, persistVersion)
	}
	c = &Cache{
		game:       string(env.Game()),
		generation: Generation{Counter: env.Counter(), Fingerprint: digest.Digest(env.Fingerprint())},
		built:      time.Unix(0, env.CreatedNs()),
	}

	n := env.RecordsLength()
	files = make([]persistedFile, 0, n)
	var rec fb.Record
	for i := range n {
		if !env.Records(&rec, i) {
			return nil, nil, fmt.Errorf("%w: record %d missing", ErrInvalidCache, i)
		}
		tier := Tier(rec.Tier())
		if !tier.persisted() {
			return nil, nil, fmt.Errorf("%w: record %d has tier %s", ErrInvalidCache, i, tier)
		}
		files = append(files, persistedFile{
			tier:    tier,
			name:    string(rec.Name()),
			path:    string(rec.Path()),
			source:  string(rec.Source()),
			payload: rec.PayloadBytes(),
		})
	}
	return c, files, nil
}
