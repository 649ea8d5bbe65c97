package array

import (
	"bytes"
	"context"
	"fmt"

	"github.com/zarrgo/zarr/buffer"
	"github.com/zarrgo/zarr/codec"
	"github.com/zarrgo/zarr/grid"
	"github.com/zarrgo/zarr/meta"
	"github.com/zarrgo/zarr/pipeline"
	"github.com/zarrgo/zarr/sharding"
	"github.com/zarrgo/zarr/store"
)

const (
	zarrayKey = ".zarray"
	zattrsKey = ".zattrs"
)

// CreateV2 writes a new .zarray document (and .zattrs, when attributes are
// present) at path and returns the opened array.
func CreateV2(ctx context.Context, s store.Store, path string, m *meta.V2Metadata) (*Array, error) {
	if s.Mode() == store.ReadOnly {
		return nil, store.ErrReadOnly
	}
	if m.ZarrFormat == 0 {
		m.ZarrFormat = 2
	}
	if m.Order == "" {
		m.Order = "C"
	}
	encoded, err := m.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := meta.LoadV2Metadata(bytes.NewReader(encoded)); err != nil {
		return nil, err
	}
	sctx, cancel := storeCtx(ctx)
	defer cancel()
	if err := s.Set(sctx, joinKey(path, zarrayKey), encoded); err != nil {
		return nil, fmt.Errorf("array: writing .zarray: %w", err)
	}
	if len(m.Attributes) > 0 {
		attrs, err := meta.EncodeZAttrs(m.Attributes)
		if err != nil {
			return nil, err
		}
		if err := s.Set(sctx, joinKey(path, zattrsKey), attrs); err != nil {
			return nil, fmt.Errorf("array: writing .zattrs: %w", err)
		}
	}
	return OpenV2(ctx, s, path)
}

// OpenV2 reads path's .zarray and optional .zattrs and assembles the codec
// chain the document implies: a transpose for F-order data, the bytes
// codec, then the numcodecs compressor. When the sharding extension
// (shards + shard_format "indexed") is present, those codecs become the
// inner pipeline of a sharding codec and the storage chunk grows to
// chunks*shards, so each stored object packs a whole shard of chunks
// behind an offset/length index.
func OpenV2(ctx context.Context, s store.Store, path string) (*Array, error) {
	sctx, cancel := storeCtx(ctx)
	defer cancel()
	raw, err := s.Get(sctx, joinKey(path, zarrayKey), nil)
	if err != nil {
		return nil, fmt.Errorf("array: reading .zarray: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s/.zarray not found", ErrNotAnArray, path)
	}
	m, err := meta.LoadV2Metadata(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	araw, err := s.Get(sctx, joinKey(path, zattrsKey), nil)
	if err != nil {
		return nil, fmt.Errorf("array: reading .zattrs: %w", err)
	}
	if araw != nil {
		attrs, err := meta.LoadZAttrs(bytes.NewReader(araw))
		if err != nil {
			return nil, err
		}
		m.Attributes = attrs
	}

	dtype, err := m.ParsedDType()
	if err != nil {
		return nil, err
	}
	fv, err := m.ParsedFillValue()
	if err != nil {
		return nil, err
	}

	codecs, err := v2CodecChain(m)
	if err != nil {
		return nil, err
	}
	chunkShape := append([]int(nil), m.Chunks...)
	if len(m.Shards) > 0 {
		if m.ShardFormat != "" && m.ShardFormat != "indexed" {
			return nil, fmt.Errorf("%w: unsupported shard_format %q", meta.ErrBadMetadata, m.ShardFormat)
		}
		if len(m.Shards) != len(m.Chunks) {
			return nil, fmt.Errorf("%w: shards/chunks dimension mismatch", meta.ErrBadMetadata)
		}
		outer := make([]int, len(chunkShape))
		for i := range outer {
			outer[i] = chunkShape[i] * m.Shards[i]
		}
		codecs = []codec.Codec{sharding.New(chunkShape, codecs, nil, sharding.IndexEnd)}
		chunkShape = outer
	}

	order := buffer.OrderC
	if m.Order == "F" {
		order = buffer.OrderF
	}
	spec := codec.ArraySpec{Shape: chunkShape, DType: dtype, Order: order, FillValue: fv.AsFloat(), FillImag: fv.Imag}
	pipe, err := pipeline.New(ctx, codecs, spec)
	if err != nil {
		return nil, err
	}

	return &Array{
		store:      s,
		path:       path,
		meta:       &meta.V3Metadata{Shape: append([]int(nil), m.Shape...), Attributes: m.Attributes},
		v2meta:     m,
		dtype:      dtype,
		fillValue:  fv,
		keyEnc:     grid.V2(m.Separator()),
		chunkShape: chunkShape,
		chunkSpec:  spec,
		pipe:       pipe,
		proto:      buffer.Default,
	}, nil
}

// v2CodecChain maps a .zarray document's implicit codec chain. F-order
// data serializes axis-reversed, which is a transpose in front of the
// bytes codec; the compressor and filters map onto the matching
// bytes->bytes codecs by their numcodecs ids.
func v2CodecChain(m *meta.V2Metadata) ([]codec.Codec, error) {
	var out []codec.Codec
	if m.Order == "F" {
		perm := make([]int, len(m.Chunks))
		for i := range perm {
			perm[i] = len(perm) - 1 - i
		}
		out = append(out, codec.NewTransposeCodec(perm))
	}
	out = append(out, codec.NewBytesCodec("little"))
	for _, f := range m.Filters {
		c, err := v2CompressorCodec(f)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if m.Compressor != nil {
		c, err := v2CompressorCodec(*m.Compressor)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func v2CompressorCodec(cfg meta.CompressorConfigV2) (codec.Codec, error) {
	switch cfg.ID {
	case "gzip":
		return codec.NewGzipCodec(cfg.Clevel), nil
	case "zlib":
		return codec.NewZlibCodec(cfg.Clevel), nil
	case "zstd":
		return codec.NewZstdCodec(cfg.Clevel), nil
	case "blosc":
		return codec.NewBloscCodec(cfg.Cname, cfg.Clevel, cfg.Shuffle, 0), nil
	default:
		return nil, fmt.Errorf("%w: unsupported v2 compressor %q", codec.ErrBadCodec, cfg.ID)
	}
}
