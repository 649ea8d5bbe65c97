// Package array implements the top-level facade and orchestrator (§4.I):
// create, open, getitem/setitem, resize and update_attributes, wiring the
// store, metadata, chunk grid, indexer and codec pipeline layers together
// into a fully read/write random-access array.
package array

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zarrgo/zarr/buffer"
	"github.com/zarrgo/zarr/codec"
	"github.com/zarrgo/zarr/config"
	"github.com/zarrgo/zarr/grid"
	"github.com/zarrgo/zarr/index"
	"github.com/zarrgo/zarr/meta"
	"github.com/zarrgo/zarr/pipeline"
	"github.com/zarrgo/zarr/sharding"
	"github.com/zarrgo/zarr/store"
)

// ErrNotAnArray covers §7: the path's metadata document is missing or does
// not describe an array.
var ErrNotAnArray = errors.New("array: not an array")

const zarrJSON = "zarr.json"

// Array is an open, ready-to-use zarr array: a store path plus the
// resolved metadata, chunk grid and codec pipeline built from it.
type Array struct {
	store      store.Store
	path       string
	meta       *meta.V3Metadata
	dtype      buffer.DType
	fillValue  meta.FillValue
	keyEnc     grid.KeyEncoding
	chunkShape []int
	chunkSpec  codec.ArraySpec
	pipe       pipeline.CodecPipeline
	proto      buffer.Prototype
	v2meta     *meta.V2Metadata // non-nil when opened through the v2 path
}

// SetBufferPrototype swaps the allocator used for output and fill buffers,
// for callers preferring a different memory backend (§4.A).
func (a *Array) SetBufferPrototype(p buffer.Prototype) { a.proto = p }

// fillBuffer allocates a fill-valued buffer of the given shape through the
// array's buffer prototype.
func (a *Array) fillBuffer(shape []int) *buffer.NDBuffer {
	nd := a.proto.NewND(a.dtype, shape, buffer.OrderC)
	nd.FillComplex(a.fillValue.AsFloat(), a.fillValue.Imag)
	return nd
}

// Create writes a new zarr.json document at path and returns the opened
// array. codecs is the array's already-constructed §6 codecs list (e.g.
// codec.NewBytesCodec, codec.NewGzipCodec, ...); Create converts each back
// to its wire NamedConfig via NamedConfigOf.
func Create(ctx context.Context, s store.Store, path string, shape, chunkShape []int, dtype buffer.DType, fillValue any, codecs []codec.Codec) (*Array, error) {
	if s.Mode() == store.ReadOnly {
		return nil, store.ErrReadOnly
	}
	named := make([]meta.NamedConfig, len(codecs))
	for i, c := range codecs {
		named[i] = NamedConfigOf(c)
	}
	m := &meta.V3Metadata{
		ZarrFormat:       3,
		NodeType:         "array",
		Shape:            shape,
		DataType:         dtype.Name(),
		ChunkGrid:        meta.NewRegularChunkGrid(chunkShape),
		ChunkKeyEncoding: meta.NewDefaultChunkKeyEncoding("/"),
		FillValueRaw:     fillValue,
		Codecs:           named,
	}
	indent, _ := config.Default.GetInt("json_indent")
	encoded, err := m.Encode(indent)
	if err != nil {
		return nil, err
	}
	sctx, cancel := storeCtx(ctx)
	defer cancel()
	if err := s.Set(sctx, joinKey(path, zarrJSON), encoded); err != nil {
		return nil, fmt.Errorf("array: writing zarr.json: %w", err)
	}
	return Open(ctx, s, path)
}

// Open reads path's zarr.json and builds the array's codec pipeline.
func Open(ctx context.Context, s store.Store, path string) (*Array, error) {
	sctx, cancel := storeCtx(ctx)
	defer cancel()
	raw, err := s.Get(sctx, joinKey(path, zarrJSON), nil)
	if err != nil {
		return nil, fmt.Errorf("array: reading zarr.json: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s/zarr.json not found", ErrNotAnArray, path)
	}
	m, err := meta.LoadV3Metadata(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	dtype, err := m.ParsedDType()
	if err != nil {
		return nil, err
	}
	fillValue, err := m.ParsedFillValue()
	if err != nil {
		return nil, err
	}
	chunkShape, err := m.ChunkShape()
	if err != nil {
		return nil, err
	}
	sep, err := m.KeySeparator()
	if err != nil {
		return nil, err
	}
	keyEnc := grid.DefaultV3(sep)
	if m.ChunkKeyEncoding.Name == "v2" {
		keyEnc = grid.V2(sep)
	}

	spec := codec.ArraySpec{Shape: chunkShape, DType: dtype, Order: buffer.OrderC, FillValue: fillValue.AsFloat(), FillImag: fillValue.Imag}
	named := make([]pipeline.NamedCodecConfig, len(m.Codecs))
	for i, n := range m.Codecs {
		named[i] = pipeline.NamedCodecConfig{Name: n.Name, Configuration: n.Configuration}
	}
	pipe, err := pipeline.FromNamedConfigs(ctx, named, spec)
	if err != nil {
		return nil, err
	}

	return &Array{
		store:      s,
		path:       path,
		meta:       m,
		dtype:      dtype,
		fillValue:  fillValue,
		keyEnc:     keyEnc,
		chunkShape: chunkShape,
		chunkSpec:  spec,
		pipe:       pipe,
		proto:      buffer.Default,
	}, nil
}

// Shape returns the array's current logical shape.
func (a *Array) Shape() []int { return append([]int(nil), a.meta.Shape...) }

// DType returns the array's element type.
func (a *Array) DType() buffer.DType { return a.dtype }

// GetItem reads sel out of the array into a single output buffer, reading
// every touched chunk concurrently (bounded by async.concurrency) and
// scattering each chunk's contribution into the output (§4.F/§4.I).
func (a *Array) GetItem(ctx context.Context, sel []index.AxisSelector) (*buffer.NDBuffer, error) {
	ops, err := index.Decompose(a.meta.Shape, a.chunkShape, sel)
	if err != nil {
		return nil, err
	}
	out := a.fillBuffer(index.OutShape(sel))

	g, gctx := errgroup.WithContext(ctx)
	if n, err := config.Default.GetInt("async.concurrency"); err == nil && n > 0 {
		g.SetLimit(n)
	}
	for _, op := range ops {
		op := op
		g.Go(func() error {
			chunkND, err := a.readChunkForOp(gctx, op)
			if err != nil {
				return err
			}
			return scatterChunkToOut(out, chunkND, op, sel)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetItem writes value into sel, read-modify-writing every partially
// covered chunk and overwriting fully covered chunks outright (§4.F/§4.I,
// §5 "last writer wins" on overlapping concurrent writes — no locking is
// performed here).
func (a *Array) SetItem(ctx context.Context, sel []index.AxisSelector, value *buffer.NDBuffer) error {
	if a.store.Mode() == store.ReadOnly {
		return store.ErrReadOnly
	}
	ops, err := index.Decompose(a.meta.Shape, a.chunkShape, sel)
	if err != nil {
		return err
	}
	want := 1
	for _, d := range index.OutShape(sel) {
		want *= d
	}
	if value.NumElements() != want && value.NumElements() != 1 {
		return fmt.Errorf("%w: value has %d elements, selection needs %d", index.ErrSelection, value.NumElements(), want)
	}

	g, gctx := errgroup.WithContext(ctx)
	if n, err := config.Default.GetInt("async.concurrency"); err == nil && n > 0 {
		g.SetLimit(n)
	}
	for _, op := range ops {
		op := op
		g.Go(func() error {
			var chunkND *buffer.NDBuffer
			if op.IsComplete {
				// A complete op overwrites the chunk's whole logical extent;
				// only an edge chunk's masked tail keeps this fill.
				chunkND = a.fillBuffer(a.chunkShape)
			} else {
				existing, err := a.readChunk(gctx, op.ChunkCoords)
				if err != nil {
					return err
				}
				chunkND = existing
			}
			if err := gatherOutToChunk(chunkND, value, op, sel); err != nil {
				return err
			}
			return a.writeChunk(gctx, op.ChunkCoords, chunkND)
		})
	}
	return g.Wait()
}

// readChunkForOp reads the portion of one chunk that op needs. When the
// chunk's array->bytes codec decodes partially (sharding), the store
// serves byte ranges and op covers only part of the chunk, just the shard
// index and the touched sub-chunks are fetched instead of the whole chunk
// (§4.H partial-read path).
func (a *Array) readChunkForOp(ctx context.Context, op index.ChunkOp) (*buffer.NDBuffer, error) {
	if op.IsComplete || !a.store.SupportsPartialReads() || !a.pipe.SupportsPartialDecode() {
		return a.readChunk(ctx, op.ChunkCoords)
	}
	prov, ok := a.pipe.(interface{ ArrayBytesCodec() codec.ArrayBytesCodec })
	if !ok {
		return a.readChunk(ctx, op.ChunkCoords)
	}
	pd, ok := prov.ArrayBytesCodec().(codec.PartialDecoder)
	if !ok {
		return a.readChunk(ctx, op.ChunkCoords)
	}

	key := joinKey(a.path, a.keyEnc.EncodeChunkKey(op.ChunkCoords))
	src := func(ctx context.Context, offset, length int64) ([]byte, error) {
		sctx, cancel := storeCtx(ctx)
		defer cancel()
		return a.store.Get(sctx, key, &store.ByteRange{Offset: offset, Length: length})
	}
	var wanted func([]int) bool
	if sc, ok := prov.ArrayBytesCodec().(*sharding.Codec); ok {
		wanted = wantedSubChunks(op, sc.InnerChunkShape)
	}
	nd, err := pd.DecodePartialFrom(ctx, src, a.chunkSpec, wanted)
	if err != nil {
		return nil, fmt.Errorf("array: partial read of chunk %v: %w", op.ChunkCoords, err)
	}
	if nd == nil {
		nd = a.fillBuffer(a.chunkShape)
	}
	return nd, nil
}

// wantedSubChunks reports which inner-grid coordinates op touches: an
// orthogonal selection touches exactly the cartesian product of the inner
// chunk ids its per-axis offsets fall into.
func wantedSubChunks(op index.ChunkOp, innerShape []int) func([]int) bool {
	per := make([]map[int]bool, len(innerShape))
	for d := range innerShape {
		per[d] = make(map[int]bool, len(op.ChunkOffsets[d]))
		for _, off := range op.ChunkOffsets[d] {
			per[d][off/innerShape[d]] = true
		}
	}
	return func(subCoords []int) bool {
		for d, c := range subCoords {
			if !per[d][c] {
				return false
			}
		}
		return true
	}
}

// readChunk fetches and decodes one chunk, returning a fill-valued buffer
// if the chunk key is absent (§4.I "fill-value policy for absent chunks").
func (a *Array) readChunk(ctx context.Context, coords grid.ChunkCoords) (*buffer.NDBuffer, error) {
	key := joinKey(a.path, a.keyEnc.EncodeChunkKey(coords))
	sctx, cancel := storeCtx(ctx)
	defer cancel()
	raw, err := a.store.Get(sctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("array: reading chunk %v: %w", coords, err)
	}
	if raw == nil {
		return a.fillBuffer(a.chunkShape), nil
	}
	return a.pipe.Decode(ctx, buffer.FromBytes(raw))
}

// writeChunk encodes and stores one chunk as a single atomic Set (§4.I
// "single set per chunk/shard write"). A chunk that is entirely fill value
// is deleted instead of written: reading an absent key already produces
// fill (§4.I), so this is read-equivalent to storing the literal bytes,
// and for a sharding codec it is exactly §4.H's "a fully empty shard
// produces no stored object" (matching zarr-python's own all-fill
// sparse-write optimization).
func (a *Array) writeChunk(ctx context.Context, coords grid.ChunkCoords, nd *buffer.NDBuffer) error {
	key := joinKey(a.path, a.keyEnc.EncodeChunkKey(coords))
	if nd.IsFillValueComplex(a.fillValue.AsFloat(), a.fillValue.Imag) {
		sctx, cancel := storeCtx(ctx)
		defer cancel()
		if err := a.store.Delete(sctx, key); err != nil {
			return fmt.Errorf("array: deleting all-fill chunk %v: %w", coords, err)
		}
		return nil
	}
	encoded, err := a.pipe.Encode(ctx, nd)
	if err != nil {
		return fmt.Errorf("array: encoding chunk %v: %w", coords, err)
	}
	sctx, cancel := storeCtx(ctx)
	defer cancel()
	if err := a.store.Set(sctx, key, encoded.ToBytes()); err != nil {
		return fmt.Errorf("array: writing chunk %v: %w", coords, err)
	}
	return nil
}

// storeCtx derives the context for one store operation, applying the
// async.timeout config key (seconds; 0 disables). The timeout wraps each
// store call individually, not the aggregate getitem/setitem (§5).
func storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if n, err := config.Default.GetInt("async.timeout"); err == nil && n > 0 {
		return context.WithTimeout(ctx, time.Duration(n)*time.Second)
	}
	return ctx, func() {}
}

// Resize changes the array's logical shape and rewrites zarr.json. Chunks
// that fall fully outside the new shape are left in the store (§4.I "no
// auto-delete of out-of-range chunks"); call PruneChunksOutside to reclaim
// them explicitly.
func (a *Array) Resize(ctx context.Context, newShape []int) error {
	if a.store.Mode() == store.ReadOnly {
		return store.ErrReadOnly
	}
	if len(newShape) != len(a.meta.Shape) {
		return fmt.Errorf("array: resize must preserve the number of dimensions")
	}
	clone := *a.meta
	clone.Shape = newShape
	if err := a.rewriteMetadata(ctx, &clone); err != nil {
		return err
	}
	a.meta = &clone
	return nil
}

// PruneChunksOutside deletes every chunk key whose coordinates no longer
// intersect the array's current shape, an opt-in complement to Resize's
// no-auto-delete default.
func (a *Array) PruneChunksOutside(ctx context.Context) error {
	if a.store.Mode() == store.ReadOnly {
		return store.ErrReadOnly
	}
	prefix := a.path
	if prefix != "" {
		prefix += "/"
	}
	keys, err := a.store.List(ctx, prefix)
	if err != nil {
		return err
	}
	gridShape := grid.Shape(a.meta.Shape, a.chunkShape)
	for _, key := range keys {
		coords, ok := parseChunkCoords(strings.TrimPrefix(key, prefix), a.keyEnc, len(a.meta.Shape))
		if !ok {
			continue
		}
		outside := false
		for i, c := range coords {
			if i >= len(gridShape) || c >= gridShape[i] {
				outside = true
				break
			}
		}
		if outside {
			if err := a.store.Delete(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateAttributes merges attrs into the array's user attributes and
// rewrites zarr.json (§4.I).
func (a *Array) UpdateAttributes(ctx context.Context, attrs map[string]any) error {
	if a.store.Mode() == store.ReadOnly {
		return store.ErrReadOnly
	}
	clone := *a.meta
	merged := make(map[string]any, len(a.meta.Attributes)+len(attrs))
	for k, v := range a.meta.Attributes {
		merged[k] = v
	}
	for k, v := range attrs {
		merged[k] = v
	}
	clone.Attributes = merged
	if err := a.rewriteMetadata(ctx, &clone); err != nil {
		return err
	}
	a.meta = &clone
	return nil
}

// rewriteMetadata persists a metadata change (shape or attributes). For an
// array opened through the v2 path it rewrites .zarray and .zattrs; for v3
// the whole zarr.json document.
func (a *Array) rewriteMetadata(ctx context.Context, m *meta.V3Metadata) error {
	sctx, cancel := storeCtx(ctx)
	defer cancel()
	if a.v2meta != nil {
		clone := *a.v2meta
		clone.Shape = m.Shape
		clone.Attributes = m.Attributes
		encoded, err := clone.Encode()
		if err != nil {
			return err
		}
		if err := a.store.Set(sctx, joinKey(a.path, zarrayKey), encoded); err != nil {
			return fmt.Errorf("array: rewriting .zarray: %w", err)
		}
		if m.Attributes != nil {
			attrs, err := meta.EncodeZAttrs(m.Attributes)
			if err != nil {
				return err
			}
			if err := a.store.Set(sctx, joinKey(a.path, zattrsKey), attrs); err != nil {
				return fmt.Errorf("array: rewriting .zattrs: %w", err)
			}
		}
		a.v2meta = &clone
		return nil
	}
	indent, _ := config.Default.GetInt("json_indent")
	encoded, err := m.Encode(indent)
	if err != nil {
		return err
	}
	if err := a.store.Set(sctx, joinKey(a.path, zarrJSON), encoded); err != nil {
		return fmt.Errorf("array: rewriting zarr.json: %w", err)
	}
	return nil
}

func joinKey(path, suffix string) string {
	if path == "" {
		return suffix
	}
	return path + "/" + suffix
}

// NamedConfigOf converts a constructed codec back to its §6 wire form,
// used by Create to materialize zarr.json from already-built codecs.
func NamedConfigOf(c codec.Codec) meta.NamedConfig {
	switch v := c.(type) {
	case *codec.BytesCodec:
		endian := "little"
		if v.Endian != nil && v.Endian.String() == "BigEndian" {
			endian = "big"
		}
		return meta.NamedConfig{Name: "bytes", Configuration: map[string]any{"endian": endian}}
	case *codec.TransposeCodec:
		order := make([]any, len(v.Order))
		for i, o := range v.Order {
			order[i] = o
		}
		return meta.NamedConfig{Name: "transpose", Configuration: map[string]any{"order": order}}
	case *codec.GzipCodec:
		return meta.NamedConfig{Name: "gzip", Configuration: map[string]any{"level": v.Level}}
	case *codec.ZstdCodec:
		return meta.NamedConfig{Name: "zstd", Configuration: map[string]any{"level": int(v.Level)}}
	case *codec.ZlibCodec:
		return meta.NamedConfig{Name: "zlib", Configuration: map[string]any{"level": v.Level}}
	case *codec.BloscCodec:
		return meta.NamedConfig{Name: "blosc", Configuration: map[string]any{
			"cname": v.Cname, "clevel": v.Clevel, "shuffle": v.Shuffle, "typesize": v.TypeSize,
		}}
	case *codec.Crc32cCodec:
		return meta.NamedConfig{Name: "crc32c"}
	case *sharding.Codec:
		chunkShape := make([]any, len(v.InnerChunkShape))
		for i, d := range v.InnerChunkShape {
			chunkShape[i] = d
		}
		inner := make([]map[string]any, len(v.Codecs))
		for i, ic := range v.Codecs {
			nc := NamedConfigOf(ic)
			inner[i] = map[string]any{"name": nc.Name}
			if nc.Configuration != nil {
				inner[i]["configuration"] = nc.Configuration
			}
		}
		indexCodecs := make([]map[string]any, len(v.IndexCodecs))
		for i, ic := range v.IndexCodecs {
			nc := NamedConfigOf(ic)
			indexCodecs[i] = map[string]any{"name": nc.Name}
			if nc.Configuration != nil {
				indexCodecs[i]["configuration"] = nc.Configuration
			}
		}
		location := "end"
		if v.Location == sharding.IndexStart {
			location = "start"
		}
		return meta.NamedConfig{Name: "sharding_indexed", Configuration: map[string]any{
			"chunk_shape":    chunkShape,
			"codecs":         inner,
			"index_codecs":   indexCodecs,
			"index_location": location,
		}}
	default:
		return meta.NamedConfig{Name: c.Name()}
	}
}

// scatterChunkToOut copies op's selected elements out of a decoded chunk
// into their positions in the output buffer, walking the cartesian
// product of op.ChunkOffsets/op.OutPositions across every axis.
func scatterChunkToOut(out, chunkND *buffer.NDBuffer, op index.ChunkOp, sel []index.AxisSelector) error {
	outImag, chunkImag := out.FlatImag(), chunkND.FlatImag()
	return walkChunkOp(op, chunkND.Shape(), out.Shape(), sel, func(chunkFlat, outFlat int) {
		out.Flat()[outFlat] = chunkND.Flat()[chunkFlat]
		if outImag != nil {
			outImag[outFlat] = chunkImag[chunkFlat]
		}
	})
}

// gatherOutToChunk is scatterChunkToOut's mirror for writes: it copies
// value's elements at op's output positions into chunkND at the matching
// chunk-local offsets. A single-element value broadcasts across every
// selected position (§4.F "broadcast semantics for scalar writes").
func gatherOutToChunk(chunkND, value *buffer.NDBuffer, op index.ChunkOp, sel []index.AxisSelector) error {
	chunkImag, valueImag := chunkND.FlatImag(), value.FlatImag()
	if value.NumElements() == 1 {
		re := value.Flat()[0]
		im := 0.0
		if valueImag != nil {
			im = valueImag[0]
		}
		return walkChunkOp(op, chunkND.Shape(), nil, sel, func(chunkFlat, _ int) {
			chunkND.Flat()[chunkFlat] = re
			if chunkImag != nil {
				chunkImag[chunkFlat] = im
			}
		})
	}
	return walkChunkOp(op, chunkND.Shape(), value.Shape(), sel, func(chunkFlat, outFlat int) {
		chunkND.Flat()[chunkFlat] = value.Flat()[outFlat]
		if chunkImag != nil {
			chunkImag[chunkFlat] = valueImag[outFlat]
		}
	})
}

// walkChunkOp enumerates every combination of (chunk-local offset,
// output-local position) named by op across all axes and invokes fn with
// the corresponding flat indices into a chunk-shaped and an out-shaped
// buffer. Axes squeezed by a scalar selector contribute to chunkFlat but
// are skipped when accumulating outFlat, since index.OutShape drops them
// from the output buffer's shape entirely. A nil outShape means the
// out-side buffer is a broadcast scalar; outFlat is always 0 then.
func walkChunkOp(op index.ChunkOp, chunkShape, outShape []int, sel []index.AxisSelector, fn func(chunkFlat, outFlat int)) error {
	ndim := len(op.ChunkOffsets)
	if ndim == 0 {
		fn(0, 0)
		return nil
	}
	chunkStrides := grid.Strides(chunkShape)
	outStrides := grid.Strides(outShape)

	// outStrideForAxis[a] is the out-buffer stride axis a contributes, or -1
	// if axis a was squeezed out of the output entirely.
	outStrideForAxis := make([]int, ndim)
	cursor := 0
	for a := 0; a < ndim; a++ {
		if outShape == nil || (a < len(sel) && sel[a].Squeeze) {
			outStrideForAxis[a] = -1
			continue
		}
		outStrideForAxis[a] = outStrides[cursor]
		cursor++
	}

	idx := make([]int, ndim)
	var rec func(a int) error
	rec = func(a int) error {
		if a == ndim {
			chunkFlat, outFlat := 0, 0
			for i := 0; i < ndim; i++ {
				chunkFlat += op.ChunkOffsets[i][idx[i]] * chunkStrides[i]
				if outStrideForAxis[i] >= 0 {
					outFlat += op.OutPositions[i][idx[i]] * outStrideForAxis[i]
				}
			}
			fn(chunkFlat, outFlat)
			return nil
		}
		for i := range op.ChunkOffsets[a] {
			idx[a] = i
			if err := rec(a + 1); err != nil {
				return err
			}
		}
		return nil
	}
	return rec(0)
}

// parseChunkCoords best-effort parses a chunk key back into coordinates,
// used only by PruneChunksOutside's key scan; keys that don't match the
// array's own key encoding (e.g. zarr.json, .zattrs) are skipped.
func parseChunkCoords(key string, enc grid.KeyEncoding, ndim int) ([]int, bool) {
	if key == zarrJSON || key == ".zarray" || key == ".zattrs" || key == "" {
		return nil, false
	}
	body := key
	if enc.Default {
		prefix := "c" + enc.Separator
		if !strings.HasPrefix(body, prefix) {
			return nil, false
		}
		body = strings.TrimPrefix(body, prefix)
	}
	if ndim == 0 {
		return []int{}, true
	}
	parts := strings.Split(body, enc.Separator)
	if len(parts) != ndim {
		return nil, false
	}
	coords := make([]int, ndim)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		coords[i] = n
	}
	return coords, true
}
