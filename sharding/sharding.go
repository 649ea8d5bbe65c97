// Package sharding implements the sharding codec (§4.H): a recursive
// array->bytes codec that packs an outer chunk's inner sub-chunks, each
// run through its own codec pipeline, into one shard object with an
// embedded offset/length index.
package sharding

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zarrgo/zarr/buffer"
	"github.com/zarrgo/zarr/codec"
	"github.com/zarrgo/zarr/grid"
	"github.com/zarrgo/zarr/pipeline"
)

// emptyMarker is the §4.H sentinel: both offset and length fields set to
// 2^64-1 mean "this sub-chunk is absent; produce fill on read".
const emptyMarker = ^uint64(0)

// IndexLocation selects whether the index table trails or leads the
// concatenated sub-chunk payloads.
type IndexLocation int

const (
	IndexEnd IndexLocation = iota
	IndexStart
)

// ErrCorruptShard covers a shard whose index fails to decode or whose
// sub-chunk lengths overflow the object. It wraps codec.ErrCorruptData so
// callers can match either error.
var ErrCorruptShard = fmt.Errorf("sharding: corrupt shard: %w", codec.ErrCorruptData)

// IndexEntry is one (offset, length) pair in the decoded index table.
type IndexEntry struct {
	Offset uint64
	Length uint64
}

func (e IndexEntry) Empty() bool { return e.Offset == emptyMarker && e.Length == emptyMarker }

// Codec is the sharding array->bytes codec. InnerChunkShape must evenly
// divide the outer chunk shape the codec is evolved against; Codecs are
// the inner pipeline's codec list (constructed, not yet evolved against
// the inner spec — EvolveFromArraySpec does that per outer chunk).
type Codec struct {
	InnerChunkShape []int
	Codecs          []codec.Codec
	IndexCodecs     []codec.Codec
	Location        IndexLocation

	inner     *pipeline.Pipeline
	nSub      int
	subDim    []int
	fillValue float64
	fillImag  float64
}

// New constructs a sharding codec. The inner pipeline is built lazily by
// EvolveFromArraySpec, since it depends on the outer chunk's dtype/shape.
func New(innerChunkShape []int, codecs, indexCodecs []codec.Codec, location IndexLocation) *Codec {
	return &Codec{InnerChunkShape: innerChunkShape, Codecs: codecs, IndexCodecs: indexCodecs, Location: location}
}

func (c *Codec) Name() string { return "sharding_indexed" }
func (c *Codec) Kind() codec.Kind { return codec.KindArrayBytes }

func (c *Codec) Validate(spec codec.ArraySpec) error {
	if len(c.InnerChunkShape) != len(spec.Shape) {
		return fmt.Errorf("%w: inner chunk_shape ndim mismatch", codec.ErrBadCodec)
	}
	for i, d := range c.InnerChunkShape {
		if d <= 0 || spec.Shape[i]%d != 0 {
			return fmt.Errorf("%w: inner chunk_shape %v does not evenly divide outer chunk_shape %v", codec.ErrBadCodec, c.InnerChunkShape, spec.Shape)
		}
	}
	return nil
}

// EvolveFromArraySpec builds the inner pipeline (outer dtype, inner shape)
// and the inner grid shape, once per outer chunk spec.
func (c *Codec) EvolveFromArraySpec(spec codec.ArraySpec) (codec.Codec, error) {
	if err := c.Validate(spec); err != nil {
		return nil, err
	}
	innerSpec := codec.ArraySpec{Shape: c.InnerChunkShape, DType: spec.DType, Order: spec.Order, FillValue: spec.FillValue, FillImag: spec.FillImag}
	innerPipeline, err := pipeline.New(context.Background(), c.Codecs, innerSpec)
	if err != nil {
		return nil, fmt.Errorf("sharding: building inner pipeline: %w", err)
	}
	subDim := grid.Shape(spec.Shape, c.InnerChunkShape)
	nSub := 1
	for _, d := range subDim {
		nSub *= d
	}
	evolved := &Codec{
		InnerChunkShape: c.InnerChunkShape,
		Codecs:          c.Codecs,
		IndexCodecs:     c.IndexCodecs,
		Location:        c.Location,
		inner:           innerPipeline,
		nSub:            nSub,
		subDim:          subDim,
		fillValue:       spec.FillValue,
		fillImag:        spec.FillImag,
	}
	return evolved, nil
}

func (c *Codec) SupportsPartialDecode() bool { return true }
func (c *Codec) SupportsPartialEncode() bool { return false }

// indexCodecChain filters IndexCodecs down to the bytes->bytes codecs
// actually applied to the raw index table (array->array/array->bytes
// entries, were any configured there by mistake, are silently ignored).
func (c *Codec) indexCodecChain() []codec.BytesBytesCodec {
	out := make([]codec.BytesBytesCodec, 0, len(c.IndexCodecs))
	for _, ic := range c.IndexCodecs {
		if bb, ok := ic.(codec.BytesBytesCodec); ok {
			out = append(out, bb)
		}
	}
	return out
}

// encodeIndex serializes entries to the raw 16*N-byte table, then runs
// index_codecs over it.
func (c *Codec) encodeIndex(ctx context.Context, entries []IndexEntry) (*buffer.Bytes, error) {
	raw := make([]byte, 16*len(entries))
	for i, e := range entries {
		binary.LittleEndian.PutUint64(raw[i*16:], e.Offset)
		binary.LittleEndian.PutUint64(raw[i*16+8:], e.Length)
	}
	b := buffer.FromBytes(raw)
	for _, ic := range c.indexCodecChain() {
		next, err := ic.EncodeBytes(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("sharding: encoding index: %w", err)
		}
		b = next
	}
	return b, nil
}

// decodeIndex runs index_codecs in reverse over the raw index bytes, then
// parses the resulting 16*N-byte table.
func (c *Codec) decodeIndex(ctx context.Context, raw *buffer.Bytes, n int) ([]IndexEntry, error) {
	b := raw
	chain := c.indexCodecChain()
	for i := len(chain) - 1; i >= 0; i-- {
		next, err := chain[i].DecodeBytes(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("%w: index codec: %v", ErrCorruptShard, err)
		}
		b = next
	}
	data := b.ToBytes()
	if len(data) != 16*n {
		return nil, fmt.Errorf("%w: index table is %d bytes, expected %d for %d sub-chunks", ErrCorruptShard, len(data), 16*n, n)
	}
	out := make([]IndexEntry, n)
	for i := range out {
		out[i] = IndexEntry{
			Offset: binary.LittleEndian.Uint64(data[i*16:]),
			Length: binary.LittleEndian.Uint64(data[i*16+8:]),
		}
	}
	return out, nil
}

// encodedIndexLength computes the fixed on-disk byte length of the index
// table for n sub-chunks, running the (length-preserving or
// length-extending, e.g. crc32c) index_codecs chain over a zeroed table of
// the right size, so this never actually encodes real data. The probe
// matches the real index length only for index codecs whose output length
// depends on the input length alone (crc32c, or no codec); a compressing
// codec such as gzip or zstd yields a content-dependent length that this
// probe does not predict.
func (c *Codec) encodedIndexLength(ctx context.Context, n int) (int, error) {
	probe, err := c.encodeIndex(ctx, make([]IndexEntry, n))
	if err != nil {
		return 0, err
	}
	return probe.Len(), nil
}

// EncodeArrayToBytes implements §4.H's write path: decompose the outer
// chunk into sub-chunks on the inner grid, encode each non-empty one via
// the inner pipeline, lay them back to back, then build and place the
// index.
func (c *Codec) EncodeArrayToBytes(ctx context.Context, in *buffer.NDBuffer) (*buffer.Bytes, error) {
	if c.inner == nil {
		return nil, fmt.Errorf("sharding: codec not evolved against an array spec")
	}
	entries := make([]IndexEntry, c.nSub)
	var payload []byte
	offset := uint64(0)

	err := forEachSubChunk(c.subDim, func(flatIdx int, subCoords []int) error {
		subND, allFill, err := extractSubChunk(in, c.InnerChunkShape, subCoords, c.fillValue, c.fillImag)
		if err != nil {
			return err
		}
		if allFill {
			entries[flatIdx] = IndexEntry{Offset: emptyMarker, Length: emptyMarker}
			return nil
		}
		encoded, err := c.inner.Encode(ctx, subND)
		if err != nil {
			return fmt.Errorf("sharding: encoding sub-chunk %v: %w", subCoords, err)
		}
		data := encoded.ToBytes()
		entries[flatIdx] = IndexEntry{Offset: offset, Length: uint64(len(data))}
		payload = append(payload, data...)
		offset += uint64(len(data))
		return nil
	})
	if err != nil {
		return nil, err
	}

	// If every sub-chunk was fill, the result is an index-only shard; the
	// array facade deletes the chunk key instead of storing it, so no
	// all-empty shard ever reaches the store.
	index, err := c.encodeIndex(ctx, entries)
	if err != nil {
		return nil, err
	}

	if c.Location == IndexStart {
		for i := range entries {
			if !entries[i].Empty() {
				entries[i].Offset += uint64(index.Len())
			}
		}
		index, err = c.encodeIndex(ctx, entries)
		if err != nil {
			return nil, err
		}
		return buffer.Concat(index, buffer.FromBytes(payload)), nil
	}
	return buffer.Concat(buffer.FromBytes(payload), index), nil
}

// DecodeBytesToArray implements the full-shard read path: decode the
// index, then every non-empty sub-chunk, assembling them into the outer
// chunk buffer; empty sub-chunks are left at the spec's fill value.
func (c *Codec) DecodeBytesToArray(ctx context.Context, in *buffer.Bytes, spec codec.ArraySpec) (*buffer.NDBuffer, error) {
	if c.inner == nil {
		return nil, fmt.Errorf("sharding: codec not evolved against an array spec")
	}
	data := in.ToBytes()
	indexLen, err := c.encodedIndexLength(ctx, c.nSub)
	if err != nil {
		return nil, err
	}
	if len(data) < indexLen {
		return nil, fmt.Errorf("%w: shard shorter than its index table", ErrCorruptShard)
	}

	// Index entry offsets are absolute from the shard start, for both
	// locations: an end-located shard's payload begins at offset 0, a
	// start-located shard's entries were shifted past the index at encode.
	var indexBytes []byte
	payloadEnd := uint64(len(data))
	if c.Location == IndexStart {
		indexBytes = data[:indexLen]
	} else {
		indexBytes = data[len(data)-indexLen:]
		payloadEnd = uint64(len(data) - indexLen)
	}

	entries, err := c.decodeIndex(ctx, buffer.FromBytes(indexBytes), c.nSub)
	if err != nil {
		return nil, err
	}

	out := buffer.NewNDBuffer(spec.DType, spec.Shape, spec.Order)
	out.FillComplex(spec.FillValue, spec.FillImag)

	err = forEachSubChunk(c.subDim, func(flatIdx int, subCoords []int) error {
		e := entries[flatIdx]
		if e.Empty() {
			return nil
		}
		if e.Offset+e.Length > payloadEnd {
			return fmt.Errorf("%w: sub-chunk %v byte range exceeds shard payload", ErrCorruptShard, subCoords)
		}
		raw := buffer.FromBytes(data[e.Offset : e.Offset+e.Length])
		subND, err := c.inner.Decode(ctx, raw)
		if err != nil {
			return fmt.Errorf("sharding: decoding sub-chunk %v: %w", subCoords, err)
		}
		return placeSubChunk(out, subND, c.InnerChunkShape, subCoords)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DecodePartialFrom implements §4.H's partial-read path: one byte-range
// read for the fixed-size index (a head or suffix range, per Location),
// then one per wanted non-empty sub-chunk — never the whole shard. A nil
// wanted fetches every sub-chunk. Returns (nil, nil) when src reports the
// shard object absent.
func (c *Codec) DecodePartialFrom(ctx context.Context, src codec.RangeReader, spec codec.ArraySpec, wanted func(subCoords []int) bool) (*buffer.NDBuffer, error) {
	if c.inner == nil {
		return nil, fmt.Errorf("sharding: codec not evolved against an array spec")
	}
	indexLen, err := c.encodedIndexLength(ctx, c.nSub)
	if err != nil {
		return nil, err
	}
	indexOffset := int64(-indexLen)
	if c.Location == IndexStart {
		indexOffset = 0
	}
	indexBytes, err := src(ctx, indexOffset, int64(indexLen))
	if err != nil {
		return nil, err
	}
	if indexBytes == nil {
		return nil, nil
	}
	entries, err := c.decodeIndex(ctx, buffer.FromBytes(indexBytes), c.nSub)
	if err != nil {
		return nil, err
	}

	out := buffer.NewNDBuffer(spec.DType, spec.Shape, spec.Order)
	out.FillComplex(spec.FillValue, spec.FillImag)

	err = forEachSubChunk(c.subDim, func(flatIdx int, subCoords []int) error {
		if wanted != nil && !wanted(subCoords) {
			return nil
		}
		offset, length, empty := c.SubChunkByteRange(entries, flatIdx)
		if empty {
			return nil
		}
		raw, err := src(ctx, offset, length)
		if err != nil {
			return err
		}
		if raw == nil || int64(len(raw)) != length {
			return fmt.Errorf("%w: sub-chunk %v byte range unreadable", ErrCorruptShard, subCoords)
		}
		subND, err := c.inner.Decode(ctx, buffer.FromBytes(raw))
		if err != nil {
			return fmt.Errorf("sharding: decoding sub-chunk %v: %w", subCoords, err)
		}
		return placeSubChunk(out, subND, c.InnerChunkShape, subCoords)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IndexByteRange returns the byte range of the fixed-size index table
// within a shard of nSub sub-chunks, for a byte-range-capable caller that
// wants to fetch only the index first (§8 scenario 6, two-read path).
// shardLen is the total encoded shard size, needed to locate an
// end-located index.
func (c *Codec) IndexByteRange(ctx context.Context, shardLen int64) (offset, length int64, err error) {
	n, lenErr := c.encodedIndexLength(ctx, c.nSub)
	if lenErr != nil {
		return 0, 0, lenErr
	}
	if c.Location == IndexStart {
		return 0, int64(n), nil
	}
	return shardLen - int64(n), int64(n), nil
}

// SubChunkByteRange resolves one sub-chunk's (offset, length) from an
// already-decoded index. Offsets are absolute from the shard start for
// either index location.
func (c *Codec) SubChunkByteRange(entries []IndexEntry, flatIdx int) (offset, length int64, empty bool) {
	e := entries[flatIdx]
	if e.Empty() {
		return 0, 0, true
	}
	return int64(e.Offset), int64(e.Length), false
}

// DecodeIndexOnly exposes decodeIndex for callers that fetch the index
// bytes themselves via a store byte-range read (see IndexByteRange).
func (c *Codec) DecodeIndexOnly(ctx context.Context, indexBytes *buffer.Bytes) ([]IndexEntry, error) {
	return c.decodeIndex(ctx, indexBytes, c.nSub)
}

func forEachSubChunk(subDim []int, fn func(flatIdx int, coords []int) error) error {
	flat := 0
	coords := make([]int, len(subDim))
	var rec func(dim int) error
	rec = func(dim int) error {
		if dim == len(subDim) {
			if err := fn(flat, append([]int(nil), coords...)); err != nil {
				return err
			}
			flat++
			return nil
		}
		for i := 0; i < subDim[dim]; i++ {
			coords[dim] = i
			if err := rec(dim + 1); err != nil {
				return err
			}
		}
		return nil
	}
	return rec(0)
}

// extractSubChunk copies the inner sub-chunk at subCoords out of the outer
// buffer, reporting whether every element equals fillValue (NaN-aware) so
// an all-fill sub-chunk can be recorded as empty instead of encoded.
func extractSubChunk(in *buffer.NDBuffer, innerShape []int, subCoords []int, fillValue, fillImag float64) (*buffer.NDBuffer, bool, error) {
	out := buffer.NewNDBuffer(in.DType(), innerShape, in.Order())
	outerShape := in.Shape()
	outerStrides := stridesOf(outerShape)
	innerStrides := stridesOf(innerShape)

	allFill := true
	fillIsNaN := math.IsNaN(fillValue)
	total := out.NumElements()
	idx := make([]int, len(innerShape))
	flatOut := out.Flat()
	flatIn := in.Flat()
	imagOut := out.FlatImag()
	imagIn := in.FlatImag()
	for flat := 0; flat < total; flat++ {
		rem := flat
		for d := 0; d < len(innerShape); d++ {
			idx[d] = rem / innerStrides[d]
			rem %= innerStrides[d]
		}
		srcIdx := 0
		for d := range idx {
			srcIdx += (subCoords[d]*innerShape[d] + idx[d]) * outerStrides[d]
		}
		v := flatIn[srcIdx]
		flatOut[flat] = v
		if imagOut != nil {
			im := imagIn[srcIdx]
			imagOut[flat] = im
			if im != fillImag {
				allFill = false
			}
		}
		if allFill {
			if fillIsNaN {
				if !math.IsNaN(v) {
					allFill = false
				}
			} else if v != fillValue {
				allFill = false
			}
		}
	}
	return out, allFill, nil
}

// placeSubChunk writes a decoded inner sub-chunk back into the outer
// chunk buffer at subCoords.
func placeSubChunk(out *buffer.NDBuffer, sub *buffer.NDBuffer, innerShape []int, subCoords []int) error {
	outerStrides := stridesOf(out.Shape())
	innerStrides := stridesOf(innerShape)
	total := sub.NumElements()
	idx := make([]int, len(innerShape))
	flatOut := out.Flat()
	flatSub := sub.Flat()
	imagOut := out.FlatImag()
	imagSub := sub.FlatImag()
	for flat := 0; flat < total; flat++ {
		rem := flat
		for d := 0; d < len(innerShape); d++ {
			idx[d] = rem / innerStrides[d]
			rem %= innerStrides[d]
		}
		dstIdx := 0
		for d := range idx {
			dstIdx += (subCoords[d]*innerShape[d] + idx[d]) * outerStrides[d]
		}
		flatOut[dstIdx] = flatSub[flat]
		if imagOut != nil {
			imagOut[dstIdx] = imagSub[flat]
		}
	}
	return nil
}

func stridesOf(shape []int) []int {
	s := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= shape[i]
	}
	return s
}
