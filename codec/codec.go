// Package codec implements the three codec kinds of §4.G/§9: array->array,
// array->bytes and bytes->bytes, discriminated by a capability tag rather
// than by inheritance, plus the concrete codecs named in the domain stack.
package codec

import (
	"context"
	"errors"

	"github.com/zarrgo/zarr/buffer"
)

// ErrBadCodec covers §7 BadCodec: two array->bytes codecs, or a codec's
// validation against (shape, dtype, chunk_grid) failing.
var ErrBadCodec = errors.New("codec: bad codec")

// ErrCorruptData covers §7 CorruptData: checksum failures, unreadable
// codec output, sub-chunk length overflow.
var ErrCorruptData = errors.New("codec: corrupt data")

// Kind tags which of the three phases a codec belongs to.
type Kind int

const (
	KindArrayArray Kind = iota
	KindArrayBytes
	KindBytesBytes
)

// ArraySpec is the (shape, dtype, chunk_grid order) a codec validates
// against and may specialize itself for via EvolveFromArraySpec. FillImag
// is meaningful only for complex dtypes.
type ArraySpec struct {
	Shape     []int
	DType     buffer.DType
	Order     buffer.Order
	FillValue float64
	FillImag  float64
}

// Codec is the common contract every codec kind implements: a name for the
// registry/metadata wire form, its kind tag, and per-construction
// validation against the owning array's spec.
type Codec interface {
	Name() string
	Kind() Kind
	Validate(spec ArraySpec) error
	// EvolveFromArraySpec lets a codec return a specialized instance for a
	// concrete chunk spec, called once at array construction (§4.G).
	EvolveFromArraySpec(spec ArraySpec) (Codec, error)
}

// ArrayArrayCodec transforms a typed buffer into another typed buffer
// (e.g. transpose). It never changes the logical dtype's byte semantics.
type ArrayArrayCodec interface {
	Codec
	EncodeArray(ctx context.Context, in *buffer.NDBuffer) (*buffer.NDBuffer, error)
	DecodeArray(ctx context.Context, in *buffer.NDBuffer) (*buffer.NDBuffer, error)
	// ResolveSpec maps the chunk spec across the forward transform (e.g.
	// transpose permutes the shape), telling the pipeline what spec the
	// next codec in the chain sees.
	ResolveSpec(spec ArraySpec) ArraySpec
}

// ArrayBytesCodec is the mandatory, unique codec that changes kind: typed
// buffer to raw bytes and back (e.g. the endian/"bytes" codec, or the
// recursive sharding codec).
type ArrayBytesCodec interface {
	Codec
	EncodeArrayToBytes(ctx context.Context, in *buffer.NDBuffer) (*buffer.Bytes, error)
	DecodeBytesToArray(ctx context.Context, in *buffer.Bytes, spec ArraySpec) (*buffer.NDBuffer, error)

	// SupportsPartialDecode reports whether DecodePartialFrom can service a
	// request without materializing the full chunk (§4.G "Partial
	// decode/encode").
	SupportsPartialDecode() bool
	SupportsPartialEncode() bool
}

// RangeReader reads [offset, offset+length) of one stored object. A
// negative offset addresses from the object's end (a suffix read). A
// (nil, nil) return means the object is absent.
type RangeReader func(ctx context.Context, offset, length int64) ([]byte, error)

// PartialDecoder is implemented by ArrayBytesCodecs that can decode a
// sub-region directly from a byte-range-capable source, skipping full
// materialization (the sharding codec is the primary example, §4.H).
// wanted filters which inner regions to fetch by their inner-grid
// coordinates; nil means all. Returns (nil, nil) when src reports the
// object absent.
type PartialDecoder interface {
	DecodePartialFrom(ctx context.Context, src RangeReader, spec ArraySpec, wanted func(subCoords []int) bool) (*buffer.NDBuffer, error)
}

// BytesBytesCodec transforms raw bytes into raw bytes (compression,
// checksums).
type BytesBytesCodec interface {
	Codec
	EncodeBytes(ctx context.Context, in *buffer.Bytes) (*buffer.Bytes, error)
	DecodeBytes(ctx context.Context, in *buffer.Bytes) (*buffer.Bytes, error)
}

// baseCodec is embedded by concrete codecs to satisfy Codec's
// EvolveFromArraySpec with a no-op default: returning (nil, nil) tells the
// pipeline "no specialization, keep using the codec as constructed."
// Codecs that need per-chunk specialization (e.g. sharding, whose inner
// pipeline depends on the outer chunk's dtype) override it.
type baseCodec struct{}

func (baseCodec) EvolveFromArraySpec(spec ArraySpec) (Codec, error) { return nil, nil }

// chunkElementCount is a small helper shared by several codecs.
func chunkElementCount(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
