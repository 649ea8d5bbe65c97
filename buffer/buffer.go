// Package buffer implements the typed buffer & prototype layer (§4.A):
// a contiguous byte buffer and a multidimensional typed view over it, plus
// a pluggable prototype so codecs never allocate directly.
package buffer

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Order is the in-memory layout of an NDBuffer.
type Order int

const (
	OrderC Order = iota
	OrderF
)

// Bytes is a contiguous byte buffer. It is the unit of exchange between the
// codec pipeline and the key-value store.
type Bytes struct {
	data []byte
}

// FromBytes wraps an existing slice without copying.
func FromBytes(b []byte) *Bytes { return &Bytes{data: b} }

// NewBytes allocates a zeroed buffer of n bytes.
func NewBytes(n int) *Bytes { return &Bytes{data: make([]byte, n)} }

// ToBytes returns the underlying slice. Callers must not retain it past the
// buffer's lifetime if the prototype recycles storage.
func (b *Bytes) ToBytes() []byte { return b.data }

func (b *Bytes) Len() int { return len(b.data) }

// Slice returns a view, sharing storage, over [start:end).
func (b *Bytes) Slice(start, end int) *Bytes { return &Bytes{data: b.data[start:end]} }

// Concat returns a new buffer holding the concatenation of bs, in order.
func Concat(bs ...*Bytes) *Bytes {
	n := 0
	for _, b := range bs {
		n += b.Len()
	}
	out := make([]byte, 0, n)
	for _, b := range bs {
		out = append(out, b.data...)
	}
	return &Bytes{data: out}
}

// NDBuffer is a typed, shaped, in-memory view. Element storage is a flat
// row-major (or column-major, per Order) slice of float64 carriers; widths
// narrower than float64 lose no precision for any dtype this engine
// supports except the extreme tails of int64/uint64. Complex dtypes carry
// their imaginary parts in a second slice of the same layout. A gomlx
// tensor view is built lazily from the same data for callers (e.g. a
// batched-training consumer) that want a native tensor directly.
type NDBuffer struct {
	dtype DType
	shape []int
	order Order
	flat  []float64
	imag  []float64 // non-nil only for complex dtypes
}

// NewNDBuffer allocates a zero-filled buffer of the given dtype and shape.
func NewNDBuffer(dtype DType, shape []int, order Order) *NDBuffer {
	dims := make([]int, len(shape))
	copy(dims, shape)
	n := 1
	for _, d := range dims {
		n *= d
	}
	nd := &NDBuffer{dtype: dtype, shape: dims, order: order, flat: make([]float64, n)}
	if dtype.IsComplex() {
		nd.imag = make([]float64, n)
	}
	return nd
}

func (n *NDBuffer) Shape() []int { return n.shape }
func (n *NDBuffer) DType() DType { return n.dtype }
func (n *NDBuffer) Order() Order { return n.order }

func (n *NDBuffer) NumElements() int {
	total := 1
	for _, d := range n.shape {
		total *= d
	}
	return total
}

// Flat exposes the raw float64 carrier slice, in row-major (or column-major)
// order per n.order. Codecs that implement array->array transforms (e.g.
// transpose) operate on this directly.
func (n *NDBuffer) Flat() []float64 { return n.flat }

// FlatImag exposes the imaginary carrier slice for complex dtypes; nil for
// every other dtype.
func (n *NDBuffer) FlatImag() []float64 { return n.imag }

// SetFlat replaces the carrier slice; len(v) must equal NumElements().
func (n *NDBuffer) SetFlat(v []float64) error {
	if len(v) != n.NumElements() {
		return fmt.Errorf("buffer: SetFlat length mismatch: have %d, want %d", len(v), n.NumElements())
	}
	n.flat = v
	return nil
}

// SetFlatImag replaces the imaginary carrier slice; the buffer must hold a
// complex dtype and len(v) must equal NumElements().
func (n *NDBuffer) SetFlatImag(v []float64) error {
	if !n.dtype.IsComplex() {
		return fmt.Errorf("buffer: SetFlatImag on non-complex dtype %s", n.dtype.Name())
	}
	if len(v) != n.NumElements() {
		return fmt.Errorf("buffer: SetFlatImag length mismatch: have %d, want %d", len(v), n.NumElements())
	}
	n.imag = v
	return nil
}

// Tensor builds a gomlx tensor view over the buffer's current contents, the
// bridge for consumers (e.g. a training data loader) built on the gomlx
// tensor library.
func (n *NDBuffer) Tensor() (*tensors.Tensor, error) {
	switch n.dtype {
	case Float32:
		vals := make([]float32, len(n.flat))
		for i, x := range n.flat {
			vals[i] = float32(x)
		}
		return tensors.FromFlatDataAndDimensions(vals, n.shape...), nil
	case Float64:
		return tensors.FromFlatDataAndDimensions(append([]float64(nil), n.flat...), n.shape...), nil
	case Int32, Uint32:
		vals := make([]int32, len(n.flat))
		for i, x := range n.flat {
			vals[i] = int32(x)
		}
		return tensors.FromFlatDataAndDimensions(vals, n.shape...), nil
	case Int64, Uint64:
		vals := make([]int64, len(n.flat))
		for i, x := range n.flat {
			vals[i] = int64(x)
		}
		return tensors.FromFlatDataAndDimensions(vals, n.shape...), nil
	case Bool, Uint8, Int8, Int16, Uint16, Float16:
		vals := make([]uint8, len(n.flat))
		for i, x := range n.flat {
			vals[i] = uint8(x)
		}
		return tensors.FromFlatDataAndDimensions(vals, n.shape...), nil
	default:
		return nil, fmt.Errorf("buffer: Tensor unsupported for dtype %s", n.dtype.Name())
	}
}

// ToBytes serializes the buffer to a raw byte blob in the given byte order,
// row-major flattening according to n.order. Complex elements serialize as
// their real component followed by their imaginary component, each at half
// the dtype's width.
func (n *NDBuffer) ToBytes(bo binary.ByteOrder) (*Bytes, error) {
	itemSize := n.dtype.ByteCount()
	out := make([]byte, len(n.flat)*itemSize)
	if n.dtype.IsComplex() {
		half := componentDType(n.dtype)
		halfSize := itemSize / 2
		for i := range n.flat {
			off := i * itemSize
			if err := half.PutScalar(bo, out[off:off+halfSize], n.flat[i]); err != nil {
				return nil, err
			}
			if err := half.PutScalar(bo, out[off+halfSize:off+itemSize], n.imag[i]); err != nil {
				return nil, err
			}
		}
		return &Bytes{data: out}, nil
	}
	for i, v := range n.flat {
		off := i * itemSize
		if err := n.dtype.PutScalar(bo, out[off:off+itemSize], v); err != nil {
			return nil, err
		}
	}
	return &Bytes{data: out}, nil
}

// FromRawBytes is the inverse of ToBytes: it decodes raw bytes into a newly
// allocated NDBuffer of the given shape/dtype/order.
func FromRawBytes(raw []byte, dtype DType, shape []int, order Order, bo binary.ByteOrder) (*NDBuffer, error) {
	nd := NewNDBuffer(dtype, shape, order)
	itemSize := dtype.ByteCount()
	n := nd.NumElements()
	if len(raw) < n*itemSize {
		return nil, fmt.Errorf("buffer: short raw input: need %d bytes, got %d", n*itemSize, len(raw))
	}
	if dtype.IsComplex() {
		half := componentDType(dtype)
		halfSize := itemSize / 2
		for i := 0; i < n; i++ {
			off := i * itemSize
			re, err := half.GetScalar(bo, raw[off:off+halfSize])
			if err != nil {
				return nil, err
			}
			im, err := half.GetScalar(bo, raw[off+halfSize:off+itemSize])
			if err != nil {
				return nil, err
			}
			nd.flat[i] = re
			nd.imag[i] = im
		}
		return nd, nil
	}
	for i := 0; i < n; i++ {
		off := i * itemSize
		v, err := dtype.GetScalar(bo, raw[off:off+itemSize])
		if err != nil {
			return nil, err
		}
		nd.flat[i] = v
	}
	return nd, nil
}

// componentDType maps a complex dtype to the float dtype of each of its two
// components.
func componentDType(d DType) DType {
	if d == Complex64 {
		return Float32
	}
	return Float64
}

// Fill sets every element of the buffer to the scalar value v (imaginary
// parts, where present, are set to zero; use FillComplex for a complex
// fill).
func (n *NDBuffer) Fill(v float64) {
	n.FillComplex(v, 0)
}

// FillComplex sets every element to re+im*i. The imaginary component is
// ignored for non-complex dtypes.
func (n *NDBuffer) FillComplex(re, im float64) {
	for i := range n.flat {
		n.flat[i] = re
	}
	for i := range n.imag {
		n.imag[i] = im
	}
}

// IsFillValue reports whether every element equals v, comparing NaN to NaN
// as equal (matching the fill-value scalar's own isclose(equal_nan=True)
// semantics, §4.D). For complex buffers the imaginary parts must all be
// zero; use IsFillValueComplex for a complex fill.
func (n *NDBuffer) IsFillValue(v float64) bool {
	return n.IsFillValueComplex(v, 0)
}

// IsFillValueComplex is IsFillValue for a complex scalar re+im*i.
func (n *NDBuffer) IsFillValueComplex(re, im float64) bool {
	if !carrierAllEqual(n.flat, re) {
		return false
	}
	if n.imag != nil && !carrierAllEqual(n.imag, im) {
		return false
	}
	return true
}

func carrierAllEqual(xs []float64, v float64) bool {
	isNaN := math.IsNaN(v)
	for _, x := range xs {
		if isNaN {
			if !math.IsNaN(x) {
				return false
			}
			continue
		}
		if x != v {
			return false
		}
	}
	return true
}

// Reshape returns a new NDBuffer describing the same data under a new shape.
// The product of dims must match NumElements.
func (n *NDBuffer) Reshape(shape []int) (*NDBuffer, error) {
	total := 1
	for _, d := range shape {
		total *= d
	}
	if total != n.NumElements() {
		return nil, fmt.Errorf("buffer: reshape element count mismatch: have %d, want %d", n.NumElements(), total)
	}
	out := NewNDBuffer(n.dtype, shape, n.order)
	copy(out.flat, n.flat)
	copy(out.imag, n.imag)
	return out, nil
}

// Transpose returns a new buffer with axes permuted per perm (perm[i] names
// the source axis feeding destination axis i), copying data into the new
// layout. Used by the transpose array->array codec.
func (n *NDBuffer) Transpose(perm []int) (*NDBuffer, error) {
	if len(perm) != len(n.shape) {
		return nil, fmt.Errorf("buffer: transpose permutation length mismatch")
	}
	newShape := make([]int, len(perm))
	for i, p := range perm {
		newShape[i] = n.shape[p]
	}
	out := NewNDBuffer(n.dtype, newShape, n.order)
	srcStrides := cStrides(n.shape)
	dstStrides := cStrides(newShape)

	idx := make([]int, len(newShape))
	total := out.NumElements()
	for flat := 0; flat < total; flat++ {
		rem := flat
		for d := 0; d < len(newShape); d++ {
			idx[d] = rem / dstStrides[d]
			rem %= dstStrides[d]
		}
		srcIdx := 0
		for d, p := range perm {
			srcIdx += idx[d] * srcStrides[p]
		}
		out.flat[flat] = n.flat[srcIdx]
		if out.imag != nil {
			out.imag[flat] = n.imag[srcIdx]
		}
	}
	return out, nil
}

func cStrides(shape []int) []int {
	s := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= shape[i]
	}
	return s
}

// IsNaN/IsInf are shared by float scalar round-tripping in meta and codec.
func IsNaN(v float64) bool { return math.IsNaN(v) }
func IsInf(v float64) bool { return math.IsInf(v, 0) }

// Prototype bundles the byte-buffer and ndbuffer constructors a codec should
// use to allocate intermediate results, so that callers preferring a
// different backend (e.g. pinned host memory, GPU buffers) can inject one.
type Prototype struct {
	NewBytes func(n int) *Bytes
	NewND    func(dtype DType, shape []int, order Order) *NDBuffer
}

// Default is the standard heap-backed prototype.
var Default = Prototype{
	NewBytes: NewBytes,
	NewND:    NewNDBuffer,
}
