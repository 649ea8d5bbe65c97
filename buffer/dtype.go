package buffer

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
)

// DType enumerates the scalar kinds of §3: bool, signed/unsigned ints,
// floats and complex numbers.
type DType int

const (
	Bool DType = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	Float32
	Float64
	Complex64
	Complex128
)

var byteCounts = map[DType]int{
	Bool: 1, Int8: 1, Int16: 2, Int32: 4, Int64: 8,
	Uint8: 1, Uint16: 2, Uint32: 4, Uint64: 8,
	Float16: 2, Float32: 4, Float64: 8,
	Complex64: 8, Complex128: 16,
}

// ByteCount returns the wire/in-memory size of one scalar of this dtype.
func (d DType) ByteCount() int { return byteCounts[d] }

// HasEndianness mirrors DataType.has_endianness: every dtype except the
// single-byte ones is endian-sensitive.
func (d DType) HasEndianness() bool { return d.ByteCount() != 1 }

// IsComplex reports whether scalars of this dtype carry an imaginary part,
// stored in the NDBuffer's separate imaginary carrier slice.
func (d DType) IsComplex() bool { return d == Complex64 || d == Complex128 }

// Name returns the short Zarr v3 wire name, e.g. "float32", "complex128".
func (d DType) Name() string {
	switch d {
	case Bool:
		return "bool"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float16:
		return "float16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Complex64:
		return "complex64"
	case Complex128:
		return "complex128"
	default:
		return "unknown"
	}
}

// GoMLXDType maps to the gomlx tensor backend's dtype. NDBuffer storage
// itself is a float64 carrier slice and is not allocated through gomlx.
func (d DType) GoMLXDType() dtypes.DType {
	switch d {
	case Bool, Uint8:
		return dtypes.Uint8
	case Int32:
		return dtypes.Int32
	case Int64:
		return dtypes.Int64
	case Uint16:
		return dtypes.Uint8 // narrowed: gomlx has no native uint16; stored widened at the NDBuffer layer
	case Uint32:
		return dtypes.Int32
	case Uint64:
		return dtypes.Int64
	case Float32:
		return dtypes.Float32
	case Float64:
		return dtypes.Float64
	default:
		return dtypes.Float32
	}
}

// PutScalar writes one scalar, given as a float64 carrier, into dst using bo.
// Integers and bools pass through the float64 carrier exactly for all
// values representable in 53 bits, which covers every width except the
// extremes of int64/uint64. Complex scalars carry two components and go
// through the NDBuffer serialization path instead of this one.
func (d DType) PutScalar(bo binary.ByteOrder, dst []byte, v float64) error {
	switch d {
	case Bool, Uint8:
		dst[0] = byte(uint8(v))
	case Int8:
		dst[0] = byte(int8(v))
	case Int16:
		bo.PutUint16(dst, uint16(int16(v)))
	case Uint16:
		bo.PutUint16(dst, uint16(v))
	case Int32:
		bo.PutUint32(dst, uint32(int32(v)))
	case Uint32:
		bo.PutUint32(dst, uint32(v))
	case Int64:
		bo.PutUint64(dst, uint64(int64(v)))
	case Uint64:
		bo.PutUint64(dst, uint64(v))
	case Float16:
		bo.PutUint16(dst, float16.Fromfloat32(float32(v)).Bits())
	case Float32:
		bo.PutUint32(dst, math.Float32bits(float32(v)))
	case Float64:
		bo.PutUint64(dst, math.Float64bits(v))
	default:
		return fmt.Errorf("dtype: PutScalar unsupported for %s", d.Name())
	}
	return nil
}

// GetScalar is the inverse of PutScalar.
func (d DType) GetScalar(bo binary.ByteOrder, src []byte) (float64, error) {
	switch d {
	case Bool, Uint8:
		return float64(src[0]), nil
	case Int8:
		return float64(int8(src[0])), nil
	case Int16:
		return float64(int16(bo.Uint16(src))), nil
	case Uint16:
		return float64(bo.Uint16(src)), nil
	case Int32:
		return float64(int32(bo.Uint32(src))), nil
	case Uint32:
		return float64(bo.Uint32(src)), nil
	case Int64:
		return float64(int64(bo.Uint64(src))), nil
	case Uint64:
		return float64(bo.Uint64(src)), nil
	case Float16:
		return float64(float16.Frombits(bo.Uint16(src)).Float32()), nil
	case Float32:
		return float64(math.Float32frombits(bo.Uint32(src))), nil
	case Float64:
		return math.Float64frombits(bo.Uint64(src)), nil
	default:
		return 0, fmt.Errorf("dtype: GetScalar unsupported for %s", d.Name())
	}
}

// ParseWireName resolves a wire dtype string to the strongly-typed DType.
// It accepts both the numpy v2 form ("<f4", "|b1") and the v3 short name
// ("float32").
func ParseWireName(s string) (DType, error) {
	if len(s) >= 3 && (s[0] == '<' || s[0] == '>' || s[0] == '|') {
		if s[0] == '>' {
			return 0, fmt.Errorf("dtype: big-endian types are unsupported: %s", s)
		}
		kind := s[1]
		size := 0
		if _, err := fmt.Sscanf(s[2:], "%d", &size); err != nil {
			return 0, fmt.Errorf("dtype: invalid size in dtype: %s", s)
		}
		return fromKindSize(kind, size, s)
	}
	for d := Bool; d <= Complex128; d++ {
		if d.Name() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("dtype: unknown dtype name: %s", s)
}

func fromKindSize(kind byte, size int, orig string) (DType, error) {
	switch kind {
	case 'b':
		return Bool, nil
	case 'i':
		switch size {
		case 1:
			return Int8, nil
		case 2:
			return Int16, nil
		case 4:
			return Int32, nil
		case 8:
			return Int64, nil
		}
	case 'u':
		switch size {
		case 1:
			return Uint8, nil
		case 2:
			return Uint16, nil
		case 4:
			return Uint32, nil
		case 8:
			return Uint64, nil
		}
	case 'f':
		switch size {
		case 2:
			return Float16, nil
		case 4:
			return Float32, nil
		case 8:
			return Float64, nil
		}
	case 'c':
		switch size {
		case 8:
			return Complex64, nil
		case 16:
			return Complex128, nil
		}
	}
	return 0, fmt.Errorf("dtype: unsupported dtype: %s", orig)
}

// WireNameV2 returns the numpy-style little-endian string form, e.g. "<f4".
func (d DType) WireNameV2() string {
	size := d.ByteCount()
	switch d {
	case Bool:
		return "|b1"
	case Int8, Int16, Int32, Int64:
		return fmt.Sprintf("<i%d", size)
	case Uint8, Uint16, Uint32, Uint64:
		return fmt.Sprintf("<u%d", size)
	case Float16, Float32, Float64:
		return fmt.Sprintf("<f%d", size)
	case Complex64, Complex128:
		return fmt.Sprintf("<c%d", size)
	default:
		return "?"
	}
}
