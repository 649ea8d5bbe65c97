package meta

import (
	"fmt"
	"math"

	"github.com/zarrgo/zarr/buffer"
)

// FillValue is a strongly-typed sum type over the scalar kinds a fill value
// can take (§9 "Dynamic fill-value typing"): real scalars carry Real, the
// complex case additionally carries Imag.
type FillValue struct {
	DType   buffer.DType
	Real    float64
	Imag    float64
	IsBool  bool
	Bool    bool
}

// ParseFillValue implements parse_fill_value(value, dtype) from §4.D:
//   - nil -> dtype(0).
//   - floats accept the strings "NaN"/"Infinity"/"-Infinity", otherwise cast
//     and require isclose(value, casted, equal_nan=true).
//   - complex accepts a 2-element sequence [real, imag].
//   - any other sequence is rejected.
//   - integers/bools require exact equality after casting (catches
//     out-of-range values).
func ParseFillValue(value any, dtype buffer.DType) (FillValue, error) {
	if value == nil {
		return zeroFill(dtype), nil
	}

	if dtype == buffer.Complex64 || dtype == buffer.Complex128 {
		seq, ok := value.([]any)
		if !ok {
			if f, ok := asFloat(value); ok {
				return FillValue{DType: dtype, Real: f, Imag: 0}, nil
			}
			return FillValue{}, fmt.Errorf("%w: cannot parse %v as complex scalar", ErrBadMetadata, value)
		}
		if len(seq) != 2 {
			return FillValue{}, fmt.Errorf("%w: complex fill value needs 2 elements, got %d", ErrBadMetadata, len(seq))
		}
		re, ok1 := asFloat(seq[0])
		im, ok2 := asFloat(seq[1])
		if !ok1 || !ok2 {
			return FillValue{}, fmt.Errorf("%w: complex fill value elements must be numeric", ErrBadMetadata)
		}
		return FillValue{DType: dtype, Real: re, Imag: im}, nil
	}

	if seq, ok := value.([]any); ok {
		return FillValue{}, fmt.Errorf("%w: cannot parse sequence %v as scalar with dtype %s", ErrBadMetadata, seq, dtype.Name())
	}

	if dtype == buffer.Bool {
		b, ok := asBool(value)
		if !ok {
			return FillValue{}, fmt.Errorf("%w: fill value %v is not valid for dtype bool", ErrBadMetadata, value)
		}
		return FillValue{DType: dtype, IsBool: true, Bool: b}, nil
	}

	isFloatDType := dtype == buffer.Float16 || dtype == buffer.Float32 || dtype == buffer.Float64

	if s, ok := value.(string); ok && isFloatDType {
		switch s {
		case "NaN":
			return FillValue{DType: dtype, Real: math.NaN()}, nil
		case "Infinity":
			return FillValue{DType: dtype, Real: math.Inf(1)}, nil
		case "-Infinity":
			return FillValue{DType: dtype, Real: math.Inf(-1)}, nil
		}
	}

	f, ok := asFloat(value)
	if !ok {
		return FillValue{}, fmt.Errorf("%w: fill value %v is not valid for dtype %s", ErrBadMetadata, value, dtype.Name())
	}

	casted := castToDType(f, dtype)
	if isFloatDType {
		if !isClose(f, casted) {
			return FillValue{}, fmt.Errorf("%w: fill value %v is not valid for dtype %s", ErrBadMetadata, value, dtype.Name())
		}
	} else {
		if f != casted {
			return FillValue{}, fmt.Errorf("%w: fill value %v is not valid for dtype %s (out of range)", ErrBadMetadata, value, dtype.Name())
		}
	}
	return FillValue{DType: dtype, Real: casted}, nil
}

func zeroFill(dtype buffer.DType) FillValue {
	if dtype == buffer.Bool {
		return FillValue{DType: dtype, IsBool: true, Bool: false}
	}
	return FillValue{DType: dtype, Real: 0}
}

// isClose mirrors numpy.isclose(a, b, equal_nan=True) with numpy's default
// tolerances (rtol=1e-5, atol=1e-8).
func isClose(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	return math.Abs(a-b) <= 1e-8+1e-5*math.Abs(b)
}

// castToDType converts f through the Go integer type of each integer kind,
// rounds float32 to single precision, and passes float16 and float64
// through unchanged (float16 narrowing is not modeled).
func castToDType(f float64, dtype buffer.DType) float64 {
	switch dtype {
	case buffer.Int8:
		return float64(int8(f))
	case buffer.Int16:
		return float64(int16(f))
	case buffer.Int32:
		return float64(int32(f))
	case buffer.Int64:
		return float64(int64(f))
	case buffer.Uint8:
		return float64(uint8(f))
	case buffer.Uint16:
		return float64(uint16(f))
	case buffer.Uint32:
		return float64(uint32(f))
	case buffer.Uint64:
		return float64(uint64(f))
	case buffer.Float32:
		return float64(float32(f))
	default:
		return f
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func asBool(v any) (bool, bool) {
	switch n := v.(type) {
	case bool:
		return n, true
	case float64:
		if n != 0 && n != 1 {
			return false, false
		}
		return n == 1, true
	case int:
		if n != 0 && n != 1 {
			return false, false
		}
		return n == 1, true
	default:
		return false, false
	}
}

// MarshalJSON implements the §4.D serialization rules: NaN/+-Infinity
// serialize as the special strings, complex as [real, imag], everything
// else as the plain scalar.
func (f FillValue) MarshalJSON() ([]byte, error) {
	if f.DType == buffer.Bool || f.IsBool {
		if f.Bool {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	}
	if f.DType == buffer.Complex64 || f.DType == buffer.Complex128 {
		return []byte(fmt.Sprintf("[%s,%s]", formatFloat(f.Real), formatFloat(f.Imag))), nil
	}
	return []byte(formatFloat(f.Real)), nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return `"NaN"`
	}
	if math.IsInf(v, 1) {
		return `"Infinity"`
	}
	if math.IsInf(v, -1) {
		return `"-Infinity"`
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%v", v)
}

// ToJSONValue returns the plain any this library's JSON codec should embed
// (a string for NaN/Inf, a 2-element slice for complex, else a number or
// bool), used by v2/v3 metadata encoders ahead of json.Marshal so NaN/Inf
// never reaches the standard encoder (which would otherwise error, since
// encoding/json rejects non-finite floats outright).
func (f FillValue) ToJSONValue() any {
	if f.DType == buffer.Bool || f.IsBool {
		return f.Bool
	}
	if f.DType == buffer.Complex64 || f.DType == buffer.Complex128 {
		return []any{jsonNumber(f.Real), jsonNumber(f.Imag)}
	}
	return jsonNumber(f.Real)
}

func jsonNumber(v float64) any {
	if math.IsNaN(v) {
		return "NaN"
	}
	if math.IsInf(v, 1) {
		return "Infinity"
	}
	if math.IsInf(v, -1) {
		return "-Infinity"
	}
	return v
}

// AsFloat returns the fill value's scalar carrier form for materializing an
// absent chunk/region: bool fills don't populate Real, so resolve them to
// 1/0 here instead.
func (f FillValue) AsFloat() float64 {
	if f.DType == buffer.Bool || f.IsBool {
		if f.Bool {
			return 1
		}
		return 0
	}
	return f.Real
}

// Equal implements the round-trip comparison from §3/§8: NaN compares equal
// to NaN, everything else by value.
func (f FillValue) Equal(other FillValue) bool {
	if f.DType != other.DType {
		return false
	}
	if f.DType == buffer.Bool {
		return f.Bool == other.Bool
	}
	realEq := f.Real == other.Real || (math.IsNaN(f.Real) && math.IsNaN(other.Real))
	imagEq := f.Imag == other.Imag || (math.IsNaN(f.Imag) && math.IsNaN(other.Imag))
	return realEq && imagEq
}
