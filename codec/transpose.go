package codec

import (
	"context"
	"fmt"

	"github.com/zarrgo/zarr/buffer"
)

// TransposeCodec is an array->array codec permuting axes, grounded on the
// teacher's copyND axis-order handling in reader.go (there specialized to
// C-order flattening; here generalized to an arbitrary permutation).
type TransposeCodec struct {
	baseCodec
	Order []int
}

func NewTransposeCodec(order []int) *TransposeCodec {
	return &TransposeCodec{Order: order}
}

func (c *TransposeCodec) Name() string { return "transpose" }
func (c *TransposeCodec) Kind() Kind { return KindArrayArray }

func (c *TransposeCodec) Validate(spec ArraySpec) error {
	if len(c.Order) != len(spec.Shape) {
		return fmt.Errorf("%w: transpose order length %d does not match ndim %d", ErrBadCodec, len(c.Order), len(spec.Shape))
	}
	seen := make([]bool, len(c.Order))
	for _, o := range c.Order {
		if o < 0 || o >= len(seen) || seen[o] {
			return fmt.Errorf("%w: transpose order %v is not a permutation", ErrBadCodec, c.Order)
		}
		seen[o] = true
	}
	return nil
}

func (c *TransposeCodec) ResolveSpec(spec ArraySpec) ArraySpec {
	out := spec
	out.Shape = make([]int, len(c.Order))
	for i, o := range c.Order {
		out.Shape[i] = spec.Shape[o]
	}
	return out
}

func (c *TransposeCodec) EncodeArray(_ context.Context, in *buffer.NDBuffer) (*buffer.NDBuffer, error) {
	return in.Transpose(c.Order)
}

func (c *TransposeCodec) DecodeArray(_ context.Context, in *buffer.NDBuffer) (*buffer.NDBuffer, error) {
	inverse := make([]int, len(c.Order))
	for i, o := range c.Order {
		inverse[o] = i
	}
	return in.Transpose(inverse)
}
