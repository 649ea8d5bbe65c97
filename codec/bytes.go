package codec

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/zarrgo/zarr/buffer"
)

// BytesCodec is the mandatory array->bytes codec (§6): it serializes an
// NDBuffer to its raw byte representation in a configured endianness and
// back. "endian" is an accepted alias per §9's open question; new metadata
// should only ever emit "bytes".
type BytesCodec struct {
	baseCodec
	Endian binary.ByteOrder
	name   string
}

// NewBytesCodec builds the codec for the given endianness ("little" or
// "big"); an empty string defaults to little-endian.
func NewBytesCodec(endian string) *BytesCodec {
	bo := binary.ByteOrder(binary.LittleEndian)
	if endian == "big" {
		bo = binary.BigEndian
	}
	return &BytesCodec{Endian: bo, name: "bytes"}
}

// NewEndianCodec is the §9-flagged compatibility alias for NewBytesCodec.
func NewEndianCodec(endian string) *BytesCodec {
	c := NewBytesCodec(endian)
	c.name = "endian"
	return c
}

func (c *BytesCodec) Name() string { return c.name }
func (c *BytesCodec) Kind() Kind { return KindArrayBytes }

func (c *BytesCodec) Validate(spec ArraySpec) error {
	if spec.DType.HasEndianness() && c.Endian == nil {
		return fmt.Errorf("%w: bytes codec requires an endianness for dtype %s", ErrBadCodec, spec.DType.Name())
	}
	return nil
}

func (c *BytesCodec) EncodeArrayToBytes(_ context.Context, in *buffer.NDBuffer) (*buffer.Bytes, error) {
	return in.ToBytes(c.Endian)
}

func (c *BytesCodec) DecodeBytesToArray(_ context.Context, in *buffer.Bytes, spec ArraySpec) (*buffer.NDBuffer, error) {
	return buffer.FromRawBytes(in.ToBytes(), spec.DType, spec.Shape, spec.Order, c.Endian)
}

func (c *BytesCodec) SupportsPartialDecode() bool { return false }
func (c *BytesCodec) SupportsPartialEncode() bool { return false }
