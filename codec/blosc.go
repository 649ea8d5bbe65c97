package codec

import (
	"context"
	"fmt"

	blosc "github.com/mrjoshuak/go-blosc"

	"github.com/zarrgo/zarr/buffer"
)

// BloscCodec is a bytes->bytes compressor, grounded directly on the
// teacher's reader.go "blosc" branch (there decode-only; generalized here
// to a full encode/decode bytes->bytes codec).
type BloscCodec struct {
	baseCodec
	Cname    string
	Clevel   int
	Shuffle  int
	TypeSize int
}

func NewBloscCodec(cname string, clevel, shuffle, typeSize int) *BloscCodec {
	if cname == "" {
		cname = "lz4"
	}
	if clevel == 0 {
		clevel = 5
	}
	if typeSize == 0 {
		typeSize = 1
	}
	return &BloscCodec{Cname: cname, Clevel: clevel, Shuffle: shuffle, TypeSize: typeSize}
}

func (c *BloscCodec) Name() string { return "blosc" }
func (c *BloscCodec) Kind() Kind { return KindBytesBytes }
func (c *BloscCodec) Validate(spec ArraySpec) error { return nil }

func (c *BloscCodec) EncodeBytes(_ context.Context, in *buffer.Bytes) (*buffer.Bytes, error) {
	out, err := blosc.Compress(in.ToBytes(), c.TypeSize, blosc.CompressionLevel(c.Clevel), c.Cname)
	if err != nil {
		return nil, fmt.Errorf("codec: blosc encode: %w", err)
	}
	return buffer.FromBytes(out), nil
}

func (c *BloscCodec) DecodeBytes(_ context.Context, in *buffer.Bytes) (*buffer.Bytes, error) {
	out, err := blosc.Decompress(in.ToBytes())
	if err != nil {
		return nil, fmt.Errorf("%w: blosc: %v", ErrCorruptData, err)
	}
	return buffer.FromBytes(out), nil
}
