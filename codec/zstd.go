package codec

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/zarrgo/zarr/buffer"
)

// ZstdCodec is a bytes->bytes compressor, grounded directly on the
// teacher's zarr/dataset.go "zstd" branch.
type ZstdCodec struct {
	baseCodec
	Level zstd.EncoderLevel
}

func NewZstdCodec(level int) *ZstdCodec {
	l := zstd.EncoderLevel(level)
	if l == 0 {
		l = zstd.SpeedDefault
	}
	return &ZstdCodec{Level: l}
}

func (c *ZstdCodec) Name() string { return "zstd" }
func (c *ZstdCodec) Kind() Kind { return KindBytesBytes }
func (c *ZstdCodec) Validate(spec ArraySpec) error { return nil }

func (c *ZstdCodec) EncodeBytes(_ context.Context, in *buffer.Bytes) (*buffer.Bytes, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.Level))
	if err != nil {
		return nil, fmt.Errorf("codec: zstd writer: %w", err)
	}
	defer enc.Close()
	return buffer.FromBytes(enc.EncodeAll(in.ToBytes(), nil)), nil
}

func (c *ZstdCodec) DecodeBytes(_ context.Context, in *buffer.Bytes) (*buffer.Bytes, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(in.ToBytes(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptData, err)
	}
	return buffer.FromBytes(out), nil
}
