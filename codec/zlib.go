package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/zarrgo/zarr/buffer"
)

// ZlibCodec is a bytes->bytes compressor for the numcodecs "zlib" id that
// v2 arrays commonly carry, using the same klauspost/compress vendor as
// the gzip and zstd codecs.
type ZlibCodec struct {
	baseCodec
	Level int
}

func NewZlibCodec(level int) *ZlibCodec {
	if level == 0 {
		level = zlib.DefaultCompression
	}
	return &ZlibCodec{Level: level}
}

func (c *ZlibCodec) Name() string { return "zlib" }
func (c *ZlibCodec) Kind() Kind { return KindBytesBytes }
func (c *ZlibCodec) Validate(spec ArraySpec) error { return nil }

func (c *ZlibCodec) EncodeBytes(_ context.Context, in *buffer.Bytes) (*buffer.Bytes, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.Level)
	if err != nil {
		return nil, fmt.Errorf("codec: zlib writer: %w", err)
	}
	if _, err := w.Write(in.ToBytes()); err != nil {
		return nil, fmt.Errorf("codec: zlib encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: zlib encode: %w", err)
	}
	return buffer.FromBytes(buf.Bytes()), nil
}

func (c *ZlibCodec) DecodeBytes(_ context.Context, in *buffer.Bytes) (*buffer.Bytes, error) {
	r, err := zlib.NewReader(bytes.NewReader(in.ToBytes()))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", ErrCorruptData, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", ErrCorruptData, err)
	}
	return buffer.FromBytes(out), nil
}
