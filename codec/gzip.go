package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/zarrgo/zarr/buffer"
)

// GzipCodec is a bytes->bytes compressor using klauspost/compress's gzip
// implementation, the same vendor this module already depends on for zstd.
type GzipCodec struct {
	baseCodec
	Level int
}

func NewGzipCodec(level int) *GzipCodec {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	return &GzipCodec{Level: level}
}

func (c *GzipCodec) Name() string { return "gzip" }
func (c *GzipCodec) Kind() Kind { return KindBytesBytes }
func (c *GzipCodec) Validate(spec ArraySpec) error { return nil }

func (c *GzipCodec) EncodeBytes(_ context.Context, in *buffer.Bytes) (*buffer.Bytes, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.Level)
	if err != nil {
		return nil, fmt.Errorf("codec: gzip writer: %w", err)
	}
	if _, err := w.Write(in.ToBytes()); err != nil {
		return nil, fmt.Errorf("codec: gzip encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: gzip encode: %w", err)
	}
	return buffer.FromBytes(buf.Bytes()), nil
}

func (c *GzipCodec) DecodeBytes(_ context.Context, in *buffer.Bytes) (*buffer.Bytes, error) {
	r, err := gzip.NewReader(bytes.NewReader(in.ToBytes()))
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrCorruptData, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %v", ErrCorruptData, err)
	}
	return buffer.FromBytes(out), nil
}
