package codec

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/zarrgo/zarr/buffer"
)

// Crc32cCodec appends (on encode) or verifies and strips (on decode) a
// trailing little-endian CRC32C (Castagnoli) checksum. It is the
// bytes->bytes codec the sharding index_codecs chain commonly uses
// (§4.H). No third-party crc32c implementation appears anywhere in the
// retrieval pack, so this one use of the standard library's hash/crc32
// with the Castagnoli polynomial is deliberate — see DESIGN.md.
type Crc32cCodec struct {
	baseCodec
}

func NewCrc32cCodec() *Crc32cCodec { return &Crc32cCodec{} }

func (c *Crc32cCodec) Name() string { return "crc32c" }
func (c *Crc32cCodec) Kind() Kind { return KindBytesBytes }
func (c *Crc32cCodec) Validate(spec ArraySpec) error { return nil }

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

func (c *Crc32cCodec) EncodeBytes(_ context.Context, in *buffer.Bytes) (*buffer.Bytes, error) {
	data := in.ToBytes()
	sum := crc32.Checksum(data, castagnoliTable)
	out := make([]byte, len(data)+4)
	copy(out, data)
	binary.LittleEndian.PutUint32(out[len(data):], sum)
	return buffer.FromBytes(out), nil
}

func (c *Crc32cCodec) DecodeBytes(_ context.Context, in *buffer.Bytes) (*buffer.Bytes, error) {
	data := in.ToBytes()
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: crc32c: input too short", ErrCorruptData)
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	want := binary.LittleEndian.Uint32(trailer)
	got := crc32.Checksum(body, castagnoliTable)
	if got != want {
		return nil, fmt.Errorf("%w: crc32c mismatch: got %x want %x", ErrCorruptData, got, want)
	}
	return buffer.FromBytes(body), nil
}
