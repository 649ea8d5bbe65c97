package sharding_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zarrgo/zarr/buffer"
	"github.com/zarrgo/zarr/codec"
	"github.com/zarrgo/zarr/sharding"
)

func outerSpec() codec.ArraySpec {
	return codec.ArraySpec{Shape: []int{4, 4}, DType: buffer.Float32, Order: buffer.OrderC}
}

func evolvedCodec(t *testing.T, location sharding.IndexLocation) *sharding.Codec {
	t.Helper()
	c := sharding.New(
		[]int{2, 2},
		[]codec.Codec{codec.NewBytesCodec("little")},
		[]codec.Codec{codec.NewCrc32cCodec()},
		location,
	)
	evolved, err := c.EvolveFromArraySpec(outerSpec())
	require.NoError(t, err)
	sc, ok := evolved.(*sharding.Codec)
	require.True(t, ok)
	return sc
}

func TestShardingRoundTripEndIndex(t *testing.T) {
	ctx := context.Background()
	c := evolvedCodec(t, sharding.IndexEnd)

	nd := buffer.NewNDBuffer(buffer.Float32, []int{4, 4}, buffer.OrderC)
	vals := make([]float64, 16)
	for i := range vals {
		vals[i] = float64(i + 1)
	}
	require.NoError(t, nd.SetFlat(vals))

	encoded, err := c.EncodeArrayToBytes(ctx, nd)
	require.NoError(t, err)

	decoded, err := c.DecodeBytesToArray(ctx, encoded, outerSpec())
	require.NoError(t, err)
	assert.Equal(t, nd.Flat(), decoded.Flat())
}

func TestShardingRoundTripStartIndex(t *testing.T) {
	ctx := context.Background()
	c := evolvedCodec(t, sharding.IndexStart)

	nd := buffer.NewNDBuffer(buffer.Float32, []int{4, 4}, buffer.OrderC)
	vals := make([]float64, 16)
	for i := range vals {
		vals[i] = float64(i)
	}
	require.NoError(t, nd.SetFlat(vals))

	encoded, err := c.EncodeArrayToBytes(ctx, nd)
	require.NoError(t, err)

	decoded, err := c.DecodeBytesToArray(ctx, encoded, outerSpec())
	require.NoError(t, err)
	assert.Equal(t, nd.Flat(), decoded.Flat())
}

func TestShardingEmptySubChunksProduceFillOnRead(t *testing.T) {
	ctx := context.Background()
	c := evolvedCodec(t, sharding.IndexEnd)

	nd := buffer.NewNDBuffer(buffer.Float32, []int{4, 4}, buffer.OrderC)

	encoded, err := c.EncodeArrayToBytes(ctx, nd)
	require.NoError(t, err)

	spec := outerSpec()
	spec.FillValue = 9
	decoded, err := c.DecodeBytesToArray(ctx, encoded, spec)
	require.NoError(t, err)
	for _, v := range decoded.Flat() {
		assert.Equal(t, float64(9), v)
	}
}

func TestShardingValidateRejectsNonDividingInnerShape(t *testing.T) {
	c := sharding.New([]int{3, 3}, []codec.Codec{codec.NewBytesCodec("little")}, nil, sharding.IndexEnd)
	err := c.Validate(outerSpec())
	assert.ErrorIs(t, err, codec.ErrBadCodec)
}

func TestShardingDecodeRejectsShortShard(t *testing.T) {
	ctx := context.Background()
	c := evolvedCodec(t, sharding.IndexEnd)
	_, err := c.DecodeBytesToArray(ctx, buffer.FromBytes([]byte{1, 2, 3}), outerSpec())
	assert.ErrorIs(t, err, sharding.ErrCorruptShard)
}

func TestShardingDecodePartialFromReadsIndexAndOneSubChunk(t *testing.T) {
	ctx := context.Background()
	c := evolvedCodec(t, sharding.IndexEnd)

	nd := buffer.NewNDBuffer(buffer.Float32, []int{4, 4}, buffer.OrderC)
	vals := make([]float64, 16)
	for i := range vals {
		vals[i] = float64(i + 1)
	}
	require.NoError(t, nd.SetFlat(vals))

	encoded, err := c.EncodeArrayToBytes(ctx, nd)
	require.NoError(t, err)
	shard := encoded.ToBytes()

	reads := 0
	src := func(_ context.Context, offset, length int64) ([]byte, error) {
		reads++
		if offset < 0 {
			offset += int64(len(shard))
		}
		return shard[offset : offset+length], nil
	}

	wanted := func(subCoords []int) bool { return subCoords[0] == 1 && subCoords[1] == 1 }
	spec := outerSpec()
	spec.FillValue = -1
	out, err := c.DecodePartialFrom(ctx, src, spec, wanted)
	require.NoError(t, err)
	require.Equal(t, 2, reads) // index tail, then the one sub-chunk

	// sub-chunk (1,1) covers rows 2-3, cols 2-3; everything else is fill.
	for r := 0; r < 4; r++ {
		for cc := 0; cc < 4; cc++ {
			want := float64(-1)
			if r >= 2 && cc >= 2 {
				want = vals[r*4+cc]
			}
			assert.Equal(t, want, out.Flat()[r*4+cc], "element (%d,%d)", r, cc)
		}
	}
}

func TestShardingDecodePartialFromAbsentShard(t *testing.T) {
	ctx := context.Background()
	c := evolvedCodec(t, sharding.IndexEnd)
	src := func(_ context.Context, _, _ int64) ([]byte, error) { return nil, nil }
	out, err := c.DecodePartialFrom(ctx, src, outerSpec(), nil)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestIndexByteRangeLocatesTailIndex(t *testing.T) {
	ctx := context.Background()
	c := evolvedCodec(t, sharding.IndexEnd)

	nd := buffer.NewNDBuffer(buffer.Float32, []int{4, 4}, buffer.OrderC)
	vals := make([]float64, 16)
	for i := range vals {
		vals[i] = float64(i)
	}
	require.NoError(t, nd.SetFlat(vals))

	encoded, err := c.EncodeArrayToBytes(ctx, nd)
	require.NoError(t, err)

	offset, length, err := c.IndexByteRange(ctx, int64(encoded.Len()))
	require.NoError(t, err)
	assert.Equal(t, int64(encoded.Len())-length, offset)
	assert.Greater(t, length, int64(0))
}
