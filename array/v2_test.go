package array_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zarrgo/zarr/array"
	"github.com/zarrgo/zarr/buffer"
	"github.com/zarrgo/zarr/index"
	"github.com/zarrgo/zarr/meta"
	"github.com/zarrgo/zarr/store"
)

func scalarValue(dtype buffer.DType, v float64) *buffer.NDBuffer {
	nd := buffer.NewNDBuffer(dtype, nil, buffer.OrderC)
	nd.Fill(v)
	return nd
}

func setScalar(t *testing.T, a *array.Array, row, col int, v float64) {
	t.Helper()
	err := a.SetItem(context.Background(), []index.AxisSelector{index.Scalar(row), index.Scalar(col)}, scalarValue(a.DType(), v))
	require.NoError(t, err)
}

func getScalar(t *testing.T, a *array.Array, row, col int) float64 {
	t.Helper()
	out, err := a.GetItem(context.Background(), []index.AxisSelector{index.Scalar(row), index.Scalar(col)})
	require.NoError(t, err)
	return out.Flat()[0]
}

// TestV2ShardedArrayEndToEnd drives a v2 array with the indexed sharding
// extension: shape (20,3), chunks (3,2) packed 2x2 per shard, float64,
// fill 0, no compressor. Checks the stored object keys, the binary layout
// of shard "0.0"'s end-located index, and the values after reopening.
func TestV2ShardedArrayEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	a, err := array.CreateV2(ctx, s, "", &meta.V2Metadata{
		ZarrFormat:   2,
		Shape:        []int{20, 3},
		Chunks:       []int{3, 2},
		DType:        "<f8",
		FillValueRaw: 0.0,
		Order:        "C",
		Shards:       []int{2, 2},
		ShardFormat:  "indexed",
	})
	require.NoError(t, err)

	rows, err := index.Slice(0, 10, 1, 20)
	require.NoError(t, err)
	cols, err := index.Slice(0, 3, 1, 3)
	require.NoError(t, err)
	require.NoError(t, a.SetItem(ctx, []index.AxisSelector{rows, cols}, scalarValue(a.DType(), 42)))
	setScalar(t, a, 15, 1, 389)
	setScalar(t, a, 19, 2, 1)
	setScalar(t, a, 0, 1, -4.2)

	keys, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{".zarray", "0.0", "1.0", "2.0", "3.0"}, keys)

	// Shard "0.0" covers rows 0-5, cols 0-3 (clipped to 3): a 2x2 inner grid
	// of 3x2 float64 chunks, 48 bytes each, all written, index at the end.
	shard, err := s.Get(ctx, "0.0", nil)
	require.NoError(t, err)
	require.Len(t, shard, 4*48+4*16)
	idx := shard[len(shard)-64:]
	wantPairs := [][2]uint64{{0, 48}, {48, 48}, {96, 48}, {144, 48}}
	for i, want := range wantPairs {
		offset := binary.LittleEndian.Uint64(idx[i*16:])
		length := binary.LittleEndian.Uint64(idx[i*16+8:])
		assert.Equal(t, want[0], offset, "entry %d offset", i)
		assert.Equal(t, want[1], length, "entry %d length", i)
	}

	reopened, err := array.OpenV2(ctx, s, "")
	require.NoError(t, err)
	assert.Equal(t, float64(389), getScalar(t, reopened, 15, 1))
	assert.Equal(t, float64(1), getScalar(t, reopened, 19, 2))
	assert.Equal(t, float64(-4.2), getScalar(t, reopened, 0, 1))
	assert.Equal(t, float64(42), getScalar(t, reopened, 0, 0))
	assert.Equal(t, float64(0), getScalar(t, reopened, 12, 0))
}

func TestV2PlainArrayRoundTripWithCompressor(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	a, err := array.CreateV2(ctx, s, "v2arr", &meta.V2Metadata{
		ZarrFormat:   2,
		Shape:        []int{6, 6},
		Chunks:       []int{3, 3},
		DType:        "<i4",
		Compressor:   &meta.CompressorConfigV2{ID: "zlib", Clevel: 5},
		FillValueRaw: 0,
		Order:        "C",
	})
	require.NoError(t, err)

	full, err := index.Slice(0, 6, 1, 6)
	require.NoError(t, err)
	value := buffer.NewNDBuffer(buffer.Int32, []int{6, 6}, buffer.OrderC)
	vals := make([]float64, 36)
	for i := range vals {
		vals[i] = float64(i - 5)
	}
	require.NoError(t, value.SetFlat(vals))
	require.NoError(t, a.SetItem(ctx, []index.AxisSelector{full, full}, value))

	reopened, err := array.OpenV2(ctx, s, "v2arr")
	require.NoError(t, err)
	out, err := reopened.GetItem(ctx, []index.AxisSelector{full, full})
	require.NoError(t, err)
	assert.Equal(t, vals, out.Flat())
}

func TestV2FOrderArraySerializesColumnMajor(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	a, err := array.CreateV2(ctx, s, "f", &meta.V2Metadata{
		ZarrFormat:   2,
		Shape:        []int{2, 3},
		Chunks:       []int{2, 3},
		DType:        "<f8",
		FillValueRaw: 0.0,
		Order:        "F",
	})
	require.NoError(t, err)

	rows, err := index.Slice(0, 2, 1, 2)
	require.NoError(t, err)
	cols, err := index.Slice(0, 3, 1, 3)
	require.NoError(t, err)
	value := buffer.NewNDBuffer(buffer.Float64, []int{2, 3}, buffer.OrderC)
	require.NoError(t, value.SetFlat([]float64{1, 2, 3, 4, 5, 6}))
	require.NoError(t, a.SetItem(ctx, []index.AxisSelector{rows, cols}, value))

	raw, err := s.Get(ctx, "f/0.0", nil)
	require.NoError(t, err)
	require.Len(t, raw, 48)
	wantOrder := []float64{1, 4, 2, 5, 3, 6} // column-major walk of the chunk
	for i, want := range wantOrder {
		got, err := buffer.Float64.GetScalar(binary.LittleEndian, raw[i*8:i*8+8])
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	out, err := a.GetItem(ctx, []index.AxisSelector{rows, cols})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, out.Flat())
}

func TestV2RejectsUnknownCompressor(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	_, err := array.CreateV2(ctx, s, "bad", &meta.V2Metadata{
		ZarrFormat:   2,
		Shape:        []int{4},
		Chunks:       []int{2},
		DType:        "<f4",
		Compressor:   &meta.CompressorConfigV2{ID: "lzma"},
		FillValueRaw: 0.0,
		Order:        "C",
	})
	require.Error(t, err)
}
