package array_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zarrgo/zarr/array"
	"github.com/zarrgo/zarr/buffer"
	"github.com/zarrgo/zarr/codec"
	"github.com/zarrgo/zarr/index"
	"github.com/zarrgo/zarr/sharding"
	"github.com/zarrgo/zarr/store"
)

func newTestArray(t *testing.T) *array.Array {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemStore()
	a, err := array.Create(ctx, s, "arr", []int{4, 4}, []int{2, 2}, buffer.Float32, 0.0, []codec.Codec{
		codec.NewBytesCodec("little"),
		codec.NewGzipCodec(0),
	})
	require.NoError(t, err)
	return a
}

func TestArrayCreateAndOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	_, err := array.Create(ctx, s, "arr", []int{4, 4}, []int{2, 2}, buffer.Float32, 0.0, []codec.Codec{
		codec.NewBytesCodec("little"),
	})
	require.NoError(t, err)

	opened, err := array.Open(ctx, s, "arr")
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, opened.Shape())
	assert.Equal(t, buffer.Float32, opened.DType())
}

func TestArrayGetItemOnEmptyArrayReturnsFillValue(t *testing.T) {
	ctx := context.Background()
	a := newTestArray(t)

	full, err := index.Slice(0, 4, 0, 4)
	require.NoError(t, err)
	out, err := a.GetItem(ctx, []index.AxisSelector{full, full})
	require.NoError(t, err)
	for _, v := range out.Flat() {
		assert.Equal(t, float64(0), v)
	}
}

func TestArraySetItemThenGetItemRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := newTestArray(t)

	full, err := index.Slice(0, 4, 0, 4)
	require.NoError(t, err)

	value := buffer.NewNDBuffer(buffer.Float32, []int{4, 4}, buffer.OrderC)
	vals := make([]float64, 16)
	for i := range vals {
		vals[i] = float64(i + 1)
	}
	require.NoError(t, value.SetFlat(vals))

	require.NoError(t, a.SetItem(ctx, []index.AxisSelector{full, full}, value))

	out, err := a.GetItem(ctx, []index.AxisSelector{full, full})
	require.NoError(t, err)
	assert.Equal(t, vals, out.Flat())
}

func TestArraySetItemPartialChunkPreservesRestOfChunk(t *testing.T) {
	ctx := context.Background()
	a := newTestArray(t)

	full, err := index.Slice(0, 4, 0, 4)
	require.NoError(t, err)
	value := buffer.NewNDBuffer(buffer.Float32, []int{4, 4}, buffer.OrderC)
	vals := make([]float64, 16)
	for i := range vals {
		vals[i] = float64(i + 1)
	}
	require.NoError(t, value.SetFlat(vals))
	require.NoError(t, a.SetItem(ctx, []index.AxisSelector{full, full}, value))

	row0, err := index.Slice(0, 1, 0, 4)
	require.NoError(t, err)
	col0, err := index.Slice(0, 1, 0, 4)
	require.NoError(t, err)

	single := buffer.NewNDBuffer(buffer.Float32, []int{1, 1}, buffer.OrderC)
	require.NoError(t, single.SetFlat([]float64{100}))
	require.NoError(t, a.SetItem(ctx, []index.AxisSelector{row0, col0}, single))

	out, err := a.GetItem(ctx, []index.AxisSelector{full, full})
	require.NoError(t, err)
	assert.Equal(t, float64(100), out.Flat()[0])
	// the rest of the (0,0) chunk (positions (0,1),(1,0),(1,1)) must survive
	// the partial write untouched.
	assert.Equal(t, float64(2), out.Flat()[1])
	assert.Equal(t, float64(5), out.Flat()[4])
	assert.Equal(t, float64(6), out.Flat()[5])
}

func TestArrayGetItemWithScalarSqueeze(t *testing.T) {
	ctx := context.Background()
	a := newTestArray(t)

	full, err := index.Slice(0, 4, 0, 4)
	require.NoError(t, err)
	value := buffer.NewNDBuffer(buffer.Float32, []int{4, 4}, buffer.OrderC)
	vals := make([]float64, 16)
	for i := range vals {
		vals[i] = float64(i)
	}
	require.NoError(t, value.SetFlat(vals))
	require.NoError(t, a.SetItem(ctx, []index.AxisSelector{full, full}, value))

	row := index.Scalar(2)
	out, err := a.GetItem(ctx, []index.AxisSelector{row, full})
	require.NoError(t, err)
	assert.Equal(t, []int{4}, out.Shape())
	assert.Equal(t, []float64{8, 9, 10, 11}, out.Flat())
}

func TestArrayResizeAllowsOutOfRangeReadsToReturnFill(t *testing.T) {
	ctx := context.Background()
	a := newTestArray(t)
	require.NoError(t, a.Resize(ctx, []int{6, 6}))
	assert.Equal(t, []int{6, 6}, a.Shape())

	full, err := index.Slice(0, 6, 0, 6)
	require.NoError(t, err)
	out, err := a.GetItem(ctx, []index.AxisSelector{full, full})
	require.NoError(t, err)
	assert.Equal(t, 36, out.NumElements())
	for _, v := range out.Flat() {
		assert.Equal(t, float64(0), v)
	}
}

func TestArrayUpdateAttributesPersists(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	a, err := array.Create(ctx, s, "arr", []int{2, 2}, []int{2, 2}, buffer.Float32, 0.0, []codec.Codec{
		codec.NewBytesCodec("little"),
	})
	require.NoError(t, err)

	require.NoError(t, a.UpdateAttributes(ctx, map[string]any{"units": "meters"}))

	reopened, err := array.Open(ctx, s, "arr")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, reopened.Shape())

	raw, err := s.Get(ctx, "arr/zarr.json", nil)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "meters")
}

// TestArrayShardingRoundTripThroughFacade exercises §4.H end-to-end: a
// shard per 4x4 outer chunk packs a 2x2 grid of 2x2 inner sub-chunks, and
// the sharding codec must be resolvable purely from the zarr.json codecs[]
// entry written by Create, round-tripping through Open (§8 "re-opening an
// array ... yields the same values").
func TestArrayShardingRoundTripThroughFacade(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	shardCodec := sharding.New(
		[]int{2, 2},
		[]codec.Codec{codec.NewBytesCodec("little")},
		[]codec.Codec{codec.NewCrc32cCodec()},
		sharding.IndexEnd,
	)
	_, err := array.Create(ctx, s, "arr", []int{4, 4}, []int{4, 4}, buffer.Float32, 0.0, []codec.Codec{shardCodec})
	require.NoError(t, err)

	opened, err := array.Open(ctx, s, "arr")
	require.NoError(t, err)

	full, err := index.Slice(0, 4, 0, 4)
	require.NoError(t, err)
	value := buffer.NewNDBuffer(buffer.Float32, []int{4, 4}, buffer.OrderC)
	vals := make([]float64, 16)
	for i := range vals {
		vals[i] = float64(i + 1)
	}
	require.NoError(t, value.SetFlat(vals))
	require.NoError(t, opened.SetItem(ctx, []index.AxisSelector{full, full}, value))

	out, err := opened.GetItem(ctx, []index.AxisSelector{full, full})
	require.NoError(t, err)
	assert.Equal(t, vals, out.Flat())

	reopened, err := array.Open(ctx, s, "arr")
	require.NoError(t, err)
	out2, err := reopened.GetItem(ctx, []index.AxisSelector{full, full})
	require.NoError(t, err)
	assert.Equal(t, vals, out2.Flat())
}

func TestArrayCreateRejectsReadOnlyStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	s.SetMode(store.ReadOnly)
	_, err := array.Create(ctx, s, "arr", []int{2, 2}, []int{2, 2}, buffer.Float32, 0.0, []codec.Codec{
		codec.NewBytesCodec("little"),
	})
	assert.ErrorIs(t, err, store.ErrReadOnly)
}
