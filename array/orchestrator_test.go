package array_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zarrgo/zarr/array"
	"github.com/zarrgo/zarr/buffer"
	"github.com/zarrgo/zarr/codec"
	"github.com/zarrgo/zarr/config"
	"github.com/zarrgo/zarr/index"
	"github.com/zarrgo/zarr/pipeline"
	"github.com/zarrgo/zarr/sharding"
	"github.com/zarrgo/zarr/store"
)

// mockPipeline wraps the default pipeline and counts traffic, standing in
// for a caller-registered pipeline implementation.
type mockPipeline struct {
	inner   pipeline.CodecPipeline
	encodes atomic.Int64
	decodes atomic.Int64
}

func (m *mockPipeline) Encode(ctx context.Context, nd *buffer.NDBuffer) (*buffer.Bytes, error) {
	m.encodes.Add(1)
	return m.inner.Encode(ctx, nd)
}

func (m *mockPipeline) Decode(ctx context.Context, raw *buffer.Bytes) (*buffer.NDBuffer, error) {
	m.decodes.Add(1)
	return m.inner.Decode(ctx, raw)
}

func (m *mockPipeline) SupportsPartialDecode() bool { return false }

var (
	lastMock     *mockPipeline
	registerMock sync.Once
)

func registerMockPipeline(t *testing.T) {
	t.Helper()
	registerMock.Do(func() {
		err := pipeline.Registry.Register(func() pipeline.Factory {
			return func(ctx context.Context, named []pipeline.NamedCodecConfig, spec codec.ArraySpec) (pipeline.CodecPipeline, error) {
				inner, err := pipeline.New(ctx, []codec.Codec{codec.NewBytesCodec("little")}, spec)
				if err != nil {
					return nil, err
				}
				lastMock = &mockPipeline{inner: inner}
				return lastMock, nil
			}
		}, "MockPipeline", "mock_pipeline")
		if err != nil {
			t.Fatalf("registering mock pipeline: %v", err)
		}
	})
}

func writeRange100(t *testing.T, a *array.Array) {
	t.Helper()
	full, err := index.Slice(0, 100, 1, 100)
	require.NoError(t, err)
	value := buffer.NewNDBuffer(buffer.Int32, []int{100}, buffer.OrderC)
	vals := make([]float64, 100)
	for i := range vals {
		vals[i] = float64(i)
	}
	require.NoError(t, value.SetFlat(vals))
	require.NoError(t, a.SetItem(context.Background(), []index.AxisSelector{full}, value))
}

// TestConfiguredPipelineRoutesWrites selects a registered pipeline through
// the codec_pipeline.name config key, then through its environment
// variable, and checks writes route through it both ways.
func TestConfiguredPipelineRoutesWrites(t *testing.T) {
	registerMockPipeline(t)
	ctx := context.Background()

	config.Default.Scoped("codec_pipeline.name", "MockPipeline", func() {
		s := store.NewMemStore()
		a, err := array.Create(ctx, s, "arr", []int{100}, []int{10}, buffer.Int32, 0, []codec.Codec{
			codec.NewBytesCodec("little"),
		})
		require.NoError(t, err)
		writeRange100(t, a)
		require.NotNil(t, lastMock)
		assert.Equal(t, int64(10), lastMock.encodes.Load())
	})

	lastMock = nil
	t.Setenv("ZARR_PYTHON_CODEC_PIPELINE__NAME", "MockPipeline")
	s := store.NewMemStore()
	a, err := array.Create(ctx, s, "arr", []int{100}, []int{10}, buffer.Int32, 0, []codec.Codec{
		codec.NewBytesCodec("little"),
	})
	require.NoError(t, err)
	writeRange100(t, a)
	require.NotNil(t, lastMock)
	assert.Equal(t, int64(10), lastMock.encodes.Load())
}

// TestWindowWriteLeavesSurroundingFill is the 9x9 uint16 scenario: a 3x3
// ones window at [1:4,3:6] over 5x5 chunks, everything else still fill.
func TestWindowWriteLeavesSurroundingFill(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	a, err := array.Create(ctx, s, "arr", []int{9, 9}, []int{5, 5}, buffer.Uint16, 0, []codec.Codec{
		codec.NewBytesCodec("little"),
	})
	require.NoError(t, err)

	rows, err := index.Slice(1, 4, 1, 9)
	require.NoError(t, err)
	cols, err := index.Slice(3, 6, 1, 9)
	require.NoError(t, err)
	ones := buffer.NewNDBuffer(buffer.Uint16, []int{3, 3}, buffer.OrderC)
	ones.Fill(1)
	require.NoError(t, a.SetItem(ctx, []index.AxisSelector{rows, cols}, ones))

	full, err := index.Slice(0, 9, 1, 9)
	require.NoError(t, err)
	out, err := a.GetItem(ctx, []index.AxisSelector{full, full})
	require.NoError(t, err)
	for r := 0; r < 9; r++ {
		for c := 0; c < 9; c++ {
			want := float64(0)
			if r >= 1 && r < 4 && c >= 3 && c < 6 {
				want = 1
			}
			assert.Equal(t, want, out.Flat()[r*9+c], "element (%d,%d)", r, c)
		}
	}
}

func TestScalarBroadcastWrite(t *testing.T) {
	ctx := context.Background()
	a := newTestArray(t)

	rows, err := index.Slice(0, 3, 1, 4)
	require.NoError(t, err)
	cols, err := index.Slice(1, 4, 1, 4)
	require.NoError(t, err)
	require.NoError(t, a.SetItem(ctx, []index.AxisSelector{rows, cols}, scalarValue(buffer.Float32, 7)))

	full, err := index.Slice(0, 4, 1, 4)
	require.NoError(t, err)
	out, err := a.GetItem(ctx, []index.AxisSelector{full, full})
	require.NoError(t, err)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			want := float64(0)
			if r < 3 && c >= 1 {
				want = 7
			}
			assert.Equal(t, want, out.Flat()[r*4+c], "element (%d,%d)", r, c)
		}
	}
}

func TestSetItemRejectsShapeMismatchedValue(t *testing.T) {
	ctx := context.Background()
	a := newTestArray(t)

	rows, err := index.Slice(0, 3, 1, 4)
	require.NoError(t, err)
	wrong := buffer.NewNDBuffer(buffer.Float32, []int{2, 2}, buffer.OrderC)
	err = a.SetItem(ctx, []index.AxisSelector{rows, rows}, wrong)
	assert.ErrorIs(t, err, index.ErrSelection)
}

// countingStore records how GetItem hits the store: full-object reads vs
// byte-range reads.
type countingStore struct {
	*store.MemStore
	fullReads  atomic.Int64
	rangeReads atomic.Int64
}

func (c *countingStore) Get(ctx context.Context, key string, byteRange *store.ByteRange) ([]byte, error) {
	if byteRange == nil {
		c.fullReads.Add(1)
	} else {
		c.rangeReads.Add(1)
	}
	return c.MemStore.Get(ctx, key, byteRange)
}

// TestShardedPartialReadIssuesTwoRangeReads: a getitem touching a single
// inner sub-chunk of a shard must issue exactly two byte-range reads (the
// index tail, then that sub-chunk's extent) and no full-shard read.
func TestShardedPartialReadIssuesTwoRangeReads(t *testing.T) {
	ctx := context.Background()
	cs := &countingStore{MemStore: store.NewMemStore()}

	shardCodec := sharding.New(
		[]int{2, 2},
		[]codec.Codec{codec.NewBytesCodec("little")},
		nil,
		sharding.IndexEnd,
	)
	a, err := array.Create(ctx, cs, "arr", []int{4, 4}, []int{4, 4}, buffer.Float32, 0.0, []codec.Codec{shardCodec})
	require.NoError(t, err)

	full, err := index.Slice(0, 4, 1, 4)
	require.NoError(t, err)
	value := buffer.NewNDBuffer(buffer.Float32, []int{4, 4}, buffer.OrderC)
	vals := make([]float64, 16)
	for i := range vals {
		vals[i] = float64(i + 1)
	}
	require.NoError(t, value.SetFlat(vals))
	require.NoError(t, a.SetItem(ctx, []index.AxisSelector{full, full}, value))

	cs.fullReads.Store(0)
	cs.rangeReads.Store(0)

	sub, err := index.Slice(0, 2, 1, 4)
	require.NoError(t, err)
	out, err := a.GetItem(ctx, []index.AxisSelector{sub, sub})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 5, 6}, out.Flat())
	assert.Equal(t, int64(0), cs.fullReads.Load())
	assert.Equal(t, int64(2), cs.rangeReads.Load())
}
