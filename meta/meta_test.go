package meta_test

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zarrgo/zarr/buffer"
	"github.com/zarrgo/zarr/meta"
)

func TestLoadV2Metadata(t *testing.T) {
	doc := `{
		"zarr_format": 2,
		"shape": [128, 128],
		"chunks": [64, 64],
		"dtype": "<f4",
		"compressor": null,
		"fill_value": 0.0,
		"order": "C"
	}`
	m, err := meta.LoadV2Metadata(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, []int{128, 128}, m.Shape)
	require.Equal(t, ".", m.Separator())
}

func TestV2MetadataRejectsMismatchedDims(t *testing.T) {
	doc := `{"zarr_format":2,"shape":[10],"chunks":[5,5],"dtype":"<i4","fill_value":0,"order":"C"}`
	_, err := meta.LoadV2Metadata(strings.NewReader(doc))
	require.ErrorIs(t, err, meta.ErrBadMetadata)
}

func TestLoadV3Metadata(t *testing.T) {
	doc := `{
		"zarr_format": 3,
		"node_type": "array",
		"shape": [20, 3],
		"data_type": "float64",
		"chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [3, 2]}},
		"chunk_key_encoding": {"name": "default", "configuration": {"separator": "/"}},
		"fill_value": "NaN",
		"codecs": [{"name": "bytes", "configuration": {"endian": "little"}}]
	}`
	m, err := meta.LoadV3Metadata(strings.NewReader(doc))
	require.NoError(t, err)
	fv, err := m.ParsedFillValue()
	require.NoError(t, err)
	require.True(t, math.IsNaN(fv.Real))

	chunkShape, err := m.ChunkShape()
	require.NoError(t, err)
	require.Equal(t, []int{3, 2}, chunkShape)

	sep, err := m.KeySeparator()
	require.NoError(t, err)
	require.Equal(t, "/", sep)
}

func TestV3MetadataRoundTrip(t *testing.T) {
	m := &meta.V3Metadata{
		ZarrFormat:       3,
		NodeType:         "array",
		Shape:            []int{4},
		DataType:         "float32",
		ChunkGrid:        meta.NewRegularChunkGrid([]int{2}),
		ChunkKeyEncoding: meta.NewDefaultChunkKeyEncoding(""),
		FillValueRaw:     "Infinity",
		Codecs:           []meta.NamedConfig{{Name: "bytes"}},
	}
	require.NoError(t, m.Validate())

	encoded, err := m.Encode(2)
	require.NoError(t, err)
	require.Contains(t, string(encoded), `"Infinity"`)

	reloaded, err := meta.LoadV3Metadata(strings.NewReader(string(encoded)))
	require.NoError(t, err)
	fv, err := reloaded.ParsedFillValue()
	require.NoError(t, err)
	require.True(t, math.IsInf(fv.Real, 1))
}

func TestV3MetadataEmptyCodecsRejected(t *testing.T) {
	m := &meta.V3Metadata{
		ZarrFormat:       3,
		NodeType:         "array",
		Shape:            []int{4},
		DataType:         "int32",
		ChunkGrid:        meta.NewRegularChunkGrid([]int{2}),
		ChunkKeyEncoding: meta.NewDefaultChunkKeyEncoding(""),
		FillValueRaw:     0,
		Codecs:           nil,
	}
	require.ErrorIs(t, m.Validate(), meta.ErrBadCodec)
}

func TestComplexFillValueRoundTrip(t *testing.T) {
	m := &meta.V3Metadata{
		ZarrFormat:       3,
		NodeType:         "array",
		Shape:            []int{4},
		DataType:         "complex128",
		ChunkGrid:        meta.NewRegularChunkGrid([]int{2}),
		ChunkKeyEncoding: meta.NewDefaultChunkKeyEncoding(""),
		FillValueRaw:     []any{1.0, 2.0},
		Codecs:           []meta.NamedConfig{{Name: "bytes"}},
	}
	require.NoError(t, m.Validate())

	encoded, err := m.Encode(2)
	require.NoError(t, err)

	reloaded, err := meta.LoadV3Metadata(strings.NewReader(string(encoded)))
	require.NoError(t, err)
	fv, err := reloaded.ParsedFillValue()
	require.NoError(t, err)
	require.Equal(t, 1.0, fv.Real)
	require.Equal(t, 2.0, fv.Imag)
}

func TestV2MetadataNaNFillSerializesAsString(t *testing.T) {
	m := &meta.V2Metadata{
		ZarrFormat:   2,
		Shape:        []int{4},
		Chunks:       []int{2},
		DType:        "<f8",
		FillValueRaw: "NaN",
		Order:        "C",
	}
	encoded, err := m.Encode()
	require.NoError(t, err)
	require.Contains(t, string(encoded), `"NaN"`)

	reloaded, err := meta.LoadV2Metadata(strings.NewReader(string(encoded)))
	require.NoError(t, err)
	fv, err := reloaded.ParsedFillValue()
	require.NoError(t, err)
	require.True(t, math.IsNaN(fv.Real))
}

func TestParseFillValueInteger(t *testing.T) {
	_, err := meta.ParseFillValue(300.0, buffer.Uint8)
	require.Error(t, err)

	fv, err := meta.ParseFillValue(255.0, buffer.Uint8)
	require.NoError(t, err)
	require.Equal(t, float64(255), fv.Real)
}

func TestParseFillValueComplex(t *testing.T) {
	fv, err := meta.ParseFillValue([]any{1.0, 2.0}, buffer.Complex128)
	require.NoError(t, err)
	require.Equal(t, 1.0, fv.Real)
	require.Equal(t, 2.0, fv.Imag)
}
