package meta

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/zarrgo/zarr/buffer"
)

// NamedConfig is the {name, configuration} shape used throughout v3
// metadata for chunk_grid, chunk_key_encoding and each codec entry.
type NamedConfig struct {
	Name          string         `json:"name"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// V3Metadata is the zarr.json document (§6).
type V3Metadata struct {
	ZarrFormat        int               `json:"zarr_format"`
	NodeType          string            `json:"node_type"`
	Shape             []int             `json:"shape"`
	DataType          string            `json:"data_type"`
	ChunkGrid         NamedConfig       `json:"chunk_grid"`
	ChunkKeyEncoding  NamedConfig       `json:"chunk_key_encoding"`
	FillValueRaw      any               `json:"fill_value"`
	Codecs            []NamedConfig     `json:"codecs"`
	Attributes        map[string]any    `json:"attributes,omitempty"`
	DimensionNames    []*string         `json:"dimension_names,omitempty"`
}

// ChunkShape extracts chunk_grid.configuration.chunk_shape as []int.
func (m *V3Metadata) ChunkShape() ([]int, error) {
	if m.ChunkGrid.Name != "regular" {
		return nil, fmt.Errorf("%w: unsupported chunk_grid %q", ErrBadMetadata, m.ChunkGrid.Name)
	}
	raw, ok := m.ChunkGrid.Configuration["chunk_shape"]
	if !ok {
		return nil, fmt.Errorf("%w: chunk_grid.configuration missing chunk_shape", ErrBadMetadata)
	}
	return toIntSlice(raw)
}

// KeySeparator extracts chunk_key_encoding.configuration.separator,
// defaulting to "/" for the default encoding and "." for the v2 encoding.
func (m *V3Metadata) KeySeparator() (string, error) {
	switch m.ChunkKeyEncoding.Name {
	case "default":
		if sep, ok := m.ChunkKeyEncoding.Configuration["separator"].(string); ok {
			return sep, nil
		}
		return "/", nil
	case "v2":
		if sep, ok := m.ChunkKeyEncoding.Configuration["separator"].(string); ok {
			return sep, nil
		}
		return ".", nil
	default:
		return "", fmt.Errorf("%w: unsupported chunk_key_encoding %q", ErrBadMetadata, m.ChunkKeyEncoding.Name)
	}
}

// ParsedDType resolves data_type to a buffer.DType.
func (m *V3Metadata) ParsedDType() (buffer.DType, error) {
	d, err := buffer.ParseWireName(m.DataType)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadMetadata, err)
	}
	return d, nil
}

// ParsedFillValue resolves FillValueRaw against the array's dtype.
func (m *V3Metadata) ParsedFillValue() (FillValue, error) {
	dtype, err := m.ParsedDType()
	if err != nil {
		return FillValue{}, err
	}
	return ParseFillValue(m.FillValueRaw, dtype)
}

// LoadV3Metadata reads and validates a zarr.json document.
func LoadV3Metadata(r io.Reader) (*V3Metadata, error) {
	var m V3Metadata
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: failed to decode zarr.json: %v", ErrBadMetadata, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate enforces the §3 invariants that don't require the codec
// registry (partitioning into array->array/array->bytes/bytes->bytes is
// validated by the pipeline package, which owns codec construction).
func (m *V3Metadata) Validate() error {
	if m.ZarrFormat != 3 {
		return fmt.Errorf("%w: unsupported zarr_format %d, expected 3", ErrBadMetadata, m.ZarrFormat)
	}
	if m.NodeType != "array" {
		return fmt.Errorf("%w: node_type must be \"array\", got %q", ErrBadMetadata, m.NodeType)
	}
	chunkShape, err := m.ChunkShape()
	if err != nil {
		return err
	}
	if len(chunkShape) != len(m.Shape) {
		return fmt.Errorf("%w: chunk_shape and shape need the same number of dimensions", ErrBadMetadata)
	}
	if m.DimensionNames != nil && len(m.DimensionNames) != len(m.Shape) {
		return fmt.Errorf("%w: dimension_names and shape need the same number of dimensions", ErrBadMetadata)
	}
	if m.FillValueRaw == nil {
		return fmt.Errorf("%w: fill_value is required", ErrBadMetadata)
	}
	if len(m.Codecs) == 0 {
		return fmt.Errorf("%w: codecs must not be empty", ErrBadCodec)
	}
	if _, err := m.ParsedFillValue(); err != nil {
		return err
	}
	return nil
}

// Encode serializes m to the zarr.json wire form, pre-replacing NaN/Inf in
// the fill value the way _replace_special_floats / V3JsonEncoder do, since
// the stdlib encoder rejects non-finite floats outright.
func (m *V3Metadata) Encode(indent int) ([]byte, error) {
	fv, err := m.ParsedFillValue()
	if err != nil {
		return nil, err
	}
	clone := *m
	clone.FillValueRaw = fv.ToJSONValue()
	if len(clone.Attributes) == 0 {
		clone.Attributes = nil
	}
	ind := ""
	for i := 0; i < indent; i++ {
		ind += " "
	}
	return json.MarshalIndent(&clone, "", ind)
}

func toIntSlice(raw any) ([]int, error) {
	switch v := raw.(type) {
	case []int:
		return v, nil
	case []any:
		out := make([]int, len(v))
		for i, x := range v {
			f, ok := x.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: expected numeric chunk_shape element, got %T", ErrBadMetadata, x)
			}
			out[i] = int(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot parse chunk_shape of type %T", ErrBadMetadata, raw)
	}
}

// NewRegularChunkGrid builds the chunk_grid NamedConfig for the given
// chunk shape.
func NewRegularChunkGrid(chunkShape []int) NamedConfig {
	dims := make([]any, len(chunkShape))
	for i, d := range chunkShape {
		dims[i] = d
	}
	return NamedConfig{Name: "regular", Configuration: map[string]any{"chunk_shape": dims}}
}

// NewDefaultChunkKeyEncoding builds the v3 "default" chunk_key_encoding
// with the given separator ("/" unless overridden).
func NewDefaultChunkKeyEncoding(separator string) NamedConfig {
	if separator == "" {
		separator = "/"
	}
	return NamedConfig{Name: "default", Configuration: map[string]any{"separator": separator}}
}

// NewV2ChunkKeyEncoding builds the v3-expressed "v2" chunk_key_encoding
// (dot-separated, no "c" prefix), used when importing a v2 array shape.
func NewV2ChunkKeyEncoding(separator string) NamedConfig {
	if separator == "" {
		separator = "."
	}
	return NamedConfig{Name: "v2", Configuration: map[string]any{"separator": separator}}
}
