package meta

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/zarrgo/zarr/buffer"
)

// CompressorConfigV2 is the numcodecs-style compressor/filter descriptor
// used by both `compressor` and each entry of `filters` in .zarray.
type CompressorConfigV2 struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
}

// V2Metadata is the .zarray document (§6): shape, chunks, dtype,
// compressor/filters, fill value, order, dimension_separator and the
// optional sharding extension flagged ambiguous by §9.
type V2Metadata struct {
	ZarrFormat         int                  `json:"zarr_format"`
	Shape              []int                `json:"shape"`
	Chunks             []int                `json:"chunks"`
	DType              string               `json:"dtype"`
	Compressor         *CompressorConfigV2  `json:"compressor"`
	Filters            []CompressorConfigV2 `json:"filters,omitempty"`
	FillValueRaw       any                  `json:"fill_value"`
	Order              string               `json:"order"`
	DimensionSeparator string               `json:"dimension_separator,omitempty"`
	Shards             []int                `json:"shards,omitempty"`
	ShardFormat        string               `json:"shard_format,omitempty"`

	Attributes map[string]any `json:"-"`
}

// ParsedDType resolves the wire dtype string to a buffer.DType.
func (m *V2Metadata) ParsedDType() (buffer.DType, error) {
	d, err := buffer.ParseWireName(m.DType)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadMetadata, err)
	}
	return d, nil
}

// ParsedFillValue resolves FillValueRaw against the array's dtype.
func (m *V2Metadata) ParsedFillValue() (FillValue, error) {
	dtype, err := m.ParsedDType()
	if err != nil {
		return FillValue{}, err
	}
	return ParseFillValue(m.FillValueRaw, dtype)
}

// Separator returns the chunk key separator, defaulting to "." per §4.E.
func (m *V2Metadata) Separator() string {
	if m.DimensionSeparator != "" {
		return m.DimensionSeparator
	}
	return "."
}

// LoadV2Metadata reads and validates the .zarray document from r.
func LoadV2Metadata(r io.Reader) (*V2Metadata, error) {
	var m V2Metadata
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: failed to decode .zarray: %v", ErrBadMetadata, err)
	}
	if m.ZarrFormat != 2 {
		return nil, fmt.Errorf("%w: unsupported zarr_format %d, expected 2", ErrBadMetadata, m.ZarrFormat)
	}
	if len(m.Shape) != len(m.Chunks) {
		return nil, fmt.Errorf("%w: shape/chunks dimension mismatch", ErrBadMetadata)
	}
	if m.Order != "C" && m.Order != "F" {
		return nil, fmt.Errorf("%w: order must be C or F, got %q", ErrBadMetadata, m.Order)
	}
	if m.DimensionSeparator != "" && m.DimensionSeparator != "." && m.DimensionSeparator != "/" {
		return nil, fmt.Errorf("%w: dimension_separator must be '.' or '/'", ErrBadMetadata)
	}
	if _, err := m.ParsedFillValue(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode serializes m back to a .zarray document, pre-replacing the fill
// value with its special-string form exactly as the v3 encoder does, since
// encoding/json also rejects NaN/Inf outright.
func (m *V2Metadata) Encode() ([]byte, error) {
	fv, err := m.ParsedFillValue()
	if err != nil {
		return nil, err
	}
	clone := *m
	clone.FillValueRaw = fv.ToJSONValue()
	return json.MarshalIndent(&clone, "", "  ")
}

// LoadZAttrs reads the sibling .zattrs document (opaque attributes).
func LoadZAttrs(r io.Reader) (map[string]any, error) {
	var attrs map[string]any
	dec := json.NewDecoder(r)
	if err := dec.Decode(&attrs); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("%w: failed to decode .zattrs: %v", ErrBadMetadata, err)
	}
	return attrs, nil
}

// EncodeZAttrs serializes attrs for .zattrs.
func EncodeZAttrs(attrs map[string]any) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return json.MarshalIndent(attrs, "", "  ")
}
