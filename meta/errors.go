// Package meta implements the array metadata model (§4.D): v2 (.zarray +
// .zattrs) and v3 (zarr.json) parsing/serialization, dtype<->wire-name
// mapping, and fill-value parsing per parse_fill_value.
package meta

import "errors"

// ErrBadMetadata covers §7's BadMetadata: wrong zarr_format, wrong
// node_type, unknown dtype, shape/chunk dimension mismatch, missing
// fill_value, invalid fill-value for dtype.
var ErrBadMetadata = errors.New("meta: bad metadata")

// ErrBadCodec covers §7's BadCodec: codec partitioning violated, codec
// validation against (shape, dtype, chunk_grid) failed.
var ErrBadCodec = errors.New("meta: bad codec")
