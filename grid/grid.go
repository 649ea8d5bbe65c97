// Package grid implements the chunk grid & key encoding layer (§4.E):
// decomposing an array shape into chunk coordinates and mapping those
// coordinates to store keys.
package grid

import (
	"strconv"
	"strings"
)

// ChunkCoords addresses one chunk: (c0, ..., c_{ndim-1}).
type ChunkCoords []int

// Shape computes the number of chunks in each dimension: ceil(shape[i] /
// chunkShape[i]).
func Shape(shape, chunkShape []int) []int {
	if len(shape) == 0 || len(chunkShape) == 0 {
		return []int{}
	}
	out := make([]int, len(shape))
	for i := range shape {
		out[i] = (shape[i] + chunkShape[i] - 1) / chunkShape[i]
	}
	return out
}

// All enumerates every chunk coordinate in the grid, in row-major order,
// calling fn for each. Iteration stops early if fn returns false.
func All(gridShape []int, fn func(coords ChunkCoords) bool) {
	if len(gridShape) == 0 {
		fn(ChunkCoords{})
		return
	}
	coords := make(ChunkCoords, len(gridShape))
	var rec func(dim int) bool
	rec = func(dim int) bool {
		if dim == len(gridShape) {
			return fn(append(ChunkCoords(nil), coords...))
		}
		for i := 0; i < gridShape[dim]; i++ {
			coords[dim] = i
			if !rec(dim + 1) {
				return false
			}
		}
		return true
	}
	rec(0)
}

// KeyEncoding is the chunk-coordinate -> store-key mapping (§4.E). The v3
// "default" form prefixes with "c" + separator; the v2/"v2" form has no
// prefix and separates with "." by default.
type KeyEncoding struct {
	Default   bool // true selects the v3-default "c/.../..." form
	Separator string
}

// DefaultV3 is the "c" + "/" + "/".join(coords) encoding.
func DefaultV3(separator string) KeyEncoding {
	if separator == "" {
		separator = "/"
	}
	return KeyEncoding{Default: true, Separator: separator}
}

// V2 is the bare "."-joined (or "/"-joined) encoding used by zarr v2.
func V2(separator string) KeyEncoding {
	if separator == "" {
		separator = "."
	}
	return KeyEncoding{Default: false, Separator: separator}
}

// EncodeChunkKey renders coords to the chunk-relative key suffix (the array
// facade prefixes this with the array's base path).
func (e KeyEncoding) EncodeChunkKey(coords ChunkCoords) string {
	joined := joinCoords(coords, e.Separator)
	if e.Default {
		return "c" + e.Separator + joined
	}
	return joined
}

func joinCoords(coords ChunkCoords, separator string) string {
	if len(coords) == 0 {
		return "0"
	}
	if len(coords) == 1 {
		return strconv.Itoa(coords[0])
	}
	var sb strings.Builder
	for i, c := range coords {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(strconv.Itoa(c))
	}
	return sb.String()
}

// Strides computes C-order (row-major) strides for shape, the layout used
// throughout the indexer and codec pipeline for flattening coordinates.
func Strides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}
	s := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = stride
		stride *= shape[i]
	}
	return s
}

// ChunkExtent returns [start, end) of chunk coordinate c along one
// dimension, clipped to the array's logical shape (edge-chunk masking,
// §3 "Edge chunks are conceptually full-sized but semantically masked").
func ChunkExtent(c, chunkSize, dimShape int) (start, end int) {
	start = c * chunkSize
	end = start + chunkSize
	if end > dimShape {
		end = dimShape
	}
	return
}
