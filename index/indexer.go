// Package index implements the indexer (§4.F): mapping an array selection
// onto per-chunk (chunk-coord, chunk-selection, out-selection, complete)
// triples, supporting basic (integer/slice), orthogonal, block and
// coordinate (fancy) indexing, and preserving scalar-write broadcast.
package index

import (
	"errors"
	"fmt"

	"github.com/zarrgo/zarr/grid"
)

// ErrSelection covers §7's SelectionError: out-of-bounds, shape-mismatched
// value.
var ErrSelection = errors.New("index: selection error")

// AxisSelector is one axis's normalized selection: an explicit, ordered
// list of absolute indices into that axis plus whether the axis came from
// a scalar (and so is squeezed out of the result shape).
type AxisSelector struct {
	Indices []int
	Squeeze bool
}

// Full selects every element of a dimension of size n, in order.
func Full(n int) AxisSelector {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return AxisSelector{Indices: idx}
}

// Scalar selects the single index i, squeezing the axis.
func Scalar(i int) AxisSelector { return AxisSelector{Indices: []int{i}, Squeeze: true} }

// Slice selects start:stop:step (Python slice semantics; step defaults to 1
// when 0 is passed), the basic-indexing case.
func Slice(start, stop, step, n int) (AxisSelector, error) {
	if step == 0 {
		step = 1
	}
	if step < 0 {
		return AxisSelector{}, fmt.Errorf("%w: negative step unsupported", ErrSelection)
	}
	if start < 0 || stop > n || start > stop {
		return AxisSelector{}, fmt.Errorf("%w: slice [%d:%d] out of bounds for dimension of size %d", ErrSelection, start, stop, n)
	}
	var idx []int
	for i := start; i < stop; i += step {
		idx = append(idx, i)
	}
	return AxisSelector{Indices: idx}, nil
}

// Coordinates selects an explicit, arbitrary-order list of absolute
// indices — the fancy/coordinate indexing case (and also what a boolean
// mask reduces to once converted to the positions where it is true).
func Coordinates(idx []int, n int) (AxisSelector, error) {
	for _, i := range idx {
		if i < 0 || i >= n {
			return AxisSelector{}, fmt.Errorf("%w: coordinate %d out of bounds for dimension of size %d", ErrSelection, i, n)
		}
	}
	return AxisSelector{Indices: append([]int(nil), idx...)}, nil
}

// Block selects whole chunks: every element belonging to the chunk-grid
// coordinates in blockIDs along one axis of chunk size chunkSize and
// logical dimension size n (§4.F "block index").
func Block(blockIDs []int, chunkSize, n int) (AxisSelector, error) {
	var idx []int
	for _, b := range blockIDs {
		start, end := grid.ChunkExtent(b, chunkSize, n)
		if start >= end {
			return AxisSelector{}, fmt.Errorf("%w: block %d out of bounds", ErrSelection, b)
		}
		for i := start; i < end; i++ {
			idx = append(idx, i)
		}
	}
	return AxisSelector{Indices: idx}, nil
}

// OutShape returns the shape of the output buffer this selection produces,
// dropping squeezed (scalar) axes.
func OutShape(sel []AxisSelector) []int {
	var shape []int
	for _, s := range sel {
		if s.Squeeze {
			continue
		}
		shape = append(shape, len(s.Indices))
	}
	return shape
}

// ChunkOp is one (chunk, chunk-local selection, output-local selection)
// triple the pipeline consumes to read or write a single chunk.
type ChunkOp struct {
	ChunkCoords grid.ChunkCoords
	// ChunkOffsets[axis] holds, for each selected element along axis
	// (within this chunk), its 0-based offset inside the chunk.
	ChunkOffsets [][]int
	// OutPositions[axis] holds the matching output-buffer position for
	// each element in ChunkOffsets[axis], same length and order.
	OutPositions [][]int
	IsComplete   bool
}

// Decompose maps sel onto the regular chunk grid (shape, chunkShape),
// yielding one ChunkOp per chunk actually touched, in ascending
// lexicographic chunk-coordinate order (§4.H "ties ... broken by
// lexicographic chunk-coord order").
func Decompose(shape, chunkShape []int, sel []AxisSelector) ([]ChunkOp, error) {
	ndim := len(shape)
	if len(chunkShape) != ndim || len(sel) != ndim {
		return nil, fmt.Errorf("%w: selection dimensionality mismatch", ErrSelection)
	}
	if ndim == 0 {
		return []ChunkOp{{ChunkCoords: grid.ChunkCoords{}, IsComplete: true}}, nil
	}

	type axisGroup struct {
		chunkID  int
		offsets  []int
		outPos   []int
		complete bool
	}

	perAxisGroups := make([][]axisGroup, ndim)
	for a := 0; a < ndim; a++ {
		groupIdx := map[int]int{}
		var groups []axisGroup
		chunkSize := chunkShape[a]
		for outPos, globalIdx := range sel[a].Indices {
			chunkID := globalIdx / chunkSize
			offset := globalIdx % chunkSize
			gi, ok := groupIdx[chunkID]
			if !ok {
				gi = len(groups)
				groupIdx[chunkID] = gi
				groups = append(groups, axisGroup{chunkID: chunkID})
			}
			groups[gi].offsets = append(groups[gi].offsets, offset)
			groups[gi].outPos = append(groups[gi].outPos, outPos)
		}
		for i := range groups {
			start, end := grid.ChunkExtent(groups[i].chunkID, chunkSize, shape[a])
			chunkLen := end - start
			seen := make([]bool, chunkLen)
			allPresent := true
			for _, off := range groups[i].offsets {
				if off < chunkLen {
					seen[off] = true
				}
			}
			for _, s := range seen {
				if !s {
					allPresent = false
					break
				}
			}
			groups[i].complete = allPresent && len(groups[i].offsets) == chunkLen
		}
		perAxisGroups[a] = groups
		if len(groups) == 0 {
			return nil, nil
		}
	}

	var ops []ChunkOp
	idxPerAxis := make([]int, ndim)
	var rec func(a int) error
	rec = func(a int) error {
		if a == ndim {
			coords := make(grid.ChunkCoords, ndim)
			offs := make([][]int, ndim)
			outs := make([][]int, ndim)
			complete := true
			for i := 0; i < ndim; i++ {
				g := perAxisGroups[i][idxPerAxis[i]]
				coords[i] = g.chunkID
				offs[i] = g.offsets
				outs[i] = g.outPos
				complete = complete && g.complete
			}
			ops = append(ops, ChunkOp{ChunkCoords: coords, ChunkOffsets: offs, OutPositions: outs, IsComplete: complete})
			return nil
		}
		for i := range perAxisGroups[a] {
			idxPerAxis[a] = i
			if err := rec(a + 1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := rec(0); err != nil {
		return nil, err
	}
	return ops, nil
}
