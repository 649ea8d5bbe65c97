// Package batch implements a sequential batched reader over an opened
// array's leading axis, the role a training-data loader needs: fixed-size
// windows along axis 0, handed back as gomlx tensors via
// buffer.NDBuffer.Tensor(), with EOF once the axis is exhausted.
package batch

import (
	"context"
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/zarrgo/zarr/array"
	"github.com/zarrgo/zarr/index"
)

// Loader walks an array's leading axis in fixed-size batches, each batch
// shaped [batchSize, shape[1], shape[2], ...].
type Loader struct {
	arr     *array.Array
	cursor  int
	leading int
}

// NewLoader opens arr for batched reading from the start of its leading
// axis.
func NewLoader(arr *array.Array) *Loader {
	shape := arr.Shape()
	leading := 0
	if len(shape) > 0 {
		leading = shape[0]
	}
	return &Loader{arr: arr, leading: leading}
}

// Next reads the next batch of up to batchSize rows along axis 0,
// returning io.EOF once the leading axis is exhausted.
func (l *Loader) Next(ctx context.Context, batchSize int) (*tensors.Tensor, error) {
	if l.cursor >= l.leading {
		return nil, io.EOF
	}
	start := l.cursor
	end := start + batchSize
	if end > l.leading {
		end = l.leading
	}

	shape := l.arr.Shape()
	sel := make([]index.AxisSelector, len(shape))
	leadSel, err := index.Slice(start, end, 0, l.leading)
	if err != nil {
		return nil, err
	}
	sel[0] = leadSel
	for i := 1; i < len(shape); i++ {
		sel[i] = index.Full(shape[i])
	}

	nd, err := l.arr.GetItem(ctx, sel)
	if err != nil {
		return nil, err
	}
	l.cursor = end
	return nd.Tensor()
}

// Reset rewinds the loader to the start of the leading axis, so a caller
// can iterate the same array for another training epoch.
func (l *Loader) Reset() { l.cursor = 0 }
