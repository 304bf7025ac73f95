// Package tensorutil converts GoMLX tensors holding model outputs to and from flat Go slices.
package tensorutil

import (
	"unsafe"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Float32s returns a copy of the tensor's data as float32, in row-major order, along with its dimensions.
// Float32 and Float64 tensors are supported.
func Float32s(t *tensors.Tensor) (flat []float32, dims []int, err error) {
	if t == nil {
		return nil, nil, errors.New("nil tensor")
	}
	shape := t.Shape()
	dims = shape.Dimensions
	switch shape.DType {
	case dtypes.Float32:
		t.MutableBytes(func(data []byte) {
			flat = make([]float32, len(data)/4)
			copy(flat, bytesAs[float32](data))
		})
	case dtypes.Float64:
		t.MutableBytes(func(data []byte) {
			values := bytesAs[float64](data)
			flat = make([]float32, len(values))
			for i, v := range values {
				flat[i] = float32(v)
			}
		})
	default:
		return nil, nil, errors.Errorf("unsupported dtype %s for logits, only Float32 and Float64 are supported", shape.DType)
	}
	return flat, dims, nil
}

// Ints returns a copy of the tensor's data as int, in row-major order, along with its dimensions.
// Int32 and Int64 tensors are supported.
func Ints(t *tensors.Tensor) (flat []int, dims []int, err error) {
	if t == nil {
		return nil, nil, errors.New("nil tensor")
	}
	shape := t.Shape()
	dims = shape.Dimensions
	switch shape.DType {
	case dtypes.Int32:
		t.MutableBytes(func(data []byte) {
			flat = widen(bytesAs[int32](data))
		})
	case dtypes.Int64:
		t.MutableBytes(func(data []byte) {
			flat = widen(bytesAs[int64](data))
		})
	default:
		return nil, nil, errors.Errorf("unsupported dtype %s for token ids, only Int32 and Int64 are supported", shape.DType)
	}
	return flat, dims, nil
}

func widen[T int32 | int64](values []T) []int {
	flat := make([]int, len(values))
	for i, v := range values {
		flat[i] = int(v)
	}
	return flat
}

// FromMatrix creates a rank-2 Float32 tensor from equally sized rows.
func FromMatrix(rows [][]float32) (*tensors.Tensor, error) {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	flat := make([]float32, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, errors.Errorf("row %d has %d columns, expected %d", i, len(row), cols)
		}
		flat = append(flat, row...)
	}
	return tensors.FromFlatDataAndDimensions(flat, len(rows), cols), nil
}

// FromBatch creates a rank-3 Float32 tensor [batch, seq, vocab] from nested slices.
// Rows shorter than the longest sequence are right-padded with zero logits.
func FromBatch(batch [][][]float32) (*tensors.Tensor, error) {
	seqLen, vocab := 0, 0
	for _, row := range batch {
		seqLen = max(seqLen, len(row))
		for _, position := range row {
			if vocab == 0 {
				vocab = len(position)
			}
		}
	}
	flat := make([]float32, len(batch)*seqLen*vocab)
	for b, row := range batch {
		for s, position := range row {
			if len(position) != vocab {
				return nil, errors.Errorf("row %d position %d has %d logits, expected %d", b, s, len(position), vocab)
			}
			copy(flat[(b*seqLen+s)*vocab:], position)
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, len(batch), seqLen, vocab), nil
}

// bytesAs reinterprets a byte slice as a slice of T. The byte slice length must be a multiple of T's size.
func bytesAs[T float32 | float64 | int32 | int64](b []byte) []T {
	if len(b) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/int(unsafe.Sizeof(zero)))
}
