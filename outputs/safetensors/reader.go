package safetensors

import (
	"io"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// TensorAndName holds a tensor name and its GoMLX tensor data.
type TensorAndName struct {
	Name   string
	Tensor *tensors.Tensor
}

// Reader provides access to the tensors of a safetensors file through a memory map.
// It's safe for concurrent reads.
type Reader struct {
	Header *Header

	path       string
	reader     *mmap.ReaderAt
	dataOffset int64
}

// Open parses the header of the safetensors file and memory-maps it.
func Open(path string) (*Reader, error) {
	header, dataOffset, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to mmap %s", path)
	}
	return &Reader{Header: header, path: path, reader: reader, dataOffset: dataOffset}, nil
}

// Close closes the underlying memory-mapped file.
func (r *Reader) Close() error {
	return r.reader.Close()
}

// ReadTensor reads a tensor by name from the memory-mapped file.
func (r *Reader) ReadTensor(tensorName string) (*tensors.Tensor, error) {
	meta, ok := r.Header.Tensors[tensorName]
	if !ok {
		return nil, errors.Errorf("tensor %s not found in %s", tensorName, r.path)
	}
	dtype, err := dtypeToGoMLX(meta.Dtype)
	if err != nil {
		return nil, errors.WithMessagef(err, "tensor %s", tensorName)
	}
	for _, dim := range meta.Shape {
		if dim < 0 {
			return nil, errors.Errorf("tensor %s has invalid shape %v", tensorName, meta.Shape)
		}
	}
	if r.dataOffset+meta.DataOffsets[1] > int64(r.reader.Len()) {
		return nil, errors.Errorf("tensor %s data offsets %v go beyond the end of %s", tensorName, meta.DataOffsets, r.path)
	}

	t := tensors.FromShape(shapes.Make(dtype, meta.Shape...))
	tensorOffset := r.dataOffset + meta.DataOffsets[0]
	var readErr error
	t.MutableBytes(func(data []byte) {
		if got := meta.DataOffsets[1] - meta.DataOffsets[0]; int64(len(data)) != got {
			readErr = errors.Errorf("tensor %s with shape %s expected %d bytes, but data offsets hold %d bytes",
				tensorName, t.Shape(), len(data), got)
			return
		}
		_, readErr = r.reader.ReadAt(data, tensorOffset)
		if readErr == io.EOF {
			readErr = nil
		}
		if readErr != nil {
			readErr = errors.Wrapf(readErr, "failed to read tensor %s", tensorName)
		}
	})
	if readErr != nil {
		return nil, readErr
	}
	return t, nil
}

// Iter returns an iterator over all tensors, in file order.
func (r *Reader) Iter() func(yield func(TensorAndName, error) bool) {
	return func(yield func(TensorAndName, error) bool) {
		for _, name := range r.Header.Names() {
			tensor, err := r.ReadTensor(name)
			if err != nil {
				yield(TensorAndName{}, err)
				return
			}
			if !yield(TensorAndName{Name: name, Tensor: tensor}, nil) {
				return
			}
		}
	}
}

// ReadFile reads all tensors of a safetensors file, indexed by name.
func ReadFile(path string) (map[string]*tensors.Tensor, error) {
	reader, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	all := make(map[string]*tensors.Tensor, len(reader.Header.Tensors))
	for tn, err := range reader.Iter() {
		if err != nil {
			return nil, err
		}
		all[tn.Name] = tn.Tensor
	}
	return all, nil
}
