package safetensors

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// headerAlignment is the alignment of the data section, the header is padded with spaces to reach it.
const headerAlignment = 8

// WriteFile writes the tensors, in the given order, to a safetensors file. metadata may be nil.
func WriteFile(path string, toWrite []TensorAndName, metadata map[string]string) (err error) {
	header := make(map[string]any, len(toWrite)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for _, tn := range toWrite {
		if tn.Tensor == nil {
			return errors.Errorf("tensor %q is nil", tn.Name)
		}
		if _, found := header[tn.Name]; found || tn.Name == "" {
			return errors.Errorf("invalid or duplicate tensor name %q", tn.Name)
		}
		shape := tn.Tensor.Shape()
		dtypeName, err := dtypeToSafetensors(shape.DType)
		if err != nil {
			return errors.WithMessagef(err, "tensor %q", tn.Name)
		}
		size := int64(shape.Size()) * int64(shape.DType.Size())
		header[tn.Name] = &TensorMetadata{
			Dtype:       dtypeName,
			Shape:       shape.Dimensions,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to encode safetensors header")
	}
	for (8+len(headerBytes))%headerAlignment != 0 {
		headerBytes = append(headerBytes, ' ')
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "failed to close %s", path)
		}
	}()
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		return errors.Wrapf(err, "failed to write header size to %s", path)
	}
	if _, err := w.Write(headerBytes); err != nil {
		return errors.Wrapf(err, "failed to write header to %s", path)
	}
	for _, tn := range toWrite {
		var writeErr error
		tn.Tensor.MutableBytes(func(data []byte) {
			_, writeErr = w.Write(data)
		})
		if writeErr != nil {
			return errors.Wrapf(writeErr, "failed to write tensor %q to %s", tn.Name, path)
		}
	}
	return errors.Wrapf(w.Flush(), "failed to flush %s", path)
}
