// Package safetensors reads and writes model outputs (logits, embeddings) stored in the safetensors
// format, so they can be produced by an external forward pass and analysed here.
//
// Format:
//
//	[8 bytes: header size as little-endian u64]
//	[header_size bytes: JSON header]
//	[remaining bytes: tensor data]
//
// Example:
//
//	reader, err := safetensors.Open("outputs.safetensors")
//	if err != nil {
//		panic(err)
//	}
//	defer reader.Close()
//	logits, err := reader.ReadTensor("logits")
package safetensors

import (
	"cmp"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// maxHeaderSize is a sanity check on the header size: 100MB.
const maxHeaderSize = 100 * 1024 * 1024

// metadataKey is the header entry holding free-form string metadata.
const metadataKey = "__metadata__"

// Header represents the JSON header of a safetensors file.
type Header struct {
	Tensors  map[string]*TensorMetadata // Tensor name -> metadata
	Metadata map[string]string          // Optional __metadata__ field
}

// TensorMetadata represents metadata for a single tensor in a safetensors file.
type TensorMetadata struct {
	Name        string   `json:"-"`            // Tensor name (from map key)
	Dtype       string   `json:"dtype"`        // Data type: F32, F64, I32, I64, etc.
	Shape       []int    `json:"shape"`        // Tensor dimensions
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) byte offsets relative to the data section
}

// Names returns the tensor names sorted by their offset in the file, for sequential reading.
func (h *Header) Names() []string {
	names := make([]string, 0, len(h.Tensors))
	for name := range h.Tensors {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(h.Tensors[a].DataOffsets[0], h.Tensors[b].DataOffsets[0]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return names
}

// ReadHeader reads and parses the header of the safetensors file, and returns it along with the
// offset of the data section.
func ReadHeader(path string) (*Header, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to open file %s", path)
	}
	defer f.Close()
	header, dataOffset, err := parseHeader(f)
	if err != nil {
		return nil, 0, errors.WithMessagef(err, "file %s", path)
	}
	return header, dataOffset, nil
}

func parseHeader(r io.Reader) (*Header, int64, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, 0, errors.Wrap(err, "failed to read header size")
	}
	if headerSize > maxHeaderSize {
		return nil, 0, errors.Errorf("header size too large: %d bytes", headerSize)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, 0, errors.Wrap(err, "failed to read header JSON")
	}

	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return nil, 0, errors.Wrap(err, "failed to parse header JSON")
	}
	header := &Header{
		Tensors:  make(map[string]*TensorMetadata),
		Metadata: make(map[string]string),
	}
	for key, value := range rawHeader {
		if key == metadataKey {
			if err := json.Unmarshal(value, &header.Metadata); err != nil {
				return nil, 0, errors.Wrap(err, "failed to parse __metadata__")
			}
			continue
		}
		var tm TensorMetadata
		if err := json.Unmarshal(value, &tm); err != nil {
			return nil, 0, errors.Wrapf(err, "failed to parse tensor metadata for %s", key)
		}
		if tm.DataOffsets[0] < 0 || tm.DataOffsets[1] < tm.DataOffsets[0] {
			return nil, 0, errors.Errorf("invalid data offsets %v for tensor %s", tm.DataOffsets, key)
		}
		tm.Name = key
		header.Tensors[key] = &tm
	}
	return header, int64(8 + headerSize), nil
}

// dtypeNames maps GoMLX dtypes to the safetensors dtype names.
var dtypeNames = map[dtypes.DType]string{
	dtypes.Int8:     "I8",
	dtypes.Int16:    "I16",
	dtypes.Int32:    "I32",
	dtypes.Int64:    "I64",
	dtypes.Uint8:    "U8",
	dtypes.Uint16:   "U16",
	dtypes.Uint32:   "U32",
	dtypes.Uint64:   "U64",
	dtypes.Float16:  "F16",
	dtypes.Float32:  "F32",
	dtypes.Float64:  "F64",
	dtypes.BFloat16: "BF16",
	dtypes.Bool:     "BOOL",
}

func dtypeToGoMLX(stDtype string) (dtypes.DType, error) {
	for dtype, name := range dtypeNames {
		if name == stDtype {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unsupported safetensors dtype %q", stDtype)
}

func dtypeToSafetensors(dtype dtypes.DType) (string, error) {
	name, found := dtypeNames[dtype]
	if !found {
		return "", errors.Errorf("dtype %s not supported by safetensors", dtype)
	}
	return name, nil
}
