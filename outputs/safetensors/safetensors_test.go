package safetensors

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/go-dataquality/internal/tensorutil"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "outputs.safetensors")
	err := WriteFile(path, []TensorAndName{
		{Name: "logits", Tensor: tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)},
		{Name: "embeddings", Tensor: tensors.FromFlatDataAndDimensions([]float64{0.5, -0.5}, 1, 2)},
		{Name: "ids", Tensor: tensors.FromFlatDataAndDimensions([]int64{7, 300}, 2)},
	}, map[string]string{"split": "validation"})
	require.NoError(t, err)
	return path
}

func TestRoundTrip(t *testing.T) {
	path := writeTestFile(t)

	header, dataOffset, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), dataOffset%headerAlignment)
	assert.Equal(t, map[string]string{"split": "validation"}, header.Metadata)
	assert.Equal(t, []string{"logits", "embeddings", "ids"}, header.Names())
	assert.Equal(t, &TensorMetadata{Name: "logits", Dtype: "F32", Shape: []int{2, 3}, DataOffsets: [2]int64{0, 24}},
		header.Tensors["logits"])
	assert.Equal(t, [2]int64{24, 40}, header.Tensors["embeddings"].DataOffsets)
	assert.Equal(t, "I64", header.Tensors["ids"].Dtype)

	reader, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, reader.Close()) }()

	logits, err := reader.ReadTensor("logits")
	require.NoError(t, err)
	flat, dims, err := tensorutil.Float32s(logits)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, dims)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, flat)

	embeddings, err := reader.ReadTensor("embeddings")
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float64, embeddings.Shape().DType)
	flat, _, err = tensorutil.Float32s(embeddings)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.5}, flat)

	ids, err := reader.ReadTensor("ids")
	require.NoError(t, err)
	ids.MutableBytes(func(data []byte) {
		require.Len(t, data, 16)
		assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(data[:8]))
		assert.Equal(t, uint64(300), binary.LittleEndian.Uint64(data[8:]))
	})

	_, err = reader.ReadTensor("missing")
	require.Error(t, err)
}

func TestReadFile(t *testing.T) {
	all, err := ReadFile(writeTestFile(t))
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{2}, all["ids"].Shape().Dimensions)
}

func TestIterStopsEarly(t *testing.T) {
	reader, err := Open(writeTestFile(t))
	require.NoError(t, err)
	defer reader.Close()
	var names []string
	for tn, err := range reader.Iter() {
		require.NoError(t, err)
		names = append(names, tn.Name)
		if len(names) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"logits", "embeddings"}, names)
}

func TestWriteErrors(t *testing.T) {
	dir := t.TempDir()
	logits := tensors.FromFlatDataAndDimensions([]float32{1}, 1)
	err := WriteFile(filepath.Join(dir, "a.safetensors"), []TensorAndName{{Name: "x", Tensor: logits}, {Name: "x", Tensor: logits}}, nil)
	require.ErrorContains(t, err, "duplicate")
	err = WriteFile(filepath.Join(dir, "b.safetensors"), []TensorAndName{{Name: "x"}}, nil)
	require.ErrorContains(t, err, "nil")
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()
	_, _, err := ReadHeader(filepath.Join(dir, "missing.safetensors"))
	require.Error(t, err)

	// Header size beyond the sanity limit.
	tooLarge := filepath.Join(dir, "large.safetensors")
	sizeBytes := binary.LittleEndian.AppendUint64(nil, maxHeaderSize+1)
	require.NoError(t, os.WriteFile(tooLarge, sizeBytes, 0o644))
	_, _, err = ReadHeader(tooLarge)
	require.ErrorContains(t, err, "too large")

	// Data offsets beyond the end of the file.
	truncated := filepath.Join(dir, "truncated.safetensors")
	header := []byte(`{"x":{"dtype":"F32","shape":[4],"data_offsets":[0,16]}}`)
	content := append(binary.LittleEndian.AppendUint64(nil, uint64(len(header))), header...)
	require.NoError(t, os.WriteFile(truncated, content, 0o644))
	reader, err := Open(truncated)
	require.NoError(t, err)
	defer reader.Close()
	_, err = reader.ReadTensor("x")
	require.ErrorContains(t, err, "beyond the end")
}

func TestDtypes(t *testing.T) {
	for dtype, name := range dtypeNames {
		t.Run(name, func(t *testing.T) {
			got, err := dtypeToGoMLX(name)
			require.NoError(t, err)
			assert.Equal(t, dtype, got)
		})
	}
	_, err := dtypeToGoMLX("UNKNOWN")
	assert.Error(t, err)
}
