package tokenprobs

import (
	"math/rand"
	"testing"

	"github.com/gomlx/go-dataquality/internal/tensorutil"
	"github.com/gomlx/go-dataquality/tokenizers/api"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDecoder renders every id as the same string, like the mocked tokenizer of the original tests.
type fakeDecoder struct{}

func (fakeDecoder) DecodeToken(int) string { return "Fake" }

// idDecoder renders ids as single letters.
type idDecoder struct{}

func (idDecoder) DecodeToken(id int) string { return string(rune('a' + id)) }

// randomLogits creates [batch, seq, vocab] logits where the positions past each row's true length are 0.
func randomLogits(rng *rand.Rand, trueLengths []int, seqLen, vocab int, side api.PaddingSide) *tensors.Tensor {
	flat := make([]float32, len(trueLengths)*seqLen*vocab)
	for row, n := range trueLengths {
		first := 0
		if side == api.PadLeft {
			first = seqLen - n
		}
		for pos := first; pos < first+n; pos++ {
			for v := range vocab {
				flat[(row*seqLen+pos)*vocab+v] = rng.Float32()
			}
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, len(trueLengths), seqLen, vocab)
}

func rangeIDs(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func TestExtractDropsPadding(t *testing.T) {
	const (
		seqLen = 20
		vocab  = 100
	)
	trueLengths := []int{10, 18, 20, 4}
	for _, side := range []api.PaddingSide{api.PadRight, api.PadLeft} {
		t.Run(side.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(1))
			logits := randomLogits(rng, trueLengths, seqLen, vocab, side)
			tokenIDs := make([][]int, len(trueLengths))
			for i, n := range trueLengths {
				tokenIDs[i] = rangeIDs(n)
			}

			rows, err := New(vocab, side, fakeDecoder{}).Extract(logits, tokenIDs)
			require.NoError(t, err)
			require.Len(t, rows, len(trueLengths))
			for i, row := range rows {
				require.Equal(t, trueLengths[i], row.Len())
				require.Len(t, row.TopK, trueLengths[i])
				for _, lp := range row.TokenLogprobs {
					assert.Less(t, lp, float32(0))
				}
				for _, candidates := range row.TopK {
					require.Len(t, candidates, TopK)
					// Padding positions have constant logits: real positions never do.
					assert.NotEqual(t, candidates[0].Logprob, candidates[TopK-1].Logprob)
					for j, c := range candidates {
						assert.Equal(t, "Fake", c.Token)
						if j > 0 {
							assert.GreaterOrEqual(t, candidates[j-1].Logprob, c.Logprob)
						}
					}
				}
			}
		})
	}
}

func TestExtractKnownValues(t *testing.T) {
	// One row, two positions, vocabulary of 3; the second position is padding.
	logits, err := tensorutil.FromBatch([][][]float32{{{0, 0, 0}, {9, 9, 9}}})
	require.NoError(t, err)

	rows, err := New(3, api.PadRight, idDecoder{}).WithTopK(2).Extract(logits, [][]int{{1}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDeltaSlice(t, []float32{-1.0986123}, rows[0].TokenLogprobs, 1e-6)
	require.Len(t, rows[0].TopK, 1)
	assert.Equal(t, []string{"a", "b"}, []string{rows[0].TopK[0][0].Token, rows[0].TopK[0][1].Token})
}

func TestExtractRowLeftPadding(t *testing.T) {
	logits := [][]float32{
		{0, 0, 0},  // padding
		{10, 0, 0}, // token 0
		{0, 0, 10}, // token 1
	}
	row, err := New(3, api.PadLeft, idDecoder{}).WithTopK(1).ExtractRow(logits, []int{0, 2})
	require.NoError(t, err)
	require.Equal(t, 2, row.Len())
	assert.InDelta(t, 0, row.TokenLogprobs[0], 1e-3)
	assert.InDelta(t, 0, row.TokenLogprobs[1], 1e-3)
	assert.Equal(t, "a", row.TopK[0][0].Token)
	assert.Equal(t, "c", row.TopK[1][0].Token)
}

func TestExtractSmallVocabulary(t *testing.T) {
	row, err := New(2, api.PadRight, idDecoder{}).ExtractRow([][]float32{{1, 2}}, []int{1})
	require.NoError(t, err)
	assert.Len(t, row.TopK[0], 2, "fewer candidates than TopK when the vocabulary is smaller")
}

func TestExtractShapeMismatch(t *testing.T) {
	logits, err := tensorutil.FromBatch([][][]float32{{{0, 0, 0}, {1, 1, 1}}})
	require.NoError(t, err)

	tests := []struct {
		name      string
		extractor *Extractor
		tokenIDs  [][]int
		what      string
	}{
		{"vocabulary size", New(5, api.PadRight, idDecoder{}), [][]int{{0}}, "vocabulary size"},
		{"token out of range", New(3, api.PadRight, idDecoder{}), [][]int{{0, 3}}, "token id outside vocabulary"},
		{"negative token", New(3, api.PadRight, idDecoder{}), [][]int{{-1}}, "token id outside vocabulary"},
		{"too long", New(3, api.PadRight, idDecoder{}), [][]int{{0, 1, 2}}, "true length exceeds sequence length"},
		{"row count", New(3, api.PadRight, idDecoder{}), [][]int{{0}, {1}}, "number of rows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.extractor.Extract(logits, tt.tokenIDs)
			var shapeErr *ShapeMismatchError
			require.ErrorAs(t, err, &shapeErr)
			assert.Equal(t, tt.what, shapeErr.What)
		})
	}

	_, err = New(3, api.PadRight, idDecoder{}).Extract(tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3), [][]int{{0}})
	var shapeErr *ShapeMismatchError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, "logits rank", shapeErr.What)

	_, err = New(3, api.PadRight, idDecoder{}).ExtractRow([][]float32{{1, 2}}, []int{0})
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, 0, shapeErr.Position)
}

func TestClassProbs(t *testing.T) {
	probs, preds, err := ClassProbs([][]float32{{0, 0}, {0, 5}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.5, 0.5}, probs[0], 1e-6)
	assert.Equal(t, []int{0, 1}, preds)

	probs, preds, err = ClassProbs([][]float32{{0.8}, {0.3}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.8, 0.2}, probs[0], 1e-6)
	assert.Equal(t, []int{0, 1}, preds)

	_, _, err = ClassProbs([][]float32{{1, 2}, {1, 2, 3}})
	var shapeErr *ShapeMismatchError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, 1, shapeErr.Row)
}
