// Package tokenprobs turns dense per-token logits over a fixed vocabulary into the quality signals
// of each token: its log-probability and its top-K alternative candidates.
//
// Example:
//
//	extractor := tokenprobs.New(tok.VocabSize(), tok.PaddingSide(), tok)
//	rows, err := extractor.Extract(logits, labelTokenIDs)
//	if err != nil {
//		return err
//	}
//	for i, row := range rows {
//		fmt.Printf("- row %d: logprobs=%v top-1=%v\n", i, row.TokenLogprobs, row.TopK[0][0])
//	}
package tokenprobs

import (
	"fmt"

	"github.com/gomlx/go-dataquality/internal/tensorutil"
	"github.com/gomlx/go-dataquality/numeric"
	"github.com/gomlx/go-dataquality/tokenizers/api"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// TopK is the number of candidates reported per token.
const TopK = 5

// Candidate is an alternative token at a position, with its log-probability (always <= 0).
type Candidate struct {
	Token   string  `json:"token"`
	Logprob float32 `json:"logprob"`
}

// RowProbs holds the quality signals of one sample: one entry per true (non-padding) token.
type RowProbs struct {
	TokenLogprobs []float32     `json:"token_logprobs"`
	TopK          [][]Candidate `json:"top_logprobs"`
}

// Len returns the number of tokens in the row.
func (r RowProbs) Len() int {
	return len(r.TokenLogprobs)
}

// ShapeMismatchError is returned when the logits or the token ids don't match the shapes expected by
// the Extractor. It is fatal for the sample it refers to.
type ShapeMismatchError struct {
	Row      int // -1 if not row specific.
	Position int // -1 if not position specific.
	What     string
	Expected int
	Actual   int
}

// Error implements error.
func (e *ShapeMismatchError) Error() string {
	loc := ""
	if e.Row >= 0 {
		loc = fmt.Sprintf(" row %d", e.Row)
	}
	if e.Position >= 0 {
		loc += fmt.Sprintf(" position %d", e.Position)
	}
	return fmt.Sprintf("tokenprobs: shape mismatch%s: %s: expected %d, got %d", loc, e.What, e.Expected, e.Actual)
}

// Extractor computes log-probabilities and top-K candidates for a fixed vocabulary.
// It holds no mutable state and is safe for concurrent use, provided the Decoder is.
type Extractor struct {
	vocabSize   int
	paddingSide api.PaddingSide
	decoder     api.Decoder
	k           int
}

// New creates an Extractor for logits over a vocabulary of vocabSize entries, padded on the given side.
// The decoder renders the candidates' token ids.
func New(vocabSize int, paddingSide api.PaddingSide, decoder api.Decoder) *Extractor {
	return &Extractor{
		vocabSize:   vocabSize,
		paddingSide: paddingSide,
		decoder:     decoder,
		k:           TopK,
	}
}

// WithTopK changes the number of candidates per token. It returns itself to allow chaining calls.
func (e *Extractor) WithTopK(k int) *Extractor {
	e.k = k
	return e
}

// VocabSize returns the expected size of the vocabulary axis.
func (e *Extractor) VocabSize() int {
	return e.vocabSize
}

// Extract computes the RowProbs of each row of a rank-3 logits tensor shaped [batch, seq, vocab].
//
// tokenIDs holds the true token ids of each row: its length is the row's true length, and it may be
// shorter than seq. Padding positions are dropped: they are at the end of the sequence axis for right
// padding and at the start for left padding.
func (e *Extractor) Extract(logits *tensors.Tensor, tokenIDs [][]int) ([]RowProbs, error) {
	flat, dims, err := tensorutil.Float32s(logits)
	if err != nil {
		return nil, errors.WithMessage(err, "tokenprobs: failed to read logits")
	}
	if len(dims) != 3 {
		return nil, &ShapeMismatchError{Row: -1, Position: -1, What: "logits rank", Expected: 3, Actual: len(dims)}
	}
	batchSize, seqLen, vocabSize := dims[0], dims[1], dims[2]
	if vocabSize != e.vocabSize {
		return nil, &ShapeMismatchError{Row: -1, Position: -1, What: "vocabulary size", Expected: e.vocabSize, Actual: vocabSize}
	}
	if len(tokenIDs) != batchSize {
		return nil, &ShapeMismatchError{Row: -1, Position: -1, What: "number of rows", Expected: batchSize, Actual: len(tokenIDs)}
	}
	rows := make([]RowProbs, batchSize)
	rowSize := seqLen * vocabSize
	for row := range batchSize {
		rows[row], err = e.extractRow(row, flat[row*rowSize:(row+1)*rowSize], seqLen, tokenIDs[row])
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// ExtractRow computes the RowProbs of a single sample, given its logits shaped [seq][vocab].
func (e *Extractor) ExtractRow(logits [][]float32, tokenIDs []int) (RowProbs, error) {
	flat := make([]float32, 0, len(logits)*e.vocabSize)
	for pos, position := range logits {
		if len(position) != e.vocabSize {
			return RowProbs{}, &ShapeMismatchError{Row: -1, Position: pos, What: "vocabulary size", Expected: e.vocabSize, Actual: len(position)}
		}
		flat = append(flat, position...)
	}
	return e.extractRow(-1, flat, len(logits), tokenIDs)
}

// extractRow processes the flat [seqLen * vocabSize] logits of one row.
func (e *Extractor) extractRow(row int, flat []float32, seqLen int, tokenIDs []int) (RowProbs, error) {
	n := len(tokenIDs)
	if n > seqLen {
		return RowProbs{}, &ShapeMismatchError{Row: row, Position: -1, What: "true length exceeds sequence length", Expected: seqLen, Actual: n}
	}
	first := 0
	if e.paddingSide == api.PadLeft {
		first = seqLen - n
	}
	result := RowProbs{
		TokenLogprobs: make([]float32, n),
		TopK:          make([][]Candidate, n),
	}
	for i, id := range tokenIDs {
		if id < 0 || id >= e.vocabSize {
			return RowProbs{}, &ShapeMismatchError{Row: row, Position: i, What: "token id outside vocabulary", Expected: e.vocabSize, Actual: id}
		}
		pos := first + i
		logprobs, err := numeric.LogSoftmax(flat[pos*e.vocabSize : (pos+1)*e.vocabSize])
		if err != nil {
			return RowProbs{}, errors.Wrapf(err, "tokenprobs: row %d position %d", row, i)
		}
		result.TokenLogprobs[i] = logprobs[id]
		result.TopK[i] = e.candidates(logprobs)
	}
	return result, nil
}

func (e *Extractor) candidates(logprobs []float32) []Candidate {
	top := numeric.TopK(logprobs, e.k)
	candidates := make([]Candidate, len(top))
	for i, entry := range top {
		candidates[i] = Candidate{Token: e.decoder.DecodeToken(entry.Index), Logprob: entry.Value}
	}
	return candidates
}
