// Package masking converts the raw per-token action logits of a constrained (stepwise) decoder into
// "valid" logits: the subset of actions the decoder could actually have chosen.
//
// Constrained decoders, like transition-based NER parsers, silently discard actions that violate
// structural constraints even when those actions have larger scores than the one chosen. Any action
// ranked above the committed prediction was therefore infeasible, and is zeroed so that it's never
// reported as a plausible alternative.
package masking

import (
	"fmt"

	"github.com/gomlx/go-dataquality/internal/tensorutil"
	"github.com/gomlx/go-dataquality/numeric"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// InvalidPredictionError is returned when the predicted index is not a valid index of the logits.
type InvalidPredictionError struct {
	// Token is the position of the token in a batch, -1 for single vector calls.
	Token      int
	Prediction int
	NumClasses int
}

// Error implements error.
func (e *InvalidPredictionError) Error() string {
	if e.Token >= 0 {
		return fmt.Sprintf("masking: token %d: predicted index %d out of range for %d classes", e.Token, e.Prediction, e.NumClasses)
	}
	return fmt.Sprintf("masking: predicted index %d out of range for %d classes", e.Prediction, e.NumClasses)
}

// ValidLogits returns a copy of logits where every entry ranked (by descending value) strictly before
// the predicted index is set to 0. The prediction and everything ranked after it are kept unchanged.
//
// Equal logits rank the higher index first, so for [3, 3] with prediction 0 index 1 is zeroed.
//
// Applying ValidLogits again with the same prediction is a no-op.
func ValidLogits(logits []float32, pred int) ([]float32, error) {
	if pred < 0 || pred >= len(logits) {
		return nil, &InvalidPredictionError{Token: -1, Prediction: pred, NumClasses: len(logits)}
	}
	order := numeric.ArgsortDesc(logits)
	valid := make([]float32, len(logits))
	copy(valid, logits)
	for _, idx := range order {
		if idx == pred {
			break
		}
		valid[idx] = 0
	}
	return valid, nil
}

// ValidLogitsBatch applies ValidLogits to each row of a rank-2 [tokens, classes] tensor, with one
// prediction per token. It returns a new Float32 tensor with the same shape.
func ValidLogitsBatch(logits *tensors.Tensor, preds []int) (*tensors.Tensor, error) {
	flat, dims, err := tensorutil.Float32s(logits)
	if err != nil {
		return nil, errors.WithMessage(err, "masking")
	}
	if len(dims) != 2 {
		return nil, errors.Errorf("masking: logits must be rank 2 [tokens, classes], got dimensions %v", dims)
	}
	numTokens, numClasses := dims[0], dims[1]
	if len(preds) != numTokens {
		return nil, errors.Errorf("masking: got %d predictions for %d tokens", len(preds), numTokens)
	}
	masked := make([]float32, 0, len(flat))
	for token, pred := range preds {
		row, err := ValidLogits(flat[token*numClasses:(token+1)*numClasses], pred)
		if err != nil {
			var predErr *InvalidPredictionError
			if errors.As(err, &predErr) {
				predErr.Token = token
			}
			return nil, err
		}
		masked = append(masked, row...)
	}
	return tensors.FromFlatDataAndDimensions(masked, numTokens, numClasses), nil
}

// DropSentinel returns a copy of logits without the entry at index sentinel. Transition-based decoders
// emit an extra sentinel action (the "-U" action of spaCy's NER parser) that has no tag counterpart and
// must be removed before masking. A negative sentinel returns an unchanged copy.
func DropSentinel(logits []float32, sentinel int) ([]float32, error) {
	if sentinel >= len(logits) {
		return nil, errors.Errorf("masking: sentinel index %d out of range for %d classes", sentinel, len(logits))
	}
	out := make([]float32, 0, len(logits))
	for i, v := range logits {
		if i != sentinel {
			out = append(out, v)
		}
	}
	return out, nil
}
