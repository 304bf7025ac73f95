package tokenprobs

import (
	"github.com/gomlx/go-dataquality/numeric"
	"github.com/pkg/errors"
)

// ClassProbs converts per-sample classification logits to probabilities and predicted class indices.
//
// Rows with a single column are treated as binary classification: the value is taken as the
// probability of class 0 (not a logit) and expanded to [p, 1-p]. All other rows must have the same
// number of classes.
func ClassProbs(logits [][]float32) (probs [][]float32, preds []int, err error) {
	probs = make([][]float32, len(logits))
	preds = make([]int, len(logits))
	numClasses := -1
	for i, row := range logits {
		if numClasses < 0 {
			numClasses = len(row)
		} else if len(row) != numClasses {
			return nil, nil, &ShapeMismatchError{Row: i, Position: -1, What: "number of classes", Expected: numClasses, Actual: len(row)}
		}
		if len(row) == 1 {
			probs[i] = []float32{row[0], 1 - row[0]}
		} else {
			probs[i], err = numeric.Softmax(row)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "tokenprobs: row %d", i)
			}
		}
		preds[i] = numeric.Argmax(probs[i])
	}
	return probs, preds, nil
}
