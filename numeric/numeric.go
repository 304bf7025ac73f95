// Package numeric implements the small set of numerically stable vector operations used to turn
// model logits into quality signals: log-softmax, softmax, top-K selection and descending argsort.
//
// All functions are pure: inputs are never modified and a new slice is returned.
package numeric

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// InvalidInputError is returned for malformed numeric input: empty vectors or non-finite values
// that make the operation undefined.
type InvalidInputError struct {
	Op     string
	Reason string
}

// Error implements error.
func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("numeric: invalid input to %s: %s", e.Op, e.Reason)
}

// IndexValue is an entry of a vector, as returned by TopK.
type IndexValue struct {
	Index int
	Value float32
}

// LogSoftmax returns log(softmax(logits)), computed by subtracting the maximum before exponentiating.
// All returned values are <= 0.
func LogSoftmax(logits []float32) ([]float32, error) {
	maxValue, err := checkedMax("LogSoftmax", logits)
	if err != nil {
		return nil, err
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v) - maxValue)
	}
	logSum := math.Log(sum)
	out := make([]float32, len(logits))
	for i, v := range logits {
		lp := float64(v) - maxValue - logSum
		// Rounding can push the top entry a hair above 0.
		out[i] = float32(min(lp, 0))
	}
	return out, nil
}

// Softmax returns the probabilities of the logits, computed as exp(LogSoftmax(logits)).
func Softmax(logits []float32) ([]float32, error) {
	lps, err := LogSoftmax(logits)
	if err != nil {
		return nil, err
	}
	for i, lp := range lps {
		lps[i] = float32(math.Exp(float64(lp)))
	}
	return lps, nil
}

func checkedMax(op string, values []float32) (float64, error) {
	if len(values) == 0 {
		return 0, &InvalidInputError{Op: op, Reason: "empty vector"}
	}
	maxValue := math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(float64(v)) {
			return 0, &InvalidInputError{Op: op, Reason: "NaN value"}
		}
		maxValue = max(maxValue, float64(v))
	}
	if math.IsInf(maxValue, 0) {
		return 0, &InvalidInputError{Op: op, Reason: fmt.Sprintf("non-finite maximum %g", maxValue)}
	}
	return maxValue, nil
}

// ArgsortDesc returns the indices of values sorted by descending value. Equal values are in
// descending index order, the reverse of a stable ascending argsort.
func ArgsortDesc(values []float32) []int {
	indices := make([]int, len(values))
	for i := range indices {
		indices[i] = i
	}
	slices.SortFunc(indices, func(a, b int) int {
		if c := cmp.Compare(values[b], values[a]); c != 0 {
			return c
		}
		return cmp.Compare(b, a)
	})
	return indices
}

// TopK returns the k largest values with their indices, sorted by descending value with ties broken
// by the lower index. If len(values) < k all entries are returned; there is no padding.
func TopK(values []float32, k int) []IndexValue {
	if k <= 0 || len(values) == 0 {
		return nil
	}
	k = min(k, len(values))

	// Partial selection: keep a sorted buffer of the best k, which is cheap for the small k used
	// for candidates (k << vocabulary size).
	top := make([]IndexValue, 0, k)
	for i, v := range values {
		if len(top) == k && !(v > top[k-1].Value) {
			continue
		}
		pos := len(top)
		for pos > 0 && v > top[pos-1].Value {
			pos--
		}
		if len(top) < k {
			top = append(top, IndexValue{})
		}
		copy(top[pos+1:], top[pos:len(top)-1])
		top[pos] = IndexValue{Index: i, Value: v}
	}
	return top
}

// Argmax returns the index of the largest value, the lowest index among ties, or -1 for an empty vector.
func Argmax(values []float32) int {
	best := -1
	for i, v := range values {
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}
