package numeric

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSoftmax(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := range 20 {
		size := 1 + rng.Intn(50)
		logits := make([]float32, size)
		for i := range logits {
			logits[i] = float32(rng.NormFloat64() * 10)
		}
		if trial == 0 {
			// Large values must not overflow.
			logits[0] = 1e30
		}
		lps, err := LogSoftmax(logits)
		require.NoError(t, err)
		require.Len(t, lps, size)
		var sum float64
		for _, lp := range lps {
			assert.LessOrEqual(t, lp, float32(0))
			sum += math.Exp(float64(lp))
		}
		assert.InDelta(t, 1.0, sum, 1e-4)
	}
}

func TestLogSoftmaxKnownValues(t *testing.T) {
	lps, err := LogSoftmax([]float32{0, 0})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{-0.6931472, -0.6931472}, lps, 1e-6)

	// Input is not modified.
	logits := []float32{1, 2, 3}
	_, err = LogSoftmax(logits)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, logits)
}

func TestLogSoftmaxInvalid(t *testing.T) {
	var invalid *InvalidInputError

	_, err := LogSoftmax(nil)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "LogSoftmax", invalid.Op)

	_, err = LogSoftmax([]float32{float32(math.NaN()), 1})
	assert.ErrorAs(t, err, &invalid)

	_, err = LogSoftmax([]float32{float32(math.Inf(1))})
	assert.ErrorAs(t, err, &invalid)
}

func TestSoftmax(t *testing.T) {
	probs, err := Softmax([]float32{1, 1, 1, 1})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.25, 0.25, 0.25, 0.25}, probs, 1e-6)
}

func TestTopK(t *testing.T) {
	tests := []struct {
		name   string
		values []float32
		k      int
		want   []IndexValue
	}{
		{
			name:   "basic",
			values: []float32{0.1, 0.5, 0.3, 0.9},
			k:      2,
			want:   []IndexValue{{3, 0.9}, {1, 0.5}},
		},
		{
			name:   "ties broken by lower index",
			values: []float32{1, 2, 2, 1, 2},
			k:      3,
			want:   []IndexValue{{1, 2}, {2, 2}, {4, 2}},
		},
		{
			name:   "fewer entries than k",
			values: []float32{-1, -3},
			k:      5,
			want:   []IndexValue{{0, -1}, {1, -3}},
		},
		{
			name:   "k zero",
			values: []float32{1},
			k:      0,
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TopK(tt.values, tt.k))
		})
	}
}

func TestTopKProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for range 50 {
		size := rng.Intn(30)
		k := rng.Intn(10)
		values := make([]float32, size)
		for i := range values {
			// Few distinct values, to exercise ties.
			values[i] = float32(rng.Intn(5))
		}
		top := TopK(values, k)
		require.Len(t, top, min(k, size))
		for i := 1; i < len(top); i++ {
			prev, cur := top[i-1], top[i]
			assert.True(t, prev.Value > cur.Value || (prev.Value == cur.Value && prev.Index < cur.Index),
				"entries %v and %v out of order", prev, cur)
		}
		// Agrees with a full descending sort, up to the order of ties.
		order := ArgsortDesc(values)
		for i, entry := range top {
			assert.Equal(t, values[order[i]], entry.Value)
		}
	}
}

func TestArgsortDesc(t *testing.T) {
	assert.Equal(t, []int{0, 2, 1}, ArgsortDesc([]float32{5, 3, 4}))
	assert.Equal(t, []int{1, 2, 0}, ArgsortDesc([]float32{1, 2, 1}))
	assert.Equal(t, []int{3, 2, 1, 0}, ArgsortDesc([]float32{3, 3, 3, 3}))
	assert.Empty(t, ArgsortDesc(nil))
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 1, Argmax([]float32{0.2, 0.7, 0.7}))
	assert.Equal(t, -1, Argmax(nil))
}
