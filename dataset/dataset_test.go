package dataset

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSplit(t *testing.T) {
	tests := []struct {
		name string
		want Split
	}{
		{"training", Training},
		{"train", Training},
		{"Validation", Validation},
		{"val", Validation},
		{"test", Test},
		{"testing", Test},
		{" inference ", Inference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSplit(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseSplit("dev")
	var splitErr *InvalidSplitError
	require.ErrorAs(t, err, &splitErr)
	assert.Equal(t, "dev", splitErr.Split)
}

func TestSplitText(t *testing.T) {
	var s Split
	require.NoError(t, s.UnmarshalText([]byte("val")))
	assert.Equal(t, Validation, s)
	text, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "validation", string(text))
	assert.Error(t, s.UnmarshalText([]byte("nope")))
}

func TestNewRunContext(t *testing.T) {
	run, err := NewRunContext(Training, "")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, run.ID())
	assert.Equal(t, Training, run.Split())

	other, err := NewRunContext(Inference, "inference_run_1")
	require.NoError(t, err)
	assert.NotEqual(t, run.ID(), other.ID())
	assert.Equal(t, "inference_run_1", other.InferenceName())

	_, err = NewRunContext(Inference, "")
	assert.Error(t, err)
	_, err = NewRunContext(Test, "inference_run_1")
	assert.Error(t, err)
	_, err = NewRunContext(Split(9), "")
	assert.Error(t, err)
}

func TestRunContextCounters(t *testing.T) {
	run, err := NewRunContext(Training, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for epoch := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run.ObserveEpoch(epoch)
		}()
	}
	wg.Wait()
	assert.Equal(t, 9, run.LastEpoch())
	run.ObserveEpoch(3)
	assert.Equal(t, 9, run.LastEpoch())

	require.NoError(t, run.ObserveNumLabels(4))
	require.NoError(t, run.ObserveNumLabels(4))
	assert.Error(t, run.ObserveNumLabels(5))
	assert.Equal(t, 4, run.ObservedNumLabels())
}

func TestClassificationRecords(t *testing.T) {
	run, err := NewRunContext(Inference, "inf")
	require.NoError(t, err)

	records, err := ClassificationRecords(run, 2, []int64{10, 11}, [][]float32{{1, 2}, {3, 4}}, [][]float32{{0.9}, {0.2}})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(11), records[1].ID)
	assert.InDeltaSlice(t, []float32{0.2, 0.8}, records[1].Prob, 1e-6)
	assert.Equal(t, 1, records[1].Pred)
	assert.Equal(t, 0, records[0].Pred)
	assert.Equal(t, "inf", records[0].InferenceName)
	assert.Equal(t, Inference, records[0].Split)
	assert.Equal(t, 2, run.LastEpoch())
	assert.Equal(t, 2, run.ObservedNumLabels())

	_, err = ClassificationRecords(run, 3, []int64{1}, [][]float32{{1}}, [][]float32{{1, 2, 3}})
	assert.Error(t, err, "number of labels changed")
	_, err = ClassificationRecords(run, 3, []int64{1, 2}, [][]float32{{1}}, [][]float32{{1, 2}})
	assert.Error(t, err)
	_, err = ClassificationRecords(run, 3, nil, nil, nil)
	assert.Error(t, err)
}
