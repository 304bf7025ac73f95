package main

import (
	"context"
	"fmt"

	"github.com/gomlx/go-dataquality/generation"
	"github.com/gomlx/go-dataquality/internal/tensorutil"
	"github.com/gomlx/go-dataquality/outputs/safetensors"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Names of the tensors of a recorded generation outputs file.
const (
	tensorInputIDs     = "input_ids"     // [samples, input_len], int
	tensorGeneratedIDs = "generated_ids" // [samples, steps], int
	tensorLogits       = "logits"        // [samples, steps, vocab], float
)

// replayGenerator is a generation.Generator that replays outputs recorded by an external model run.
// Rows are matched by their encoded input ids, which must be the same the Driver produces.
// Negative ids are padding. It's safe for concurrent use.
type replayGenerator struct {
	rows         map[string]int // Input ids key -> row.
	generated    [][]int
	logits       []float32
	steps, vocab int
}

var _ generation.Generator = &replayGenerator{}

func newReplayGenerator(path string) (*replayGenerator, error) {
	all, err := safetensors.ReadFile(path)
	if err != nil {
		return nil, err
	}
	intMatrix := func(name string) ([]int, []int, error) {
		flat, dims, err := tensorutil.Ints(all[name])
		if err == nil && len(dims) != 2 {
			err = errors.Errorf("expected rank 2, got shape %v", dims)
		}
		return flat, dims, errors.WithMessagef(err, "tensor %q of %s", name, path)
	}
	inputIDs, inputDims, err := intMatrix(tensorInputIDs)
	if err != nil {
		return nil, err
	}
	generatedIDs, generatedDims, err := intMatrix(tensorGeneratedIDs)
	if err != nil {
		return nil, err
	}
	logits, logitsDims, err := tensorutil.Float32s(all[tensorLogits])
	if err != nil {
		return nil, errors.WithMessagef(err, "tensor %q of %s", tensorLogits, path)
	}
	numRows := inputDims[0]
	if generatedDims[0] != numRows || len(logitsDims) != 3 || logitsDims[0] != numRows || logitsDims[1] != generatedDims[1] {
		return nil, errors.Errorf("inconsistent shapes in %s: %s=%v, %s=%v, %s=%v", path,
			tensorInputIDs, inputDims, tensorGeneratedIDs, generatedDims, tensorLogits, logitsDims)
	}

	g := &replayGenerator{
		rows:      make(map[string]int, numRows),
		generated: make([][]int, numRows),
		logits:    logits,
		steps:     logitsDims[1],
		vocab:     logitsDims[2],
	}
	for row := range numRows {
		key := idsKey(unpad(inputIDs[row*inputDims[1] : (row+1)*inputDims[1]]))
		if _, found := g.rows[key]; !found {
			g.rows[key] = row
		}
		g.generated[row] = unpad(generatedIDs[row*g.steps : (row+1)*g.steps])
	}
	return g, nil
}

// unpad returns a copy of ids up to the first negative (padding) id.
func unpad(ids []int) []int {
	for i, id := range ids {
		if id < 0 {
			return append([]int(nil), ids[:i]...)
		}
	}
	return append([]int(nil), ids...)
}

func idsKey(ids []int) string {
	return fmt.Sprint(ids)
}

// Generate implements generation.Generator.
func (g *replayGenerator) Generate(ctx context.Context, inputIDs [][]int) (*generation.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := &generation.Output{TokenIDs: make([][]int, len(inputIDs))}
	rows := make([]int, len(inputIDs))
	maxLen := 0
	for i, ids := range inputIDs {
		row, found := g.rows[idsKey(ids)]
		if !found {
			return nil, errors.Errorf("no recorded outputs for input #%d of the batch (%d tokens)", i, len(ids))
		}
		rows[i] = row
		out.TokenIDs[i] = g.generated[row]
		maxLen = max(maxLen, len(g.generated[row]))
	}
	flat := make([]float32, len(inputIDs)*maxLen*g.vocab)
	for i, row := range rows {
		src := g.logits[row*g.steps*g.vocab : (row*g.steps+len(g.generated[row]))*g.vocab]
		copy(flat[i*maxLen*g.vocab:], src)
	}
	out.Logits = tensors.FromFlatDataAndDimensions(flat, len(inputIDs), maxLen, g.vocab)
	return out, nil
}
