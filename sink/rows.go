package sink

import (
	"encoding/json"

	"github.com/gomlx/go-dataquality/dataset"
	"github.com/gomlx/go-dataquality/spanerrors"
	"github.com/pkg/errors"
)

// Persisted forms of the records: flat, with enumerations as strings. Nested values that don't map to
// a flat column (top-K candidates, token label positions and offsets) are JSON encoded.

type spanRow struct {
	RunID     string    `parquet:"run_id"`
	SampleID  int64     `parquet:"sample_id"`
	Split     string    `parquet:"split"`
	Epoch     int64     `parquet:"epoch"`
	IsGold    bool      `parquet:"is_gold"`
	IsPred    bool      `parquet:"is_pred"`
	SpanStart int64     `parquet:"span_start"`
	SpanEnd   int64     `parquet:"span_end"`
	Gold      string    `parquet:"gold"`
	Pred      string    `parquet:"pred"`
	ErrorType string    `parquet:"error_type"`
	Emb       []float32 `parquet:"emb"`
}

type generatedRow struct {
	RunID               string    `parquet:"run_id"`
	SampleID            int64     `parquet:"sample_id"`
	Split               string    `parquet:"split"`
	Epoch               int64     `parquet:"epoch"`
	InputCutoff         int64     `parquet:"input_cutoff"`
	TargetCutoff        int64     `parquet:"target_cutoff"`
	GeneratedOutput     string    `parquet:"generated_output"`
	TokenLabelOffsets   string    `parquet:"generated_token_label_offsets"`
	TokenLabelPositions string    `parquet:"generated_token_label_positions"`
	TokenLogprobs       []float32 `parquet:"generated_token_logprobs"`
	TopLogprobs         string    `parquet:"generated_top_logprobs"`
}

type classificationRow struct {
	RunID         string    `parquet:"run_id"`
	SampleID      int64     `parquet:"sample_id"`
	Split         string    `parquet:"split"`
	Epoch         int64     `parquet:"epoch"`
	Emb           []float32 `parquet:"emb"`
	Prob          []float32 `parquet:"prob"`
	Pred          int64     `parquet:"pred"`
	InferenceName string    `parquet:"inference_name"`
}

func toSpanRows(runID string, records []spanerrors.Record) []spanRow {
	rows := make([]spanRow, len(records))
	for i, r := range records {
		rows[i] = spanRow{
			RunID:     runID,
			SampleID:  r.SampleID,
			Split:     r.Split.String(),
			Epoch:     int64(r.Epoch),
			IsGold:    r.IsGold,
			IsPred:    r.IsPred,
			SpanStart: int64(r.SpanStart),
			SpanEnd:   int64(r.SpanEnd),
			Gold:      r.Gold,
			Pred:      r.Pred,
			ErrorType: r.ErrorType.String(),
			Emb:       r.Emb,
		}
	}
	return rows
}

func toGeneratedRows(runID string, records []GeneratedRecord) ([]generatedRow, error) {
	rows := make([]generatedRow, len(records))
	for i, r := range records {
		offsets, err := json.Marshal(r.TokenLabelOffsets)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode token label offsets of sample %d", r.SampleID)
		}
		positions, err := json.Marshal(r.TokenLabelPositions)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode token label positions of sample %d", r.SampleID)
		}
		topK, err := json.Marshal(r.TopLogprobs)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode top logprobs of sample %d", r.SampleID)
		}
		rows[i] = generatedRow{
			RunID:               runID,
			SampleID:            r.SampleID,
			Split:               r.Split.String(),
			Epoch:               int64(r.Epoch),
			InputCutoff:         int64(r.InputCutoff),
			TargetCutoff:        int64(r.TargetCutoff),
			GeneratedOutput:     r.GeneratedOutput,
			TokenLabelOffsets:   string(offsets),
			TokenLabelPositions: string(positions),
			TokenLogprobs:       r.TokenLogprobs,
			TopLogprobs:         string(topK),
		}
	}
	return rows, nil
}

func toClassificationRows(runID string, records []dataset.ClassificationRecord) []classificationRow {
	rows := make([]classificationRow, len(records))
	for i, r := range records {
		rows[i] = classificationRow{
			RunID:         runID,
			SampleID:      r.ID,
			Split:         r.Split.String(),
			Epoch:         int64(r.Epoch),
			Emb:           r.Emb,
			Prob:          r.Prob,
			Pred:          int64(r.Pred),
			InferenceName: r.InferenceName,
		}
	}
	return rows
}
