package dataset

import (
	"github.com/gomlx/go-dataquality/tokenprobs"
	"github.com/pkg/errors"
)

// ClassificationRecord is the model output of one text classification sample.
type ClassificationRecord struct {
	ID            int64     `json:"id"`
	Split         Split     `json:"split"`
	Epoch         int       `json:"epoch"`
	Emb           []float32 `json:"emb"`
	Prob          []float32 `json:"prob"`
	Pred          int       `json:"pred"`
	InferenceName string    `json:"inference_name,omitempty"`
}

// ClassificationRecords builds the records of a batch of text classification outputs, given the
// sample ids, one embedding and one row of logits per sample. Rows with a single logit are taken
// as the probability of the first class of a binary classifier.
//
// It updates the run's last epoch and observed number of labels.
func ClassificationRecords(run *RunContext, epoch int, ids []int64, embs, logits [][]float32) ([]ClassificationRecord, error) {
	if len(ids) == 0 {
		return nil, errors.New("dataset: no samples given")
	}
	if len(embs) != len(ids) || len(logits) != len(ids) {
		return nil, errors.Errorf("dataset: ids, embs and logits must have the same length, got (%d, %d, %d)",
			len(ids), len(embs), len(logits))
	}
	probs, preds, err := tokenprobs.ClassProbs(logits)
	if err != nil {
		return nil, errors.WithMessage(err, "dataset: failed to convert logits")
	}
	if err := run.ObserveNumLabels(len(probs[0])); err != nil {
		return nil, err
	}
	run.ObserveEpoch(epoch)

	records := make([]ClassificationRecord, len(ids))
	for i, id := range ids {
		records[i] = ClassificationRecord{
			ID:            id,
			Split:         run.Split(),
			Epoch:         epoch,
			Emb:           embs[i],
			Prob:          probs[i],
			Pred:          preds[i],
			InferenceName: run.InferenceName(),
		}
	}
	return records, nil
}
