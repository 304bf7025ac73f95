package dataset

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// RunContext holds the state of one logging session: which split is being logged and the
// counters observed so far. It's created once per session and passed explicitly to the
// components that need it. It's safe for concurrent use.
type RunContext struct {
	id            uuid.UUID
	split         Split
	inferenceName string

	mu                sync.Mutex
	lastEpoch         int
	observedNumLabels int
}

// NewRunContext creates a RunContext with a new random run id.
// The inference split requires an inference name (e.g. "inference_run_1"); other splits must not have one.
func NewRunContext(split Split, inferenceName string) (*RunContext, error) {
	switch {
	case split == Inference && inferenceName == "":
		return nil, errors.New("dataset: inference name is required for the inference split")
	case split != Inference && inferenceName != "":
		return nil, errors.Errorf("dataset: inference name %q given for split %s", inferenceName, split)
	case split < Training || split > Inference:
		return nil, &InvalidSplitError{Split: split.String()}
	}
	return &RunContext{
		id:            uuid.New(),
		split:         split,
		inferenceName: inferenceName,
	}, nil
}

// ID returns the unique id of the run.
func (r *RunContext) ID() uuid.UUID {
	return r.id
}

// Split being logged.
func (r *RunContext) Split() Split {
	return r.split
}

// InferenceName returns the name of the inference run, empty for other splits.
func (r *RunContext) InferenceName() string {
	return r.inferenceName
}

// ObserveEpoch records that epoch was logged. LastEpoch only increases.
func (r *RunContext) ObserveEpoch(epoch int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastEpoch = max(r.lastEpoch, epoch)
}

// LastEpoch returns the largest epoch observed.
func (r *RunContext) LastEpoch() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastEpoch
}

// ObserveNumLabels records the number of labels (classes) of the model outputs. All outputs of a run
// must have the same number of labels.
func (r *RunContext) ObserveNumLabels(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.observedNumLabels != 0 && r.observedNumLabels != n {
		return errors.Errorf("dataset: observed %d labels, but previous outputs had %d", n, r.observedNumLabels)
	}
	r.observedNumLabels = n
	return nil
}

// ObservedNumLabels returns the number of labels observed, 0 if none yet.
func (r *RunContext) ObservedNumLabels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observedNumLabels
}
