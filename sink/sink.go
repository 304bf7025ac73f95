// Package sink persists the records produced by the engine: span error records, generated samples and
// text classification outputs, keyed by (sample id, split, epoch).
//
// Two implementations are provided: Parquet files, one per table, under a run directory, and a SQLite
// database. Both take an exclusive lock on the output directory, so two processes can't write the
// same run at the same time.
package sink

import (
	"context"
	"path/filepath"

	"github.com/gomlx/go-dataquality/dataset"
	"github.com/gomlx/go-dataquality/generation"
	"github.com/gomlx/go-dataquality/spanerrors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Sink receives final row-wise records. Implementations are not safe for concurrent use.
type Sink interface {
	WriteSpans(records []spanerrors.Record) error
	WriteGenerated(records []GeneratedRecord) error
	WriteClassifications(records []dataset.ClassificationRecord) error

	// Close flushes and releases everything, including the directory lock.
	Close() error
}

// GeneratedRecord is a generated sample (see generation.Driver.Run) with its keys and truncation cutoffs.
type GeneratedRecord struct {
	SampleID     int64
	Split        dataset.Split
	Epoch        int
	InputCutoff  int
	TargetCutoff int
	generation.Row
}

// Kinds of sinks accepted by Open.
const (
	KindParquet = "parquet"
	KindSQLite  = "sqlite"
)

// Table names, used as file names for Parquet and as table names for SQLite.
const (
	TableSpans           = "span_errors"
	TableGenerated       = "generated"
	TableClassifications = "classification"
)

// Open creates the sink of the given kind, writing under dir for the run.
//
// It first locks dir, waiting until ctx is done if another process holds the lock.
func Open(ctx context.Context, kind, dir string, run *dataset.RunContext) (Sink, error) {
	lock, err := lockDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	var s Sink
	switch kind {
	case KindParquet:
		s, err = newParquetSink(filepath.Join(dir, run.ID().String()), run, lock)
	case KindSQLite:
		s, err = newSQLiteSink(filepath.Join(dir, "dataquality.db"), run, lock)
	default:
		err = errors.Errorf("sink: unknown kind %q, valid values are %q or %q", kind, KindParquet, KindSQLite)
	}
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	klog.V(1).Infof("sink: writing %s records of run %s to %q", kind, run.ID(), dir)
	return s, nil
}
