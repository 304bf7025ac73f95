package sink

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/gomlx/go-dataquality/dataset"
	"github.com/gomlx/go-dataquality/spanerrors"
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// parquetSink writes one Parquet file per table in the run directory. Files are created on the first
// write to the table, and are only valid after Close.
type parquetSink struct {
	runID string
	lock  *flock.Flock

	spans           *parquetTable[spanRow]
	generated       *parquetTable[generatedRow]
	classifications *parquetTable[classificationRow]
}

var _ Sink = &parquetSink{}

func newParquetSink(runDir string, run *dataset.RunContext, lock *flock.Flock) (*parquetSink, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create run directory %q", runDir)
	}
	return &parquetSink{
		runID:           run.ID().String(),
		lock:            lock,
		spans:           &parquetTable[spanRow]{path: filepath.Join(runDir, TableSpans+".parquet")},
		generated:       &parquetTable[generatedRow]{path: filepath.Join(runDir, TableGenerated+".parquet")},
		classifications: &parquetTable[classificationRow]{path: filepath.Join(runDir, TableClassifications+".parquet")},
	}, nil
}

func (s *parquetSink) WriteSpans(records []spanerrors.Record) error {
	return s.spans.write(toSpanRows(s.runID, records))
}

func (s *parquetSink) WriteGenerated(records []GeneratedRecord) error {
	rows, err := toGeneratedRows(s.runID, records)
	if err != nil {
		return err
	}
	return s.generated.write(rows)
}

func (s *parquetSink) WriteClassifications(records []dataset.ClassificationRecord) error {
	return s.classifications.write(toClassificationRows(s.runID, records))
}

// Close flushes all files and releases the directory lock.
func (s *parquetSink) Close() (err error) {
	for _, closeFn := range []func() error{s.spans.close, s.generated.close, s.classifications.close} {
		if closeErr := closeFn(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return unlock(s.lock, err)
}

// parquetTable is a lazily created Parquet file with rows of type T.
type parquetTable[T any] struct {
	path   string
	file   *os.File
	writer *parquet.GenericWriter[T]
}

func (t *parquetTable[T]) write(rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	if t.writer == nil {
		f, err := os.Create(t.path)
		if err != nil {
			return errors.Wrapf(err, "failed to create %q", t.path)
		}
		t.file = f
		t.writer = parquet.NewGenericWriter[T](f)
	}
	if _, err := t.writer.Write(rows); err != nil {
		return errors.Wrapf(err, "failed to write %d rows to %q", len(rows), t.path)
	}
	return nil
}

func (t *parquetTable[T]) close() error {
	if t.writer == nil {
		return nil
	}
	if err := t.writer.Close(); err != nil {
		_ = t.file.Close()
		return errors.Wrapf(err, "failed to flush %q", t.path)
	}
	t.writer = nil
	return errors.Wrapf(t.file.Close(), "failed to close %q", t.path)
}
