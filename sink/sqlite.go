package sink

import (
	"database/sql"
	"encoding/json"

	"github.com/gofrs/flock"
	"github.com/gomlx/go-dataquality/dataset"
	"github.com/gomlx/go-dataquality/spanerrors"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS span_errors (
    run_id      TEXT NOT NULL,
    sample_id   INTEGER NOT NULL,
    split       TEXT NOT NULL,
    epoch       INTEGER NOT NULL,
    is_gold     INTEGER NOT NULL,
    is_pred     INTEGER NOT NULL,
    span_start  INTEGER NOT NULL,
    span_end    INTEGER NOT NULL,
    gold        TEXT NOT NULL,
    pred        TEXT NOT NULL,
    error_type  TEXT NOT NULL,
    emb         TEXT
);
CREATE INDEX IF NOT EXISTS idx_span_errors_key ON span_errors(run_id, split, epoch, sample_id);

CREATE TABLE IF NOT EXISTS generated (
    run_id                          TEXT NOT NULL,
    sample_id                       INTEGER NOT NULL,
    split                           TEXT NOT NULL,
    epoch                           INTEGER NOT NULL,
    input_cutoff                    INTEGER NOT NULL,
    target_cutoff                   INTEGER NOT NULL,
    generated_output                TEXT NOT NULL,
    generated_token_label_offsets   TEXT NOT NULL,
    generated_token_label_positions TEXT NOT NULL,
    generated_token_logprobs        TEXT NOT NULL,
    generated_top_logprobs          TEXT NOT NULL,
    PRIMARY KEY (run_id, split, epoch, sample_id)
);

CREATE TABLE IF NOT EXISTS classification (
    run_id          TEXT NOT NULL,
    sample_id       INTEGER NOT NULL,
    split           TEXT NOT NULL,
    epoch           INTEGER NOT NULL,
    emb             TEXT,
    prob            TEXT NOT NULL,
    pred            INTEGER NOT NULL,
    inference_name  TEXT NOT NULL,
    PRIMARY KEY (run_id, split, epoch, sample_id)
);
`

// sqliteSink writes all tables to one SQLite database, with the run id as a column.
// Each Write call is one transaction.
type sqliteSink struct {
	runID string
	db    *sql.DB
	lock  *flock.Flock
}

var _ Sink = &sqliteSink{}

func newSQLiteSink(path string, run *dataset.RunContext, lock *flock.Flock) (*sqliteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %q", path)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to create schema in %q", path)
	}
	return &sqliteSink{runID: run.ID().String(), db: db, lock: lock}, nil
}

// insertAll runs the insert query once per row, all in one transaction.
func (s *sqliteSink) insertAll(query string, numRows int, args func(i int) ([]any, error)) (err error) {
	if numRows == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.Prepare(query)
	if err != nil {
		return errors.Wrap(err, "failed to prepare insert")
	}
	defer stmt.Close()
	for i := range numRows {
		values, err := args(i)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(values...); err != nil {
			return errors.Wrapf(err, "failed to insert row %d", i)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit")
}

func (s *sqliteSink) WriteSpans(records []spanerrors.Record) error {
	rows := toSpanRows(s.runID, records)
	return s.insertAll(
		`INSERT INTO span_errors (run_id, sample_id, split, epoch, is_gold, is_pred, span_start, span_end, gold, pred, error_type, emb)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(rows), func(i int) ([]any, error) {
			r := rows[i]
			emb, err := jsonOrNull(r.Emb)
			if err != nil {
				return nil, err
			}
			return []any{r.RunID, r.SampleID, r.Split, r.Epoch, r.IsGold, r.IsPred, r.SpanStart, r.SpanEnd, r.Gold, r.Pred, r.ErrorType, emb}, nil
		})
}

func (s *sqliteSink) WriteGenerated(records []GeneratedRecord) error {
	rows, err := toGeneratedRows(s.runID, records)
	if err != nil {
		return err
	}
	return s.insertAll(
		`INSERT OR REPLACE INTO generated (run_id, sample_id, split, epoch, input_cutoff, target_cutoff, generated_output,
		   generated_token_label_offsets, generated_token_label_positions, generated_token_logprobs, generated_top_logprobs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(rows), func(i int) ([]any, error) {
			r := rows[i]
			logprobs, err := json.Marshal(r.TokenLogprobs)
			if err != nil {
				return nil, errors.Wrap(err, "failed to encode token logprobs")
			}
			return []any{r.RunID, r.SampleID, r.Split, r.Epoch, r.InputCutoff, r.TargetCutoff, r.GeneratedOutput,
				r.TokenLabelOffsets, r.TokenLabelPositions, string(logprobs), r.TopLogprobs}, nil
		})
}

func (s *sqliteSink) WriteClassifications(records []dataset.ClassificationRecord) error {
	rows := toClassificationRows(s.runID, records)
	return s.insertAll(
		`INSERT OR REPLACE INTO classification (run_id, sample_id, split, epoch, emb, prob, pred, inference_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		len(rows), func(i int) ([]any, error) {
			r := rows[i]
			emb, err := jsonOrNull(r.Emb)
			if err != nil {
				return nil, err
			}
			prob, err := json.Marshal(r.Prob)
			if err != nil {
				return nil, errors.Wrap(err, "failed to encode probabilities")
			}
			return []any{r.RunID, r.SampleID, r.Split, r.Epoch, emb, string(prob), r.Pred, r.InferenceName}, nil
		})
}

// Close closes the database and releases the directory lock.
func (s *sqliteSink) Close() error {
	err := errors.Wrap(s.db.Close(), "failed to close database")
	return unlock(s.lock, err)
}

// jsonOrNull encodes values as a JSON array, or NULL if empty.
func jsonOrNull(values []float32) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode embedding")
	}
	return string(encoded), nil
}
