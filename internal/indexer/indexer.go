// Package indexer builds the inverted index from crawled Documents — C9.
// Each document is indexed in its own transaction so a failure partway
// through leaves the index DB with that document either fully absent or
// fully indexed, never half-written.
package indexer

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"time"

	"github.com/arkinul/tuebingen-search/internal/telemetry"
	"github.com/arkinul/tuebingen-search/internal/textpipeline"
	"github.com/arkinul/tuebingen-search/pkg/failure"
	"github.com/arkinul/tuebingen-search/pkg/retry"
	"github.com/arkinul/tuebingen-search/pkg/timeutil"
)

const (
	busyMaxAttempts = 5
	busyBaseDelay   = 20 * time.Millisecond
	busyJitter      = 10 * time.Millisecond
	busyMaxDelay    = 500 * time.Millisecond
)

// IndexAll indexes every Document in crawlDB into indexDB that isn't
// already present. Documents already indexed (IndexDocument.id PRIMARY KEY
// conflict) are skipped entirely, making the operation idempotent across
// restarts. randomSeed drives the jitter on SQLITE_BUSY retries, so a run
// is reproducible given the same seed. recorder receives one index_summary
// event covering the whole run.
func IndexAll(ctx context.Context, crawlDB, indexDB *sql.DB, pipeline *textpipeline.Pipeline, randomSeed int64, recorder telemetry.Recorder) (int, error) {
	start := time.Now()
	rows, err := crawlDB.QueryContext(ctx, `
		SELECT d.id, u.url, d.title, d.content
		FROM document d
		JOIN request r ON r.id = d.request_id
		JOIN url u ON u.id = r.url_id`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type docRow struct {
		id      int64
		url     string
		title   sql.NullString
		content string
	}
	var docs []docRow
	for rows.Next() {
		var d docRow
		if err := rows.Scan(&d.id, &d.url, &d.title, &d.content); err != nil {
			return 0, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	retryParam := retry.NewRetryParam(busyBaseDelay, busyJitter, randomSeed, busyMaxAttempts,
		timeutil.NewBackoffParam(busyBaseDelay, 2.0, busyMaxDelay))

	var indexed int
	for _, d := range docs {
		result := retry.Retry(retryParam, func() (bool, failure.ClassifiedError) {
			ok, err := indexOne(ctx, indexDB, pipeline, d.id, d.url, d.title.String, d.content)
			if err != nil {
				return false, wrapIndexError(err)
			}
			return ok, nil
		})
		if result.IsFailure() {
			return indexed, result.Err()
		}
		if result.Value() {
			indexed++
		}
	}

	if recorder != nil {
		totalWords, totalPostings, err := indexTotals(ctx, indexDB)
		if err == nil {
			recorder.RecordIndexSummary(indexed, totalWords, totalPostings, time.Since(start))
		}
	}
	return indexed, nil
}

// indexTotals reports the size of the inverted index after a run, for the
// index_summary telemetry event.
func indexTotals(ctx context.Context, indexDB *sql.DB) (words, postings int, err error) {
	if err := indexDB.QueryRowContext(ctx, `SELECT count(*) FROM word`).Scan(&words); err != nil {
		return 0, 0, err
	}
	if err := indexDB.QueryRowContext(ctx, `SELECT count(*) FROM posting`).Scan(&postings); err != nil {
		return 0, 0, err
	}
	return words, postings, nil
}

// wrapIndexError classifies an indexOne failure for pkg/retry. Only
// SQLITE_BUSY / "database is locked" errors are retryable — every other
// failure (bad schema, disk full, context cancellation) is terminal.
type indexError struct {
	failure.ClassifiedError
	retryable bool
}

func (e *indexError) IsRetryable() bool { return e.retryable }

func wrapIndexError(err error) failure.ClassifiedError {
	return &indexError{
		ClassifiedError: failure.Wrap("indexer.indexOne", failure.SeverityRecoverable, failure.CauseStorage, err),
		retryable:       isBusyError(err),
	}
}

var busyPattern = regexp.MustCompile(`(?i)database is locked|busy`)

func isBusyError(err error) bool {
	return err != nil && busyPattern.MatchString(err.Error())
}

func indexOne(ctx context.Context, db *sql.DB, pipeline *textpipeline.Pipeline, id int64, url, title, content string) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO index_document (id, url, title, content) VALUES (?, ?, ?, ?)`,
		id, url, nullable(title), content)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}

	terms := pipeline.Preprocess(content)
	for position, term := range terms {
		wordID, err := upsertWord(ctx, tx, term)
		if err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO posting (word_id, document_id, position) VALUES (?, ?, ?)`,
			wordID, id, position); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func upsertWord(ctx context.Context, tx *sql.Tx, term string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM word WHERE word = ?`, term).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO word (word) VALUES (?)`, term)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var constraintPattern = regexp.MustCompile(`(?i)constraint`)

func isUniqueViolation(err error) bool {
	return err != nil && constraintPattern.MatchString(err.Error())
}
