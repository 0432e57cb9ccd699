package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dtnitsch/kb-export/models"
)

// Document is the recorded outcome of one target within a run.
type Document struct {
	RunID        string
	Book         string
	Name         string
	Path         string
	Outcome      string
	Attempts     int
	Digest       string
	SizeBytes    int64
	ErrorMessage string
}

// Attempt is one recorded download cycle.
type Attempt struct {
	Path         string
	Attempt      int
	Success      bool
	ErrorMessage string
	AttemptedAt  time.Time
}

// RecordDocument stores the final outcome of a target. Recording the same path
// twice in a run replaces the earlier row.
func (db *DB) RecordDocument(runID string, outcome models.TargetOutcome) error {
	var errMsg string
	if outcome.Err != nil {
		errMsg = outcome.Err.Error()
	} else if outcome.Result.Err != nil {
		errMsg = outcome.Result.Err.Error()
	}

	_, err := db.Exec(`
		INSERT INTO documents (run_id, book, name, path, outcome, attempts, digest, size_bytes, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, path) DO UPDATE SET
			outcome = excluded.outcome,
			attempts = excluded.attempts,
			digest = excluded.digest,
			size_bytes = excluded.size_bytes,
			error_message = excluded.error_message
	`, runID, outcome.Target.Book, outcome.Target.Name, outcome.Target.FinalPath(), outcome.Status(),
		outcome.Attempts, NewNullString(outcome.Result.Digest), outcome.Result.Size, NewNullString(errMsg))
	if err != nil {
		return fmt.Errorf("failed to record document: %w", err)
	}
	return nil
}

// RecordAttempt stores one download cycle for path.
func (db *DB) RecordAttempt(runID, path string, attempt int, attemptErr error) error {
	var errMsg string
	if attemptErr != nil {
		errMsg = attemptErr.Error()
	}

	_, err := db.Exec(`
		INSERT INTO attempts (run_id, path, attempt, success, error_message, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, path, attempt, attemptErr == nil, NewNullString(errMsg), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// GetRunDocuments returns the documents of a run in the order they were
// recorded.
func (db *DB) GetRunDocuments(runID string) ([]Document, error) {
	rows, err := db.Query(`
		SELECT run_id, book, name, path, outcome, attempts, digest, size_bytes, error_message
		FROM documents
		WHERE run_id = ?
		ORDER BY document_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc    Document
			digest sql.NullString
			size   sql.NullInt64
			errMsg sql.NullString
		)
		if err := rows.Scan(&doc.RunID, &doc.Book, &doc.Name, &doc.Path, &doc.Outcome,
			&doc.Attempts, &digest, &size, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Digest = digest.String
		doc.SizeBytes = size.Int64
		doc.ErrorMessage = errMsg.String
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetRunAttempts returns every attempt of a run, oldest first.
func (db *DB) GetRunAttempts(runID string) ([]Attempt, error) {
	rows, err := db.Query(`
		SELECT path, attempt, success, error_message, attempted_at
		FROM attempts
		WHERE run_id = ?
		ORDER BY attempt_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var (
			a           Attempt
			errMsg      sql.NullString
			attemptedAt string
		)
		if err := rows.Scan(&a.Path, &a.Attempt, &a.Success, &errMsg, &attemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.ErrorMessage = errMsg.String
		if a.AttemptedAt, err = parseTime(attemptedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// NewNullString maps "" to NULL.
func NewNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
