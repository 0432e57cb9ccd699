package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dtnitsch/kb-export/pkg/stats"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// Run is one export run
type Run struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time // Zero while the run is in progress or if it crashed
	ExportPath string
	Strategy   string
	Written    int64
	Skipped    int64
	Errored    int64
	Cancelled  int
}

// Finished reports whether FinishRun was called for this run.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Stats returns the run counters.
func (r Run) Stats() stats.Snapshot {
	return stats.Snapshot{Written: r.Written, SkippedUnchanged: r.Skipped, Errored: r.Errored}
}

// CreateRun inserts a new run and returns its id.
func (db *DB) CreateRun(exportPath, strategy string, startedAt time.Time) (string, error) {
	runID := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO runs (run_id, started_at, export_path, strategy)
		VALUES (?, ?, ?, ?)
	`, runID, formatTime(startedAt), exportPath, strategy)
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return runID, nil
}

// FinishRun stores the final counters of a run.
func (db *DB) FinishRun(runID string, finishedAt time.Time, snap stats.Snapshot, cancelled int) error {
	result, err := db.Exec(`
		UPDATE runs
		SET finished_at = ?, written = ?, skipped = ?, errored = ?, cancelled = ?
		WHERE run_id = ?
	`, formatTime(finishedAt), snap.Written, snap.SkippedUnchanged, snap.Errored, cancelled, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun returns a single run.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.QueryRow(`
		SELECT run_id, started_at, finished_at, export_path, strategy, written, skipped, errored, cancelled
		FROM runs
		WHERE run_id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or less
// returns every run.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `
		SELECT run_id, started_at, finished_at, export_path, strategy, written, skipped, errored, cancelled
		FROM runs
		ORDER BY started_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		startedAt  string
		finishedAt sql.NullString
	)
	err := row.Scan(&run.RunID, &startedAt, &finishedAt, &run.ExportPath, &run.Strategy,
		&run.Written, &run.Skipped, &run.Errored, &run.Cancelled)
	if err != nil {
		return nil, err
	}

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		if run.FinishedAt, err = parseTime(finishedAt.String); err != nil {
			return nil, err
		}
	}
	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
