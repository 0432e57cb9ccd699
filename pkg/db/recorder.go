package db

import "github.com/dtnitsch/kb-export/models"

// Recorder writes the attempts and outcomes of a single run.
type Recorder struct {
	db    *DB
	runID string
}

// Recorder returns a Recorder bound to runID.
func (db *DB) Recorder(runID string) *Recorder {
	return &Recorder{db: db, runID: runID}
}

// RunID returns the run the recorder writes to.
func (r *Recorder) RunID() string {
	return r.runID
}

func (r *Recorder) RecordAttempt(target models.DownloadTarget, attempt int, attemptErr error) error {
	return r.db.RecordAttempt(r.runID, target.FinalPath(), attempt, attemptErr)
}

func (r *Recorder) RecordOutcome(outcome models.TargetOutcome) error {
	return r.db.RecordDocument(r.runID, outcome)
}
