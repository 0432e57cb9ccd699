package db

const schema = `
-- Performance and reliability settings
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA foreign_keys = ON;
PRAGMA temp_store = MEMORY;

-- Runs: one row per export run, counters filled in when the run finishes
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,        -- uuid v4
    started_at TEXT NOT NULL,       -- RFC 3339
    finished_at TEXT,
    export_path TEXT NOT NULL,
    strategy TEXT NOT NULL,         -- skip-unchanged, overwrite
    written INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    errored INTEGER DEFAULT 0,
    cancelled INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

-- Documents: final outcome of every target in a run
CREATE TABLE IF NOT EXISTS documents (
    document_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    book TEXT NOT NULL,
    name TEXT NOT NULL,
    path TEXT NOT NULL,
    outcome TEXT NOT NULL,          -- written, skipped_unchanged, degraded, failed
    attempts INTEGER DEFAULT 0,
    digest TEXT,
    size_bytes INTEGER,
    error_message TEXT,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE,
    UNIQUE(run_id, path)
);

CREATE INDEX IF NOT EXISTS idx_documents_run ON documents(run_id);
CREATE INDEX IF NOT EXISTS idx_documents_outcome ON documents(outcome);

-- Attempts: every download cycle, successful or not
CREATE TABLE IF NOT EXISTS attempts (
    attempt_id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    path TEXT NOT NULL,
    attempt INTEGER NOT NULL,
    success BOOLEAN NOT NULL,
    error_message TEXT,
    attempted_at TEXT NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);
`
