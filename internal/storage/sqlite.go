package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the journal database at path and
// ensures the run tables exist. The path must be on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := checkLocalFilesystem(path, detectFilesystemType); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer: the journal consumer. Readers (inspect) open their own handle.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
  id                 TEXT PRIMARY KEY,
  status             TEXT NOT NULL,
  config_path        TEXT,
  config_fingerprint TEXT,
  workers            INTEGER NOT NULL DEFAULT 0,
  started_at         TEXT NOT NULL,
  finished_at        TEXT,
  reason             TEXT
);`,
		`CREATE TABLE IF NOT EXISTS worker_log (
  run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  worker     INTEGER NOT NULL,
  name       TEXT NOT NULL,
  job_type   INTEGER NOT NULL,
  pid        INTEGER NOT NULL,
  spawned_at TEXT NOT NULL,
  exited_at  TEXT,
  fault      TEXT,
  PRIMARY KEY (run_id, worker)
);`,
		`CREATE TABLE IF NOT EXISTS job_log (
  id            TEXT PRIMARY KEY,
  run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  seq           INTEGER NOT NULL,
  job_type      INTEGER NOT NULL,
  duration      INTEGER NOT NULL,
  worker        TEXT NOT NULL,
  pid           INTEGER NOT NULL,
  status        TEXT NOT NULL,
  dispatched_at TEXT,
  completed_at  TEXT,
  last_error    TEXT
);`,
		`CREATE INDEX IF NOT EXISTS job_log_run_seq_idx ON job_log(run_id, seq);`,
		`CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs(started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
