// Package journal records each run's lifecycle (workers, dispatches, completions) in SQLite
// so finished runs can be inspected later. It is fed exclusively from the event hub and never
// holds pending work: a restarted manager does not resume anything from the journal.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/typepool/internal/events"
	"github.com/mattjoyce/typepool/internal/storage"
)

// ErrRunNotFound is returned by lookups for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusRunning     = "running"
	StatusDrained     = "drained"
	StatusInterrupted = "interrupted"
	StatusFailed      = "failed"
)

// Job statuses.
const (
	JobDispatched = "dispatched"
	JobCompleted  = "completed"
	JobSendFailed = "send_failed"
)

// Run is one manager invocation.
type Run struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	ConfigPath        string     `json:"config_path,omitempty"`
	ConfigFingerprint string     `json:"config_fingerprint,omitempty"`
	Workers           int        `json:"workers"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	Reason            string     `json:"reason,omitempty"`
}

// WorkerRecord is one worker slot of a run.
type WorkerRecord struct {
	Worker    int        `json:"worker"`
	Name      string     `json:"name"`
	JobType   int        `json:"job_type"`
	PID       int        `json:"pid"`
	SpawnedAt time.Time  `json:"spawned_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	Fault     string     `json:"fault,omitempty"`
}

// JobRecord is one dispatched job of a run.
type JobRecord struct {
	ID           string     `json:"id"`
	Seq          int        `json:"seq"`
	JobType      int        `json:"job_type"`
	Duration     int32      `json:"duration"`
	Worker       string     `json:"worker"`
	PID          int        `json:"pid"`
	Status       string     `json:"status"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Journal writes and reads run history.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	seq    map[string]int
}

// Open opens the journal database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Journal, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an already bootstrapped database.
func New(db *sql.DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger.With("component", "journal"), seq: make(map[string]int)}
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// BeginRun inserts a run in the running state.
func (j *Journal) BeginRun(ctx context.Context, run Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO runs(id, status, config_path, config_fingerprint, workers, started_at)
VALUES(?, ?, ?, ?, ?, ?);
`, run.ID, StatusRunning, run.ConfigPath, run.ConfigFingerprint, run.Workers, formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("begin run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun closes a run with its final status. Finishing an unknown run returns ErrRunNotFound.
func (j *Journal) FinishRun(ctx context.Context, runID, status, reason string) error {
	res, err := j.db.ExecContext(ctx, `
UPDATE runs SET status = ?, finished_at = ?, reason = NULLIF(?, '') WHERE id = ?;
`, status, formatTime(time.Now().UTC()), reason, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// Consume records events from sub until the channel is closed or ctx is done.
// Recording failures are logged and do not stop consumption.
func (j *Journal) Consume(ctx context.Context, runID string, sub <-chan events.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if err := j.Record(ctx, runID, ev); err != nil {
				j.logger.Warn("journal write failed", "event_id", ev.ID, "event_type", ev.Type, "error", err)
			}
		}
	}
}

// Record applies one event to the run's tables. Unrelated event types are ignored.
func (j *Journal) Record(ctx context.Context, runID string, ev events.Event) error {
	switch ev.Type {
	case events.WorkerSpawned:
		var p events.WorkerPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		_, err := j.db.ExecContext(ctx, `
INSERT OR REPLACE INTO worker_log(run_id, worker, name, job_type, pid, spawned_at)
VALUES(?, ?, ?, ?, ?, ?);
`, runID, p.Worker, p.Name, p.JobType, p.PID, formatTime(ev.At))
		return wrap(ev, err)

	case events.WorkerHangup, events.WorkerTransportError:
		var p events.WorkerPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		_, err := j.db.ExecContext(ctx, `
UPDATE worker_log SET fault = ? WHERE run_id = ? AND worker = ?;
`, p.Error, runID, p.Worker)
		return wrap(ev, err)

	case events.WorkerExited:
		var p events.WorkerPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		_, err := j.db.ExecContext(ctx, `
UPDATE worker_log SET exited_at = ? WHERE run_id = ? AND worker = ?;
`, formatTime(ev.At), runID, p.Worker)
		return wrap(ev, err)

	case events.JobDispatched, events.JobSendFailed:
		var p events.JobPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		status, dispatchedAt := JobDispatched, sql.NullString{String: formatTime(ev.At), Valid: true}
		if ev.Type == events.JobSendFailed {
			status, dispatchedAt = JobSendFailed, sql.NullString{}
		}
		j.seq[runID]++
		_, err := j.db.ExecContext(ctx, `
INSERT INTO job_log(id, run_id, seq, job_type, duration, worker, pid, status, dispatched_at, last_error)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''))
ON CONFLICT(id) DO UPDATE SET
  worker = excluded.worker,
  pid = excluded.pid,
  status = excluded.status,
  dispatched_at = excluded.dispatched_at,
  last_error = COALESCE(excluded.last_error, job_log.last_error);
`, p.JobID, runID, j.seq[runID], p.JobType, p.Duration, p.Name, p.PID, status, dispatchedAt, p.Error)
		return wrap(ev, err)

	case events.JobCompleted:
		var p events.JobPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		_, err := j.db.ExecContext(ctx, `
UPDATE job_log SET status = ?, completed_at = ? WHERE id = ?;
`, JobCompleted, formatTime(ev.At), p.JobID)
		return wrap(ev, err)
	}
	return nil
}

// GetRun loads one run.
func (j *Journal) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT id, status, COALESCE(config_path, ''), COALESCE(config_fingerprint, ''), workers,
       started_at, finished_at, COALESCE(reason, '')
FROM runs WHERE id = ?;
`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return run, err
}

// ListRuns returns the most recent runs first.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, status, COALESCE(config_path, ''), COALESCE(config_fingerprint, ''), workers,
       started_at, finished_at, COALESCE(reason, '')
FROM runs ORDER BY started_at DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// Workers returns the worker slots of a run in dispatch order.
func (j *Journal) Workers(ctx context.Context, runID string) ([]WorkerRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT worker, name, job_type, pid, spawned_at, exited_at, COALESCE(fault, '')
FROM worker_log WHERE run_id = ? ORDER BY worker;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list workers of %s: %w", runID, err)
	}
	defer rows.Close()

	var out []WorkerRecord
	for rows.Next() {
		var (
			w       WorkerRecord
			spawned string
			exited  sql.NullString
		)
		if err := rows.Scan(&w.Worker, &w.Name, &w.JobType, &w.PID, &spawned, &exited, &w.Fault); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		w.SpawnedAt = parseTime(spawned)
		w.ExitedAt = parseNullTime(exited)
		out = append(out, w)
	}
	return out, rows.Err()
}

// Jobs returns the jobs of a run in dispatch order.
func (j *Journal) Jobs(ctx context.Context, runID string) ([]JobRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, seq, job_type, duration, worker, pid, status, dispatched_at, completed_at, COALESCE(last_error, '')
FROM job_log WHERE run_id = ? ORDER BY seq;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs of %s: %w", runID, err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var (
			r                     JobRecord
			dispatched, completed sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Seq, &r.JobType, &r.Duration, &r.Worker, &r.PID, &r.Status,
			&dispatched, &completed, &r.LastError); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		r.DispatchedAt = parseNullTime(dispatched)
		r.CompletedAt = parseNullTime(completed)
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r        Run
		started  string
		finished sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Status, &r.ConfigPath, &r.ConfigFingerprint, &r.Workers,
		&started, &finished, &r.Reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.StartedAt = parseTime(started)
	r.FinishedAt = parseNullTime(finished)
	return &r, nil
}

func wrap(ev events.Event, err error) error {
	if err != nil {
		return fmt.Errorf("record %s event %d: %w", ev.Type, ev.ID, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
