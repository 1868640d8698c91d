// Package store persists run history, task results, observed durations and
// the run decision log in SQLite.
package store

// #region imports
import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// #endregion

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	project      TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	finished_at  TEXT,
	status       TEXT NOT NULL,
	total_tasks  INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	cache_hits   INTEGER NOT NULL DEFAULT 0,
	report_path  TEXT
);

CREATE TABLE IF NOT EXISTS task_results (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	task_id      TEXT NOT NULL,
	status       TEXT NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 1,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	exit_code    INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
CREATE INDEX IF NOT EXISTS idx_task_results_run ON task_results(run_id);

CREATE TABLE IF NOT EXISTS task_durations (
	task_id      TEXT PRIMARY KEY,
	ema_ms       REAL NOT NULL,
	samples      INTEGER NOT NULL DEFAULT 0,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	task_id      TEXT,
	event        TEXT NOT NULL,
	detail       TEXT,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
CREATE INDEX IF NOT EXISTS idx_run_log_run ON run_log(run_id);
`

// #endregion schema

// #region constants

// emaAlpha weights new duration samples against the running estimate.
const emaAlpha = 0.3

// #endregion constants

// #region store-struct

// Store manages the upm SQLite database.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// Open opens (creating parent directories as needed) and migrates the
// database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection serializes concurrent writers (task goroutines
	// log events in parallel) and keeps the pragmas below in effect for
	// every statement; extra pooled connections would miss them.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for packages that share the database
// (the cache index lives in the same file).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region create-run

// CreateRun inserts a new run row in status running.
func (s *Store) CreateRun(runID, project string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, project, started_at, status) VALUES (?, ?, ?, ?)`,
		runID, project, startedAt.UTC().Format(time.RFC3339Nano), string(RunRunning),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// #endregion create-run

// #region finish-run

// FinishRun records the terminal status and totals of a run.
func (s *Store) FinishRun(rec RunRecord) error {
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, total_tasks = ?, failed = ?, cache_hits = ?, report_path = ?
		 WHERE run_id = ?`,
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(rec.Status),
		rec.TotalTasks,
		rec.Failed,
		rec.CacheHits,
		nullIfEmpty(rec.ReportPath),
		rec.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("finish run: unknown run %s", rec.RunID)
	}
	return err
}

// #endregion finish-run

// #region record-task-result

// RecordTaskResult persists one task's outcome within a run.
func (s *Store) RecordTaskResult(r TaskResult) error {
	_, err := s.db.Exec(
		`INSERT INTO task_results (run_id, task_id, status, attempts, duration_ms, exit_code, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.TaskID, string(r.Status), r.Attempts, r.DurationMS, r.ExitCode, nullIfEmpty(r.Error),
	)
	if err != nil {
		return fmt.Errorf("record task result: %w", err)
	}
	return nil
}

// #endregion record-task-result

// #region durations

// ObserveDuration folds a new sample into the task's EMA estimate.
func (s *Store) ObserveDuration(taskID string, d time.Duration) error {
	now := time.Now().UTC().Format(time.RFC3339)
	ms := float64(d.Milliseconds())
	_, err := s.db.Exec(
		`INSERT INTO task_durations (task_id, ema_ms, samples, updated_at)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT(task_id) DO UPDATE SET
		   ema_ms = ? * ? + (1.0 - ?) * task_durations.ema_ms,
		   samples = task_durations.samples + 1,
		   updated_at = ?`,
		taskID, ms, now,
		emaAlpha, ms, emaAlpha, now,
	)
	if err != nil {
		return fmt.Errorf("observe duration: %w", err)
	}
	return nil
}

// Durations returns the EMA duration estimate per task.
func (s *Store) Durations() (map[string]time.Duration, error) {
	rows, err := s.db.Query(`SELECT task_id, ema_ms FROM task_durations`)
	if err != nil {
		return nil, fmt.Errorf("durations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Duration)
	for rows.Next() {
		var id string
		var ms float64
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, err
		}
		out[id] = time.Duration(ms * float64(time.Millisecond))
	}
	return out, rows.Err()
}

// #endregion durations

// #region log-event

// LogEvent appends a decision entry to run_log.
func (s *Store) LogEvent(e LogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO run_log (run_id, task_id, event, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.RunID, nullIfEmpty(e.TaskID), e.Event, nullIfEmpty(e.Detail),
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// #endregion log-event

// #region list-runs

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT run_id, project, started_at, finished_at, status, total_tasks, failed, cache_hits, report_path
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRun reads one run row by id.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	row := s.db.QueryRow(
		`SELECT run_id, project, started_at, finished_at, status, total_tasks, failed, cache_hits, report_path
		 FROM runs WHERE run_id = ?`, runID,
	)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return RunRecord{}, fmt.Errorf("run %s: not found", runID)
	}
	return rec, err
}

// TaskResults reads all task result rows for a run.
func (s *Store) TaskResults(runID string) ([]TaskResult, error) {
	rows, err := s.db.Query(
		`SELECT run_id, task_id, status, attempts, duration_ms, exit_code, error
		 FROM task_results WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("task results: %w", err)
	}
	defer rows.Close()

	var out []TaskResult
	for rows.Next() {
		var r TaskResult
		var errStr sql.NullString
		var status string
		if err := rows.Scan(&r.RunID, &r.TaskID, &status, &r.Attempts, &r.DurationMS, &r.ExitCode, &errStr); err != nil {
			return nil, err
		}
		r.Status = TaskStatus(status)
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunLog reads the decision log for a run in insertion order.
func (s *Store) RunLog(runID string) ([]LogEntry, error) {
	rows, err := s.db.Query(
		`SELECT run_id, task_id, event, detail, created_at FROM run_log WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("run log: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var taskID, detail sql.NullString
		var created string
		if err := rows.Scan(&e.RunID, &taskID, &e.Event, &detail, &created); err != nil {
			return nil, err
		}
		e.TaskID = taskID.String
		e.Detail = detail.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-runs

// #region helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var started string
	var finished, reportPath sql.NullString
	var status string
	err := row.Scan(&rec.RunID, &rec.Project, &started, &finished, &status,
		&rec.TotalTasks, &rec.Failed, &rec.CacheHits, &reportPath)
	if err != nil {
		return RunRecord{}, err
	}
	rec.Status = RunStatus(status)
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished.Valid {
		rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
	}
	rec.ReportPath = reportPath.String
	return rec, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
