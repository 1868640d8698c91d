package store

import "time"

// #region status

// RunStatus is the terminal state of a whole run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// TaskStatus is the terminal state of one task within a run.
type TaskStatus string

const (
	TaskOK       TaskStatus = "ok"
	TaskFailed   TaskStatus = "failed"
	TaskSkipped  TaskStatus = "skipped"
	TaskCacheHit TaskStatus = "cache_hit"
)

// #endregion status

// #region run-record

// RunRecord is one row in the runs table.
type RunRecord struct {
	RunID      string
	Project    string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     RunStatus
	TotalTasks int
	Failed     int
	CacheHits  int
	ReportPath string
}

// #endregion run-record

// #region task-result

// TaskResult is one row in the task_results table.
type TaskResult struct {
	RunID      string
	TaskID     string
	Status     TaskStatus
	Attempts   int
	DurationMS int64
	ExitCode   int
	Error      string
}

// #endregion task-result

// #region log-entry

// LogEntry is a provenance-style row in run_log: what was decided about a
// task and why, attributable to its run.
type LogEntry struct {
	RunID     string
	TaskID    string
	Event     string
	Detail    string
	CreatedAt time.Time
}

// #endregion log-entry
