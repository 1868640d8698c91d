// Package report turns a finished run into a JSON report whose every
// number is computed from measured data, and writes it to the reports
// directory with a JSONL index.
package report

// #region imports
import (
	"fmt"
	"time"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/cache"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/executor"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/metrics"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/taskgraph"
)

// #endregion

// #region types

// Report is the full run report serialized to disk.
type Report struct {
	RunID     string    `json:"run_id"`
	Project   string    `json:"project"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Status    string    `json:"status"`

	Totals  Totals               `json:"totals"`
	Tasks   []TaskEntry          `json:"tasks"`
	Plan    PlanInfo             `json:"plan"`
	Cache   cache.Stats          `json:"cache"`
	System  metrics.Summary      `json:"system"`
	Summary []SummaryMetric      `json:"summary"`
	Notes   []string             `json:"notes,omitempty"`
}

// Totals are run-level counters derived from task outcomes.
type Totals struct {
	Tasks       int           `json:"tasks"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	CacheHits   int           `json:"cache_hits"`
	WallTime    time.Duration `json:"wall_time_ns"`
	SerialTime  time.Duration `json:"serial_time_ns"`
	Speedup     float64       `json:"speedup"`
	CacheRate   float64       `json:"cache_hit_rate"`
	SuccessRate float64       `json:"success_rate"`
}

// TaskEntry is one task's outcome in the report.
type TaskEntry struct {
	TaskID     string        `json:"task_id"`
	Status     string        `json:"status"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration_ns"`
	ExitCode   int           `json:"exit_code,omitempty"`
	Failure    string        `json:"failure,omitempty"`
	Error      string        `json:"error,omitempty"`
	OutputTail string        `json:"output_tail,omitempty"`
}

// PlanInfo records what the scheduler decided before running.
type PlanInfo struct {
	Waves        [][]string    `json:"waves"`
	CriticalPath []string      `json:"critical_path"`
	CriticalTime time.Duration `json:"critical_time_ns"`
}

// SummaryMetric is a named check over the run: the value is measured and
// the pass flag is derived from it.
type SummaryMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// #endregion types

// #region build

// BuildInput carries everything Build aggregates.
type BuildInput struct {
	RunID     string
	Project   string
	StartedAt time.Time
	EndedAt   time.Time
	Outcomes  map[string]executor.TaskOutcome
	Order     []string // task order for deterministic report layout
	Plan      PlanInfo
	Cache     cache.Stats
	System    metrics.Summary
	Notes     []string
}

// Build computes the report from run data.
func Build(in BuildInput) Report {
	r := Report{
		RunID:     in.RunID,
		Project:   in.Project,
		StartedAt: in.StartedAt.UTC(),
		EndedAt:   in.EndedAt.UTC(),
		Plan:      in.Plan,
		Cache:     in.Cache,
		System:    in.System,
		Notes:     in.Notes,
	}

	var serial time.Duration
	for _, id := range in.Order {
		o, ok := in.Outcomes[id]
		if !ok {
			continue
		}
		r.Tasks = append(r.Tasks, TaskEntry{
			TaskID:     o.TaskID,
			Status:     string(o.Status),
			Attempts:   o.Attempts,
			Duration:   o.Duration,
			ExitCode:   o.ExitCode,
			Failure:    failureString(o.Failure),
			Error:      o.Err,
			OutputTail: o.OutputTail,
		})
		serial += o.Duration

		r.Totals.Tasks++
		switch o.Status {
		case executor.StatusOK:
			r.Totals.Succeeded++
		case executor.StatusFailed:
			r.Totals.Failed++
		case executor.StatusSkipped:
			r.Totals.Skipped++
		case executor.StatusCacheHit:
			r.Totals.CacheHits++
		}
	}

	r.Totals.WallTime = in.EndedAt.Sub(in.StartedAt)
	r.Totals.SerialTime = serial
	if r.Totals.WallTime > 0 && serial > 0 {
		r.Totals.Speedup = float64(serial) / float64(r.Totals.WallTime)
	}
	executed := r.Totals.Succeeded + r.Totals.Failed + r.Totals.CacheHits
	if executed > 0 {
		r.Totals.CacheRate = float64(r.Totals.CacheHits) / float64(executed)
		r.Totals.SuccessRate = float64(r.Totals.Succeeded+r.Totals.CacheHits) / float64(executed)
	}

	if r.Totals.Failed == 0 && r.Totals.Skipped == 0 {
		r.Status = "succeeded"
	} else {
		r.Status = "failed"
	}

	r.Summary = []SummaryMetric{
		{Name: "all_tasks_succeeded", Value: float64(r.Totals.Failed), Pass: r.Totals.Failed == 0},
		{Name: "success_rate", Value: r.Totals.SuccessRate, Pass: r.Totals.SuccessRate == 1},
		{Name: "cache_hit_rate", Value: r.Totals.CacheRate, Pass: true},
		{Name: "speedup", Value: r.Totals.Speedup, Pass: true},
	}

	return r
}

func failureString(k executor.FailureKind) string {
	if k == "" || k == executor.FailureNone {
		return ""
	}
	return string(k)
}

// CriticalPlan converts a graph critical path into report plan info.
func CriticalPlan(waves [][]string, cp taskgraph.CriticalPath) PlanInfo {
	return PlanInfo{Waves: waves, CriticalPath: cp.IDs, CriticalTime: cp.Total}
}

// #endregion build

// #region status-string

// StatusLine renders a one-line human summary.
func (r Report) StatusLine() string {
	return fmt.Sprintf("%s: %d ok, %d cached, %d failed, %d skipped in %s",
		r.Status, r.Totals.Succeeded, r.Totals.CacheHits, r.Totals.Failed,
		r.Totals.Skipped, r.Totals.WallTime.Round(time.Millisecond))
}

// #endregion status-string
