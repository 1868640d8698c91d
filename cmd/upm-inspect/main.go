// Command upm-inspect reads a upm history database directly, without a
// manifest. Useful for poking at run history on CI machines.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/store"
	_ "modernc.org/sqlite"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to upm.db")
	last := flag.Int("last", 20, "show N most recent runs")
	runID := flag.String("run", "", "show single run detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: upm-inspect --db path/to/upm.db [--last N] [--run id] [--json]")
		os.Exit(2)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if *runID != "" {
		err = runDetailMode(st, *runID, *jsonOut)
	} else {
		err = runListMode(st, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID     string  `json:"run_id"`
	Project   string  `json:"project"`
	Status    string  `json:"status"`
	Tasks     int     `json:"tasks"`
	Failed    int     `json:"failed"`
	CacheHits int     `json:"cache_hits"`
	Duration  float64 `json:"duration_seconds"`
	StartedAt string  `json:"started_at"`
}

func runListMode(st *store.Store, last int, jsonOut bool) error {
	runs, err := st.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]listRow, len(runs))
	for i, r := range runs {
		var dur float64
		if !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Seconds()
		}
		rows[i] = listRow{
			RunID:     r.RunID,
			Project:   r.Project,
			Status:    string(r.Status),
			Tasks:     r.TotalTasks,
			Failed:    r.Failed,
			CacheHits: r.CacheHits,
			Duration:  dur,
			StartedAt: r.StartedAt.Format(time.RFC3339),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-16s  %-10s  %5s  %6s  %5s  %8s  %s\n",
		"Run", "Project", "Status", "Tasks", "Failed", "Hits", "Seconds", "Started")
	for _, r := range rows {
		fmt.Printf("%-10s  %-16s  %-10s  %5d  %6d  %5d  %8.1f  %s\n",
			shortID(r.RunID), r.Project, r.Status, r.Tasks, r.Failed, r.CacheHits, r.Duration, r.StartedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	Run   listRow           `json:"run"`
	Tasks []store.TaskResult `json:"tasks"`
	Log   []store.LogEntry   `json:"log"`
}

func runDetailMode(st *store.Store, runID string, jsonOut bool) error {
	rec, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	tasks, err := st.TaskResults(runID)
	if err != nil {
		return err
	}
	log, err := st.RunLog(runID)
	if err != nil {
		return err
	}

	out := detailOutput{
		Run: listRow{
			RunID:     rec.RunID,
			Project:   rec.Project,
			Status:    string(rec.Status),
			Tasks:     rec.TotalTasks,
			Failed:    rec.Failed,
			CacheHits: rec.CacheHits,
			StartedAt: rec.StartedAt.Format(time.RFC3339),
		},
		Tasks: tasks,
		Log:   log,
	}
	if !rec.FinishedAt.IsZero() {
		out.Run.Duration = rec.FinishedAt.Sub(rec.StartedAt).Seconds()
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Run:     %s\n", rec.RunID)
	fmt.Printf("Project: %s\n", rec.Project)
	fmt.Printf("Status:  %s\n", rec.Status)
	fmt.Printf("Started: %s\n", out.Run.StartedAt)
	if rec.ReportPath != "" {
		fmt.Printf("Report:  %s\n", rec.ReportPath)
	}

	fmt.Printf("\nTasks:\n")
	for _, t := range tasks {
		errStr := ""
		if t.Error != "" {
			errStr = "  " + t.Error
		}
		fmt.Printf("  %-20s %-10s %2d attempts  %6dms%s\n",
			t.TaskID, t.Status, t.Attempts, t.DurationMS, errStr)
	}

	if len(log) > 0 {
		fmt.Printf("\nDecisions:\n")
		for _, e := range log {
			fmt.Printf("  %s  %-20s %-14s %s\n",
				e.CreatedAt.Format("15:04:05"), e.TaskID, e.Event, e.Detail)
		}
	}
	return nil
}

// #endregion detail-mode

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
