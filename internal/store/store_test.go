package store

import (
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "upm.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// #region test-run-lifecycle
func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	started := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	if err := s.CreateRun("run-1", "demo", started); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := s.RecordTaskResult(TaskResult{
		RunID: "run-1", TaskID: "build", Status: TaskOK, Attempts: 1, DurationMS: 1200,
	}); err != nil {
		t.Fatalf("record result: %v", err)
	}
	if err := s.RecordTaskResult(TaskResult{
		RunID: "run-1", TaskID: "test", Status: TaskFailed, Attempts: 3, ExitCode: 1, Error: "exit status 1",
	}); err != nil {
		t.Fatalf("record result: %v", err)
	}
	if err := s.FinishRun(RunRecord{
		RunID: "run-1", FinishedAt: started.Add(time.Minute), Status: RunFailed,
		TotalTasks: 2, Failed: 1, ReportPath: "reports/demo.json",
	}); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	rec, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if rec.Status != RunFailed || rec.TotalTasks != 2 || rec.Failed != 1 {
		t.Errorf("unexpected run record: %+v", rec)
	}
	if !rec.StartedAt.Equal(started) {
		t.Errorf("started_at round trip: got %v", rec.StartedAt)
	}

	results, err := s.TaskResults("run-1")
	if err != nil {
		t.Fatalf("task results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[1].Status != TaskFailed || results[1].Error != "exit status 1" {
		t.Errorf("unexpected failed result: %+v", results[1])
	}
}

func TestFinishRunUnknownID(t *testing.T) {
	s := openTestStore(t)
	err := s.FinishRun(RunRecord{RunID: "ghost", FinishedAt: time.Now(), Status: RunSucceeded})
	if err == nil {
		t.Fatal("expected error for unknown run")
	}
}

// #endregion test-run-lifecycle

// #region test-durations
func TestObserveDurationEMA(t *testing.T) {
	s := openTestStore(t)

	if err := s.ObserveDuration("build", 10*time.Second); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := s.ObserveDuration("build", 20*time.Second); err != nil {
		t.Fatalf("observe: %v", err)
	}

	durs, err := s.Durations()
	if err != nil {
		t.Fatalf("durations: %v", err)
	}
	// 0.3*20000 + 0.7*10000 = 13000ms
	got := durs["build"].Seconds()
	if math.Abs(got-13.0) > 0.01 {
		t.Errorf("ema: got %.3fs want 13s", got)
	}
}

// #endregion test-durations

// #region test-run-log
func TestRunLogOrderAndAttribution(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateRun("run-1", "demo", time.Now()); err != nil {
		t.Fatalf("create run: %v", err)
	}

	events := []LogEntry{
		{RunID: "run-1", TaskID: "build", Event: "cache_miss", Detail: "key 4f2a"},
		{RunID: "run-1", TaskID: "build", Event: "cache_store", Detail: "admitted"},
		{RunID: "run-1", Event: "run_finished"},
	}
	for _, e := range events {
		if err := s.LogEvent(e); err != nil {
			t.Fatalf("log event: %v", err)
		}
	}

	log, err := s.RunLog("run-1")
	if err != nil {
		t.Fatalf("run log: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(log))
	}
	if log[0].Event != "cache_miss" || log[2].Event != "run_finished" {
		t.Errorf("order wrong: %+v", log)
	}
	if log[2].TaskID != "" {
		t.Errorf("run-level entry should have empty task id, got %q", log[2].TaskID)
	}
	if log[0].CreatedAt.IsZero() {
		t.Errorf("created_at should be stamped")
	}
}

func TestRunLogConcurrentWriters(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateRun("run-1", "demo", time.Now()); err != nil {
		t.Fatalf("create run: %v", err)
	}

	// Task goroutines log decisions in parallel during a run; every
	// event must land, none may be lost to a busy database.
	const writers = 16
	const perWriter = 4
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				errs <- s.LogEvent(LogEntry{
					RunID:  "run-1",
					TaskID: fmt.Sprintf("task-%d", w),
					Event:  "cache_miss",
					Detail: fmt.Sprintf("event %d", i),
				})
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("log event: %v", err)
		}
	}

	log, err := s.RunLog("run-1")
	if err != nil {
		t.Fatalf("run log: %v", err)
	}
	if len(log) != writers*perWriter {
		t.Fatalf("expected %d entries, got %d", writers*perWriter, len(log))
	}
}

// #endregion test-run-log

// #region test-list
func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := s.CreateRun(id, "demo", base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-c" || runs[1].RunID != "run-b" {
		t.Errorf("unexpected order: %+v", runs)
	}
}

// #endregion test-list
