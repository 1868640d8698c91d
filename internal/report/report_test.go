package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/executor"
)

func sampleOutcomes() (map[string]executor.TaskOutcome, []string) {
	outcomes := map[string]executor.TaskOutcome{
		"build": {TaskID: "build", Status: executor.StatusOK, Attempts: 1, Duration: 4 * time.Second},
		"test":  {TaskID: "test", Status: executor.StatusFailed, Attempts: 2, Duration: 2 * time.Second, ExitCode: 1, Failure: executor.FailureFatal, Err: "exit status 1"},
		"lint":  {TaskID: "lint", Status: executor.StatusCacheHit},
		"ship":  {TaskID: "ship", Status: executor.StatusSkipped, Err: "dependency test failed"},
	}
	return outcomes, []string{"build", "lint", "test", "ship"}
}

// #region test-build
func TestBuildComputesTotals(t *testing.T) {
	outcomes, order := sampleOutcomes()
	started := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	r := Build(BuildInput{
		RunID:     "0c9a1f22-aaaa-bbbb-cccc-000000000000",
		Project:   "demo",
		StartedAt: started,
		EndedAt:   started.Add(3 * time.Second),
		Outcomes:  outcomes,
		Order:     order,
	})

	if r.Status != "failed" {
		t.Errorf("status: %q", r.Status)
	}
	tot := r.Totals
	if tot.Tasks != 4 || tot.Succeeded != 1 || tot.Failed != 1 || tot.Skipped != 1 || tot.CacheHits != 1 {
		t.Errorf("totals: %+v", tot)
	}
	if tot.WallTime != 3*time.Second || tot.SerialTime != 6*time.Second {
		t.Errorf("times: %+v", tot)
	}
	if tot.Speedup != 2.0 {
		t.Errorf("speedup: %v", tot.Speedup)
	}
	// executed = ok + failed + cache hits = 3
	if want := 1.0 / 3.0; tot.CacheRate < want-1e-9 || tot.CacheRate > want+1e-9 {
		t.Errorf("cache rate: %v", tot.CacheRate)
	}
	if want := 2.0 / 3.0; tot.SuccessRate < want-1e-9 || tot.SuccessRate > want+1e-9 {
		t.Errorf("success rate: %v", tot.SuccessRate)
	}

	// Deterministic order follows Order, not map iteration.
	if r.Tasks[0].TaskID != "build" || r.Tasks[3].TaskID != "ship" {
		t.Errorf("task order: %+v", r.Tasks)
	}

	var allOK *SummaryMetric
	for i := range r.Summary {
		if r.Summary[i].Name == "all_tasks_succeeded" {
			allOK = &r.Summary[i]
		}
	}
	if allOK == nil || allOK.Pass {
		t.Errorf("all_tasks_succeeded should fail: %+v", r.Summary)
	}
}

func TestBuildAllGreen(t *testing.T) {
	outcomes := map[string]executor.TaskOutcome{
		"build": {TaskID: "build", Status: executor.StatusOK, Duration: time.Second},
	}
	r := Build(BuildInput{
		RunID: "r", Project: "demo",
		StartedAt: time.Now(), EndedAt: time.Now().Add(time.Second),
		Outcomes: outcomes, Order: []string{"build"},
	})
	if r.Status != "succeeded" || r.Totals.SuccessRate != 1.0 {
		t.Errorf("report: %+v", r.Totals)
	}
}

func TestBuildEmptyRun(t *testing.T) {
	r := Build(BuildInput{RunID: "r", Project: "demo", StartedAt: time.Now(), EndedAt: time.Now()})
	if r.Status != "succeeded" || r.Totals.Tasks != 0 {
		t.Errorf("empty run: %+v", r.Totals)
	}
}

// #endregion test-build

// #region test-writer
func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	outcomes, order := sampleOutcomes()
	started := time.Date(2026, 8, 26, 9, 30, 0, 0, time.UTC)
	r := Build(BuildInput{
		RunID: "11112222-3333-4444-5555-666677778888", Project: "My Project!",
		StartedAt: started, EndedAt: started.Add(time.Second),
		Outcomes: outcomes, Order: order,
	})

	path, err := w.Write(r)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "My-Project-_20260826T093000Z_11112222") {
		t.Errorf("report name: %q", base)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("report file: %v", err)
	}

	entries, err := w.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].RunID != r.RunID || entries[0].Status != "failed" {
		t.Errorf("index: %+v", entries)
	}

	loaded, err := w.Load("11112222")
	if err != nil {
		t.Fatalf("load by prefix: %v", err)
	}
	if loaded.Totals.Tasks != 4 || loaded.Tasks[2].Error != "exit status 1" {
		t.Errorf("loaded report: %+v", loaded.Totals)
	}
}

func TestWriterListNewestFirst(t *testing.T) {
	w := NewWriter(t.TempDir())
	base := time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-old", "run-mid", "run-new"} {
		r := Build(BuildInput{
			RunID: id, Project: "demo",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			EndedAt:   base.Add(time.Duration(i)*time.Hour + time.Minute),
		})
		if _, err := w.Write(r); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}

	entries, err := w.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if entries[0].RunID != "run-new" || entries[2].RunID != "run-old" {
		t.Errorf("order: %+v", entries)
	}
}

func TestWriterListNoIndex(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "never-written"))
	entries, err := w.List()
	if err != nil || entries != nil {
		t.Errorf("missing index should be empty, got %v %v", entries, err)
	}
}

func TestLoadUnknownRun(t *testing.T) {
	w := NewWriter(t.TempDir())
	if _, err := w.Load("nope"); err == nil {
		t.Fatal("expected not-found error")
	}
}

// #endregion test-writer
