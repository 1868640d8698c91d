package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/config"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "input.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	base := config.Default()
	cfg := &base
	cfg.Dir = root
	cfg.Project.Name = "demo"
	cfg.Cache.Enabled = true
	cfg.Tasks = []config.TaskSpec{
		{
			ID:      "build",
			Command: "cat input.txt > out.txt",
			Inputs:  []string{"input.txt"},
			Outputs: []string{"out.txt"},
			Tags:    []string{"ci"},
		},
		{
			ID:      "test",
			Command: "test -f out.txt",
			Needs:   []string{"build"},
			Tags:    []string{"ci"},
		},
		{
			ID:      "docs",
			Command: "true",
			Tags:    []string{"site"},
		},
	}
	return cfg
}

func open(t *testing.T, cfg *config.Config) *Orchestrator {
	t.Helper()
	o, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o
}

func TestRunPersistsEverything(t *testing.T) {
	cfg := testConfig(t)
	o := open(t, cfg)

	out, err := o.Run(context.Background(), RunRequest{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Failed {
		t.Fatalf("run failed: %+v", out.Report)
	}
	if out.Report.Totals.Succeeded != 3 {
		t.Fatalf("succeeded = %d, want 3", out.Report.Totals.Succeeded)
	}
	if out.ReportPath == "" {
		t.Fatal("no report path")
	}
	if _, err := os.Stat(out.ReportPath); err != nil {
		t.Fatalf("report file: %v", err)
	}

	rec, err := o.Store().GetRun(out.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != store.RunSucceeded || rec.TotalTasks != 3 {
		t.Fatalf("run record = %+v", rec)
	}

	results, err := o.Store().TaskResults(out.RunID)
	if err != nil {
		t.Fatalf("TaskResults: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("task results = %d, want 3", len(results))
	}
}

func TestSecondRunHitsCache(t *testing.T) {
	cfg := testConfig(t)
	o := open(t, cfg)

	ctx := context.Background()
	if _, err := o.Run(ctx, RunRequest{Targets: []string{"build"}}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	out, err := o.Run(ctx, RunRequest{Targets: []string{"build"}})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if out.Report.Totals.CacheHits != 1 {
		t.Fatalf("cache hits = %d, want 1", out.Report.Totals.CacheHits)
	}
}

func TestRunRecordsFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tasks[0].Command = "exit 1"
	cfg.Tasks[0].Outputs = nil
	o := open(t, cfg)

	out, err := o.Run(context.Background(), RunRequest{Targets: []string{"test"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.Failed {
		t.Fatal("expected failed run")
	}
	if out.Report.Totals.Failed != 1 || out.Report.Totals.Skipped != 1 {
		t.Fatalf("totals = %+v", out.Report.Totals)
	}

	rec, err := o.Store().GetRun(out.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != store.RunFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}

	log, err := o.Store().RunLog(out.RunID)
	if err != nil {
		t.Fatalf("RunLog: %v", err)
	}
	if len(log) == 0 {
		t.Fatal("expected run log events")
	}
}

func TestRunDefaultTimeoutsFromCodeBuiltConfig(t *testing.T) {
	// Tasks appended to config.Default() carry no per-task timeout;
	// they must inherit run.default_timeout instead of expiring at 0.
	base := config.Default()
	cfg := &base
	cfg.Dir = t.TempDir()
	cfg.Project.Name = "demo"
	cfg.Tasks = []config.TaskSpec{
		{ID: "sleepy", Command: "sleep 0.05"},
	}
	o := open(t, cfg)

	out, err := o.Run(context.Background(), RunRequest{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	oc := out.Report.Tasks[0]
	if oc.Status != "ok" {
		t.Fatalf("task = %+v", oc)
	}
}

func TestParallelRunKeepsEveryLogEvent(t *testing.T) {
	base := config.Default()
	cfg := &base
	cfg.Dir = t.TempDir()
	cfg.Project.Name = "demo"
	cfg.Cache.Enabled = true
	cfg.Run.MaxParallel = 8
	const tasks = 8
	for i := 0; i < tasks; i++ {
		id := fmt.Sprintf("t%d", i)
		cfg.Tasks = append(cfg.Tasks, config.TaskSpec{
			ID:      id,
			Command: fmt.Sprintf("echo %s > %s.out", id, id),
			Outputs: []string{id + ".out"},
		})
	}
	o := open(t, cfg)

	out, err := o.Run(context.Background(), RunRequest{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Failed {
		t.Fatalf("run failed: %+v", out.Report.Totals)
	}

	// Every task decides twice on a cold cache: miss, then store.
	log, err := o.Store().RunLog(out.RunID)
	if err != nil {
		t.Fatalf("RunLog: %v", err)
	}
	if want := tasks * 2; len(log) != want {
		t.Fatalf("run log rows = %d, want %d", len(log), want)
	}
}

func TestPlanTargetsClosure(t *testing.T) {
	cfg := testConfig(t)
	o := open(t, cfg)

	plan, err := o.Plan(RunRequest{Targets: []string{"test"}})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := []string{"build", "test"}
	if len(plan.Order) != len(want) {
		t.Fatalf("order = %v, want %v", plan.Order, want)
	}
	for i := range want {
		if plan.Order[i] != want[i] {
			t.Fatalf("order = %v, want %v", plan.Order, want)
		}
	}
	if len(plan.Waves) != 2 {
		t.Fatalf("waves = %v", plan.Waves)
	}
}

func TestPlanCriticalPathStaysInsideSelection(t *testing.T) {
	cfg := testConfig(t)
	o := open(t, cfg)

	plan, err := o.Plan(RunRequest{Targets: []string{"build"}})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Order) != 1 || plan.Order[0] != "build" {
		t.Fatalf("order = %v, want [build]", plan.Order)
	}
	for _, id := range plan.CriticalPath.IDs {
		if id != "build" {
			t.Fatalf("critical path leaves selection: %v", plan.CriticalPath.IDs)
		}
	}
	if len(plan.Waves) != 1 {
		t.Fatalf("waves = %v, want a single wave", plan.Waves)
	}
}

func TestPlanUnknownTarget(t *testing.T) {
	cfg := testConfig(t)
	o := open(t, cfg)

	if _, err := o.Plan(RunRequest{Targets: []string{"ghost"}}); err == nil {
		t.Fatal("expected error for unknown target")
	}
}

func TestTagSelection(t *testing.T) {
	cfg := testConfig(t)
	o := open(t, cfg)

	plan, err := o.Plan(RunRequest{Tags: []string{"site"}})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Order) != 1 || plan.Order[0] != "docs" {
		t.Fatalf("order = %v, want [docs]", plan.Order)
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tasks = []config.TaskSpec{
		{ID: "a", Command: "true", Needs: []string{"b"}},
		{ID: "b", Command: "true", Needs: []string{"a"}},
	}

	o := open(t, cfg)
	if err := o.Validate(context.Background()); err == nil {
		t.Fatal("expected cycle error")
	}
}
