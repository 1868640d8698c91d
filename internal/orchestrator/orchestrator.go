// Package orchestrator coordinates a full run: plan the graph, execute
// the selected tasks, sample system metrics alongside, persist history,
// and write the run report.
package orchestrator

// #region imports
import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/cache"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/config"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/executor"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/metrics"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/report"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/store"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/taskgraph"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/taskservice"
)

// #endregion

// #region types

// Orchestrator owns the long-lived pieces a run needs.
type Orchestrator struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *store.Store
	cache   *cache.Cache // nil when caching disabled
	reports *report.Writer
	service *taskservice.Client // nil when the service is disabled
	graph   *taskgraph.Graph
}

// RunRequest selects and shapes one run.
type RunRequest struct {
	Targets     []string // task ids; empty = all tasks
	Tags        []string // keep only tasks carrying one of these tags
	MaxParallel int      // 0 = manifest value
	KeepGoing   bool
	NoCache     bool
}

// RunOutcome is what a run produced, for callers that render results.
type RunOutcome struct {
	RunID      string
	Report     report.Report
	ReportPath string
	Failed     bool
}

// PlanResult describes the schedule without running anything.
type PlanResult struct {
	Order        []string
	Waves        [][]string
	CriticalPath taskgraph.CriticalPath
}

// #endregion types

// #region constructor

// New opens the orchestrator's store, cache and report writer under the
// manifest's directory. Close releases them.
func New(cfg *config.Config, log *zap.Logger) (*Orchestrator, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(resolve(cfg.Dir, cfg.Run.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	o := &Orchestrator{
		cfg:     cfg,
		log:     log,
		store:   st,
		reports: report.NewWriter(resolve(cfg.Dir, cfg.Run.ReportsDir)),
		graph:   taskgraph.Build(cfg.Tasks),
	}

	if cfg.Cache.Enabled {
		cacheCfg := cfg.Cache
		cacheCfg.Dir = resolve(cfg.Dir, cacheCfg.Dir)
		c, err := cache.New(st.DB(), cacheCfg)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("open cache: %w", err)
		}
		o.cache = c
	}

	if cfg.Service.Enabled {
		o.service = taskservice.New(cfg.Service)
	}
	return o, nil
}

// Close releases the store. The cache shares its database handle.
func (o *Orchestrator) Close() error { return o.store.Close() }

// Store exposes run history for read-only commands.
func (o *Orchestrator) Store() *store.Store { return o.store }

// Cache exposes the artifact cache, nil when disabled.
func (o *Orchestrator) Cache() *cache.Cache { return o.cache }

// Reports exposes the report writer for read-only commands.
func (o *Orchestrator) Reports() *report.Writer { return o.reports }

// Graph exposes the dependency graph.
func (o *Orchestrator) Graph() *taskgraph.Graph { return o.graph }

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// #endregion constructor

// #region validate

// Validate checks the graph locally and, when the service is enabled,
// asks it to confirm. A remote failure downgrades to a log line; the
// local verdict decides.
func (o *Orchestrator) Validate(ctx context.Context) error {
	if c := o.graph.Cycle(); c != nil {
		return fmt.Errorf("dependency cycle: %s", cyclePath(c))
	}
	if o.service != nil {
		res, err := o.service.ValidateGraph(ctx, o.edges())
		if err != nil {
			o.log.Warn("remote graph validation unavailable", zap.Error(err))
		} else if !res.Valid {
			o.log.Warn("remote validation disagrees", zap.Strings("cycle", res.Cycle))
		}
	}
	return nil
}

func (o *Orchestrator) edges() []taskservice.Edge {
	var edges []taskservice.Edge
	for _, t := range o.cfg.Tasks {
		for _, need := range t.Needs {
			edges = append(edges, taskservice.Edge{From: need, To: t.ID})
		}
	}
	return edges
}

func cyclePath(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}

// #endregion validate

// #region plan

// Plan computes the schedule for the selected tasks using historical
// durations where the store has them. Waves and critical path cover
// only the selected closure, not the whole manifest.
func (o *Orchestrator) Plan(req RunRequest) (PlanResult, error) {
	order, err := o.selectTasks(req)
	if err != nil {
		return PlanResult{}, err
	}

	sub := o.subgraphOf(order)
	waves, err := sub.TopoWaves()
	if err != nil {
		return PlanResult{}, err
	}

	durations, err := o.store.Durations()
	if err != nil {
		return PlanResult{}, fmt.Errorf("load durations: %w", err)
	}
	cp, err := sub.CriticalPathFrom(durations)
	if err != nil {
		return PlanResult{}, err
	}
	return PlanResult{Order: order, Waves: waves, CriticalPath: cp}, nil
}

// subgraphOf builds a graph holding only the given (dependency-closed)
// ids.
func (o *Orchestrator) subgraphOf(ids []string) *taskgraph.Graph {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	specs := make([]config.TaskSpec, 0, len(ids))
	for _, t := range o.cfg.Tasks {
		if keep[t.ID] {
			specs = append(specs, t)
		}
	}
	return taskgraph.Build(specs)
}

// selectTasks resolves targets and tags to a dependency-closed, sorted
// id set. Unknown targets are an error; tags narrow before closure.
func (o *Orchestrator) selectTasks(req RunRequest) ([]string, error) {
	var seeds []string
	switch {
	case len(req.Targets) > 0:
		for _, id := range req.Targets {
			if !o.graph.Has(id) {
				return nil, fmt.Errorf("unknown task %q", id)
			}
			seeds = append(seeds, id)
		}
	case len(req.Tags) > 0:
		want := make(map[string]bool, len(req.Tags))
		for _, tag := range req.Tags {
			want[tag] = true
		}
		for _, t := range o.cfg.Tasks {
			for _, tag := range t.Tags {
				if want[tag] {
					seeds = append(seeds, t.ID)
					break
				}
			}
		}
		if len(seeds) == 0 {
			return nil, fmt.Errorf("no tasks match tags %v", req.Tags)
		}
	default:
		for _, t := range o.cfg.Tasks {
			seeds = append(seeds, t.ID)
		}
	}
	return o.graph.Subgraph(seeds), nil
}

// #endregion plan

// #region run

// Run executes the selected tasks and persists everything about the
// run. The returned error covers run-level failures only; task
// failures surface through RunOutcome.Failed.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	if err := o.Validate(ctx); err != nil {
		return nil, err
	}
	plan, err := o.Plan(req)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	if err := o.store.CreateRun(runID, o.cfg.Project.Name, startedAt); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	o.log.Info("run started",
		zap.String("run_id", runID),
		zap.Int("tasks", len(plan.Order)))

	var notes []string
	if o.service != nil {
		if err := o.service.SyncPlan(ctx, taskservice.Plan{
			RunID:        runID,
			Project:      o.cfg.Project.Name,
			Waves:        plan.Waves,
			CriticalPath: plan.CriticalPath.IDs,
		}); err != nil {
			o.log.Warn("plan sync failed", zap.Error(err))
			notes = append(notes, "plan sync failed: "+err.Error())
		}
	}

	event := func(taskID, event, detail string) {
		if err := o.store.LogEvent(store.LogEntry{
			RunID:  runID,
			TaskID: taskID,
			Event:  event,
			Detail: detail,
		}); err != nil {
			o.log.Warn("run log event dropped",
				zap.String("task", taskID),
				zap.String("event", event),
				zap.Error(err))
		}
	}

	sampler := metrics.NewSampler(metrics.NewCollector(o.cfg.Dir), time.Second)
	samplerCtx, stopSampler := context.WithCancel(context.Background())
	sampler.Start(samplerCtx)

	runCache := o.cache
	if req.NoCache {
		runCache = nil
	}
	exec := executor.New(*o.cfg, runCache, o.log, event)
	outcomes, execErr := exec.Execute(ctx, o.graph, plan.Order, executor.Options{
		MaxParallel: pick(req.MaxParallel, o.cfg.Run.MaxParallel),
		KeepGoing:   req.KeepGoing || o.cfg.Run.KeepGoing,
		NoCache:     req.NoCache,
	})

	stopSampler()
	sampler.Stop()
	endedAt := time.Now().UTC()

	o.persistOutcomes(runID, outcomes)

	var cacheStats cache.Stats
	if o.cache != nil {
		if cacheStats, err = o.cache.Stats(); err != nil {
			o.log.Warn("cache stats unavailable", zap.Error(err))
		}
	}

	rep := report.Build(report.BuildInput{
		RunID:     runID,
		Project:   o.cfg.Project.Name,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Outcomes:  outcomes,
		Order:     plan.Order,
		Plan:      report.CriticalPlan(plan.Waves, plan.CriticalPath),
		Cache:     cacheStats,
		System:    sampler.Summary(),
		Notes:     append(notes, runNotes(execErr)...),
	})

	path, werr := o.reports.Write(rep)
	if werr != nil {
		o.log.Warn("report not written", zap.Error(werr))
	}

	o.finishRun(runID, rep, path, execErr)

	out := &RunOutcome{
		RunID:      runID,
		Report:     rep,
		ReportPath: path,
		Failed:     rep.Totals.Failed > 0 || rep.Totals.Skipped > 0,
	}
	if execErr != nil {
		return out, execErr
	}
	o.log.Info("run finished",
		zap.String("run_id", runID),
		zap.String("status", rep.Status),
		zap.Duration("wall", rep.Totals.WallTime))
	return out, nil
}

// persistOutcomes writes per-task rows and feeds the duration EMA for
// tasks that actually executed.
func (o *Orchestrator) persistOutcomes(runID string, outcomes map[string]executor.TaskOutcome) {
	ids := make([]string, 0, len(outcomes))
	for id := range outcomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		oc := outcomes[id]
		if err := o.store.RecordTaskResult(store.TaskResult{
			RunID:      runID,
			TaskID:     id,
			Status:     store.TaskStatus(oc.Status),
			Attempts:   oc.Attempts,
			DurationMS: oc.Duration.Milliseconds(),
			ExitCode:   oc.ExitCode,
			Error:      oc.Err,
		}); err != nil {
			o.log.Warn("task result not recorded", zap.String("task", id), zap.Error(err))
		}
		if oc.Status == executor.StatusOK {
			if err := o.store.ObserveDuration(id, oc.Duration); err != nil {
				o.log.Warn("duration not recorded", zap.String("task", id), zap.Error(err))
			}
		}
	}
}

func (o *Orchestrator) finishRun(runID string, rep report.Report, reportPath string, execErr error) {
	status := store.RunSucceeded
	switch {
	case execErr != nil:
		status = store.RunCancelled
	case rep.Totals.Failed > 0 || rep.Totals.Skipped > 0:
		status = store.RunFailed
	}
	if err := o.store.FinishRun(store.RunRecord{
		RunID:      runID,
		FinishedAt: rep.EndedAt,
		Status:     status,
		TotalTasks: rep.Totals.Tasks,
		Failed:     rep.Totals.Failed,
		CacheHits:  rep.Totals.CacheHits,
		ReportPath: reportPath,
	}); err != nil {
		o.log.Warn("run not finalized", zap.String("run_id", runID), zap.Error(err))
	}
}

func runNotes(execErr error) []string {
	if execErr == nil {
		return nil
	}
	return []string{"run interrupted: " + execErr.Error()}
}

func pick(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}

// #endregion run
