// Package executor runs a selected task set over the dependency graph:
// bounded parallelism, per-task timeouts, retry with failure
// classification, cache short-circuiting, and dependent skipping.
package executor

// #region imports
import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/cache"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/config"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/taskgraph"
)

// #endregion

// #region types

// outputTailBytes bounds how much task output is retained per task.
const outputTailBytes = 4096

// TaskOutcome is the final result of one task within a run.
type TaskOutcome struct {
	TaskID     string        `json:"task_id"`
	Status     Status        `json:"status"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
	ExitCode   int           `json:"exit_code"`
	Failure    FailureKind   `json:"failure,omitempty"`
	Err        string        `json:"error,omitempty"`
	OutputTail string        `json:"output_tail,omitempty"`
}

// Status is a task's terminal state.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
	StatusCacheHit Status = "cache_hit"
)

// Options are per-invocation knobs layered over the manifest's run config.
type Options struct {
	MaxParallel int
	KeepGoing   bool
	NoCache     bool
}

// EventFunc receives decision events for the run log. May be nil.
type EventFunc func(taskID, event, detail string)

// Executor schedules and runs tasks.
type Executor struct {
	cfg   config.Config
	cache *cache.Cache // nil = caching disabled
	log   *zap.Logger
	event EventFunc
}

// #endregion types

// #region constructor

// New wires an executor. cache may be nil; event may be nil.
func New(cfg config.Config, c *cache.Cache, logger *zap.Logger, event EventFunc) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if event == nil {
		event = func(string, string, string) {}
	}
	return &Executor{cfg: cfg, cache: c, log: logger, event: event}
}

// #endregion constructor

// #region execute

// Execute runs the tasks in ids (which must be dependency-closed, see
// taskgraph.Subgraph) and returns every task's outcome keyed by ID. The
// returned error is non-nil only for run-level failures (cancellation,
// internal errors); individual task failures live in the outcomes.
func (e *Executor) Execute(ctx context.Context, g *taskgraph.Graph, ids []string, opts Options) (map[string]TaskOutcome, error) {
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = e.cfg.Run.MaxParallel
	}

	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}

	var mu sync.Mutex
	outcomes := make(map[string]TaskOutcome, len(ids))
	done := make(map[string]chan struct{}, len(ids))
	for _, id := range ids {
		done[id] = make(chan struct{})
	}

	record := func(o TaskOutcome) {
		mu.Lock()
		outcomes[o.TaskID] = o
		mu.Unlock()
	}
	outcomeOf := func(id string) TaskOutcome {
		mu.Lock()
		defer mu.Unlock()
		return outcomes[id]
	}

	grp, runCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxParallel)

	for _, id := range ids {
		id := id
		grp.Go(func() error {
			defer close(done[id])

			// Wait for dependencies.
			for _, dep := range g.Needs(id) {
				if !selected[dep] {
					continue
				}
				select {
				case <-done[dep]:
				case <-runCtx.Done():
					record(TaskOutcome{TaskID: id, Status: StatusSkipped, Failure: FailureCancelled})
					return nil
				}
				depOutcome := outcomeOf(dep)
				if depOutcome.Status != StatusOK && depOutcome.Status != StatusCacheHit {
					record(TaskOutcome{
						TaskID: id, Status: StatusSkipped,
						Err: fmt.Sprintf("dependency %s %s", dep, depOutcome.Status),
					})
					e.event(id, "skipped", "dependency "+dep+" did not succeed")
					return nil
				}
			}

			// Bounded parallelism.
			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				record(TaskOutcome{TaskID: id, Status: StatusSkipped, Failure: FailureCancelled})
				return nil
			}
			defer func() { <-sem }()

			outcome := e.runTask(ctx, runCtx, id, opts)
			record(outcome)

			if outcome.Status == StatusFailed && !opts.KeepGoing {
				return fmt.Errorf("task %s failed", id)
			}
			return nil
		})
	}

	waitErr := grp.Wait()

	// Anything never recorded (scheduler torn down first) is skipped.
	mu.Lock()
	for _, id := range ids {
		if _, ok := outcomes[id]; !ok {
			outcomes[id] = TaskOutcome{TaskID: id, Status: StatusSkipped, Failure: FailureCancelled}
		}
	}
	mu.Unlock()

	if ctx.Err() != nil {
		return outcomes, ctx.Err()
	}
	// Fail-fast group errors are task failures, already in the outcomes.
	_ = waitErr
	return outcomes, nil
}

// #endregion execute

// #region run-task

func (e *Executor) runTask(parentCtx, runCtx context.Context, id string, opts Options) TaskOutcome {
	spec, ok := e.cfg.Task(id)
	if !ok {
		return TaskOutcome{TaskID: id, Status: StatusFailed, Failure: FailureFatal, Err: "unknown task"}
	}
	taskDir := e.cfg.TaskDir(spec)

	// Cache short-circuit.
	var key string
	if e.cache != nil && !opts.NoCache {
		var err error
		key, err = cache.Key(taskDir, spec)
		if err != nil {
			e.log.Warn("cache key failed, running task", zap.String("task", id), zap.Error(err))
		} else {
			hit, err := e.cache.Lookup(key, taskDir)
			if err != nil {
				e.log.Warn("cache lookup failed", zap.String("task", id), zap.Error(err))
			} else if hit {
				e.event(id, "cache_hit", shortKey(key))
				return TaskOutcome{TaskID: id, Status: StatusCacheHit}
			} else {
				e.event(id, "cache_miss", shortKey(key))
			}
		}
	}

	maxAttempts := spec.Retries + 1
	var last TaskOutcome
	start := time.Now()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := Backoff(attempt - 1)
			e.event(id, "retry", fmt.Sprintf("attempt %d after %s (%s)", attempt+1, delay.Round(time.Millisecond), last.Failure))
			select {
			case <-time.After(delay):
			case <-runCtx.Done():
				last.Failure = FailureCancelled
				last.Status = StatusFailed
				last.Duration = time.Since(start)
				return last
			}
		}

		last = e.attempt(parentCtx, runCtx, spec, taskDir, id)
		last.Attempts = attempt + 1
		if last.Status == StatusOK || !last.Failure.Retryable() {
			break
		}
		e.log.Info("task attempt failed",
			zap.String("task", id),
			zap.Int("attempt", attempt+1),
			zap.String("failure", string(last.Failure)))
	}
	last.Duration = time.Since(start)

	// Store outputs on success.
	if e.cache != nil && !opts.NoCache && key != "" {
		decision, err := e.cache.Store(key, id, taskDir, spec.Outputs, last.Status == StatusOK)
		if err != nil {
			e.log.Warn("cache store failed", zap.String("task", id), zap.Error(err))
		} else if decision.Admit {
			e.event(id, "cache_store", shortKey(key))
		} else {
			e.event(id, "cache_reject", decision.Reason)
		}
	}

	return last
}

// attempt runs the command once under the task timeout. A task without
// its own timeout inherits the run default; with neither set it runs
// unbounded (cancellation still applies through runCtx).
func (e *Executor) attempt(parentCtx, runCtx context.Context, spec config.TaskSpec, taskDir, id string) TaskOutcome {
	timeout := spec.Timeout.Std()
	if timeout <= 0 {
		timeout = e.cfg.Run.DefaultTimeout.Std()
	}
	var attemptCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(runCtx, timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(runCtx)
	}
	defer cancel()

	tail := newTailWriter(outputTailBytes)
	cmd := exec.CommandContext(attemptCtx, "sh", "-c", spec.Command)
	cmd.Dir = taskDir
	cmd.Stdout = tail
	cmd.Stderr = tail
	cmd.Env = taskEnv(spec.Env)

	runErr := cmd.Run()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if runErr == nil {
		return TaskOutcome{TaskID: id, Status: StatusOK, OutputTail: tail.String()}
	}

	kind := Classify(parentCtx, attemptCtx, runErr, exitCode)
	return TaskOutcome{
		TaskID:     id,
		Status:     StatusFailed,
		ExitCode:   exitCode,
		Failure:    kind,
		Err:        runErr.Error(),
		OutputTail: tail.String(),
	}
}

// #endregion run-task

// #region helpers

func taskEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

// #endregion helpers
