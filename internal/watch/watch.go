// Package watch maps filesystem changes to the tasks whose inputs they
// touch. Events are debounced so a burst of saves triggers one rebuild.
package watch

// #region imports
import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/config"
	"github.com/glebbrain/manager-arent-ai-sub004/internal/taskgraph"
)

// #endregion

// DefaultDebounce batches events that land close together.
const DefaultDebounce = 300 * time.Millisecond

// TriggerFunc receives the affected task closure after a quiet period.
// The ids are sorted and already include reverse-dependency fallout.
type TriggerFunc func(ctx context.Context, taskIDs []string)

// Watcher observes task input directories and fires TriggerFunc with
// the tasks whose inputs changed plus everything downstream of them.
type Watcher struct {
	cfg      *config.Config
	graph    *taskgraph.Graph
	log      *zap.Logger
	debounce time.Duration
	trigger  TriggerFunc

	mu    sync.Mutex
	dirty map[string]struct{} // task ids with changed inputs
	timer *time.Timer
}

// New builds a watcher over the manifest's task inputs.
func New(cfg *config.Config, g *taskgraph.Graph, log *zap.Logger, trigger TriggerFunc) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		cfg:      cfg,
		graph:    g,
		log:      log,
		debounce: DefaultDebounce,
		trigger:  trigger,
		dirty:    make(map[string]struct{}),
	}
}

// SetDebounce overrides the quiet period, used by tests.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	dirs, err := w.watchDirs()
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}
	w.log.Info("watching", zap.Int("dirs", len(dirs)))

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New directories join the watch set so nested creates
			// keep arriving.
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = fsw.Add(ev.Name)
				}
			}
			w.handle(ctx, ev.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

// #region matching

// watchDirs collects every directory that can contain task inputs:
// each task's working directory and its subdirectories.
func (w *Watcher) watchDirs() ([]string, error) {
	seen := make(map[string]struct{})
	for _, t := range w.cfg.Tasks {
		root := w.cfg.TaskDir(t)
		err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return nil // unreadable subtree, skip
			}
			if !fi.IsDir() {
				return nil
			}
			base := filepath.Base(path)
			if base == ".git" || base == ".upm" || base == w.cfg.Run.ReportsDir {
				return filepath.SkipDir
			}
			seen[path] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// tasksFor returns the ids whose input globs match the changed path.
func (w *Watcher) tasksFor(path string) []string {
	var ids []string
	for _, t := range w.cfg.Tasks {
		dir := w.cfg.TaskDir(t)
		rel, err := filepath.Rel(dir, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		for _, glob := range t.Inputs {
			if matchGlob(filepath.ToSlash(glob), rel) {
				ids = append(ids, t.ID)
				break
			}
		}
	}
	return ids
}

// matchGlob extends filepath.Match with a trailing "dir/**" form that
// matches everything under dir.
func matchGlob(glob, rel string) bool {
	if strings.HasSuffix(glob, "/**") {
		return strings.HasPrefix(rel, strings.TrimSuffix(glob, "**"))
	}
	ok, err := filepath.Match(glob, rel)
	return err == nil && ok
}

// #endregion matching

// #region debounce

func (w *Watcher) handle(ctx context.Context, path string) {
	ids := w.tasksFor(path)
	if len(ids) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range ids {
		w.dirty[id] = struct{}{}
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.flush(ctx) })
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	changed := make([]string, 0, len(w.dirty))
	for id := range w.dirty {
		changed = append(changed, id)
	}
	w.dirty = make(map[string]struct{})
	w.mu.Unlock()

	if len(changed) == 0 || ctx.Err() != nil {
		return
	}
	affected := w.graph.Affected(changed)
	w.log.Info("inputs changed",
		zap.Strings("tasks", changed),
		zap.Int("affected", len(affected)))
	w.trigger(ctx, affected)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// #endregion debounce
