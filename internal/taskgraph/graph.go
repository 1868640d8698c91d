// Package taskgraph builds the task dependency DAG and answers the
// scheduling questions upm needs: is it acyclic, in what order do tasks
// run, which path bounds the wall time, and what is downstream of a change.
package taskgraph

// #region imports
import (
	"fmt"
	"sort"
	"time"

	"github.com/glebbrain/manager-arent-ai-sub004/internal/config"
)

// #endregion

// #region types

// Graph is the immutable dependency graph over a manifest's tasks.
type Graph struct {
	ids     []string            // all task IDs, insertion order
	deps    map[string][]string // task -> tasks it needs
	rdeps   map[string][]string // task -> tasks that need it
	present map[string]bool
}

// CriticalPath is the longest duration-weighted path through the DAG.
type CriticalPath struct {
	IDs   []string
	Total time.Duration
}

// #endregion types

// #region build

// Build constructs a graph from task specs. Specs must already have passed
// config.Validate, so every Needs target exists; duplicate edges collapse.
func Build(tasks []config.TaskSpec) *Graph {
	g := &Graph{
		deps:    make(map[string][]string, len(tasks)),
		rdeps:   make(map[string][]string, len(tasks)),
		present: make(map[string]bool, len(tasks)),
	}
	for _, t := range tasks {
		g.ids = append(g.ids, t.ID)
		g.present[t.ID] = true
	}
	for _, t := range tasks {
		seen := make(map[string]bool, len(t.Needs))
		for _, dep := range t.Needs {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.deps[t.ID] = append(g.deps[t.ID], dep)
			g.rdeps[dep] = append(g.rdeps[dep], t.ID)
		}
	}
	return g
}

// #endregion build

// #region accessors

// Len returns the number of tasks in the graph.
func (g *Graph) Len() int { return len(g.ids) }

// Has reports whether id is a known task.
func (g *Graph) Has(id string) bool { return g.present[id] }

// Needs returns the direct dependencies of id.
func (g *Graph) Needs(id string) []string { return g.deps[id] }

// Dependents returns the tasks that directly need id.
func (g *Graph) Dependents(id string) []string { return g.rdeps[id] }

// #endregion accessors

// #region cycle

// Cycle returns the first dependency cycle found as an ordered ID path
// (first element repeated at the end), or nil if the graph is acyclic.
// Self-dependencies are length-2 cycles.
func (g *Graph) Cycle() []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on current DFS stack
		black = 2 // finished
	)
	color := make(map[string]int, len(g.ids))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range g.deps[id] {
			switch color[dep] {
			case gray:
				// Found the back edge; slice the stack from dep onward.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, stack[start:]...), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.ids {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// #endregion cycle

// #region topo-waves

// TopoWaves returns tasks layered by dependency depth: every task in wave
// N depends only on tasks in waves < N. IDs inside a wave are sorted so
// the plan is deterministic. Returns an error if the graph is cyclic.
func (g *Graph) TopoWaves() ([][]string, error) {
	if c := g.Cycle(); c != nil {
		return nil, fmt.Errorf("dependency cycle: %s", joinPath(c))
	}

	indegree := make(map[string]int, len(g.ids))
	for _, id := range g.ids {
		indegree[id] = len(g.deps[id])
	}

	frontier := make([]string, 0, len(g.ids))
	for _, id := range g.ids {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	var waves [][]string
	for len(frontier) > 0 {
		sort.Strings(frontier)
		waves = append(waves, frontier)

		var next []string
		for _, id := range frontier {
			for _, dependent := range g.rdeps[id] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		frontier = next
	}
	return waves, nil
}

// #endregion topo-waves

// #region critical-path

// DefaultEstimate is assumed for tasks with no observed duration yet.
const DefaultEstimate = time.Second

// CriticalPathFrom computes the longest duration-weighted path using the
// given per-task durations. Tasks absent from durations weigh
// DefaultEstimate. Requires an acyclic graph (TopoWaves order).
func (g *Graph) CriticalPathFrom(durations map[string]time.Duration) (CriticalPath, error) {
	waves, err := g.TopoWaves()
	if err != nil {
		return CriticalPath{}, err
	}

	weight := func(id string) time.Duration {
		if d, ok := durations[id]; ok && d > 0 {
			return d
		}
		return DefaultEstimate
	}

	// finish[id] = longest total ending at id; prev[id] = predecessor on it.
	finish := make(map[string]time.Duration, len(g.ids))
	prev := make(map[string]string, len(g.ids))

	for _, wave := range waves {
		for _, id := range wave {
			best := time.Duration(0)
			for _, dep := range g.deps[id] {
				if finish[dep] > best {
					best = finish[dep]
					prev[id] = dep
				}
			}
			finish[id] = best + weight(id)
		}
	}

	var tail string
	var total time.Duration
	for _, id := range g.ids {
		if finish[id] > total || (finish[id] == total && tail == "") {
			total = finish[id]
			tail = id
		}
	}
	if tail == "" {
		return CriticalPath{}, nil
	}

	var path []string
	for id := tail; ; {
		path = append([]string{id}, path...)
		p, ok := prev[id]
		if !ok {
			break
		}
		id = p
	}
	return CriticalPath{IDs: path, Total: total}, nil
}

// #endregion critical-path

// #region affected

// Affected returns changed plus everything downstream of it, via BFS over
// reverse edges. Unknown IDs are ignored. Result is sorted.
func (g *Graph) Affected(changed []string) []string {
	visited := make(map[string]bool, len(changed))
	var queue []string
	for _, id := range changed {
		if g.present[id] && !visited[id] {
			visited[id] = true
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range g.rdeps[current] {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			queue = append(queue, dependent)
		}
	}

	out := make([]string, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subgraph returns the targets plus their full upstream closure, the set a
// run of those targets must schedule. Unknown IDs are ignored. Sorted.
func (g *Graph) Subgraph(targets []string) []string {
	visited := make(map[string]bool, len(targets))
	var queue []string
	for _, id := range targets {
		if g.present[id] && !visited[id] {
			visited[id] = true
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dep := range g.deps[current] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			queue = append(queue, dep)
		}
	}

	out := make([]string, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// #endregion affected

// #region helpers

func joinPath(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}

// #endregion helpers
