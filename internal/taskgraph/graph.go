// Package taskgraph runs named tasks under a dependency graph. A task starts
// once every dependency has succeeded; independent tasks run concurrently.
// When a task fails, its transitive dependents are skipped but unrelated
// branches keep running to completion.
package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kjstillabower/sales-pipeline/internal/observability"
)

var (
	ErrDuplicateTask = errors.New("task already registered")
	ErrUnknownTask   = errors.New("unknown task")
	ErrSelfEdge      = errors.New("task cannot depend on itself")
	ErrCycle         = errors.New("dependency cycle")
	ErrSkipped       = errors.New("skipped after upstream failure")
)

// TaskFunc is the body of a task. A nil return unlocks the task's dependents.
type TaskFunc func(ctx context.Context) error

type task struct {
	name       string
	fn         TaskFunc
	deps       map[string]*task
	dependents map[string]*task
}

// Graph holds the tasks and their edges. Registration is not safe for
// concurrent use; Run may only be called after registration is complete.
type Graph struct {
	tasks  map[string]*task
	order  []string // registration order, the scheduling tie-break
	logger *zap.Logger
}

func New(logger *zap.Logger) *Graph {
	return &Graph{
		tasks:  make(map[string]*task),
		logger: logger,
	}
}

// Add registers a task under a unique name.
func (g *Graph) Add(name string, fn TaskFunc) error {
	if _, ok := g.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	g.tasks[name] = &task{
		name:       name,
		fn:         fn,
		deps:       make(map[string]*task),
		dependents: make(map[string]*task),
	}
	g.order = append(g.order, name)
	return nil
}

// AddEdge declares that to runs only after from has succeeded.
func (g *Graph) AddEdge(from, to string) error {
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfEdge, from)
	}
	src, ok := g.tasks[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, from)
	}
	dst, ok := g.tasks[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, to)
	}
	dst.deps[from] = src
	src.dependents[to] = dst
	return nil
}

// Validate checks the graph for dependency cycles using a depth-first walk
// with the usual temporary/permanent marking.
func (g *Graph) Validate() error {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(t *task) error
	visit = func(t *task) error {
		if permanent[t.name] {
			return nil
		}
		if temporary[t.name] {
			return fmt.Errorf("%w involving %s", ErrCycle, t.name)
		}
		temporary[t.name] = true
		for _, dep := range t.dependents {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(temporary, t.name)
		permanent[t.name] = true
		return nil
	}

	for _, name := range g.order {
		if err := visit(g.tasks[name]); err != nil {
			return err
		}
	}
	return nil
}

// Order returns a topological ordering of the tasks. Among tasks that are
// simultaneously ready, registration order decides, so the result is stable
// across runs of the same graph.
func (g *Graph) Order() ([]string, error) {
	indegree := make(map[string]int, len(g.tasks))
	for _, name := range g.order {
		indegree[name] = len(g.tasks[name].deps)
	}

	out := make([]string, 0, len(g.tasks))
	emitted := make(map[string]bool, len(g.tasks))
	for len(out) < len(g.tasks) {
		progressed := false
		for _, name := range g.order {
			if emitted[name] || indegree[name] != 0 {
				continue
			}
			emitted[name] = true
			out = append(out, name)
			for _, dep := range g.tasks[name].dependents {
				indegree[dep.name]--
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, ErrCycle
		}
	}
	return out, nil
}

type result struct {
	name string
	err  error
}

// Run executes the graph. Every ready task runs in its own goroutine; the
// returned error aggregates each failed task's error plus one entry per
// skipped dependent. A nil return means every task succeeded.
func (g *Graph) Run(ctx context.Context) error {
	if err := g.Validate(); err != nil {
		return err
	}

	remaining := make(map[string]int, len(g.tasks))
	done := make(chan result)
	for _, name := range g.order {
		t := g.tasks[name]
		remaining[name] = len(t.deps)
		if len(t.deps) == 0 {
			g.launch(ctx, t, done)
		}
	}

	var errs error
	skipped := make(map[string]bool)
	completed := 0
	for completed < len(g.tasks) {
		res := <-done
		completed++
		t := g.tasks[res.name]

		if res.err != nil {
			errs = multierr.Append(errs, fmt.Errorf("task %s: %w", res.name, res.err))
			completed += g.skipDependents(t, skipped, &errs)
			continue
		}

		for _, name := range sortedNames(t.dependents) {
			dep := t.dependents[name]
			remaining[name]--
			if remaining[name] == 0 && !skipped[name] {
				g.launch(ctx, dep, done)
			}
		}
	}
	return errs
}

func (g *Graph) launch(ctx context.Context, t *task, done chan<- result) {
	go func() {
		g.logger.Info("task started", zap.String("task", t.name))
		start := time.Now()
		err := t.fn(ctx)
		elapsed := time.Since(start)
		if err != nil {
			observability.ObserveTask(t.name, "failure", elapsed)
			g.logger.Error("task failed",
				zap.String("task", t.name),
				zap.Duration("elapsed", elapsed),
				zap.Error(err))
		} else {
			observability.ObserveTask(t.name, "success", elapsed)
			g.logger.Info("task finished",
				zap.String("task", t.name),
				zap.Duration("elapsed", elapsed))
		}
		done <- result{name: t.name, err: err}
	}()
}

// skipDependents marks every transitive dependent of t as skipped and returns
// how many tasks it retired. Tasks already skipped through another failed
// branch are not counted twice.
func (g *Graph) skipDependents(t *task, skipped map[string]bool, errs *error) int {
	retired := 0
	for _, name := range sortedNames(t.dependents) {
		if skipped[name] {
			continue
		}
		skipped[name] = true
		observability.ObserveTask(name, "skipped", 0)
		g.logger.Warn("task skipped",
			zap.String("task", name),
			zap.String("failed_dependency", t.name))
		*errs = multierr.Append(*errs, fmt.Errorf("task %s: %w: %s", name, ErrSkipped, t.name))
		retired += 1 + g.skipDependents(g.tasks[name], skipped, errs)
	}
	return retired
}

func sortedNames(m map[string]*task) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
