package parallel

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msalah0e/attackgraph/internal/ui"
)

// DefaultConcurrency bounds in-flight tasks when the caller passes no limit.
const DefaultConcurrency = 4

// Result holds the outcome of a parallel task.
type Result struct {
	Name    string
	OK      bool
	Err     error
	Output  string
	Elapsed time.Duration
}

// Task is a function that runs in parallel. Output is a short note shown
// next to the task name, such as the file it wrote.
type Task struct {
	Name string
	Fn   func(ctx context.Context) (output string, err error)
}

// Run executes tasks with at most concurrency in flight and returns results
// in submission order. Progress lines go to w when it is non-nil. A failing
// task does not stop the others; cancelling ctx does.
func Run(ctx context.Context, tasks []Task, concurrency int, w io.Writer) []Result {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if w == nil {
		w = io.Discard
	}

	results := make([]Result, len(tasks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, task := range tasks {
		i, task := i, task // per-iteration copy (go.mod targets Go 1.21)
		g.Go(func() error {
			start := time.Now()

			if err := gctx.Err(); err != nil {
				mu.Lock()
				results[i] = Result{Name: task.Name, Err: err}
				mu.Unlock()
				return nil
			}

			output, err := task.Fn(gctx)
			elapsed := time.Since(start)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[i] = Result{Name: task.Name, OK: false, Err: err, Output: output, Elapsed: elapsed}
				fmt.Fprintf(w, "  %s %s %s\n", ui.StatusIcon(false), task.Name, ui.Bad.Sprintf("(%v)", err))
				return nil
			}
			results[i] = Result{Name: task.Name, OK: true, Output: output, Elapsed: elapsed}
			fmt.Fprintf(w, "  %s %s %s %s\n", ui.StatusIcon(true), task.Name, output, ui.Subtle.Sprintf("%.1fs", elapsed.Seconds()))
			return nil // never fail the group, collect results instead
		})
	}

	_ = g.Wait()
	return results
}

// Failed counts results that did not succeed.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.OK {
			n++
		}
	}
	return n
}
