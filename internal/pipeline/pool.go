package pipeline

import (
	"context"
	"sync"
)

// Outcome pairs a task with its result or failure. Exactly one Outcome
// is produced per submitted task, at the same index.
type Outcome[T, R any] struct {
	Task   T
	Result R
	Err    error
}

// Failed reports whether the task's unit of work ultimately failed.
func (o Outcome[T, R]) Failed() bool { return o.Err != nil }

// RunAll executes fn over every task with at most limit concurrent
// invocations and collects every outcome. A failing task is recorded
// and never cancels its siblings; retry, if any, belongs to fn itself.
// Outcomes are returned in task order regardless of completion order.
func RunAll[T, R any](ctx context.Context, limit int, tasks []T, fn func(context.Context, T) (R, error)) []Outcome[T, R] {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	outcomes := make([]Outcome[T, R], len(tasks))
	semaphore := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task T) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			result, err := fn(ctx, task)
			outcomes[i] = Outcome[T, R]{Task: task, Result: result, Err: err}
		}(i, task)
	}
	wg.Wait()

	return outcomes
}
