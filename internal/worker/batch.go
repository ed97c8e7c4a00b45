package worker

import (
	"context"
)

// Batch fans a list of jobs out over a pool. Submission stops as soon as the
// budget context is done; jobs already handed to a worker run to completion
// under the execution context.
type Batch struct {
	concurrency int
}

// NewBatch creates a batch runner with the given fan-out
func NewBatch(concurrency int) *Batch {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Batch{concurrency: concurrency}
}

// BatchResult reports what ran
type BatchResult struct {
	Results []Result // in completion order
	Skipped int      // jobs never started because the budget ran out
}

// Run executes jobs. ctx governs execution (cancel it to abort in-flight work);
// budget only gates the start of new jobs.
func (b *Batch) Run(ctx, budget context.Context, jobs []Job) BatchResult {
	if len(jobs) == 0 {
		return BatchResult{}
	}

	pool := NewPoolWithContext(ctx, b.concurrency)
	pool.Start()

	collected := make(chan []Result, 1)
	go func() {
		var results []Result
		for r := range pool.Results() {
			results = append(results, r)
		}
		collected <- results
	}()

	submitted := 0
	for _, job := range jobs {
		if !pool.SubmitContext(budget, job) {
			break
		}
		submitted++
	}
	pool.Close()

	return BatchResult{
		Results: <-collected,
		Skipped: len(jobs) - submitted,
	}
}

// FuncJob adapts a function to Job
type FuncJob func(ctx context.Context) Result

func (f FuncJob) Execute(ctx context.Context) Result {
	return f(ctx)
}
