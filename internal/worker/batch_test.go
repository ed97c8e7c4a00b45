package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// mockResult implements Result
type mockResult struct {
	err error
}

func (r *mockResult) GetError() error {
	return r.err
}

// mockJob implements Job
type mockJob struct {
	duration  time.Duration
	shouldErr bool
	executed  *int32 // atomic counter
}

func (j *mockJob) Execute(ctx context.Context) Result {
	if j.executed != nil {
		atomic.AddInt32(j.executed, 1)
	}
	if j.duration > 0 {
		select {
		case <-time.After(j.duration):
		case <-ctx.Done():
			return &mockResult{err: ctx.Err()}
		}
	}
	if j.shouldErr {
		return &mockResult{err: errors.New("job error")}
	}
	return &mockResult{err: nil}
}

func TestBatch_RunsEveryJob(t *testing.T) {
	var executed int32
	jobs := make([]Job, 40)
	for i := range jobs {
		jobs[i] = &mockJob{executed: &executed}
	}

	res := NewBatch(3).Run(context.Background(), context.Background(), jobs)

	if len(res.Results) != 40 {
		t.Errorf("expected 40 results, got %d", len(res.Results))
	}
	if res.Skipped != 0 {
		t.Errorf("expected nothing skipped, got %d", res.Skipped)
	}
	if atomic.LoadInt32(&executed) != 40 {
		t.Errorf("expected 40 executions, got %d", executed)
	}
}

func TestBatch_Empty(t *testing.T) {
	res := NewBatch(2).Run(context.Background(), context.Background(), nil)
	if len(res.Results) != 0 || res.Skipped != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestBatch_BudgetStopsSubmission(t *testing.T) {
	budget, cancel := context.WithCancel(context.Background())
	defer cancel()

	var executed int32
	jobs := make([]Job, 20)
	for i := range jobs {
		jobs[i] = FuncJob(func(ctx context.Context) Result {
			if atomic.AddInt32(&executed, 1) == 1 {
				cancel()
			}
			time.Sleep(20 * time.Millisecond)
			return &mockResult{}
		})
	}

	res := NewBatch(1).Run(context.Background(), budget, jobs)

	if res.Skipped == 0 {
		t.Error("expected some jobs skipped after the budget expired")
	}
	if len(res.Results)+res.Skipped != len(jobs) {
		t.Errorf("results %d + skipped %d != %d", len(res.Results), res.Skipped, len(jobs))
	}
	// jobs already submitted still complete
	for _, r := range res.Results {
		if r.GetError() != nil {
			t.Errorf("in-flight job should finish cleanly: %v", r.GetError())
		}
	}
}

func TestBatch_ExpiredBudget(t *testing.T) {
	budget, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewBatch(2).Run(context.Background(), budget, []Job{&mockJob{}, &mockJob{}})
	if res.Skipped != 2 || len(res.Results) != 0 {
		t.Errorf("expected all skipped, got %+v", res)
	}
}
