package sandbox

import (
	"context"
	"sync"

	"github.com/tos-network/gtos-faas/internal/registry"
)

// Job is one queued invocation.
type Job struct {
	Fn    *registry.FunctionVersion
	Input map[string]interface{}
}

// jobResult pairs a Job's index with its Result, mirroring the teacher's
// parallel executor's index-addressed result slice so results can be
// returned in submission order despite running out of order.
type jobResult struct {
	idx int
	res *Result
}

// Pool runs a bounded number of invocations concurrently. Every
// invocation gets its own goja.Runtime (isolates are never shared), so
// the pool only needs to bound concurrency, not serialize isolate access.
type Pool struct {
	exec *Executor
	size int
}

// NewPool creates a Pool that runs up to size invocations at once.
func NewPool(exec *Executor, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{exec: exec, size: size}
}

// RunAll executes every job and returns results in the same order as
// jobs, regardless of completion order.
func (p *Pool) RunAll(ctx context.Context, jobs []Job) []*Result {
	if len(jobs) == 0 {
		return nil
	}
	results := make([]*Result, len(jobs))
	sem := make(chan struct{}, p.size)
	resCh := make(chan jobResult, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, j Job) {
			defer wg.Done()
			defer func() { <-sem }()
			resCh <- jobResult{idx: idx, res: p.exec.Run(ctx, j.Fn, j.Input)}
		}(i, job)
	}

	go func() {
		wg.Wait()
		close(resCh)
	}()

	for r := range resCh {
		results[r.idx] = r.res
	}
	return results
}
