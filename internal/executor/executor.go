// Package executor runs independent jobs on a bounded pool of goroutines.
package executor

import (
	"context"
	"fmt"

	"github.com/vk/kernelbake/internal/ctxlog"
	"golang.org/x/sync/errgroup"
)

// Job is one unit of work. i is the job's index in the batch.
type Job func(ctx context.Context, i int) error

// Pool bounds how many jobs run at once. A Pool is cheap and holds no
// goroutines between calls to Run; each build constructs its own.
type Pool struct {
	size int
}

// NewPool creates a pool running at most size jobs concurrently.
func NewPool(size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("worker pool size must be positive, got %d", size)
	}
	return &Pool{size: size}, nil
}

// Size is the concurrency limit.
func (p *Pool) Size() int { return p.size }

// Run executes n jobs and waits for all started jobs to finish.
//
// Jobs report ordinary failures through their own results and return nil.
// A job that returns an error aborts the batch: the context handed to the
// other jobs is cancelled, jobs that have not started yet are skipped, and
// the first such error is returned. A skipped job reports the cancellation,
// so a nil result always means every job ran.
func (p *Pool) Run(ctx context.Context, n int, job Job) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting worker pool.", "workers", p.size, "jobs", n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				logger.Debug("Batch aborted, skipping job.", "job", i)
				return gctx.Err()
			}
			return job(gctx, i)
		})
	}

	err := g.Wait()
	logger.Debug("Worker pool drained.", "jobs", n, "aborted", err != nil)
	return err
}
