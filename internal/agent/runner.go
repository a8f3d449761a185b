package agent

import (
	"context"

	"golang.org/x/sync/errgroup"

	"strix/internal/logging"
)

// Runner schedules one loop goroutine per submitted session, bounded by
// a worker limit. Submission never blocks the caller.
type Runner struct {
	loop   *Loop
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	logger logging.Logger
}

// NewRunner builds a runner executing at most maxWorkers sessions at once.
func NewRunner(loop *Loop, maxWorkers int) *Runner {
	if maxWorkers <= 0 {
		maxWorkers = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	group := &errgroup.Group{}
	group.SetLimit(maxWorkers)
	return &Runner{
		loop:   loop,
		group:  group,
		ctx:    ctx,
		cancel: cancel,
		logger: logging.NewComponentLogger("agent-runner"),
	}
}

// Submit enqueues a session run. When all workers are busy the run waits
// for a slot on its own goroutine; the caller returns immediately.
func (r *Runner) Submit(sessionID string) {
	go func() {
		r.group.Go(func() error {
			if err := r.loop.Run(r.ctx, sessionID); err != nil {
				r.logger.Error("Session %s run ended with error: %v", sessionID, err)
			}
			return nil
		})
	}()
}

// Shutdown cancels outstanding runs and waits for workers to drain.
func (r *Runner) Shutdown() {
	r.cancel()
	_ = r.group.Wait()
}
