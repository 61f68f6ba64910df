// Package worker runs the pipeline's long-lived consumers: the ingress
// worker that turns content events into decisions and the actions worker
// that applies decision side effects. A supervisor restarts crashed
// workers with backoff and drains them on shutdown.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Worker is one supervised consumer loop. Run blocks until ctx is
// canceled or the loop fails; a non-cancellation return gets the worker
// restarted.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

const (
	restartBackoffMin = time.Second
	restartBackoffMax = 30 * time.Second
)

// Runner supervises a set of workers. Each worker runs in its own
// goroutine and is restarted with exponential backoff when its loop
// returns early.
type Runner struct {
	logger  *slog.Logger
	workers []Worker
	wg      sync.WaitGroup
}

func NewRunner(logger *slog.Logger, workers ...Worker) *Runner {
	return &Runner{logger: logger, workers: workers}
}

// Start launches all workers. It returns immediately; use Wait to block
// until every worker has drained after ctx cancellation.
func (r *Runner) Start(ctx context.Context) {
	for _, w := range r.workers {
		r.wg.Add(1)
		go func(w Worker) {
			defer r.wg.Done()
			r.supervise(ctx, w)
		}(w)
	}
}

// Wait blocks until all workers have stopped.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) supervise(ctx context.Context, w Worker) {
	backoff := restartBackoffMin
	for {
		err := w.Run(ctx)
		if ctx.Err() != nil {
			r.logger.Info("worker stopped", "worker", w.Name())
			return
		}
		if err == nil || errors.Is(err, context.Canceled) {
			r.logger.Info("worker exited", "worker", w.Name())
			return
		}
		r.logger.Error("worker crashed, restarting",
			"worker", w.Name(),
			"error", err,
			"backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, restartBackoffMax)
	}
}
