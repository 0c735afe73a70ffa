package service

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jengzang/fieldscan-backend-go/internal/models"
)

// JobRunner executes one job of a kind. analysis.Registry satisfies it.
type JobRunner interface {
	Run(ctx context.Context, kind string, jobID int64) (models.JobResult, error)
}

type task struct {
	kind string
	id   int64
}

// Dispatcher runs submitted jobs in a bounded worker pool. Runs share no
// state; every job is claimed through the store by its runner.
type Dispatcher struct {
	runner  JobRunner
	limit   int
	logger  *slog.Logger
	queue   chan task
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

// NewDispatcher creates a dispatcher running at most limit jobs at once
func NewDispatcher(runner JobRunner, limit int, logger *slog.Logger) *Dispatcher {
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		runner: runner,
		limit:  limit,
		logger: logger,
		queue:  make(chan task, 256),
		done:   make(chan struct{}),
	}
}

// Start consumes the queue until ctx is cancelled or Close is called, then
// waits for in-flight runs.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		g := new(errgroup.Group)
		g.SetLimit(d.limit)
		for {
			select {
			case <-ctx.Done():
				_ = g.Wait()
				return
			case t, ok := <-d.queue:
				if !ok {
					_ = g.Wait()
					return
				}
				g.Go(func() error {
					d.execute(ctx, t)
					return nil
				})
			}
		}
	}()
}

func (d *Dispatcher) execute(ctx context.Context, t task) {
	logger := d.logger.With("kind", t.kind, "job_id", t.id)
	if _, err := d.runner.Run(ctx, t.kind, t.id); err != nil {
		logger.Warn("job ended with error", "error", err)
		return
	}
	logger.Debug("job done")
}

// Submit enqueues a job. It blocks while the queue is full and reports false
// once the dispatcher is closed or stopped. Jobs that are never run stay
// QUEUED in the store and are picked up by Resume on the next start.
func (d *Dispatcher) Submit(kind string, jobID int64) bool {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- task{kind: kind, id: jobID}:
		return true
	case <-d.done:
		return false
	}
}

// Close stops accepting jobs and waits for queued and running ones. It must
// be called after Start.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.closeMu.Unlock()
	<-d.done
}
