package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdougie/framesearch/internal/models"
)

// HandlerFunc processes one attempt of a job.
type HandlerFunc func(ctx context.Context, job *models.Job) error

// Source is the queue surface a Worker consumes.
type Source interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error)
	Complete(ctx context.Context, job *models.Job) error
	Fail(ctx context.Context, job *models.Job, cause error) error
	Requeue(ctx context.Context, job *models.Job) error
}

// WorkerOptions tune a Worker.
type WorkerOptions struct {
	Concurrency int
	PollTimeout time.Duration
	// JobTimeout abandons an attempt that runs longer; zero disables it.
	JobTimeout time.Duration
}

// Worker runs concurrent consumers dispatching jobs by type.
type Worker struct {
	source   Source
	handlers map[string]HandlerFunc
	opts     WorkerOptions
	logger   *slog.Logger
}

// NewWorker creates a Worker reading from source.
func NewWorker(source Source, opts WorkerOptions, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	return &Worker{
		source:   source,
		handlers: map[string]HandlerFunc{},
		opts:     opts,
		logger:   logger,
	}
}

// Handle registers h for jobType.
func (w *Worker) Handle(jobType string, h HandlerFunc) {
	w.handlers[jobType] = h
}

// Run blocks until ctx is cancelled and every consumer has finished its
// current job.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("starting workers", "count", w.opts.Concurrency)

	var wg sync.WaitGroup
	for i := range w.opts.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx, i)
		}()
	}
	wg.Wait()

	w.logger.Info("all workers stopped")
}

func (w *Worker) consume(ctx context.Context, workerID int) {
	logger := w.logger.With("worker", workerID)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.source.Dequeue(ctx, w.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("error dequeueing job", "error", err)
			sleep(ctx, time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, logger, job)
	}
}

func (w *Worker) process(ctx context.Context, logger *slog.Logger, job *models.Job) {
	logger = logger.With("job_id", job.ID, "type", job.Type)

	// Bookkeeping must land even when shutdown cancels ctx mid-job.
	bookCtx := context.WithoutCancel(ctx)

	handler, ok := w.handlers[job.Type]
	if !ok {
		err := &models.JobError{JobID: job.ID, Stage: "dispatch", Err: fmt.Errorf("no handler for job type %q", job.Type)}
		if ferr := w.source.Fail(bookCtx, job, err); ferr != nil {
			logger.Error("error recording job failure", "error", ferr)
		}
		return
	}

	jobCtx := ctx
	if w.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.opts.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := handler(jobCtx, job); err != nil {
		if ctx.Err() != nil {
			// Interrupted by shutdown, not a failed attempt.
			logger.Warn("job interrupted by shutdown", "error", err, "duration", time.Since(start))
			if rerr := w.source.Requeue(bookCtx, job); rerr != nil {
				logger.Error("error requeueing job", "error", rerr)
			}
			return
		}
		logger.Error("job attempt failed", "error", err, "duration", time.Since(start))
		if ferr := w.source.Fail(bookCtx, job, err); ferr != nil {
			logger.Error("error recording job failure", "error", ferr)
		}
		return
	}

	logger.Info("job completed", "duration", time.Since(start))
	if err := w.source.Complete(bookCtx, job); err != nil {
		logger.Error("error recording job completion", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
