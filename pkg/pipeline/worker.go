package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/husmancristian/qafastweb/pkg/models"
	"github.com/husmancristian/qafastweb/pkg/queue"
)

// Executor runs a single attempt. *Pipeline satisfies it.
type Executor interface {
	Execute(ctx context.Context, caseID int64) (*models.ExecutionResponse, error)
}

var _ Executor = (*Pipeline)(nil)

// Worker executes queued jobs off the request path.
type Worker struct {
	queue       queue.Manager
	executor    Executor
	concurrency int
	logger      *slog.Logger
}

// NewWorker creates a Worker running up to concurrency attempts at once.
func NewWorker(q queue.Manager, exec Executor, concurrency int, logger *slog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		executor:    exec,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "worker")),
	}
}

// Run consumes until ctx is done and in-flight attempts have finished. The
// subscription is released only after every delivery has been settled.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	w.logger.Info("Worker started", slog.Int("concurrency", w.concurrency))

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range sub.Deliveries {
				w.handle(ctx, d)
			}
		}()
	}
	wg.Wait()

	if sub.Release != nil {
		if err := sub.Release(); err != nil {
			w.logger.Warn("Failed to release subscription", slog.String("error", err.Error()))
		}
	}
	w.logger.Info("Worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	logger := w.logger.With(slog.String("job_id", d.Job.ID), slog.Int64("test_case_id", d.Job.CaseID))

	resp, err := w.executor.Execute(ctx, d.Job.CaseID)
	switch {
	case errors.Is(err, ErrCaseNotFound):
		logger.Warn("Dropping job for unknown test case")
		_ = d.Nack(false)
		return
	case err != nil:
		// The attempt recorded its own error result; redelivery would
		// start a second attempt.
		logger.Error("Queued execution failed", slog.String("error", err.Error()))
	default:
		logger.Info("Queued execution finished", slog.Bool("success", resp.Success))
	}
	if err := d.Ack(); err != nil {
		logger.Error("Failed to ack job", slog.String("error", err.Error()))
	}
}
