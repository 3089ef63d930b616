package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/husmancristian/qafastweb/pkg/models"
	"github.com/husmancristian/qafastweb/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcker struct {
	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
	queue   *fakeQueue // acks fail once this queue's subscription is released
}

func (a *fakeAcker) Ack() error {
	if a.queue != nil && a.queue.isReleased() {
		return errors.New("channel/connection is not open")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = true
	return nil
}

func (a *fakeAcker) Nack(requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked, a.requeue = true, requeue
	return nil
}

type fakeQueue struct {
	mu         sync.Mutex
	deliveries chan queue.Delivery
	consumeErr error
	released   bool
}

func (q *fakeQueue) EnqueueExecution(ctx context.Context, caseID int64) (string, error) {
	return "", errors.New("not used")
}

func (q *fakeQueue) Consume(ctx context.Context) (queue.Subscription, error) {
	if q.consumeErr != nil {
		return queue.Subscription{}, q.consumeErr
	}
	release := func() error {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.released = true
		return nil
	}
	return queue.Subscription{Deliveries: q.deliveries, Release: release}, nil
}

func (q *fakeQueue) isReleased() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.released
}

func (q *fakeQueue) QueueSize(ctx context.Context) (int, error) { return len(q.deliveries), nil }
func (q *fakeQueue) Close() error { return nil }

type fakeExecutor struct {
	mu    sync.Mutex
	calls []int64
	errs  map[int64]error
}

func (e *fakeExecutor) Execute(ctx context.Context, caseID int64) (*models.ExecutionResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, caseID)
	if err := e.errs[caseID]; err != nil {
		return nil, err
	}
	return &models.ExecutionResponse{CaseID: caseID, Success: true}, nil
}

// blockingExecutor holds an attempt open until proceed is closed.
type blockingExecutor struct {
	started chan struct{}
	proceed chan struct{}
}

func (e *blockingExecutor) Execute(ctx context.Context, caseID int64) (*models.ExecutionResponse, error) {
	close(e.started)
	<-e.proceed
	return &models.ExecutionResponse{CaseID: caseID, Success: true}, nil
}

func TestWorker_AcksAndNacks(t *testing.T) {
	q := &fakeQueue{deliveries: make(chan queue.Delivery, 3)}
	exec := &fakeExecutor{errs: map[int64]error{
		2: ErrCaseNotFound,
		3: ErrInternal,
	}}

	ackers := map[int64]*fakeAcker{1: {}, 2: {}, 3: {}}
	for _, id := range []int64{1, 2, 3} {
		q.deliveries <- queue.Delivery{Job: models.ExecutionJob{ID: "job", CaseID: id}, AckNacker: ackers[id]}
	}
	close(q.deliveries)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(q, exec, 2, logger)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after the delivery channel closed")
	}

	assert.ElementsMatch(t, []int64{1, 2, 3}, exec.calls)
	assert.True(t, ackers[1].acked)
	assert.True(t, ackers[2].nacked)
	assert.False(t, ackers[2].requeue)
	assert.True(t, ackers[3].acked, "failed attempts are not redelivered")
}

func TestWorker_ConsumeError(t *testing.T) {
	q := &fakeQueue{consumeErr: errors.New("channel closed")}
	w := NewWorker(q, &fakeExecutor{}, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := w.Run(context.Background())
	assert.ErrorContains(t, err, "channel closed")
}

func TestWorker_RunsPipeline(t *testing.T) {
	f := newFixture(t, Options{})
	q := &fakeQueue{deliveries: make(chan queue.Delivery, 1)}
	acker := &fakeAcker{}
	q.deliveries <- queue.Delivery{Job: models.ExecutionJob{ID: "job-1", CaseID: f.tc.ID}, AckNacker: acker}
	close(q.deliveries)

	w := NewWorker(q, f.pipeline, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, w.Run(context.Background()))

	assert.True(t, acker.acked)
	results := f.results(t)
	require.Len(t, results, 1)
	assert.Equal(t, models.StatusPassed, results[0].Status)
}

func TestWorker_SettlesInFlightJobsBeforeRelease(t *testing.T) {
	q := &fakeQueue{deliveries: make(chan queue.Delivery, 1)}
	acker := &fakeAcker{queue: q}
	q.deliveries <- queue.Delivery{Job: models.ExecutionJob{ID: "job-1", CaseID: 7}, AckNacker: acker}

	exec := &blockingExecutor{started: make(chan struct{}), proceed: make(chan struct{})}
	w := NewWorker(q, exec, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	<-exec.started
	// Shutdown: the consumer stops and closes its delivery stream while the
	// attempt is still running.
	cancel()
	close(q.deliveries)

	select {
	case <-done:
		t.Fatal("worker stopped before the in-flight attempt finished")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, q.isReleased(), "subscription released while a job was in flight")

	close(exec.proceed)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after the attempt finished")
	}

	assert.True(t, acker.acked, "in-flight job must be acked before the channel closes")
	assert.True(t, q.isReleased())
}
