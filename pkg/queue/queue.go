// Package queue defines the contract for deferred test executions.
package queue

import (
	"context"

	"github.com/husmancristian/qafastweb/pkg/models"
)

type AckNacker interface {
	Ack() error              // Acknowledge successful processing.
	Nack(requeue bool) error // Reject processing. requeue=true puts back in queue.
}

// Delivery is one execution job handed to a consumer. The consumer must
// call Ack or Nack exactly once.
type Delivery struct {
	Job models.ExecutionJob
	AckNacker
}

// Subscription is an active consumer. Deliveries closes when the consume
// context is done or the connection is lost. Release frees the underlying
// channel and must only be called once every delivery has been acked or
// nacked, otherwise the broker redelivers the unacknowledged jobs.
type Subscription struct {
	Deliveries <-chan Delivery
	Release    func() error
}

// Manager defines the interface for the execution queue.
type Manager interface {
	// EnqueueExecution schedules an execution of the given test case and
	// returns the job ID.
	EnqueueExecution(ctx context.Context, caseID int64) (string, error)

	// Consume streams deliveries until ctx is done or the connection is
	// lost. The caller releases the subscription after draining it.
	Consume(ctx context.Context) (Subscription, error)

	// QueueSize returns the number of jobs waiting to be consumed.
	QueueSize(ctx context.Context) (int, error)

	// Close releases any resources held by the queue manager (e.g., connections).
	Close() error
}
