// Package queue is the client for the durable Redis-backed job queue the
// pipeline runs on: FIFO delivery, at-least-once semantics, per-job
// idempotency keys and delayed retries with exponential backoff.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Job names consumed by the pipeline workers.
const (
	JobBuild  = "build"
	JobDeploy = "deploy"
	JobNotify = "notification"
)

// DefaultMaxAttempts bounds queue-level retries for a job.
const DefaultMaxAttempts = 3

// Job is one unit of queued work.
type Job struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Attempt        int             `json:"attempt"`
	MaxAttempts    int             `json:"max_attempts"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
}

// Queue enqueues jobs for asynchronous processing. Implementations must
// treat two jobs with the same idempotency key as one.
type Queue interface {
	Enqueue(ctx context.Context, name, idempotencyKey string, payload any) error
}

// Handler processes one job payload. A returned error re-queues the job
// with backoff until its attempt budget is exhausted.
type Handler func(ctx context.Context, payload []byte) error
