package async

import (
	"context"
	"time"
)

// Job is one debounced set of inbox files waiting to be processed as a batch.
type Job struct {
	ID          string
	Paths       []string
	SubmittedAt time.Time
}

// Handler processes one job. Its error is logged, never retried.
type Handler func(ctx context.Context, job Job) error

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
