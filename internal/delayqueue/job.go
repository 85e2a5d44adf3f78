// Package delayqueue persists jobs that must run at or after a point in
// time and hands each due job to exactly one worker.
package delayqueue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrInvalidJob  = errors.New("job id is required")
)

type JobState string

const (
	JobDelayed JobState = "delayed"
	JobActive  JobState = "active"
	JobFailed  JobState = "failed"
)

// JobSpec is what callers enqueue. ID is the entity id and doubles as the
// idempotency key.
type JobSpec struct {
	ID      string
	Payload []byte
}

// Job is the persisted form of a JobSpec. It is created once by Add and only
// its bookkeeping fields change afterwards.
type Job struct {
	ID        string    `json:"id"`
	Payload   []byte    `json:"payload,omitempty"`
	State     JobState  `json:"state"`
	ReadyAt   time.Time `json:"readyAt"`
	CreatedAt time.Time `json:"createdAt"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
}

type Stats struct {
	Delayed int64 `json:"delayed"`
	Active  int64 `json:"active"`
	Failed  int64 `json:"failed"`
}

// Store is the durable schedule. Implementations must make Claim atomic so
// that a job is leased to one caller at a time.
type Store interface {
	// Add inserts job unless one with the same id exists and reports
	// whether it did.
	Add(ctx context.Context, job Job) (bool, error)
	// Claim leases up to limit jobs whose ReadyAt is not after now until
	// leaseUntil, incrementing their attempt counter.
	Claim(ctx context.Context, now, leaseUntil time.Time, limit int) ([]Job, error)
	Complete(ctx context.Context, id string) error
	// Retry releases a leased job back to the schedule at job.ReadyAt.
	Retry(ctx context.Context, job Job) error
	Fail(ctx context.Context, job Job) error
	// Recover returns jobs whose lease expired before now to the schedule.
	Recover(ctx context.Context, now time.Time) (int, error)
	// NextReadyAt reports the earliest scheduled ReadyAt, if any.
	NextReadyAt(ctx context.Context) (time.Time, bool, error)
	Get(ctx context.Context, id string) (Job, error)
	Stats(ctx context.Context) (Stats, error)
}
