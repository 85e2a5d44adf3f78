package delayqueue

import (
	"context"
	"errors"
	"time"

	"eventcore/internal/config"
	"eventcore/internal/constants"
	"eventcore/internal/logger"
	"eventcore/pkg/circuitbreaker"
	"eventcore/pkg/metrics"
)

// Queue is the producer side of the schedule and the entry point for
// inspection. Every store call goes through the circuit breaker.
type Queue struct {
	store   Store
	cfg     config.DelayQueueConfig
	breaker *circuitbreaker.Wrapper
	logger  logger.Logger
	now     func() time.Time
}

type Option func(*Queue)

func WithCircuitBreaker(w *circuitbreaker.Wrapper) Option {
	return func(q *Queue) { q.breaker = w }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(store Store, cfg config.DelayQueueConfig, log logger.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		cfg:    withDefaults(cfg),
		logger: log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// write runs a store call that returns no value through the breaker.
func (q *Queue) write(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := circuitbreaker.Execute(ctx, q.breaker, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// BreakerConfig maps the circuit_breaker settings for a queue store. A
// missing job is an answer, not a store failure.
func BreakerConfig(name string, settings config.CircuitBreakerConfig) circuitbreaker.Config {
	cfg := circuitbreaker.FromSettings(name, settings)
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrJobNotFound)
	}
	return cfg
}

func withDefaults(cfg config.DelayQueueConfig) config.DelayQueueConfig {
	if cfg.Name == "" {
		cfg.Name = constants.DefaultQueueName
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultPollInterval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = constants.DefaultLease
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.DefaultJobMaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.DefaultClaimBatchSize
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = constants.DefaultJobRetryBackoff
	}
	return cfg
}

func (q *Queue) Name() string {
	return q.cfg.Name
}

func (q *Queue) Config() config.DelayQueueConfig {
	return q.cfg
}

// Add schedules spec to run once delay has passed. A negative delay makes
// the job due immediately. Adding an id that already exists changes nothing
// and reports false.
func (q *Queue) Add(ctx context.Context, spec JobSpec, delay time.Duration) (bool, error) {
	if spec.ID == "" {
		return false, ErrInvalidJob
	}
	if delay < 0 {
		delay = 0
	}

	now := q.now()
	job := Job{
		ID:        spec.ID,
		Payload:   spec.Payload,
		State:     JobDelayed,
		ReadyAt:   now.Add(delay).UTC(),
		CreatedAt: now.UTC(),
	}

	added, err := circuitbreaker.Execute(ctx, q.breaker, func(ctx context.Context) (bool, error) {
		return q.store.Add(ctx, job)
	})
	if err != nil {
		metrics.IncJobsScheduled(q.cfg.Name, "error")
		return false, err
	}

	if added {
		metrics.IncJobsScheduled(q.cfg.Name, "added")
		q.logger.DebugwCtx(ctx, "Job scheduled", "job_id", job.ID, "ready_at", job.ReadyAt, "delay", delay.String())
	} else {
		metrics.IncJobsScheduled(q.cfg.Name, "duplicate")
		q.logger.DebugwCtx(ctx, "Job already scheduled", "job_id", job.ID)
	}
	return added, nil
}

func (q *Queue) Get(ctx context.Context, id string) (Job, error) {
	return circuitbreaker.Execute(ctx, q.breaker, func(ctx context.Context) (Job, error) {
		return q.store.Get(ctx, id)
	})
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	stats, err := circuitbreaker.Execute(ctx, q.breaker, func(ctx context.Context) (Stats, error) {
		return q.store.Stats(ctx)
	})
	if err != nil {
		return Stats{}, err
	}

	metrics.SetDelayQueueSize(q.cfg.Name, string(JobDelayed), stats.Delayed)
	metrics.SetDelayQueueSize(q.cfg.Name, string(JobActive), stats.Active)
	metrics.SetDelayQueueSize(q.cfg.Name, string(JobFailed), stats.Failed)
	return stats, nil
}
