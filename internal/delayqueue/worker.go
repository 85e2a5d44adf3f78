package delayqueue

import (
	"context"
	"time"

	"eventcore/internal/deadletter"
	"eventcore/internal/logger"
	"eventcore/pkg/circuitbreaker"
	apperrors "eventcore/pkg/errors"
	"eventcore/pkg/logging"
	"eventcore/pkg/metrics"
	"eventcore/pkg/retry"
)

// ProcessFunc runs a due job. Returning an error reschedules the job until
// it has used MaxAttempts; a retry.FatalError fails it at once.
type ProcessFunc func(ctx context.Context, job Job) error

type Worker struct {
	queue  *Queue
	logger logger.Logger
	sink   deadletter.Sink
}

type WorkerOption func(*Worker)

// WithDeadLetterSink archives jobs that exhausted their attempts.
func WithDeadLetterSink(sink deadletter.Sink) WorkerOption {
	return func(w *Worker) { w.sink = sink }
}

func NewWorker(queue *Queue, log logger.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:  queue,
		logger: log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes due jobs until ctx is done. Store errors are logged and
// retried on the next poll, so Run only returns once ctx is done.
func (w *Worker) Run(ctx context.Context, process ProcessFunc) error {
	cfg := w.queue.cfg
	w.logger.Infow("Delay worker started",
		"queue", cfg.Name,
		"poll_interval", cfg.PollInterval.String(),
		"lease", cfg.Lease.String(),
		"max_attempts", cfg.MaxAttempts,
	)

	for {
		if ctx.Err() != nil {
			w.logger.Infow("Delay worker stopped", "queue", cfg.Name)
			return nil
		}

		claimed, err := w.Poll(ctx, process)
		if err != nil && ctx.Err() == nil {
			w.logger.Errorw("Delay queue poll failed", "queue", cfg.Name, "error", err)
		}
		if claimed >= cfg.BatchSize {
			continue
		}

		if !sleep(ctx, w.wait(ctx)) {
			w.logger.Infow("Delay worker stopped", "queue", cfg.Name)
			return nil
		}
	}
}

// Poll recovers expired leases, then claims and processes one batch. It
// returns the number of jobs claimed.
func (w *Worker) Poll(ctx context.Context, process ProcessFunc) (int, error) {
	q := w.queue

	recovered, err := circuitbreaker.Execute(ctx, q.breaker, func(ctx context.Context) (int, error) {
		return q.store.Recover(ctx, q.now())
	})
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		metrics.AddJobsRecovered(q.cfg.Name, recovered)
		w.logger.Warnw("Recovered jobs with expired leases", "queue", q.cfg.Name, "count", recovered)
	}

	now := q.now()
	jobs, err := circuitbreaker.Execute(ctx, q.breaker, func(ctx context.Context) ([]Job, error) {
		return q.store.Claim(ctx, now, now.Add(q.cfg.Lease), q.cfg.BatchSize)
	})
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			// Unprocessed leases expire and are recovered by the next poll.
			break
		}
		w.handle(ctx, job, process)
	}
	return len(jobs), nil
}

func (w *Worker) handle(ctx context.Context, job Job, process ProcessFunc) {
	q := w.queue
	ctx = logging.WithJobID(ctx, job.ID)
	metrics.ObserveJobFireLag(q.cfg.Name, q.now().Sub(job.ReadyAt))

	jctx, cancel := context.WithTimeout(ctx, q.cfg.Lease)
	err := apperrors.Guard(func() error {
		return process(jctx, job)
	})
	cancel()

	if err == nil {
		if err := q.write(ctx, func(ctx context.Context) error { return q.store.Complete(ctx, job.ID) }); err != nil {
			// The lease runs out and the job fires again; callbacks are idempotent.
			w.logger.ErrorwCtx(ctx, "Failed to complete job", "error", err)
			return
		}
		metrics.IncJobsProcessed(q.cfg.Name, "completed")
		w.logger.DebugwCtx(ctx, "Job completed", "attempts", job.Attempts)
		return
	}

	job.LastError = err.Error()

	var fatal retry.FatalError
	if job.Attempts >= q.cfg.MaxAttempts || apperrors.As(err, &fatal) {
		w.fail(ctx, job)
		return
	}

	delay := retry.CalculateBackoffDuration(job.Attempts-1, q.cfg.RetryBackoff, 2.0, q.cfg.Lease)
	job.ReadyAt = q.now().Add(delay).UTC()
	if err := q.write(ctx, func(ctx context.Context) error { return q.store.Retry(ctx, job) }); err != nil {
		w.logger.ErrorwCtx(ctx, "Failed to reschedule job", "error", err)
		return
	}

	metrics.IncJobsProcessed(q.cfg.Name, "retried")
	w.logger.WarnwCtx(ctx, "Job failed, rescheduled",
		"error", job.LastError,
		"attempt", job.Attempts,
		"max_attempts", q.cfg.MaxAttempts,
		"retry_in", delay.String(),
	)
}

func (w *Worker) fail(ctx context.Context, job Job) {
	q := w.queue

	if err := q.write(ctx, func(ctx context.Context) error { return q.store.Fail(ctx, job) }); err != nil {
		w.logger.ErrorwCtx(ctx, "Failed to move job to failed set", "error", err)
		return
	}
	metrics.IncJobsProcessed(q.cfg.Name, "failed")
	w.logger.ErrorwCtx(ctx, "Job failed permanently", "error", job.LastError, "attempts", job.Attempts)

	if w.sink == nil {
		return
	}
	letter := deadletter.NewLetter(
		deadletter.SourceDelayQueue,
		q.cfg.Name,
		q.cfg.Name,
		job.ID,
		job.Payload,
		job.LastError,
		job.Attempts,
	)
	if err := w.sink.Store(ctx, letter); err != nil {
		w.logger.ErrorwCtx(ctx, "Failed to store dead letter", "error", err)
		return
	}
	metrics.IncDeadLetters(q.cfg.Name, deadletter.SourceDelayQueue, "max_attempts")
}

// wait returns how long to sleep before the next poll: until the earliest
// scheduled job, but never longer than the poll interval.
func (w *Worker) wait(ctx context.Context) time.Duration {
	q := w.queue
	interval := q.cfg.PollInterval

	next, err := circuitbreaker.Execute(ctx, q.breaker, func(ctx context.Context) (nextReady, error) {
		at, ok, err := q.store.NextReadyAt(ctx)
		return nextReady{at: at, ok: ok}, err
	})
	if err != nil || !next.ok {
		return interval
	}

	d := next.at.Sub(q.now())
	if d < 0 {
		return 0
	}
	if d < interval {
		return d
	}
	return interval
}

type nextReady struct {
	at time.Time
	ok bool
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
