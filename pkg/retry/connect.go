package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"eventcore/internal/logger"
)

const (
	DefaultMaxRetries           = 30
	DefaultInitialDelay         = 2000 * time.Millisecond
	DefaultMaxDelay             = 30000 * time.Millisecond
	DefaultMultiplier           = 1.5
	DefaultNonConnectionRetries = 3
)

// Options configure Do and Connect. Zero durations, multiplier and
// NonConnectionRetries fall back to the defaults; MaxRetries is taken as is.
type Options struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter randomizes each delay within [d*(1-Jitter), d*(1+Jitter)].
	Jitter float64
	// NonConnectionRetries bounds retries for errors IsConnectionError rejects.
	NonConnectionRetries int
	Name                 string
	Logger               logger.Logger
	// OnRetry runs before each sleep. attempt is 1-based.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:           DefaultMaxRetries,
		InitialDelay:         DefaultInitialDelay,
		MaxDelay:             DefaultMaxDelay,
		Multiplier:           DefaultMultiplier,
		NonConnectionRetries: DefaultNonConnectionRetries,
	}
}

func (o Options) withDefaults() Options {
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.Multiplier < 1 {
		o.Multiplier = DefaultMultiplier
	}
	if o.NonConnectionRetries <= 0 {
		o.NonConnectionRetries = DefaultNonConnectionRetries
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Jitter < 0 || o.Jitter >= 1 {
		o.Jitter = 0
	}
	return o
}

// Do calls op until it succeeds, the retry budget is spent, or ctx is done.
// Connection errors get MaxRetries retries; other errors get
// NonConnectionRetries and are then returned as is.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	b := backoff.WithContext(
		backoff.WithMaxRetries(
			ExponentialBackoff(opts.InitialDelay, opts.MaxDelay, opts.Multiplier, opts.Jitter),
			uint64(opts.MaxRetries),
		),
		ctx,
	)

	attempt := 0
	var lastConnErr bool

	operation := func() (T, error) {
		index := attempt
		attempt++

		result, err := op(ctx)
		if err == nil {
			if index > 0 && opts.Logger != nil {
				opts.Logger.Infow("Operation succeeded after retries", "name", opts.Name, "attempts", attempt)
			}
			return result, nil
		}

		if isFatal(err) {
			return result, backoff.Permanent(err)
		}

		lastConnErr = IsConnectionError(err)
		if !lastConnErr && index >= opts.NonConnectionRetries {
			if opts.Logger != nil {
				opts.Logger.Errorw("Operation failed with non-connection error, giving up",
					"name", opts.Name, "attempts", attempt, "error", err)
			}
			return result, backoff.Permanent(err)
		}

		return result, err
	}

	notify := func(err error, delay time.Duration) {
		if opts.Logger != nil {
			kind := "error"
			if lastConnErr {
				kind = "connection error"
			}
			opts.Logger.Warnw("Operation failed, retrying",
				"name", opts.Name,
				"kind", kind,
				"attempt", attempt,
				"max_retries", opts.MaxRetries,
				"delay", delay.String(),
				"error", err)
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err, delay)
		}
	}

	return backoff.RetryNotifyWithData(operation, b, notify)
}

// Connect is Do for operations that only establish something.
func Connect(ctx context.Context, opts Options, name string, op func(ctx context.Context) error) error {
	opts.Name = name
	_, err := Do(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

var connectionMarkers = []string{
	"econnrefused",
	"enotfound",
	"etimedout",
	"connection",
	"not ready",
	"no such host",
	"i/o timeout",
	"server selection",
	"leader not available",
	"coordinator not available",
}

// IsConnectionError reports whether err looks like an unreachable or
// not-yet-ready dependency rather than a problem with the request itself.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var retryableErr RetryableError
	if errors.As(err, &retryableErr) && retryableErr.IsRetryable() {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range connectionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
